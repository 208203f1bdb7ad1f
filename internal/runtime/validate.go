package runtime

import (
	"encoding/json"
	"fmt"

	"github.com/asya-run/asya/internal/envelope"
)

// rawRoute mirrors the wire shape of route, keeping Current as a
// pointer so we can tell "absent" (default to 0) from "zero".
type rawRoute struct {
	Actors  []string `json:"actors"`
	Current *int     `json:"current"`
}

// parseAndValidate decodes a raw envelope frame and, if validation is
// enabled, applies the same rules the Python runtime's
// _validate_envelope enforced: payload and route.actors are required,
// route.current defaults to 0, and when an input route is supplied
// route.current must not move backward and the processed prefix and the
// actor at the input's position must survive unchanged.
func parseAndValidate(data []byte, validate bool, expectedCurrentActor string, inputRoute *envelope.Route) (*envelope.Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("msg_parsing_error: %w", err)
	}

	if !validate {
		env, err := envelope.FromJSON(data)
		if err != nil {
			return nil, fmt.Errorf("msg_parsing_error: %w", err)
		}
		return env, nil
	}

	if _, ok := fields["payload"]; !ok {
		return nil, fmt.Errorf("msg_parsing_error: missing required field 'payload' in envelope")
	}
	routeRaw, ok := fields["route"]
	if !ok {
		return nil, fmt.Errorf("msg_parsing_error: missing required field 'route' in envelope")
	}

	var route rawRoute
	if err := json.Unmarshal(routeRaw, &route); err != nil {
		return nil, fmt.Errorf("msg_parsing_error: field 'route' must be an object: %w", err)
	}
	if route.Actors == nil {
		return nil, fmt.Errorf("msg_parsing_error: field 'route.actors' must be a list")
	}
	if len(route.Actors) == 0 {
		return nil, fmt.Errorf("msg_parsing_error: field 'route.actors' cannot be empty")
	}
	current := 0
	if route.Current != nil {
		current = *route.Current
	}
	if current < 0 || current > len(route.Actors) {
		return nil, fmt.Errorf("msg_parsing_error: route.current=%d out of bounds for %d actors", current, len(route.Actors))
	}

	if headersRaw, ok := fields["headers"]; ok {
		var headers map[string]string
		if err := json.Unmarshal(headersRaw, &headers); err != nil {
			return nil, fmt.Errorf("msg_parsing_error: field 'headers' must be an object: %w", err)
		}
	}

	if inputRoute != nil {
		if current < inputRoute.Current {
			return nil, fmt.Errorf("route modification error: route.current must not move backward")
		}
		processed := inputRoute.Actors[:min(inputRoute.Current+1, len(inputRoute.Actors))]
		if len(route.Actors) < len(processed) {
			return nil, fmt.Errorf("route modification error: already-processed actors cannot be erased")
		}
		for i, actor := range processed {
			if route.Actors[i] != actor {
				return nil, fmt.Errorf("route modification error: already-processed actors cannot be erased")
			}
		}
		if expectedCurrentActor != "" && inputRoute.Current < len(route.Actors) {
			if route.Actors[inputRoute.Current] != expectedCurrentActor {
				return nil, fmt.Errorf("route mismatch: actor cannot change its position in the route")
			}
		}
	}

	env, err := envelope.FromJSON(data)
	if err != nil {
		return nil, fmt.Errorf("msg_parsing_error: %w", err)
	}
	env.Route.Current = current
	return env, nil
}
