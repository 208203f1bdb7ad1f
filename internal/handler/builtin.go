package handler

import (
	"context"
	"encoding/json"
)

// Echo is a reference payload-mode handler: it wraps the input payload
// with a "processed" marker. It exists for local smoke-testing a
// runtime deployment end to end, the same role sample_handler.py plays
// for the Python runtime's integration tests.
func Echo(_ context.Context, payload []byte, _ map[string]string) ([][]byte, error) {
	var original interface{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &original); err != nil {
			return nil, err
		}
	}

	out, err := json.Marshal(map[string]interface{}{
		"status":   "processed",
		"original": original,
	})
	if err != nil {
		return nil, err
	}
	return [][]byte{out}, nil
}
