package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// SchemaSet validates tool-call arguments against a per-tool JSON
// Schema, registered up front so a malformed schema fails at startup
// instead of on the first request that hits it.
//
// Grounded on the sqsrouter Router's schemas map: each schema is
// compiled once via gojsonschema.NewSchema at registration time and
// checked again per-document with gojsonschema.Validate.
type SchemaSet struct {
	schemas map[string]gojsonschema.JSONLoader
}

func NewSchemaSet() *SchemaSet {
	return &SchemaSet{schemas: make(map[string]gojsonschema.JSONLoader)}
}

// Register compiles schemaJSON and associates it with tool, failing
// fast if the schema itself doesn't parse.
func (s *SchemaSet) Register(tool, schemaJSON string) error {
	loader := gojsonschema.NewStringLoader(schemaJSON)
	if _, err := gojsonschema.NewSchema(loader); err != nil {
		return fmt.Errorf("gateway: invalid schema for tool %q: %w", tool, err)
	}
	s.schemas[tool] = loader
	return nil
}

// Validate checks arguments against tool's registered schema. A tool
// with no registered schema is accepted unconditionally.
func (s *SchemaSet) Validate(tool string, arguments json.RawMessage) error {
	loader, ok := s.schemas[tool]
	if !ok {
		return nil
	}
	if arguments == nil {
		arguments = json.RawMessage("null")
	}

	result, err := gojsonschema.Validate(loader, gojsonschema.NewBytesLoader(arguments))
	if err != nil {
		return fmt.Errorf("gateway: schema validation error for tool %q: %w", tool, err)
	}
	if result.Valid() {
		return nil
	}

	msg := fmt.Sprintf("arguments for tool %q failed schema validation:", tool)
	for _, desc := range result.Errors() {
		msg += " " + desc.String() + ";"
	}
	return fmt.Errorf("%s", msg)
}
