package tools

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
	"github.com/m-mizutani/goerr/v2"
)

// Schema helpers for building JSON Schema definitions.

// GenerateSchema derives an object schema from the json and jsonschema tags
// of T. Fields without omitempty are required.
func GenerateSchema[T any]() (map[string]any, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	schema := reflector.Reflect(v)

	properties := map[string]any{}
	if schema.Properties != nil {
		for pair := schema.Properties.Oldest(); pair != nil; pair = pair.Next() {
			prop, err := propertyMap(pair.Value)
			if err != nil {
				return nil, goerr.Wrap(err, "failed to convert schema property", goerr.V("property", pair.Key))
			}
			properties[pair.Key] = prop
		}
	}
	return ObjectSchema(properties, schema.Required...), nil
}

// MustGenerateSchema is GenerateSchema for input types fixed at compile time.
// It panics on error.
func MustGenerateSchema[T any]() map[string]any {
	schema, err := GenerateSchema[T]()
	if err != nil {
		panic(err)
	}
	return schema
}

// propertyMap flattens a reflected property to plain JSON values so both
// provider encodings can embed it.
func propertyMap(s *jsonschema.Schema) (map[string]any, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal schema")
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal schema")
	}
	return out, nil
}

// ObjectSchema creates an object schema with the given properties.
func ObjectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Required returns the required property names of an object schema.
func Required(schema map[string]any) []string {
	req, _ := schema["required"].([]string)
	return req
}
