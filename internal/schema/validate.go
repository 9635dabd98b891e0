// Package schema wraps JSON Schema validation for lightflow's
// configuration and workflow-definition files. Grounded on the
// teacher's core/infra/schema/validate.go (compile-resource-then-
// validate shape), trimmed of the Redis-backed schema registry since
// lightflow's schemas are fixed and embedded, not dynamically
// published.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/lightflow/lightflow/internal/lferr"
)

// Validate validates value (typically the result of yaml.Unmarshal into
// a map[string]interface{}, or a json.RawMessage) against the JSON
// Schema in schema, returning an lferr.KindConfigError on any failure.
func Validate(id string, schemaBytes []byte, value interface{}) error {
	if len(schemaBytes) == 0 {
		return lferr.New(lferr.KindConfigError, "schema "+id+" is empty")
	}
	resourceID := "lightflow://" + id
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resourceID, bytes.NewReader(schemaBytes)); err != nil {
		return lferr.Wrap(lferr.KindConfigError, err, "add schema resource "+id)
	}
	compiled, err := compiler.Compile(resourceID)
	if err != nil {
		return lferr.Wrap(lferr.KindConfigError, err, "compile schema "+id)
	}
	payload, err := normalize(value)
	if err != nil {
		return lferr.Wrap(lferr.KindConfigError, err, "normalize payload for schema "+id)
	}
	if err := compiled.Validate(payload); err != nil {
		return lferr.Wrap(lferr.KindConfigError, err, "validate against schema "+id)
	}
	return nil
}

// normalize converts map[interface{}]interface{} nodes (as produced by
// yaml.v3's generic Unmarshal target) into map[string]interface{} so
// jsonschema/v5's Validate, which expects plain JSON-decoded shapes,
// can walk them.
func normalize(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case json.RawMessage:
		var out interface{}
		if err := json.Unmarshal(v, &out); err != nil {
			return nil, err
		}
		return out, nil
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			norm, err := normalize(val)
			if err != nil {
				return nil, err
			}
			out[k] = norm
		}
		return out, nil
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			key := fmt.Sprintf("%v", k)
			norm, err := normalize(val)
			if err != nil {
				return nil, err
			}
			out[key] = norm
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, val := range v {
			norm, err := normalize(val)
			if err != nil {
				return nil, err
			}
			out[i] = norm
		}
		return out, nil
	default:
		return v, nil
	}
}
