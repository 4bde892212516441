package capability

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
)

// ValidateParams checks arguments against a JSON-schema-style object schema:
// required fields present, types match, unknown fields rejected when the
// schema closes additionalProperties. An empty schema accepts anything.
func ValidateParams(schema map[string]any, params map[string]any) error {
	if len(schema) == 0 {
		return nil
	}

	required, err := requiredFields(schema["required"])
	if err != nil {
		return err
	}
	for _, field := range required {
		if _, ok := params[field]; !ok {
			return fmt.Errorf("missing required parameter %q", field)
		}
	}

	properties, hasProperties := objectValue(schema["properties"])
	allowExtra, err := additionalAllowed(schema["additionalProperties"])
	if err != nil {
		return err
	}

	for _, key := range sortedKeys(params) {
		propSchema, declared := properties[key]
		if !declared {
			if hasProperties && !allowExtra {
				return fmt.Errorf("unknown parameter %q", key)
			}
			continue
		}
		expected, hasType, err := declaredType(propSchema)
		if err != nil {
			return err
		}
		if hasType && !valueMatches(expected, params[key]) {
			return fmt.Errorf("parameter %q must be of type %q", key, expected)
		}
	}
	return nil
}

func requiredFields(raw any) ([]string, error) {
	switch value := raw.(type) {
	case nil:
		return nil, nil
	case []string:
		return value, nil
	case []any:
		out := make([]string, 0, len(value))
		for _, item := range value {
			field, ok := item.(string)
			if !ok {
				return nil, errors.New(`schema "required" entries must be strings`)
			}
			out = append(out, field)
		}
		return out, nil
	default:
		return nil, errors.New(`schema "required" must be an array`)
	}
}

func additionalAllowed(raw any) (bool, error) {
	switch value := raw.(type) {
	case nil:
		return true, nil
	case bool:
		return value, nil
	default:
		return false, errors.New(`schema "additionalProperties" must be a bool`)
	}
}

func declaredType(propSchema any) (string, bool, error) {
	prop, ok := objectValue(propSchema)
	if !ok {
		return "", false, errors.New(`schema "properties" entries must be objects`)
	}
	raw, ok := prop["type"]
	if !ok {
		return "", false, nil
	}
	name, ok := raw.(string)
	if !ok {
		return "", false, errors.New(`schema property "type" must be a string`)
	}
	return name, true, nil
}

func objectValue(raw any) (map[string]any, bool) {
	value, ok := raw.(map[string]any)
	return value, ok
}

func sortedKeys(params map[string]any) []string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func valueMatches(expected string, value any) bool {
	switch expected {
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "number":
		return isNumeric(value)
	case "integer":
		switch value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		case float64:
			// JSON decoding yields float64 for every number
			f := value.(float64)
			return f == float64(int64(f))
		default:
			return false
		}
	case "object":
		if value == nil {
			return false
		}
		if _, ok := value.(map[string]any); ok {
			return true
		}
		return reflect.TypeOf(value).Kind() == reflect.Map
	case "array":
		if value == nil {
			return false
		}
		kind := reflect.TypeOf(value).Kind()
		return kind == reflect.Slice || kind == reflect.Array
	default:
		return true
	}
}

func isNumeric(value any) bool {
	switch value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	default:
		return false
	}
}
