package koha

import (
	"encoding/json"
	"fmt"

	"github.com/jmespath/go-jmespath"
)

// hasField reports whether the JMESPath expression yields a non-null value in body
func hasField(body []byte, expr string) bool {
	v, err := search(body, expr)
	return err == nil && v != nil
}

// extractString evaluates expr against body and renders scalars as strings
func extractString(body []byte, expr string) (string, error) {
	v, err := search(body, expr)
	if err != nil {
		return "", err
	}
	switch val := v.(type) {
	case string:
		return val, nil
	case float64:
		return fmt.Sprintf("%g", val), nil
	case bool:
		return fmt.Sprintf("%t", val), nil
	case nil:
		return "", fmt.Errorf("%w: %s", ErrMissingField, expr)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return "", fmt.Errorf("failed to convert %s to string: %w", expr, err)
		}
		return string(data), nil
	}
}

func search(body []byte, expr string) (interface{}, error) {
	var data interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("response is not valid JSON: %w", err)
	}
	result, err := jmespath.Search(expr, data)
	if err != nil {
		return nil, fmt.Errorf("invalid JMESPath expression '%s': %w", expr, err)
	}
	return result, nil
}
