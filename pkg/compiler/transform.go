package compiler

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// TransformFunc converts a mapped value after it has been copied.
type TransformFunc func(value any) (any, error)

var transforms = map[string]TransformFunc{
	"string":  toString,
	"number":  toNumber,
	"boolean": toBoolean,
	"json":    toJSON,
	"upper":   stringTransform(strings.ToUpper),
	"lower":   stringTransform(strings.ToLower),
	"trim":    stringTransform(strings.TrimSpace),
	"first":   first,
	"last":    last,
	"length":  length,
}

// Transform returns the named edge transform.
func Transform(name string) (TransformFunc, bool) {
	fn, ok := transforms[name]

	return fn, ok
}

// TransformNames lists the supported transforms in sorted order.
func TransformNames() []string {
	names := make([]string, 0, len(transforms))
	for name := range transforms {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}

func toString(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case map[string]any, []any:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}

		return string(data), nil
	default:
		return fmt.Sprint(v), nil
	}
}

func toNumber(value any) (any, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case bool:
		if v {
			return float64(1), nil
		}

		return float64(0), nil
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("cannot convert %q to number", v)
		}

		return n, nil
	default:
		return nil, fmt.Errorf("cannot convert %T to number", value)
	}
}

func toBoolean(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b, nil
		}

		return v != "", nil
	case float64:
		return v != 0, nil
	case int:
		return v != 0, nil
	case []any:
		return len(v) > 0, nil
	case map[string]any:
		return len(v) > 0, nil
	default:
		return true, nil
	}
}

func toJSON(value any) (any, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}

	return string(data), nil
}

func stringTransform(fn func(string) string) TransformFunc {
	return func(value any) (any, error) {
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", value)
		}

		return fn(s), nil
	}
}

func first(value any) (any, error) {
	list, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("expected list, got %T", value)
	}

	if len(list) == 0 {
		return nil, nil
	}

	return list[0], nil
}

func last(value any) (any, error) {
	list, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("expected list, got %T", value)
	}

	if len(list) == 0 {
		return nil, nil
	}

	return list[len(list)-1], nil
}

func length(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return float64(len([]rune(v))), nil
	case []any:
		return float64(len(v)), nil
	case map[string]any:
		return float64(len(v)), nil
	case nil:
		return float64(0), nil
	default:
		return nil, fmt.Errorf("cannot take length of %T", value)
	}
}
