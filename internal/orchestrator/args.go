package orchestrator

import (
	"fmt"
	"math"
	"strconv"
)

// String returns args[name] as a string, or def when absent or empty.
func String(args map[string]any, name, def string) string {
	v, ok := args[name]
	if !ok || v == nil {
		return def
	}
	s, ok := v.(string)
	if !ok {
		s = fmt.Sprint(v)
	}
	if s == "" {
		return def
	}
	return s
}

// Int returns args[name] as an int. Models send numbers as JSON numbers or
// numeric strings; both are accepted.
func Int(args map[string]any, name string, def int) (int, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("argument %s: %v is not an integer", name, n)
		}
		return int(n), nil
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case string:
		if n == "" {
			return def, nil
		}
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("argument %s: %w", name, err)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("argument %s: unsupported type %T", name, v)
	}
}

func Bool(args map[string]any, name string, def bool) (bool, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return def, nil
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		if b == "" {
			return def, nil
		}
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return false, fmt.Errorf("argument %s: %w", name, err)
		}
		return parsed, nil
	default:
		return false, fmt.Errorf("argument %s: unsupported type %T", name, v)
	}
}

// Strings returns args[name] as a string slice. A single string is split
// into a one-element slice.
func Strings(args map[string]any, name string) []string {
	switch v := args[name].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			out = append(out, fmt.Sprint(e))
		}
		return out
	case []string:
		return v
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	default:
		return nil
	}
}
