package dataset

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

func (p Params) string(key string) (string, bool) {
	v, ok := p[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (p Params) int(key string, def int) (int, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	n, ok := toInt(v)
	if !ok {
		return 0, fmt.Errorf("%w: %s must be an integer, got %v", ErrInvalidParameter, key, v)
	}
	return n, nil
}

func (p Params) bool(key string, def bool) bool {
	if b, ok := p[key].(bool); ok {
		return b
	}
	return def
}

func (p Params) strings(key string) []string {
	switch v := p[key].(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	}
	return nil
}

// headerRow returns the row index holding column names, or -1 when the
// source has none. An explicit null means no header; a missing key or
// "infer" means the first row.
func (p Params) headerRow() (int, error) {
	v, ok := p["header"]
	if !ok {
		return 0, nil
	}
	if v == nil {
		return -1, nil
	}
	if s, isStr := v.(string); isStr && s == "infer" {
		return 0, nil
	}
	n, isInt := toInt(v)
	if !isInt || n < 0 {
		return 0, fmt.Errorf("%w: header must be a row index or null, got %v", ErrInvalidParameter, v)
	}
	return n, nil
}

func toInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case uint64:
		return int(x), true
	case float64:
		if x != math.Trunc(x) {
			return 0, false
		}
		return int(x), true
	case json.Number:
		n, err := x.Int64()
		return int(n), err == nil
	case string:
		n, err := strconv.Atoi(x)
		return n, err == nil
	}
	return 0, false
}
