package reflection

import (
	"errors"
	"fmt"
)

// ErrMalformedSpec is returned by ParseSpec for values that are neither a
// function name nor a {function, parameters} mapping.
var ErrMalformedSpec = errors.New("malformed reflection spec")

// Spec selects a reflection for one field. It is either named (a bare
// function name) or configured (a name plus parameters).
type Spec struct {
	Function   string
	Parameters Params
	named      bool
}

// Named returns a spec that only names a function.
func Named(function string) Spec {
	return Spec{Function: function, named: true}
}

// Configured returns a spec with explicit parameters.
func Configured(function string, params Params) Spec {
	return Spec{Function: function, Parameters: params}
}

// IsNamed reports whether the spec was given as a bare name.
func (s Spec) IsNamed() bool { return s.named }

// Normalize expands the spec to the configured form with non-nil parameters.
func (s Spec) Normalize() Spec {
	params := s.Parameters
	if params == nil {
		params = Params{}
	}
	return Spec{Function: s.Function, Parameters: params}
}

func (s Spec) String() string {
	if s.named || len(s.Parameters) == 0 {
		return s.Function
	}
	return fmt.Sprintf("%s(%v)", s.Function, map[string]any(s.Parameters))
}

// ParseSpec converts a decoded configuration value into a Spec.
// A string is a named spec; a mapping must carry a string "function" and
// may carry a "parameters" mapping. An empty function name is malformed.
func ParseSpec(v any) (Spec, error) {
	switch x := v.(type) {
	case Spec:
		return x, nil
	case string:
		if x == "" {
			return Spec{}, fmt.Errorf("%w: empty function name", ErrMalformedSpec)
		}
		return Named(x), nil
	case map[string]any:
		return parseSpecMap(Params(x))
	case Params:
		return parseSpecMap(x)
	case map[any]any:
		m := make(Params, len(x))
		for k, val := range x {
			m[fmt.Sprint(k)] = val
		}
		return parseSpecMap(m)
	}
	return Spec{}, fmt.Errorf("%w: %v", ErrMalformedSpec, v)
}

func parseSpecMap(m Params) (Spec, error) {
	name, ok := m["function"].(string)
	if !ok || name == "" {
		return Spec{}, fmt.Errorf("%w: missing function name in %v", ErrMalformedSpec, map[string]any(m))
	}
	if !m.Has("parameters") || m["parameters"] == nil {
		return Configured(name, Params{}), nil
	}
	params, ok := m.Map("parameters")
	if !ok {
		return Spec{}, fmt.Errorf("%w: parameters of %s must be a mapping", ErrMalformedSpec, name)
	}
	return Configured(name, Params(params)), nil
}
