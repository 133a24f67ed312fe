// Package reflection implements the per-field transformation rules applied
// to every row of an import.
//
// A reflection is a named [Func]. For one target field it reads the row,
// optionally consults the schema or related records, and returns an
// [Outcome]: values for the create stage (passed to the initial
// insert/upsert) and values for the update stage (assigned after the record
// exists and saved once).
//
// Missing prerequisites (absent column, unset parameter) are not errors: the
// function returns an empty outcome, logging a warning where useful. A
// returned error means the value itself is unacceptable and the whole row
// is skipped by the caller.
package reflection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math"
	"strconv"
	"sync"

	"github.com/JonMunkholm/tabimport/internal/schema"
)

// ErrUnknownReflection is returned when a name has no registered function.
var ErrUnknownReflection = errors.New("unknown reflection")

// Row maps column names to raw cell values (string, number or nil).
type Row map[string]any

// Values maps target field names to values for one stage.
type Values map[string]any

// Params holds the parameters configured for one reflection.
type Params map[string]any

// Has reports whether key is present, even with a nil value.
func (p Params) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// String returns the parameter as a string. Non-string scalars are
// rendered with fmt; nil and absent values report false.
func (p Params) String(key string) (string, bool) {
	v, ok := p[key]
	if !ok || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return fmt.Sprint(v), true
}

// StringOr returns the string parameter or def.
func (p Params) StringOr(key, def string) string {
	if s, ok := p.String(key); ok {
		return s
	}
	return def
}

// Int returns an integer parameter. Numbers decoded from JSON, YAML or
// TOML and numeric strings are accepted.
func (p Params) Int(key string) (int, bool) {
	switch v := p[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case int32:
		return int(v), true
	case uint64:
		return int(v), true
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	}
	return 0, false
}

// Map returns a mapping parameter with string keys.
func (p Params) Map(key string) (map[string]any, bool) {
	switch v := p[key].(type) {
	case map[string]any:
		return v, true
	case Params:
		return v, true
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	}
	return nil, false
}

// List returns a list parameter.
func (p Params) List(key string) ([]any, bool) {
	switch v := p[key].(type) {
	case []any:
		return v, true
	case []map[string]any:
		out := make([]any, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out, true
	case []string:
		out := make([]any, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out, true
	}
	return nil, false
}

// Outcome is the result of one reflection call.
//
// A produced outcome carries create and update values (possibly empty). A
// skipped outcome carries only the reason the reflection did nothing.
type Outcome struct {
	Create  Values
	Update  Values
	Reason  string
	skipped bool
}

// Produced returns an outcome with the given stage values.
func Produced(create, update Values) Outcome {
	if create == nil {
		create = Values{}
	}
	if update == nil {
		update = Values{}
	}
	return Outcome{Create: create, Update: update}
}

// Create is shorthand for a single create-stage value.
func Create(field string, value any) Outcome {
	return Produced(Values{field: value}, nil)
}

// Skip returns a no-op outcome.
func Skip(reason string) Outcome {
	return Outcome{Create: Values{}, Update: Values{}, Reason: reason, skipped: true}
}

// Skipped reports whether the reflection declined to produce anything.
func (o Outcome) Skipped() bool { return o.skipped }

// Empty reports whether neither stage holds a value.
func (o Outcome) Empty() bool { return len(o.Create) == 0 && len(o.Update) == 0 }

// Merged returns create values overlaid with update values.
func (o Outcome) Merged() Row {
	row := make(Row, len(o.Create)+len(o.Update))
	maps.Copy(row, o.Create)
	maps.Copy(row, o.Update)
	return row
}

// single returns the only create value of a direct-style outcome.
func (o Outcome) single(field string) (any, bool) {
	v, ok := o.Create[field]
	return v, ok
}

// Logger receives warnings from reflections. The run log implements it.
type Logger interface {
	Debug(template string, args ...any)
	Info(template string, args ...any)
	Warning(template string, args ...any)
	Error(template string, args ...any)
	Critical(template string, args ...any)
}

// Func is a reflection function.
type Func func(rc *Context, model *schema.Model, field string, row Row, log Logger, p Params) (Outcome, error)

// Lookuper finds related records for the lookup reflection. Lookup returns
// the last record of model whose field equals value, or nil when nothing
// matches.
type Lookuper interface {
	Lookup(ctx context.Context, model *schema.Model, field string, value any) (schema.Identifier, error)
}

// Context is the handle shared by every reflection call of one run.
type Context struct {
	ctx      context.Context
	registry *Registry
	lookuper Lookuper
	models   func(key string) (*schema.Model, bool)

	mu    sync.Mutex
	cache map[lookupKey]schema.Identifier
}

type lookupKey struct {
	model string
	field string
	value string
}

// ContextOption configures a Context.
type ContextOption func(*Context)

// WithModels overrides how related models are resolved (schema.Get by default).
func WithModels(fn func(key string) (*schema.Model, bool)) ContextOption {
	return func(rc *Context) { rc.models = fn }
}

// WithLookupCache memoizes lookups for the lifetime of the context.
// Only safe when the looked-up collection does not change during the run.
func WithLookupCache() ContextOption {
	return func(rc *Context) { rc.cache = make(map[lookupKey]schema.Identifier) }
}

// NewContext creates a reflection context. A nil registry means Default.
func NewContext(ctx context.Context, registry *Registry, lookuper Lookuper, opts ...ContextOption) *Context {
	if registry == nil {
		registry = Default
	}
	rc := &Context{
		ctx:      ctx,
		registry: registry,
		lookuper: lookuper,
		models:   schema.Get,
	}
	for _, opt := range opts {
		opt(rc)
	}
	return rc
}

// Context returns the run's context.Context.
func (rc *Context) Context() context.Context { return rc.ctx }

// Registry returns the registry nested reflections are resolved in.
func (rc *Context) Registry() *Registry { return rc.registry }

// Model resolves a related model by key.
func (rc *Context) Model(key string) (*schema.Model, bool) { return rc.models(key) }

// Lookup finds a related record through the Lookuper, using the cache when
// enabled.
func (rc *Context) Lookup(model *schema.Model, field string, value any) (schema.Identifier, error) {
	if rc.lookuper == nil {
		return nil, fmt.Errorf("lookup %s.%s: no record lookup configured", model.Key, field)
	}
	if rc.cache == nil {
		return rc.lookuper.Lookup(rc.ctx, model, field, value)
	}

	key := lookupKey{model: model.Key, field: field, value: fmt.Sprint(value)}
	rc.mu.Lock()
	found, ok := rc.cache[key]
	rc.mu.Unlock()
	if ok {
		return found, nil
	}

	found, err := rc.lookuper.Lookup(rc.ctx, model, field, value)
	if err != nil {
		return nil, err
	}
	rc.mu.Lock()
	rc.cache[key] = found
	rc.mu.Unlock()
	return found, nil
}
