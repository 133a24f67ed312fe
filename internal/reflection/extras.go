package reflection

import (
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/JonMunkholm/tabimport/internal/schema"
)

var (
	programsMu sync.RWMutex
	programs   = make(map[string]*vm.Program)
)

func compileExpr(source string) (*vm.Program, error) {
	programsMu.RLock()
	program, ok := programs[source]
	programsMu.RUnlock()
	if ok {
		return program, nil
	}

	program, err := expr.Compile(source, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}
	programsMu.Lock()
	programs[source] = program
	programsMu.Unlock()
	return program, nil
}

// Expr evaluates an expression with the row's columns as variables (and
// the whole row as "row"), e.g. `quantity * 2` or `row["0001"] + "-x"`.
//
// Parameters: expression, stage ("create" or "update").
func Expr(_ *Context, _ *schema.Model, field string, row Row, log Logger, p Params) (Outcome, error) {
	source, ok := p.String("expression")
	if !ok || strings.TrimSpace(source) == "" {
		log.Warning("Set the expression: %s", field)
		return Skip("expression not set"), nil
	}

	program, err := compileExpr(source)
	if err != nil {
		return Outcome{}, fmt.Errorf("expr %s: %w", field, err)
	}

	env := make(map[string]any, len(row)+1)
	for k, v := range row {
		env[k] = v
	}
	env["row"] = map[string]any(row)

	value, err := expr.Run(program, env)
	if err != nil {
		return Outcome{}, fmt.Errorf("expr %s: %w", field, err)
	}

	if p.StringOr("stage", "create") == "update" {
		return Produced(nil, Values{field: value}), nil
	}
	return Create(field, value), nil
}

// Strip reads like Direct and trims the value: whitespace by default,
// otherwise any of the characters in chars.
//
// Parameters: column, chars.
func Strip(rc *Context, model *schema.Model, field string, row Row, log Logger, p Params) (Outcome, error) {
	out, err := Direct(rc, model, field, row, log, p)
	if err != nil || out.Skipped() {
		return out, err
	}
	raw, _ := out.single(field)
	s, ok := raw.(string)
	if !ok {
		return out, nil
	}
	if chars, ok := p.String("chars"); ok {
		return Create(field, strings.Trim(s, chars)), nil
	}
	return Create(field, strings.TrimSpace(s)), nil
}

// DefaultValue reads like Direct but falls back to value when the column
// is missing, null or blank.
//
// Parameters: column, value.
func DefaultValue(rc *Context, model *schema.Model, field string, row Row, log Logger, p Params) (Outcome, error) {
	out, err := Direct(rc, model, field, row, log, p)
	if err != nil {
		return out, err
	}
	raw, found := out.single(field)
	if out.Skipped() || !found || raw == nil || raw == "" {
		return Create(field, p["value"]), nil
	}
	return out, nil
}
