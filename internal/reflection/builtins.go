package reflection

import (
	"fmt"
	"strings"

	"github.com/JonMunkholm/tabimport/internal/schema"
)

func builtins() map[string]Func {
	return map[string]Func{
		"direct":   Direct,
		"update":   Update,
		"constant": Constant,
		"avoid":    Avoid,
		"clean":    Clean,
		"substr":   Substr,
		"replace":  Replace,
		"format":   Format,
		"xformat":  XFormat,
		"enum":     Enum,
		"combine":  Combine,
		"lookup":   Lookup,
		"expr":     Expr,
		"strip":    Strip,
		"default":  DefaultValue,
	}
}

func column(field string, p Params) string {
	return p.StringOr("column", field)
}

// Direct copies the column value (the field name by default) to the create stage.
//
// Parameters: column.
func Direct(_ *Context, _ *schema.Model, field string, row Row, _ Logger, p Params) (Outcome, error) {
	col := column(field, p)
	value, ok := row[col]
	if !ok {
		return Skip("column not found: " + col), nil
	}
	return Create(field, value), nil
}

// Update reads like Direct but delivers the value to the update stage, so it
// is only assigned after the record exists.
//
// Parameters: column.
func Update(rc *Context, model *schema.Model, field string, row Row, log Logger, p Params) (Outcome, error) {
	out, err := Direct(rc, model, field, row, log, p)
	if err != nil || out.Skipped() {
		return out, err
	}
	return Produced(nil, Values(out.Merged())), nil
}

// Constant sets the field to a fixed value.
//
// Parameters: value.
func Constant(_ *Context, _ *schema.Model, field string, _ Row, _ Logger, p Params) (Outcome, error) {
	return Create(field, p["value"]), nil
}

// Avoid never produces anything. It suppresses the implicit direct mapping
// of a column that happens to share the field's name.
func Avoid(*Context, *schema.Model, string, Row, Logger, Params) (Outcome, error) {
	return Skip("avoided"), nil
}

// Clean reads like Direct and runs the value through the field's validation.
// A validation failure fails the row.
//
// Parameters: column.
func Clean(rc *Context, model *schema.Model, field string, row Row, log Logger, p Params) (Outcome, error) {
	f, ok := model.Field(field)
	if !ok {
		return Skip("not a model field: " + field), nil
	}
	out, err := Direct(rc, model, field, row, log, p)
	if err != nil || out.Skipped() {
		return out, err
	}
	raw, _ := out.single(field)
	value, err := f.Clean(raw)
	if err != nil {
		return Outcome{}, err
	}
	return Create(field, value), nil
}

// Substr slices the column value by characters.
//
// Parameters: column, start (0), length (the field's max length).
func Substr(rc *Context, model *schema.Model, field string, row Row, log Logger, p Params) (Outcome, error) {
	start, _ := p.Int("start")

	var length int
	if p["length"] == nil {
		if f, found := model.Field(field); found {
			length = f.MaxLength
		}
		if length == 0 {
			log.Warning("Can not determine length for the substr: %s", field)
			return Skip("no substr length"), nil
		}
	} else {
		n, ok := p.Int("length")
		if !ok {
			return Outcome{}, fmt.Errorf("substr: length must be an integer, got %v", p["length"])
		}
		length = n
	}

	out, err := Direct(rc, model, field, row, log, p)
	if err != nil || out.Skipped() {
		return out, err
	}
	raw, _ := out.single(field)
	if raw == nil {
		return out, nil
	}
	return Create(field, pySlice(textOf(raw), start, start+length)), nil
}

// Replace substitutes search with replace in the column value.
//
// Parameters: column, search (required), replace (""), count (all).
func Replace(rc *Context, model *schema.Model, field string, row Row, log Logger, p Params) (Outcome, error) {
	search, ok := p.String("search")
	if !ok {
		log.Warning("Set the search value: %s", field)
		return Skip("search not set"), nil
	}
	replacement := p.StringOr("replace", "")
	count, _ := p.Int("count")
	if count <= 0 {
		count = -1
	}

	out, err := Direct(rc, model, field, row, log, p)
	if err != nil || out.Skipped() {
		return out, err
	}
	raw, _ := out.single(field)
	if raw == nil {
		return out, nil
	}
	return Create(field, strings.Replace(textOf(raw), search, replacement, count)), nil
}

// Format renders a %-style template, e.g. "%(name)s-%(code)s", against the
// whole row. A keyless %s renders the row itself with keys sorted and
// strings double-quoted, e.g. {"code": "A1", "name": "x"}; column order is
// not kept since rows are maps.
//
// Parameters: format.
func Format(_ *Context, _ *schema.Model, field string, row Row, _ Logger, p Params) (Outcome, error) {
	value, err := percentFormat(p.StringOr("format", "<format not set>"), row)
	if err != nil {
		return Outcome{}, fmt.Errorf("format %s: %w", field, err)
	}
	return Create(field, value), nil
}

// XFormat renders a brace template, e.g. "{0[name]}-{0[code]}", with the row
// as the single positional argument. A bare {} or {0} renders the row the
// way Format's keyless %s does.
//
// Parameters: format.
func XFormat(_ *Context, _ *schema.Model, field string, row Row, _ Logger, p Params) (Outcome, error) {
	value, err := braceFormat(p.StringOr("format", "<format not set>"), row)
	if err != nil {
		return Outcome{}, fmt.Errorf("xformat %s: %w", field, err)
	}
	return Create(field, value), nil
}

// Enum translates the column value through a mapping. Matching is exact:
// only text values can equal a key, so a number never matches "1". Values
// missing from the mapping are warned about and dropped.
//
// Parameters: column, mapping.
func Enum(rc *Context, model *schema.Model, field string, row Row, log Logger, p Params) (Outcome, error) {
	mapping, _ := p.Map("mapping")

	out, err := Direct(rc, model, field, row, log, p)
	if err != nil || out.Skipped() {
		return out, err
	}
	raw, _ := out.single(field)
	key, isText := raw.(string)
	value, found := mapping[key]
	if !isText || !found {
		log.Warning("Found a column value %v not in mapping: %s", raw, field)
		return Skip("value not in mapping"), nil
	}
	return Create(field, value), nil
}

// Combine applies reflections in sequence. Every step after the first sees
// only the merged output of the previous step as its row, so a step that
// produces nothing ends the chain with an empty result.
//
// Parameters: reflections (list of specs).
func Combine(rc *Context, model *schema.Model, field string, row Row, log Logger, p Params) (Outcome, error) {
	if _, ok := model.Field(field); !ok {
		return Skip("not a model field: " + field), nil
	}
	steps, _ := p.List("reflections")

	out := Produced(nil, nil)
	data := row
	for _, step := range steps {
		if m, ok := step.(map[string]any); ok {
			if name, _ := m["function"].(string); name == "" {
				log.Warning("Function name is empty in combine: %s", field)
				return Skip("empty function in combine"), nil
			}
		}
		spec, err := ParseSpec(step)
		if err != nil {
			log.Warning("Function name is empty in combine: %s", field)
			return Skip("malformed combine step"), nil
		}
		bound, err := rc.Registry().Bind(spec)
		if err != nil {
			log.Warning("Function name %s not found in combine: %s", spec.Function, field)
			return Skip("unknown combine step"), nil
		}
		out, err = bound(rc, model, field, data, log)
		if err != nil {
			return Outcome{}, err
		}
		data = out.Merged()
	}
	return out, nil
}

// Lookup resolves the column value to a related record by matching it
// against lookup_field (the primary key by default) on the field's
// referenced model. The last match wins; no match yields nil.
//
// Parameters: column, lookup_field.
func Lookup(rc *Context, model *schema.Model, field string, row Row, log Logger, p Params) (Outcome, error) {
	f, ok := model.Field(field)
	if !ok {
		return Skip("not a model field: " + field), nil
	}
	out, err := Direct(rc, model, field, row, log, p)
	if err != nil || out.Skipped() {
		return out, err
	}
	if f.Reference == nil {
		return Outcome{}, fmt.Errorf("lookup: %s is not a reference field", field)
	}
	related, ok := rc.Model(f.Reference.Model)
	if !ok {
		return Outcome{}, fmt.Errorf("lookup: related model %s is not registered", f.Reference.Model)
	}

	raw, _ := out.single(field)
	found, err := rc.Lookup(related, p.StringOr("lookup_field", "pk"), raw)
	if err != nil {
		return Outcome{}, fmt.Errorf("lookup %s: %w", field, err)
	}
	if found == nil {
		return Create(field, nil), nil
	}
	return Create(field, found), nil
}

// textOf renders a cell value as text.
func textOf(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return formatFloat(x)
	default:
		return fmt.Sprint(v)
	}
}

// pySlice returns runes [i, j) of s with negative indices counted from the
// end and out-of-range bounds clamped.
func pySlice(s string, i, j int) string {
	r := []rune(s)
	n := len(r)
	norm := func(k int) int {
		if k < 0 {
			k += n
		}
		return max(0, min(k, n))
	}
	i, j = norm(i), norm(j)
	if i >= j {
		return ""
	}
	return string(r[i:j])
}
