package reflection

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

var (
	errMissingKey  = errors.New("missing key")
	errBadTemplate = errors.New("bad template")
)

// formatFloat renders whole floats without a fraction ("112" not "112.0").
func formatFloat(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// rowString renders the whole row with sorted keys and Go-quoted strings.
func rowString(row Row) string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%q: %s", k, reprOf(row[k]))
	}
	b.WriteByte('}')
	return b.String()
}

func reprOf(v any) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case string:
		return strconv.Quote(x)
	default:
		return textOf(v)
	}
}

// percentFormat renders %-style templates such as "%(name)s %(qty)05d".
// A conversion without a key renders the whole row. Supported
// conversions: s r d i f F e E g G x X o and %%.
func percentFormat(template string, row Row) (string, error) {
	var b strings.Builder
	for i := 0; i < len(template); i++ {
		c := template[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(template) {
			return "", fmt.Errorf("%w: incomplete format", errBadTemplate)
		}
		if template[i] == '%' {
			b.WriteByte('%')
			continue
		}

		var value any = row
		if template[i] == '(' {
			end := strings.IndexByte(template[i:], ')')
			if end < 0 {
				return "", fmt.Errorf("%w: incomplete format key", errBadTemplate)
			}
			key := template[i+1 : i+end]
			v, ok := row[key]
			if !ok {
				return "", fmt.Errorf("%w: %q", errMissingKey, key)
			}
			value = v
			i += end + 1
		}

		// flags, width and precision are passed through to fmt
		specStart := i
		for i < len(template) && strings.IndexByte("#0- +.0123456789", template[i]) >= 0 {
			i++
		}
		if i >= len(template) {
			return "", fmt.Errorf("%w: incomplete format", errBadTemplate)
		}
		spec := template[specStart:i]

		out, err := convertPercent(spec, template[i], value)
		if err != nil {
			return "", err
		}
		b.WriteString(out)
	}
	return b.String(), nil
}

func convertPercent(spec string, verb byte, value any) (string, error) {
	switch verb {
	case 's':
		if row, ok := value.(Row); ok {
			return fmt.Sprintf("%"+spec+"s", rowString(row)), nil
		}
		return fmt.Sprintf("%"+spec+"s", textOf(value)), nil
	case 'r':
		return fmt.Sprintf("%"+spec+"s", reprOf(value)), nil
	case 'd', 'i':
		n, ok := numberOf(value)
		if !ok {
			return "", fmt.Errorf("%w: %%%c requires a number, not %v", errBadTemplate, verb, value)
		}
		return fmt.Sprintf("%"+spec+"d", int64(n)), nil
	case 'x', 'X', 'o':
		n, ok := numberOf(value)
		if !ok || n != math.Trunc(n) {
			return "", fmt.Errorf("%w: %%%c requires an integer, not %v", errBadTemplate, verb, value)
		}
		return fmt.Sprintf("%"+spec+string(verb), int64(n)), nil
	case 'f', 'F', 'e', 'E', 'g', 'G':
		n, ok := numberOf(value)
		if !ok {
			return "", fmt.Errorf("%w: %%%c requires a number, not %v", errBadTemplate, verb, value)
		}
		if verb == 'F' {
			verb = 'f'
		}
		if (verb == 'f' || verb == 'e' || verb == 'E') && !strings.Contains(spec, ".") {
			spec += ".6"
		}
		return fmt.Sprintf("%"+spec+string(verb), n), nil
	}
	return "", fmt.Errorf("%w: unsupported format character %q", errBadTemplate, verb)
}

func numberOf(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// braceFormat renders brace templates with the row as positional argument
// zero: "{0[name]}", "{[name]}" and "{}" (the whole row). A format spec
// after ':' supports fill, alignment, width, precision and the s d f types.
func braceFormat(template string, row Row) (string, error) {
	var b strings.Builder
	for i := 0; i < len(template); i++ {
		c := template[i]
		switch {
		case c == '{' && i+1 < len(template) && template[i+1] == '{':
			b.WriteByte('{')
			i++
			continue
		case c == '}' && i+1 < len(template) && template[i+1] == '}':
			b.WriteByte('}')
			i++
			continue
		case c == '}':
			return "", fmt.Errorf("%w: single '}' encountered", errBadTemplate)
		case c != '{':
			b.WriteByte(c)
			continue
		}

		end := strings.IndexByte(template[i:], '}')
		if end < 0 {
			return "", fmt.Errorf("%w: expected '}' before end of string", errBadTemplate)
		}
		out, err := braceField(template[i+1:i+end], row)
		if err != nil {
			return "", err
		}
		b.WriteString(out)
		i += end
	}
	return b.String(), nil
}

func braceField(field string, row Row) (string, error) {
	name, spec, _ := strings.Cut(field, ":")
	name, conv, hasConv := strings.Cut(name, "!")

	var value any = row
	switch {
	case name == "" || name == "0":
	case strings.HasPrefix(name, "0[") || strings.HasPrefix(name, "["):
		open := strings.IndexByte(name, '[')
		if !strings.HasSuffix(name, "]") {
			return "", fmt.Errorf("%w: missing ']' in %q", errBadTemplate, field)
		}
		key := name[open+1 : len(name)-1]
		v, ok := row[key]
		if !ok {
			return "", fmt.Errorf("%w: %q", errMissingKey, key)
		}
		value = v
	default:
		return "", fmt.Errorf("%w: replacement field %q must index the row", errBadTemplate, name)
	}

	var text string
	switch {
	case hasConv && conv == "r":
		text = reprOf(value)
	case hasConv && conv != "s":
		return "", fmt.Errorf("%w: unknown conversion %q", errBadTemplate, conv)
	default:
		if r, ok := value.(Row); ok {
			text = rowString(r)
		} else {
			text = textOf(value)
		}
	}
	if spec == "" {
		return text, nil
	}
	return applyBraceSpec(spec, text, value)
}

// applyBraceSpec handles [[fill]align][width][.precision][type].
func applyBraceSpec(spec, text string, value any) (string, error) {
	fill, align := " ", byte(0)
	if len(spec) >= 2 && strings.IndexByte("<>^", spec[1]) >= 0 {
		fill, align, spec = spec[:1], spec[1], spec[2:]
	} else if len(spec) >= 1 && strings.IndexByte("<>^", spec[0]) >= 0 {
		align, spec = spec[0], spec[1:]
	}

	typ := byte('s')
	if n := len(spec); n > 0 && strings.IndexByte("sdf", spec[n-1]) >= 0 {
		typ, spec = spec[n-1], spec[:n-1]
	}
	widthStr, precStr, hasPrec := strings.Cut(spec, ".")

	width := 0
	if widthStr != "" {
		w, err := strconv.Atoi(widthStr)
		if err != nil {
			return "", fmt.Errorf("%w: invalid format spec %q", errBadTemplate, spec)
		}
		width = w
	}

	switch typ {
	case 'd', 'f':
		n, ok := numberOf(value)
		if !ok {
			if s, isStr := value.(string); isStr {
				f, err := strconv.ParseFloat(s, 64)
				ok, n = err == nil, f
			}
		}
		if !ok {
			return "", fmt.Errorf("%w: unknown format code %q for value %v", errBadTemplate, typ, value)
		}
		if typ == 'd' {
			text = strconv.FormatInt(int64(n), 10)
		} else {
			prec := 6
			if hasPrec {
				p, err := strconv.Atoi(precStr)
				if err != nil {
					return "", fmt.Errorf("%w: invalid precision %q", errBadTemplate, precStr)
				}
				prec = p
			}
			text = strconv.FormatFloat(n, 'f', prec, 64)
		}
		if align == 0 {
			align = '>'
		}
	default:
		if hasPrec {
			p, err := strconv.Atoi(precStr)
			if err != nil {
				return "", fmt.Errorf("%w: invalid precision %q", errBadTemplate, precStr)
			}
			if r := []rune(text); len(r) > p {
				text = string(r[:p])
			}
		}
		if align == 0 {
			align = '<'
		}
	}

	pad := width - len([]rune(text))
	if pad <= 0 {
		return text, nil
	}
	switch align {
	case '>':
		return strings.Repeat(fill, pad) + text, nil
	case '^':
		left := pad / 2
		return strings.Repeat(fill, left) + text + strings.Repeat(fill, pad-left), nil
	default:
		return text + strings.Repeat(fill, pad), nil
	}
}
