package schema

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgtype"
)

// ErrValidation is matched by every *ValidationError.
var ErrValidation = errors.New("validation failed")

// ValidationError reports why a value is not acceptable for a field.
type ValidationError struct {
	Field    string
	Messages []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, strings.Join(e.Messages, "; "))
}

// Is reports ErrValidation so callers can use errors.Is.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (f Field) invalid(format string, args ...any) *ValidationError {
	return &ValidationError{Field: f.Name, Messages: []string{fmt.Sprintf(format, args...)}}
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

// Clean converts v to the field's canonical type and runs the field's
// validators. It is strict: anything the field would not accept as-is
// is rejected with a *ValidationError.
func (f Field) Clean(v any) (any, error) {
	value, err := f.toCanonical(v, true)
	if err != nil {
		return nil, err
	}

	if len(f.Choices) > 0 && !isEmpty(value) {
		if !slices.Contains(f.Choices, asString(value)) {
			return nil, f.invalid("Value %q is not a valid choice.", asString(value))
		}
	}
	if value == nil && !f.Nullable {
		return nil, f.invalid("This field cannot be null.")
	}
	if isEmpty(value) && !f.Nullable {
		return nil, f.invalid("This field cannot be blank.")
	}
	if isEmpty(value) {
		return value, nil
	}

	switch f.Kind {
	case KindText:
		if n := utf8.RuneCountInString(value.(string)); f.MaxLength > 0 && n > f.MaxLength {
			return nil, f.invalid("Ensure this value has at most %d characters (it has %d).", f.MaxLength, n)
		}
	case KindDecimal:
		if err := f.checkDigits(value); err != nil {
			return nil, err
		}
	}
	return value, nil
}

// Prepare coerces v into the value a store writes for this field.
// Blank values become NULL for every kind except text; reference fields
// accept an Identifier or a raw primary key.
func (f Field) Prepare(v any) (any, error) {
	value, err := f.toCanonical(v, false)
	if err != nil {
		return nil, err
	}
	if value == nil && !f.Nullable {
		return nil, f.invalid("NOT NULL constraint failed: %s", f.DBColumn())
	}
	if s, ok := value.(string); ok && f.MaxLength > 0 {
		if n := utf8.RuneCountInString(s); n > f.MaxLength {
			return nil, f.invalid("value too long for type character varying(%d)", f.MaxLength)
		}
	}
	if f.Kind == KindDecimal && value != nil {
		n := Quantize(value.(pgtype.Numeric), f.DecimalPlaces)
		if f.MaxDigits > 0 {
			if digits, _ := decimalShape(n); digits > f.MaxDigits {
				return nil, f.invalid("numeric field overflow")
			}
		}
		value = n
	}
	return value, nil
}

// Default is the value an omitted field receives on insert.
func (f Field) Default() any {
	if f.Kind == KindText && !f.Nullable {
		return ""
	}
	return nil
}

func (f Field) toCanonical(v any, strict bool) (any, error) {
	if v == nil {
		return nil, nil
	}
	if f.Kind == KindText {
		return asString(v), nil
	}
	if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
		if strict {
			return "", nil
		}
		return nil, nil
	}

	switch f.Kind {
	case KindInteger:
		if n, ok := asInt64(v); ok {
			return n, nil
		}
		return nil, f.invalid("%q value must be an integer.", asString(v))
	case KindFloat:
		if n, ok := asFloat64(v); ok {
			return n, nil
		}
		return nil, f.invalid("%q value must be a float.", asString(v))
	case KindDecimal:
		if n, ok := asNumeric(v); ok {
			return n, nil
		}
		return nil, f.invalid("%q value must be a decimal number.", asString(v))
	case KindBool:
		if b, ok := asBool(v); ok {
			return b, nil
		}
		return nil, f.invalid("%q value must be either True or False.", asString(v))
	case KindDate:
		if t, ok := asTime(v, true); ok {
			return t, nil
		}
		return nil, f.invalid("%q value has an invalid date format. It must be in YYYY-MM-DD format.", asString(v))
	case KindDateTime:
		if t, ok := asTime(v, false); ok {
			return t, nil
		}
		return nil, f.invalid("%q value has an invalid format. It must be in YYYY-MM-DD HH:MM[:ss] format.", asString(v))
	case KindReference:
		if id, ok := v.(Identifier); ok {
			if strict {
				return id, nil
			}
			return id.PrimaryKey(), nil
		}
		if n, ok := asInt64(v); ok {
			return n, nil
		}
		return nil, f.invalid("%q value must be a primary key.", asString(v))
	}
	return nil, f.invalid("unsupported field kind %s", f.Kind)
}

func (f Field) checkDigits(value any) error {
	n, ok := value.(pgtype.Numeric)
	if !ok || n.NaN {
		return nil
	}
	digits, decimals := decimalShape(n)
	wholeDigits := digits - decimals

	if f.MaxDigits > 0 && digits > f.MaxDigits {
		return f.invalid("Ensure that there are no more than %d digits in total.", f.MaxDigits)
	}
	if decimals > f.DecimalPlaces {
		return f.invalid("Ensure that there are no more than %d decimal places.", f.DecimalPlaces)
	}
	if f.MaxDigits > 0 && wholeDigits > f.MaxDigits-f.DecimalPlaces {
		return f.invalid("Ensure that there are no more than %d digits before the decimal point.", f.MaxDigits-f.DecimalPlaces)
	}
	return nil
}
