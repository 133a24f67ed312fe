package schema

// convert.go turns loosely typed cell values into the canonical values
// stored for each field kind.
//
// These functions handle the messy reality of user-provided tabular data:
//   - Multiple date formats (US, EU, ISO, etc.)
//   - Currency symbols and accounting negatives in numbers
//   - Various boolean representations (yes/no, true/false, 1/0)
//
// Thousands separators are deliberately NOT stripped from numbers: a comma
// is a decimal separator in many locales, so "54,333" must be normalized
// explicitly (for example with a replace reflection) before it is stored.

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// numericRegex validates that a string is a valid numeric format after cleanup.
// Matches integers, decimals, and scientific notation.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// TwoDigitYearPivot defines how 2-digit years are interpreted.
// Years that would result in dates more than this many years in the future
// are assumed to be in the previous century.
var TwoDigitYearPivot = 20

// Date layouts split by year format for proper 2-digit year handling
var (
	twoDigitYearLayouts = []string{
		"1/2/06", "01/02/06", "1-2-06", "1.2.06", "01.02.06",
	}
	fourDigitYearLayouts = []string{
		"2006-01-02", "2006/01/02", "2006.01.02",
		"1/2/2006", "01/02/2006", "1-2-2006", "01-02-2006", "1.2.2006", "01.02.2006",
		"Jan 2, 2006", "2 Jan 2006",
		"20060102",
	}
	dateTimeLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
	}
)

// ToPgDate converts a string to pgtype.Date.
// Supports multiple date formats and handles 2-digit years with pivot.
func ToPgDate(s string) pgtype.Date {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Date{Valid: false}
	}

	// Try 4-digit year layouts first (unambiguous)
	for _, layout := range fourDigitYearLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return pgtype.Date{Time: t, Valid: true}
		}
	}

	currentYear := time.Now().Year()
	pivotYear := currentYear + TwoDigitYearPivot

	for _, layout := range twoDigitYearLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			if t.Year() > pivotYear {
				t = t.AddDate(-100, 0, 0)
			}
			return pgtype.Date{Time: t, Valid: true}
		}
	}

	return pgtype.Date{Valid: false}
}

// ToPgTimestamp converts a string to pgtype.Timestamptz.
// Date-only values are accepted and interpreted as midnight UTC.
func ToPgTimestamp(s string) pgtype.Timestamptz {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Timestamptz{Valid: false}
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return pgtype.Timestamptz{Time: t, Valid: true}
		}
	}
	if d := ToPgDate(s); d.Valid {
		return pgtype.Timestamptz{Time: d.Time, Valid: true}
	}
	return pgtype.Timestamptz{Valid: false}
}

// ToPgNumeric converts a string to pgtype.Numeric.
// Handles currency symbols and accounting format (parentheses for negative).
func ToPgNumeric(s string) pgtype.Numeric {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Numeric{Valid: false}
	}

	isNegative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		isNegative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, "€", "") // Euro
	s = strings.ReplaceAll(s, "£", "") // Pound
	s = strings.TrimSpace(s)

	if isNegative {
		s = "-" + s
	}

	n, ok := parseDecimal(s)
	if !ok {
		return pgtype.Numeric{Valid: false}
	}
	return n
}

// ToPgBool converts a string to pgtype.Bool.
// Accepts various representations: true/false, yes/no, t/f, y/n, 1/0.
func ToPgBool(s string) pgtype.Bool {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return pgtype.Bool{Valid: false}
	}

	switch s {
	case "true", "t", "yes", "y", "1":
		return pgtype.Bool{Bool: true, Valid: true}
	case "false", "f", "no", "n", "0":
		return pgtype.Bool{Bool: false, Valid: true}
	default:
		return pgtype.Bool{Valid: false}
	}
}

// asString renders a scalar the way it would appear in a text column.
func asString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case pgtype.Numeric:
		return FormatDecimal(x)
	case time.Time:
		return x.Format(time.RFC3339)
	case Identifier:
		return strconv.FormatInt(x.PrimaryKey(), 10)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(v)
	}
}

// asInt64 converts integral values. Floats are truncated toward zero.
func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint:
		return int64(x), true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		return int64(x), true
	case float32:
		return int64(x), true
	case float64:
		return int64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case pgtype.Numeric:
		f, ok := numericToFloat(x)
		return int64(f), ok
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		return n, err == nil
	}
	return 0, false
}

// asFloat64 converts numeric values and numeric strings.
func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case pgtype.Numeric:
		return numericToFloat(x)
	case string:
		s := strings.TrimSpace(x)
		if !numericRegex.MatchString(s) {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	}
	if n, ok := asInt64(v); ok {
		return float64(n), true
	}
	return 0, false
}

// asNumeric converts numbers and numeric strings to an unquantized decimal.
func asNumeric(v any) (pgtype.Numeric, bool) {
	switch x := v.(type) {
	case pgtype.Numeric:
		return x, x.Valid
	case float64:
		return parseDecimal(strconv.FormatFloat(x, 'f', -1, 64))
	case float32:
		return parseDecimal(strconv.FormatFloat(float64(x), 'f', -1, 32))
	case string:
		n := ToPgNumeric(x)
		return n, n.Valid
	}
	if n, ok := asInt64(v); ok {
		return parseDecimal(strconv.FormatInt(n, 10))
	}
	return pgtype.Numeric{}, false
}

// asTime converts time values and date strings.
func asTime(v any, dateOnly bool) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		if dateOnly {
			return time.Date(x.Year(), x.Month(), x.Day(), 0, 0, 0, 0, time.UTC), true
		}
		return x, true
	case string:
		if dateOnly {
			d := ToPgDate(x)
			return d.Time, d.Valid
		}
		ts := ToPgTimestamp(x)
		return ts.Time, ts.Valid
	}
	return time.Time{}, false
}

// asBool converts booleans, numbers and the usual string spellings.
func asBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case string:
		b := ToPgBool(x)
		return b.Bool, b.Valid
	}
	if n, ok := asInt64(v); ok && (n == 0 || n == 1) {
		return n == 1, true
	}
	return false, false
}
