package schema

import (
	"math/big"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
)

var bigTen = big.NewInt(10)

// parseDecimal parses a plain or scientific decimal string exactly.
func parseDecimal(s string) (pgtype.Numeric, bool) {
	s = strings.TrimSpace(s)
	if !numericRegex.MatchString(s) {
		return pgtype.Numeric{}, false
	}

	var exp int64
	if i := strings.IndexAny(s, "eE"); i >= 0 {
		e, err := strconv.ParseInt(s[i+1:], 10, 32)
		if err != nil {
			return pgtype.Numeric{}, false
		}
		exp = e
		s = s[:i]
	}
	if i := strings.IndexByte(s, '.'); i >= 0 {
		exp -= int64(len(s) - i - 1)
		s = s[:i] + s[i+1:]
	}
	if s == "" || s == "+" || s == "-" {
		s += "0"
	}

	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return pgtype.Numeric{}, false
	}
	return pgtype.Numeric{Int: n, Exp: int32(exp), Valid: true}, true
}

// Quantize rounds n to the given number of decimal places using
// round-half-even, the rounding databases apply to numeric columns.
func Quantize(n pgtype.Numeric, places int) pgtype.Numeric {
	if !n.Valid || n.Int == nil || n.NaN || n.InfinityModifier != pgtype.Finite {
		return n
	}
	target := int32(-places)
	if n.Exp == target {
		return n
	}
	if n.Exp > target {
		scale := new(big.Int).Exp(bigTen, big.NewInt(int64(n.Exp-target)), nil)
		return pgtype.Numeric{Int: new(big.Int).Mul(n.Int, scale), Exp: target, Valid: true}
	}

	divisor := new(big.Int).Exp(bigTen, big.NewInt(int64(target-n.Exp)), nil)
	q, r := new(big.Int).QuoRem(n.Int, divisor, new(big.Int))

	// Compare 2*|r| with the divisor to decide the rounding direction.
	twice := new(big.Int).Mul(new(big.Int).Abs(r), big.NewInt(2))
	cmp := twice.Cmp(divisor)
	if cmp > 0 || (cmp == 0 && q.Bit(0) == 1) {
		if n.Int.Sign() < 0 {
			q.Sub(q, big.NewInt(1))
		} else {
			q.Add(q, big.NewInt(1))
		}
	}
	return pgtype.Numeric{Int: q, Exp: target, Valid: true}
}

// decimalShape reports the total and fractional digit counts of n, counted
// the way numeric column validators count them.
func decimalShape(n pgtype.Numeric) (digits, decimals int) {
	s := new(big.Int).Abs(n.Int).String()
	if s == "0" {
		s = ""
	}
	if n.Exp >= 0 {
		if s == "" {
			return 1, 0
		}
		return len(s) + int(n.Exp), 0
	}
	decimals = int(-n.Exp)
	if decimals > len(s) {
		return decimals, decimals
	}
	return len(s), decimals
}

// FormatDecimal renders a numeric in plain notation, keeping its scale.
// Invalid values render as the empty string.
func FormatDecimal(n pgtype.Numeric) string {
	if !n.Valid || n.Int == nil {
		return ""
	}
	if n.NaN {
		return "NaN"
	}

	neg := n.Int.Sign() < 0
	digits := new(big.Int).Abs(n.Int).String()

	var out string
	switch {
	case n.Exp >= 0:
		if digits == "0" {
			out = "0"
		} else {
			out = digits + strings.Repeat("0", int(n.Exp))
		}
	default:
		places := int(-n.Exp)
		if len(digits) <= places {
			digits = strings.Repeat("0", places-len(digits)+1) + digits
		}
		out = digits[:len(digits)-places] + "." + digits[len(digits)-places:]
	}
	if neg {
		out = "-" + out
	}
	return out
}

func numericToFloat(n pgtype.Numeric) (float64, bool) {
	if !n.Valid {
		return 0, false
	}
	f, err := n.Float64Value()
	if err != nil || !f.Valid {
		return 0, false
	}
	return f.Float64, true
}
