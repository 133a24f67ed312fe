package schema

import (
	"testing"
	"time"
)

// ----------------------------------------------------------------------------
// ToPgNumeric Tests
// ----------------------------------------------------------------------------

func TestToPgNumeric(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantValid bool
		wantValue string
	}{
		// Valid: Basic integers
		{name: "positive integer", input: "123", wantValid: true, wantValue: "123"},
		{name: "zero", input: "0", wantValid: true, wantValue: "0"},
		{name: "negative integer", input: "-456", wantValid: true, wantValue: "-456"},

		// Valid: Decimals
		{name: "decimal number", input: "123.45", wantValid: true, wantValue: "123.45"},
		{name: "leading decimal point", input: ".99", wantValid: true, wantValue: "0.99"},
		{name: "trailing decimal point", input: "99.", wantValid: true, wantValue: "99"},
		{name: "scale is kept", input: "34.120", wantValid: true, wantValue: "34.120"},
		{name: "scientific notation", input: "1.5e2", wantValid: true, wantValue: "150"},
		{name: "negative exponent", input: "15e-3", wantValid: true, wantValue: "0.015"},

		// Valid: Currency and accounting
		{name: "dollar sign", input: "$1234.56", wantValid: true, wantValue: "1234.56"},
		{name: "euro sign", input: "€1234.56", wantValid: true, wantValue: "1234.56"},
		{name: "pound sign", input: "£1234.56", wantValid: true, wantValue: "1234.56"},
		{name: "accounting negative", input: "(12.50)", wantValid: true, wantValue: "-12.50"},
		{name: "surrounding whitespace", input: "  7.5  ", wantValid: true, wantValue: "7.5"},

		// Invalid
		{name: "empty", input: "", wantValid: false},
		{name: "whitespace only", input: "   ", wantValid: false},
		{name: "decimal comma", input: "54,333", wantValid: false},
		{name: "thousands separator", input: "1,234.56", wantValid: false},
		{name: "letters", input: "abc", wantValid: false},
		{name: "two points", input: "1.2.3", wantValid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ToPgNumeric(tt.input)
			if result.Valid != tt.wantValid {
				t.Fatalf("ToPgNumeric(%q).Valid = %v, want %v", tt.input, result.Valid, tt.wantValid)
			}
			if !tt.wantValid {
				return
			}
			if got := FormatDecimal(result); got != tt.wantValue {
				t.Errorf("ToPgNumeric(%q) = %q, want %q", tt.input, got, tt.wantValue)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// ToPgDate Tests
// ----------------------------------------------------------------------------

func TestToPgDate(t *testing.T) {
	originalPivot := TwoDigitYearPivot
	defer func() { TwoDigitYearPivot = originalPivot }()

	tests := []struct {
		name      string
		input     string
		wantValid bool
		wantYear  int
		wantMonth time.Month
		wantDay   int
	}{
		{name: "ISO format", input: "2024-01-15", wantValid: true, wantYear: 2024, wantMonth: time.January, wantDay: 15},
		{name: "ISO with slashes", input: "2024/12/31", wantValid: true, wantYear: 2024, wantMonth: time.December, wantDay: 31},
		{name: "US format", input: "3/7/2023", wantValid: true, wantYear: 2023, wantMonth: time.March, wantDay: 7},
		{name: "dotted format", input: "07.03.2023", wantValid: true, wantYear: 2023, wantMonth: time.July, wantDay: 3},
		{name: "month name", input: "Jan 2, 2006", wantValid: true, wantYear: 2006, wantMonth: time.January, wantDay: 2},
		{name: "compact", input: "20240229", wantValid: true, wantYear: 2024, wantMonth: time.February, wantDay: 29},
		{name: "two digit year past century", input: "01/15/99", wantValid: true, wantYear: 1999, wantMonth: time.January, wantDay: 15},

		{name: "empty", input: "", wantValid: false},
		{name: "garbage", input: "not a date", wantValid: false},
		{name: "invalid day", input: "2023-02-30", wantValid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToPgDate(tt.input)
			if got.Valid != tt.wantValid {
				t.Fatalf("ToPgDate(%q).Valid = %v, want %v", tt.input, got.Valid, tt.wantValid)
			}
			if !tt.wantValid {
				return
			}
			if got.Time.Year() != tt.wantYear || got.Time.Month() != tt.wantMonth || got.Time.Day() != tt.wantDay {
				t.Errorf("ToPgDate(%q) = %v, want %d-%02d-%02d",
					tt.input, got.Time, tt.wantYear, tt.wantMonth, tt.wantDay)
			}
		})
	}
}

func TestToPgTimestamp(t *testing.T) {
	tests := []struct {
		input     string
		wantValid bool
		wantHour  int
	}{
		{"2024-01-15T10:30:00Z", true, 10},
		{"2024-01-15 08:15:00", true, 8},
		{"2024-01-15", true, 0},
		{"yesterday", false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ToPgTimestamp(tt.input)
			if got.Valid != tt.wantValid {
				t.Fatalf("ToPgTimestamp(%q).Valid = %v, want %v", tt.input, got.Valid, tt.wantValid)
			}
			if tt.wantValid && got.Time.Hour() != tt.wantHour {
				t.Errorf("ToPgTimestamp(%q) hour = %d, want %d", tt.input, got.Time.Hour(), tt.wantHour)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// ToPgBool Tests
// ----------------------------------------------------------------------------

func TestToPgBool(t *testing.T) {
	tests := []struct {
		input     string
		wantValid bool
		wantBool  bool
	}{
		{"true", true, true},
		{"TRUE", true, true},
		{"yes", true, true},
		{"Y", true, true},
		{"1", true, true},
		{" t ", true, true},
		{"false", true, false},
		{"No", true, false},
		{"0", true, false},
		{"f", true, false},
		{"", false, false},
		{"maybe", false, false},
		{"2", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ToPgBool(tt.input)
			if got.Valid != tt.wantValid {
				t.Fatalf("ToPgBool(%q).Valid = %v, want %v", tt.input, got.Valid, tt.wantValid)
			}
			if got.Bool != tt.wantBool {
				t.Errorf("ToPgBool(%q) = %v, want %v", tt.input, got.Bool, tt.wantBool)
			}
		})
	}
}
