package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// ParseCSV reads delimited text.
//
// Parameters: delimiter (alias sep, default ","), header, skiprows,
// encoding, quotechar (only '"'), skipinitialspace, comment, na_values,
// keep_default_na, dtype ("str" disables type inference), decimal.
func ParseCSV(r io.Reader, p Params) (*Dataset, error) {
	return parseDelimited(r, p, ",")
}

// ParseTable is ParseCSV with a tab as the default delimiter.
func ParseTable(r io.Reader, p Params) (*Dataset, error) {
	return parseDelimited(r, p, "\t")
}

func parseDelimited(r io.Reader, p Params, defaultDelimiter string) (*Dataset, error) {
	opts, err := tableOptionsFrom(p)
	if err != nil {
		return nil, err
	}

	src, err := decodeSource(r, p)
	if err != nil {
		return nil, err
	}

	cr := csv.NewReader(NewBOMSkipper(src))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = p.bool("skipinitialspace", false)

	if cr.Comma, err = singleRune(p, defaultDelimiter, "delimiter", "sep"); err != nil {
		return nil, err
	}
	if q, ok := p.string("quotechar"); ok && q != `"` {
		return nil, fmt.Errorf("%w: quotechar %q is not supported", ErrInvalidParameter, q)
	}
	if c, ok := p.string("comment"); ok && c != "" {
		if cr.Comment, err = singleRune(p, "", "comment"); err != nil {
			return nil, err
		}
	}

	raw, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return buildTable(raw, opts)
}

func singleRune(p Params, def string, keys ...string) (rune, error) {
	value := def
	for _, key := range keys {
		if s, ok := p.string(key); ok {
			value = s
			break
		}
	}
	if value == `\t` {
		value = "\t"
	}
	if utf8.RuneCountInString(value) != 1 {
		return 0, fmt.Errorf("%w: %s must be a single character, got %q", ErrInvalidParameter, keys[0], value)
	}
	r, _ := utf8.DecodeRuneInString(value)
	return r, nil
}

// decodeSource converts the named encoding to UTF-8. UTF-8 sources pass
// through unchanged.
func decodeSource(r io.Reader, p Params) (io.Reader, error) {
	name, ok := p.string("encoding")
	if !ok {
		return r, nil
	}
	switch strings.ToLower(strings.ReplaceAll(name, "_", "-")) {
	case "", "utf-8", "utf8", "utf-8-sig":
		return r, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown encoding %q", ErrInvalidParameter, name)
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}
