package dataset

import (
	"fmt"
	"strconv"
	"strings"
)

// defaultNA are the cell texts read as missing unless keep_default_na is false.
var defaultNA = []string{
	"", "#N/A", "#N/A N/A", "#NA", "-1.#IND", "-1.#QNAN", "-NaN", "-nan",
	"1.#IND", "1.#QNAN", "<NA>", "N/A", "NA", "NULL", "NaN", "None", "n/a", "nan", "null",
}

// tableOptions are the parameters shared by the row oriented parsers.
type tableOptions struct {
	header   int
	skipRows int
	na       map[string]bool
	infer    bool
	decimal  string
}

func tableOptionsFrom(p Params) (tableOptions, error) {
	var opts tableOptions
	var err error

	if opts.header, err = p.headerRow(); err != nil {
		return opts, err
	}
	if opts.skipRows, err = p.int("skiprows", 0); err != nil {
		return opts, err
	}

	opts.na = make(map[string]bool)
	if p.bool("keep_default_na", true) {
		for _, s := range defaultNA {
			opts.na[s] = true
		}
	}
	for _, s := range p.strings("na_values") {
		opts.na[s] = true
	}

	opts.infer = true
	if dtype, ok := p.string("dtype"); ok {
		switch dtype {
		case "str", "string", "object":
			opts.infer = false
		}
	}

	opts.decimal = "."
	if d, ok := p.string("decimal"); ok && d != "" {
		opts.decimal = d
	}
	return opts, nil
}

// buildTable turns raw text rows into a dataset: skip, header, padding,
// missing values and per-column type inference.
func buildTable(raw [][]string, opts tableOptions) (*Dataset, error) {
	if opts.skipRows > len(raw) {
		opts.skipRows = len(raw)
	}
	raw = raw[opts.skipRows:]

	ds := &Dataset{HeaderDetected: opts.header >= 0}

	var body [][]string
	var names []string
	if opts.header >= 0 {
		if opts.header >= len(raw) {
			return &Dataset{Columns: []string{}, Records: [][]any{}, HeaderDetected: true}, nil
		}
		names = raw[opts.header]
		body = raw[opts.header+1:]
	} else {
		body = raw
	}

	width := len(names)
	if opts.header < 0 {
		for _, rec := range body {
			width = max(width, len(rec))
		}
	}
	for i, rec := range body {
		if len(rec) > width {
			line := i + opts.skipRows + 1
			if opts.header >= 0 {
				line += opts.header + 1
			}
			return nil, fmt.Errorf("expected %d fields in line %d, saw %d", width, line, len(rec))
		}
	}

	ds.Columns = columnNames(names, width, opts.header >= 0)

	cells := make([][]*string, len(body))
	for i, rec := range body {
		row := make([]*string, width)
		for j := range rec {
			if opts.na[rec[j]] {
				continue
			}
			s := rec[j]
			row[j] = &s
		}
		cells[i] = row
	}

	ds.Records = make([][]any, len(body))
	for i := range ds.Records {
		ds.Records[i] = make([]any, width)
	}
	for j := 0; j < width; j++ {
		convert := textCell
		if opts.infer {
			convert = inferColumn(cells, j, opts.decimal)
		}
		for i := range cells {
			if cells[i][j] != nil {
				ds.Records[i][j] = convert(*cells[i][j])
			}
		}
	}
	return ds, nil
}

// columnNames fills unnamed columns and makes duplicates unique by suffixing
// ".1", ".2", ... Without a header the names are positional indices.
func columnNames(header []string, width int, detected bool) []string {
	names := make([]string, width)
	if !detected {
		for i := range names {
			names[i] = strconv.Itoa(i)
		}
		return names
	}

	seen := make(map[string]int, width)
	for i := range names {
		name := ""
		if i < len(header) {
			name = strings.TrimSpace(header[i])
		}
		if name == "" {
			name = fmt.Sprintf("Unnamed: %d", i)
		}
		if n, dup := seen[name]; dup {
			base := name
			for {
				n++
				candidate := fmt.Sprintf("%s.%d", base, n)
				if _, taken := seen[candidate]; !taken {
					seen[base] = n
					name = candidate
					break
				}
			}
		}
		seen[name] = 0
		names[i] = name
	}
	return names
}

func textCell(s string) any { return s }

// inferColumn picks the narrowest of int64, float64 and bool that every
// present cell of column j parses as, falling back to text.
func inferColumn(cells [][]*string, j int, decimal string) func(string) any {
	ints, floats, bools, present := true, true, true, false
	for i := range cells {
		c := cells[i][j]
		if c == nil {
			continue
		}
		present = true
		s := strings.TrimSpace(*c)
		if ints {
			if _, err := strconv.ParseInt(s, 10, 64); err != nil {
				ints = false
			}
		}
		if floats {
			if _, err := parseFloat(s, decimal); err != nil {
				floats = false
			}
		}
		if bools {
			if _, ok := parseBool(s); !ok {
				bools = false
			}
		}
		if !ints && !floats && !bools {
			break
		}
	}

	switch {
	case !present:
		return textCell
	case ints:
		return func(s string) any {
			n, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
			return n
		}
	case floats:
		return func(s string) any {
			f, _ := parseFloat(strings.TrimSpace(s), decimal)
			return f
		}
	case bools:
		return func(s string) any {
			b, _ := parseBool(strings.TrimSpace(s))
			return b
		}
	}
	return textCell
}

func parseFloat(s, decimal string) (float64, error) {
	if decimal != "." {
		if strings.Contains(s, ".") {
			return 0, strconv.ErrSyntax
		}
		s = strings.Replace(s, decimal, ".", 1)
	}
	return strconv.ParseFloat(s, 64)
}

func parseBool(s string) (bool, bool) {
	switch s {
	case "True", "TRUE", "true":
		return true, true
	case "False", "FALSE", "false":
		return false, true
	}
	return false, false
}
