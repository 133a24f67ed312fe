// Package dataset parses tabular sources (CSV, TSV, Excel, JSON) into an
// in-memory columns x rows structure.
//
// Parsers are selected by format name and receive their parameters
// verbatim from the import options, e.g. {"delimiter": ";", "header": null}.
package dataset

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"sort"
	"sync"
)

var (
	// ErrUnsupportedFormat is returned for format names without a parser.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrInvalidParameter is returned for parser parameters that cannot be honored.
	ErrInvalidParameter = errors.New("invalid parser parameter")
)

// Dataset is a parsed table.
type Dataset struct {
	Columns []string
	Records [][]any

	// HeaderDetected is false when the parser was told there is no header
	// row, in which case Columns holds positional placeholders.
	HeaderDetected bool
}

// Len returns the number of data rows.
func (d *Dataset) Len() int { return len(d.Records) }

// Row returns record i keyed by column name.
func (d *Dataset) Row(i int) map[string]any {
	rec := d.Records[i]
	row := make(map[string]any, len(d.Columns))
	for j, col := range d.Columns {
		if j < len(rec) {
			row[col] = rec[j]
		} else {
			row[col] = nil
		}
	}
	return row
}

// Rows iterates rows in dataset order.
func (d *Dataset) Rows() iter.Seq2[int, map[string]any] {
	return func(yield func(int, map[string]any) bool) {
		for i := range d.Records {
			if !yield(i, d.Row(i)) {
				return
			}
		}
	}
}

// ApplyHeaders overwrites column names positionally. Extra headers are
// ignored and columns beyond the list keep their names.
func ApplyHeaders(d *Dataset, headers []string) {
	for i := 0; i < len(headers) && i < len(d.Columns); i++ {
		d.Columns[i] = headers[i]
	}
	d.HeaderDetected = true
}

// SynthesizeHeaders names columns "0001", "0002", ... in column order.
func SynthesizeHeaders(d *Dataset) {
	for i := range d.Columns {
		d.Columns[i] = fmt.Sprintf("%04d", i+1)
	}
}

// Params are parser parameters decoded from the import options.
type Params map[string]any

// Parser decodes a source into a Dataset.
type Parser interface {
	Parse(r io.Reader, p Params) (*Dataset, error)
}

// ParserFunc adapts a function to the Parser interface.
type ParserFunc func(r io.Reader, p Params) (*Dataset, error)

// Parse calls f(r, p).
func (f ParserFunc) Parse(r io.Reader, p Params) (*Dataset, error) { return f(r, p) }

// Registry maps format names to parsers.
type Registry struct {
	mu      sync.RWMutex
	parsers map[string]Parser
}

// NewRegistry returns a registry with the builtin formats:
// csv, table (tab separated), excel and json.
func NewRegistry() *Registry {
	return &Registry{parsers: map[string]Parser{
		"csv":   ParserFunc(ParseCSV),
		"table": ParserFunc(ParseTable),
		"excel": ParserFunc(ParseExcel),
		"json":  ParserFunc(ParseJSON),
	}}
}

// Register binds a parser to a format name, replacing any existing one.
func (r *Registry) Register(format string, p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers[format] = p
}

// Parser returns the parser for format.
func (r *Registry) Parser(format string) (Parser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.parsers[format]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	return p, nil
}

// Formats returns the registered format names, sorted.
func (r *Registry) Formats() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.parsers))
	for name := range r.parsers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
