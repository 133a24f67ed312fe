package dataset

import (
	"bytes"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
)

func openFixture(t *testing.T, name string) io.Reader {
	t.Helper()
	data, err := os.ReadFile("testdata/" + name)
	require.NoError(t, err)
	return bytes.NewReader(data)
}

func TestParseCSV_Fixture(t *testing.T) {
	ds, err := ParseCSV(openFixture(t, "test.csv"), nil)
	require.NoError(t, err)

	assert.True(t, ds.HeaderDetected)
	assert.Equal(t, []string{"name", "quantity", "weight", "price", "type", "user"}, ds.Columns)
	require.Equal(t, 2, ds.Len())

	want := [][]any{
		{"cvbncv", int64(112), 54.333, 34.12, "W", "u2"},
		{"etewrt", int64(123), 10.3, 11.11, "S", "u1"},
	}
	if diff := cmp.Diff(want, ds.Records); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestParseCSV_SemicolonDecimalComma(t *testing.T) {
	ds, err := ParseCSV(openFixture(t, "test-ru.csv"), Params{"delimiter": ";"})
	require.NoError(t, err)

	row := ds.Row(0)
	assert.Equal(t, "cvbncv", row["name"])
	assert.Equal(t, int64(112), row["quantity"])
	assert.Equal(t, "54,333", row["weight"], "decimal commas stay text by default")

	ds, err = ParseCSV(openFixture(t, "test-ru.csv"), Params{"sep": ";", "decimal": ","})
	require.NoError(t, err)
	assert.Equal(t, 54.333, ds.Row(0)["weight"])
}

func TestParseCSV_NoHeader(t *testing.T) {
	ds, err := ParseCSV(openFixture(t, "test.csv"), Params{"header": nil})
	require.NoError(t, err)

	assert.False(t, ds.HeaderDetected)
	assert.Equal(t, []string{"0", "1", "2", "3", "4", "5"}, ds.Columns)
	require.Equal(t, 3, ds.Len())
	assert.Equal(t, "name", ds.Records[0][0])
	assert.Equal(t, "112", ds.Records[1][1], "mixed column is not inferred")
}

func TestParseCSV_Options(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		params  Params
		columns []string
		records [][]any
	}{
		{
			name:    "header row index",
			input:   "junk\na,b\n1,2\n",
			params:  Params{"header": 1},
			columns: []string{"a", "b"},
			records: [][]any{{int64(1), int64(2)}},
		},
		{
			name:    "skiprows",
			input:   "junk\na,b\n1,2\n",
			params:  Params{"skiprows": 1},
			columns: []string{"a", "b"},
			records: [][]any{{int64(1), int64(2)}},
		},
		{
			name:    "short rows padded with nil",
			input:   "a,b,c\n1\n",
			columns: []string{"a", "b", "c"},
			records: [][]any{{int64(1), nil, nil}},
		},
		{
			name:    "default NA values",
			input:   "a,b\nNA,x\n,null\n",
			columns: []string{"a", "b"},
			records: [][]any{{nil, "x"}, {nil, nil}},
		},
		{
			name:    "custom NA values",
			input:   "a\n-\nv\n",
			params:  Params{"na_values": []any{"-"}},
			columns: []string{"a"},
			records: [][]any{{nil}, {"v"}},
		},
		{
			name:    "keep_default_na false",
			input:   "a\nNA\n",
			params:  Params{"keep_default_na": false},
			columns: []string{"a"},
			records: [][]any{{"NA"}},
		},
		{
			name:    "dtype str",
			input:   "a,b\n1,2.5\n",
			params:  Params{"dtype": "str"},
			columns: []string{"a", "b"},
			records: [][]any{{"1", "2.5"}},
		},
		{
			name:    "ints with missing stay ints",
			input:   "a\n1\n\"\"\n3\n",
			columns: []string{"a"},
			records: [][]any{{int64(1)}, {nil}, {int64(3)}},
		},
		{
			name:    "bool column",
			input:   "a\nTrue\nfalse\n",
			columns: []string{"a"},
			records: [][]any{{true}, {false}},
		},
		{
			name:    "duplicate and unnamed columns",
			input:   "a,a,,a.1\n1,2,3,4\n",
			columns: []string{"a", "a.1", "Unnamed: 2", "a.1.1"},
			records: [][]any{{int64(1), int64(2), int64(3), int64(4)}},
		},
		{
			name:    "bom skipped",
			input:   "\xEF\xBB\xBFa\nx\n",
			columns: []string{"a"},
			records: [][]any{{"x"}},
		},
		{
			name:    "tab delimiter escape",
			input:   "a\tb\n1\t2\n",
			params:  Params{"delimiter": `\t`},
			columns: []string{"a", "b"},
			records: [][]any{{int64(1), int64(2)}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds, err := ParseCSV(strings.NewReader(tt.input), tt.params)
			require.NoError(t, err)
			assert.Equal(t, tt.columns, ds.Columns)
			if diff := cmp.Diff(tt.records, ds.Records); diff != "" {
				t.Errorf("records mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseCSV_Errors(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		params Params
		target error
	}{
		{"long row", "a,b\n1,2,3\n", nil, nil},
		{"multi char delimiter", "a\n", Params{"delimiter": ";;"}, ErrInvalidParameter},
		{"quotechar", "a\n", Params{"quotechar": "'"}, ErrInvalidParameter},
		{"unknown encoding", "a\n", Params{"encoding": "klingon"}, ErrInvalidParameter},
		{"bad header", "a\n", Params{"header": "first"}, ErrInvalidParameter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCSV(strings.NewReader(tt.input), tt.params)
			require.Error(t, err)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
		})
	}
}

func TestParseCSV_Encoding(t *testing.T) {
	encoded, err := charmap.Windows1251.NewEncoder().String("name\nмасло\n")
	require.NoError(t, err)

	ds, err := ParseCSV(strings.NewReader(encoded), Params{"encoding": "cp1251"})
	require.NoError(t, err)
	assert.Equal(t, "масло", ds.Row(0)["name"])
}

func TestParseTable(t *testing.T) {
	ds, err := ParseTable(strings.NewReader("a\tb\nx\ty\n"), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ds.Columns)
	assert.Equal(t, map[string]any{"a": "x", "b": "y"}, ds.Row(0))
}

func writeWorkbook(t *testing.T, sheets map[string][][]any, order ...string) io.Reader {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	for i, name := range order {
		if i == 0 {
			require.NoError(t, f.SetSheetName("Sheet1", name))
		} else {
			_, err := f.NewSheet(name)
			require.NoError(t, err)
		}
		for r, row := range sheets[name] {
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			require.NoError(t, err)
			require.NoError(t, f.SetSheetRow(name, cell, &row))
		}
	}

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return bytes.NewReader(buf.Bytes())
}

func TestParseExcel(t *testing.T) {
	sheets := map[string][][]any{
		"first": {
			{"name", "quantity", "weight"},
			{"cvbncv", 112, 54.333},
			{"etewrt", 123, 10.3},
		},
		"second": {
			{"only"},
			{"x"},
		},
	}

	tests := []struct {
		name    string
		params  Params
		columns []string
		first   map[string]any
	}{
		{
			name:    "first sheet by default",
			columns: []string{"name", "quantity", "weight"},
			first:   map[string]any{"name": "cvbncv", "quantity": int64(112), "weight": 54.333},
		},
		{
			name:    "sheet by name",
			params:  Params{"sheet_name": "second"},
			columns: []string{"only"},
			first:   map[string]any{"only": "x"},
		},
		{
			name:    "sheet by index",
			params:  Params{"sheet_name": 1},
			columns: []string{"only"},
			first:   map[string]any{"only": "x"},
		},
		{
			name:    "no header",
			params:  Params{"header": nil},
			columns: []string{"0", "1", "2"},
			first:   map[string]any{"0": "name", "1": "quantity", "2": "weight"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds, err := ParseExcel(writeWorkbook(t, sheets, "first", "second"), tt.params)
			require.NoError(t, err)
			assert.Equal(t, tt.columns, ds.Columns)
			assert.Equal(t, tt.first, ds.Row(0))
		})
	}

	t.Run("missing sheet", func(t *testing.T) {
		_, err := ParseExcel(writeWorkbook(t, sheets, "first", "second"), Params{"sheet_name": "third"})
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})
}

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		params  Params
		columns []string
		records [][]any
		header  bool
	}{
		{
			name:    "records keep first seen column order",
			input:   `[{"name": "a", "qty": 1}, {"weight": 2.5, "name": "b"}]`,
			columns: []string{"name", "qty", "weight"},
			records: [][]any{{"a", int64(1), nil}, {"b", nil, 2.5}},
			header:  true,
		},
		{
			name:    "values",
			input:   `[["a", 1], ["b"]]`,
			columns: []string{"0", "1"},
			records: [][]any{{"a", int64(1)}, {"b", nil}},
		},
		{
			name:    "split",
			input:   `{"columns": ["name", "qty"], "data": [["a", 1]]}`,
			columns: []string{"name", "qty"},
			records: [][]any{{"a", int64(1)}},
			header:  true,
		},
		{
			name:    "columns",
			input:   `{"name": {"1": "a", "0": "b"}, "qty": {"0": 2}}`,
			columns: []string{"name", "qty"},
			records: [][]any{{"a", nil}, {"b", int64(2)}},
			header:  true,
		},
		{
			name:    "explicit orient",
			input:   `[{"x": null}]`,
			params:  Params{"orient": "records"},
			columns: []string{"x"},
			records: [][]any{{nil}},
			header:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds, err := ParseJSON(strings.NewReader(tt.input), tt.params)
			require.NoError(t, err)
			assert.Equal(t, tt.columns, ds.Columns)
			assert.Equal(t, tt.header, ds.HeaderDetected)
			if diff := cmp.Diff(tt.records, ds.Records); diff != "" {
				t.Errorf("records mismatch (-want +got):\n%s", diff)
			}
		})
	}

	_, err := ParseJSON(strings.NewReader(`[1]`), Params{"orient": "index"})
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestHeaders(t *testing.T) {
	t.Run("apply overwrites positionally", func(t *testing.T) {
		ds := &Dataset{Columns: []string{"0", "1", "2"}}
		ApplyHeaders(ds, []string{"name", "nop2"})
		assert.Equal(t, []string{"name", "nop2", "2"}, ds.Columns)
		assert.True(t, ds.HeaderDetected)
	})

	t.Run("apply ignores extra names", func(t *testing.T) {
		ds := &Dataset{Columns: []string{"a"}}
		ApplyHeaders(ds, []string{"x", "y", "z"})
		assert.Equal(t, []string{"x"}, ds.Columns)
	})

	t.Run("synthesize", func(t *testing.T) {
		ds := &Dataset{Columns: []string{"0", "1", "2"}}
		SynthesizeHeaders(ds)
		assert.Equal(t, []string{"0001", "0002", "0003"}, ds.Columns)
	})
}

func TestRows(t *testing.T) {
	ds := &Dataset{
		Columns: []string{"a", "b"},
		Records: [][]any{{1, 2}, {3}},
	}

	var got []map[string]any
	for i, row := range ds.Rows() {
		assert.Equal(t, len(got), i)
		got = append(got, row)
	}
	assert.Equal(t, []map[string]any{{"a": 1, "b": 2}, {"a": 3, "b": nil}}, got)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	assert.Equal(t, []string{"csv", "excel", "json", "table"}, reg.Formats())

	_, err := reg.Parser("xml")
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))

	called := false
	reg.Register("xml", ParserFunc(func(io.Reader, Params) (*Dataset, error) {
		called = true
		return &Dataset{}, nil
	}))
	p, err := reg.Parser("xml")
	require.NoError(t, err)
	_, _ = p.Parse(nil, nil)
	assert.True(t, called)
}

func TestStreamingReaders(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{"bom", append([]byte{0xEF, 0xBB, 0xBF}, "hello"...), "hello"},
		{"only bom", []byte{0xEF, 0xBB, 0xBF}, ""},
		{"partial bom kept", []byte{0xEF, 0xBB, 'a'}, "?" + "?" + "a"},
		{"invalid byte", []byte{'h', 'e', 0x80, 'l', 'o'}, "he?lo"},
		{"multibyte", []byte("прайс"), "прайс"},
		{"empty", []byte{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := WrapText(bytes.NewReader(tt.input))
			out, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(out))
			assert.Equal(t, int64(len(tt.expected)), r.BytesRead)
		})
	}
}

func TestUTF8Sanitizer_SplitRune(t *testing.T) {
	// "ж" is 0xD0 0xB6; a one byte reader forces the split path.
	r := NewUTF8Sanitizer(&oneByteReader{data: []byte("aж")})
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "aж", string(out))
}

type oneByteReader struct {
	data []byte
}

func (o *oneByteReader) Read(p []byte) (int, error) {
	if len(o.data) == 0 {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	p[0] = o.data[0]
	o.data = o.data[1:]
	return 1, nil
}
