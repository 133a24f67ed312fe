package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

// ParseJSON reads a JSON document.
//
// Parameters: orient, one of
//
//	records  [{"col": v, ...}, ...]         (default for arrays of objects)
//	values   [[v, ...], ...]                (default for arrays of arrays, no header)
//	split    {"columns": [...], "data": [[...], ...]}
//	columns  {"col": {"row": v, ...}, ...} (default for other objects)
//
// Columns keep first-seen order.
func ParseJSON(r io.Reader, p Params) (*Dataset, error) {
	data, err := io.ReadAll(NewBOMSkipper(r))
	if err != nil {
		return nil, fmt.Errorf("read json: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("read json: empty document")
	}

	orient, _ := p.string("orient")
	if orient == "" {
		orient, err = guessOrient(data)
		if err != nil {
			return nil, err
		}
	}

	switch orient {
	case "records":
		return jsonRecords(data)
	case "values":
		return jsonValues(data)
	case "split":
		return jsonSplit(data)
	case "columns":
		return jsonColumns(data)
	}
	return nil, fmt.Errorf("%w: orient %q is not supported", ErrInvalidParameter, orient)
}

func guessOrient(data []byte) (string, error) {
	switch data[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return "", fmt.Errorf("read json: %w", err)
		}
		for _, item := range items {
			if t := bytes.TrimSpace(item); len(t) > 0 && t[0] == '[' {
				return "values", nil
			}
		}
		return "records", nil
	case '{':
		keys, _, err := decodeObject(data)
		if err != nil {
			return "", err
		}
		hasColumns, hasData := false, false
		for _, k := range keys {
			hasColumns = hasColumns || k == "columns"
			hasData = hasData || k == "data"
		}
		if hasColumns && hasData {
			return "split", nil
		}
		return "columns", nil
	}
	return "", fmt.Errorf("read json: expected an array or object")
}

func jsonRecords(data []byte) (*Dataset, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("read json records: %w", err)
	}

	ds := &Dataset{Columns: []string{}, HeaderDetected: true}
	index := make(map[string]int)
	objects := make([]map[string]any, 0, len(items))
	for _, item := range items {
		keys, values, err := decodeObject(item)
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			if _, ok := index[k]; !ok {
				index[k] = len(ds.Columns)
				ds.Columns = append(ds.Columns, k)
			}
		}
		objects = append(objects, values)
	}

	ds.Records = make([][]any, len(objects))
	for i, obj := range objects {
		rec := make([]any, len(ds.Columns))
		for k, v := range obj {
			rec[index[k]] = v
		}
		ds.Records[i] = rec
	}
	return ds, nil
}

func jsonValues(data []byte) (*Dataset, error) {
	var rows [][]any
	if err := decodeNumbers(data, &rows); err != nil {
		return nil, fmt.Errorf("read json values: %w", err)
	}
	width := 0
	for _, row := range rows {
		width = max(width, len(row))
	}
	ds := &Dataset{Columns: columnNames(nil, width, false), Records: make([][]any, len(rows))}
	for i, row := range rows {
		rec := make([]any, width)
		for j, v := range row {
			rec[j] = normalize(v)
		}
		ds.Records[i] = rec
	}
	return ds, nil
}

func jsonSplit(data []byte) (*Dataset, error) {
	var doc struct {
		Columns []any   `json:"columns"`
		Data    [][]any `json:"data"`
	}
	if err := decodeNumbers(data, &doc); err != nil {
		return nil, fmt.Errorf("read json split: %w", err)
	}

	header := make([]string, len(doc.Columns))
	for i, c := range doc.Columns {
		header[i] = textOfJSON(c)
	}
	ds := &Dataset{Columns: columnNames(header, len(header), true), HeaderDetected: true}
	ds.Records = make([][]any, len(doc.Data))
	for i, row := range doc.Data {
		if len(row) > len(header) {
			return nil, fmt.Errorf("read json split: row %d has %d values for %d columns", i, len(row), len(header))
		}
		rec := make([]any, len(header))
		for j, v := range row {
			rec[j] = normalize(v)
		}
		ds.Records[i] = rec
	}
	return ds, nil
}

func jsonColumns(data []byte) (*Dataset, error) {
	cols, raws, err := decodeRawObject(data)
	if err != nil {
		return nil, err
	}

	var rowKeys []string
	rowIndex := make(map[string]int)
	cells := make(map[string]map[string]any, len(cols))
	for _, col := range cols {
		keys, vals, err := decodeObject(raws[col])
		if err != nil {
			return nil, fmt.Errorf("read json columns: column %q: %w", col, err)
		}
		for _, k := range keys {
			if _, ok := rowIndex[k]; !ok {
				rowIndex[k] = len(rowKeys)
				rowKeys = append(rowKeys, k)
			}
		}
		cells[col] = vals
	}

	ds := &Dataset{Columns: cols, HeaderDetected: true, Records: make([][]any, len(rowKeys))}
	for i, rk := range rowKeys {
		rec := make([]any, len(cols))
		for j, col := range cols {
			rec[j] = cells[col][rk]
		}
		ds.Records[i] = rec
	}
	return ds, nil
}

// decodeObject returns an object's keys in document order with their values.
func decodeObject(data []byte) ([]string, map[string]any, error) {
	keys, raws, err := decodeRawObject(data)
	if err != nil {
		return nil, nil, err
	}
	values := make(map[string]any, len(raws))
	for k, raw := range raws {
		var v any
		if err := decodeNumbers(raw, &v); err != nil {
			return nil, nil, fmt.Errorf("read json: %w", err)
		}
		values[k] = normalize(v)
	}
	return keys, values, nil
}

func decodeRawObject(data []byte) ([]string, map[string]json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return nil, nil, fmt.Errorf("read json: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, nil, fmt.Errorf("read json: expected an object, got %v", tok)
	}

	var keys []string
	raws := make(map[string]json.RawMessage)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, fmt.Errorf("read json: %w", err)
		}
		key := tok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, nil, fmt.Errorf("read json: %w", err)
		}
		if _, dup := raws[key]; !dup {
			keys = append(keys, key)
		}
		raws[key] = raw
	}
	return keys, raws, nil
}

func decodeNumbers(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// normalize turns json.Number into int64 when integral, otherwise float64.
func normalize(v any) any {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		f, _ := x.Float64()
		return f
	case []any:
		for i := range x {
			x[i] = normalize(x[i])
		}
		return x
	case map[string]any:
		for k := range x {
			x[k] = normalize(x[k])
		}
		return x
	}
	return v
}

func textOfJSON(v any) string {
	switch x := normalize(v).(type) {
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}
