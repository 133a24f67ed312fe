package dataset

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// ParseExcel reads one sheet of an XLSX workbook.
//
// Parameters: sheet_name (name or zero-based index, default 0), header,
// skiprows, na_values, keep_default_na, dtype.
func ParseExcel(r io.Reader, p Params) (*Dataset, error) {
	opts, err := tableOptionsFrom(p)
	if err != nil {
		return nil, err
	}

	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet, err := pickSheet(f.GetSheetList(), p["sheet_name"])
	if err != nil {
		return nil, err
	}

	raw, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	return buildTable(raw, opts)
}

func pickSheet(sheets []string, want any) (string, error) {
	if len(sheets) == 0 {
		return "", fmt.Errorf("%w: workbook has no sheets", ErrInvalidParameter)
	}
	if want == nil {
		return sheets[0], nil
	}
	if name, ok := want.(string); ok {
		for _, s := range sheets {
			if s == name {
				return s, nil
			}
		}
		if _, isIndex := toInt(name); !isIndex {
			return "", fmt.Errorf("%w: worksheet named %q not found", ErrInvalidParameter, name)
		}
	}
	idx, ok := toInt(want)
	if !ok || idx < 0 || idx >= len(sheets) {
		return "", fmt.Errorf("%w: worksheet index %v is invalid, %d worksheets found", ErrInvalidParameter, want, len(sheets))
	}
	return sheets[idx], nil
}
