package reporting

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/xuri/excelize/v2"
)

const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const sheetName = "Report"

// Workbook renders r as an XLSX file: a title row, the parameters, then a
// frozen header row followed by one row per result.
func Workbook(r *MeasureReport) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("delete default sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}

	row := 1
	if err := setCell(f, 1, row, r.MeasureName); err != nil {
		return nil, err
	}
	if err := setCell(f, 2, row, "generated "+r.GeneratedAt.UTC().Format("2006-01-02 15:04 MST")); err != nil {
		return nil, err
	}
	for _, p := range sortedKeys(r.Parameters) {
		row++
		if err := setCell(f, 1, row, p); err != nil {
			return nil, err
		}
		if err := setCell(f, 2, row, r.Parameters[p]); err != nil {
			return nil, err
		}
	}

	row += 2
	headerRow := row
	for col, name := range r.Columns {
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheetName, cell, name); err != nil {
			return nil, err
		}
		if err := f.SetCellStyle(sheetName, cell, cell, headerStyle); err != nil {
			return nil, err
		}
	}
	for _, result := range r.Results {
		row++
		for col, name := range r.Columns {
			if err := setCell(f, col+1, row, result[name]); err != nil {
				return nil, err
			}
		}
	}

	if len(r.Columns) > 0 {
		last, err := excelize.ColumnNumberToName(len(r.Columns))
		if err != nil {
			return nil, err
		}
		if err := f.SetColWidth(sheetName, "A", last, 22); err != nil {
			return nil, err
		}
		top, _ := excelize.CoordinatesToCellName(1, headerRow+1)
		if err := f.SetPanes(sheetName, &excelize.Panes{
			Freeze:      true,
			YSplit:      headerRow,
			TopLeftCell: top,
			ActivePane:  "bottomLeft",
		}); err != nil {
			return nil, fmt.Errorf("freeze header: %w", err)
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func setCell(f *excelize.File, col, row int, value interface{}) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return f.SetCellValue(sheetName, cell, value)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
