package report

import (
	"context"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"

	"github.com/trezcool/mahudhurio/core/attendance"
)

const sheetName = "Attendance Report"

var statusFills = map[string]string{
	string(attendance.StatusPresent): "C6EFCE",
	string(attendance.StatusLate):    "FFEB9C",
	string(attendance.StatusAbsent):  "FFC7CE",
	string(attendance.StatusExcused): "BDD7EE",
}

// exportExcel writes the same tabular content as CSV plus sheet formatting
// (frozen header row, status color fills). Styling failures degrade to an
// unstyled sheet rather than failing the export.
func exportExcel(ctx context.Context, name string, header []string, rows [][]string) (File, error) {
	f := excelize.NewFile()
	f.SetSheetName("Sheet1", sheetName)

	for col, value := range header {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return File{}, errors.Wrap(err, "computing header cell")
		}
		if err = f.SetCellValue(sheetName, cell, value); err != nil {
			return File{}, errors.Wrap(err, "writing header cell")
		}
	}
	for i, row := range rows {
		if err := checkDeadline(ctx); err != nil {
			return File{}, err
		}
		for col, value := range row {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return File{}, errors.Wrap(err, "computing cell")
			}
			if err = f.SetCellValue(sheetName, cell, value); err != nil {
				return File{}, errors.Wrap(err, "writing cell")
			}
		}
	}

	style(f, header, rows)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return File{}, errors.Wrap(err, "serializing workbook")
	}
	return File{
		Name:        name + ".xlsx",
		ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		Data:        buf.Bytes(),
	}, nil
}

// style applies header and status formatting, bailing out silently on the
// first styling error: content wins over looks.
func style(f *excelize.File, header []string, rows [][]string) {
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"D7E4BC"}, Pattern: 1},
	})
	if err != nil {
		return
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return
	}
	if err = f.SetCellStyle(sheetName, "A1", last, headerStyle); err != nil {
		return
	}

	// freeze the header row
	_ = f.SetPanes(sheetName, `{"freeze":true,"split":false,"x_split":0,"y_split":1,"top_left_cell":"A2","active_pane":"bottomLeft"}`)

	// status color-coding
	fillStyles := make(map[string]int, len(statusFills))
	for status, color := range statusFills {
		id, err := f.NewStyle(&excelize.Style{
			Fill: excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
		})
		if err != nil {
			return
		}
		fillStyles[status] = id
	}
	for i, row := range rows {
		for col, value := range row {
			id, ok := fillStyles[value]
			if !ok {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return
			}
			if err = f.SetCellStyle(sheetName, cell, cell, id); err != nil {
				return
			}
		}
	}
}
