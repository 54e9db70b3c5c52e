package report

import (
	"bytes"
	"context"

	"github.com/jung-kurt/gofpdf"
	"github.com/pkg/errors"
)

const (
	pdfFontSize   = 8
	pdfRowHeight  = 6.0
	pdfFixedCols  = 2  // identifying columns repeated on every page
	pdfMaxDataCol = 10 // data columns per page beyond the fixed ones
)

// exportPDF renders the table on landscape A4 pages. Wide matrices are split
// vertically: the identifying columns repeat on each chunk so every page
// stands on its own.
func exportPDF(ctx context.Context, name, title, subtitle string, header []string, rows [][]string) (File, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetAutoPageBreak(true, 15)

	chunks := chunkColumns(len(header))
	for _, chunk := range chunks {
		pdf.AddPage()
		writePageHeader(pdf, title, subtitle)
		writeTableHeader(pdf, pick(header, chunk))
		for _, row := range rows {
			if err := checkDeadline(ctx); err != nil {
				return File{}, err
			}
			writeRow(pdf, pick(row, chunk))
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return File{}, errors.Wrap(err, "rendering pdf")
	}
	return File{
		Name:        name + ".pdf",
		ContentType: "application/pdf",
		Data:        buf.Bytes(),
	}, nil
}

// chunkColumns partitions column indices into page-sized groups. Narrow
// tables fit in one chunk; wider ones repeat the first pdfFixedCols columns.
func chunkColumns(n int) [][]int {
	if n <= pdfFixedCols+pdfMaxDataCol {
		all := make([]int, n)
		for i := range all {
			all[i] = i
		}
		return [][]int{all}
	}
	var chunks [][]int
	for start := pdfFixedCols; start < n; start += pdfMaxDataCol {
		end := start + pdfMaxDataCol
		if end > n {
			end = n
		}
		chunk := make([]int, 0, pdfFixedCols+end-start)
		for i := 0; i < pdfFixedCols; i++ {
			chunk = append(chunk, i)
		}
		for i := start; i < end; i++ {
			chunk = append(chunk, i)
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

func pick(row []string, idx []int) []string {
	out := make([]string, 0, len(idx))
	for _, i := range idx {
		if i < len(row) {
			out = append(out, row[i])
		} else {
			out = append(out, "")
		}
	}
	return out
}

func writePageHeader(pdf *gofpdf.Fpdf, title, subtitle string) {
	pdf.SetFont("Arial", "B", 14)
	pdf.CellFormat(0, 8, title, "", 1, "L", false, 0, "")
	if subtitle != "" {
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(0, 6, subtitle, "", 1, "L", false, 0, "")
	}
	pdf.Ln(2)
}

func writeTableHeader(pdf *gofpdf.Fpdf, cells []string) {
	pdf.SetFont("Arial", "B", pdfFontSize)
	pdf.SetFillColor(215, 228, 188)
	w := colWidth(pdf, len(cells))
	for _, c := range cells {
		pdf.CellFormat(w, pdfRowHeight, clip(c, 40), "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)
}

func writeRow(pdf *gofpdf.Fpdf, cells []string) {
	pdf.SetFont("Arial", "", pdfFontSize)
	w := colWidth(pdf, len(cells))
	for _, c := range cells {
		fill := setStatusFill(pdf, c)
		pdf.CellFormat(w, pdfRowHeight, clip(c, 40), "1", 0, "C", fill, 0, "")
	}
	pdf.Ln(-1)
}

func setStatusFill(pdf *gofpdf.Fpdf, value string) bool {
	switch value {
	case "PRESENT":
		pdf.SetFillColor(198, 239, 206)
	case "LATE":
		pdf.SetFillColor(255, 235, 156)
	case "ABSENT":
		pdf.SetFillColor(255, 199, 206)
	case "EXCUSED":
		pdf.SetFillColor(189, 215, 238)
	default:
		return false
	}
	return true
}

func colWidth(pdf *gofpdf.Fpdf, n int) float64 {
	pageW, _ := pdf.GetPageSize()
	left, _, right, _ := pdf.GetMargins()
	return (pageW - left - right) / float64(n)
}

// clip counts runes, not bytes; slicing at a byte index could split a
// multi-byte character in a name.
func clip(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
