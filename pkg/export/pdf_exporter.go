package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
)

const pdfUsableWidth = 277.0 // A4 landscape minus 10mm margins

// PDFExporter renders datasets into a landscape tabular PDF.
type PDFExporter struct {
	now func() time.Time
}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{now: time.Now}
}

// Render creates a PDF document with a title, a header row repeated on every
// page and a generation timestamp in the footer.
func (e *PDFExporter) Render(data Dataset) ([]byte, error) {
	if len(data.Columns) == 0 {
		return nil, fmt.Errorf("pdf requires at least one column")
	}
	widths := columnWidths(data.Columns)
	generated := e.now().UTC().Format(time.RFC3339)

	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(10, 15, 10)
	pdf.SetAutoPageBreak(true, 15)
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont("Arial", "I", 8)
		pdf.CellFormat(0, 8, fmt.Sprintf("Generated %s - page %d", generated, pdf.PageNo()), "", 0, "R", false, 0, "")
	})
	pdf.SetHeaderFunc(func() {
		if data.Title != "" {
			pdf.SetFont("Arial", "B", 14)
			pdf.CellFormat(0, 10, data.Title, "", 1, "C", false, 0, "")
			pdf.Ln(2)
		}
		pdf.SetFont("Arial", "B", 9)
		pdf.SetFillColor(230, 230, 230)
		for i, col := range data.Columns {
			pdf.CellFormat(widths[i], 8, col.Label, "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
	})
	pdf.AddPage()

	pdf.SetFont("Arial", "", 8)
	for _, row := range data.Rows {
		for i := range data.Columns {
			value := ""
			if i < len(row) {
				value = row[i]
			}
			pdf.CellFormat(widths[i], 7, value, "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func columnWidths(columns []Column) []float64 {
	widths := make([]float64, len(columns))
	fixed, flexible := 0.0, 0
	for _, col := range columns {
		if col.Width > 0 {
			fixed += col.Width
		} else {
			flexible++
		}
	}
	share := 0.0
	if flexible > 0 && fixed < pdfUsableWidth {
		share = (pdfUsableWidth - fixed) / float64(flexible)
	}
	for i, col := range columns {
		if col.Width > 0 {
			widths[i] = col.Width
		} else {
			widths[i] = share
		}
	}
	return widths
}
