package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// Column describes one exported field. Width is the PDF column width in
// millimetres; zero shares the remaining page width evenly.
type Column struct {
	Label string
	Width float64
}

// Dataset defines tabular export content. Each row holds one value per column.
type Dataset struct {
	Title   string
	Columns []Column
	Rows    [][]string
}

// CSVExporter renders Dataset records into CSV bytes.
type CSVExporter struct{}

// NewCSVExporter builds a CSV exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// Render produces CSV encoded bytes for the dataset.
func (e *CSVExporter) Render(data Dataset) ([]byte, error) {
	if len(data.Columns) == 0 {
		return nil, fmt.Errorf("csv requires at least one column")
	}
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)

	header := make([]string, len(data.Columns))
	for i, col := range data.Columns {
		header[i] = col.Label
	}
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("write csv headers: %w", err)
	}
	for i, row := range data.Rows {
		if len(row) != len(data.Columns) {
			return nil, fmt.Errorf("csv row %d has %d values, want %d", i, len(row), len(data.Columns))
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
