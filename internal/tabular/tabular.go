// Package tabular reads the CSV and XLSX inputs of a program into rows of
// strings with a header lookup.
package tabular

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
)

// ErrEmpty is returned when a table has no header row.
var ErrEmpty = errors.New("table has no header row")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Table is a header row plus data rows.
type Table struct {
	Header []string
	Rows   [][]string

	cols map[string]int
}

// ReadCSV parses UTF-8 CSV with an optional BOM. Rows with a different field
// count than the header are an error.
func ReadCSV(data []byte) (*Table, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		return nil, errors.New("csv is not valid UTF-8")
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	return fromRecords(records)
}

// ReadFirstSheet returns the rows of the first worksheet of an XLSX file.
// Short rows are padded to the header width.
func ReadFirstSheet(data []byte) (*Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("xlsx has no sheets")
	}
	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}

	t, err := fromRecords(records)
	if err != nil {
		return nil, err
	}
	for i, row := range t.Rows {
		if len(row) < len(t.Header) {
			padded := make([]string, len(t.Header))
			copy(padded, row)
			t.Rows[i] = padded
		}
	}
	return t, nil
}

func fromRecords(records [][]string) (*Table, error) {
	if len(records) == 0 {
		return nil, ErrEmpty
	}
	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.TrimSpace(h)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(h)
		if _, ok := cols[key]; !ok {
			cols[key] = i
		}
	}
	return &Table{Header: header, Rows: records[1:], cols: cols}, nil
}

// Columns maps lower-cased header names to their index.
func (t *Table) Columns() map[string]int {
	return t.cols
}

// Missing returns the required columns absent from the header, compared
// case-insensitively.
func (t *Table) Missing(required []string) []string {
	cols := t.Columns()
	var missing []string
	for _, name := range required {
		if _, ok := cols[strings.ToLower(name)]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// Records returns each row as a map keyed by the original header names.
func (t *Table) Records() []map[string]string {
	out := make([]map[string]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		rec := make(map[string]string, len(t.Header))
		for i, h := range t.Header {
			if h == "" || i >= len(row) {
				continue
			}
			rec[h] = strings.TrimSpace(row[i])
		}
		out = append(out, rec)
	}
	return out
}

// Value returns the cell of row under column name, or "".
func (t *Table) Value(row []string, name string) string {
	i, ok := t.Columns()[strings.ToLower(name)]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
