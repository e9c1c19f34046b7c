// Package ingest turns spreadsheet-like files into ordered row mappings
// for the validators. It knows nothing about entity kinds; a row is just
// header-keyed scalar cells. Decode failures are returned as errors and
// converted to a single file_error diagnostic by the engine.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"preflight/internal/domain"
)

// DecodeFile dispatches on the file extension. CSV and XLSX/XLSM are
// supported; anything else is a decode failure.
func DecodeFile(path string) ([]domain.Row, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return DecodeCSV(f)
	case ".xlsx", ".xlsm":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return DecodeXLSX(f)
	default:
		return nil, fmt.Errorf("unsupported file format %q", filepath.Ext(path))
	}
}

// DecodeCSV reads a header row followed by data rows. Rows may be ragged;
// cells past the header width are ignored and short rows leave trailing
// columns absent. Cell values stay strings, the validators coerce them.
func DecodeCSV(r io.Reader) ([]domain.Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("empty file: no header row")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	var rows []domain.Row
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(rows)+1, err)
		}
		rows = append(rows, mapRow(header, record))
	}
	return rows, nil
}

// DecodeXLSX reads the first sheet of a workbook, first row as header.
func DecodeXLSX(r io.Reader) ([]domain.Row, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	all, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("empty sheet: no header row")
	}
	header := all[0]
	var rows []domain.Row
	for _, record := range all[1:] {
		rows = append(rows, mapRow(header, record))
	}
	return rows, nil
}

func mapRow(header, record []string) domain.Row {
	row := make(domain.Row, len(header))
	for i, col := range header {
		col = strings.TrimSpace(col)
		if col == "" || i >= len(record) {
			continue
		}
		row[col] = record[i]
	}
	return row
}
