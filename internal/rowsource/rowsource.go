// Package rowsource turns uploaded spreadsheets into normalizer rows.
package rowsource

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/stwalsh4118/plotsync/internal/normalize"
)

// ErrUnsupportedFormat is returned for files that are neither XLSX nor CSV.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// Supported formats
const (
	FormatXLSX = "xlsx"
	FormatCSV  = "csv"
)

// FormatOf returns the format implied by a file name, or "".
func FormatOf(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX
	case ".csv", ".txt":
		return FormatCSV
	}
	return ""
}

// Read parses r according to the extension of name.
func Read(name string, r io.Reader) ([]normalize.Row, error) {
	switch FormatOf(name) {
	case FormatXLSX:
		return ReadXLSX(r)
	case FormatCSV:
		return ReadCSV(r)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(name))
}

// ReadXLSX reads the first sheet. The first non-empty row is the header.
func ReadXLSX(r io.Reader) ([]normalize.Row, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open spreadsheet: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return []normalize.Row{}, nil
	}
	grid, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheets[0], err)
	}
	return toRows(grid), nil
}

// ReadCSV reads comma or semicolon separated text. The delimiter is taken
// from the header line and a UTF-8 byte order mark is ignored.
func ReadCSV(r io.Reader) ([]normalize.Row, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = sniffDelimiter(data)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	grid, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv: %w", err)
	}
	return toRows(grid), nil
}

func sniffDelimiter(data []byte) rune {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}
	if bytes.Count(line, []byte(";")) > bytes.Count(line, []byte(",")) {
		return ';'
	}
	return ','
}

// toRows maps each data line onto the header. Blank lines are dropped and
// blank cells are left out of the row.
func toRows(grid [][]string) []normalize.Row {
	rows := []normalize.Row{}
	var header []string
	for _, line := range grid {
		if isBlank(line) {
			continue
		}
		if header == nil {
			header = make([]string, len(line))
			for i, h := range line {
				header[i] = strings.TrimSpace(h)
			}
			continue
		}
		row := make(normalize.Row, len(line))
		for i, cell := range line {
			if i >= len(header) || header[i] == "" {
				continue
			}
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}
			row[header[i]] = cell
		}
		rows = append(rows, row)
	}
	return rows
}

func isBlank(line []string) bool {
	for _, cell := range line {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
