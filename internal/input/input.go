// Package input reads the list of URLs to fetch.
package input

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// DefaultColumn is the header of the URL column.
const DefaultColumn = "url"

// Options control how the list is read.
type Options struct {
	Column string // header of the URL column
	Limit  int    // keep only the first Limit rows; 0 keeps all
}

// ReadURLs returns the URLs in file order. Duplicates are kept; the
// scheduler collapses them. .xlsx files are read from their first sheet,
// anything else is treated as CSV.
func ReadURLs(path string, opts Options) ([]string, error) {
	var rows [][]string
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		rows, err = readXLSX(path)
	default:
		rows, err = readCSV(path)
	}
	if err != nil {
		return nil, err
	}
	return selectColumn(path, rows, opts)
}

func readCSV(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	var rows [][]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read input %s: %w", path, err)
		}
		rows = append(rows, record)
	}
}

func readXLSX(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("input %s has no sheets", path)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read input %s: %w", path, err)
	}
	return rows, nil
}

func selectColumn(path string, rows [][]string, opts Options) ([]string, error) {
	column := opts.Column
	if column == "" {
		column = DefaultColumn
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("input %s is empty", path)
	}

	idx := -1
	for i, name := range rows[0] {
		if strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")), column) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("input %s has no %q column", path, column)
	}

	data := rows[1:]
	if opts.Limit > 0 && len(data) > opts.Limit {
		data = data[:opts.Limit]
	}

	urls := make([]string, 0, len(data))
	for _, row := range data {
		if idx >= len(row) {
			continue
		}
		if u := strings.TrimSpace(row[idx]); u != "" {
			urls = append(urls, u)
		}
	}
	return urls, nil
}
