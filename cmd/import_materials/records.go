package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/xuri/excelize/v2"
)

var cleanWhitespace = regexp.MustCompile(`\s+`)

// Column headers recognised in import files, matched case-insensitively.
var headerAliases = map[string]string{
	"name":          "name",
	"material":      "name",
	"material name": "name",
	"sku":           "sku",
	"code":          "sku",
	"category":      "category",
	"vendor":        "vendor",
	"supplier":      "vendor",
	"total cost":    "total_cost",
	"cost":          "total_cost",
	"price":         "total_cost",
	"quantity":      "quantity",
	"qty":           "quantity",
	"unit":          "unit",
	"notes":         "notes",
}

// record is one data row keyed by canonical column name.
type record struct {
	Row    int
	Fields map[string]string
}

func (r record) get(key string) string {
	return r.Fields[key]
}

// readRecords loads a .csv or .xlsx file. Spreadsheets are read from their
// first sheet.
func readRecords(path string) ([]record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return readXLSX(file)
	default:
		return readCSV(file)
	}
}

func readCSV(r io.Reader) ([]record, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	return toRecords(rows)
}

func readXLSX(r io.Reader) ([]record, error) {
	workbook, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer workbook.Close()

	sheets := workbook.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	rows, err := workbook.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return toRecords(rows)
}

func toRecords(rows [][]string) ([]record, error) {
	if len(rows) == 0 {
		return nil, errors.New("file is empty")
	}

	header := make([]string, len(rows[0]))
	hasName := false
	for idx, raw := range rows[0] {
		key := headerAliases[strings.ToLower(normalizeText(raw))]
		header[idx] = key
		hasName = hasName || key == "name"
	}
	if !hasName {
		return nil, errors.New("header row has no name column")
	}

	records := make([]record, 0, len(rows)-1)
	for idx, row := range rows[1:] {
		fields := make(map[string]string, len(header))
		empty := true
		for col, key := range header {
			if key == "" || col >= len(row) {
				continue
			}
			value := normalizeText(row[col])
			fields[key] = value
			empty = empty && value == ""
		}
		if empty {
			continue
		}
		// Row numbers are 1-based and count the header.
		records = append(records, record{Row: idx + 2, Fields: fields})
	}
	return records, nil
}

func normalizeText(value string) string {
	value = strings.TrimSpace(value)
	if strings.EqualFold(value, "N/A") {
		return ""
	}
	return strings.TrimSpace(cleanWhitespace.ReplaceAllString(value, " "))
}
