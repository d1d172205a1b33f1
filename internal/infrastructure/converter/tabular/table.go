package tabular

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
)

type table struct {
	sheet string
	rows  [][]string
	cells int
}

func (t *table) add(row []string, maxCells int) error {
	t.cells += len(row)
	if t.cells > maxCells {
		return fmt.Errorf("%w: more than %d cells", errTooManyCell, maxCells)
	}
	t.rows = append(t.rows, row)
	return nil
}

func readCSV(data []byte, delim rune, maxCells int) (*table, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: csv is not utf-8", errCorrupt)
	}
	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = delim
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	t := &table{}
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return t, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errCorrupt, err)
		}
		if err := t.add(rec, maxCells); err != nil {
			return nil, err
		}
	}
}

func readXLSX(data []byte, sheet string, maxCells int) (*table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errCorrupt, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", errCorrupt)
	}
	if sheet == "" {
		sheet = sheets[0]
	} else if !slices.Contains(sheets, sheet) {
		return nil, fmt.Errorf("%w: %q", errNoSheet, sheet)
	}

	rows, err := f.Rows(sheet)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errCorrupt, err)
	}
	defer rows.Close()

	t := &table{sheet: sheet}
	for rows.Next() {
		cols, err := rows.Columns()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errCorrupt, err)
		}
		if err := t.add(cols, maxCells); err != nil {
			return nil, err
		}
	}
	if err := rows.Error(); err != nil {
		return nil, fmt.Errorf("%w: %v", errCorrupt, err)
	}
	return t, nil
}

func writeCSV(t *table, delim rune) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = delim
	if err := w.WriteAll(t.rows); err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}
	return buf.Bytes(), nil
}

func writeXLSX(t *table) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	name := t.sheet
	if name == "" {
		name = "Sheet1"
	}
	if name != "Sheet1" {
		if err := f.SetSheetName("Sheet1", name); err != nil {
			return nil, fmt.Errorf("name sheet: %w", err)
		}
	}
	sw, err := f.NewStreamWriter(name)
	if err != nil {
		return nil, fmt.Errorf("open stream writer: %w", err)
	}
	for i, row := range t.rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return nil, fmt.Errorf("cell name: %w", err)
		}
		values := make([]any, len(row))
		for j, v := range row {
			values[j] = cellValue(v)
		}
		if err := sw.SetRow(cell, values); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return nil, fmt.Errorf("flush sheet: %w", err)
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// cellValue keeps plain integers and decimals numeric in the workbook.
func cellValue(v string) any {
	if v == "" || strings.TrimSpace(v) != v {
		return v
	}
	if len(v) > 1 && v[0] == '0' && v[1] != '.' {
		return v
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil && !strings.ContainsAny(v, "eEnN") {
		return f
	}
	return v
}

// writeJSON emits one object per data row keyed by the header row.
func writeJSON(t *table) ([]byte, error) {
	if len(t.rows) == 0 {
		return []byte("[]\n"), nil
	}
	header := headerKeys(t.rows)
	records := make([]map[string]string, 0, len(t.rows)-1)
	for _, row := range t.rows[1:] {
		rec := make(map[string]string, len(header))
		for i, key := range header {
			if i < len(row) {
				rec[key] = row[i]
			} else {
				rec[key] = ""
			}
		}
		records = append(records, rec)
	}
	out, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return append(out, '\n'), nil
}

func headerKeys(rows [][]string) []string {
	width := 0
	for _, r := range rows {
		width = max(width, len(r))
	}
	seen := make(map[string]bool, width)
	keys := make([]string, width)
	for i := range width {
		key := ""
		if i < len(rows[0]) {
			key = strings.TrimSpace(rows[0][i])
		}
		for n := i + 1; key == "" || seen[key]; n++ {
			key = fmt.Sprintf("column_%d", n)
		}
		seen[key] = true
		keys[i] = key
	}
	return keys
}

func writeHTML(t *table) []byte {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n</head>\n<body>\n<table>\n")
	for i, row := range t.rows {
		tag := "td"
		if i == 0 {
			tag = "th"
			b.WriteString("<thead>\n")
		} else if i == 1 {
			b.WriteString("<tbody>\n")
		}
		b.WriteString("<tr>")
		for _, v := range row {
			fmt.Fprintf(&b, "<%s>%s</%s>", tag, html.EscapeString(v), tag)
		}
		b.WriteString("</tr>\n")
		if i == 0 {
			b.WriteString("</thead>\n")
		}
	}
	if len(t.rows) > 1 {
		b.WriteString("</tbody>\n")
	}
	b.WriteString("</table>\n</body>\n</html>\n")
	return []byte(b.String())
}
