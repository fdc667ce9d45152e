package excel

import "strings"

// Table is a raw sheet: trimmed headers and string cells, row-major
type Table struct {
	Headers []string
	Rows    [][]string
	index   map[string]int
}

func newTable(headers []string, rows [][]string) *Table {
	t := &Table{Headers: headers, Rows: rows, index: make(map[string]int, len(headers))}
	for i, h := range headers {
		if _, dup := t.index[h]; !dup {
			t.index[h] = i
		}
	}
	return t
}

// Column returns the index of a header, matched case-insensitively when no exact match exists
func (t *Table) Column(name string) (int, bool) {
	if i, ok := t.index[name]; ok {
		return i, true
	}
	for i, h := range t.Headers {
		if strings.EqualFold(h, name) {
			return i, true
		}
	}
	return -1, false
}

// Cell returns the trimmed cell or "" for short rows
func (t *Table) Cell(row, col int) string {
	r := t.Rows[row]
	if col < 0 || col >= len(r) {
		return ""
	}
	return r[col]
}
