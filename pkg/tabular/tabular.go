// Package tabular parses column-aligned text tables whose layout is only
// known from their header line.
//
// Tools that print fixed-width tables for humans tend to add, drop and
// reorder columns between versions. Instead of splitting on whitespace
// (which breaks on values containing spaces) the parser locates the header
// line, records the byte offset at which each known column name starts and
// slices every data line at those offsets.
//
// Parsing never fails: text without a recognizable header, or a header
// without data lines, yields zero rows.
package tabular

import (
	"sort"
	"strings"
)

// Spec describes one table layout.
type Spec struct {
	// Columns are the header tokens to probe for. Tokens absent from the
	// header are simply not reported.
	Columns []string

	// Required tokens must all appear on a line for it to be the header.
	Required []string

	// Stop tokens end the table when found on a data line, typically the
	// header of a following table.
	Stop []string

	// SkipPrefixes marks informational lines that are ignored without
	// ending the table.
	SkipPrefixes []string
}

// Column is a header token and the byte offset at which it starts.
type Column struct {
	Name   string
	Offset int
}

// Header is a located header line.
type Header struct {
	// Line is the zero-based line number of the header in the input.
	Line    int
	Columns []Column
}

// Names returns the located column names in offset order.
func (h Header) Names() []string {
	names := make([]string, len(h.Columns))
	for i, c := range h.Columns {
		names[i] = c.Name
	}
	return names
}

// Row is one data line sliced into named fields.
type Row struct {
	// Line is the zero-based line number of the row in the input.
	Line   int
	names  []string
	values map[string]string
}

// Get returns the trimmed field for column name, or "" if the column was not
// present in the header.
func (r Row) Get(name string) string {
	return r.values[name]
}

// Has reports whether column name was present in the header.
func (r Row) Has(name string) bool {
	_, ok := r.values[name]
	return ok
}

// Columns returns the column names of the row in offset order.
func (r Row) Columns() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Parse extracts the data rows of the first table in text matching spec.
func Parse(text string, spec Spec) []Row {
	lines := splitLines(text)
	h, ok := findHeader(lines, spec)
	if !ok {
		return nil
	}

	start := h.Line + 1
	if start < len(lines) && isRule(lines[start]) && strings.TrimSpace(lines[start]) != "" {
		start++
	}

	var rows []Row
	for i := start; i < len(lines); i++ {
		line := lines[i]
		if isRule(line) {
			break
		}
		if containsAny(line, spec.Stop) || containsAll(line, spec.Required) {
			break
		}
		if hasAnyPrefix(line, spec.SkipPrefixes) {
			continue
		}
		rows = append(rows, slice(line, i, h.Columns))
	}
	return rows
}

// FindHeader locates the header of the first table in text matching spec.
func FindHeader(text string, spec Spec) (Header, bool) {
	return findHeader(splitLines(text), spec)
}

func findHeader(lines []string, spec Spec) (Header, bool) {
	if len(spec.Required) == 0 {
		return Header{}, false
	}
	for i, line := range lines {
		if !containsAll(line, spec.Required) {
			continue
		}
		cols := make([]Column, 0, len(spec.Columns))
		for _, name := range spec.Columns {
			if off := strings.Index(line, name); off >= 0 {
				cols = append(cols, Column{Name: name, Offset: off})
			}
		}
		sort.SliceStable(cols, func(a, b int) bool { return cols[a].Offset < cols[b].Offset })
		return Header{Line: i, Columns: cols}, true
	}
	return Header{}, false
}

func slice(line string, lineNo int, cols []Column) Row {
	r := Row{
		Line:   lineNo,
		names:  make([]string, 0, len(cols)),
		values: make(map[string]string, len(cols)),
	}
	for i, c := range cols {
		end := len(line)
		if i+1 < len(cols) && cols[i+1].Offset < end {
			end = cols[i+1].Offset
		}
		var v string
		if c.Offset < end {
			v = strings.TrimSpace(line[c.Offset:end])
		}
		r.names = append(r.names, c.Name)
		r.values[c.Name] = v
	}
	return r
}

func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, "\r")
	}
	return lines
}

// isRule reports whether line is blank or made only of separator characters.
func isRule(line string) bool {
	for _, r := range line {
		switch r {
		case ' ', '\t', '-', '─', '━', '│', '═', '+', '┼':
		default:
			return false
		}
	}
	return true
}

func containsAll(line string, tokens []string) bool {
	if len(tokens) == 0 {
		return false
	}
	for _, t := range tokens {
		if !strings.Contains(line, t) {
			return false
		}
	}
	return true
}

func containsAny(line string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(line, t) {
			return true
		}
	}
	return false
}

func hasAnyPrefix(line string, prefixes []string) bool {
	line = strings.TrimLeft(line, " \t")
	for _, p := range prefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}
