package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/3leaps/jobwatch/pkg/reconcile"
	"github.com/3leaps/jobwatch/pkg/status"
)

// table renders aligned columns by display width, so status icons and
// wide characters line up.
type table struct {
	header []string
	rows   [][]string
	max    []int
}

func newTable(header ...string) *table {
	return &table{header: header}
}

// limit caps the display width of column i.
func (t *table) limit(i, width int) *table {
	for len(t.max) <= i {
		t.max = append(t.max, 0)
	}
	t.max[i] = width
	return t
}

func (t *table) add(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *table) render(w io.Writer, indent string) {
	widths := make([]int, len(t.header))
	all := append([][]string{t.header}, t.rows...)
	for r, row := range all {
		for i := range row {
			if i >= len(widths) {
				break
			}
			if i < len(t.max) && t.max[i] > 0 {
				row[i] = truncate(row[i], t.max[i])
				all[r][i] = row[i]
			}
			if cw := runewidth.StringWidth(row[i]); cw > widths[i] {
				widths[i] = cw
			}
		}
	}
	for _, row := range all {
		var b strings.Builder
		b.WriteString(indent)
		for i, cell := range row {
			if i >= len(widths) {
				break
			}
			if i == len(widths)-1 {
				b.WriteString(cell)
				break
			}
			b.WriteString(padRight(cell, widths[i]))
			b.WriteString("  ")
		}
		_, _ = fmt.Fprintln(w, strings.TrimRight(b.String(), " "))
	}
}

// padRight pads s with spaces so its terminal display width reaches width.
func padRight(s string, width int) string {
	sw := runewidth.StringWidth(s)
	if sw >= width {
		return s
	}
	return s + strings.Repeat(" ", width-sw)
}

func truncate(s string, width int) string {
	if runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "…")
}

// statusCell is the icon plus raw status text.
func statusCell(st, raw string) string {
	d := status.DisplayFor(st)
	if raw == "" {
		raw = d.Label
	}
	return d.Icon + " " + raw
}

// renderSnapshot prints each non-empty group as a section.
func renderSnapshot(w io.Writer, items []reconcile.Item, tagOf func(string) string) {
	groups := make(map[string][]reconcile.Item)
	for _, it := range items {
		g := reconcile.GroupOf(it.Status)
		groups[g] = append(groups[g], it)
	}

	first := true
	for _, g := range reconcile.Groups {
		members := groups[g]
		if len(members) == 0 {
			continue
		}
		if !first {
			_, _ = fmt.Fprintln(w)
		}
		first = false

		d := status.DisplayFor(g)
		label := d.Label
		if g == reconcile.GroupOther {
			label = "Other"
		}
		_, _ = fmt.Fprintf(w, "%s %s (%d)\n", d.Icon, label, len(members))

		t := newTable("EXPERIMENT", "STATUS", "JOBS", "MODIFIED", "CLUSTER", "TAG", "").limit(0, 48)
		for _, it := range members {
			note := ""
			switch {
			case it.Corrected:
				note = "corrected"
			case it.FromCache:
				note = "cached"
			}
			raw := it.RawStatus
			if it.Corrected {
				raw = ""
			}
			t.add(it.ID, statusCell(it.Status, raw), fmt.Sprint(it.JobCount), it.Modified, it.Cluster, tagOf(it.ID), note)
		}
		t.render(w, "  ")
	}
}
