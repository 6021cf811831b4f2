package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/mattn/go-runewidth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/jobwatch/pkg/amlt"
	"github.com/3leaps/jobwatch/pkg/reconcile"
)

func TestPadRight(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		width int
		want  string
	}{
		{"ascii", "ab", 4, "ab  "},
		{"exact", "abcd", 4, "abcd"},
		{"wider than width", "abcdef", 4, "abcdef"},
		{"wide runes", "実験", 6, "実験  "},
		{"icon", "✓ pass", 8, "✓ pass  "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := padRight(tt.in, tt.width)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	got := truncate("a-very-long-experiment-name", 10)
	assert.LessOrEqual(t, runewidth.StringWidth(got), 10)
	assert.True(t, strings.HasSuffix(got, "…"))
}

func TestTableRenderAligns(t *testing.T) {
	var buf bytes.Buffer
	tb := newTable("NAME", "STATUS", "NOTE")
	tb.add("実験-1", "running", "x")
	tb.add("exp-22", "pass", "")
	tb.render(&buf, "  ")

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	col := func(line, token string) int {
		return runewidth.StringWidth(line[:strings.Index(line, token)])
	}
	assert.Equal(t, col(lines[0], "STATUS"), col(lines[1], "running"))
	assert.Equal(t, col(lines[0], "STATUS"), col(lines[2], "pass"))
	assert.Equal(t, "  exp-22  pass", lines[2], "trailing padding is trimmed")
}

func TestTableLimit(t *testing.T) {
	var buf bytes.Buffer
	tb := newTable("NAME", "X").limit(0, 6)
	tb.add("abcdefghijkl", "1")
	tb.render(&buf, "")
	assert.NotContains(t, buf.String(), "abcdefghijkl")
	assert.Contains(t, buf.String(), "…")
}

func TestRenderSnapshot(t *testing.T) {
	item := func(id, raw string) reconcile.Item {
		return reconcile.Item{ExperimentSummary: amlt.NewExperimentSummary(id, raw)}
	}
	cached := item("old", "Pass (2)")
	cached.FromCache = true
	corrected := item("fixed", "Running (1)")
	corrected.Status = "fail"
	corrected.Corrected = true

	var buf bytes.Buffer
	renderSnapshot(&buf, []reconcile.Item{item("a", "Running (1)"), cached, corrected}, func(id string) string {
		if id == "a" {
			return "baseline"
		}
		return ""
	})
	out := buf.String()

	assert.Contains(t, out, "Running (1)")
	assert.Contains(t, out, "Passed (1)")
	assert.Contains(t, out, "Failed (1)")
	assert.NotContains(t, out, "Queued")
	assert.Contains(t, out, "baseline")
	assert.Contains(t, out, "cached")
	assert.Contains(t, out, "corrected")
}
