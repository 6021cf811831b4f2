// Package status resolves the compound status text reported by amlt into a
// single canonical state.
//
// amlt reports experiment status either as a bare word ("running") or as a
// compound list of per-state job counts ("running (2) pass (5)"). The
// functions here are pure and safe for concurrent use.
package status

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Canonical status values.
const (
	Running   = "running"
	Queued    = "queued"
	Prep      = "prep"
	Pass      = "pass"
	Fail      = "fail"
	Failed    = "failed"
	Killed    = "killed"
	Cancelled = "cancelled"
	Unknown   = "unknown"
)

var compoundPattern = regexp.MustCompile(`(\w+)\s*\((\d+)\)`)

// priority orders states from most to least urgent when picking the primary
// status of a compound value.
var priority = []string{Running, Queued, Prep, Fail, Failed, Killed, Pass}

var terminal = map[string]struct{}{
	Pass:      {},
	Fail:      {},
	Failed:    {},
	Killed:    {},
	Cancelled: {},
}

// ParseCompound extracts "<name> (<count>)" pairs from text.
//
// Names are lower-cased. When a name repeats, the last occurrence wins.
// Text without any pairs yields an empty, non-nil map.
func ParseCompound(text string) map[string]int {
	counts := make(map[string]int)
	for _, m := range compoundPattern.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		counts[strings.ToLower(m[1])] = n
	}
	return counts
}

// Primary picks the single state that best describes counts.
//
// The first state present in the priority order running > queued > prep >
// fail > failed > killed > pass wins. An empty map falls back to the
// lower-cased raw text. When no prioritized state is present the
// lexicographically smallest name is returned so the result is stable.
func Primary(counts map[string]int, raw string) string {
	if len(counts) == 0 {
		return strings.ToLower(strings.TrimSpace(raw))
	}
	for _, s := range priority {
		if _, ok := counts[s]; ok {
			return s
		}
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names[0]
}

// PrimaryOf is Primary(ParseCompound(text), text).
func PrimaryOf(text string) string {
	return Primary(ParseCompound(text), text)
}

// Normalize lower-cases s, keeps its first whitespace-separated token and
// folds synonyms: failed becomes fail and prep becomes queued.
func Normalize(s string) string {
	fields := strings.Fields(strings.ToLower(s))
	if len(fields) == 0 {
		return ""
	}
	switch fields[0] {
	case Failed:
		return Fail
	case Prep:
		return Queued
	default:
		return fields[0]
	}
}

// IsTerminal reports whether s normalizes to a state that can no longer
// change.
func IsTerminal(s string) bool {
	_, ok := terminal[Normalize(s)]
	return ok
}

// IsActive reports whether s normalizes to running or queued.
func IsActive(s string) bool {
	switch Normalize(s) {
	case Running, Queued:
		return true
	}
	return false
}

// TerminalStates returns the terminal state names in sorted order.
func TerminalStates() []string {
	out := make([]string, 0, len(terminal))
	for s := range terminal {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
