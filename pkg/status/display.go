package status

import "strings"

// Display is the presentation metadata for a canonical state.
type Display struct {
	Icon  string
	Label string
}

var displays = map[string]Display{
	Running:   {Icon: "●", Label: "Running"},
	Queued:    {Icon: "◌", Label: "Queued"},
	Prep:      {Icon: "◎", Label: "Preparing"},
	Pass:      {Icon: "✓", Label: "Passed"},
	Fail:      {Icon: "✗", Label: "Failed"},
	Killed:    {Icon: "⊘", Label: "Killed"},
	Cancelled: {Icon: "○", Label: "Cancelled"},
	Unknown:   {Icon: "?", Label: "Unknown"},
}

// DisplayFor returns presentation metadata for s. Unrecognized states get a
// neutral icon and their first token as label.
func DisplayFor(s string) Display {
	fields := strings.Fields(strings.ToLower(s))
	if len(fields) == 0 {
		return displays[Unknown]
	}
	if d, ok := displays[fields[0]]; ok {
		return d
	}
	if d, ok := displays[Normalize(fields[0])]; ok {
		return d
	}
	return Display{Icon: "?", Label: fields[0]}
}
