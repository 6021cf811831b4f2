// Package match selects experiments by name pattern and by attributes such
// as status, age, cluster and tag.
package match

import (
	"errors"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// MatchAll is the include pattern that accepts every experiment name.
const MatchAll = "**"

// Matcher evaluates glob patterns against experiment names.
//
// A Matcher is configured with include and exclude patterns:
//   - Include patterns: the name must match at least one
//   - Exclude patterns: the name must not match any
//
// The Matcher is safe for concurrent use after creation.
type Matcher struct {
	includes   []string
	excludes   []string
	ignoreCase bool
}

// Config configures a Matcher.
type Config struct {
	// Includes are glob patterns that names must match (at least one).
	// Required: use MatchAll to accept everything.
	Includes []string

	// Excludes are glob patterns that names must not match (any).
	Excludes []string

	// IgnoreCase matches names and patterns case-insensitively.
	IgnoreCase bool
}

// Errors returned by Matcher operations.
var (
	// ErrNoIncludes is returned when no include patterns are provided.
	ErrNoIncludes = errors.New("at least one include pattern is required")

	// ErrInvalidPattern is returned when a pattern cannot be compiled.
	ErrInvalidPattern = errors.New("invalid glob pattern")
)

// PatternError wraps pattern-related errors with context.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return "pattern " + e.Pattern + ": " + e.Err.Error()
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

// New creates a Matcher, validating every pattern.
func New(cfg Config) (*Matcher, error) {
	if len(cfg.Includes) == 0 {
		return nil, ErrNoIncludes
	}

	compile := func(raw []string) ([]string, error) {
		out := make([]string, 0, len(raw))
		for _, p := range raw {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			if cfg.IgnoreCase {
				p = strings.ToLower(p)
			}
			if !doublestar.ValidatePattern(p) {
				return nil, &PatternError{Pattern: p, Err: ErrInvalidPattern}
			}
			out = append(out, p)
		}
		return out, nil
	}

	includes, err := compile(cfg.Includes)
	if err != nil {
		return nil, err
	}
	if len(includes) == 0 {
		return nil, ErrNoIncludes
	}
	excludes, err := compile(cfg.Excludes)
	if err != nil {
		return nil, err
	}

	return &Matcher{includes: includes, excludes: excludes, ignoreCase: cfg.IgnoreCase}, nil
}

// Match reports whether name passes the include and exclude patterns.
func (m *Matcher) Match(name string) bool {
	if m.ignoreCase {
		name = strings.ToLower(name)
	}

	matched := false
	for _, inc := range m.includes {
		if matchPattern(inc, name) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}

	for _, exc := range m.excludes {
		if matchPattern(exc, name) {
			return false
		}
	}
	return true
}

// IncludePatterns returns the compiled include patterns.
func (m *Matcher) IncludePatterns() []string {
	return append([]string(nil), m.includes...)
}

// ExcludePatterns returns the compiled exclude patterns.
func (m *Matcher) ExcludePatterns() []string {
	return append([]string(nil), m.excludes...)
}

// matchPattern matches a name against a validated doublestar pattern.
func matchPattern(pattern, name string) bool {
	matched, err := doublestar.Match(pattern, name)
	if err != nil {
		return false
	}
	return matched
}
