package match

import "strings"

// Selector combines name patterns with attribute filters.
type Selector struct {
	names   *Matcher
	filters *CompositeFilter
}

// NewSelector builds a Selector. No includes means every name.
func NewSelector(includes, excludes []string, ignoreCase bool, fc *FilterConfig) (*Selector, error) {
	if len(includes) == 0 {
		includes = []string{MatchAll}
	}
	m, err := New(Config{Includes: includes, Excludes: excludes, IgnoreCase: ignoreCase})
	if err != nil {
		return nil, err
	}
	f, err := NewFilterFromConfig(fc)
	if err != nil {
		return nil, err
	}
	return &Selector{names: m, filters: f}, nil
}

// Selects reports whether s passes both the name patterns and the filters.
func (sel *Selector) Selects(s Subject) bool {
	return sel.names.Match(s.ID) && sel.filters.Match(s)
}

func (sel *Selector) String() string {
	return "names " + joinPatterns(sel.names) + "; " + sel.filters.String()
}

func joinPatterns(m *Matcher) string {
	out := "+" + strings.Join(m.includes, ",")
	if len(m.excludes) > 0 {
		out += " -" + strings.Join(m.excludes, ",")
	}
	return out
}
