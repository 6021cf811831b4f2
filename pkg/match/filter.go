package match

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/3leaps/jobwatch/pkg/amlt"
	"github.com/3leaps/jobwatch/pkg/status"
)

// Subject is the view of an experiment that filters evaluate.
type Subject struct {
	ID      string
	Status  string
	Cluster string
	// AgeMinutes is the age derived from the list's "modified" column.
	AgeMinutes int
	Tag        string
}

// Filter evaluates whether an experiment passes filter criteria.
type Filter interface {
	Match(s Subject) bool

	// String returns a human-readable description of the filter.
	String() string
}

// FilterConfig holds filter criteria from CLI flags or query parameters.
type FilterConfig struct {
	// Statuses keeps experiments whose display group is listed. Accepts
	// status names or synonyms ("failed", "prep", "cancelled").
	Statuses []string `json:"statuses,omitempty" yaml:"statuses,omitempty"`

	// MaxAge keeps experiments modified at most this long ago: "90m",
	// "12h", "3d", "2w".
	MaxAge string `json:"max_age,omitempty" yaml:"max_age,omitempty"`

	// ClusterRegex is applied to the cluster name.
	ClusterRegex string `json:"cluster_regex,omitempty" yaml:"cluster_regex,omitempty"`

	// Tags keeps experiments carrying one of these tags.
	Tags []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Filter errors.
var (
	ErrInvalidAge    = errors.New("invalid age value")
	ErrInvalidRegex  = errors.New("invalid regex pattern")
	ErrInvalidStatus = errors.New("invalid status")
)

// StatusFilter keeps experiments in a set of display groups.
type StatusFilter struct {
	groups map[string]bool
	names  []string
}

// NewStatusFilter returns nil when statuses is empty.
func NewStatusFilter(statuses []string) (*StatusFilter, error) {
	f := &StatusFilter{groups: make(map[string]bool)}
	for _, raw := range statuses {
		for _, s := range strings.Split(raw, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			g := groupOf(s)
			if g == "" {
				return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, s)
			}
			if !f.groups[g] {
				f.groups[g] = true
				f.names = append(f.names, g)
			}
		}
	}
	if len(f.groups) == 0 {
		return nil, nil
	}
	return f, nil
}

// groupOf folds a status into the group names used for display. It
// returns "" for unrecognized input.
func groupOf(s string) string {
	switch n := status.Normalize(s); n {
	case status.Running, status.Queued, status.Pass, status.Fail, status.Killed:
		return n
	case status.Cancelled:
		return status.Killed
	}
	return ""
}

func (f *StatusFilter) Match(s Subject) bool {
	g := groupOf(s.Status)
	return g != "" && f.groups[g]
}

func (f *StatusFilter) String() string {
	return "status in [" + strings.Join(f.names, ",") + "]"
}

// AgeFilter keeps experiments no older than a number of minutes.
// Experiments with an unparseable age never pass.
type AgeFilter struct {
	maxMinutes int
	raw        string
}

// NewAgeFilter returns nil when maxAge is empty.
func NewAgeFilter(maxAge string) (*AgeFilter, error) {
	maxAge = strings.TrimSpace(maxAge)
	if maxAge == "" {
		return nil, nil
	}
	m, err := ParseAge(maxAge)
	if err != nil {
		return nil, err
	}
	return &AgeFilter{maxMinutes: m, raw: maxAge}, nil
}

func (f *AgeFilter) Match(s Subject) bool {
	return s.AgeMinutes != amlt.UnknownAge && s.AgeMinutes <= f.maxMinutes
}

func (f *AgeFilter) String() string {
	return "age <= " + f.raw
}

// ClusterFilter keeps experiments whose cluster matches a regex.
type ClusterFilter struct {
	re *regexp.Regexp
}

// NewClusterFilter returns nil when pattern is empty.
func NewClusterFilter(pattern string) (*ClusterFilter, error) {
	if pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRegex, err)
	}
	return &ClusterFilter{re: re}, nil
}

func (f *ClusterFilter) Match(s Subject) bool {
	return f.re.MatchString(s.Cluster)
}

func (f *ClusterFilter) String() string {
	return "cluster =~ " + f.re.String()
}

// TagFilter keeps experiments carrying one of a set of tags.
type TagFilter struct {
	tags map[string]bool
	list []string
}

// NewTagFilter returns nil when tags is empty.
func NewTagFilter(tags []string) *TagFilter {
	f := &TagFilter{tags: make(map[string]bool)}
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t != "" && !f.tags[t] {
			f.tags[t] = true
			f.list = append(f.list, t)
		}
	}
	if len(f.tags) == 0 {
		return nil
	}
	return f
}

func (f *TagFilter) Match(s Subject) bool {
	return f.tags[s.Tag]
}

func (f *TagFilter) String() string {
	return "tag in [" + strings.Join(f.list, ",") + "]"
}

// CompositeFilter combines multiple filters with AND semantics.
type CompositeFilter struct {
	filters []Filter
}

// NewCompositeFilter creates a composite filter from the given filters.
// Nil filters are ignored. Returns nil if no non-nil filters provided.
func NewCompositeFilter(filters ...Filter) *CompositeFilter {
	var nonNil []Filter
	for _, f := range filters {
		if f != nil {
			nonNil = append(nonNil, f)
		}
	}
	if len(nonNil) == 0 {
		return nil
	}
	return &CompositeFilter{filters: nonNil}
}

// NewFilterFromConfig creates a CompositeFilter from FilterConfig.
// Returns nil if no filters are configured.
func NewFilterFromConfig(cfg *FilterConfig) (*CompositeFilter, error) {
	if cfg == nil {
		return nil, nil
	}

	var filters []Filter

	statusFilter, err := NewStatusFilter(cfg.Statuses)
	if err != nil {
		return nil, err
	}
	if statusFilter != nil {
		filters = append(filters, statusFilter)
	}

	ageFilter, err := NewAgeFilter(cfg.MaxAge)
	if err != nil {
		return nil, err
	}
	if ageFilter != nil {
		filters = append(filters, ageFilter)
	}

	clusterFilter, err := NewClusterFilter(cfg.ClusterRegex)
	if err != nil {
		return nil, err
	}
	if clusterFilter != nil {
		filters = append(filters, clusterFilter)
	}

	if tagFilter := NewTagFilter(cfg.Tags); tagFilter != nil {
		filters = append(filters, tagFilter)
	}

	if len(filters) == 0 {
		return nil, nil
	}
	return &CompositeFilter{filters: filters}, nil
}

// Match returns true if all filters pass. A nil CompositeFilter passes
// everything.
func (f *CompositeFilter) Match(s Subject) bool {
	if f == nil {
		return true
	}
	for _, filter := range f.filters {
		if !filter.Match(s) {
			return false
		}
	}
	return true
}

// String returns a human-readable description.
func (f *CompositeFilter) String() string {
	if f == nil || len(f.filters) == 0 {
		return "no filters"
	}
	parts := make([]string, len(f.filters))
	for i, filter := range f.filters {
		parts[i] = filter.String()
	}
	return strings.Join(parts, ", ")
}

// Filters returns the underlying filters.
func (f *CompositeFilter) Filters() []Filter {
	if f == nil {
		return nil
	}
	return f.filters
}

// ParseAge converts "90m", "12h", "3d" or "2w" to minutes. A bare number is
// taken as minutes.
func ParseAge(s string) (int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidAge)
	}

	mult := 1
	switch s[len(s)-1] {
	case 'm':
		s = s[:len(s)-1]
	case 'h':
		mult = 60
		s = s[:len(s)-1]
	case 'd':
		mult = 60 * 24
		s = s[:len(s)-1]
	case 'w':
		mult = 60 * 24 * 7
		s = s[:len(s)-1]
	}

	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAge, s)
	}
	return n * mult, nil
}

// SubjectOf builds the filter view of an experiment.
func SubjectOf(e amlt.ExperimentSummary, tag string) Subject {
	return Subject{
		ID:         e.ID,
		Status:     e.Status,
		Cluster:    e.Cluster,
		AgeMinutes: e.AgeMinutes(),
		Tag:        tag,
	}
}
