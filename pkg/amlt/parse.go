package amlt

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/3leaps/jobwatch/pkg/status"
	"github.com/3leaps/jobwatch/pkg/tabular"
)

// Column names printed by amlt.
const (
	ColExperimentName = "EXPERIMENT_NAME"
	ColModified       = "MODIFIED"
	ColJobStatus      = "JOB_STATUS"
	ColCluster        = "CLUSTER"
	ColFlags          = "FLAGS"
	ColSize           = "SIZE"
	ColJobURL         = "JOB_URL"
	ColDescription    = "DESCRIPTION"

	ColIndex     = "#"
	ColJobName   = "JOB_NAME"
	ColDuration  = "DURATION"
	ColStatus    = "STATUS"
	ColSubmitted = "SUBMITTED"
	ColPortalURL = "PORTAL URL"

	ColService   = "SERVICE"
	ColWorkspace = "WORKSPACE"
	ColNJobs     = "N_JOBS"
	ColPass      = "PASS"
	ColFail      = "FAIL"
	ColRunning   = "RUNNING"
	ColQueued    = "QUEUED"
	ColPrep      = "PREP"
	ColKilled    = "KILLED"
)

// ListTable is the layout of `amlt list`.
var ListTable = tabular.Spec{
	Columns: []string{
		ColExperimentName, ColModified, ColJobStatus, ColCluster,
		ColFlags, ColSize, ColJobURL, ColDescription,
	},
	Required:     []string{ColExperimentName, ColJobStatus},
	// amlt prints "── page 1 of 2 ──" between pages of long listings.
	SkipPrefixes: []string{"II ", "──"},
}

// JobTable is the layout of the job table printed by `amlt status`.
// DURATION is absent in some amlt versions.
var JobTable = tabular.Spec{
	Columns: []string{
		ColIndex, ColJobName, ColDuration, ColStatus,
		ColSize, ColSubmitted, ColFlags, ColPortalURL,
	},
	Required: []string{ColIndex, ColJobName, ColStatus},
	Stop:     []string{ColExperimentName},
}

// SummaryTable is the layout of the experiment summary printed after the
// job table by `amlt status`. The count columns only appear for states that
// occur in the experiment.
var SummaryTable = tabular.Spec{
	Columns: []string{
		ColExperimentName, ColService, ColCluster, ColWorkspace, ColNJobs,
		ColPass, ColFail, ColRunning, ColQueued, ColPrep, ColKilled,
		ColDescription,
	},
	Required: []string{ColExperimentName, ColService, ColCluster},
}

// ParseList parses `amlt list` output. Rows without a name are skipped.
func ParseList(text string) []ExperimentSummary {
	rows := tabular.Parse(text, ListTable)
	out := make([]ExperimentSummary, 0, len(rows))
	for _, r := range rows {
		id := r.Get(ColExperimentName)
		if id == "" {
			continue
		}
		e := NewExperimentSummary(id, r.Get(ColJobStatus))
		e.Modified = r.Get(ColModified)
		e.Cluster = r.Get(ColCluster)
		e.Flags = r.Get(ColFlags)
		e.Size = r.Get(ColSize)
		e.JobURL = r.Get(ColJobURL)
		e.Description = r.Get(ColDescription)
		out = append(out, e)
	}
	return out
}

// ParseJobs parses the job table of `amlt status` output. Rows whose index
// column is not of the form ":N" or "N" are skipped.
func ParseJobs(text string) []JobRecord {
	rows := tabular.Parse(text, JobTable)
	jobs := make([]JobRecord, 0, len(rows))
	for _, r := range rows {
		idx, ok := parseIndex(r.Get(ColIndex))
		if !ok {
			continue
		}
		jobs = append(jobs, JobRecord{
			Index:     idx,
			Name:      r.Get(ColJobName),
			Status:    r.Get(ColStatus),
			Duration:  r.Get(ColDuration),
			Size:      r.Get(ColSize),
			Submitted: r.Get(ColSubmitted),
			Flags:     r.Get(ColFlags),
			PortalURL: r.Get(ColPortalURL),
		})
	}
	return jobs
}

// ParseStatus parses `amlt status <id>` output. It returns false when the
// output carries no experiment summary row, which amlt prints for unknown
// experiments.
func ParseStatus(text string) (*ExperimentDetail, bool) {
	jobs := ParseJobs(text)

	rows := tabular.Parse(text, SummaryTable)
	if len(rows) == 0 {
		return nil, false
	}
	summary := rows[0]
	id := summary.Get(ColExperimentName)
	if id == "" {
		return nil, false
	}

	counts := status.Counts{
		Pass:    safeInt(summary.Get(ColPass), 0),
		Fail:    safeInt(summary.Get(ColFail), 0),
		Running: safeInt(summary.Get(ColRunning), 0),
		Queued:  safeInt(summary.Get(ColQueued), 0) + safeInt(summary.Get(ColPrep), 0),
		Killed:  safeInt(summary.Get(ColKilled), 0),
	}
	if counts.IsZero() {
		for _, j := range jobs {
			counts.Add(j.Status)
		}
	}

	return &ExperimentDetail{
		ID:          id,
		Service:     summary.Get(ColService),
		Cluster:     summary.Get(ColCluster),
		Workspace:   summary.Get(ColWorkspace),
		JobCount:    safeInt(summary.Get(ColNJobs), len(jobs)),
		Description: summary.Get(ColDescription),
		Counts:      counts,
		Jobs:        jobs,
	}, true
}

// ParseProjectOutputDir extracts the DEFAULT_OUTPUT_DIR value from
// `amlt project` output.
func ParseProjectOutputDir(text string) (string, bool) {
	for _, line := range strings.Split(text, "\n") {
		if !strings.Contains(line, "DEFAULT_OUTPUT_DIR") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			return fields[len(fields)-1], true
		}
	}
	return "", false
}

// UnknownAge is returned by ParseTimeAgo for tokens it cannot read. It sorts
// after any real age.
const UnknownAge = 999999

var timeAgoPattern = regexp.MustCompile(`^(\d+)\s*(m|h|d|w)\s*ago`)

// ParseTimeAgo converts relative tokens such as "5m ago" or "3d ago" to
// minutes.
func ParseTimeAgo(s string) int {
	m := timeAgoPattern.FindStringSubmatch(strings.ToLower(strings.TrimSpace(s)))
	if m == nil {
		return UnknownAge
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return UnknownAge
	}
	switch m[2] {
	case "h":
		return n * 60
	case "d":
		return n * 60 * 24
	case "w":
		return n * 60 * 24 * 7
	}
	return n
}

func parseIndex(s string) (int, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), ":")
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

// safeInt reads the first whitespace-separated token of s as an integer.
func safeInt(s string, def int) int {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return def
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return def
	}
	return n
}
