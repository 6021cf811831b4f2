// Package amlt turns the text output of the amlt command-line tool into
// typed records and defines the Source contract through which jobwatch talks
// to it.
package amlt

import (
	"github.com/3leaps/jobwatch/pkg/status"
)

// DriverJobIndex is the index of the job that represents the experiment as a
// whole in multi-job experiments.
const DriverJobIndex = 0

// ExperimentSummary is one row of `amlt list`.
type ExperimentSummary struct {
	// ID is the experiment name, unique per project.
	ID string `json:"id"`

	// RawStatus is the compound status as printed, e.g. "Running (2) Pass (5)".
	RawStatus string `json:"status_str"`

	// Status is the primary state derived from RawStatus.
	Status string `json:"status"`

	// Counts are the per-state job counts derived from RawStatus.
	Counts status.Counts `json:"counts"`

	// JobCount is the sum of the compound counts, or 1 when RawStatus has
	// none.
	JobCount int `json:"job_count"`

	Modified    string `json:"modified"`
	Cluster     string `json:"cluster"`
	Flags       string `json:"flags,omitempty"`
	Size        string `json:"size,omitempty"`
	JobURL      string `json:"job_url,omitempty"`
	Description string `json:"description,omitempty"`
}

// NewExperimentSummary builds a summary for id, deriving status and counts
// from the compound status text raw.
func NewExperimentSummary(id, raw string) ExperimentSummary {
	compound := status.ParseCompound(raw)
	jobCount := 0
	for _, n := range compound {
		jobCount += n
	}
	if len(compound) == 0 {
		jobCount = 1
	}
	return ExperimentSummary{
		ID:        id,
		RawStatus: raw,
		Status:    status.Primary(compound, raw),
		Counts:    status.FromCompound(compound),
		JobCount:  jobCount,
	}
}

// IsTerminal reports whether the primary status can no longer change.
func (e ExperimentSummary) IsTerminal() bool {
	return status.IsTerminal(e.Status)
}

// IsActive reports whether the primary status is running or queued.
func (e ExperimentSummary) IsActive() bool {
	return status.IsActive(e.Status)
}

// AgeMinutes is the Modified token converted by ParseTimeAgo.
func (e ExperimentSummary) AgeMinutes() int {
	return ParseTimeAgo(e.Modified)
}

// JobRecord is one row of the job table printed by `amlt status`.
type JobRecord struct {
	Index     int    `json:"index"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	Duration  string `json:"duration,omitempty"`
	Size      string `json:"size,omitempty"`
	Submitted string `json:"submitted,omitempty"`
	Flags     string `json:"flags,omitempty"`
	PortalURL string `json:"portal_url,omitempty"`
}

// IsDriver reports whether the job is the driver job of its experiment.
func (j JobRecord) IsDriver() bool {
	return j.Index == DriverJobIndex
}

// ExperimentDetail is the parsed output of `amlt status <id>`.
type ExperimentDetail struct {
	ID          string        `json:"id"`
	Service     string        `json:"service,omitempty"`
	Cluster     string        `json:"cluster"`
	Workspace   string        `json:"workspace,omitempty"`
	JobCount    int           `json:"job_count"`
	Description string        `json:"description,omitempty"`
	Counts      status.Counts `json:"counts"`
	Jobs        []JobRecord   `json:"jobs"`
}

// Job returns the job with the given index.
func (d *ExperimentDetail) Job(index int) (JobRecord, bool) {
	if d == nil {
		return JobRecord{}, false
	}
	for _, j := range d.Jobs {
		if j.Index == index {
			return j, true
		}
	}
	return JobRecord{}, false
}

// Driver returns the driver job if the detail lists one.
func (d *ExperimentDetail) Driver() (JobRecord, bool) {
	return d.Job(DriverJobIndex)
}
