// Package output provides JSONL output for experiment listings, job
// details and status changes.
//
// Each line is a typed record envelope whose data field holds the
// type-specific payload, so a consumer can parse lines independently.
package output

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/3leaps/jobwatch/pkg/amlt"
	"github.com/3leaps/jobwatch/pkg/reconcile"
	"github.com/3leaps/jobwatch/pkg/status"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: jobwatch.<type>.v<version>
const (
	// TypeExperiment identifies experiment records.
	TypeExperiment = "jobwatch.experiment.v1"

	// TypeJob identifies job records of an experiment detail.
	TypeJob = "jobwatch.job.v1"

	// TypeStatusChange identifies status change events.
	TypeStatusChange = "jobwatch.status_change.v1"

	// TypeError identifies error records.
	TypeError = "jobwatch.error.v1"

	// TypeSummary identifies final summary records.
	TypeSummary = "jobwatch.summary.v1"
)

// Record is the envelope for all JSONL output.
type Record struct {
	// Type identifies the record type (e.g., "jobwatch.experiment.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created.
	TS time.Time `json:"ts"`

	// RunID correlates records emitted by one command invocation.
	RunID string `json:"run_id"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// ExperimentRecord is the payload for one experiment.
type ExperimentRecord struct {
	ID        string        `json:"id"`
	Status    string        `json:"status"`
	StatusStr string        `json:"status_str"`
	Group     string        `json:"group"`
	JobCount  int           `json:"job_count"`
	Counts    status.Counts `json:"counts"`
	Modified  string        `json:"modified,omitempty"`
	Cluster   string        `json:"cluster,omitempty"`
	JobURL    string        `json:"job_url,omitempty"`

	// FromCache is set when only the terminal cache knows the experiment.
	FromCache bool `json:"from_cache,omitempty"`

	// Corrected is set when the status comes from a reconciliation
	// correction rather than the list.
	Corrected bool   `json:"corrected,omitempty"`
	Tag       string `json:"tag,omitempty"`
}

// NewExperimentRecord converts a snapshot item.
func NewExperimentRecord(it reconcile.Item, tag string) *ExperimentRecord {
	return &ExperimentRecord{
		ID:        it.ID,
		Status:    it.Status,
		StatusStr: it.RawStatus,
		Group:     reconcile.GroupOf(it.Status),
		JobCount:  it.JobCount,
		Counts:    it.Counts,
		Modified:  it.Modified,
		Cluster:   it.Cluster,
		JobURL:    it.JobURL,
		FromCache: it.FromCache,
		Corrected: it.Corrected,
		Tag:       tag,
	}
}

// JobRecord is the payload for one job of an experiment.
type JobRecord struct {
	Experiment string `json:"experiment"`
	Index      int    `json:"index"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	Driver     bool   `json:"driver,omitempty"`
	Duration   string `json:"duration,omitempty"`
	Size       string `json:"size,omitempty"`
	Submitted  string `json:"submitted,omitempty"`
	PortalURL  string `json:"portal_url,omitempty"`
	FromCache  bool   `json:"from_cache,omitempty"`
}

// NewJobRecord converts a job of experiment.
func NewJobRecord(experiment string, j amlt.JobRecord, fromCache bool) *JobRecord {
	return &JobRecord{
		Experiment: experiment,
		Index:      j.Index,
		Name:       j.Name,
		Status:     j.Status,
		Driver:     j.IsDriver(),
		Duration:   j.Duration,
		Size:       j.Size,
		Submitted:  j.Submitted,
		PortalURL:  j.PortalURL,
		FromCache:  fromCache,
	}
}

// StatusChangeRecord is the payload for a status change event.
type StatusChangeRecord struct {
	ID        string    `json:"id"`
	OldStatus string    `json:"old_status"`
	NewStatus string    `json:"new_status"`
	Source    string    `json:"source"`
	At        time.Time `json:"at"`
}

// NewStatusChangeRecord converts a StatusChange.
func NewStatusChangeRecord(c reconcile.StatusChange) *StatusChangeRecord {
	return &StatusChangeRecord{
		ID:        c.ID,
		OldStatus: c.OldStatus,
		NewStatus: c.NewStatus,
		Source:    c.Source,
		At:        c.At,
	}
}

// ErrorRecord is the payload for errors.
//
// Errors are emitted as records rather than failing the command, so a
// listing stays usable when one experiment cannot be fetched.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// Experiment is the experiment related to this error, if any.
	Experiment string `json:"experiment,omitempty"`

	// Details contains additional error context.
	Details any `json:"details,omitempty"`
}

// Error codes for ErrorRecord.
const (
	// ErrCodeFetchFailed indicates amlt could not be run.
	ErrCodeFetchFailed = "FETCH_FAILED"

	// ErrCodeNotFound indicates amlt does not know the experiment.
	ErrCodeNotFound = "NOT_FOUND"

	// ErrCodeCacheWrite indicates a cache file could not be written.
	ErrCodeCacheWrite = "CACHE_WRITE"

	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal = "INTERNAL"
)

// SummaryRecord is the payload emitted at the end of a command.
type SummaryRecord struct {
	// Experiments is the number of experiment records written.
	Experiments int `json:"experiments"`

	// Groups counts experiments per display group.
	Groups map[string]int `json:"groups,omitempty"`

	// FromCache counts experiments served only from the cache.
	FromCache int `json:"from_cache"`

	// Corrections counts reconciliation corrections applied.
	Corrections int `json:"corrections"`

	// Errors is the count of error records written.
	Errors int `json:"errors"`

	// Duration is the total command duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
