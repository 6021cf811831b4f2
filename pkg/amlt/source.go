package amlt

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

//go:generate mockgen -source=source.go -destination=amlttest/mock_source.go -package=amlttest

// Source is the raw text interface to amlt. Implementations return the
// tool's stdout; any failure to produce it is an error.
type Source interface {
	// ListRecent returns the output of `amlt list --most-recent n`.
	ListRecent(ctx context.Context, n int) (string, error)

	// StatusDetail returns the output of `amlt status <id>`.
	StatusDetail(ctx context.Context, id string) (string, error)

	// Cancel runs `amlt cancel` for the experiment, or for a single job of
	// it when jobIndex is non-nil.
	Cancel(ctx context.Context, id string, jobIndex *int) CancelResult

	// Project returns the output of `amlt project`.
	Project(ctx context.Context) (string, error)
}

// CancelResult is the outcome of a cancel pass-through.
type CancelResult struct {
	OK     bool   `json:"ok"`
	Stdout string `json:"stdout,omitempty"`
	Stderr string `json:"stderr,omitempty"`
}

var (
	// ErrFetch indicates amlt could not be invoked or exited unsuccessfully.
	ErrFetch = errors.New("amlt fetch failed")

	// ErrNotFound indicates amlt answered but reported no such experiment.
	ErrNotFound = errors.New("experiment not found")
)

// FetchError wraps a failed amlt invocation.
type FetchError struct {
	Op  string
	ID  string
	Err error
}

func (e *FetchError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("amlt %s %s: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("amlt %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is reports FetchError as ErrFetch.
func (e *FetchError) Is(target error) bool {
	return target == ErrFetch
}

// Client adapts a Source into typed records.
type Client struct {
	src    Source
	logger *zap.Logger
}

// NewClient creates a Client. A nil logger discards log output.
func NewClient(src Source, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{src: src, logger: logger}
}

// Source returns the underlying Source.
func (c *Client) Source() Source {
	return c.src
}

// List returns the n most recent experiments. Failures to run amlt are
// logged and produce an empty list.
func (c *Client) List(ctx context.Context, n int) []ExperimentSummary {
	out, err := c.src.ListRecent(ctx, n)
	if err != nil {
		c.logger.Warn("list experiments failed", zap.Int("limit", n), zap.Error(err))
		return nil
	}
	return ParseList(out)
}

// Detail fetches and parses the status of experiment id.
//
// The error wraps ErrFetch when amlt could not be run and ErrNotFound when
// its output describes no experiment.
func (c *Client) Detail(ctx context.Context, id string) (*ExperimentDetail, error) {
	out, err := c.src.StatusDetail(ctx, id)
	if err != nil {
		return nil, &FetchError{Op: "status", ID: id, Err: err}
	}
	d, ok := ParseStatus(out)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return d, nil
}

// Cancel passes the cancel request through to amlt.
func (c *Client) Cancel(ctx context.Context, id string, jobIndex *int) CancelResult {
	res := c.src.Cancel(ctx, id, jobIndex)
	if !res.OK {
		c.logger.Warn("cancel failed", zap.String("experiment", id), zap.String("stderr", res.Stderr))
	}
	return res
}

// OutputDir asks amlt for the project's default output directory.
func (c *Client) OutputDir(ctx context.Context) (string, error) {
	out, err := c.src.Project(ctx)
	if err != nil {
		return "", &FetchError{Op: "project", Err: err}
	}
	dir, ok := ParseProjectOutputDir(out)
	if !ok {
		return "", fmt.Errorf("%w: DEFAULT_OUTPUT_DIR not reported", ErrNotFound)
	}
	return dir, nil
}
