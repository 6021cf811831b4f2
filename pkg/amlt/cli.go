package amlt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout bounds a single amlt invocation.
const DefaultTimeout = 60 * time.Second

// CLISource runs the amlt binary.
type CLISource struct {
	// Bin is the executable name or path. Default: "amlt".
	Bin string

	// Timeout bounds each invocation. Default: DefaultTimeout.
	Timeout time.Duration

	Logger *zap.Logger
}

// NewCLISource creates a CLISource with defaults applied to zero values.
func NewCLISource(bin string, timeout time.Duration, logger *zap.Logger) *CLISource {
	if strings.TrimSpace(bin) == "" {
		bin = "amlt"
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CLISource{Bin: bin, Timeout: timeout, Logger: logger}
}

// ListRecent implements Source.
func (s *CLISource) ListRecent(ctx context.Context, n int) (string, error) {
	stdout, _, err := s.run(ctx, "list", "--most-recent", strconv.Itoa(n))
	return stdout, err
}

// StatusDetail implements Source.
func (s *CLISource) StatusDetail(ctx context.Context, id string) (string, error) {
	stdout, _, err := s.run(ctx, "status", id)
	return stdout, err
}

// Cancel implements Source. Stderr is returned verbatim so callers can show
// amlt's own explanation.
func (s *CLISource) Cancel(ctx context.Context, id string, jobIndex *int) CancelResult {
	args := []string{"cancel", "-y", id}
	if jobIndex != nil {
		args = append(args, fmt.Sprintf(":%d", *jobIndex))
	}
	stdout, stderr, err := s.run(ctx, args...)
	if err != nil && stderr == "" {
		stderr = err.Error()
	}
	return CancelResult{OK: err == nil, Stdout: stdout, Stderr: stderr}
}

// Project implements Source.
func (s *CLISource) Project(ctx context.Context) (string, error) {
	stdout, _, err := s.run(ctx, "project")
	return stdout, err
}

func (s *CLISource) run(ctx context.Context, args ...string) (string, string, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	bin := s.Bin
	if bin == "" {
		bin = "amlt"
	}

	var stdout, stderr bytes.Buffer
	// #nosec G204 -- arguments are passed as argv, never through a shell
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	if s.Logger != nil {
		s.Logger.Debug("amlt invocation",
			zap.Strings("args", args),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
	}
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return stdout.String(), stderr.String(), fmt.Errorf("command timed out after %s", timeout)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return stdout.String(), stderr.String(), err
		}
		return stdout.String(), stderr.String(), fmt.Errorf("%w: %s", err, msg)
	}
	return stdout.String(), stderr.String(), nil
}

var _ Source = (*CLISource)(nil)
