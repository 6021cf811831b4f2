package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/3leaps/jobwatch/internal/observability"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <experiment>",
	Short: "Cancel an experiment or one of its jobs",
	Long: `Cancel an experiment, or a single job of it with --job, through amlt.

The experiment name must be typed back to confirm. Without a terminal on
stdin the command refuses to run unless --yes is given.

Examples:
  jobwatch cancel my-experiment
  jobwatch cancel my-experiment --job 3 --yes`,
	Args: cobra.ExactArgs(1),
	RunE: runCancel,
}

func init() {
	rootCmd.AddCommand(cancelCmd)

	cancelCmd.Flags().Int("job", -1, "Cancel only the job with this index")
	cancelCmd.Flags().Bool("yes", false, "Skip the confirmation prompt")
}

// stdinIsTerminal is replaced in tests.
var stdinIsTerminal = func() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

var errCancelAborted = errors.New("cancel aborted")

// confirmCancel asks the user to type the experiment name.
func confirmCancel(in io.Reader, out io.Writer, id string, job *int) error {
	target := id
	if job != nil {
		target = fmt.Sprintf("%s :%d", id, *job)
	}
	_, _ = fmt.Fprintf(out, "This will cancel %s.\nType the experiment name to confirm: ", target)

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if strings.TrimSpace(line) != id {
		return errCancelAborted
	}
	return nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	id := strings.TrimSpace(args[0])
	if id == "" {
		return exitError(exitInvalidArgument, "Invalid experiment", errors.New("experiment name is empty"))
	}
	jobFlag, _ := cmd.Flags().GetInt("job")
	yes, _ := cmd.Flags().GetBool("yes")

	var job *int
	if cmd.Flags().Changed("job") {
		if jobFlag < 0 {
			return exitError(exitInvalidArgument, "Invalid job index", fmt.Errorf("--job must be >= 0, got %d", jobFlag))
		}
		job = &jobFlag
	}

	if !yes {
		if !stdinIsTerminal() {
			return exitError(exitInvalidArgument, "Refusing to cancel", errors.New("stdin is not a terminal; pass --yes to confirm"))
		}
		if err := confirmCancel(cmd.InOrStdin(), cmd.ErrOrStderr(), id, job); err != nil {
			return exitError(exitInvalidArgument, "Cancel not confirmed", err)
		}
	}

	s, err := newSession()
	if err != nil {
		return exitError(exitFileNotFound, "Cannot locate cache directory", err)
	}

	res := s.client.Cancel(cmd.Context(), id, job)
	out := cmd.OutOrStdout()
	if res.Stdout != "" {
		_, _ = fmt.Fprint(out, ensureNewline(res.Stdout))
	}
	if !res.OK {
		msg := strings.TrimSpace(res.Stderr)
		if msg == "" {
			msg = "amlt cancel failed"
		}
		_, _ = fmt.Fprint(cmd.ErrOrStderr(), ensureNewline(res.Stderr))
		return exitError(exitExternalService, "Cancel failed", errors.New(msg))
	}

	if err := s.caches.Details.Remove(id); err != nil {
		observability.CLILogger.Warn("Failed to drop cached detail", zap.String("experiment", id), zap.Error(err))
	}
	observability.CLILogger.Info("Cancel requested", zap.String("experiment", id), zap.Bool("single_job", job != nil))
	return nil
}

func ensureNewline(s string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
