package cmd

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var tagCmd = &cobra.Command{
	Use:   "tag",
	Short: "Label experiments",
	Long: `Attach a free-form label to experiments. Tags are local to this machine
and can be used to filter listings with --tag.

Examples:
  jobwatch tag set my-experiment baseline
  jobwatch tag ls baseline
  jobwatch list --tag baseline`,
}

var tagSetCmd = &cobra.Command{
	Use:   "set <experiment> <tag>",
	Short: "Tag an experiment",
	Args:  cobra.ExactArgs(2),
	RunE:  runTagSet,
}

var tagRmCmd = &cobra.Command{
	Use:     "rm <experiment>...",
	Aliases: []string{"remove"},
	Short:   "Remove the tag of experiments",
	Args:    cobra.MinimumNArgs(1),
	RunE:    runTagRm,
}

var tagLsCmd = &cobra.Command{
	Use:   "ls [tag]",
	Short: "List tagged experiments",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTagLs,
}

func init() {
	rootCmd.AddCommand(tagCmd)
	tagCmd.AddCommand(tagSetCmd, tagRmCmd, tagLsCmd)
	tagLsCmd.Flags().Bool("json", false, "Output as JSON")
}

func runTagSet(cmd *cobra.Command, args []string) error {
	s, err := newSession()
	if err != nil {
		return exitError(exitFileNotFound, "Cannot locate cache directory", err)
	}
	if err := s.caches.Tags.Set(args[0], args[1]); err != nil {
		return exitError(exitFileWrite, "Failed to save tag", err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Tagged %s as %s\n", args[0], s.caches.Tags.Get(args[0]))
	return nil
}

func runTagRm(cmd *cobra.Command, args []string) error {
	s, err := newSession()
	if err != nil {
		return exitError(exitFileNotFound, "Cannot locate cache directory", err)
	}
	for _, id := range args {
		if err := s.caches.Tags.Set(id, ""); err != nil {
			return exitError(exitFileWrite, "Failed to save tag", err)
		}
	}
	return nil
}

func runTagLs(cmd *cobra.Command, args []string) error {
	jsonOut, _ := cmd.Flags().GetBool("json")
	s, err := newSession()
	if err != nil {
		return exitError(exitFileNotFound, "Cannot locate cache directory", err)
	}

	tags := s.caches.Tags.All()
	if len(args) == 1 {
		only := map[string]string{}
		for _, id := range s.caches.Tags.Tagged(args[0]) {
			only[id] = args[0]
		}
		tags = only
	}

	out := cmd.OutOrStdout()
	if jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(tags)
	}
	if len(tags) == 0 {
		_, _ = fmt.Fprintln(out, "No tagged experiments")
		return nil
	}
	ids := make([]string, 0, len(tags))
	for id := range tags {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	t := newTable("EXPERIMENT", "TAG")
	for _, id := range ids {
		t.add(id, tags[id])
	}
	t.render(out, "")
	return nil
}
