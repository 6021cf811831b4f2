package cmd

import (
	"fmt"
	"runtime"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")
		info := struct {
			VersionInfo
			GoVersion string `json:"go_version"`
			Crucible  string `json:"crucible,omitempty"`
			Gofulmen  string `json:"gofulmen,omitempty"`
		}{VersionInfo: versionInfo, GoVersion: runtime.Version()}
		v := crucible.GetVersion()
		info.Crucible, info.Gofulmen = v.Crucible, v.Gofulmen

		out := cmd.OutOrStdout()
		if jsonOut {
			return writeJSONTo(out, info)
		}
		_, _ = fmt.Fprintf(out, "jobwatch %s (commit %s, built %s, %s)\n", info.Version, info.Commit, info.BuildDate, info.GoVersion)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().Bool("json", false, "Output as JSON")
}
