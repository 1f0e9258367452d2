package cmd

import (
	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/fluxassets/cli/output"
)

type versionInfo struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	BuildDate string `json:"build_date" yaml:"build_date"`
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long:  `Display the version, commit hash, and build date of fluxassets.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		formatter.Writer = cmd.OutOrStdout()
		if formatter.Format != output.FormatTable {
			return formatter.Print(versionInfo{Version: Version, Commit: Commit, BuildDate: BuildDate})
		}
		formatter.PrintSuccess("fluxassets %s", Version)
		formatter.PrintSuccess("Commit: %s", Commit)
		formatter.PrintSuccess("Build Date: %s", BuildDate)
		return nil
	},
}
