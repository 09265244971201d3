package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version will be set by the build process
var Version = "dev"
var Commit = "none"
var Date = "unknown"

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of remotexec",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "remotexec version: %s\n", Version)
		fmt.Fprintf(out, "Git Commit: %s\n", Commit)
		fmt.Fprintf(out, "Build Date: %s\n", Date)
	},
}
