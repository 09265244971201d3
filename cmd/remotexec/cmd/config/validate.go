package config

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mensylisir/remotexec/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Check a configuration file without using it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(args[0])
		if err != nil {
			return err
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %d commands, %d connections\n",
			green("valid"), args[0], len(cfg.Commands), len(cfg.Connections))
		return nil
	},
}

func init() {
	ConfigCmd.AddCommand(validateCmd)
}
