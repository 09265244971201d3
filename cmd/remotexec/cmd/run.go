package cmd

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/mensylisir/remotexec/pkg/argv"
	"github.com/mensylisir/remotexec/pkg/executor"
	"github.com/mensylisir/remotexec/pkg/logger"
)

var (
	runVars    []string
	runSummary bool
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringArrayVar(&runVars, "var", nil, "Override a template variable key=value (repeatable)")
	runCmd.Flags().BoolVar(&runSummary, "summary", true, "Print a summary table when done")
}

var runCmd = &cobra.Command{
	Use:   "run <command-name>",
	Short: "Run a command defined in the configuration file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := requireConfig()
		if err != nil {
			return err
		}
		spec, ok := cfg.Command(args[0])
		if !ok {
			return errors.Errorf("command %q is not defined in %s", args[0], configFile)
		}
		vars, err := argv.ParseVars(runVars)
		if err != nil {
			return err
		}
		opts, err := spec.ExecutorOptions(vars)
		if err != nil {
			return err
		}
		opts.Logger = logger.Get().With("command", spec.Name)
		return runAndReport(cmd, executor.New(opts), runSummary)
	},
}
