package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mensylisir/remotexec/pkg/argv"
	"github.com/mensylisir/remotexec/pkg/executor"
	"github.com/mensylisir/remotexec/pkg/logger"
)

type execOptions struct {
	async        bool
	outputType   string
	stdoutPrefix string
	stderrPrefix string
	workDir      string
	vars         []string
	env          []string
	summary      bool
}

var execOpts = &execOptions{}

func init() {
	rootCmd.AddCommand(execCmd)
	execCmd.Flags().BoolVar(&execOpts.async, "async", false, "Stream output while the process runs")
	execCmd.Flags().StringVarP(&execOpts.outputType, "output-type", "o", "stdout", "Buffered output: none|stdout|stderr|both")
	execCmd.Flags().StringVar(&execOpts.stdoutPrefix, "prefix-stdout", "", "Prefix for stdout units")
	execCmd.Flags().StringVar(&execOpts.stderrPrefix, "prefix-stderr", "", "Prefix for stderr units")
	execCmd.Flags().StringVar(&execOpts.workDir, "workdir", "", "Working directory of the process")
	execCmd.Flags().StringArrayVar(&execOpts.vars, "var", nil, "Template variable key=value for the arguments (repeatable)")
	execCmd.Flags().StringArrayVar(&execOpts.env, "env", nil, "Extra environment entry KEY=value (repeatable)")
	execCmd.Flags().BoolVar(&execOpts.summary, "summary", false, "Print a summary table when done")
}

var execCmd = &cobra.Command{
	Use:   "exec [flags] -- program [args...]",
	Short: "Run a local program and print its output",
	Long: `Runs a program and prints the buffered output units. Arguments are
text/template strings with sprig functions, fed by --var.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vars, err := argv.ParseVars(execOpts.vars)
		if err != nil {
			return err
		}
		outputType, err := executor.ParseOutputType(execOpts.outputType)
		if err != nil {
			return err
		}
		mode := executor.Blocking
		if execOpts.async {
			mode = executor.Async
		}
		c := executor.New(executor.Options{
			Argv:       &argv.Template{Args: args, Vars: vars},
			Mode:       mode,
			OutputType: outputType,
			WorkDir:    execOpts.workDir,
			Env:        execOpts.env,
			Formatter:  executor.PrefixFormatter{Stdout: execOpts.stdoutPrefix, Stderr: execOpts.stderrPrefix},
			Logger:     logger.Get(),
		})
		return runAndReport(cmd, c, execOpts.summary)
	},
}

func runAndReport(cmd *cobra.Command, c *executor.Command, summary bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer c.CleanUp()

	err := drive(ctx, c, cmd.OutOrStdout())
	if summary {
		printSummary(cmd.OutOrStdout(), c, err)
	}
	return err
}
