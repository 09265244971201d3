package cmd

import (
	"github.com/spf13/cobra"

	cfgcmd "github.com/mensylisir/remotexec/cmd/remotexec/cmd/config"
	"github.com/mensylisir/remotexec/pkg/config"
	"github.com/mensylisir/remotexec/pkg/logger"
)

var (
	// Global flags
	verboseFlag bool
	configFile  string
	logFile     string

	// loadedConfig is set by the root pre-run when --config is given.
	loadedConfig *config.File
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "remotexec",
	Short: "remotexec runs local commands and delivers commands to remote peers.",
	Long: `remotexec runs external programs in blocking or streaming mode and
delivers rendered remote commands to peers over an SSH tunnel, SCP/SFTP or FTP.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logOpts := logger.DefaultOptions()
		if configFile != "" {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			loadedConfig = cfg
			if logOpts, err = cfg.Logging.LoggerOptions(); err != nil {
				return err
			}
		}
		if verboseFlag {
			logOpts.ConsoleLevel = logger.DebugLevel
		}
		if logFile != "" {
			logOpts.FileOutput = true
			logOpts.LogFilePath = logFile
		}
		logger.Init(logOpts)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.SyncGlobal()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file (.yaml or .toml)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write JSON logs to this rotating file")

	cfgcmd.AddConfigCommand(rootCmd)
}

func requireConfig() (*config.File, error) {
	if loadedConfig == nil {
		return nil, errNoConfig
	}
	return loadedConfig, nil
}
