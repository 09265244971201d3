package config

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/mensylisir/remotexec/pkg/config"
)

// ConfigCmd represents the config command group
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect remotexec configuration files",
}

// AddConfigCommand adds the config command to the parent command.
func AddConfigCommand(parentCmd *cobra.Command) {
	parentCmd.AddCommand(ConfigCmd)
}

// loadFromFlag loads the file named by the inherited --config flag.
func loadFromFlag(cmd *cobra.Command) (*config.File, string, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, "", err
	}
	if path == "" {
		return nil, "", errors.New("no configuration file given, pass --config")
	}
	cfg, err := config.Load(path)
	return cfg, path, err
}
