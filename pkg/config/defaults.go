package config

import (
	"os"
	"strings"

	"github.com/mensylisir/remotexec/pkg/common"
)

// SetDefaults applies default values for fields that were not explicitly
// set. It modifies cfg in place.
func SetDefaults(cfg *File) {
	if cfg == nil {
		return
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.FileLevel == "" {
		cfg.Logging.FileLevel = "debug"
	}
	if cfg.Logging.Color == nil {
		cfg.Logging.Color = boolPtr(true)
	}

	for i := range cfg.Commands {
		cmd := &cfg.Commands[i]
		if cmd.OutputType == "" {
			cmd.OutputType = "stdout"
		}
	}

	for i := range cfg.Connections {
		c := &cfg.Connections[i]
		c.Type = strings.ToLower(c.Type)
		c.Password = expandSecret(c.Password)
		c.Passphrase = expandSecret(c.Passphrase)

		switch c.Type {
		case common.ConnectionTypeSSHTunnel, common.ConnectionTypeSCP:
			if c.Port == 0 {
				c.Port = common.DefaultSSHPort
			}
			if c.StrictHostKeyChecking == nil {
				c.StrictHostKeyChecking = boolPtr(true)
			}
			if c.Bastion != nil {
				c.Bastion.Password = expandSecret(c.Bastion.Password)
				c.Bastion.Passphrase = expandSecret(c.Bastion.Passphrase)
				if c.Bastion.Port == 0 {
					c.Bastion.Port = common.DefaultSSHPort
				}
				if c.Bastion.User == "" {
					c.Bastion.User = c.User
				}
			}
		case common.ConnectionTypeFTP:
			if c.Port == 0 {
				c.Port = common.DefaultFTPPort
			}
			if c.User == "" {
				c.User = common.DefaultFTPUser
			}
		}

		switch c.Type {
		case common.ConnectionTypeSSHTunnel:
			if c.LocalPort == nil {
				c.LocalPort = intPtr(common.DefaultTunnelLocalPort)
			}
			if c.RemoteHost == "" {
				c.RemoteHost = c.Host
			}
			if c.RemotePort == 0 {
				c.RemotePort = common.DefaultScriptingPort
			}
		case common.ConnectionTypeSCP:
			if c.Protocol == "" {
				c.Protocol = common.CopyProtocolSCP
			}
		}
	}
}

// expandSecret resolves a value of the form ${VAR} from the environment.
// Anything else is returned unchanged so secrets may contain '$'.
func expandSecret(v string) string {
	if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") && len(v) > 3 {
		return os.Getenv(v[2 : len(v)-1])
	}
	return v
}

func boolPtr(b bool) *bool { return &b }

func intPtr(i int) *int { return &i }
