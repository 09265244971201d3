package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mensylisir/remotexec/pkg/common"
	"github.com/mensylisir/remotexec/pkg/executor"
	"github.com/mensylisir/remotexec/pkg/logger"
)

// ValidationErrors collects every problem found in a configuration.
type ValidationErrors struct{ Errors []string }

func (ve *ValidationErrors) Add(format string, args ...interface{}) {
	ve.Errors = append(ve.Errors, fmt.Sprintf(format, args...))
}

func (ve *ValidationErrors) Error() string {
	if len(ve.Errors) == 0 {
		return "no validation errors"
	}
	return strings.Join(ve.Errors, "; ")
}

func (ve *ValidationErrors) IsEmpty() bool { return len(ve.Errors) == 0 }

// Validate checks cfg after SetDefaults. The returned error is a
// ConfigurationError wrapping *ValidationErrors.
func Validate(cfg *File) error {
	if cfg == nil {
		return common.ConfigurationError("validate config", "configuration is nil")
	}
	verrs := &ValidationErrors{}

	if _, err := logger.ParseLevel(cfg.Logging.Level); err != nil {
		verrs.Add("logging.level: %v", err)
	}
	if _, err := logger.ParseLevel(cfg.Logging.FileLevel); err != nil {
		verrs.Add("logging.fileLevel: %v", err)
	}

	seen := make(map[string]bool)
	for i, cmd := range cfg.Commands {
		path := fmt.Sprintf("commands[%d]", i)
		if cmd.Name == "" {
			verrs.Add("%s.name: cannot be empty", path)
		} else if seen["cmd:"+cmd.Name] {
			verrs.Add("%s.name: duplicate command %q", path, cmd.Name)
		}
		seen["cmd:"+cmd.Name] = true
		if len(cmd.Args) == 0 {
			verrs.Add("%s.args: cannot be empty", path)
		}
		if _, err := executor.ParseOutputType(cmd.OutputType); err != nil {
			verrs.Add("%s.outputType: %v", path, err)
		}
	}

	for i, c := range cfg.Connections {
		path := fmt.Sprintf("connections[%d]", i)
		if c.Name == "" {
			verrs.Add("%s.name: cannot be empty", path)
		} else if seen["conn:"+c.Name] {
			verrs.Add("%s.name: duplicate connection %q", path, c.Name)
		}
		seen["conn:"+c.Name] = true
		validateConnection(verrs, path, c)
	}

	if !verrs.IsEmpty() {
		return common.Wrap(common.KindConfiguration, "validate config", verrs)
	}
	return nil
}

func validateConnection(verrs *ValidationErrors, path string, c Connection) {
	if c.Host == "" {
		verrs.Add("%s.host: cannot be empty", path)
	}
	if !validPort(c.Port) {
		verrs.Add("%s.port: %d is out of range", path, c.Port)
	}
	if c.Timeout != "" {
		if d, err := time.ParseDuration(c.Timeout); err != nil || d <= 0 {
			verrs.Add("%s.timeout: invalid duration %q", path, c.Timeout)
		}
	}

	switch c.Type {
	case common.ConnectionTypeSSHTunnel, common.ConnectionTypeSCP:
		if c.User == "" {
			verrs.Add("%s.user: required for %s connections", path, c.Type)
		}
		switch c.AuthType {
		case "":
			if c.Password == "" && c.PrivateKeyPath == "" {
				verrs.Add("%s: password or privateKeyPath is required", path)
			}
		case common.AuthTypeCredentials:
			if c.Password == "" {
				verrs.Add("%s.password: required for %s authentication", path, c.AuthType)
			}
		case common.AuthTypePublicKey:
			if c.PrivateKeyPath == "" {
				verrs.Add("%s.privateKeyPath: required for %s authentication", path, c.AuthType)
			}
		default:
			verrs.Add("%s.authType: unknown value %q", path, c.AuthType)
		}
		if b := c.Bastion; b != nil {
			if b.Host == "" {
				verrs.Add("%s.bastion.host: cannot be empty", path)
			}
			if !validPort(b.Port) {
				verrs.Add("%s.bastion.port: %d is out of range", path, b.Port)
			}
			if b.Password == "" && b.PrivateKeyPath == "" {
				verrs.Add("%s.bastion: password or privateKeyPath is required", path)
			}
		}
	case common.ConnectionTypeFTP:
	case "":
		verrs.Add("%s.type: cannot be empty", path)
		return
	default:
		verrs.Add("%s.type: unknown connection type %q", path, c.Type)
		return
	}

	switch c.Type {
	case common.ConnectionTypeSSHTunnel:
		if c.LocalPort != nil && !validPort(*c.LocalPort) {
			verrs.Add("%s.localPort: %d is out of range", path, *c.LocalPort)
		}
		if c.RemotePort < 1 || c.RemotePort > 65535 {
			verrs.Add("%s.remotePort: %d is out of range", path, c.RemotePort)
		}
	case common.ConnectionTypeSCP:
		if c.RemoteDir == "" {
			verrs.Add("%s.remoteDir: cannot be empty", path)
		}
		if c.Protocol != common.CopyProtocolSCP && c.Protocol != common.CopyProtocolSFTP {
			verrs.Add("%s.protocol: must be %s or %s", path, common.CopyProtocolSCP, common.CopyProtocolSFTP)
		}
	case common.ConnectionTypeFTP:
		if c.RemoteDir == "" {
			verrs.Add("%s.remoteDir: cannot be empty", path)
		}
	}
}

func validPort(p int) bool {
	return p >= 0 && p <= 65535
}
