package config

import (
	"time"

	"github.com/mensylisir/remotexec/pkg/argv"
	"github.com/mensylisir/remotexec/pkg/common"
	"github.com/mensylisir/remotexec/pkg/connector"
	"github.com/mensylisir/remotexec/pkg/executor"
	"github.com/mensylisir/remotexec/pkg/logger"
)

// LoggerOptions converts the logging section into logger options.
func (l LoggingSpec) LoggerOptions() (logger.Options, error) {
	opts := logger.DefaultOptions()
	if l.Level != "" {
		lvl, err := logger.ParseLevel(l.Level)
		if err != nil {
			return opts, common.Wrap(common.KindConfiguration, "logging.level", err)
		}
		opts.ConsoleLevel = lvl
	}
	if l.FileLevel != "" {
		lvl, err := logger.ParseLevel(l.FileLevel)
		if err != nil {
			return opts, common.Wrap(common.KindConfiguration, "logging.fileLevel", err)
		}
		opts.FileLevel = lvl
	}
	if l.File != "" {
		opts.FileOutput = true
		opts.LogFilePath = l.File
	}
	if l.Color != nil {
		opts.ColorConsole = *l.Color
	}
	if l.MaxSizeMB > 0 {
		opts.MaxSizeMB = l.MaxSizeMB
	}
	if l.MaxBackups > 0 {
		opts.MaxBackups = l.MaxBackups
	}
	if l.MaxAgeDays > 0 {
		opts.MaxAgeDays = l.MaxAgeDays
	}
	opts.Compress = l.Compress
	return opts, nil
}

// ExecutorOptions builds executor options for the command. extra variables
// override the configured ones.
func (c CommandSpec) ExecutorOptions(extra map[string]interface{}) (executor.Options, error) {
	outputType, err := executor.ParseOutputType(c.OutputType)
	if err != nil {
		return executor.Options{}, err
	}
	vars := make(map[string]interface{}, len(c.Vars)+len(extra))
	for k, v := range c.Vars {
		vars[k] = v
	}
	for k, v := range extra {
		vars[k] = v
	}
	mode := executor.Blocking
	if c.Async {
		mode = executor.Async
	}
	return executor.Options{
		Argv:       &argv.Template{Args: c.Args, Vars: vars},
		Mode:       mode,
		OutputType: outputType,
		WorkDir:    c.WorkDir,
		Env:        c.Env,
		Formatter:  executor.PrefixFormatter{Stdout: c.StdoutPrefix, Stderr: c.StderrPrefix},
	}, nil
}

// TimeoutDuration parses Timeout. Zero means the connector default.
func (c Connection) TimeoutDuration() time.Duration {
	if c.Timeout == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0
	}
	return d
}

// SSHConfig converts an ssh-tunnel or scp connection.
func (c Connection) SSHConfig() (connector.SSHConfig, error) {
	if c.Type != common.ConnectionTypeSSHTunnel && c.Type != common.ConnectionTypeSCP {
		return connector.SSHConfig{}, common.ConfigurationError("ssh config", "connection %q of type %q is not SSH based", c.Name, c.Type)
	}
	strict := true
	if c.StrictHostKeyChecking != nil {
		strict = *c.StrictHostKeyChecking
	}
	cfg := connector.SSHConfig{
		Host:                  c.Host,
		Port:                  c.Port,
		AuthType:              c.AuthType,
		User:                  c.User,
		Password:              c.Password,
		PrivateKeyPath:        c.PrivateKeyPath,
		Passphrase:            c.Passphrase,
		KnownHostsPath:        c.KnownHostsPath,
		InsecureIgnoreHostKey: !strict,
		Timeout:               c.TimeoutDuration(),
	}
	if b := c.Bastion; b != nil {
		cfg.Bastion = &connector.SSHConfig{
			Host:                  b.Host,
			Port:                  b.Port,
			User:                  b.User,
			Password:              b.Password,
			PrivateKeyPath:        b.PrivateKeyPath,
			Passphrase:            b.Passphrase,
			KnownHostsPath:        c.KnownHostsPath,
			InsecureIgnoreHostKey: !strict,
			Timeout:               c.TimeoutDuration(),
		}
	}
	return cfg, nil
}

// FTPConfig converts an ftp connection.
func (c Connection) FTPConfig() (connector.FTPConfig, error) {
	if c.Type != common.ConnectionTypeFTP {
		return connector.FTPConfig{}, common.ConfigurationError("ftp config", "connection %q of type %q is not ftp", c.Name, c.Type)
	}
	return connector.FTPConfig{
		Host:     c.Host,
		Port:     c.Port,
		User:     c.User,
		Password: c.Password,
		Passive:  c.Passive,
		Binary:   c.Binary,
		Timeout:  c.TimeoutDuration(),
	}, nil
}

// Tunnel returns the forward parameters of an ssh-tunnel connection with
// defaults applied.
func (c Connection) Tunnel() (localPort int, remoteHost string, remotePort int) {
	localPort = common.DefaultTunnelLocalPort
	if c.LocalPort != nil {
		localPort = *c.LocalPort
	}
	remoteHost = c.RemoteHost
	if remoteHost == "" {
		remoteHost = c.Host
	}
	remotePort = c.RemotePort
	if remotePort == 0 {
		remotePort = common.DefaultScriptingPort
	}
	return localPort, remoteHost, remotePort
}
