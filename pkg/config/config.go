package config

// File is the top-level configuration object, typically parsed from
// remotexec.yaml or remotexec.toml.
type File struct {
	Logging     LoggingSpec   `yaml:"logging,omitempty" toml:"logging,omitempty"`
	Commands    []CommandSpec `yaml:"commands,omitempty" toml:"commands,omitempty"`
	Connections []Connection  `yaml:"connections,omitempty" toml:"connections,omitempty"`
}

// LoggingSpec configures the console and file outputs of the logger.
type LoggingSpec struct {
	Level     string `yaml:"level,omitempty" toml:"level,omitempty"`
	FileLevel string `yaml:"fileLevel,omitempty" toml:"fileLevel,omitempty"`
	// File enables the rotating JSON log file when set.
	File       string `yaml:"file,omitempty" toml:"file,omitempty"`
	Color      *bool  `yaml:"color,omitempty" toml:"color,omitempty"`
	MaxSizeMB  int    `yaml:"maxSizeMB,omitempty" toml:"maxSizeMB,omitempty"`
	MaxBackups int    `yaml:"maxBackups,omitempty" toml:"maxBackups,omitempty"`
	MaxAgeDays int    `yaml:"maxAgeDays,omitempty" toml:"maxAgeDays,omitempty"`
	Compress   bool   `yaml:"compress,omitempty" toml:"compress,omitempty"`
}

// CommandSpec is a named local command.
type CommandSpec struct {
	Name string `yaml:"name" toml:"name"`
	// Args are text/template strings with sprig functions; Vars feed them.
	Args       []string          `yaml:"args" toml:"args"`
	Vars       map[string]string `yaml:"vars,omitempty" toml:"vars,omitempty"`
	Async      bool              `yaml:"async,omitempty" toml:"async,omitempty"`
	OutputType string            `yaml:"outputType,omitempty" toml:"outputType,omitempty"`
	WorkDir    string            `yaml:"workDir,omitempty" toml:"workDir,omitempty"`
	Env        []string          `yaml:"env,omitempty" toml:"env,omitempty"`
	// StdoutPrefix and StderrPrefix decorate buffered output units.
	StdoutPrefix string `yaml:"stdoutPrefix,omitempty" toml:"stdoutPrefix,omitempty"`
	StderrPrefix string `yaml:"stderrPrefix,omitempty" toml:"stderrPrefix,omitempty"`
}

// Connection is a named transport to a remote peer. Type selects which of
// the fields apply.
type Connection struct {
	Name string `yaml:"name" toml:"name"`
	Type string `yaml:"type" toml:"type"`

	Host     string `yaml:"host" toml:"host"`
	Port     int    `yaml:"port,omitempty" toml:"port,omitempty"`
	User     string `yaml:"user,omitempty" toml:"user,omitempty"`
	Password string `yaml:"password,omitempty" toml:"password,omitempty"`
	// Timeout is a duration string such as "30s".
	Timeout string `yaml:"timeout,omitempty" toml:"timeout,omitempty"`

	// SSH based connections.
	AuthType              string       `yaml:"authType,omitempty" toml:"authType,omitempty"`
	PrivateKeyPath        string       `yaml:"privateKeyPath,omitempty" toml:"privateKeyPath,omitempty"`
	Passphrase            string       `yaml:"passphrase,omitempty" toml:"passphrase,omitempty"`
	KnownHostsPath        string       `yaml:"knownHostsPath,omitempty" toml:"knownHostsPath,omitempty"`
	StrictHostKeyChecking *bool        `yaml:"strictHostKeyChecking,omitempty" toml:"strictHostKeyChecking,omitempty"`
	Bastion               *BastionSpec `yaml:"bastion,omitempty" toml:"bastion,omitempty"`

	// ssh-tunnel
	LocalPort  *int   `yaml:"localPort,omitempty" toml:"localPort,omitempty"`
	RemoteHost string `yaml:"remoteHost,omitempty" toml:"remoteHost,omitempty"`
	RemotePort int    `yaml:"remotePort,omitempty" toml:"remotePort,omitempty"`

	// scp and ftp
	RemoteDir string `yaml:"remoteDir,omitempty" toml:"remoteDir,omitempty"`
	// Protocol is scp or sftp for scp connections.
	Protocol string `yaml:"protocol,omitempty" toml:"protocol,omitempty"`

	// ftp
	Passive bool `yaml:"passive,omitempty" toml:"passive,omitempty"`
	Binary  bool `yaml:"binary,omitempty" toml:"binary,omitempty"`
}

// BastionSpec is the jump host an SSH connection is tunnelled through.
type BastionSpec struct {
	Host           string `yaml:"host" toml:"host"`
	Port           int    `yaml:"port,omitempty" toml:"port,omitempty"`
	User           string `yaml:"user,omitempty" toml:"user,omitempty"`
	Password       string `yaml:"password,omitempty" toml:"password,omitempty"`
	PrivateKeyPath        string       `yaml:"privateKeyPath,omitempty" toml:"privateKeyPath,omitempty"`
	Passphrase            string       `yaml:"passphrase,omitempty" toml:"passphrase,omitempty"`
}

// Command returns the command named name.
func (f *File) Command(name string) (*CommandSpec, bool) {
	for i := range f.Commands {
		if f.Commands[i].Name == name {
			return &f.Commands[i], true
		}
	}
	return nil, false
}

// Connection returns the connection named name.
func (f *File) Connection(name string) (*Connection, bool) {
	for i := range f.Connections {
		if f.Connections[i].Name == name {
			return &f.Connections[i], true
		}
	}
	return nil, false
}
