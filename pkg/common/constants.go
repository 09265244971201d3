package common

import "time"

// This file centralizes the default values shared by the executor, the
// session resources and the transports.

// Default SSH tunnel parameters.
const (
	// DefaultTunnelLocalPort is the local end of the SSH port forward.
	DefaultTunnelLocalPort = 9000
	// DefaultScriptingPort is the port the remote peer listens on for commands.
	DefaultScriptingPort = 12345
)

// Default FTP parameters.
const (
	DefaultFTPPort = 21
	DefaultFTPUser = "anonymous"
)

// RemoteCommandExtension is the file extension used when a remote command is
// delivered as a file (SCP and FTP).
const RemoteCommandExtension = ".rc"

// RemoteCommandTempPrefix is the prefix of the local temporary files holding a
// rendered remote command before upload.
const RemoteCommandTempPrefix = "remotecmd-"

// Output polling of asynchronous commands.
const (
	// OutputPollAttempts is the number of waits performed before giving up.
	OutputPollAttempts = 10
	// OutputPollInterval is the nominal length of a single wait.
	OutputPollInterval = 100 * time.Millisecond
	// OutputPollJitter is the maximum deviation applied to OutputPollInterval.
	OutputPollJitter = 20 * time.Millisecond
)

// Connection types understood by the transport factory.
const (
	ConnectionTypeSSHTunnel = "ssh-tunnel"
	ConnectionTypeSCP       = "scp"
	ConnectionTypeFTP       = "ftp"
)

// Secure copy protocols.
const (
	CopyProtocolSCP  = "scp"
	CopyProtocolSFTP = "sftp"
)
