package common

import "time"

// Default SSH connection parameters.
const (
	DefaultSSHPort           = 22
	DefaultConnectionTimeout = 30 * time.Second
	DefaultSSHKeyFile        = ".ssh/id_rsa"
	DefaultKnownHostsFile    = ".ssh/known_hosts"
)

// SSH authentication types.
const (
	AuthTypeCredentials = "credentials"
	AuthTypePublicKey   = "public-key"
)

// KeepAliveRequest is the global request used to check that an SSH client is alive.
const KeepAliveRequest = "keepalive@openssh.com"
