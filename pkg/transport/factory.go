package transport

import (
	"github.com/mensylisir/remotexec/pkg/common"
	"github.com/mensylisir/remotexec/pkg/config"
	"github.com/mensylisir/remotexec/pkg/logger"
)

// New builds the connection described by c.
func New(c config.Connection, log *logger.Logger) (ManagedConnection, error) {
	switch c.Type {
	case common.ConnectionTypeSSHTunnel:
		sshCfg, err := c.SSHConfig()
		if err != nil {
			return nil, err
		}
		localPort, remoteHost, remotePort := c.Tunnel()
		return NewSSHTunnel(c.Name, SSHTunnelConfig{
			SSH:        sshCfg,
			LocalPort:  localPort,
			RemoteHost: remoteHost,
			RemotePort: remotePort,
		}, log), nil
	case common.ConnectionTypeSCP:
		sshCfg, err := c.SSHConfig()
		if err != nil {
			return nil, err
		}
		return NewSCP(c.Name, SCPConfig{SSH: sshCfg, RemoteDir: c.RemoteDir, Protocol: c.Protocol}, log), nil
	case common.ConnectionTypeFTP:
		ftpCfg, err := c.FTPConfig()
		if err != nil {
			return nil, err
		}
		return NewFTP(c.Name, FTPConfig{FTP: ftpCfg, RemoteDir: c.RemoteDir}, log), nil
	default:
		return nil, common.ConfigurationError("new connection", "unknown connection type %q for %s", c.Type, c.Name)
	}
}
