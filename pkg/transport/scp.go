package transport

import (
	"context"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/mensylisir/remotexec/pkg/common"
	"github.com/mensylisir/remotexec/pkg/connector"
	"github.com/mensylisir/remotexec/pkg/logger"
	"github.com/mensylisir/remotexec/pkg/remotecmd"
)

// SCPConfig configures an SCPConnection.
type SCPConfig struct {
	SSH       connector.SSHConfig
	RemoteDir string
	// Protocol is common.CopyProtocolSCP (default) or common.CopyProtocolSFTP.
	Protocol string
	// TempDir holds the rendered command files; empty uses os.TempDir.
	TempDir string
}

// SCPConnection copies each rendered command as a .rc file into RemoteDir.
type SCPConnection struct {
	base
	cfg     SCPConfig
	session *connector.SSHSession
}

var _ ManagedConnection = (*SCPConnection)(nil)

func NewSCP(name string, cfg SCPConfig, log *logger.Logger) *SCPConnection {
	c := &SCPConnection{cfg: cfg}
	c.init(name, common.ConnectionTypeSCP, log)
	return c
}

// Configure replaces the configuration. The current session is dropped.
func (c *SCPConnection) Configure(cfg SCPConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.invalidateLocked()
	c.cfg = cfg
	return err
}

func (c *SCPConnection) SendRequest(ctx context.Context, cmd remotecmd.Command) error {
	return c.send(ctx, cmd, true)
}

func (c *SCPConnection) SendResponse(ctx context.Context, cmd remotecmd.Command) error {
	return c.send(ctx, cmd, false)
}

func (c *SCPConnection) send(ctx context.Context, cmd remotecmd.Command, request bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return guard(sendOp(request), func() error {
		if c.cfg.RemoteDir == "" {
			return common.ConfigurationError(sendOp(request), "remote directory is not set for %s", c.name)
		}
		local, cleanup, err := renderTemp(cmd, request, c.cfg.TempDir, c.log)
		if err != nil {
			return err
		}
		defer cleanup()

		if err := c.connectLocked(ctx); err != nil {
			return err
		}
		name := filepath.Base(local)
		if c.cfg.Protocol == common.CopyProtocolSFTP {
			err = c.session.CopyFileSFTP(ctx, local, c.cfg.RemoteDir, name)
		} else {
			err = c.session.CopyFile(ctx, local, c.cfg.RemoteDir, name)
		}
		if err != nil {
			var connErr *connector.ConnectionError
			if errors.As(err, &connErr) {
				return err
			}
			return &connector.ConnectionError{Host: c.cfg.SSH.Host, Err: err}
		}
		c.log.Debugf("Copied %s into %s", name, c.cfg.RemoteDir)
		return nil
	})
}

// Connect opens the SSH session unless it is already up.
func (c *SCPConnection) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *SCPConnection) connectLocked(ctx context.Context) error {
	if c.session != nil {
		if c.session.IsConnected() {
			return nil
		}
		c.log.Warnf("SSH session to %s was lost, reconnecting", c.cfg.SSH.Host)
		_ = c.invalidateLocked()
	}
	session, err := connector.Dial(ctx, c.cfg.SSH, c.log)
	if err != nil {
		return err
	}
	c.sessions.Add(1)
	c.session = session
	return nil
}

func (c *SCPConnection) State() connector.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return connector.Unconnected
	}
	return c.session.State()
}

func (c *SCPConnection) Invalidate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.invalidateLocked()
}

func (c *SCPConnection) CleanUp() error {
	return c.Invalidate()
}

func (c *SCPConnection) invalidateLocked() error {
	session := c.session
	c.session = nil
	if session == nil {
		return nil
	}
	return session.Disconnect()
}
