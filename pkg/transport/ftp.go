package transport

import (
	"context"
	"io"
	"os"
	"path"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/mensylisir/remotexec/pkg/common"
	"github.com/mensylisir/remotexec/pkg/connector"
	"github.com/mensylisir/remotexec/pkg/logger"
	"github.com/mensylisir/remotexec/pkg/remotecmd"
)

// FTPConfig configures an FTPConnection.
type FTPConfig struct {
	FTP       connector.FTPConfig
	RemoteDir string
	// TempDir holds the rendered command files; empty uses os.TempDir.
	TempDir string
}

type ftpSession interface {
	Upload(remotePath string, r io.Reader) error
	IsConnected() bool
	State() connector.SessionState
	Disconnect() error
}

// openFTP is replaced in tests.
var openFTP = func(ctx context.Context, cfg connector.FTPConfig, log *logger.Logger) (ftpSession, error) {
	return connector.DialFTP(ctx, cfg, log)
}

// FTPConnection uploads each rendered command as <uuid>.rc into RemoteDir.
type FTPConnection struct {
	base
	cfg     FTPConfig
	session ftpSession
}

var _ ManagedConnection = (*FTPConnection)(nil)

func NewFTP(name string, cfg FTPConfig, log *logger.Logger) *FTPConnection {
	c := &FTPConnection{cfg: cfg}
	c.init(name, common.ConnectionTypeFTP, log)
	return c
}

// Configure replaces the configuration. The current session is dropped.
func (c *FTPConnection) Configure(cfg FTPConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.invalidateLocked()
	c.cfg = cfg
	return err
}

func (c *FTPConnection) SendRequest(ctx context.Context, cmd remotecmd.Command) error {
	return c.send(ctx, cmd, true)
}

func (c *FTPConnection) SendResponse(ctx context.Context, cmd remotecmd.Command) error {
	return c.send(ctx, cmd, false)
}

func (c *FTPConnection) send(ctx context.Context, cmd remotecmd.Command, request bool) error {
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
		f, err := os.Open(local)
		if err != nil {
			return common.SerializationError(sendOp(request), errors.Wrapf(err, "failed to open %s", local))
		}
		defer f.Close()

		target := path.Join(c.cfg.RemoteDir, uuid.NewString()+common.RemoteCommandExtension)
		if err := c.session.Upload(target, f); err != nil {
			return err
		}
		c.log.Debugf("Uploaded %s", target)
		return nil
	})
}

// Connect logs in unless a live session exists.
func (c *FTPConnection) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *FTPConnection) connectLocked(ctx context.Context) error {
	if c.session != nil {
		if c.session.IsConnected() {
			return nil
		}
		c.log.Warnf("FTP session to %s was lost, reconnecting", c.cfg.FTP.Host)
		_ = c.invalidateLocked()
	}
	session, err := openFTP(ctx, c.cfg.FTP, c.log)
	if err != nil {
		return err
	}
	c.sessions.Add(1)
	c.session = session
	return nil
}

func (c *FTPConnection) State() connector.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return connector.Unconnected
	}
	return c.session.State()
}

func (c *FTPConnection) Invalidate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.invalidateLocked()
}

func (c *FTPConnection) CleanUp() error {
	return c.Invalidate()
}

func (c *FTPConnection) invalidateLocked() error {
	session := c.session
	c.session = nil
	if session == nil {
		return nil
	}
	return session.Disconnect()
}
