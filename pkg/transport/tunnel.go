package transport

import (
	"context"
	"net"
	"strconv"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/mensylisir/remotexec/pkg/common"
	"github.com/mensylisir/remotexec/pkg/connector"
	"github.com/mensylisir/remotexec/pkg/logger"
	"github.com/mensylisir/remotexec/pkg/remotecmd"
)

// SSHTunnelConfig configures an SSHTunnelConnection.
type SSHTunnelConfig struct {
	SSH connector.SSHConfig
	// LocalPort is the local end of the forward; 0 picks a free port.
	LocalPort int
	// RemoteHost defaults to SSH.Host.
	RemoteHost string
	// RemotePort defaults to common.DefaultScriptingPort.
	RemotePort int
}

func (c SSHTunnelConfig) withDefaults() SSHTunnelConfig {
	if c.RemoteHost == "" {
		c.RemoteHost = c.SSH.Host
	}
	if c.RemotePort == 0 {
		c.RemotePort = common.DefaultScriptingPort
	}
	return c
}

// SSHTunnelConnection forwards a local port to the peer through SSH and
// writes every rendered command to a fresh socket on that port.
type SSHTunnelConnection struct {
	base
	cfg       SSHTunnelConfig
	session   *connector.SSHSession
	localPort int
}

var _ ManagedConnection = (*SSHTunnelConnection)(nil)

func NewSSHTunnel(name string, cfg SSHTunnelConfig, log *logger.Logger) *SSHTunnelConnection {
	c := &SSHTunnelConnection{cfg: cfg.withDefaults()}
	c.init(name, common.ConnectionTypeSSHTunnel, log)
	return c
}

// Configure replaces the configuration. The current session is dropped.
func (c *SSHTunnelConnection) Configure(cfg SSHTunnelConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.invalidateLocked()
	c.cfg = cfg.withDefaults()
	return err
}

func (c *SSHTunnelConnection) SendRequest(ctx context.Context, cmd remotecmd.Command) error {
	return c.send(ctx, cmd, true)
}

func (c *SSHTunnelConnection) SendResponse(ctx context.Context, cmd remotecmd.Command) error {
	return c.send(ctx, cmd, false)
}

func (c *SSHTunnelConnection) send(ctx context.Context, cmd remotecmd.Command, request bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return guard(sendOp(request), func() error {
		data, err := remotecmd.Render(cmd, request)
		if err != nil {
			return err
		}
		if err := c.connectLocked(ctx); err != nil {
			return err
		}
		if err := c.deliver(ctx, data); err != nil {
			return err
		}
		c.log.Debugf("Delivered %d bytes through 127.0.0.1:%d", len(data), c.localPort)
		return nil
	})
}

func (c *SSHTunnelConnection) deliver(ctx context.Context, data []byte) error {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(c.localPort))
	d := net.Dialer{Timeout: common.DefaultConnectionTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return &connector.ConnectionError{Host: c.cfg.SSH.Host, Err: errors.Wrapf(err, "failed to open tunnel socket %s", addr)}
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, common.DefaultConnectionTimeout)
		defer cancel()
	}
	deadline, _ := ctx.Deadline()
	_ = conn.SetDeadline(deadline)

	// the peer must be reachable before the command is handed over
	if err := c.session.ConfirmForward(ctx, c.localPort, conn.LocalAddr().String()); err != nil {
		conn.Close()
		return err
	}
	_, err = conn.Write(data)
	err = multierr.Append(err, conn.Close())
	if err != nil {
		return &connector.ConnectionError{Host: c.cfg.SSH.Host, Err: errors.Wrap(err, "failed to write command to tunnel")}
	}
	return nil
}

// Connect opens the session and the forward unless both are already up.
func (c *SSHTunnelConnection) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *SSHTunnelConnection) connectLocked(ctx context.Context) error {
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
	port, err := session.ForwardLocal(c.cfg.LocalPort, c.cfg.RemoteHost, c.cfg.RemotePort)
	if err != nil {
		if derr := session.Disconnect(); derr != nil {
			c.log.Warnf("Failed to disconnect after forward setup failed: %v", derr)
		}
		return err
	}
	c.sessions.Add(1)
	c.session, c.localPort = session, port
	c.log.Infof("Tunnel 127.0.0.1:%d -> %s:%d via %s is up", port, c.cfg.RemoteHost, c.cfg.RemotePort, c.cfg.SSH.Host)
	return nil
}

// LocalPort is the bound local end of the forward, 0 while disconnected.
func (c *SSHTunnelConnection) LocalPort() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localPort
}

func (c *SSHTunnelConnection) State() connector.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return connector.Unconnected
	}
	return c.session.State()
}

// Invalidate removes the forward and disconnects.
func (c *SSHTunnelConnection) Invalidate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.invalidateLocked()
}

func (c *SSHTunnelConnection) CleanUp() error {
	return c.Invalidate()
}

func (c *SSHTunnelConnection) invalidateLocked() error {
	session, port := c.session, c.localPort
	c.session, c.localPort = nil, 0
	if session == nil {
		return nil
	}
	err := session.RemoveForward(port)
	err = multierr.Append(err, session.Disconnect())
	return err
}
