package connector

import (
	"bytes"
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/pkg/errors"

	"github.com/mensylisir/remotexec/pkg/common"
	"github.com/mensylisir/remotexec/pkg/logger"
)

// FTPConfig describes an FTP server login.
type FTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	// Passive selects classic PASV data connections. Otherwise EPSV is
	// tried first. Active mode is not available.
	Passive bool
	// Binary switches the transfer type to image (I) instead of ASCII.
	Binary  bool
	Timeout time.Duration
}

func (c FTPConfig) Addr() string {
	port := c.Port
	if port == 0 {
		port = common.DefaultFTPPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

func (c FTPConfig) Validate() error {
	if c.Host == "" {
		return common.ConfigurationError("validate ftp config", "host is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return common.ConfigurationError("validate ftp config", "invalid port %d for host %s", c.Port, c.Host)
	}
	return nil
}

// ftpConn is the part of *ftp.ServerConn the session relies on.
type ftpConn interface {
	Login(user, password string) error
	Type(transferType ftp.TransferType) error
	Stor(path string, r io.Reader) error
	NoOp() error
	Quit() error
}

var dialFTP = func(addr string, opts ...ftp.DialOption) (ftpConn, error) {
	return ftp.Dial(addr, opts...)
}

// FTPSession is a logged in FTP control connection.
type FTPSession struct {
	cfg      FTPConfig
	log      *logger.Logger
	listener *protocolListener

	mu     sync.Mutex
	conn   ftpConn
	closed bool
}

// DialFTP connects and logs in. The user defaults to anonymous.
func DialFTP(ctx context.Context, cfg FTPConfig, log *logger.Logger) (*FTPSession, error) {
	if log == nil {
		log = logger.Get()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.User == "" {
		cfg.User = common.DefaultFTPUser
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = common.DefaultConnectionTimeout
	}
	log = log.With("host", cfg.Host)
	if !cfg.Passive {
		log.Debugf("Active FTP mode is not available, using extended passive mode")
	}

	listener := &protocolListener{log: log}
	conn, err := dialFTP(cfg.Addr(),
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(timeout),
		ftp.DialWithDisabledEPSV(cfg.Passive),
		ftp.DialWithDebugOutput(listener),
	)
	if err != nil {
		return nil, &ConnectionError{Host: cfg.Host, Err: errors.Wrap(err, "failed to connect to FTP server")}
	}

	if err := conn.Login(cfg.User, cfg.Password); err != nil {
		_ = conn.Quit()
		return nil, &ConnectionError{Host: cfg.Host, Err: errors.Wrapf(err, "login as %s refused", cfg.User)}
	}
	transfer := ftp.TransferTypeASCII
	if cfg.Binary {
		transfer = ftp.TransferTypeBinary
	}
	if err := conn.Type(transfer); err != nil {
		_ = conn.Quit()
		return nil, &ConnectionError{Host: cfg.Host, Err: errors.Wrap(err, "failed to set transfer type")}
	}

	log.Debugf("Logged in to FTP server as %s", cfg.User)
	return &FTPSession{cfg: cfg, log: log, listener: listener, conn: conn}, nil
}

func (s *FTPSession) Host() string {
	return s.cfg.Host
}

// Upload stores r at remotePath. The server must answer with a positive
// completion reply.
func (s *FTPSession) Upload(remotePath string, r io.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &ConnectionError{Host: s.cfg.Host, Err: errSessionClosed}
	}
	if err := s.conn.Stor(remotePath, r); err != nil {
		return &ConnectionError{Host: s.cfg.Host, Err: errors.Wrapf(err, "failed to store %s", remotePath)}
	}
	return nil
}

// IsConnected sends a NOOP to check the control connection.
func (s *FTPSession) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	return s.conn.NoOp() == nil
}

func (s *FTPSession) State() SessionState {
	if s.IsConnected() {
		return Connected
	}
	return Unconnected
}

// Disconnect quits and detaches the protocol listener. Calling it again is a
// no-op.
func (s *FTPSession) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.conn.Quit()
	s.listener.detach()
	if err != nil && !isClosedErr(err) {
		return &ConnectionError{Host: s.cfg.Host, Err: errors.Wrap(err, "failed to quit")}
	}
	return nil
}

// protocolListener receives the raw control connection traffic. Replies of
// 400 and above are logged as warnings, everything else at debug level.
type protocolListener struct {
	log *logger.Logger

	mu       sync.Mutex
	pending  bytes.Buffer
	detached bool
}

func (p *protocolListener) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.detached {
		return len(b), nil
	}
	p.pending.Write(b)
	for {
		line, err := p.pending.ReadString('\n')
		if err != nil {
			// incomplete line, keep it for the next write
			p.pending.Reset()
			p.pending.WriteString(line)
			break
		}
		p.logLine(strings.TrimRight(line, "\r\n"))
	}
	return len(b), nil
}

func (p *protocolListener) logLine(line string) {
	if line == "" {
		return
	}
	if strings.HasPrefix(strings.ToUpper(line), "PASS ") {
		line = "PASS ****"
	}
	if code, ok := replyCode(line); ok && code >= 400 {
		p.log.Warnf("FTP: %s", line)
		return
	}
	p.log.Debugf("FTP: %s", line)
}

func (p *protocolListener) detach() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.detached = true
	p.pending.Reset()
}

func replyCode(line string) (int, bool) {
	if len(line) < 3 {
		return 0, false
	}
	code, err := strconv.Atoi(line[:3])
	if err != nil {
		return 0, false
	}
	if len(line) > 3 && line[3] != ' ' && line[3] != '-' {
		return 0, false
	}
	return code, true
}
