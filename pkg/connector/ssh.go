package connector

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/crypto/ssh"

	"github.com/mensylisir/remotexec/pkg/common"
	"github.com/mensylisir/remotexec/pkg/logger"
)

// SSHSession is an authenticated SSH client together with the local port
// forwards established through it.
type SSHSession struct {
	cfg     SSHConfig
	log     *logger.Logger
	client  *ssh.Client
	bastion *ssh.Client

	mu       sync.Mutex
	forwards map[int]*forward
	closed   bool
}

// Dial validates cfg, authenticates and verifies the host key. A nil log
// falls back to the global logger.
func Dial(ctx context.Context, cfg SSHConfig, log *logger.Logger) (*SSHSession, error) {
	if log == nil {
		log = logger.Get()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log = log.With("host", cfg.Host)

	client, bastion, err := currentDialer(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	log.Debugf("SSH session established as %s", cfg.User)
	return &SSHSession{
		cfg:      cfg,
		log:      log,
		client:   client,
		bastion:  bastion,
		forwards: make(map[int]*forward),
	}, nil
}

// Client exposes the underlying SSH client.
func (s *SSHSession) Client() *ssh.Client {
	return s.client
}

func (s *SSHSession) Host() string {
	return s.cfg.Host
}

// keepAliveTimeout bounds the keepalive request sent by IsConnected.
var keepAliveTimeout = 5 * time.Second

// IsConnected checks the connection with a keepalive request. A reply that
// does not arrive within keepAliveTimeout counts as a lost connection.
func (s *SSHSession) IsConnected() bool {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed || s.client == nil {
		return false
	}
	reply := make(chan error, 1)
	go func() {
		_, _, err := s.client.SendRequest(common.KeepAliveRequest, true, nil)
		reply <- err
	}()
	timer := time.NewTimer(keepAliveTimeout)
	defer timer.Stop()
	select {
	case err := <-reply:
		return err == nil
	case <-timer.C:
		s.log.Warnf("No keepalive reply within %s", keepAliveTimeout)
		return false
	}
}

func (s *SSHSession) State() SessionState {
	if s.IsConnected() {
		return Connected
	}
	return Unconnected
}

// ForwardLocal listens on 127.0.0.1:localPort and forwards every accepted
// connection to remoteHost:remotePort as seen from the SSH server. A
// localPort of 0 picks a free port. The port actually bound is returned.
func (s *SSHSession) ForwardLocal(localPort int, remoteHost string, remotePort int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, &ConnectionError{Host: s.cfg.Host, Err: errSessionClosed}
	}
	f, err := startForward(s.client, localPort, remoteHost, remotePort, s.log)
	if err != nil {
		return 0, &ConnectionError{Host: s.cfg.Host, Err: err}
	}
	s.forwards[f.localPort] = f
	s.log.Debugf("Forwarding 127.0.0.1:%d to %s", f.localPort, f.remoteAddr)
	return f.localPort, nil
}

// RemoveForward stops the forward bound to localPort. Unknown ports are
// ignored.
func (s *SSHSession) RemoveForward(localPort int) error {
	s.mu.Lock()
	f, ok := s.forwards[localPort]
	delete(s.forwards, localPort)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return f.close()
}

// ConfirmForward waits until the forward bound to localPort has opened its
// remote end for the local connection from clientAddr. A remote end that
// could not be opened is reported as a ConnectionError.
func (s *SSHSession) ConfirmForward(ctx context.Context, localPort int, clientAddr string) error {
	s.mu.Lock()
	f, ok := s.forwards[localPort]
	s.mu.Unlock()
	if !ok {
		return &ConnectionError{Host: s.cfg.Host, Err: errors.Errorf("no forward on local port %d", localPort)}
	}
	if err := f.await(ctx, clientAddr); err != nil {
		return &ConnectionError{Host: s.cfg.Host, Err: errors.Wrapf(err, "failed to open tunnel to %s", f.remoteAddr)}
	}
	return nil
}

// Forwards lists the bound local ports.
func (s *SSHSession) Forwards() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	ports := make([]int, 0, len(s.forwards))
	for p := range s.forwards {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	return ports
}

// Disconnect removes all forwards and closes the session. It is safe to call
// more than once.
func (s *SSHSession) Disconnect() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	forwards := s.forwards
	s.forwards = make(map[int]*forward)
	s.mu.Unlock()

	var err error
	for _, f := range forwards {
		err = multierr.Append(err, f.close())
	}
	if s.client != nil {
		err = multierr.Append(err, ignoreClosed(s.client.Close()))
	}
	if s.bastion != nil {
		err = multierr.Append(err, ignoreClosed(s.bastion.Close()))
	}
	s.log.Debugf("SSH session closed")
	return err
}
