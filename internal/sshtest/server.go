// Package sshtest runs an in-process SSH server for tests. It accepts
// password and public key logins, tunnels direct-tcpip channels, sinks
// "scp -t" uploads and serves the sftp subsystem.
package sshtest

import (
	"crypto/ed25519"
	"crypto/rand"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Server is a running test SSH server bound to 127.0.0.1.
type Server struct {
	Host    string
	Port    int
	HostKey ssh.PublicKey

	user          string
	password      string
	authorizedKey ssh.PublicKey
	holdRequests  bool

	ln     net.Listener
	config *ssh.ServerConfig
	logins atomic.Int64

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// Option customizes a Server.
type Option func(*Server)

// WithPassword sets the accepted user and password. The default is
// tester/secret.
func WithPassword(user, password string) Option {
	return func(s *Server) {
		s.user = user
		s.password = password
	}
}

// WithAuthorizedKey additionally accepts public key logins with key.
func WithAuthorizedKey(key ssh.PublicKey) Option {
	return func(s *Server) {
		s.authorizedKey = key
	}
}

// WithUnansweredRequests makes the server swallow global requests such as
// keepalives without replying, like a peer behind a half-open connection.
func WithUnansweredRequests() Option {
	return func(s *Server) {
		s.holdRequests = true
	}
}

// NewServer starts a server and stops it when the test ends.
func NewServer(t testing.TB, opts ...Option) *Server {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("failed to create host signer: %v", err)
	}

	s := &Server{
		HostKey:  signer.PublicKey(),
		user:     "tester",
		password: "secret",
		conns:    make(map[net.Conn]struct{}),
	}
	for _, o := range opts {
		o(s)
	}

	s.config = &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, pw []byte) (*ssh.Permissions, error) {
			if meta.User() == s.user && string(pw) == s.password {
				return nil, nil
			}
			return nil, errAuth
		},
		PublicKeyCallback: func(meta ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if s.authorizedKey != nil && meta.User() == s.user && string(key.Marshal()) == string(s.authorizedKey.Marshal()) {
				return nil, nil
			}
			return nil, errAuth
		},
	}
	s.config.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	s.ln = ln
	s.Host = "127.0.0.1"
	s.Port = ln.Addr().(*net.TCPAddr).Port

	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

var errAuth = &authError{}

type authError struct{}

func (*authError) Error() string { return "permission denied" }

// Addr returns host:port.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

func (s *Server) User() string     { return s.user }
func (s *Server) Password() string { return s.password }

// Logins counts successful handshakes.
func (s *Server) Logins() int64 {
	return s.logins.Load()
}

// KnownHostsLine returns a known_hosts entry for the server.
func (s *Server) KnownHostsLine() string {
	return knownhosts.Line([]string{knownhosts.Normalize(s.Addr())}, s.HostKey)
}

// Close stops the listener and drops all connections.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.ln.Close()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	sconn, chans, reqs, err := ssh.NewServerConn(conn, s.config)
	if err != nil {
		return
	}
	defer sconn.Close()
	s.logins.Add(1)
	if s.holdRequests {
		go func() {
			for range reqs {
			}
		}()
	} else {
		go ssh.DiscardRequests(reqs)
	}

	var chWG sync.WaitGroup
	defer chWG.Wait()
	for newCh := range chans {
		chWG.Add(1)
		go func(newCh ssh.NewChannel) {
			defer chWG.Done()
			switch newCh.ChannelType() {
			case "direct-tcpip":
				s.handleDirectTCPIP(newCh)
			case "session":
				handleSession(newCh)
			default:
				_ = newCh.Reject(ssh.UnknownChannelType, "unsupported channel type")
			}
		}(newCh)
	}
}

type directTCPIPPayload struct {
	DestAddr string
	DestPort uint32
	OrigAddr string
	OrigPort uint32
}

// track registers c so Close can drop it. It reports false once the server
// is closed.
func (s *Server) track(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
}

func (s *Server) handleDirectTCPIP(newCh ssh.NewChannel) {
	var p directTCPIPPayload
	if err := ssh.Unmarshal(newCh.ExtraData(), &p); err != nil {
		_ = newCh.Reject(ssh.ConnectionFailed, "malformed direct-tcpip request")
		return
	}
	target, err := net.Dial("tcp", net.JoinHostPort(p.DestAddr, strconv.Itoa(int(p.DestPort))))
	if err != nil {
		_ = newCh.Reject(ssh.ConnectionFailed, err.Error())
		return
	}
	if !s.track(target) {
		target.Close()
		_ = newCh.Reject(ssh.ConnectionFailed, "server closed")
		return
	}
	defer s.untrack(target)
	ch, reqs, err := newCh.Accept()
	if err != nil {
		target.Close()
		return
	}
	go ssh.DiscardRequests(reqs)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(target, ch)
		if tc, ok := target.(*net.TCPConn); ok {
			_ = tc.CloseWrite()
		}
	}()
	go func() {
		defer wg.Done()
		_, _ = io.Copy(ch, target)
		_ = ch.CloseWrite()
	}()
	wg.Wait()
	ch.Close()
	target.Close()
}

func handleSession(newCh ssh.NewChannel) {
	ch, reqs, err := newCh.Accept()
	if err != nil {
		return
	}
	defer ch.Close()

	for req := range reqs {
		switch req.Type {
		case "exec":
			var p struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &p); err != nil {
				_ = req.Reply(false, nil)
				continue
			}
			target, ok := scpTarget(p.Command)
			if !ok {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			status := uint32(0)
			if err := scpSink(ch, target); err != nil {
				status = 1
			}
			_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
			return
		case "subsystem":
			var p struct{ Name string }
			if err := ssh.Unmarshal(req.Payload, &p); err != nil || p.Name != "sftp" {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			server, err := sftp.NewServer(ch)
			if err != nil {
				return
			}
			_ = server.Serve()
			return
		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}

// scpTarget extracts the destination of an "scp [-flags] -t path" sink
// command.
func scpTarget(command string) (string, bool) {
	rest, ok := strings.CutPrefix(command, "scp ")
	if !ok {
		return "", false
	}
	sink := false
	for {
		rest = strings.TrimSpace(rest)
		if !strings.HasPrefix(rest, "-") {
			break
		}
		flag, tail, _ := strings.Cut(rest, " ")
		if strings.Contains(flag, "t") {
			sink = true
		}
		rest = tail
	}
	if !sink || rest == "" {
		return "", false
	}
	return unquote(rest), true
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		if u, err := strconv.Unquote(s); err == nil {
			return u
		}
	}
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		s = s[1 : len(s)-1]
		s = strings.ReplaceAll(s, `'\''`, `'`)
	}
	return s
}
