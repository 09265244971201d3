package transport

import (
	"errors"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/mensylisir/remotexec/internal/sshtest"
	"github.com/mensylisir/remotexec/pkg/connector"
	"github.com/mensylisir/remotexec/pkg/remotecmd"
)

// peer is the remote end of a tunnel: every connection is read to EOF and
// reported as one message.
type peer struct {
	Port int
	got  chan string
}

func startPeer(t *testing.T) *peer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	p := &peer{Port: ln.Addr().(*net.TCPAddr).Port, got: make(chan string, 64)}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				b, _ := io.ReadAll(c)
				p.got <- string(b)
			}()
		}
	}()
	return p
}

func (p *peer) next(t *testing.T) string {
	t.Helper()
	select {
	case msg := <-p.got:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("peer received nothing")
		return ""
	}
}

func sshConfig(srv *sshtest.Server) connector.SSHConfig {
	return connector.SSHConfig{
		Host:            srv.Host,
		Port:            srv.Port,
		User:            srv.User(),
		Password:        srv.Password(),
		HostKeyCallback: ssh.FixedHostKey(srv.HostKey),
	}
}

func envelope(name string) *remotecmd.Envelope {
	return remotecmd.NewEnvelope(name, map[string]string{"target": "web"})
}

type brokenCommand struct{}

func (brokenCommand) AssembleRequest() ([]byte, error) {
	return nil, errors.New("cannot encode")
}

type panickingCommand struct{}

func (panickingCommand) AssembleRequest() ([]byte, error) {
	panic("encoder exploded")
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries, "temporary command files must be removed")
}
