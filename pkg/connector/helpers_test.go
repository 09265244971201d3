package connector

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/mensylisir/remotexec/internal/sshtest"
	"github.com/mensylisir/remotexec/pkg/logger"
)

// syncBuffer is a bytes.Buffer safe for concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testLogger(t *testing.T) (*logger.Logger, *syncBuffer) {
	t.Helper()
	out := &syncBuffer{}
	opts := logger.DefaultOptions()
	opts.ConsoleLevel = logger.DebugLevel
	opts.ColorConsole = false
	l, err := logger.NewLoggerWithCustomSink(opts, out)
	require.NoError(t, err)
	return l, out
}

func passwordConfig(srv *sshtest.Server) SSHConfig {
	return SSHConfig{
		Host:                  srv.Host,
		Port:                  srv.Port,
		User:                  srv.User(),
		Password:              srv.Password(),
		InsecureIgnoreHostKey: true,
	}
}

func generateKey(t *testing.T, passphrase string) (ssh.PublicKey, []byte) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	var block *pem.Block
	if passphrase == "" {
		block, err = ssh.MarshalPrivateKey(priv, "")
	} else {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(priv, "", []byte(passphrase))
	}
	require.NoError(t, err)
	sshPub, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	return sshPub, pem.EncodeToMemory(block)
}

// startEcho serves connections that echo everything back until EOF.
func startEcho(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				_, _ = io.Copy(c, c)
			}()
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}
