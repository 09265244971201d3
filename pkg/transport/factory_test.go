package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mensylisir/remotexec/pkg/common"
	"github.com/mensylisir/remotexec/pkg/config"
	"github.com/mensylisir/remotexec/pkg/logger"
)

func TestNew(t *testing.T) {
	cfg, err := config.LoadFromBytes([]byte(`
connections:
  - name: tunnel
    type: ssh-tunnel
    host: peer.local
    user: ops
    password: pw
  - name: copy
    type: scp
    host: peer.local
    user: ops
    password: pw
    remoteDir: /srv/in
    protocol: sftp
  - name: drop
    type: ftp
    host: files.local
    remoteDir: /incoming
    passive: true
`), config.FormatYAML)
	require.NoError(t, err)

	conn, err := New(cfg.Connections[0], logger.Nop())
	require.NoError(t, err)
	tunnel, ok := conn.(*SSHTunnelConnection)
	require.True(t, ok)
	assert.Equal(t, "tunnel", tunnel.Name())
	assert.Equal(t, common.DefaultTunnelLocalPort, tunnel.cfg.LocalPort)
	assert.Equal(t, "peer.local", tunnel.cfg.RemoteHost)
	assert.Equal(t, common.DefaultScriptingPort, tunnel.cfg.RemotePort)
	assert.False(t, tunnel.cfg.SSH.InsecureIgnoreHostKey)

	conn, err = New(cfg.Connections[1], logger.Nop())
	require.NoError(t, err)
	scp, ok := conn.(*SCPConnection)
	require.True(t, ok)
	assert.Equal(t, common.CopyProtocolSFTP, scp.cfg.Protocol)
	assert.Equal(t, "/srv/in", scp.cfg.RemoteDir)

	conn, err = New(cfg.Connections[2], logger.Nop())
	require.NoError(t, err)
	ftp, ok := conn.(*FTPConnection)
	require.True(t, ok)
	assert.True(t, ftp.cfg.FTP.Passive)
	assert.Equal(t, common.DefaultFTPUser, ftp.cfg.FTP.User)
}

func TestNew_UnknownType(t *testing.T) {
	_, err := New(config.Connection{Name: "x", Type: "telnet"}, logger.Nop())
	assert.Equal(t, common.KindConfiguration, common.KindOf(err))
}
