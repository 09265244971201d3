package transport

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/mensylisir/remotexec/internal/sshtest"
	"github.com/mensylisir/remotexec/pkg/common"
	"github.com/mensylisir/remotexec/pkg/connector"
	"github.com/mensylisir/remotexec/pkg/logger"
)

func readOnlyFile(t *testing.T, dir string) (string, string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	name := entries[0].Name()
	b, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	return name, string(b)
}

func TestSCP_SendRequest(t *testing.T) {
	for _, protocol := range []string{common.CopyProtocolSCP, common.CopyProtocolSFTP} {
		t.Run(protocol, func(t *testing.T) {
			srv := sshtest.NewServer(t)
			remoteDir, tempDir := t.TempDir(), t.TempDir()
			c := NewSCP("drop", SCPConfig{SSH: sshConfig(srv), RemoteDir: remoteDir, Protocol: protocol, TempDir: tempDir}, logger.Nop())
			defer c.CleanUp()

			require.NoError(t, c.SendRequest(context.Background(), envelope("deploy")))

			name, content := readOnlyFile(t, remoteDir)
			assert.True(t, strings.HasPrefix(name, common.RemoteCommandTempPrefix), name)
			assert.True(t, strings.HasSuffix(name, common.RemoteCommandExtension), name)
			assert.Equal(t, "deploy", gjson.Get(content, "name").String())
			assertDirEmpty(t, tempDir)
			assert.Equal(t, connector.Connected, c.State())
		})
	}
}

func TestSCP_ReusesSession(t *testing.T) {
	srv := sshtest.NewServer(t)
	remoteDir := t.TempDir()
	c := NewSCP("drop", SCPConfig{SSH: sshConfig(srv), RemoteDir: remoteDir, TempDir: t.TempDir()}, logger.Nop())
	defer c.CleanUp()

	require.NoError(t, c.SendRequest(context.Background(), envelope("one")))
	require.NoError(t, c.SendResponse(context.Background(), envelope("two").Reply(nil, nil)))

	entries, err := os.ReadDir(remoteDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, int64(1), c.SessionsCreated())
	assert.Equal(t, int64(1), srv.Logins())
}

func TestSCP_FailedCopyStillRemovesTempFile(t *testing.T) {
	srv := sshtest.NewServer(t)
	tempDir := t.TempDir()
	c := NewSCP("drop", SCPConfig{
		SSH:       sshConfig(srv),
		RemoteDir: filepath.Join(t.TempDir(), "absent"),
		TempDir:   tempDir,
	}, logger.Nop())
	defer c.CleanUp()

	err := c.SendRequest(context.Background(), envelope("deploy"))
	require.Error(t, err)
	assert.Equal(t, common.KindConnection, common.KindOf(err))
	assert.Equal(t, 1, strings.Count(err.Error(), "failed to connect to host"), err.Error())
	assertDirEmpty(t, tempDir)
}

func TestSCP_CopyFailureOverSFTPIsWrappedOnce(t *testing.T) {
	srv := sshtest.NewServer(t)
	c := NewSCP("drop", SCPConfig{
		SSH:       sshConfig(srv),
		RemoteDir: filepath.Join(t.TempDir(), "absent"),
		Protocol:  common.CopyProtocolSFTP,
		TempDir:   t.TempDir(),
	}, logger.Nop())
	defer c.CleanUp()

	err := c.SendRequest(context.Background(), envelope("deploy"))
	require.Error(t, err)
	var connErr *connector.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, srv.Host, connErr.Host)
	assert.Equal(t, 1, strings.Count(err.Error(), "failed to connect to host"), err.Error())
}

func TestSCP_InvalidCredentials(t *testing.T) {
	srv := sshtest.NewServer(t)
	cfg := sshConfig(srv)
	cfg.Password = "nope"
	tempDir := t.TempDir()
	c := NewSCP("drop", SCPConfig{SSH: cfg, RemoteDir: t.TempDir(), TempDir: tempDir}, logger.Nop())

	err := c.SendRequest(context.Background(), envelope("deploy"))
	assert.Equal(t, common.KindConnection, common.KindOf(err))
	assert.Equal(t, int64(0), c.SessionsCreated())
	assertDirEmpty(t, tempDir)
}

func TestSCP_MissingRemoteDir(t *testing.T) {
	c := NewSCP("drop", SCPConfig{SSH: connector.SSHConfig{Host: "h"}}, logger.Nop())
	err := c.SendRequest(context.Background(), envelope("deploy"))
	assert.Equal(t, common.KindConfiguration, common.KindOf(err))
}

func TestSCP_SerializationFailureLeavesNoFile(t *testing.T) {
	srv := sshtest.NewServer(t)
	tempDir := t.TempDir()
	c := NewSCP("drop", SCPConfig{SSH: sshConfig(srv), RemoteDir: t.TempDir(), TempDir: tempDir}, logger.Nop())

	err := c.SendRequest(context.Background(), brokenCommand{})
	assert.Equal(t, common.KindSerialization, common.KindOf(err))
	assertDirEmpty(t, tempDir)
	assert.Equal(t, int64(0), c.SessionsCreated())
}

func TestSCP_ConfigureAndCleanUp(t *testing.T) {
	srv := sshtest.NewServer(t)
	cfg := SCPConfig{SSH: sshConfig(srv), RemoteDir: t.TempDir(), TempDir: t.TempDir()}
	c := NewSCP("drop", cfg, logger.Nop())

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, int64(1), c.SessionsCreated())

	require.NoError(t, c.Configure(cfg))
	assert.Equal(t, connector.Unconnected, c.State())
	require.NoError(t, c.SendRequest(context.Background(), envelope("x")))
	assert.Equal(t, int64(2), c.SessionsCreated())

	require.NoError(t, c.CleanUp())
	require.NoError(t, c.CleanUp())
	assert.Equal(t, connector.Unconnected, c.State())
}
