package transport

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/mensylisir/remotexec/pkg/common"
	"github.com/mensylisir/remotexec/pkg/connector"
	"github.com/mensylisir/remotexec/pkg/logger"
)

type fakeFTPSession struct {
	mu          sync.Mutex
	uploads     map[string]string
	uploadErr   error
	connected   bool
	disconnects int
}

func (f *fakeFTPSession) Upload(remotePath string, r io.Reader) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return f.uploadErr
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.uploads[remotePath] = string(b)
	return nil
}

func (f *fakeFTPSession) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeFTPSession) State() connector.SessionState {
	if f.IsConnected() {
		return connector.Connected
	}
	return connector.Unconnected
}

func (f *fakeFTPSession) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnects++
	return nil
}

type ftpDialer struct {
	mu       sync.Mutex
	sessions []*fakeFTPSession
	err      error
	configs  []connector.FTPConfig
}

func (d *ftpDialer) install(t *testing.T) {
	t.Helper()
	original := openFTP
	openFTP = func(_ context.Context, cfg connector.FTPConfig, _ *logger.Logger) (ftpSession, error) {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.configs = append(d.configs, cfg)
		if d.err != nil {
			return nil, d.err
		}
		s := &fakeFTPSession{uploads: make(map[string]string), connected: true}
		d.sessions = append(d.sessions, s)
		return s, nil
	}
	t.Cleanup(func() { openFTP = original })
}

func (d *ftpDialer) last() *fakeFTPSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessions[len(d.sessions)-1]
}

func newFTP(t *testing.T) (*FTPConnection, *ftpDialer, string) {
	t.Helper()
	d := &ftpDialer{}
	d.install(t)
	tempDir := t.TempDir()
	c := NewFTP("ftp-drop", FTPConfig{
		FTP:       connector.FTPConfig{Host: "files.local", User: "ops", Password: "pw", Binary: true},
		RemoteDir: "/incoming",
		TempDir:   tempDir,
	}, logger.Nop())
	return c, d, tempDir
}

func TestFTP_SendRequest(t *testing.T) {
	c, d, tempDir := newFTP(t)

	require.NoError(t, c.SendRequest(context.Background(), envelope("deploy")))

	s := d.last()
	require.Len(t, s.uploads, 1)
	for remotePath, content := range s.uploads {
		assert.Equal(t, "/incoming", path.Dir(remotePath))
		base := path.Base(remotePath)
		require.True(t, strings.HasSuffix(base, common.RemoteCommandExtension))
		_, err := uuid.Parse(strings.TrimSuffix(base, common.RemoteCommandExtension))
		assert.NoError(t, err, "remote names are uuids")
		assert.Equal(t, "deploy", gjson.Get(content, "name").String())
	}
	assertDirEmpty(t, tempDir)
	assert.True(t, d.configs[0].Binary)
	assert.Equal(t, connector.Connected, c.State())
}

func TestFTP_UniqueNamesAndOneSession(t *testing.T) {
	c, d, _ := newFTP(t)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.SendRequest(context.Background(), envelope("job")))
		}()
	}
	wg.Wait()

	assert.Len(t, d.last().uploads, 6)
	assert.Equal(t, int64(1), c.SessionsCreated())
}

func TestFTP_LoginFailure(t *testing.T) {
	c, d, tempDir := newFTP(t)
	d.err = &connector.ConnectionError{Host: "files.local", Err: errors.New("530 Login incorrect")}

	err := c.SendRequest(context.Background(), envelope("deploy"))
	require.Error(t, err)
	assert.Equal(t, common.KindConnection, common.KindOf(err))
	assert.Equal(t, int64(0), c.SessionsCreated())
	assert.Equal(t, connector.Unconnected, c.State())
	assertDirEmpty(t, tempDir)
}

func TestFTP_UploadFailure(t *testing.T) {
	c, d, tempDir := newFTP(t)
	require.NoError(t, c.Connect(context.Background()))
	d.last().uploadErr = &connector.ConnectionError{Host: "files.local", Err: errors.New("553 denied")}

	err := c.SendRequest(context.Background(), envelope("deploy"))
	assert.Equal(t, common.KindConnection, common.KindOf(err))
	assertDirEmpty(t, tempDir)
}

func TestFTP_ReconnectsLostSession(t *testing.T) {
	c, d, _ := newFTP(t)
	require.NoError(t, c.Connect(context.Background()))
	first := d.last()
	first.mu.Lock()
	first.connected = false
	first.mu.Unlock()

	require.NoError(t, c.SendRequest(context.Background(), envelope("deploy")))
	assert.Equal(t, int64(2), c.SessionsCreated())
	assert.Equal(t, 1, first.disconnects)
	assert.Len(t, d.last().uploads, 1)
}

func TestFTP_CleanUpIsIdempotent(t *testing.T) {
	c, d, _ := newFTP(t)
	require.NoError(t, c.SendRequest(context.Background(), envelope("deploy")))
	s := d.last()

	require.NoError(t, c.CleanUp())
	require.NoError(t, c.CleanUp())
	assert.Equal(t, 1, s.disconnects)
	assert.Equal(t, connector.Unconnected, c.State())
}

func TestFTP_ConfigureDropsSession(t *testing.T) {
	c, d, _ := newFTP(t)
	require.NoError(t, c.Connect(context.Background()))
	s := d.last()

	require.NoError(t, c.Configure(FTPConfig{FTP: connector.FTPConfig{Host: "other.local"}, RemoteDir: "/in"}))
	assert.Equal(t, 1, s.disconnects)
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, "other.local", d.configs[1].Host)
}

func TestFTP_MissingRemoteDir(t *testing.T) {
	c := NewFTP("", FTPConfig{FTP: connector.FTPConfig{Host: "h"}}, logger.Nop())
	err := c.SendRequest(context.Background(), envelope("deploy"))
	assert.Equal(t, common.KindConfiguration, common.KindOf(err))
	assert.Equal(t, common.ConnectionTypeFTP, c.Name())
}
