package remotecmd

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/mensylisir/remotexec/pkg/common"
)

type rawCommand []byte

func (r rawCommand) AssembleRequest() ([]byte, error) { return r, nil }

type failingCommand struct{}

func (failingCommand) AssembleRequest() ([]byte, error)  { return nil, errors.New("field missing") }
func (failingCommand) AssembleResponse() ([]byte, error) { panic("nil result") }

func TestRender(t *testing.T) {
	data, err := Render(rawCommand("ping"), true)
	require.NoError(t, err)
	assert.Equal(t, []byte("ping"), data)

	_, err = Render(rawCommand("ping"), false)
	require.Error(t, err)
	assert.Equal(t, common.KindSerialization, common.KindOf(err))

	_, err = Render(nil, true)
	assert.Equal(t, common.KindSerialization, common.KindOf(err))
}

func TestRender_SerializerFailures(t *testing.T) {
	_, err := Render(failingCommand{}, true)
	require.Error(t, err)
	assert.Equal(t, common.KindSerialization, common.KindOf(err))
	assert.Contains(t, err.Error(), "field missing")

	_, err = Render(failingCommand{}, false)
	require.Error(t, err)
	assert.Equal(t, common.KindSerialization, common.KindOf(err))
	assert.Contains(t, err.Error(), "nil result")
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.rc")
	require.NoError(t, WriteFile(rawCommand("payload"), true, path))
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(content))

	err = WriteFile(rawCommand("x"), true, filepath.Join(t.TempDir(), "missing", "job.rc"))
	assert.Equal(t, common.KindSerialization, common.KindOf(err))
}

func TestEnvelope_Request(t *testing.T) {
	sent := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	e := &Envelope{
		ID:      "abc",
		Name:    "flow.run",
		Params:  map[string]string{"file": "/tmp/a.flow", "dotted.key": "v"},
		Payload: []byte(`{"retries":3}`),
		Sent:    sent,
	}
	data, err := e.AssembleRequest()
	require.NoError(t, err)

	doc := gjson.ParseBytes(data)
	assert.Equal(t, "abc", doc.Get("id").String())
	assert.Equal(t, "request", doc.Get("type").String())
	assert.Equal(t, "/tmp/a.flow", doc.Get("params.file").String())
	assert.Equal(t, int64(3), doc.Get("payload.retries").Int())

	parsed, isRequest, err := ParseEnvelope(data)
	require.NoError(t, err)
	assert.True(t, isRequest)
	assert.Equal(t, e.Params, parsed.Params)
	assert.Equal(t, "flow.run", parsed.Name)
	assert.True(t, sent.Equal(parsed.Sent))
	assert.JSONEq(t, `{"retries":3}`, string(parsed.Payload))
}

func TestEnvelope_Response(t *testing.T) {
	req := NewEnvelope("flow.run", nil)
	require.NotEmpty(t, req.ID)

	resp := req.Reply([]byte(`["ok"]`), errors.New("partially failed"))
	data, err := Render(resp, false)
	require.NoError(t, err)

	parsed, isRequest, err := ParseEnvelope(data)
	require.NoError(t, err)
	assert.False(t, isRequest)
	assert.Equal(t, req.ID, parsed.ID)
	assert.Equal(t, "partially failed", parsed.Error)
	assert.JSONEq(t, `["ok"]`, string(parsed.Result))
}

func TestEnvelope_Invalid(t *testing.T) {
	_, err := (&Envelope{}).AssembleRequest()
	assert.Error(t, err)

	_, err = (&Envelope{Name: "x", Payload: []byte("{not json")}).AssembleRequest()
	assert.Error(t, err)

	_, _, err = ParseEnvelope([]byte("nope"))
	assert.Error(t, err)

	_, _, err = ParseEnvelope([]byte(`{"id":"1"}`))
	assert.Error(t, err)
}
