package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/mensylisir/remotexec/pkg/connector"
	"github.com/mensylisir/remotexec/pkg/logger"
	"github.com/mensylisir/remotexec/pkg/remotecmd"
)

type recordingConn struct {
	name      string
	err       error
	delay     time.Duration
	inFlight  *atomic.Int32
	peak      *atomic.Int32
	mu        sync.Mutex
	requests  int
	responses int
}

func (c *recordingConn) send(request bool) error {
	if c.inFlight != nil {
		n := c.inFlight.Add(1)
		defer c.inFlight.Add(-1)
		for {
			p := c.peak.Load()
			if n <= p || c.peak.CompareAndSwap(p, n) {
				break
			}
		}
	}
	time.Sleep(c.delay)
	c.mu.Lock()
	defer c.mu.Unlock()
	if request {
		c.requests++
	} else {
		c.responses++
	}
	return c.err
}

func (c *recordingConn) SendRequest(context.Context, remotecmd.Command) error  { return c.send(true) }
func (c *recordingConn) SendResponse(context.Context, remotecmd.Command) error { return c.send(false) }
func (c *recordingConn) CleanUp() error                                        { return nil }
func (c *recordingConn) Name() string                                          { return c.name }
func (c *recordingConn) Connect(context.Context) error                         { return nil }
func (c *recordingConn) Invalidate() error                                     { return nil }
func (c *recordingConn) State() connector.SessionState                         { return connector.Unconnected }
func (c *recordingConn) SessionsCreated() int64                                { return 0 }

func TestBroadcast_AllSucceed(t *testing.T) {
	a := &recordingConn{name: "a"}
	b := &recordingConn{name: "b"}

	results, err := Broadcast(context.Background(), []ManagedConnection{a, b}, envelope("deploy"), true, 0, logger.Nop())
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].Connection)
	assert.Equal(t, "b", results[1].Connection)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, 1, a.requests)
	assert.Equal(t, 1, b.requests)
	assert.Zero(t, a.responses)
}

func TestBroadcast_Responses(t *testing.T) {
	a := &recordingConn{name: "a"}
	_, err := Broadcast(context.Background(), []ManagedConnection{a}, envelope("deploy"), false, 1, logger.Nop())
	require.NoError(t, err)
	assert.Equal(t, 1, a.responses)
	assert.Zero(t, a.requests)
}

func TestBroadcast_FailuresDoNotStopOthers(t *testing.T) {
	errA := errors.New("a is down")
	errC := errors.New("c is down")
	a := &recordingConn{name: "a", err: errA}
	b := &recordingConn{name: "b"}
	c := &recordingConn{name: "c", err: errC}

	results, err := Broadcast(context.Background(), []ManagedConnection{a, b, c}, envelope("deploy"), true, 1, logger.Nop())
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errC)
	assert.Equal(t, 1, b.requests)
	assert.ErrorIs(t, results[0].Err, errA)
	assert.NoError(t, results[1].Err)
	assert.ErrorIs(t, results[2].Err, errC)
}

func TestBroadcast_RespectsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	conns := make([]ManagedConnection, 6)
	for i := range conns {
		conns[i] = &recordingConn{name: string(rune('a' + i)), delay: 20 * time.Millisecond, inFlight: &inFlight, peak: &peak}
	}

	_, err := Broadcast(context.Background(), conns, envelope("deploy"), true, 2, logger.Nop())
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.GreaterOrEqual(t, peak.Load(), int32(1))
}

func TestBroadcast_Empty(t *testing.T) {
	results, err := Broadcast(context.Background(), nil, envelope("deploy"), true, 4, logger.Nop())
	require.NoError(t, err)
	assert.Empty(t, results)
}
