package lifecycle

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/mensylisir/remotexec/pkg/logger"
)

type counter struct {
	mu    sync.Mutex
	calls int
	err   error
	order *[]string
	name  string
}

func (c *counter) CleanUp() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.order != nil {
		*c.order = append(*c.order, c.name)
	}
	return c.err
}

func TestGroup_CleanUpAllOnce(t *testing.T) {
	g := NewGroup(logger.Nop())
	var order []string
	a := &counter{name: "a", order: &order}
	b := &counter{name: "b", order: &order}
	require.NoError(t, g.Register("a", a))
	require.NoError(t, g.Register("b", b))
	require.NoError(t, g.Register("nil", nil))
	assert.Equal(t, 2, g.Len())

	require.NoError(t, g.CleanUpAll())
	require.NoError(t, g.CleanUpAll())
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
	assert.Equal(t, []string{"b", "a"}, order)
	assert.Equal(t, 0, g.Len())
}

func TestGroup_AggregatesErrors(t *testing.T) {
	g := NewGroup(logger.Nop())
	errA := errors.New("a failed")
	errB := errors.New("b failed")
	ok := &counter{}
	require.NoError(t, g.Register("a", &counter{err: errA}))
	require.NoError(t, g.Register("ok", ok))
	require.NoError(t, g.Register("b", &counter{err: errB}))

	err := g.CleanUpAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.Len(t, multierr.Errors(err), 2)
	assert.Equal(t, 1, ok.calls, "a failure does not stop the others")

	assert.Equal(t, err, g.CleanUpAll())
}

func TestGroup_RecoversPanics(t *testing.T) {
	g := NewGroup(logger.Nop())
	after := &counter{}
	require.NoError(t, g.Register("after", after))
	require.NoError(t, g.Register("boom", CleanUpFunc(func() error { panic("boom") })))

	err := g.CleanUpAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, 1, after.calls)
}

func TestGroup_RegisterAfterCleanUp(t *testing.T) {
	g := NewGroup(logger.Nop())
	require.NoError(t, g.CleanUpAll())

	late := &counter{}
	require.NoError(t, g.Register("late", late))
	assert.Equal(t, 1, late.calls)

	failing := &counter{err: errors.New("late failure")}
	assert.Error(t, g.Register("failing", failing))
}

func TestGroup_ConcurrentCleanUp(t *testing.T) {
	g := NewGroup(logger.Nop())
	c := &counter{}
	require.NoError(t, g.Register("c", c))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.CleanUpAll()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, c.calls)
}

type blockingCleanUp struct {
	started chan struct{}
	release chan struct{}
	err     error
}

func (b *blockingCleanUp) CleanUp() error {
	close(b.started)
	<-b.release
	return b.err
}

func TestGroup_LateCallerWaitsForResult(t *testing.T) {
	g := NewGroup(logger.Nop())
	res := &blockingCleanUp{started: make(chan struct{}), release: make(chan struct{}), err: errors.New("busy")}
	require.NoError(t, g.Register("slow", res))

	first := make(chan error, 1)
	go func() { first <- g.CleanUpAll() }()
	<-res.started

	second := make(chan error, 1)
	go func() { second <- g.CleanUpAll() }()
	select {
	case err := <-second:
		t.Fatalf("second CleanUpAll returned %v before the first finished", err)
	case <-time.After(100 * time.Millisecond):
	}

	close(res.release)
	assert.ErrorIs(t, <-first, res.err)
	assert.ErrorIs(t, <-second, res.err)
}
