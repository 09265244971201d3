// Package lifecycle tears down the resources created during a run.
package lifecycle

import (
	"sync"

	"go.uber.org/multierr"

	"github.com/mensylisir/remotexec/pkg/common"
	"github.com/mensylisir/remotexec/pkg/logger"
)

// CleanUpper releases a resource. Implementations must tolerate repeated
// calls.
type CleanUpper interface {
	CleanUp() error
}

// CleanUpFunc adapts a function to CleanUpper.
type CleanUpFunc func() error

func (f CleanUpFunc) CleanUp() error { return f() }

type entry struct {
	name string
	res  CleanUpper
}

// Group cleans up every registered resource once, in reverse registration
// order.
type Group struct {
	log *logger.Logger

	mu       sync.Mutex
	entries  []entry
	done     bool
	finished chan struct{}
	err      error
}

func NewGroup(log *logger.Logger) *Group {
	if log == nil {
		log = logger.Get()
	}
	return &Group{log: log, finished: make(chan struct{})}
}

// Register adds res under name. Registering after CleanUpAll cleans the
// resource up immediately.
func (g *Group) Register(name string, res CleanUpper) error {
	if res == nil {
		return nil
	}
	g.mu.Lock()
	if g.done {
		g.mu.Unlock()
		return g.cleanUp(entry{name: name, res: res})
	}
	g.entries = append(g.entries, entry{name: name, res: res})
	g.mu.Unlock()
	return nil
}

// Len returns the number of resources waiting for clean up.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

// CleanUpAll cleans up every resource and aggregates the failures. Later
// calls wait for the first one to finish and return its result.
func (g *Group) CleanUpAll() error {
	g.mu.Lock()
	if g.finished == nil {
		g.finished = make(chan struct{})
	}
	finished := g.finished
	if g.done {
		g.mu.Unlock()
		<-finished
		return g.err
	}
	g.done = true
	entries := g.entries
	g.entries = nil
	g.mu.Unlock()

	var err error
	for i := len(entries) - 1; i >= 0; i-- {
		err = multierr.Append(err, g.cleanUp(entries[i]))
	}

	g.err = err
	close(finished)
	return err
}

func (g *Group) cleanUp(e entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = multierr.Append(err, common.FromPanic(common.KindUnknown, "clean up "+e.name, r))
		}
		if err != nil {
			g.log.Warnf("Clean up of %s failed: %v", e.name, err)
		} else {
			g.log.Debugf("Cleaned up %s", e.name)
		}
	}()
	return e.res.CleanUp()
}
