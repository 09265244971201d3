// Package transport delivers rendered remote commands to a peer over an SSH
// tunnel, a secure copy or FTP. Each connection owns at most one session,
// created on the first send and reused until it is invalidated.
package transport

import (
	"context"
	"os"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/mensylisir/remotexec/pkg/common"
	"github.com/mensylisir/remotexec/pkg/connector"
	"github.com/mensylisir/remotexec/pkg/logger"
	"github.com/mensylisir/remotexec/pkg/remotecmd"
)

// Connection sends remote commands to a peer.
type Connection interface {
	SendRequest(ctx context.Context, cmd remotecmd.Command) error
	SendResponse(ctx context.Context, cmd remotecmd.Command) error
	// CleanUp releases the session. It is safe to call more than once and
	// the connection stays usable afterwards.
	CleanUp() error
}

// ManagedConnection exposes the session handling of a connection.
type ManagedConnection interface {
	Connection
	Name() string
	Connect(ctx context.Context) error
	Invalidate() error
	State() connector.SessionState
	SessionsCreated() int64
}

// base carries what every connection variant shares. mu serializes sends
// and guards the session check-then-create.
type base struct {
	name     string
	log      *logger.Logger
	mu       sync.Mutex
	sessions atomic.Int64
}

func (b *base) init(name, kind string, log *logger.Logger) {
	if log == nil {
		log = logger.Get()
	}
	if name == "" {
		name = kind
	}
	b.name = name
	b.log = log.With("connection", name)
}

func (b *base) Name() string { return b.name }

// SessionsCreated counts the sessions opened over the connection's lifetime.
func (b *base) SessionsCreated() int64 { return b.sessions.Load() }

// guard turns a panic inside fn into an error.
func guard(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = common.FromPanic(common.KindUnknown, op, r)
		}
	}()
	return fn()
}

func sendOp(request bool) string {
	if request {
		return "send request"
	}
	return "send response"
}

// renderTemp writes cmd to a new temporary .rc file in dir. The returned
// cleanup removes the file and only logs a failure to do so.
func renderTemp(cmd remotecmd.Command, request bool, dir string, log *logger.Logger) (string, func(), error) {
	f, err := os.CreateTemp(dir, common.RemoteCommandTempPrefix+"*"+common.RemoteCommandExtension)
	if err != nil {
		return "", nil, common.SerializationError("create command file", errors.Wrap(err, "failed to create temporary file"))
	}
	path := f.Name()
	cleanup := func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Warnf("Failed to remove temporary command file %s: %v", path, err)
		}
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, common.SerializationError("create command file", err)
	}
	if err := remotecmd.WriteFile(cmd, request, path); err != nil {
		cleanup()
		return "", nil, err
	}
	return path, cleanup, nil
}
