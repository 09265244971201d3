package connector

import (
	"fmt"

	"github.com/mensylisir/remotexec/pkg/common"
)

// ConnectionError represents a failure to establish or use a session with a
// host.
type ConnectionError struct {
	Host string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to host %s: %v", e.Host, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func (e *ConnectionError) Kind() common.Kind { return common.KindConnection }

// SessionState tells whether a session currently holds a live connection.
type SessionState int

const (
	Unconnected SessionState = iota
	Connected
)

func (s SessionState) String() string {
	if s == Connected {
		return "connected"
	}
	return "unconnected"
}
