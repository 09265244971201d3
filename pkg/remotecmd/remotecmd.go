// Package remotecmd defines the payloads delivered by the transports and a
// JSON envelope implementation of them.
package remotecmd

import (
	"os"

	"github.com/pkg/errors"

	"github.com/mensylisir/remotexec/pkg/common"
)

// Command is an opaque payload that knows how to render itself as a request.
type Command interface {
	AssembleRequest() ([]byte, error)
}

// WithResponse is a Command that can also render the answer to a request.
type WithResponse interface {
	Command
	AssembleResponse() ([]byte, error)
}

// Render produces the request or response form of cmd. Every failure,
// including a panicking serializer, is reported as a serialization error.
func Render(cmd Command, request bool) (data []byte, err error) {
	op := "render request"
	if !request {
		op = "render response"
	}
	defer func() {
		if r := recover(); r != nil {
			data, err = nil, common.FromPanic(common.KindSerialization, op, r)
		}
	}()

	if cmd == nil {
		return nil, common.SerializationError(op, errors.New("no command given"))
	}
	if request {
		data, err = cmd.AssembleRequest()
	} else {
		rc, ok := cmd.(WithResponse)
		if !ok {
			return nil, common.SerializationError(op, errors.Errorf("%T cannot assemble a response", cmd))
		}
		data, err = rc.AssembleResponse()
	}
	if err != nil {
		return nil, common.SerializationError(op, err)
	}
	return data, nil
}

// WriteFile renders cmd into path, replacing any existing content.
func WriteFile(cmd Command, request bool, path string) error {
	data, err := Render(cmd, request)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return common.SerializationError("write command file", errors.Wrapf(err, "failed to write %s", path))
	}
	return nil
}
