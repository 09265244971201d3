package common

import (
	"errors"
	"fmt"
)

// Kind classifies failures crossing the public boundary of the executor and
// the transports.
type Kind int

const (
	// KindUnknown is reported for errors that carry no classification.
	KindUnknown Kind = iota
	// KindConfiguration covers missing context, credentials or malformed settings.
	KindConfiguration
	// KindConnection covers authentication, host-key and network failures.
	KindConnection
	// KindSerialization covers failures to render, write or parse a command.
	KindSerialization
	// KindProcess covers spawn failures, non-zero exits and processor errors.
	KindProcess
	// KindTimeoutExhausted is reported when a bounded output poll gave up.
	KindTimeoutExhausted
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "ConfigurationError"
	case KindConnection:
		return "ConnectionError"
	case KindSerialization:
		return "SerializationError"
	case KindProcess:
		return "ProcessError"
	case KindTimeoutExhausted:
		return "TimeoutExhausted"
	default:
		return "UnknownError"
	}
}

// ErrNoOutput is returned when output is requested from a command that has
// nothing buffered and will not produce anything more.
var ErrNoOutput = errors.New("no output available")

// Error is a classified error. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Err != nil:
		return e.Err.Error()
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind with an empty Op and Err, so
// errors.Is(err, &Error{Kind: KindConnection}) works as a kind test.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// Classified is implemented by package specific error types that belong to
// one of the kinds above.
type Classified interface {
	error
	Kind() Kind
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var c Classified
	if errors.As(err, &c) {
		return c.Kind()
	}
	return KindUnknown
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf creates a classified error from a format string.
func Errorf(kind Kind, op, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// ConfigurationError creates a KindConfiguration error.
func ConfigurationError(op, format string, args ...interface{}) error {
	return Errorf(KindConfiguration, op, format, args...)
}

// SerializationError classifies err as a serialization failure.
func SerializationError(op string, err error) error {
	return Wrap(KindSerialization, op, err)
}

// TimeoutExhausted creates a KindTimeoutExhausted error.
func TimeoutExhausted(op string, attempts int) error {
	return Errorf(KindTimeoutExhausted, op, "no data after %d attempts", attempts)
}

// FromPanic converts a recovered panic value into a classified error.
func FromPanic(kind Kind, op string, recovered interface{}) error {
	if err, ok := recovered.(error); ok {
		return &Error{Kind: kind, Op: op, Err: fmt.Errorf("unexpected failure: %w", err)}
	}
	return Errorf(kind, op, "unexpected failure: %v", recovered)
}
