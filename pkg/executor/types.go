package executor

import (
	"fmt"
	"strings"

	"github.com/mensylisir/remotexec/pkg/common"
)

// OutputType selects which captured streams end up in the output buffer.
type OutputType int

const (
	OutputNone OutputType = iota
	OutputStdout
	OutputStderr
	OutputBoth
)

func (o OutputType) String() string {
	switch o {
	case OutputNone:
		return "none"
	case OutputStdout:
		return "stdout"
	case OutputStderr:
		return "stderr"
	case OutputBoth:
		return "both"
	default:
		return fmt.Sprintf("OutputType(%d)", int(o))
	}
}

// Includes reports whether lines of stream s are buffered under o.
func (o OutputType) Includes(s Stream) bool {
	switch o {
	case OutputBoth:
		return true
	case OutputStdout:
		return s == Stdout
	case OutputStderr:
		return s == Stderr
	default:
		return false
	}
}

// ParseOutputType accepts none, stdout, stderr and both, case-insensitively.
func ParseOutputType(s string) (OutputType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none":
		return OutputNone, nil
	case "", "stdout":
		return OutputStdout, nil
	case "stderr":
		return OutputStderr, nil
	case "both":
		return OutputBoth, nil
	}
	return OutputNone, common.ConfigurationError("parse output type", "unknown output type %q", s)
}

// Mode selects between running on the caller's goroutine and streaming from
// a background worker.
type Mode int

const (
	Blocking Mode = iota
	Async
)

func (m Mode) String() string {
	if m == Async {
		return "async"
	}
	return "blocking"
}

// Stream identifies the origin of a line of output.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// State is the lifecycle position of a Command.
type State int

const (
	NotStarted State = iota
	Running
	Finished
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Finished:
		return "finished"
	case Stopped:
		return "stopped"
	default:
		return "not-started"
	}
}

// Result is what a blocking run captured. Async runs only fill ExitCode.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// LineProcessor receives captured output before it is formatted. Blocking
// runs hand over the whole stream, async runs one line at a time.
type LineProcessor interface {
	ProcessOutput(stream Stream, text string) error
}

// LineProcessorFunc adapts a function to LineProcessor.
type LineProcessorFunc func(stream Stream, text string) error

func (f LineProcessorFunc) ProcessOutput(stream Stream, text string) error { return f(stream, text) }

// Checker is implemented by processors that must be configured before use.
type Checker interface {
	Check() error
}

// Formatter turns captured text into the unit stored in the output buffer.
type Formatter interface {
	Format(stream Stream, text string) string
}

// FormatterFunc adapts a function to Formatter.
type FormatterFunc func(stream Stream, text string) string

func (f FormatterFunc) Format(stream Stream, text string) string { return f(stream, text) }

// PrefixFormatter prepends a per-stream prefix. The zero value leaves text
// unchanged.
type PrefixFormatter struct {
	Stdout string
	Stderr string
}

func (p PrefixFormatter) Format(stream Stream, text string) string {
	if stream == Stderr {
		return p.Stderr + text
	}
	return p.Stdout + text
}

// CommandError describes a process that could not be started or exited with
// a failure.
type CommandError struct {
	Cmd        string
	ExitCode   int
	Stdout     string
	Stderr     string
	Underlying error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command '%s' failed with exit code %d", e.Cmd, e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg = fmt.Sprintf("%s: %s", msg, s)
	}
	if e.Underlying != nil {
		msg = fmt.Sprintf("%s (underlying error: %v)", msg, e.Underlying)
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Underlying }

// Kind classifies every CommandError as a process failure.
func (e *CommandError) Kind() common.Kind { return common.KindProcess }
