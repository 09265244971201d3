package executor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mensylisir/remotexec/pkg/common"
)

func TestParseOutputType(t *testing.T) {
	cases := map[string]OutputType{"": OutputStdout, "none": OutputNone, "STDOUT": OutputStdout, "stderr": OutputStderr, " Both ": OutputBoth}
	for in, want := range cases {
		got, err := ParseOutputType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseOutputType("all")
	assert.Equal(t, common.KindConfiguration, common.KindOf(err))
}

func TestOutputType_Includes(t *testing.T) {
	assert.False(t, OutputNone.Includes(Stdout))
	assert.True(t, OutputStdout.Includes(Stdout))
	assert.False(t, OutputStdout.Includes(Stderr))
	assert.True(t, OutputStderr.Includes(Stderr))
	assert.True(t, OutputBoth.Includes(Stdout))
	assert.True(t, OutputBoth.Includes(Stderr))
}

func TestPrefixFormatter(t *testing.T) {
	f := PrefixFormatter{Stdout: "[out] ", Stderr: "[err] "}
	assert.Equal(t, "[out] x", f.Format(Stdout, "x"))
	assert.Equal(t, "[err] y", f.Format(Stderr, "y"))
	assert.Equal(t, "z", PrefixFormatter{}.Format(Stderr, "z"))
}

func TestCommandError(t *testing.T) {
	cause := errors.New("exit status 1")
	err := &CommandError{Cmd: "make build", ExitCode: 1, Stderr: "no rule\n", Underlying: cause}
	assert.Equal(t, "command 'make build' failed with exit code 1: no rule (underlying error: exit status 1)", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, common.KindProcess, common.KindOf(err))
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "not-started", NotStarted.String())
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "finished", Finished.String())
	assert.Equal(t, "stopped", Stopped.String())
	assert.Equal(t, "async", Async.String())
	assert.Equal(t, "blocking", Blocking.String())
}
