// Package executor runs external processes either on the caller's goroutine
// or from a background worker, forwarding their output to line processors
// and a FIFO buffer drained through Output.
package executor

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/mensylisir/remotexec/pkg/argv"
	"github.com/mensylisir/remotexec/pkg/common"
	"github.com/mensylisir/remotexec/pkg/logger"
)

const (
	maxLineSize = 1024 * 1024
	cleanUpWait = 5 * time.Second
)

// Options configures a Command. Only Argv is required.
type Options struct {
	Argv       argv.Builder
	Mode       Mode
	OutputType OutputType
	WorkDir    string
	// Env entries (KEY=value) are appended to the current environment.
	Env             []string
	StdoutProcessor LineProcessor
	StderrProcessor LineProcessor
	// Formatter defaults to a PrefixFormatter without prefixes.
	Formatter Formatter
	Logger    *logger.Logger

	// Output polling; zero values use the package defaults.
	PollAttempts int
	PollInterval time.Duration
	PollJitter   time.Duration
}

// Command is a re-runnable external process. All methods are safe for
// concurrent use.
type Command struct {
	opts Options
	buf  *outputBuffer

	mu         sync.Mutex
	running    bool
	executed   bool
	stopped    bool
	lastArgv   []string
	lastResult *Result
	lastErr    error
	proc       *exec.Cmd
	monitor    chan struct{}

	// serializes processor and formatter calls from the two stream readers
	lineMu sync.Mutex
}

// New creates a command. Nothing is started until Execute.
func New(opts Options) *Command {
	if opts.Formatter == nil {
		opts.Formatter = PrefixFormatter{}
	}
	if opts.PollAttempts <= 0 {
		opts.PollAttempts = common.OutputPollAttempts
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = common.OutputPollInterval
		if opts.PollJitter == 0 {
			opts.PollJitter = common.OutputPollJitter
		}
	}
	return &Command{opts: opts, buf: newOutputBuffer()}
}

func (c *Command) log() *logger.Logger {
	l := c.opts.Logger
	if l == nil {
		l = logger.Get()
	}
	if args := c.LastCommand(); len(args) > 0 {
		return l.With("command", args[0])
	}
	return l
}

// Execute runs the command. In blocking mode it returns once the process has
// exited, with any spawn, exit or processor failure as the error. In async
// mode it returns as soon as the process has started and a worker takes over
// streaming its output.
func (c *Command) Execute(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = common.FromPanic(common.KindProcess, "execute", r)
			c.mu.Lock()
			c.running = false
			c.lastErr = err
			c.mu.Unlock()
			logger.Get().Errorf("Recovered from panic while executing command: %v", r)
		}
	}()

	args, err := c.begin()
	if err != nil {
		return err
	}

	if c.opts.Mode == Async {
		return c.startAsync(ctx, args)
	}
	return c.runBlocking(ctx, args)
}

// begin resets the per-run state, checks the preconditions and marks the
// command running, all under one lock so concurrent callers cannot both start.
func (c *Command) begin() ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil, common.ConfigurationError("execute", "previous execution of %q is still running", strings.Join(c.lastArgv, " "))
	}
	c.executed = false
	c.stopped = false
	c.lastArgv = nil
	c.lastResult = nil
	c.lastErr = nil
	c.proc = nil
	c.monitor = nil
	c.buf.Reset()

	args, err := c.check()
	if err != nil {
		c.lastErr = err
		return nil, err
	}
	c.running = true
	c.executed = true
	c.lastArgv = args
	return args, nil
}

func (c *Command) check() ([]string, error) {
	if c.opts.Argv == nil {
		return nil, common.ConfigurationError("execute", "no argument vector builder configured")
	}
	args, err := c.opts.Argv.Build()
	if err != nil {
		return nil, common.Wrap(common.KindConfiguration, "build argument vector", err)
	}
	if len(args) == 0 || args[0] == "" {
		return nil, common.ConfigurationError("execute", "argument vector is empty")
	}
	for _, p := range []LineProcessor{c.opts.StdoutProcessor, c.opts.StderrProcessor} {
		if ck, ok := p.(Checker); ok {
			if err := ck.Check(); err != nil {
				return nil, common.Wrap(common.KindConfiguration, "check line processor", err)
			}
		}
	}
	return args, nil
}

func (c *Command) newProcess(ctx context.Context, args []string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = c.opts.WorkDir
	if len(c.opts.Env) > 0 {
		cmd.Env = append(os.Environ(), c.opts.Env...)
	}
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	return cmd
}

func (c *Command) runBlocking(ctx context.Context, args []string) error {
	cmd := c.newProcess(ctx, args)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	c.log().Debugf("Running %q", strings.Join(args, " "))
	runErr := cmd.Run()

	res := &Result{ExitCode: exitCode(cmd, runErr), Stdout: stdout.String(), Stderr: stderr.String()}
	var err error
	if runErr != nil {
		err = &CommandError{Cmd: strings.Join(args, " "), ExitCode: res.ExitCode, Stdout: res.Stdout, Stderr: res.Stderr, Underlying: runErr}
	}
	if res.Stdout != "" {
		err = multierr.Append(err, c.deliver(Stdout, res.Stdout))
	}
	if res.Stderr != "" {
		err = multierr.Append(err, c.deliver(Stderr, res.Stderr))
	}

	c.mu.Lock()
	c.running = false
	c.lastResult = res
	c.lastErr = err
	c.mu.Unlock()
	return err
}

func (c *Command) startAsync(ctx context.Context, args []string) error {
	cmd := c.newProcess(ctx, args)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return c.spawnFailed(args, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return c.spawnFailed(args, err)
	}
	if err := cmd.Start(); err != nil {
		return c.spawnFailed(args, err)
	}

	monitor := make(chan struct{})
	c.mu.Lock()
	c.proc = cmd
	c.monitor = monitor
	c.mu.Unlock()

	c.log().Debugf("Started %q with pid %d", strings.Join(args, " "), cmd.Process.Pid)
	go c.watch(cmd, args, stdout, stderr, monitor)
	return nil
}

func (c *Command) spawnFailed(args []string, cause error) error {
	err := &CommandError{Cmd: strings.Join(args, " "), ExitCode: -1, Underlying: cause}
	c.mu.Lock()
	c.running = false
	c.lastErr = err
	c.mu.Unlock()
	return err
}

// watch is the single worker of an async run. It streams both pipes, waits
// for the process and only then releases the monitor.
func (c *Command) watch(cmd *exec.Cmd, args []string, stdout, stderr io.Reader, monitor chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			c.mu.Lock()
			c.running = false
			c.lastErr = common.FromPanic(common.KindProcess, "stream output", r)
			c.mu.Unlock()
			_ = killProcessGroup(cmd)
			c.log().Errorf("Recovered from panic while streaming output: %v", r)
		}
		close(monitor)
		c.buf.Notify()
	}()

	var (
		procMu  sync.Mutex
		procErr error
	)
	read := func(stream Stream, r io.Reader) error {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		for scanner.Scan() {
			if err := c.deliver(stream, scanner.Text()); err != nil {
				procMu.Lock()
				procErr = multierr.Append(procErr, err)
				procMu.Unlock()
			}
		}
		if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
			// keep the pipe drained so the process cannot block on a full buffer
			_, _ = io.Copy(io.Discard, r)
			return errors.Wrapf(err, "failed to read %s", stream)
		}
		return nil
	}

	var g errgroup.Group
	g.Go(func() error { return read(Stdout, stdout) })
	g.Go(func() error { return read(Stderr, stderr) })
	readErr := g.Wait()
	waitErr := cmd.Wait()

	c.mu.Lock()
	stopped := c.stopped
	c.mu.Unlock()

	code := exitCode(cmd, waitErr)
	var err error
	if waitErr != nil && !stopped {
		err = &CommandError{Cmd: strings.Join(args, " "), ExitCode: code, Underlying: waitErr}
	}
	err = multierr.Combine(err, readErr, procErr)
	if err != nil {
		c.log().Warnf("Command finished with error: %v", err)
	} else {
		c.log().Debugf("Command finished with exit code %d", code)
	}

	c.mu.Lock()
	c.running = false
	c.lastResult = &Result{ExitCode: code}
	c.lastErr = err
	c.mu.Unlock()
}

// deliver hands text to the stream's processor and buffers the formatted unit
// when the output type includes the stream.
func (c *Command) deliver(stream Stream, text string) (err error) {
	c.lineMu.Lock()
	defer c.lineMu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = common.FromPanic(common.KindProcess, stream.String()+" processor", r)
		}
	}()

	if p := c.processor(stream); p != nil {
		if perr := p.ProcessOutput(stream, text); perr != nil {
			err = common.Wrap(common.KindProcess, stream.String()+" processor", perr)
		}
	}
	if c.opts.OutputType.Includes(stream) {
		c.buf.Push(c.opts.Formatter.Format(stream, text))
	}
	return err
}

func (c *Command) processor(stream Stream) LineProcessor {
	if stream == Stderr {
		return c.opts.StderrProcessor
	}
	return c.opts.StdoutProcessor
}

func exitCode(cmd *exec.Cmd, err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if err != nil {
		return -1
	}
	return 0
}

// Output returns the oldest buffered unit. While an async run is still going
// it waits a bounded number of poll intervals for new output and then gives
// up with a TimeoutExhausted error. Once nothing more can arrive it returns
// the failure recorded by the async worker, or common.ErrNoOutput.
func (c *Command) Output() (string, error) {
	if unit, ok := c.buf.Pop(); ok {
		return unit, nil
	}
	if c.opts.Mode == Blocking || c.IsFinished() || !c.IsExecuted() {
		return "", c.drained()
	}
	for i := 0; i < c.opts.PollAttempts; i++ {
		c.buf.Wait(jitter(c.opts.PollInterval, c.opts.PollJitter))
		if unit, ok := c.buf.Pop(); ok {
			return unit, nil
		}
		if c.IsFinished() {
			return "", c.drained()
		}
	}
	return "", common.TimeoutExhausted("output", c.opts.PollAttempts)
}

func (c *Command) drained() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.opts.Mode == Async && c.lastErr != nil {
		return c.lastErr
	}
	return common.ErrNoOutput
}

// StopExecution marks the command as stopped. An async process group is
// killed so the worker can finish. A blocking run in progress is not
// interrupted; cancel its context instead.
func (c *Command) StopExecution() {
	c.mu.Lock()
	c.stopped = true
	proc := c.proc
	running := c.running
	c.mu.Unlock()

	if c.opts.Mode == Async && running && proc != nil {
		if err := killProcessGroup(proc); err != nil {
			c.log().Debugf("Failed to kill process group: %v", err)
		}
	}
	c.buf.Notify()
}

// Wait blocks until an async worker has released the monitor or ctx is done.
// It returns immediately for blocking commands.
func (c *Command) Wait(ctx context.Context) error {
	c.mu.Lock()
	monitor := c.monitor
	c.mu.Unlock()
	if monitor == nil {
		return nil
	}
	select {
	case <-monitor:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Command) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Command) IsExecuted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.executed
}

func (c *Command) IsStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// IsFinished reports executed && !running. For async runs the worker must
// also have released the monitor.
func (c *Command) IsFinished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.executed || c.running {
		return false
	}
	if c.monitor != nil {
		select {
		case <-c.monitor:
		default:
			return false
		}
	}
	return true
}

// HasOutput reports whether units are buffered or an async run may still
// produce some.
func (c *Command) HasOutput() bool {
	if c.buf.Len() > 0 {
		return true
	}
	return c.opts.Mode == Async && c.IsExecuted() && !c.IsFinished()
}

// LastCommand returns the argument vector of the latest run, or nil.
func (c *Command) LastCommand() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastArgv == nil {
		return nil
	}
	out := make([]string, len(c.lastArgv))
	copy(out, c.lastArgv)
	return out
}

// LastResult returns the result of the latest finished run, or nil.
func (c *Command) LastResult() *Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastResult
}

// LastError returns the failure of the latest run, including failures an
// async worker recorded after Execute returned.
func (c *Command) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Command) State() State {
	switch {
	case !c.IsExecuted():
		return NotStarted
	case !c.IsFinished():
		return Running
	case c.IsStopped():
		return Stopped
	default:
		return Finished
	}
}

// CleanUp stops a running async process, waits briefly for its worker and
// drops any buffered output.
func (c *Command) CleanUp() error {
	var err error
	if c.IsExecuted() && !c.IsFinished() {
		c.StopExecution()
		ctx, cancel := context.WithTimeout(context.Background(), cleanUpWait)
		defer cancel()
		if werr := c.Wait(ctx); werr != nil {
			err = errors.Wrap(werr, "worker did not finish after stop")
		}
	}
	c.buf.Reset()
	return err
}
