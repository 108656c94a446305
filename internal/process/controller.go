// Package process launches the external build tool, drains its output and maps
// its exit code to a build status.
package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
)

// ErrLaunchFailed wraps every error caused by the tool not starting at all.
var ErrLaunchFailed = errors.New("failed to launch build tool")

const (
	// PublishAllActionsFlag asks the tool to report every action, not only failed ones.
	PublishAllActionsFlag = "--build_event_publish_all_actions"

	maxLineSize = 4 * 1024 * 1024
)

// Stream identifies which output of the tool a line came from.
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

// OutputHandler receives every completed output line as it arrives.
type OutputHandler func(stream Stream, line string)

// EventStream is the receiving end of the tool's build event stream.
type EventStream interface {
	// Flags returns the tool flags that direct the event stream at this receiver.
	Flags() []string
	// Open prepares the receiver for one invocation. Called before launch.
	Open(ctx context.Context) error
	// Drain is called once the tool exited and returns after every event the
	// invocation produced has been handed to the ingestor.
	Drain(ctx context.Context) error
}

// Invocation is one fully constructed tool command line.
type Invocation struct {
	Command string
	Flags   []string
	Args    []string
	Dir     string
}

// Argv returns the arguments passed to the tool binary.
func (inv Invocation) Argv() []string {
	argv := make([]string, 0, 2+len(inv.Flags)+len(inv.Args))
	argv = append(argv, inv.Command)
	argv = append(argv, inv.Flags...)
	for _, arg := range inv.Args {
		if strings.HasPrefix(arg, "-") {
			argv = append(argv, "--")
			break
		}
	}
	return append(argv, inv.Args...)
}

// Result holds the captured output and status of one invocation.
type Result struct {
	Stdout   []string
	Stderr   []string
	ExitCode int
	Status   Status
}

type Options struct {
	// Binary is the build tool executable, "bazel" if empty.
	Binary        string
	WorkspaceRoot string
	Events        EventStream
	OutputHandler OutputHandler
	Log           logr.Logger
}

// Controller runs the build tool. Invocations on one Controller never overlap,
// because the event stream endpoint it owns can serve one invocation at a time.
type Controller struct {
	binary    string
	workspace string
	events    EventStream
	onOutput  OutputHandler
	log       logr.Logger
	sem       chan struct{}
}

func New(opts Options) *Controller {
	c := &Controller{
		binary:    opts.Binary,
		workspace: opts.WorkspaceRoot,
		events:    opts.Events,
		onOutput:  opts.OutputHandler,
		log:       opts.Log.WithName("process-controller"),
		sem:       make(chan struct{}, 1),
	}
	if c.binary == "" {
		c.binary = "bazel"
	}
	if c.onOutput == nil {
		c.onOutput = func(stream Stream, line string) {
			c.log.V(1).Info(line, "stream", stream.String())
		}
	}
	return c
}

// Execute runs the tool without event streaming.
func (c *Controller) Execute(ctx context.Context, command string, flags, args []string) (*Result, error) {
	if err := c.lock(ctx); err != nil {
		return nil, err
	}
	defer c.unlock()

	return c.run(ctx, Invocation{Command: command, Flags: flags, Args: args, Dir: c.workspace})
}

// ExecuteWithEventStreaming runs the tool with its build event stream directed
// at the controller's EventStream and returns once the stream has been drained.
func (c *Controller) ExecuteWithEventStreaming(ctx context.Context, command string, flags, args []string) (*Result, error) {
	if c.events == nil {
		return nil, errors.New("controller has no event stream configured")
	}
	if err := c.lock(ctx); err != nil {
		return nil, err
	}
	defer c.unlock()

	if err := c.events.Open(ctx); err != nil {
		return nil, fmt.Errorf("open event stream: %w", err)
	}

	allFlags := append(append([]string(nil), flags...), c.events.Flags()...)
	res, runErr := c.run(ctx, Invocation{Command: command, Flags: allFlags, Args: args, Dir: c.workspace})

	// Even when the launch failed the stream must be released.
	drainErr := c.events.Drain(context.WithoutCancel(ctx))
	if runErr != nil {
		return nil, runErr
	}
	if drainErr != nil {
		return res, fmt.Errorf("drain event stream: %w", drainErr)
	}
	return res, nil
}

// Info returns the value of "bazel info <key>".
func (c *Controller) Info(ctx context.Context, key string) (string, error) {
	res, err := c.Execute(ctx, "info", nil, []string{key})
	if err != nil {
		return "", err
	}
	if res.Status != StatusOK || len(res.Stdout) == 0 {
		return "", fmt.Errorf("bazel info %s failed: %s", key, strings.Join(res.Stderr, "\n"))
	}
	return strings.TrimSpace(res.Stdout[len(res.Stdout)-1]), nil
}

func (c *Controller) lock(ctx context.Context) error {
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) unlock() {
	<-c.sem
}

func (c *Controller) run(ctx context.Context, inv Invocation) (*Result, error) {
	argv := inv.Argv()
	cmd := exec.CommandContext(ctx, c.binary, argv...)
	cmd.Dir = inv.Dir
	killProcessGroupOnCancel(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLaunchFailed, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLaunchFailed, err)
	}

	c.log.V(1).Info("running build tool", "binary", c.binary, "args", argv, "dir", inv.Dir)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLaunchFailed, c.binary, err)
	}

	res := &Result{}
	// Both pipes are drained while the process runs; waiting first could
	// block the tool on a full pipe buffer.
	var g errgroup.Group
	g.Go(func() error { return c.drain(stdout, Stdout, &res.Stdout) })
	g.Go(func() error { return c.drain(stderr, Stderr, &res.Stderr) })
	drainErr := g.Wait()

	waitErr := cmd.Wait()
	res.ExitCode, err = exitCode(waitErr, cmd)
	if err != nil {
		return nil, fmt.Errorf("wait for %s: %w", c.binary, err)
	}
	if drainErr != nil {
		c.log.Error(drainErr, "could not read build tool output")
	}

	res.Status = StatusFromExitCode(res.ExitCode)
	if ctx.Err() != nil {
		res.Status = StatusCancelled
	}
	c.log.V(1).Info("build tool exited", "exitCode", res.ExitCode, "status", res.Status.String())
	return res, nil
}

// drain forwards r line by line. A line longer than maxLineSize is cut at the
// limit and reading goes on with the next line.
func (c *Controller) drain(r io.Reader, stream Stream, lines *[]string) error {
	br := bufio.NewReaderSize(r, 64*1024)
	var (
		line      []byte
		truncated bool
	)
	emit := func() {
		text := strings.TrimSuffix(strings.TrimSuffix(string(line), "\n"), "\r")
		if truncated {
			c.log.Info("output line truncated", "stream", stream.String(), "limit", maxLineSize)
		}
		*lines = append(*lines, text)
		c.onOutput(stream, text)
		line, truncated = line[:0], false
	}
	for {
		chunk, err := br.ReadSlice('\n')
		if room := maxLineSize - len(line); len(chunk) > room {
			line = append(line, chunk[:room]...)
			truncated = true
		} else {
			line = append(line, chunk...)
		}
		switch {
		case err == nil:
			emit()
		case errors.Is(err, bufio.ErrBufferFull):
			// more of the same line follows
		case errors.Is(err, io.EOF):
			if len(line) > 0 {
				emit()
			}
			return nil
		default:
			// Keep the pipe empty so the tool can finish writing.
			_, _ = io.Copy(io.Discard, br)
			return fmt.Errorf("%s: %w", stream, err)
		}
	}
}

func exitCode(waitErr error, cmd *exec.Cmd) (int, error) {
	var ee *exec.ExitError
	switch {
	case waitErr == nil:
		return cmd.ProcessState.ExitCode(), nil
	case errors.As(waitErr, &ee):
		return ee.ExitCode(), nil
	default:
		return -1, waitErr
	}
}
