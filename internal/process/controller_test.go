package process

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"
)

const fakeTool = `#!/bin/sh
if [ "$1" = "flood" ]; then
  i=0
  while [ $i -lt 20000 ]; do
    echo "out line $i"
    echo "err line $i" >&2
    i=$((i+1))
  done
  exit 0
fi
if [ "$1" = "sleep" ]; then
  exec sleep "$2"
fi
echo "args: $*"
echo "first stderr" >&2
echo "second stderr" >&2
exit ${FAKE_EXIT:-0}
`

func writeFakeTool(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake build tool is a POSIX shell script")
	}
	path := filepath.Join(t.TempDir(), "fake-bazel")
	require.NoError(t, os.WriteFile(path, []byte(fakeTool), 0o755))
	return path
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

type fakeEventStream struct {
	mu        sync.Mutex
	opened    int
	drained   int
	inFlight  int32
	maxFlight int32
	openErr   error
	hold      time.Duration
}

func (f *fakeEventStream) Flags() []string {
	return []string{"--bes_backend=grpc://127.0.0.1:1234", PublishAllActionsFlag}
}

func (f *fakeEventStream) Open(context.Context) error {
	if f.openErr != nil {
		return f.openErr
	}
	n := atomic.AddInt32(&f.inFlight, 1)
	f.mu.Lock()
	f.opened++
	if n > f.maxFlight {
		f.maxFlight = n
	}
	f.mu.Unlock()
	return nil
}

func (f *fakeEventStream) Drain(context.Context) error {
	time.Sleep(f.hold)
	atomic.AddInt32(&f.inFlight, -1)
	f.mu.Lock()
	f.drained++
	f.mu.Unlock()
	return nil
}

func TestStatusFromExitCode(t *testing.T) {
	require.Equal(t, StatusOK, StatusFromExitCode(0))
	require.Equal(t, StatusCancelled, StatusFromExitCode(InterruptedExitCode))
	for _, code := range []int{1, 2, 127, 255, -1} {
		require.Equal(t, StatusError, StatusFromExitCode(code), "exit code %d", code)
	}
}

func TestInvocationArgv(t *testing.T) {
	inv := Invocation{Command: "build", Flags: []string{"--keep_going"}, Args: []string{"//...", "-//third_party/..."}}
	require.Equal(t, []string{"build", "--keep_going", "--", "//...", "-//third_party/..."}, inv.Argv())

	inv.Args = []string{"//pkg:lib"}
	require.Equal(t, []string{"build", "--keep_going", "//pkg:lib"}, inv.Argv())
}

func TestExecuteCapturesOutput(t *testing.T) {
	tool := writeFakeTool(t)

	var mu sync.Mutex
	var seen []string
	c := New(Options{
		Binary:        tool,
		WorkspaceRoot: t.TempDir(),
		Log:           logr.Discard(),
		OutputHandler: func(stream Stream, line string) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, stream.String()+": "+line)
		},
	})

	res, err := c.Execute(testContext(t), "build", []string{"--keep_going"}, []string{"//pkg:lib"})
	require.NoError(t, err)
	require.Equal(t, StatusOK, res.Status)
	require.Equal(t, 0, res.ExitCode)
	require.Equal(t, []string{"args: build --keep_going //pkg:lib"}, res.Stdout)
	require.Equal(t, []string{"first stderr", "second stderr"}, res.Stderr)
	require.Len(t, seen, 3)
	require.Contains(t, seen, "stderr: second stderr")
}

func TestExecuteNonZeroExitIsNotAnError(t *testing.T) {
	tool := writeFakeTool(t)
	c := New(Options{Binary: tool, Log: logr.Discard()})

	t.Setenv("FAKE_EXIT", "1")
	res, err := c.Execute(testContext(t), "build", nil, nil)
	require.NoError(t, err)
	require.Equal(t, StatusError, res.Status)
	require.Equal(t, 1, res.ExitCode)

	t.Setenv("FAKE_EXIT", "8")
	res, err = c.Execute(testContext(t), "build", nil, nil)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, res.Status)
}

func TestExecuteLaunchFailure(t *testing.T) {
	c := New(Options{Binary: filepath.Join(t.TempDir(), "does-not-exist"), Log: logr.Discard()})
	_, err := c.Execute(testContext(t), "build", nil, nil)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrLaunchFailed), "unexpected error %v", err)
}

func TestExecuteHighVolumeOutputDoesNotDeadlock(t *testing.T) {
	tool := writeFakeTool(t)
	c := New(Options{Binary: tool, Log: logr.Discard(), OutputHandler: func(Stream, string) {}})

	res, err := c.Execute(testContext(t), "flood", nil, nil)
	require.NoError(t, err)
	require.Equal(t, StatusOK, res.Status)
	require.Len(t, res.Stdout, 20000)
	require.Len(t, res.Stderr, 20000)
	require.Equal(t, "out line 19999", res.Stdout[19999])
}

func TestDrainTruncatesOverlongLineAndContinues(t *testing.T) {
	c := New(Options{Binary: "bazel", Log: logr.Discard()})
	var forwarded []string
	c.onOutput = func(_ Stream, line string) { forwarded = append(forwarded, line) }

	long := strings.Repeat("x", maxLineSize+100)
	input := "before\r\n" + long + "\n" + "src/A.java:3: error: boom\n" + "no newline"

	var lines []string
	require.NoError(t, c.drain(strings.NewReader(input), Stderr, &lines))
	require.Len(t, lines, 4)
	require.Equal(t, "before", lines[0])
	require.Len(t, lines[1], maxLineSize)
	require.Equal(t, "src/A.java:3: error: boom", lines[2])
	require.Equal(t, "no newline", lines[3])
	require.Equal(t, lines, forwarded)
}

func TestExecuteCancelledContext(t *testing.T) {
	tool := writeFakeTool(t)
	c := New(Options{Binary: tool, Log: logr.Discard()})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	res, err := c.Execute(ctx, "sleep", []string{"10"}, nil)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, res.Status)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestExecuteWithEventStreamingInjectsFlags(t *testing.T) {
	tool := writeFakeTool(t)
	events := &fakeEventStream{}
	c := New(Options{Binary: tool, Events: events, Log: logr.Discard()})

	res, err := c.ExecuteWithEventStreaming(testContext(t), "build", []string{"--keep_going"}, []string{"//pkg:lib"})
	require.NoError(t, err)
	require.Equal(t, []string{"args: build --keep_going --bes_backend=grpc://127.0.0.1:1234 --build_event_publish_all_actions //pkg:lib"}, res.Stdout)
	require.Equal(t, 1, events.opened)
	require.Equal(t, 1, events.drained)
}

func TestExecuteWithEventStreamingDrainsAfterLaunchFailure(t *testing.T) {
	events := &fakeEventStream{}
	c := New(Options{Binary: filepath.Join(t.TempDir(), "missing"), Events: events, Log: logr.Discard()})

	_, err := c.ExecuteWithEventStreaming(testContext(t), "build", nil, nil)
	require.ErrorIs(t, err, ErrLaunchFailed)
	require.Equal(t, 1, events.drained)
}

func TestExecuteWithEventStreamingRequiresStream(t *testing.T) {
	c := New(Options{Log: logr.Discard()})
	_, err := c.ExecuteWithEventStreaming(testContext(t), "build", nil, nil)
	require.Error(t, err)
}

func TestInvocationsAreSerialized(t *testing.T) {
	tool := writeFakeTool(t)
	events := &fakeEventStream{hold: 50 * time.Millisecond}
	c := New(Options{Binary: tool, Events: events, Log: logr.Discard()})
	ctx := testContext(t)

	errs := make(chan error, 4)
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.ExecuteWithEventStreaming(ctx, "build", nil, nil)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.Equal(t, 4, events.drained)
	require.Equal(t, int32(1), events.maxFlight)
}

func TestWaitingCallerHonorsContext(t *testing.T) {
	tool := writeFakeTool(t)
	c := New(Options{Binary: tool, Log: logr.Discard()})

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		close(started)
		_, _ = c.Execute(testContext(t), "sleep", []string{"1"}, nil)
	}()
	<-started
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Execute(ctx, "build", nil, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	<-done
}

func TestInfo(t *testing.T) {
	tool := writeFakeTool(t)
	c := New(Options{Binary: tool, Log: logr.Discard()})

	value, err := c.Info(testContext(t), "execution_root")
	require.NoError(t, err)
	require.Equal(t, "args: info execution_root", value)
}
