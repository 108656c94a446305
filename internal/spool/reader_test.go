package spool

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"bazelbsp/internal/bep"
	"bazelbsp/internal/bep/beptest"
	"bazelbsp/internal/pbwire"
)

type collector struct {
	mu     sync.Mutex
	frames [][]byte
}

func (c *collector) handle(b []byte) bool {
	ev, err := bep.Decode(b)
	c.mu.Lock()
	c.frames = append(c.frames, append([]byte(nil), b...))
	c.mu.Unlock()
	return err == nil && ev.LastMessage
}

func (c *collector) snapshot() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.frames...)
}

func testEvents() [][]byte {
	start := time.Unix(1700000000, 0)
	return [][]byte{
		beptest.Started("u1", start),
		beptest.NamedSet("n1", []string{"file:///out/f1"}),
		beptest.TargetCompleted("//pkg:t1", true, bep.OutputGroup{Name: "default", FileSets: []string{"n1"}}),
		beptest.Finished(0, "SUCCESS", start.Add(time.Minute)),
	}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestReaderFollowsGrowingFile(t *testing.T) {
	c := &collector{}
	r := NewReader(Options{Dir: t.TempDir(), PollInterval: 5 * time.Millisecond, Handler: c.handle, Log: logr.Discard()})
	ctx := testContext(t)
	require.NoError(t, r.Open(ctx))

	events := testEvents()
	data := beptest.Spool(events...)

	f, err := os.Create(r.Path())
	require.NoError(t, err)
	// write in small pieces so frames arrive split across reads
	for i := 0; i < len(data); i += 7 {
		end := min(i+7, len(data))
		_, err := f.Write(data[i:end])
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}
	require.NoError(t, f.Close())

	require.NoError(t, r.Drain(ctx))
	require.Equal(t, events, c.snapshot())

	_, err = os.Stat(r.Path())
	require.True(t, os.IsNotExist(err), "spool file should be removed after drain")
}

func TestReaderDrainsTrailingEventsAfterExit(t *testing.T) {
	c := &collector{}
	// a long poll interval keeps the poller asleep when the tool exits
	r := NewReader(Options{Dir: t.TempDir(), PollInterval: time.Hour, Handler: c.handle, Log: logr.Discard()})
	ctx := testContext(t)
	require.NoError(t, r.Open(ctx))

	// no last_message, so only the exit signal can end the loop
	events := testEvents()[:3]
	require.NoError(t, os.WriteFile(r.Path(), beptest.Spool(events...), 0o644))

	require.NoError(t, r.Drain(ctx))
	require.Equal(t, events, c.snapshot())
}

func TestReaderStopsAtLastMessage(t *testing.T) {
	c := &collector{}
	r := NewReader(Options{Dir: t.TempDir(), PollInterval: 5 * time.Millisecond, Handler: c.handle, Log: logr.Discard()})
	ctx := testContext(t)
	require.NoError(t, r.Open(ctx))

	events := testEvents()
	extra := beptest.Progress(99, "after the end", "")
	require.NoError(t, os.WriteFile(r.Path(), beptest.Spool(append(events, extra)...), 0o644))

	require.NoError(t, r.Drain(ctx))
	require.Equal(t, events, c.snapshot())
}

func TestReaderToolNeverWroteFile(t *testing.T) {
	c := &collector{}
	r := NewReader(Options{Dir: t.TempDir(), PollInterval: 5 * time.Millisecond, Handler: c.handle, Log: logr.Discard()})
	ctx := testContext(t)
	require.NoError(t, r.Open(ctx))
	require.NoError(t, r.Drain(ctx))
	require.Empty(t, c.snapshot())
}

func TestReaderIsReusableAcrossInvocations(t *testing.T) {
	c := &collector{}
	dir := t.TempDir()
	r := NewReader(Options{Dir: dir, PollInterval: 5 * time.Millisecond, Handler: c.handle, Log: logr.Discard()})
	ctx := testContext(t)

	require.NoError(t, r.Open(ctx))
	first := r.Path()
	require.Error(t, r.Open(ctx), "open before drain must fail")
	require.NoError(t, r.Drain(ctx))

	require.NoError(t, r.Open(ctx))
	require.NotEqual(t, first, r.Path())
	require.Equal(t, filepath.Clean(dir), filepath.Dir(r.Path()))
	require.Equal(t, []string{"--build_event_binary_file=" + r.Path(), "--build_event_publish_all_actions"}, r.Flags())
	require.NoError(t, r.Drain(ctx))
}

func TestReaderRequiresHandler(t *testing.T) {
	r := NewReader(Options{Dir: t.TempDir(), Log: logr.Discard()})
	require.Error(t, r.Open(testContext(t)))
}

func TestReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bep.bin")
	events := testEvents()
	require.NoError(t, os.WriteFile(path, beptest.Spool(events...), 0o644))

	c := &collector{}
	n, err := Replay(testContext(t), path, c.handle)
	require.NoError(t, err)
	require.Equal(t, len(events), n)
	require.Equal(t, events, c.snapshot())
}

func TestReplayTruncatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bep.bin")
	data := beptest.Spool(testEvents()...)
	require.NoError(t, os.WriteFile(path, data[:len(data)-3], 0o644))

	c := &collector{}
	n, err := Replay(testContext(t), path, c.handle)
	require.Error(t, err)
	require.Equal(t, 3, n)
}

func TestReplayMissingFile(t *testing.T) {
	_, err := Replay(testContext(t), filepath.Join(t.TempDir(), "missing.bin"), func([]byte) bool { return false })
	require.Error(t, err)
}

func corruptTail(events ...[]byte) []byte {
	data := beptest.Spool(events...)
	data = protowire.AppendVarint(data, 1<<62)
	return append(data, 1, 2, 3)
}

func TestReaderStopsOnCorruptFrameLength(t *testing.T) {
	c := &collector{}
	r := NewReader(Options{Dir: t.TempDir(), PollInterval: 5 * time.Millisecond, Handler: c.handle, Log: logr.Discard()})
	ctx := testContext(t)
	require.NoError(t, r.Open(ctx))

	events := testEvents()[:2]
	require.NoError(t, os.WriteFile(r.Path(), corruptTail(events...), 0o644))

	err := r.Drain(ctx)
	require.ErrorIs(t, err, pbwire.ErrFrameTooLarge)
	require.Equal(t, events, c.snapshot())
}

func TestReplayRejectsOversizedFrame(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bep.bin")
	events := testEvents()[:1]
	require.NoError(t, os.WriteFile(path, corruptTail(events...), 0o644))

	c := &collector{}
	n, err := Replay(testContext(t), path, c.handle)
	require.ErrorIs(t, err, pbwire.ErrFrameTooLarge)
	require.Equal(t, 1, n)
	require.Equal(t, events, c.snapshot())
}

func TestReplayLengthBeyondFileEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bep.bin")
	data := protowire.AppendVarint(nil, 1<<20)
	require.NoError(t, os.WriteFile(path, append(data, 1, 2, 3), 0o644))

	n, err := Replay(testContext(t), path, func([]byte) bool { return false })
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	require.Zero(t, n)
}
