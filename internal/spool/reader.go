// Package spool reads the build event stream from the binary file the build
// tool writes with --build_event_binary_file, while the tool is running.
package spool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"bazelbsp/internal/pbwire"
	"bazelbsp/internal/process"
)

const (
	DefaultPollInterval = 100 * time.Millisecond
	maxPollInterval     = 2 * time.Second
	readChunkSize       = 64 * 1024
)

// FrameHandler consumes one encoded build event and reports whether it was
// the last event of the build.
type FrameHandler func(event []byte) bool

type Options struct {
	// Dir holds the spool files. Defaults to the system temp directory.
	Dir string
	// PollInterval is the first wait after the reader caught up with the file.
	PollInterval time.Duration
	Handler      FrameHandler
	Log          logr.Logger
}

// Reader polls one spool file per invocation. It implements process.EventStream.
type Reader struct {
	dir      string
	interval time.Duration
	handler  FrameHandler
	log      logr.Logger

	mu     sync.Mutex
	path   string
	exited chan struct{}
	done   chan struct{}
	err    error
}

var _ process.EventStream = (*Reader)(nil)

func NewReader(opts Options) *Reader {
	r := &Reader{
		dir:      opts.Dir,
		interval: opts.PollInterval,
		handler:  opts.Handler,
		log:      opts.Log.WithName("spool"),
	}
	if r.dir == "" {
		r.dir = os.TempDir()
	}
	if r.interval <= 0 {
		r.interval = DefaultPollInterval
	}
	return r
}

// Path returns the spool file of the current invocation.
func (r *Reader) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

func (r *Reader) Flags() []string {
	return []string{
		"--build_event_binary_file=" + r.Path(),
		process.PublishAllActionsFlag,
	}
}

// Open picks a fresh spool path and starts polling it in the background.
func (r *Reader) Open(context.Context) error {
	if r.handler == nil {
		return errors.New("spool: frame handler is required")
	}
	if err := os.MkdirAll(r.dir, 0o700); err != nil {
		return fmt.Errorf("spool: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil {
		return errors.New("spool: previous invocation was not drained")
	}
	r.path = filepath.Join(r.dir, "bep-"+uuid.NewString()+".bin")
	r.exited = make(chan struct{})
	r.done = make(chan struct{})
	r.err = nil

	p := &poller{
		path:    r.path,
		handler: r.handler,
		log:     r.log.WithValues("path", r.path),
		exited:  r.exited,
		backoff: backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(r.interval),
			backoff.WithMaxInterval(maxPollInterval),
			backoff.WithMaxElapsedTime(0),
		),
	}
	done := r.done
	go func() {
		defer close(done)
		err := p.run()
		r.mu.Lock()
		r.err = err
		r.mu.Unlock()
	}()
	return nil
}

// Drain tells the poller the tool exited and waits until it read the rest of
// the file. The spool file is removed afterwards.
func (r *Reader) Drain(ctx context.Context) error {
	r.mu.Lock()
	exited, done, path := r.exited, r.done, r.path
	r.mu.Unlock()
	if done == nil {
		return nil
	}

	close(exited)
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.exited, r.done = nil, nil
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		r.log.Error(err, "could not remove spool file", "path", path)
	}
	return r.err
}

type poller struct {
	path    string
	handler FrameHandler
	log     logr.Logger
	exited  <-chan struct{}
	backoff *backoff.ExponentialBackOff
}

func (p *poller) run() error {
	var (
		f     *os.File
		buf   []byte
		chunk = make([]byte, readChunkSize)
	)
	defer func() {
		if f != nil {
			_ = f.Close()
		}
	}()

	for {
		// Checked before reading: an EOF seen after the tool exited is final.
		exited := isClosed(p.exited)

		if f == nil {
			var err error
			f, err = os.Open(p.path)
			if errors.Is(err, fs.ErrNotExist) {
				if exited {
					p.log.V(1).Info("build tool exited without writing events")
					return nil
				}
				p.wait()
				continue
			}
			if err != nil {
				return fmt.Errorf("open spool file: %w", err)
			}
		}

		n, err := f.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			for {
				msg, rest, err := pbwire.NextFrame(buf)
				if errors.Is(err, pbwire.ErrShortFrame) {
					break
				}
				if err != nil {
					// Frame boundaries are lost, nothing after this point can be decoded.
					p.log.Error(err, "corrupt spool file, dropping the rest of the stream")
					return fmt.Errorf("decode spool file: %w", err)
				}
				buf = rest
				if p.handler(msg) {
					return nil
				}
			}
			buf = slices.Clone(buf)
			p.backoff.Reset()
			continue
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read spool file: %w", err)
		}
		if exited {
			if len(buf) > 0 {
				p.log.Info("spool file ends with a partial event", "bytes", len(buf))
			}
			return nil
		}
		p.wait()
	}
}

// wait sleeps for the next backoff interval, or until the tool exits.
func (p *poller) wait() {
	t := time.NewTimer(p.backoff.NextBackOff())
	defer t.Stop()
	select {
	case <-t.C:
	case <-p.exited:
	}
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
