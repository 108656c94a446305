package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"bazelbsp/internal/config"
	"bazelbsp/internal/diagnostics"
	"bazelbsp/internal/ingest"
	"bazelbsp/internal/outputs"
	"bazelbsp/internal/pbwire"
	"bazelbsp/internal/process"
)

type fakeRunner struct {
	mu      sync.Mutex
	calls   []string
	query   []byte
	info    func(key string) (string, error)
	onBuild func(flags, args []string) (*process.Result, error)
}

func (f *fakeRunner) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeRunner) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeRunner) Execute(ctx context.Context, command string, flags, args []string) (*process.Result, error) {
	f.record(command + " " + strings.Join(args, " "))
	if command != "query" {
		return nil, fmt.Errorf("unexpected command %q", command)
	}
	for _, flag := range flags {
		if path, ok := strings.CutPrefix(flag, "--output_file="); ok {
			if err := os.WriteFile(path, f.query, 0o644); err != nil {
				return nil, err
			}
		}
	}
	return &process.Result{Status: process.StatusOK}, nil
}

func (f *fakeRunner) ExecuteWithEventStreaming(ctx context.Context, command string, flags, args []string) (*process.Result, error) {
	f.record("stream " + command + " " + strings.Join(args, " "))
	if f.onBuild == nil {
		return &process.Result{Status: process.StatusOK}, nil
	}
	return f.onBuild(flags, args)
}

func (f *fakeRunner) Info(ctx context.Context, key string) (string, error) {
	f.record("info " + key)
	if f.info == nil {
		return "", errors.New("info not stubbed")
	}
	return f.info(key)
}

type fakeTransport struct {
	closed bool
}

func (f *fakeTransport) Flags() []string                 { return []string{"--bes_backend=grpc://127.0.0.1:1"} }
func (f *fakeTransport) Open(ctx context.Context) error  { return nil }
func (f *fakeTransport) Drain(ctx context.Context) error { return nil }
func (f *fakeTransport) Close() error {
	f.closed = true
	return nil
}

func stubTool(t *testing.T, runner *fakeRunner) *fakeTransport {
	t.Helper()
	resetDeps()
	transport := &fakeTransport{}
	newRunner = func(process.Options) toolRunner { return runner }
	newTransport = func(config.Config, func([]byte) bool, logr.Logger) (eventTransport, error) {
		return transport, nil
	}
	t.Cleanup(resetDeps)
	return transport
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		BazelBinary:       "bazel",
		WorkspaceRoot:     "/ws",
		Transport:         config.TransportBES,
		SpoolPollInterval: 10 * time.Millisecond,
		SourceCacheSize:   16,
	}
}

type recordingSink struct {
	mu    sync.Mutex
	calls []string
}

func (s *recordingSink) add(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, fmt.Sprintf(format, args...))
}

func (s *recordingSink) OnTaskStart(ingest.TaskID, time.Time) { s.add("start") }

func (s *recordingSink) OnTaskFinish(_ ingest.TaskID, st process.Status, _ time.Time) {
	s.add("finish %s", st)
}

func (s *recordingSink) OnDiagnosticsPublish(target, file string, diags []diagnostics.Diagnostic, reset bool) {
	s.add("diagnostics %s %s %d %t", target, file, len(diags), reset)
}

func (s *recordingSink) OnBuildOutputReady(*outputs.Output) { s.add("output") }

func (s *recordingSink) OnShowMessage(msg string) { s.add("message %s", msg) }

func (s *recordingSink) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// queryOutput encodes streamed_proto query output. Each rule is given as
// name, its srcs and its rule inputs.
type queryRule struct {
	name   string
	srcs   []string
	inputs []string
}

func queryOutput(rules ...queryRule) []byte {
	var out []byte
	for _, r := range rules {
		var b pbwire.Builder
		b.Varint(1, 1)
		b.Message(2, func(rb *pbwire.Builder) {
			rb.String(1, r.name)
			rb.String(2, "scala_library")
			rb.Message(4, func(a *pbwire.Builder) {
				a.String(1, "srcs")
				for _, s := range r.srcs {
					a.String(6, s)
				}
			})
			for _, in := range r.inputs {
				rb.String(5, in)
			}
		})
		out = pbwire.AppendFrame(out, b.Bytes())
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
