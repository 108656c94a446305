// Package beptest encodes build_event_stream.BuildEvent messages for tests of
// the decoder, the transports and the ingestor.
package beptest

import (
	"time"

	"bazelbsp/internal/bep"
	"bazelbsp/internal/pbwire"
)

func Started(uuid string, start time.Time) []byte {
	var b pbwire.Builder
	b.Message(1, func(id *pbwire.Builder) { id.Message(3, func(*pbwire.Builder) {}) })
	b.Message(5, func(s *pbwire.Builder) {
		s.String(1, uuid)
		s.String(5, "build")
		s.Message(9, func(ts *pbwire.Builder) {
			ts.Varint(1, uint64(start.Unix()))
			ts.Varint(2, uint64(start.Nanosecond()))
		})
	})
	return b.Bytes()
}

func Progress(count int32, stdout, stderr string) []byte {
	var b pbwire.Builder
	b.Message(1, func(id *pbwire.Builder) {
		id.Message(2, func(p *pbwire.Builder) { p.Varint(1, uint64(count)) })
	})
	b.Message(3, func(p *pbwire.Builder) {
		if stdout != "" {
			p.String(1, stdout)
		}
		if stderr != "" {
			p.String(2, stderr)
		}
	})
	return b.Bytes()
}

// NamedSet encodes a NamedSetOfFiles event; files are given as URIs.
func NamedSet(id string, uris []string, children ...string) []byte {
	var b pbwire.Builder
	b.Message(1, func(eid *pbwire.Builder) {
		eid.Message(13, func(n *pbwire.Builder) { n.String(1, id) })
	})
	b.Message(15, func(n *pbwire.Builder) {
		for _, uri := range uris {
			n.Message(1, func(f *pbwire.Builder) {
				f.String(1, uri)
				f.String(2, uri)
			})
		}
		for _, child := range children {
			n.Message(2, func(c *pbwire.Builder) { c.String(1, child) })
		}
	})
	return b.Bytes()
}

func TargetCompleted(label string, success bool, groups ...bep.OutputGroup) []byte {
	var b pbwire.Builder
	b.Message(1, func(eid *pbwire.Builder) {
		eid.Message(6, func(t *pbwire.Builder) { t.String(1, label) })
	})
	b.Message(8, func(c *pbwire.Builder) {
		c.Bool(1, success)
		for _, g := range groups {
			c.Message(2, func(og *pbwire.Builder) {
				og.String(1, g.Name)
				for _, set := range g.FileSets {
					og.Message(3, func(s *pbwire.Builder) { s.String(1, set) })
				}
				for _, f := range g.InlineFiles {
					og.Message(5, func(fb *pbwire.Builder) { file(fb, f) })
				}
			})
		}
	})
	return b.Bytes()
}

func ActionExecuted(label string, success bool, exitCode int32, stderr *bep.File, metadataLogs ...bep.File) []byte {
	var b pbwire.Builder
	b.Message(1, func(eid *pbwire.Builder) {
		eid.Message(7, func(a *pbwire.Builder) {
			a.String(1, "bazel-out/k8-fastbuild/bin/out")
			a.String(2, label)
		})
	})
	b.Message(7, func(a *pbwire.Builder) {
		a.Bool(1, success)
		a.Varint(2, uint64(exitCode))
		if stderr != nil {
			a.Message(4, func(fb *pbwire.Builder) { file(fb, *stderr) })
		}
		a.String(8, "Scalac")
		for _, f := range metadataLogs {
			a.Message(10, func(fb *pbwire.Builder) { file(fb, f) })
		}
	})
	return b.Bytes()
}

func Aborted(label string, reason bep.AbortReason, description string) []byte {
	var b pbwire.Builder
	b.Message(1, func(eid *pbwire.Builder) {
		eid.Message(6, func(t *pbwire.Builder) { t.String(1, label) })
	})
	b.Message(4, func(a *pbwire.Builder) {
		a.Varint(1, uint64(reason))
		a.String(2, description)
	})
	return b.Bytes()
}

func Finished(exitCode int32, name string, finish time.Time) []byte {
	var b pbwire.Builder
	b.Message(1, func(eid *pbwire.Builder) { eid.Message(9, func(*pbwire.Builder) {}) })
	b.Message(14, func(f *pbwire.Builder) {
		f.Message(3, func(ec *pbwire.Builder) {
			ec.String(1, name)
			ec.Varint(2, uint64(exitCode))
		})
		f.Message(5, func(ts *pbwire.Builder) {
			ts.Varint(1, uint64(finish.Unix()))
		})
	})
	b.Bool(20, true)
	return b.Bytes()
}

// Spool concatenates events into the length-delimited layout of
// --build_event_binary_file.
func Spool(events ...[]byte) []byte {
	var out []byte
	for _, ev := range events {
		out = pbwire.AppendFrame(out, ev)
	}
	return out
}

func file(b *pbwire.Builder, f bep.File) {
	b.String(1, f.Name)
	if f.URI != "" {
		b.String(2, f.URI)
	}
	for _, p := range f.PathPrefix {
		b.String(4, p)
	}
}
