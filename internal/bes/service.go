package bes

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"

	"bazelbsp/internal/pbwire"
)

const (
	ServiceName = "google.devtools.build.v1.PublishBuildEvent"

	lifecycleMethod = "/" + ServiceName + "/PublishLifecycleEvent"
	streamMethod    = "/" + ServiceName + "/PublishBuildToolEventStream"

	bazelEventType = "build_event_stream.BuildEvent"
)

// publishBuildEventServer is the server side of the Build Event Service.
type publishBuildEventServer interface {
	PublishLifecycleEvent(ctx context.Context, req *frame) (*frame, error)
	PublishBuildToolEventStream(stream grpc.ServerStream) error
}

var publishBuildEventDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*publishBuildEventServer)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "PublishLifecycleEvent",
		Handler:    lifecycleHandler,
	}},
	Streams: []grpc.StreamDesc{{
		StreamName:    "PublishBuildToolEventStream",
		Handler:       streamHandler,
		ServerStreams: true,
		ClientStreams: true,
	}},
	Metadata: "google/devtools/build/v1/publish_build_event.proto",
}

func lifecycleHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(frame)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(publishBuildEventServer).PublishLifecycleEvent(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: lifecycleMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(publishBuildEventServer).PublishLifecycleEvent(ctx, req.(*frame))
	}
	return interceptor(ctx, in, info, handler)
}

func streamHandler(srv any, stream grpc.ServerStream) error {
	return srv.(publishBuildEventServer).PublishBuildToolEventStream(stream)
}

// FrameHandler consumes one encoded build_event_stream.BuildEvent and reports
// whether it was the last event of the build.
type FrameHandler func(event []byte) bool

// service forwards Bazel events from the build tool event stream to the
// handler and acknowledges every request.
type service struct {
	handler FrameHandler
	log     logr.Logger
	streams streamTracker
}

func newService(handler FrameHandler, log logr.Logger) *service {
	s := &service{handler: handler, log: log}
	s.streams.init()
	return s
}

func (s *service) PublishLifecycleEvent(ctx context.Context, req *frame) (*frame, error) {
	// google.protobuf.Empty
	return &frame{}, nil
}

func (s *service) PublishBuildToolEventStream(stream grpc.ServerStream) error {
	s.streams.begin()
	defer s.streams.end()

	for {
		in := new(frame)
		if err := stream.RecvMsg(in); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		req, err := decodeStreamRequest(in.payload)
		switch {
		case err != nil:
			// Only this event is lost; it is still acked so the stream goes on.
			s.log.Error(err, "skipping malformed build tool event", "sequence", req.sequenceNumber)
		case req.bazelEvent != nil:
			s.handler(req.bazelEvent)
		}
		if err := stream.SendMsg(&frame{payload: req.ack()}); err != nil {
			return err
		}
	}
}

type streamRequest struct {
	streamID       []byte
	sequenceNumber int64
	bazelEvent     []byte
}

// ack encodes the PublishBuildToolEventStreamResponse for the request.
func (r streamRequest) ack() []byte {
	var b pbwire.Builder
	if r.streamID != nil {
		b.Raw(1, r.streamID)
	}
	if r.sequenceNumber != 0 {
		b.Varint(2, uint64(r.sequenceNumber))
	}
	return b.Bytes()
}

// decodeStreamRequest decodes a PublishBuildToolEventStreamRequest down to
// the Bazel event carried in ordered_build_event.event.bazel_event. The
// stream id and sequence number are kept even when the event is rejected.
func decodeStreamRequest(b []byte) (streamRequest, error) {
	var (
		req      streamRequest
		eventErr error
	)
	err := pbwire.Walk(b, func(f pbwire.Field) error {
		if f.Num != 4 {
			return nil
		}
		return pbwire.Walk(f.Bytes, func(f pbwire.Field) error {
			switch f.Num {
			case 1:
				req.streamID = f.Bytes
			case 2:
				req.sequenceNumber = f.Int64()
			case 3:
				ev, err := bazelEvent(f.Bytes)
				if err != nil {
					eventErr = err
					return nil
				}
				req.bazelEvent = ev
			}
			return nil
		})
	})
	if err != nil {
		return req, err
	}
	return req, eventErr
}

// bazelEvent extracts the payload of google.devtools.build.v1.BuildEvent.bazel_event.
func bazelEvent(b []byte) ([]byte, error) {
	var payload []byte
	err := pbwire.Walk(b, func(f pbwire.Field) error {
		if f.Num != 60 {
			return nil
		}
		var a anypb.Any
		if err := proto.Unmarshal(f.Bytes, &a); err != nil {
			return fmt.Errorf("bazel_event: %w", err)
		}
		if !strings.HasSuffix(a.GetTypeUrl(), "/"+bazelEventType) {
			return fmt.Errorf("bazel_event: unexpected type %q", a.GetTypeUrl())
		}
		payload = a.GetValue()
		return nil
	})
	return payload, err
}

// streamTracker counts the event streams being served.
type streamTracker struct {
	mu     sync.Mutex
	active int
	idle   chan struct{} // closed while active == 0
}

func (t *streamTracker) init() {
	t.idle = make(chan struct{})
	close(t.idle)
}

func (t *streamTracker) begin() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == 0 {
		t.idle = make(chan struct{})
	}
	t.active++
}

func (t *streamTracker) end() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active--
	if t.active == 0 {
		close(t.idle)
	}
}

// wait blocks until no stream is being served.
func (t *streamTracker) wait(ctx context.Context) error {
	t.mu.Lock()
	idle := t.idle
	t.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
