// Package bes hosts a local Build Event Service endpoint the build tool pushes
// its build event stream to.
package bes

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/go-logr/logr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"bazelbsp/internal/process"
)

const defaultAddress = "127.0.0.1:0"

type Options struct {
	// Address to listen on. Defaults to a free loopback port.
	Address string
	// Listener overrides Address when set.
	Listener net.Listener
	Handler  FrameHandler
	Log      logr.Logger
}

// Server is a running Build Event Service endpoint. It implements
// process.EventStream.
type Server struct {
	ln     net.Listener
	grpc   *grpc.Server
	health *health.Server
	svc    *service
	log    logr.Logger
	done   chan struct{}
}

var _ process.EventStream = (*Server)(nil)

// Start binds the listener and serves in the background until Close.
func Start(opts Options) (*Server, error) {
	if opts.Handler == nil {
		return nil, errors.New("bes: frame handler is required")
	}
	log := opts.Log.WithName("bes")

	ln := opts.Listener
	if ln == nil {
		addr := opts.Address
		if addr == "" {
			addr = defaultAddress
		}
		var err error
		ln, err = net.Listen("tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("failed to listen: %w", err)
		}
	}

	s := &Server{
		ln:     ln,
		grpc:   grpc.NewServer(grpc.ForceServerCodec(codec{})),
		health: health.NewServer(),
		svc:    newService(opts.Handler, log),
		log:    log,
		done:   make(chan struct{}),
	}
	s.grpc.RegisterService(&publishBuildEventDesc, s.svc)
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	go func() {
		defer close(s.done)
		log.Info("Starting build event service", "address", ln.Addr().String())
		if err := s.grpc.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Error(err, "build event service stopped")
		}
	}()
	return s, nil
}

// Addr returns the host:port the server listens on.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

func (s *Server) Flags() []string {
	return []string{
		"--bes_backend=grpc://" + s.Addr(),
		process.PublishAllActionsFlag,
	}
}

// Open fails once the server stopped serving.
func (s *Server) Open(context.Context) error {
	select {
	case <-s.done:
		return errors.New("bes: server is closed")
	default:
		return nil
	}
}

// Drain waits until every event stream currently being served has ended.
func (s *Server) Drain(ctx context.Context) error {
	return s.svc.streams.wait(ctx)
}

// Close stops the server after in-flight streams finished.
func (s *Server) Close() error {
	s.health.Shutdown()
	s.grpc.GracefulStop()
	<-s.done
	return nil
}
