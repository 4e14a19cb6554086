// Package controller serves the standard gRPC health service for the ring
// control plane. The status follows Docker daemon reachability.
package controller

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Service is the health service name clients may query besides "".
const Service = "ring.ControlPlane"

// Pinger reports whether the container daemon answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	grpc     *grpc.Server
	health   *health.Server
	pinger   Pinger
	interval time.Duration
	log      *slog.Logger
}

type Option func(*options)

type options struct {
	creds    credentials.TransportCredentials
	interval time.Duration
	log      *slog.Logger
}

// WithCreds serves over TLS.
func WithCreds(c credentials.TransportCredentials) Option {
	return func(o *options) { o.creds = c }
}

// WithInterval sets how often the daemon is pinged.
func WithInterval(d time.Duration) Option {
	return func(o *options) { o.interval = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

func New(pinger Pinger, opts ...Option) *Server {
	o := options{interval: 10 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	var serverOpts []grpc.ServerOption
	if o.creds != nil {
		serverOpts = append(serverOpts, grpc.Creds(o.creds))
	}
	s := &Server{
		grpc:     grpc.NewServer(serverOpts...),
		health:   health.NewServer(),
		pinger:   pinger,
		interval: o.interval,
		log:      o.log,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Refresh pings the daemon once and updates the served status.
func (s *Server) Refresh(ctx context.Context) {
	if err := s.pinger.Ping(ctx); err != nil {
		s.log.Warn("docker daemon unreachable", "error", err)
		s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
		return
	}
	s.setStatus(healthpb.HealthCheckResponse_SERVING)
}

// Watch refreshes the status every interval until ctx is done.
func (s *Server) Watch(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}

func (s *Server) setStatus(st healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(Service, st)
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info("gRPC health listening", "addr", lis.Addr().String())
	return s.grpc.Serve(lis)
}

// Run listens on addr and serves.
func (s *Server) Run(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

// Stop marks every service NOT_SERVING and drains open RPCs.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
