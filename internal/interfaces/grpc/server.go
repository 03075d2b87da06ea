// Package grpc is the gRPC transport of NaturaCheck. It serves the
// naturacheck.v1.Eligibility service, the standard health service and, in
// debug deployments, server reflection.
package grpc

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/turtacn/NaturaCheck/internal/config"
	"github.com/turtacn/NaturaCheck/internal/infrastructure/auth/keycloak"
	"github.com/turtacn/NaturaCheck/internal/infrastructure/monitoring/logging"
	metrics "github.com/turtacn/NaturaCheck/internal/infrastructure/monitoring/prometheus"
)

const (
	defaultMaxRecvMsgSize  = 16 * 1024 * 1024
	defaultMaxSendMsgSize  = 16 * 1024 * 1024
	defaultGracefulTimeout = 10 * time.Second
)

var defaultKeepaliveParams = keepalive.ServerParameters{
	MaxConnectionIdle:     15 * time.Minute,
	MaxConnectionAge:      30 * time.Minute,
	MaxConnectionAgeGrace: 5 * time.Second,
	Time:                  5 * time.Minute,
	Timeout:               1 * time.Second,
}

var defaultKeepalivePolicy = keepalive.EnforcementPolicy{
	MinTime:             5 * time.Second,
	PermitWithoutStream: true,
}

// Option configures the Server.
type Option func(*serverOptions)

type serverOptions struct {
	logger          logging.Logger
	metrics         *metrics.AppMetrics
	tlsConfig       *tls.Config
	verifier        keycloak.TokenVerifier
	enforcer        *keycloak.Enforcer
	maxRecvMsgSize  int
	maxSendMsgSize  int
	gracefulTimeout time.Duration
}

// WithLogger sets the server logger.
func WithLogger(l logging.Logger) Option {
	return func(o *serverOptions) { o.logger = l }
}

// WithMetrics records per-method call counts.
func WithMetrics(m *metrics.AppMetrics) Option {
	return func(o *serverOptions) { o.metrics = m }
}

// WithTLSConfig overrides the certificate files of the config.
func WithTLSConfig(tc *tls.Config) Option {
	return func(o *serverOptions) { o.tlsConfig = tc }
}

// WithAuth requires a bearer token in the "authorization" metadata of every
// NaturaCheck call and checks the method permission with enforcer.
func WithAuth(verifier keycloak.TokenVerifier, enforcer *keycloak.Enforcer) Option {
	return func(o *serverOptions) {
		o.verifier = verifier
		o.enforcer = enforcer
	}
}

// WithMaxSendMsgSize sets the maximum send message size in bytes.
func WithMaxSendMsgSize(size int) Option {
	return func(o *serverOptions) {
		if size > 0 {
			o.maxSendMsgSize = size
		}
	}
}

// WithGracefulTimeout bounds GracefulStop before connections are cut.
func WithGracefulTimeout(d time.Duration) Option {
	return func(o *serverOptions) {
		if d > 0 {
			o.gracefulTimeout = d
		}
	}
}

// Server wraps grpc.Server with the interceptor chain, health reporting and
// graceful shutdown.
type Server struct {
	grpcServer   *grpc.Server
	healthServer *health.Server
	cfg          config.GRPCConfig
	opts         *serverOptions

	mu       sync.Mutex
	listener net.Listener
	started  bool
}

// NewServer assembles a Server. Nothing is bound until Start or Serve.
func NewServer(cfg config.GRPCConfig, opts ...Option) (*Server, error) {
	sopts := &serverOptions{
		maxRecvMsgSize:  defaultMaxRecvMsgSize,
		maxSendMsgSize:  defaultMaxSendMsgSize,
		gracefulTimeout: defaultGracefulTimeout,
	}
	if cfg.MaxRecvMsgSize > 0 {
		sopts.maxRecvMsgSize = cfg.MaxRecvMsgSize
	}
	for _, o := range opts {
		o(sopts)
	}
	sopts.logger = logging.OrNop(sopts.logger).Named("grpc")
	if sopts.enforcer == nil {
		sopts.enforcer = keycloak.NewPermissiveEnforcer()
	}

	grpcOpts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(sopts.maxRecvMsgSize),
		grpc.MaxSendMsgSize(sopts.maxSendMsgSize),
		grpc.KeepaliveParams(defaultKeepaliveParams),
		grpc.KeepaliveEnforcementPolicy(defaultKeepalivePolicy),
		grpc.ChainUnaryInterceptor(
			recoveryUnaryInterceptor(sopts.logger),
			loggingUnaryInterceptor(sopts.logger),
			metricsUnaryInterceptor(sopts.metrics),
			errorUnaryInterceptor(),
			authUnaryInterceptor(sopts.verifier, sopts.enforcer, sopts.metrics, sopts.logger),
		),
	}

	creds, err := transportCredentials(cfg, sopts.tlsConfig)
	if err != nil {
		return nil, err
	}
	if creds != nil {
		grpcOpts = append(grpcOpts, grpc.Creds(creds))
	}

	gs := grpc.NewServer(grpcOpts...)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	if cfg.Reflection {
		reflection.Register(gs)
		sopts.logger.Info("grpc reflection service registered")
	}

	return &Server{
		grpcServer:   gs,
		healthServer: hs,
		cfg:          cfg,
		opts:         sopts,
	}, nil
}

func transportCredentials(cfg config.GRPCConfig, tc *tls.Config) (credentials.TransportCredentials, error) {
	if tc != nil {
		return credentials.NewTLS(tc), nil
	}
	if cfg.TLSCertFile == "" && cfg.TLSKeyFile == "" {
		return nil, nil
	}
	creds, err := credentials.NewServerTLSFromFile(cfg.TLSCertFile, cfg.TLSKeyFile)
	if err != nil {
		return nil, fmt.Errorf("grpc: load tls key pair: %w", err)
	}
	return creds, nil
}

// RegisterService registers impl and marks it serving. Call before Serve.
func (s *Server) RegisterService(desc *grpc.ServiceDesc, impl interface{}) {
	s.grpcServer.RegisterService(desc, impl)
	s.healthServer.SetServingStatus(desc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	s.opts.logger.Info("grpc service registered", logging.String("service", desc.ServiceName))
}

// Start listens on the configured port and blocks until Stop.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("grpc: listen %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln and blocks until Stop.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("grpc: server already started")
	}
	s.started = true
	s.listener = ln
	s.mu.Unlock()

	s.opts.logger.Info("gRPC server listening", logging.String("addr", ln.Addr().String()))
	return s.grpcServer.Serve(ln)
}

// Stop reports NOT_SERVING, then stops gracefully. Connections still open
// after the graceful timeout are closed.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return nil
	}

	s.opts.logger.Info("shutting down gRPC server")
	s.healthServer.Shutdown()

	gracefulCtx, cancel := context.WithTimeout(ctx, s.opts.gracefulTimeout)
	defer cancel()

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		s.opts.logger.Info("gRPC server stopped")
	case <-gracefulCtx.Done():
		s.opts.logger.Warn("grpc graceful stop timed out, forcing stop")
		s.grpcServer.Stop()
	}
	return nil
}

// Addr returns the bound address, or "" before Serve.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// GRPCServer exposes the underlying server.
func (s *Server) GRPCServer() *grpc.Server {
	return s.grpcServer
}
