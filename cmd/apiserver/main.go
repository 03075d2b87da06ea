// Command apiserver serves the NaturaCheck REST and gRPC APIs.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/turtacn/NaturaCheck/internal/application/evaluation"
	"github.com/turtacn/NaturaCheck/internal/bootstrap"
	"github.com/turtacn/NaturaCheck/internal/config"
	"github.com/turtacn/NaturaCheck/internal/infrastructure/auth/keycloak"
	"github.com/turtacn/NaturaCheck/internal/infrastructure/monitoring/logging"
	metrics "github.com/turtacn/NaturaCheck/internal/infrastructure/monitoring/prometheus"
	grpcserver "github.com/turtacn/NaturaCheck/internal/interfaces/grpc"
	httpserver "github.com/turtacn/NaturaCheck/internal/interfaces/http"
	"github.com/turtacn/NaturaCheck/internal/interfaces/http/handlers"
	"github.com/turtacn/NaturaCheck/internal/interfaces/http/middleware"
)

// Set via ldflags.
var version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "path to configuration file (environment only when empty)")
	httpPort := flag.Int("http-port", 0, "HTTP server port (overrides config)")
	grpcPort := flag.Int("grpc-port", 0, "gRPC server port (overrides config)")
	flag.Parse()

	if err := run(*configPath, *httpPort, *grpcPort); err != nil {
		fmt.Fprintf(os.Stderr, "apiserver: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, httpPort, grpcPort int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if httpPort > 0 {
		cfg.Server.HTTP.Port = httpPort
	}
	if grpcPort > 0 {
		cfg.Server.GRPC.Port = grpcPort
	}

	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	logger.Info("starting NaturaCheck API server",
		logging.String("version", version),
		logging.Int("http_port", cfg.Server.HTTP.Port),
		logging.Int("grpc_port", cfg.Server.GRPC.Port),
		logging.Bool("grpc_enabled", cfg.Server.GRPC.Enabled))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector, appMetrics, err := bootstrap.NewMetrics(cfg.Metrics, logger)
	if err != nil {
		return err
	}
	infra, err := bootstrap.NewInfrastructure(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer infra.Close()

	cat, err := bootstrap.LoadCatalog(cfg.Eligibility.CatalogPath)
	if err != nil {
		return err
	}
	svc := evaluation.NewService(cat, cfg.Eligibility.Policy, infra.Dependencies(), logger,
		evaluation.WithMetrics(appMetrics),
		evaluation.WithBatchConcurrency(cfg.Eligibility.BatchConcurrency))
	logger.Info("catalog loaded", logging.String("catalog_version", cat.Version()))

	if configPath != "" {
		err := config.Watch(configPath, func(c *config.Config) {
			if v, err := bootstrap.Apply(ctx, svc, c.Eligibility); err != nil {
				logger.Error("config change rejected", logging.Err(err))
			} else {
				logger.Info("config change applied", logging.String("catalog_version", v))
			}
		}, func(err error) {
			logger.Warn("invalid config change ignored", logging.Err(err))
		})
		if err != nil {
			logger.Warn("config watch disabled", logging.Err(err))
		}
	}

	var enforcer *keycloak.Enforcer
	if infra.Verifier != nil {
		enforcer = keycloak.NewEnforcer(nil, logger)
	}

	router := httpserver.NewRouter(routerConfig(cfg, configPath, svc, infra, enforcer, collector, appMetrics, logger))
	httpSrv := httpserver.NewServer(cfg.Server.HTTP, router, logger)

	var grpcSrv *grpcserver.Server
	if cfg.Server.GRPC.Enabled {
		opts := []grpcserver.Option{
			grpcserver.WithLogger(logger),
			grpcserver.WithMetrics(appMetrics),
		}
		if infra.Verifier != nil {
			opts = append(opts, grpcserver.WithAuth(infra.Verifier, enforcer))
		}
		grpcSrv, err = grpcserver.NewServer(cfg.Server.GRPC, opts...)
		if err != nil {
			return err
		}
		grpcSrv.RegisterService(&grpcserver.EligibilityServiceDesc, grpcserver.NewEligibilityService(svc, logger))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(httpSrv.Start)
	if grpcSrv != nil {
		g.Go(grpcSrv.Start)
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down servers")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var firstErr error
		if err := httpSrv.Stop(shutdownCtx); err != nil {
			firstErr = err
		}
		if grpcSrv != nil {
			if err := grpcSrv.Stop(shutdownCtx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	})

	err = g.Wait()
	logger.Info("servers stopped")
	return err
}

func routerConfig(
	cfg *config.Config,
	configPath string,
	svc evaluation.Service,
	infra *bootstrap.Infrastructure,
	enforcer *keycloak.Enforcer,
	collector metrics.MetricsCollector,
	appMetrics *metrics.AppMetrics,
	logger logging.Logger,
) httpserver.RouterConfig {
	rc := httpserver.RouterConfig{
		EvaluationHandler: handlers.NewEvaluationHandler(svc, logger, cfg.Server.HTTP.MaxBodySize),
		CatalogHandler: handlers.NewCatalogHandler(svc, bootstrap.CatalogReloader(configPath, svc, logger),
			logger, cfg.Server.HTTP.MaxBodySize),
		HealthHandler: handlers.NewHealthHandler(version,
			func() string { return svc.Catalog().Version() }, infra.HealthCheckers()...),
		Enforcer:          enforcer,
		LoggingMiddleware: middleware.NewLoggingMiddleware(logger, middleware.DefaultLoggingConfig()),
		Logger:            logger,
		Metrics:           appMetrics,
		MetricsCollector:  collector,
		MetricsPath:       cfg.Metrics.Path,
	}

	if len(cfg.Server.HTTP.CORSAllowedOrigins) > 0 {
		cors := middleware.DefaultCORSConfig()
		cors.AllowedOrigins = cfg.Server.HTTP.CORSAllowedOrigins
		rc.CORSMiddleware = middleware.NewCORSMiddleware(cors)
	}
	if cfg.Server.HTTP.RateLimitRPS > 0 {
		rc.RateLimitMiddleware = middleware.NewRateLimitMiddleware(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.Server.HTTP.RateLimitRPS,
			Burst:             cfg.Server.HTTP.RateLimitBurst,
			IdleTTL:           10 * time.Minute,
		})
	}
	if infra.Verifier != nil {
		rc.AuthMiddleware = keycloak.NewAuthMiddleware(infra.Verifier, logger,
			keycloak.WithSkipPaths(cfg.Keycloak.SkipPaths...),
			keycloak.WithAttemptHook(func(success bool) { metrics.RecordAuthAttempt(appMetrics, success) }))
	}
	return rc
}
