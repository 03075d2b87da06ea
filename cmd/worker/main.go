// Command worker evaluates cases queued on Kafka. Failed evaluations are
// retried with backoff and then dead-lettered; decided verdicts flow to the
// same stores and topics as API evaluations.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/turtacn/NaturaCheck/internal/application/evaluation"
	"github.com/turtacn/NaturaCheck/internal/bootstrap"
	"github.com/turtacn/NaturaCheck/internal/config"
	"github.com/turtacn/NaturaCheck/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/NaturaCheck/internal/infrastructure/monitoring/logging"
	metrics "github.com/turtacn/NaturaCheck/internal/infrastructure/monitoring/prometheus"
	httpserver "github.com/turtacn/NaturaCheck/internal/interfaces/http"
	"github.com/turtacn/NaturaCheck/internal/interfaces/http/handlers"
)

// Set via ldflags.
var version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "path to configuration file (environment only when empty)")
	healthPort := flag.Int("health-port", 0, "probe and metrics port (default: server.http.port)")
	flag.Parse()

	if err := run(*configPath, *healthPort); err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, healthPort int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if !cfg.Kafka.Enabled {
		return fmt.Errorf("kafka must be enabled for the worker")
	}
	if healthPort > 0 {
		cfg.Server.HTTP.Port = healthPort
	}

	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	logger.Info("starting NaturaCheck worker",
		logging.String("version", version),
		logging.Strings("brokers", cfg.Kafka.Brokers),
		logging.String("group", cfg.Kafka.GroupID))

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

	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:         cfg.Kafka.Brokers,
		GroupID:         cfg.Kafka.GroupID,
		Topics:          []string{kafka.TopicEvaluationRequested},
		StartOffset:     cfg.Kafka.StartOffset,
		MaxRetries:      cfg.Kafka.MaxRetries,
		RetryBackoff:    cfg.Kafka.RetryBackoff,
		DeadLetterTopic: kafka.TopicEvaluationDeadLetter,
		OnOutcome: func(topic, outcome string) {
			metrics.RecordMessage(appMetrics, topic, outcome)
		},
	}, logger)
	if err != nil {
		return err
	}
	consumer.Subscribe(kafka.TopicEvaluationRequested, evaluation.RequestHandler(svc, logger))

	health := httpserver.NewServer(cfg.Server.HTTP, httpserver.NewRouter(httpserver.RouterConfig{
		HealthHandler: handlers.NewHealthHandler(version,
			func() string { return svc.Catalog().Version() }, infra.HealthCheckers()...),
		Logger:           logger,
		Metrics:          appMetrics,
		MetricsCollector: collector,
		MetricsPath:      cfg.Metrics.Path,
	}), logger)
	healthErr := make(chan error, 1)
	go func() { healthErr <- health.Start() }()

	if err := consumer.Start(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err = <-healthErr:
		logger.Error("health server failed", logging.Err(err))
	}

	if cerr := consumer.Close(); cerr != nil {
		logger.Warn("consumer close failed", logging.Err(cerr))
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := health.Stop(shutdownCtx); serr != nil {
		logger.Warn("health server shutdown failed", logging.Err(serr))
	}
	logger.Info("worker stopped")
	return err
}
