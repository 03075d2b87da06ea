// Package bootstrap builds the process-wide dependencies shared by the API
// server and the worker from a loaded configuration.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/turtacn/NaturaCheck/internal/application/evaluation"
	"github.com/turtacn/NaturaCheck/internal/config"
	"github.com/turtacn/NaturaCheck/internal/infrastructure/auth/keycloak"
	"github.com/turtacn/NaturaCheck/internal/infrastructure/database/postgres"
	"github.com/turtacn/NaturaCheck/internal/infrastructure/database/postgres/repositories"
	"github.com/turtacn/NaturaCheck/internal/infrastructure/database/redis"
	"github.com/turtacn/NaturaCheck/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/NaturaCheck/internal/infrastructure/monitoring/logging"
	metrics "github.com/turtacn/NaturaCheck/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/NaturaCheck/internal/infrastructure/search/opensearch"
	"github.com/turtacn/NaturaCheck/internal/infrastructure/storage/minio"
	"github.com/turtacn/NaturaCheck/internal/interfaces/http/handlers"
)

// Infrastructure holds the optional backends. A disabled section leaves its
// field nil.
type Infrastructure struct {
	Postgres *postgres.Connection
	Verdicts *repositories.VerdictRepository
	Redis    *redis.Client
	Cache    *redis.VerdictCache
	Locker   *redis.Locker
	Producer *kafka.Producer
	Texts    *minio.TextStore
	Search   *opensearch.Client
	Index    *opensearch.VerdictIndex
	Verifier *keycloak.Verifier

	logger logging.Logger
}

// NewInfrastructure connects every enabled backend. On failure the backends
// already opened are closed.
func NewInfrastructure(ctx context.Context, cfg *config.Config, logger logging.Logger) (*Infrastructure, error) {
	infra := &Infrastructure{logger: logging.OrNop(logger)}
	if err := infra.connect(ctx, cfg); err != nil {
		infra.Close()
		return nil, err
	}
	return infra, nil
}

func (i *Infrastructure) connect(ctx context.Context, cfg *config.Config) error {
	if cfg.Database.Enabled {
		if err := i.initPostgres(cfg.Database); err != nil {
			return err
		}
	}
	if cfg.Redis.Enabled {
		if err := i.initRedis(cfg.Redis); err != nil {
			return err
		}
	}
	if cfg.Kafka.Enabled {
		if err := i.initKafka(ctx, cfg.Kafka); err != nil {
			return err
		}
	}
	if cfg.MinIO.Enabled {
		if err := i.initMinIO(ctx, cfg.MinIO); err != nil {
			return err
		}
	}
	if cfg.OpenSearch.Enabled {
		if err := i.initOpenSearch(ctx, cfg.OpenSearch); err != nil {
			return err
		}
	}
	if cfg.Keycloak.Enabled {
		v, err := keycloak.NewVerifier(keycloak.Config{
			BaseURL:      cfg.Keycloak.BaseURL,
			Realm:        cfg.Keycloak.Realm,
			ClientID:     cfg.Keycloak.ClientID,
			Audience:     cfg.Keycloak.Audience,
			JWKSCacheTTL: cfg.Keycloak.JWKSCacheTTL,
		}, i.logger, nil)
		if err != nil {
			return fmt.Errorf("keycloak: %w", err)
		}
		i.Verifier = v
	}
	return nil
}

func (i *Infrastructure) initPostgres(cfg config.DatabaseConfig) error {
	conn, err := postgres.NewConnection(postgres.PostgresConfig{
		Host:            cfg.Host,
		Port:            cfg.Port,
		Database:        cfg.DBName,
		Username:        cfg.User,
		Password:        cfg.Password,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}, i.logger)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	i.Postgres = conn
	if cfg.AutoMigrate {
		if err := conn.RunMigrations(); err != nil {
			return fmt.Errorf("postgres migrations: %w", err)
		}
	}
	i.Verdicts = repositories.NewVerdictRepository(conn, i.logger)
	return nil
}

func (i *Infrastructure) initRedis(cfg config.RedisConfig) error {
	client, err := redis.NewClient(redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}, i.logger)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	i.Redis = client

	cacheOpts := []redis.CacheOption{redis.WithPrefix(cfg.KeyPrefix + "verdict:")}
	if cfg.VerdictTTL > 0 {
		cacheOpts = append(cacheOpts, redis.WithTTL(cfg.VerdictTTL))
	}
	i.Cache = redis.NewVerdictCache(client, i.logger, cacheOpts...)

	lockOpts := []redis.LockOption{redis.WithLockPrefix(cfg.KeyPrefix + "lock:")}
	if cfg.LockTTL > 0 {
		lockOpts = append(lockOpts, redis.WithLockTTL(cfg.LockTTL))
	}
	i.Locker = redis.NewLocker(client, i.logger, lockOpts...)
	return nil
}

func (i *Infrastructure) initKafka(ctx context.Context, cfg config.KafkaConfig) error {
	if cfg.AutoCreateTopics {
		tm, err := kafka.NewTopicManager(cfg.Brokers, i.logger)
		if err != nil {
			return fmt.Errorf("kafka topics: %w", err)
		}
		err = tm.EnsureTopics(ctx, kafka.DefaultTopics(cfg.NumPartitions, cfg.ReplicationFactor))
		_ = tm.Close()
		if err != nil {
			return fmt.Errorf("kafka topics: %w", err)
		}
	}
	p, err := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      cfg.Brokers,
		MaxRetries:   cfg.MaxRetries,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
	}, i.logger)
	if err != nil {
		return fmt.Errorf("kafka producer: %w", err)
	}
	i.Producer = p
	return nil
}

func (i *Infrastructure) initMinIO(ctx context.Context, cfg config.MinIOConfig) error {
	store, err := minio.Connect(minio.Config{
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		Bucket:    cfg.Bucket,
		Region:    cfg.Region,
		UseSSL:    cfg.UseSSL,
		MaxTextMB: cfg.MaxTextMB,
	}, i.logger)
	if err != nil {
		return fmt.Errorf("minio: %w", err)
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("minio bucket: %w", err)
	}
	i.Texts = store
	return nil
}

func (i *Infrastructure) initOpenSearch(ctx context.Context, cfg config.OpenSearchConfig) error {
	client, err := opensearch.NewClient(opensearch.ClientConfig{
		Addresses:          cfg.Addresses,
		Username:           cfg.User,
		Password:           cfg.Password,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}, i.logger)
	if err != nil {
		return fmt.Errorf("opensearch: %w", err)
	}
	i.Search = client
	i.Index = opensearch.NewVerdictIndex(client, cfg.Index, i.logger)
	if err := i.Index.EnsureIndex(ctx); err != nil {
		return fmt.Errorf("opensearch index: %w", err)
	}
	return nil
}

// Dependencies returns the evaluation backends. Only connected backends are
// set so that nil checks in the service see untyped nils.
func (i *Infrastructure) Dependencies() evaluation.Dependencies {
	var deps evaluation.Dependencies
	if i.Verdicts != nil {
		deps.Store = i.Verdicts
	}
	if i.Cache != nil {
		deps.Cache = i.Cache
	}
	if i.Locker != nil {
		deps.Locker = i.Locker
	}
	if i.Texts != nil {
		deps.Texts = i.Texts
	}
	if i.Index != nil {
		deps.Index = i.Index
	}
	if i.Producer != nil {
		deps.Publisher = i.Producer
	}
	return deps
}

// HealthCheckers returns readiness checks for the connected backends.
func (i *Infrastructure) HealthCheckers() []handlers.HealthChecker {
	var checks []handlers.HealthChecker
	if i.Postgres != nil {
		checks = append(checks, handlers.CheckerFunc{ComponentName: "postgres", Fn: i.Postgres.HealthCheck})
	}
	if i.Redis != nil {
		checks = append(checks, handlers.CheckerFunc{ComponentName: "redis", Fn: i.Redis.Ping})
	}
	if i.Search != nil {
		checks = append(checks, handlers.CheckerFunc{ComponentName: "opensearch", Fn: i.Search.Ping})
	}
	return checks
}

// Close releases every connected backend.
func (i *Infrastructure) Close() {
	if i == nil {
		return
	}
	closeQuietly := func(name string, fn func() error) {
		if err := fn(); err != nil {
			i.logger.Warn("close failed", logging.String("component", name), logging.Err(err))
		}
	}
	if i.Producer != nil {
		closeQuietly("kafka", i.Producer.Close)
	}
	if i.Redis != nil {
		closeQuietly("redis", i.Redis.Close)
	}
	if i.Postgres != nil {
		closeQuietly("postgres", i.Postgres.Close)
	}
}

// NewMetrics creates the Prometheus registry and application metrics. Both
// are nil when metrics are disabled.
func NewMetrics(cfg config.MetricsConfig, logger logging.Logger) (metrics.MetricsCollector, *metrics.AppMetrics, error) {
	if !cfg.Enabled {
		return nil, nil, nil
	}
	collector, err := metrics.NewMetricsCollector(metrics.CollectorConfig{
		Namespace:            cfg.Namespace,
		EnableProcessMetrics: true,
		EnableGoMetrics:      true,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("metrics: %w", err)
	}
	return collector, metrics.NewAppMetrics(collector), nil
}
