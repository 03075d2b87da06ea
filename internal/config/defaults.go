package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/turtacn/NaturaCheck/internal/domain/eligibility"
)

// ─────────────────────────────────────────────────────────────────────────────
// Default value constants
// ─────────────────────────────────────────────────────────────────────────────

const (
	DefaultHTTPPort = 8080
	DefaultGRPCPort = 9090

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultBatchConcurrency = 8

	DefaultDBHost = "localhost"
	DefaultDBPort = 5432
	DefaultDBName = "naturacheck"

	DefaultRedisAddr      = "localhost:6379"
	DefaultRedisKeyPrefix = "naturacheck:"

	DefaultKafkaBroker  = "localhost:9092"
	DefaultKafkaGroupID = "naturacheck-worker"

	DefaultMinIOEndpoint = "localhost:9000"
	DefaultMinIOBucket   = "extracted-texts"

	DefaultOpenSearchAddr  = "http://localhost:9200"
	DefaultOpenSearchIndex = "naturacheck-verdicts"

	DefaultMetricsNamespace = "naturacheck"
	DefaultMetricsPath      = "/metrics"
)

// registerDefaults seeds viper with values that ApplyDefaults cannot infer
// from zero values. Registering a key also makes it reachable from the
// environment during Unmarshal.
func registerDefaults(v *viper.Viper) {
	v.SetDefault("eligibility.manual_review.enabled", true)
	v.SetDefault("eligibility.manual_review.min_completeness", eligibility.DefaultMinCompleteness)
	v.SetDefault("eligibility.weak_evidence_requires_review", false)
	v.SetDefault("eligibility.catalog_path", "")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("server.grpc.enabled", true)
	for _, section := range []string{"database", "redis", "kafka", "minio", "opensearch", "keycloak"} {
		v.SetDefault(section+".enabled", false)
	}
	v.SetDefault("database.auto_migrate", false)
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("server.http.port", DefaultHTTPPort)
	v.SetDefault("server.grpc.port", DefaultGRPCPort)
}

// ApplyDefaults fills zero-value fields in cfg. Explicitly set values are
// left unchanged. Booleans are defaulted through viper instead, since false
// cannot be told apart from unset here.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	// ── Server ────────────────────────────────────────────────────────────────
	h := &cfg.Server.HTTP
	if h.Port == 0 {
		h.Port = DefaultHTTPPort
	}
	if h.ReadTimeout == 0 {
		h.ReadTimeout = 15 * time.Second
	}
	if h.WriteTimeout == 0 {
		h.WriteTimeout = 30 * time.Second
	}
	if h.MaxBodySize == 0 {
		h.MaxBodySize = 8 << 20
	}
	if h.ShutdownTimeout == 0 {
		h.ShutdownTimeout = 20 * time.Second
	}
	if h.RateLimitRPS > 0 && h.RateLimitBurst == 0 {
		h.RateLimitBurst = int(h.RateLimitRPS * 2)
		if h.RateLimitBurst < 1 {
			h.RateLimitBurst = 1
		}
	}
	if cfg.Server.GRPC.Port == 0 {
		cfg.Server.GRPC.Port = DefaultGRPCPort
	}
	if cfg.Server.GRPC.MaxRecvMsgSize == 0 {
		cfg.Server.GRPC.MaxRecvMsgSize = 8 << 20
	}

	// ── Log ───────────────────────────────────────────────────────────────────
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}

	// ── Eligibility ───────────────────────────────────────────────────────────
	if cfg.Eligibility.BatchConcurrency == 0 {
		cfg.Eligibility.BatchConcurrency = DefaultBatchConcurrency
	}

	// ── Database ──────────────────────────────────────────────────────────────
	if cfg.Database.Host == "" {
		cfg.Database.Host = DefaultDBHost
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = DefaultDBPort
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = DefaultDBName
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 30 * time.Minute
	}

	// ── Redis ─────────────────────────────────────────────────────────────────
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = DefaultRedisAddr
	}
	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = 20
	}
	if cfg.Redis.DialTimeout == 0 {
		cfg.Redis.DialTimeout = 5 * time.Second
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}
	if cfg.Redis.VerdictTTL == 0 {
		cfg.Redis.VerdictTTL = 24 * time.Hour
	}
	if cfg.Redis.LockTTL == 0 {
		cfg.Redis.LockTTL = 30 * time.Second
	}

	// ── Kafka ─────────────────────────────────────────────────────────────────
	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{DefaultKafkaBroker}
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = DefaultKafkaGroupID
	}
	if cfg.Kafka.StartOffset == "" {
		cfg.Kafka.StartOffset = "earliest"
	}
	if cfg.Kafka.MaxRetries == 0 {
		cfg.Kafka.MaxRetries = 3
	}
	if cfg.Kafka.RetryBackoff == 0 {
		cfg.Kafka.RetryBackoff = time.Second
	}
	if cfg.Kafka.BatchSize == 0 {
		cfg.Kafka.BatchSize = 100
	}
	if cfg.Kafka.BatchTimeout == 0 {
		cfg.Kafka.BatchTimeout = 10 * time.Millisecond
	}
	if cfg.Kafka.NumPartitions == 0 {
		cfg.Kafka.NumPartitions = 3
	}
	if cfg.Kafka.ReplicationFactor == 0 {
		cfg.Kafka.ReplicationFactor = 1
	}

	// ── MinIO ─────────────────────────────────────────────────────────────────
	if cfg.MinIO.Endpoint == "" {
		cfg.MinIO.Endpoint = DefaultMinIOEndpoint
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = DefaultMinIOBucket
	}
	if cfg.MinIO.MaxTextMB == 0 {
		cfg.MinIO.MaxTextMB = 4
	}

	// ── OpenSearch ────────────────────────────────────────────────────────────
	if len(cfg.OpenSearch.Addresses) == 0 {
		cfg.OpenSearch.Addresses = []string{DefaultOpenSearchAddr}
	}
	if cfg.OpenSearch.Index == "" {
		cfg.OpenSearch.Index = DefaultOpenSearchIndex
	}

	// ── Keycloak ──────────────────────────────────────────────────────────────
	if cfg.Keycloak.JWKSCacheTTL == 0 {
		cfg.Keycloak.JWKSCacheTTL = 10 * time.Minute
	}
	if len(cfg.Keycloak.SkipPaths) == 0 {
		cfg.Keycloak.SkipPaths = []string{"/healthz", "/readyz", DefaultMetricsPath}
	}

	// ── Metrics ───────────────────────────────────────────────────────────────
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
}
