// Package config defines the configuration structures of NaturaCheck. No I/O
// or parsing lives here, only data types and validation.
package config

import (
	"fmt"
	"time"

	"github.com/turtacn/NaturaCheck/internal/domain/eligibility"
	"github.com/turtacn/NaturaCheck/internal/infrastructure/monitoring/logging"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sub-configuration structs
// ─────────────────────────────────────────────────────────────────────────────

// HTTPConfig holds HTTP listener tunables.
type HTTPConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	MaxBodySize     int64         `mapstructure:"max_body_size"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// CORSAllowedOrigins enables CORS when non-empty. "*" allows any origin.
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins"`

	// RateLimitRPS is the per-client sustained rate; 0 disables limiting.
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// GRPCConfig holds gRPC listener tunables.
type GRPCConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Port           int    `mapstructure:"port"`
	MaxRecvMsgSize int    `mapstructure:"max_recv_msg_size"`
	Reflection     bool   `mapstructure:"reflection"`
	TLSCertFile    string `mapstructure:"tls_cert_file"`
	TLSKeyFile     string `mapstructure:"tls_key_file"`
}

// ServerConfig groups the network listeners.
type ServerConfig struct {
	HTTP HTTPConfig `mapstructure:"http"`
	GRPC GRPCConfig `mapstructure:"grpc"`
}

// EligibilityConfig configures the decision core.
type EligibilityConfig struct {
	// CatalogPath overrides the embedded document catalog when set.
	CatalogPath string `mapstructure:"catalog_path"`

	Policy eligibility.Policy `mapstructure:",squash"`

	// BatchConcurrency bounds parallel evaluations in a batch.
	BatchConcurrency int `mapstructure:"batch_concurrency"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"db_name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// RedisConfig holds Redis connection and cache parameters.
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
	VerdictTTL   time.Duration `mapstructure:"verdict_ttl"`
	LockTTL      time.Duration `mapstructure:"lock_ttl"`
}

// KafkaConfig holds producer and consumer parameters.
type KafkaConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Brokers           []string      `mapstructure:"brokers"`
	GroupID           string        `mapstructure:"group_id"`
	StartOffset       string        `mapstructure:"start_offset"` // "earliest" | "latest"
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryBackoff      time.Duration `mapstructure:"retry_backoff"`
	BatchSize         int           `mapstructure:"batch_size"`
	BatchTimeout      time.Duration `mapstructure:"batch_timeout"`
	AutoCreateTopics  bool          `mapstructure:"auto_create_topics"`
	NumPartitions     int           `mapstructure:"num_partitions"`
	ReplicationFactor int           `mapstructure:"replication_factor"`
}

// MinIOConfig holds object storage parameters for extracted texts.
type MinIOConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	MaxTextMB int64  `mapstructure:"max_text_mb"`
}

// OpenSearchConfig holds the verdict audit index parameters.
type OpenSearchConfig struct {
	Enabled            bool     `mapstructure:"enabled"`
	Addresses          []string `mapstructure:"addresses"`
	User               string   `mapstructure:"user"`
	Password           string   `mapstructure:"password"`
	InsecureSkipVerify bool     `mapstructure:"insecure_skip_verify"`
	Index              string   `mapstructure:"index"`
}

// KeycloakConfig holds token verification parameters.
type KeycloakConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	BaseURL      string        `mapstructure:"base_url"`
	Realm        string        `mapstructure:"realm"`
	ClientID     string        `mapstructure:"client_id"`
	Audience     string        `mapstructure:"audience"`
	JWKSCacheTTL time.Duration `mapstructure:"jwks_cache_ttl"`
	SkipPaths    []string      `mapstructure:"skip_paths"`
}

// MetricsConfig holds Prometheus parameters.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
	Path      string `mapstructure:"path"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Root Config
// ─────────────────────────────────────────────────────────────────────────────

// Config is the root configuration. Infrastructure sections are disabled by
// default; the decision core runs without any of them.
type Config struct {
	Server      ServerConfig       `mapstructure:"server"`
	Log         logging.LogConfig  `mapstructure:"log"`
	Eligibility EligibilityConfig  `mapstructure:"eligibility"`
	Database    DatabaseConfig     `mapstructure:"database"`
	Redis       RedisConfig        `mapstructure:"redis"`
	Kafka       KafkaConfig        `mapstructure:"kafka"`
	MinIO       MinIOConfig        `mapstructure:"minio"`
	OpenSearch  OpenSearchConfig   `mapstructure:"opensearch"`
	Keycloak    KeycloakConfig     `mapstructure:"keycloak"`
	Metrics     MetricsConfig      `mapstructure:"metrics"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Validation
// ─────────────────────────────────────────────────────────────────────────────

func validPort(p int) bool { return p >= 1 && p <= 65535 }

// Validate performs semantic validation of a defaulted Config. It returns the
// first error encountered.
func (c *Config) Validate() error {
	if !validPort(c.Server.HTTP.Port) {
		return fmt.Errorf("config: server.http.port %d is out of range [1, 65535]", c.Server.HTTP.Port)
	}
	if c.Server.GRPC.Enabled {
		if !validPort(c.Server.GRPC.Port) {
			return fmt.Errorf("config: server.grpc.port %d is out of range [1, 65535]", c.Server.GRPC.Port)
		}
		if c.Server.GRPC.Port == c.Server.HTTP.Port {
			return fmt.Errorf("config: server.grpc.port must differ from server.http.port")
		}
		if (c.Server.GRPC.TLSCertFile == "") != (c.Server.GRPC.TLSKeyFile == "") {
			return fmt.Errorf("config: server.grpc tls_cert_file and tls_key_file must be set together")
		}
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q is invalid; expected debug|info|warn|error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: log.format %q is invalid; expected json|console", c.Log.Format)
	}

	mr := c.Eligibility.Policy.ManualReview
	if mr.MinCompleteness < 0 || mr.MinCompleteness > 100 {
		return fmt.Errorf("config: eligibility.manual_review.min_completeness %.2f is out of range [0, 100]", mr.MinCompleteness)
	}
	if c.Eligibility.BatchConcurrency < 1 {
		return fmt.Errorf("config: eligibility.batch_concurrency must be ≥ 1, got %d", c.Eligibility.BatchConcurrency)
	}

	if c.Database.Enabled {
		if c.Database.Host == "" {
			return fmt.Errorf("config: database.host is required")
		}
		if !validPort(c.Database.Port) {
			return fmt.Errorf("config: database.port %d is out of range [1, 65535]", c.Database.Port)
		}
		if c.Database.User == "" {
			return fmt.Errorf("config: database.user is required")
		}
		if c.Database.DBName == "" {
			return fmt.Errorf("config: database.db_name is required")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			return fmt.Errorf("config: redis.addr is required")
		}
		if c.Redis.DB < 0 {
			return fmt.Errorf("config: redis.db must be ≥ 0, got %d", c.Redis.DB)
		}
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("config: kafka.brokers must contain at least one broker address")
		}
		if c.Kafka.GroupID == "" {
			return fmt.Errorf("config: kafka.group_id is required")
		}
		switch c.Kafka.StartOffset {
		case "earliest", "latest":
		default:
			return fmt.Errorf("config: kafka.start_offset %q is invalid; expected earliest|latest", c.Kafka.StartOffset)
		}
	}

	if c.MinIO.Enabled {
		if c.MinIO.Endpoint == "" {
			return fmt.Errorf("config: minio.endpoint is required")
		}
		if c.MinIO.Bucket == "" {
			return fmt.Errorf("config: minio.bucket is required")
		}
	}

	if c.OpenSearch.Enabled && len(c.OpenSearch.Addresses) == 0 {
		return fmt.Errorf("config: opensearch.addresses must contain at least one address")
	}

	if c.Keycloak.Enabled {
		if c.Keycloak.BaseURL == "" {
			return fmt.Errorf("config: keycloak.base_url is required")
		}
		if c.Keycloak.Realm == "" {
			return fmt.Errorf("config: keycloak.realm is required")
		}
	}

	return nil
}
