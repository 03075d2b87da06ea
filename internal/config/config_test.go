package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func defaulted() *Config {
	cfg := &Config{}
	cfg.Eligibility.Policy.ManualReview.MinCompleteness = 50
	ApplyDefaults(cfg)
	return cfg
}

func TestApplyDefaults(t *testing.T) {
	cfg := defaulted()

	assert.Equal(t, DefaultHTTPPort, cfg.Server.HTTP.Port)
	assert.Equal(t, DefaultGRPCPort, cfg.Server.GRPC.Port)
	assert.Equal(t, DefaultLogLevel, cfg.Log.Level)
	assert.Equal(t, DefaultBatchConcurrency, cfg.Eligibility.BatchConcurrency)
	assert.Equal(t, DefaultOpenSearchIndex, cfg.OpenSearch.Index)
	assert.Contains(t, cfg.Keycloak.SkipPaths, "/healthz")
	assert.NoError(t, cfg.Validate())
}

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	cfg := &Config{}
	cfg.Server.HTTP.Port = 7000
	cfg.Kafka.GroupID = "custom"
	ApplyDefaults(cfg)

	assert.Equal(t, 7000, cfg.Server.HTTP.Port)
	assert.Equal(t, "custom", cfg.Kafka.GroupID)
}

func TestApplyDefaults_Nil(t *testing.T) {
	assert.NotPanics(t, func() { ApplyDefaults(nil) })
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"http port", func(c *Config) { c.Server.HTTP.Port = 70000 }, "server.http.port"},
		{"grpc port clash", func(c *Config) {
			c.Server.GRPC.Enabled = true
			c.Server.GRPC.Port = c.Server.HTTP.Port
		}, "must differ"},
		{"grpc half tls", func(c *Config) {
			c.Server.GRPC.Enabled = true
			c.Server.GRPC.TLSCertFile = "cert.pem"
		}, "tls_cert_file"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"completeness range", func(c *Config) { c.Eligibility.Policy.ManualReview.MinCompleteness = 120 }, "min_completeness"},
		{"batch concurrency", func(c *Config) { c.Eligibility.BatchConcurrency = -1 }, "batch_concurrency"},
		{"database user", func(c *Config) { c.Database.Enabled = true }, "database.user"},
		{"redis db", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.DB = -1
		}, "redis.db"},
		{"kafka offset", func(c *Config) {
			c.Kafka.Enabled = true
			c.Kafka.StartOffset = "middle"
		}, "kafka.start_offset"},
		{"keycloak realm", func(c *Config) {
			c.Keycloak.Enabled = true
			c.Keycloak.BaseURL = "http://kc"
		}, "keycloak.realm"},
		{"disabled sections are not checked", func(c *Config) { c.Database.User = "" }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaulted()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
