// Package opensearch keeps a searchable audit trail of decided verdicts.
package opensearch

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/turtacn/NaturaCheck/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/NaturaCheck/pkg/errors"
)

// ClientConfig holds the configuration for the OpenSearch client.
type ClientConfig struct {
	Addresses          []string
	Username           string
	Password           string
	InsecureSkipVerify bool
	MaxRetries         int
	RetryBackoff       time.Duration
}

// Client wraps the OpenSearch client.
type Client struct {
	client *opensearch.Client
	logger logging.Logger
}

// NewClient creates a client and pings the cluster.
func NewClient(cfg ClientConfig, logger logging.Logger) (*Client, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = 100 * time.Millisecond
	}

	transport := &http.Transport{MaxIdleConnsPerHost: 10}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	osClient, err := opensearch.NewClient(opensearch.Config{
		Addresses:     cfg.Addresses,
		Username:      cfg.Username,
		Password:      cfg.Password,
		MaxRetries:    cfg.MaxRetries,
		RetryBackoff:  func(int) time.Duration { return cfg.RetryBackoff },
		RetryOnStatus: []int{429, 502, 503, 504},
		Transport:     transport,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSearchError, "failed to create opensearch client")
	}

	c := &Client{client: osClient, logger: logging.OrNop(logger)}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Ping(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// NewClientFrom wraps an existing client.
func NewClientFrom(osClient *opensearch.Client, logger logging.Logger) *Client {
	return &Client{client: osClient, logger: logging.OrNop(logger)}
}

// Ping checks the cluster.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := opensearchapi.PingRequest{}.Do(ctx, c.client)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSearchError, "opensearch ping failed")
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return errors.New(errors.ErrCodeSearchError, "opensearch ping returned error status").
			WithDetail(resp.Status())
	}
	return nil
}

// ValidateConfig validates the client configuration.
func ValidateConfig(cfg ClientConfig) error {
	if len(cfg.Addresses) == 0 {
		return errors.Validation("opensearch addresses required")
	}
	if cfg.MaxRetries < 0 {
		return errors.Validation("max retries must be >= 0")
	}
	return nil
}

func responseError(resp *opensearchapi.Response, msg string) error {
	var body struct {
		Error struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	}
	data, _ := io.ReadAll(resp.Body)
	if json.Unmarshal(data, &body) == nil && body.Error.Reason != "" {
		return errors.New(errors.ErrCodeSearchError, msg).WithDetail(body.Error.Type + ": " + body.Error.Reason)
	}
	return errors.New(errors.ErrCodeSearchError, msg).WithDetail(resp.Status())
}
