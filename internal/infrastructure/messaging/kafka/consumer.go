package kafka

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/NaturaCheck/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/NaturaCheck/pkg/errors"
	"github.com/turtacn/NaturaCheck/pkg/types/common"
)

var ErrAlreadyRunning = errors.New(errors.ErrCodeConflict, "consumer already running")

// Message outcomes reported to ConsumerConfig.OnOutcome.
const (
	OutcomeProcessed    = "processed"
	OutcomeRetried      = "retried"
	OutcomeDeadLettered = "dead_lettered"
	OutcomeDropped      = "dropped"
)

// ConsumerConfig holds configuration for the Consumer.
type ConsumerConfig struct {
	Brokers         []string
	GroupID         string
	Topics          []string
	StartOffset     string // earliest | latest
	MaxRetries      int
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
	DeadLetterTopic string

	// OnOutcome, if set, is called once per attempt outcome.
	OnOutcome func(topic, outcome string)
}

// ReaderInterface abstracts kafka.Reader for testing.
type ReaderInterface interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher is the dead-letter sink.
type Publisher interface {
	Publish(ctx context.Context, msg *common.ProducerMessage) error
	Close() error
}

// Consumer reads a consumer group and dispatches by topic. A failing handler
// is retried with exponential backoff, then the record goes to the
// dead-letter topic. The offset is committed either way.
type Consumer struct {
	reader ReaderInterface
	dlq    Publisher
	config ConsumerConfig
	logger logging.Logger

	mu       sync.RWMutex
	handlers map[string]common.MessageHandler

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewConsumer creates a group consumer and, when configured, its
// dead-letter producer.
func NewConsumer(cfg ConsumerConfig, logger logging.Logger) (*Consumer, error) {
	if err := ValidateConsumerConfig(cfg); err != nil {
		return nil, err
	}
	readerCfg := kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		GroupTopics:    cfg.Topics,
		MinBytes:       1,
		MaxBytes:       10 << 20,
		MaxWait:        time.Second,
		CommitInterval: 0,
		StartOffset:    kafka.FirstOffset,
	}
	if cfg.StartOffset == "latest" {
		readerCfg.StartOffset = kafka.LastOffset
	}

	var dlq Publisher
	if cfg.DeadLetterTopic != "" {
		p, err := NewProducer(ProducerConfig{Brokers: cfg.Brokers}, logger)
		if err != nil {
			return nil, err
		}
		dlq = p
	}
	return newConsumerWithReader(kafka.NewReader(readerCfg), dlq, cfg, logger), nil
}

func newConsumerWithReader(r ReaderInterface, dlq Publisher, cfg ConsumerConfig, logger logging.Logger) *Consumer {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = time.Second
	}
	if cfg.MaxRetryBackoff == 0 {
		cfg.MaxRetryBackoff = 30 * time.Second
	}
	return &Consumer{
		reader:   r,
		dlq:      dlq,
		config:   cfg,
		logger:   logging.OrNop(logger),
		handlers: make(map[string]common.MessageHandler),
	}
}

// Subscribe registers handler for topic.
func (c *Consumer) Subscribe(topic string, handler common.MessageHandler) {
	c.mu.Lock()
	c.handlers[topic] = handler
	c.mu.Unlock()
	c.logger.Info("subscribed", logging.String("topic", topic))
}

// Start launches the consume loop. It returns immediately.
func (c *Consumer) Start(ctx context.Context) error {
	if c.running.Swap(true) {
		return ErrAlreadyRunning
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.loop(ctx)
	c.logger.Info("kafka consumer started", logging.String("group", c.config.GroupID))
	return nil
}

func (c *Consumer) loop(ctx context.Context) {
	defer c.wg.Done()
	for ctx.Err() == nil {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("fetch failed", logging.Err(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		msg := fromKafkaMessage(m)
		c.mu.RLock()
		handler, ok := c.handlers[m.Topic]
		c.mu.RUnlock()

		if !ok {
			c.logger.Warn("no handler for topic", logging.String("topic", m.Topic))
			c.report(m.Topic, OutcomeDropped)
		} else if c.process(ctx, msg, handler) && ctx.Err() != nil {
			return
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.logger.Error("commit failed", logging.Err(err), logging.Int64("offset", m.Offset))
		}
	}
}

// process runs handler with retries. It reports true when it gave up because
// the context ended, in which case the offset must not be committed.
func (c *Consumer) process(ctx context.Context, msg *common.Message, handler common.MessageHandler) bool {
	err := handler(ctx, msg)
	backoff := c.config.RetryBackoff
	for i := 0; err != nil && i < c.config.MaxRetries; i++ {
		c.report(msg.Topic, OutcomeRetried)
		select {
		case <-ctx.Done():
			return true
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > c.config.MaxRetryBackoff {
			backoff = c.config.MaxRetryBackoff
		}
		err = handler(ctx, msg)
	}
	if err == nil {
		c.report(msg.Topic, OutcomeProcessed)
		return false
	}

	c.logger.Error("message failed after retries",
		logging.String("topic", msg.Topic),
		logging.Int64("offset", msg.Offset),
		logging.Err(err))

	if c.dlq == nil || c.config.DeadLetterTopic == "" {
		c.report(msg.Topic, OutcomeDropped)
		return false
	}
	headers := make(map[string]string, len(msg.Headers)+2)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers["original_topic"] = msg.Topic
	headers["error_message"] = err.Error()

	if dlErr := c.dlq.Publish(ctx, &common.ProducerMessage{
		Topic: c.config.DeadLetterTopic, Key: msg.Key, Value: msg.Value, Headers: headers,
	}); dlErr != nil {
		c.logger.Error("dead-letter publish failed", logging.Err(dlErr))
		c.report(msg.Topic, OutcomeDropped)
		return false
	}
	c.report(msg.Topic, OutcomeDeadLettered)
	return false
}

func (c *Consumer) report(topic, outcome string) {
	if c.config.OnOutcome != nil {
		c.config.OnOutcome(topic, outcome)
	}
}

// Close stops the loop and releases the reader and dead-letter producer.
func (c *Consumer) Close() error {
	if c.running.CompareAndSwap(true, false) {
		c.cancel()
		c.wg.Wait()
	}
	err := c.reader.Close()
	if c.dlq != nil {
		_ = c.dlq.Close()
	}
	c.logger.Info("kafka consumer closed")
	return err
}

func fromKafkaMessage(m kafka.Message) *common.Message {
	msg := &common.Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Timestamp: m.Time,
		Headers:   make(map[string]string, len(m.Headers)),
	}
	for _, h := range m.Headers {
		msg.Headers[h.Key] = string(h.Value)
	}
	return msg
}

// ValidateConsumerConfig validates configuration.
func ValidateConsumerConfig(cfg ConsumerConfig) error {
	switch {
	case len(cfg.Brokers) == 0:
		return errors.Validation("brokers required")
	case cfg.GroupID == "":
		return errors.Validation("group id required")
	case len(cfg.Topics) == 0:
		return errors.Validation("at least one topic required")
	case cfg.StartOffset != "" && cfg.StartOffset != "earliest" && cfg.StartOffset != "latest":
		return errors.Validation("start offset must be earliest or latest")
	case cfg.MaxRetries < 0:
		return errors.Validation("max retries must be >= 0")
	}
	return nil
}
