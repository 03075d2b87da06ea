package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/NaturaCheck/pkg/types/common"
)

// mockKafkaReader hands out queued messages, then blocks until cancelled.
type mockKafkaReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
}

func (m *mockKafkaReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	m.mu.Lock()
	if len(m.queue) > 0 {
		msg := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		return msg, nil
	}
	m.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (m *mockKafkaReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range msgs {
		m.committed = append(m.committed, msg.Offset)
	}
	return nil
}

func (m *mockKafkaReader) Close() error { return nil }

func (m *mockKafkaReader) commits() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.committed...)
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []*common.ProducerMessage
}

func (p *recordingPublisher) Publish(_ context.Context, msg *common.ProducerMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}

type outcomes struct {
	mu  sync.Mutex
	got []string
}

func (o *outcomes) record(_, outcome string) {
	o.mu.Lock()
	o.got = append(o.got, outcome)
	o.mu.Unlock()
}

func (o *outcomes) list() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.got...)
}

func testConsumerConfig(o *outcomes) ConsumerConfig {
	return ConsumerConfig{
		Brokers:         []string{"localhost:9092"},
		GroupID:         "g",
		Topics:          []string{TopicEvaluationRequested},
		MaxRetries:      2,
		RetryBackoff:    time.Millisecond,
		MaxRetryBackoff: 2 * time.Millisecond,
		DeadLetterTopic: TopicEvaluationDeadLetter,
		OnOutcome:       o.record,
	}
}

func TestValidateConsumerConfig(t *testing.T) {
	o := &outcomes{}
	assert.NoError(t, ValidateConsumerConfig(testConsumerConfig(o)))

	cfg := testConsumerConfig(o)
	cfg.GroupID = ""
	assert.Error(t, ValidateConsumerConfig(cfg))

	cfg = testConsumerConfig(o)
	cfg.StartOffset = "middle"
	assert.Error(t, ValidateConsumerConfig(cfg))

	cfg = testConsumerConfig(o)
	cfg.Topics = nil
	assert.Error(t, ValidateConsumerConfig(cfg))
}

func TestConsumer_ProcessesAndCommits(t *testing.T) {
	reader := &mockKafkaReader{queue: []kafka.Message{
		{Topic: TopicEvaluationRequested, Offset: 7, Value: []byte("a"), Headers: []kafka.Header{{Key: "k", Value: []byte("v")}}},
	}}
	o := &outcomes{}
	c := newConsumerWithReader(reader, &recordingPublisher{}, testConsumerConfig(o), nil)

	got := make(chan *common.Message, 1)
	c.Subscribe(TopicEvaluationRequested, func(_ context.Context, m *common.Message) error {
		got <- m
		return nil
	})
	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	select {
	case m := <-got:
		assert.Equal(t, "v", m.Headers["k"])
		assert.EqualValues(t, 7, m.Offset)
	case <-time.After(time.Second):
		t.Fatal("handler not called")
	}
	assert.Eventually(t, func() bool { return len(reader.commits()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{OutcomeProcessed}, o.list())
}

func TestConsumer_RetriesThenDeadLetters(t *testing.T) {
	reader := &mockKafkaReader{queue: []kafka.Message{
		{Topic: TopicEvaluationRequested, Offset: 1, Key: []byte("case-9"), Value: []byte("bad")},
	}}
	dlq := &recordingPublisher{}
	o := &outcomes{}
	c := newConsumerWithReader(reader, dlq, testConsumerConfig(o), nil)

	var calls int
	var mu sync.Mutex
	c.Subscribe(TopicEvaluationRequested, func(context.Context, *common.Message) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return errors.New("cannot decode")
	})
	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	assert.Eventually(t, func() bool { return dlq.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return len(reader.commits()) == 1 }, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, 3, calls)
	mu.Unlock()

	dl := dlq.msgs[0]
	assert.Equal(t, TopicEvaluationDeadLetter, dl.Topic)
	assert.Equal(t, "case-9", string(dl.Key))
	assert.Equal(t, TopicEvaluationRequested, dl.Headers["original_topic"])
	assert.Equal(t, "cannot decode", dl.Headers["error_message"])
	assert.Equal(t, []string{OutcomeRetried, OutcomeRetried, OutcomeDeadLettered}, o.list())
}

func TestConsumer_UnknownTopicIsCommitted(t *testing.T) {
	reader := &mockKafkaReader{queue: []kafka.Message{{Topic: "other", Offset: 3}}}
	o := &outcomes{}
	c := newConsumerWithReader(reader, nil, testConsumerConfig(o), nil)

	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	assert.Eventually(t, func() bool { return len(reader.commits()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{OutcomeDropped}, o.list())
}

func TestConsumer_StartTwice(t *testing.T) {
	c := newConsumerWithReader(&mockKafkaReader{}, nil, testConsumerConfig(&outcomes{}), nil)
	require.NoError(t, c.Start(context.Background()))
	assert.ErrorIs(t, c.Start(context.Background()), ErrAlreadyRunning)
	assert.NoError(t, c.Close())
}
