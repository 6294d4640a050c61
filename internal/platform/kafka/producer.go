// Package kafka wraps franz-go for the process: a synchronous producer, a
// consumer-group loop with manual commits and topic provisioning.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Producer publishes records and waits for broker acknowledgement.
type Producer struct {
	client *kgo.Client
	logger *slog.Logger
}

type ProducerOption func(*producerConfig)

type producerConfig struct {
	clientID string
	linger   time.Duration
	logger   *slog.Logger
	extra    []kgo.Opt
}

func WithClientID(id string) ProducerOption {
	return func(c *producerConfig) {
		c.clientID = id
	}
}

func WithLinger(d time.Duration) ProducerOption {
	return func(c *producerConfig) {
		c.linger = d
	}
}

func WithProducerLogger(logger *slog.Logger) ProducerOption {
	return func(c *producerConfig) {
		c.logger = logger
	}
}

// WithClientOpts passes raw franz-go options through.
func WithClientOpts(opts ...kgo.Opt) ProducerOption {
	return func(c *producerConfig) {
		c.extra = append(c.extra, opts...)
	}
}

func NewProducer(brokers []string, opts ...ProducerOption) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	cfg := producerConfig{clientID: "onboarding", linger: 5 * time.Millisecond, logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	kopts := append([]kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(cfg.clientID),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(cfg.linger),
		kgo.AllowAutoTopicCreation(),
	}, cfg.extra...)
	client, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return &Producer{client: client, logger: cfg.logger}, nil
}

// Publish writes one record synchronously.
func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	rec := &kgo.Record{Topic: topic, Key: key, Value: value}
	for k, v := range headers {
		rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", topic, err)
	}
	return nil
}

func (p *Producer) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// Client exposes the underlying client for topic administration.
func (p *Producer) Client() *kgo.Client {
	return p.client
}

func (p *Producer) Close() {
	p.client.Close()
}
