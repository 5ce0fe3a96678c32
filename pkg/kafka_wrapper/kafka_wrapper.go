// Package kafkawrapper publishes exchange envelopes to Kafka.
package kafkawrapper

import (
	"context"
	"errors"
	"time"

	kafka "github.com/segmentio/kafka-go"
)

var errProducerNotInitialized = errors.New("producer not initialized")

type ProducerConfig struct {
	Brokers        []string `yaml:"brokers"`
	Topic          string   `yaml:"topic"`
	BatchSize      int      `yaml:"batch_size"`
	BatchBytes     int64    `yaml:"batch_bytes"`
	BatchTimeoutMs int64    `yaml:"batch_timeout_ms"`
	RequiredAcks   int      `yaml:"required_acks"`
	Async          bool     `yaml:"async"`

	Balancer kafka.Balancer `yaml:"-"`
}

// Enabled reports whether brokers and a topic are configured.
func (c *ProducerConfig) Enabled() bool {
	return c != nil && len(c.Brokers) > 0 && c.Topic != ""
}

type Producer struct {
	w     *kafka.Writer
	topic string
}

func NewProducer(cfg ProducerConfig) *Producer {
	if cfg.Balancer == nil {
		cfg.Balancer = &kafka.Hash{}
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchBytes == 0 {
		cfg.BatchBytes = 1 << 20
	}
	batchTimeout := time.Duration(cfg.BatchTimeoutMs) * time.Millisecond
	if batchTimeout == 0 {
		batchTimeout = 50 * time.Millisecond
	}
	wr := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               cfg.Balancer,
		BatchSize:              cfg.BatchSize,
		BatchBytes:             cfg.BatchBytes,
		BatchTimeout:           batchTimeout,
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		Async:                  cfg.Async,
	}
	return &Producer{w: wr, topic: cfg.Topic}
}

// Topic is the default topic of the producer.
func (p *Producer) Topic() string {
	return p.topic
}

func (p *Producer) Publish(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error {
	if p == nil || p.w == nil {
		return errProducerNotInitialized
	}
	if topic == "" {
		topic = p.topic
	}
	var kh []kafka.Header
	for k, v := range headers {
		kh = append(kh, kafka.Header{Key: k, Value: []byte(v)})
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Headers: kh,
		Time:    time.Now(),
	})
}

func (p *Producer) Close() error {
	if p == nil || p.w == nil {
		return nil
	}
	return p.w.Close()
}
