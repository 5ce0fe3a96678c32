package distributor

import (
	"context"

	"github.com/joripage/bess-exchange/pkg/kafka_wrapper"
	"github.com/nats-io/nats.go"
)

// Sink receives a copy of every envelope outside the websocket fan-out.
type Sink interface {
	Name() string
	Publish(ctx context.Context, rec Record) error
}

type KafkaSink struct {
	producer *kafkawrapper.Producer
}

func NewKafkaSink(p *kafkawrapper.Producer) *KafkaSink {
	return &KafkaSink{producer: p}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Publish(ctx context.Context, rec Record) error {
	data, err := encodeJSON(rec)
	if err != nil {
		return err
	}
	return s.producer.Publish(ctx, "", []byte(rec.Channel), data, map[string]string{
		"event_id": rec.EventID,
		"kind":     rec.Kind,
	})
}

// NatsSink publishes records to JetStream under <prefix>.<kind>, deduplicated
// by event id.
type NatsSink struct {
	js     nats.JetStreamContext
	prefix string
}

func NewNatsSink(js nats.JetStreamContext, subjectPrefix string) *NatsSink {
	return &NatsSink{js: js, prefix: subjectPrefix}
}

func (s *NatsSink) Name() string { return "nats" }

func (s *NatsSink) Publish(ctx context.Context, rec Record) error {
	data, err := encodeJSON(rec)
	if err != nil {
		return err
	}
	_, err = s.js.Publish(s.prefix+"."+rec.Kind, data, nats.Context(ctx), nats.MsgId(rec.EventID))
	return err
}
