package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/joripage/bess-exchange/pkg/distributor"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

var errBadRecord = errors.New("bad record")

type Config struct {
	Batch        int
	FetchWait    time.Duration
	StoreTimeout time.Duration
}

func (c *Config) defaults() {
	if c.Batch <= 0 {
		c.Batch = 64
	}
	if c.FetchWait <= 0 {
		c.FetchWait = 2 * time.Second
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 2 * time.Second
	}
}

// acker is the part of a JetStream message the worker settles.
type acker interface {
	Ack(opts ...nats.AckOpt) error
	Nak(opts ...nats.AckOpt) error
}

// Worker copies signed distributor records from JetStream into the event
// journal.
type Worker struct {
	cfg     Config
	journal Journal
	now     func() time.Time
	log     *zap.Logger
}

func NewWorker(cfg Config, journal Journal, log *zap.Logger) *Worker {
	cfg.defaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{
		cfg:     cfg,
		journal: journal,
		now:     time.Now,
		log:     log.Named("worker"),
	}
}

// StartConsumer pulls from a durable consumer until ctx is done.
func (w *Worker) StartConsumer(ctx context.Context, js nats.JetStreamContext, subject, durable string) error {
	sub, err := js.PullSubscribe(subject, durable)
	if err != nil {
		return fmt.Errorf("pull subscribe %s: %w", subject, err)
	}
	w.log.Info("consumer started", zap.String("subject", subject), zap.String("durable", durable))

	for {
		if ctx.Err() != nil {
			return nil
		}
		msgs, err := sub.Fetch(w.cfg.Batch, nats.MaxWait(w.cfg.FetchWait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			w.log.Warn("fetch", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		for _, msg := range msgs {
			w.handle(ctx, msg.Data, msg)
		}
	}
}

// handle acks after the write; undecodable records are acked and skipped,
// write failures are nacked for redelivery.
func (w *Worker) handle(ctx context.Context, data []byte, m acker) {
	entry, err := w.decode(data)
	if err != nil {
		w.log.Warn("skip record", zap.Error(err))
		_ = m.Ack()
		return
	}

	sctx, cancel := context.WithTimeout(ctx, w.cfg.StoreTimeout)
	err = w.journal.Append(sctx, entry)
	cancel()
	if err != nil {
		w.log.Error("append journal", zap.String("event_id", entry.EventID), zap.Error(err))
		_ = m.Nak()
		return
	}
	_ = m.Ack()
}

// record mirrors distributor.Record keeping the envelope bytes as published.
type record struct {
	EventID  string          `json:"event_id"`
	Channel  string          `json:"channel"`
	Kind     string          `json:"kind"`
	Envelope json.RawMessage `json:"envelope"`
}

func (w *Worker) decode(data []byte) (*JournalEntry, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRecord, err)
	}
	if rec.EventID == "" || len(rec.Envelope) == 0 {
		return nil, fmt.Errorf("%w: missing event id or envelope", errBadRecord)
	}
	var env distributor.Envelope
	if err := json.Unmarshal(rec.Envelope, &env); err != nil {
		return nil, fmt.Errorf("%w: envelope: %v", errBadRecord, err)
	}
	ts, err := strconv.ParseInt(env.Meta.TS, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: ts %q", errBadRecord, env.Meta.TS)
	}
	return &JournalEntry{
		EventID:    rec.EventID,
		Channel:    rec.Channel,
		Kind:       rec.Kind,
		KeyID:      env.Meta.KeyID,
		TS:         ts,
		Envelope:   string(rec.Envelope),
		ReceivedAt: w.now().UTC(),
	}, nil
}
