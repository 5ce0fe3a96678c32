package distributor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/joripage/bess-exchange/pkg/metrics"
	"github.com/joripage/bess-exchange/pkg/model"
	"github.com/joripage/bess-exchange/pkg/signing"
	"go.uber.org/zap"
)

const (
	BookTopDepth     = 10
	defaultSinkQueue = 4096
)

// OrderContext supplies the per-owner extras attached to order events.
type OrderContext interface {
	ThrottleRemaining(ctx context.Context, owner, market string) (int, error)
	Exposure(ctx context.Context, owner string) (model.Exposure, error)
}

type Config struct {
	SendBuffer   int           `yaml:"send_buffer"`
	SinkQueue    int           `yaml:"sink_queue"`
	SinkTimeout  time.Duration `yaml:"sink_timeout"`
	PingInterval time.Duration `yaml:"ping_interval"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PongTimeout  time.Duration `yaml:"pong_timeout"`
}

func (c *Config) defaults() {
	if c.SinkQueue <= 0 {
		c.SinkQueue = defaultSinkQueue
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = 2 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 54 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 60 * time.Second
	}
}

// Distributor signs events and fans them out to subscribers and sinks.
type Distributor struct {
	cfg      Config
	hub      *Hub
	signer   *signing.Signer
	orderCtx OrderContext
	metrics  *metrics.Metrics
	log      *zap.Logger

	sinks     []Sink
	sinkQueue chan Record
}

func New(cfg Config, signer *signing.Signer, m *metrics.Metrics, log *zap.Logger) *Distributor {
	cfg.defaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Distributor{
		cfg:       cfg,
		hub:       NewHub(cfg.SendBuffer, m, log),
		signer:    signer,
		metrics:   m,
		log:       log.Named("distributor"),
		sinkQueue: make(chan Record, cfg.SinkQueue),
	}
}

func (d *Distributor) Hub() *Hub { return d.hub }

func (d *Distributor) SetOrderContext(oc OrderContext) { d.orderCtx = oc }

// AddSink registers s. Call before Run.
func (d *Distributor) AddSink(s Sink) { d.sinks = append(d.sinks, s) }

// Run forwards queued records to the sinks until ctx is done.
func (d *Distributor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-d.sinkQueue:
			for _, s := range d.sinks {
				sctx, cancel := context.WithTimeout(ctx, d.cfg.SinkTimeout)
				if err := s.Publish(sctx, rec); err != nil {
					d.metrics.SinkError(s.Name())
					d.log.Warn("sink publish failed",
						zap.String("sink", s.Name()),
						zap.String("event_id", rec.EventID),
						zap.Error(err))
				}
				cancel()
			}
		}
	}
}

func (d *Distributor) PublishBook(ctx context.Context, snap *model.BookSnapshot) error {
	top := snap.Top(BookTopDepth)
	_, err := d.publish(ctx, BookChannel(snap.Market), KindBook, uuid.NewString(), top, nil)
	return err
}

func (d *Distributor) PublishTrade(ctx context.Context, trade *model.Trade) error {
	_, err := d.publish(ctx, TradesChannel(), KindTrades, trade.ID, trade, nil)
	return err
}

func (d *Distributor) PublishPrice(ctx context.Context, market string, quote any) error {
	_, err := d.publish(ctx, PricesChannel(market), KindPrices, uuid.NewString(), quote, nil)
	return err
}

// PublishOrder sends ev to its owner with throttle and exposure extras
// computed now.
func (d *Distributor) PublishOrder(ctx context.Context, ev *model.OrderEvent) error {
	var extra Meta
	if d.orderCtx != nil {
		if remaining, err := d.orderCtx.ThrottleRemaining(ctx, ev.Order.Owner, ev.Order.Market); err == nil {
			extra.ThrottleRemaining = &remaining
		} else {
			d.log.Debug("throttle remaining unavailable", zap.Error(err))
		}
		if exp, err := d.orderCtx.Exposure(ctx, ev.Order.Owner); err == nil {
			extra.ExposureSnapshot = exp
		} else {
			d.log.Debug("exposure unavailable", zap.Error(err))
		}
	}
	_, err := d.publish(ctx, OrdersChannel(ev.Order.Owner), KindOrders, ev.EventID, ev, &extra)
	return err
}

func (d *Distributor) publish(_ context.Context, channel, kind, eventID string, payload any, extra *Meta) (int, error) {
	sig, data, err := d.signer.Sign(payload)
	if err != nil {
		return 0, fmt.Errorf("sign %s event: %w", kind, err)
	}
	env := Envelope{Meta: Meta{Meta: sig}, Data: data}
	if extra != nil {
		env.Meta.ThrottleRemaining = extra.ThrottleRemaining
		env.Meta.ExposureSnapshot = extra.ExposureSnapshot
	}
	msg, err := encodeJSON(env)
	if err != nil {
		return 0, fmt.Errorf("encode envelope: %w", err)
	}

	n := d.hub.Broadcast(channel, msg)

	if len(d.sinks) > 0 {
		rec := Record{EventID: eventID, Channel: channel, Kind: kind, Envelope: env}
		select {
		case d.sinkQueue <- rec:
		default:
			d.metrics.SinkError("queue")
			d.log.Warn("sink queue full, record dropped", zap.String("event_id", eventID))
		}
	}
	return n, nil
}

// encodeJSON keeps embedded envelope data byte-identical to what was signed.
func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
