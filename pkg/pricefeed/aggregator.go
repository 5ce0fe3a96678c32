package pricefeed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultVWAPWindow   = 96
	DefaultRetention    = 90 * 24 * time.Hour
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 1000
)

var emaAlpha = decimal.RequireFromString("0.2")

// Quote is the current derived price state of a market.
type Quote struct {
	Market string          `json:"market"`
	Mark   decimal.Decimal `json:"mark"`
	EMA    decimal.Decimal `json:"ema"`
	VWAP   decimal.Decimal `json:"vwap"`
	TS     int64           `json:"ts"`
}

type Config struct {
	StreamCap  int           `yaml:"stream_cap"`
	VWAPWindow int           `yaml:"vwap_window"`
	Retention  time.Duration `yaml:"retention"`
}

func (c *Config) defaults() {
	if c.StreamCap <= 0 {
		c.StreamCap = DefaultStreamCap
	}
	if c.VWAPWindow <= 0 {
		c.VWAPWindow = DefaultVWAPWindow
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
}

type marketState struct {
	mu     sync.Mutex
	quote  *Quote
	loaded bool
}

type Aggregator struct {
	cfg     Config
	stream  TickStream
	history HistoryStore
	now     func() time.Time
	log     *zap.Logger

	mu      sync.RWMutex
	markets map[string]*marketState

	cbMu      sync.RWMutex
	callbacks []func(Quote)
}

// quotes is the stream's QuoteStore, nil when it has none.
func (a *Aggregator) quotes() QuoteStore {
	qs, _ := a.stream.(QuoteStore)
	return qs
}

// load seeds st from the saved quote once. Callers hold st.mu.
func (a *Aggregator) load(ctx context.Context, market string, st *marketState) error {
	if st.loaded || st.quote != nil {
		return nil
	}
	qs := a.quotes()
	if qs == nil {
		st.loaded = true
		return nil
	}
	q, ok, err := qs.LoadQuote(ctx, market)
	if err != nil {
		return err
	}
	st.loaded = true
	if ok {
		st.quote = &q
	}
	return nil
}

type Option func(*Aggregator)

func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// NewAggregator builds an aggregator. history may be nil to skip persistence.
func NewAggregator(cfg Config, stream TickStream, history HistoryStore, log *zap.Logger, opts ...Option) *Aggregator {
	cfg.defaults()
	if stream == nil {
		stream = NewMemoryStream(cfg.StreamCap)
	}
	if log == nil {
		log = zap.NewNop()
	}
	a := &Aggregator{
		cfg:     cfg,
		stream:  stream,
		history: history,
		now:     time.Now,
		log:     log.Named("pricefeed"),
		markets: make(map[string]*marketState),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// OnQuote registers fn to receive every new quote.
func (a *Aggregator) OnQuote(fn func(Quote)) {
	a.cbMu.Lock()
	a.callbacks = append(a.callbacks, fn)
	a.cbMu.Unlock()
}

func (a *Aggregator) state(market string) *marketState {
	a.mu.RLock()
	st, ok := a.markets[market]
	a.mu.RUnlock()
	if ok {
		return st
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if st, ok = a.markets[market]; !ok {
		st = &marketState{}
		a.markets[market] = st
	}
	return st
}

// Ingest records a tick and recomputes the market's mark, EMA and VWAP.
func (a *Aggregator) Ingest(ctx context.Context, market string, price, volume decimal.Decimal) (Quote, error) {
	if market == "" {
		return Quote{}, fmt.Errorf("%w: market is required", ErrInvalidTick)
	}
	if volume.IsNegative() {
		return Quote{}, fmt.Errorf("%w: volume must not be negative", ErrInvalidTick)
	}

	st := a.state(market)
	st.mu.Lock()

	if err := a.load(ctx, market, st); err != nil {
		// reseed from this tick rather than refuse it
		a.log.Warn("load saved quote", zap.String("market", market), zap.Error(err))
		st.loaded = true
	}

	ts := a.now().UnixMilli()
	if err := a.stream.Append(ctx, market, Tick{Price: price, Volume: volume, TS: ts}); err != nil {
		st.mu.Unlock()
		return Quote{}, fmt.Errorf("append tick: %w", err)
	}
	recent, err := a.stream.Recent(ctx, market, a.cfg.VWAPWindow)
	if err != nil {
		st.mu.Unlock()
		return Quote{}, fmt.Errorf("read ticks: %w", err)
	}

	ema := price
	if st.quote != nil {
		ema = emaAlpha.Mul(price).Add(decimal.NewFromInt(1).Sub(emaAlpha).Mul(st.quote.EMA))
	}
	q := Quote{Market: market, Mark: price, EMA: ema, VWAP: vwap(recent, price), TS: ts}
	st.quote = &q
	if qs := a.quotes(); qs != nil {
		if err := qs.SaveQuote(ctx, q); err != nil {
			a.log.Warn("save quote", zap.String("market", market), zap.Error(err))
		}
	}
	a.persist(q)
	st.mu.Unlock()

	a.cbMu.RLock()
	for _, fn := range a.callbacks {
		fn(q)
	}
	a.cbMu.RUnlock()
	return q, nil
}

func vwap(ticks []Tick, fallback decimal.Decimal) decimal.Decimal {
	num, den := decimal.Zero, decimal.Zero
	for _, t := range ticks {
		num = num.Add(t.Price.Mul(t.Volume))
		den = den.Add(t.Volume)
	}
	if den.IsZero() {
		return fallback
	}
	return num.Div(den)
}

func (a *Aggregator) persist(q Quote) {
	if a.history == nil {
		return
	}
	stored, err := a.history.Put(Point{Market: q.Market, TS: q.TS, Mark: q.Mark, EMA: q.EMA, VWAP: q.VWAP})
	if err != nil {
		a.log.Warn("price history write skipped", zap.String("market", q.Market), zap.Error(err))
		return
	}
	if !stored {
		a.log.Debug("price history point suppressed", zap.String("market", q.Market), zap.Int64("ts", q.TS))
	}
}

// Current returns the latest quote, falling back to the one saved next to the
// tick stream when this process has not seen the market yet.
func (a *Aggregator) Current(ctx context.Context, market string) (Quote, error) {
	a.mu.RLock()
	st, ok := a.markets[market]
	a.mu.RUnlock()
	if !ok {
		qs := a.quotes()
		if qs == nil || market == "" {
			return Quote{}, fmt.Errorf("%w %s", ErrNoPrice, market)
		}
		q, found, err := qs.LoadQuote(ctx, market)
		if err != nil {
			return Quote{}, fmt.Errorf("load quote: %w", err)
		}
		if !found {
			return Quote{}, fmt.Errorf("%w %s", ErrNoPrice, market)
		}
		st = a.state(market)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := a.load(ctx, market, st); err != nil {
		return Quote{}, fmt.Errorf("load quote: %w", err)
	}
	if st.quote == nil {
		return Quote{}, fmt.Errorf("%w %s", ErrNoPrice, market)
	}
	return *st.quote, nil
}

// History returns persisted points newest first.
func (a *Aggregator) History(market string, limit int) ([]Point, error) {
	if a.history == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return a.history.Recent(market, min(limit, MaxHistoryLimit))
}

// Prune drops history older than the retention.
func (a *Aggregator) Prune(ctx context.Context, now time.Time) error {
	if a.history == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.history.PruneBefore(now.Add(-a.cfg.Retention))
}

// RunPruner prunes once immediately and then every interval.
func (a *Aggregator) RunPruner(ctx context.Context, interval time.Duration) {
	prune := func() {
		if err := a.Prune(ctx, a.now()); err != nil && ctx.Err() == nil {
			a.log.Warn("price history prune failed", zap.Error(err))
		}
	}
	prune()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
