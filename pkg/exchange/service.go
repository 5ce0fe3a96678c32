package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/joripage/bess-exchange/pkg/admission"
	"github.com/joripage/bess-exchange/pkg/distributor"
	"github.com/joripage/bess-exchange/pkg/ledger"
	"github.com/joripage/bess-exchange/pkg/metrics"
	"github.com/joripage/bess-exchange/pkg/model"
	"github.com/joripage/bess-exchange/pkg/orderbook"
	"github.com/joripage/bess-exchange/pkg/pricefeed"
	"github.com/joripage/bess-exchange/pkg/telemetry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Config struct {
	StoreTimeout   time.Duration `yaml:"store_timeout"`
	EventRetention time.Duration `yaml:"event_retention"`
	CleanInterval  time.Duration `yaml:"clean_interval"`
}

func (c *Config) defaults() {
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 2 * time.Second
	}
	if c.EventRetention <= 0 {
		c.EventRetention = time.Hour
	}
	if c.CleanInterval <= 0 {
		c.CleanInterval = time.Minute
	}
}

// Deps are the components a Service coordinates. PriceFeed and Metrics may
// be nil.
type Deps struct {
	Ledger      ledger.Ledger
	Admission   *admission.Controller
	Telemetry   telemetry.Store
	Distributor *distributor.Distributor
	PriceFeed   *pricefeed.Aggregator
	Metrics     *metrics.Metrics
}

// SubmitRequest is an order as received from a client, before validation.
type SubmitRequest struct {
	// OrderID lets an order entry gateway pick the id before submission.
	OrderID       string          `json:"-"`
	Owner         string          `json:"owner"`
	Market        string          `json:"market"`
	Side          string          `json:"side"`
	Type          string          `json:"type"`
	TimeInForce   string          `json:"timeInForce"`
	LimitPrice    decimal.Decimal `json:"limitPrice"`
	Quantity      decimal.Decimal `json:"quantity"`
	DeliveryStart string          `json:"deliveryStart"`
	DeliveryEnd   string          `json:"deliveryEnd"`
}

type SubmitResult struct {
	OrderID           string            `json:"orderId"`
	Status            model.OrderStatus `json:"status"`
	Timestamp         time.Time         `json:"timestamp"`
	ThrottleRemaining int               `json:"throttleRemaining"`
}

// Service accepts orders, runs them through matching and reports every
// resulting event.
type Service struct {
	cfg Config
	Deps
	engine *orderbook.OrderBookManager
	events *EventStore
	log    *zap.Logger

	gateways []OrderGateway

	clockMu sync.Mutex
	last    time.Time
	now     func() time.Time

	booksMu sync.RWMutex
	books   map[string]*model.BookSnapshot

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewService(cfg Config, deps Deps, log *zap.Logger) *Service {
	cfg.defaults()
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		cfg:    cfg,
		Deps:   deps,
		events: NewEventStore(),
		log:    log.Named("exchange"),
		now:    time.Now,
		books:  make(map[string]*model.BookSnapshot),
		stopCh: make(chan struct{}),
	}
	s.engine = orderbook.NewOrderBookManager(deps.Ledger, &orderbook.OrderBookManagerConfig{
		StoreTimeout: cfg.StoreTimeout,
		Now:          s.stamp,
	}, log)
	s.engine.RegisterMatchCallback(s.onMatch)

	if deps.Distributor != nil {
		deps.Distributor.SetOrderContext(s)
	}
	if deps.PriceFeed != nil {
		deps.PriceFeed.OnQuote(s.onQuote)
	}
	return s
}

// RegisterGateway must be called before Start.
func (s *Service) RegisterGateway(g OrderGateway) {
	s.gateways = append(s.gateways, g)
}

// Start restores resting orders into the books, starts the gateways and the
// event cleaner.
func (s *Service) Start(ctx context.Context) error {
	rctx, cancel := s.storeCtx(ctx)
	resting, err := s.Ledger.RestingOrders(rctx)
	cancel()
	if err != nil {
		return fmt.Errorf("load resting orders: %w", err)
	}
	s.engine.Restore(resting)
	s.log.Info("order books restored", zap.Int("resting", len(resting)))

	for _, g := range s.gateways {
		if err := g.Start(ctx); err != nil {
			return fmt.Errorf("start gateway: %w", err)
		}
	}
	go s.startCleaner(s.cfg.CleanInterval)
	return nil
}

// Stop waits for queued match attempts to finish.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.engine.Stop()
	})
}

// Flush waits until every match attempt queued so far has run.
func (s *Service) Flush(ctx context.Context) error {
	return s.engine.Flush(ctx)
}

// stamp returns strictly increasing microsecond timestamps.
func (s *Service) stamp() time.Time {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()

	t := s.now().UTC().Truncate(time.Microsecond)
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	s.last = t
	return t
}

func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.StoreTimeout)
}

// Submit validates and admits the order, records it as ACCEPTED and queues a
// match attempt without waiting for it.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	start, end, err := admission.ParseDeliveryWindow(req.DeliveryStart, req.DeliveryEnd)
	if err != nil {
		s.Metrics.OrderRejected(req.Market, admission.RejectValidation)
		return nil, err
	}

	now := s.stamp()
	if req.OrderID == "" {
		req.OrderID = uuid.NewString()
	}
	order := &model.Order{
		ID:            req.OrderID,
		Owner:         req.Owner,
		Market:        req.Market,
		Side:          model.OrderSide(model.Normalize(req.Side)),
		Type:          model.OrderType(model.Normalize(req.Type)),
		TimeInForce:   model.OrderTimeInForce(model.Normalize(req.TimeInForce)),
		LimitPrice:    req.LimitPrice,
		Quantity:      req.Quantity,
		Filled:        decimal.Zero,
		DeliveryStart: start,
		DeliveryEnd:   end,
		Status:        model.OrderStatusAccepted,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if order.TimeInForce == "" {
		order.TimeInForce = model.OrderTimeInForceGFD
	}
	if order.Type == "" {
		order.Type = model.OrderTypeLimit
	}

	decision, err := s.Admission.Admit(ctx, order)
	if err != nil {
		return nil, err
	}

	sctx, cancel := s.storeCtx(ctx)
	err = s.Ledger.InsertOrder(sctx, order)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}
	s.Metrics.OrderAccepted(order.Market, string(order.Side))

	s.report(ctx, model.NewOrderEventAccepted(*order, now))

	if err := s.engine.TryMatch(*order); err != nil {
		// the order is accepted and rests in the ledger; it is restored on restart
		s.log.Error("queue match attempt", zap.String("order_id", order.ID), zap.Error(err))
	}

	return &SubmitResult{
		OrderID:           order.ID,
		Status:            order.Status,
		Timestamp:         now,
		ThrottleRemaining: decision.Remaining,
	}, nil
}

func (s *Service) onMatch(res *orderbook.MatchResult) {
	ctx := context.Background()
	market := res.Order.Market
	s.Metrics.MatchDuration(market, res.Duration)

	for i := range res.Fills {
		f := &res.Fills[i]
		s.Metrics.Trade(market, f.Trade.Quantity.InexactFloat64())
		if s.Distributor != nil {
			if err := s.Distributor.PublishTrade(ctx, &f.Trade); err != nil {
				s.log.Warn("publish trade", zap.String("trade_id", f.Trade.ID), zap.Error(err))
			}
		}
		s.report(ctx, model.NewOrderEventFill(f.Incoming, f.Trade))
		s.report(ctx, model.NewOrderEventFill(f.Resting, f.Trade))
	}

	if res.Cancelled != nil {
		s.report(ctx, model.NewOrderEventCancelled(*res.Cancelled, res.CancelReason, s.stamp()))
	}
	if res.Err != nil {
		s.log.Error("match attempt incomplete",
			zap.String("order_id", res.Order.ID),
			zap.String("market", market),
			zap.Error(res.Err))
	}
}

// report records ev and hands it to gateways and subscribers.
func (s *Service) report(ctx context.Context, ev *model.OrderEvent) {
	s.events.AddEvent(ev)
	for _, g := range s.gateways {
		g.OnOrderReport(ctx, ev)
	}
	if s.Distributor != nil {
		if err := s.Distributor.PublishOrder(ctx, ev); err != nil {
			s.log.Warn("publish order event", zap.String("event_id", ev.EventID), zap.Error(err))
		}
	}
}

func (s *Service) onQuote(q pricefeed.Quote) {
	s.Metrics.Price(q.Market, q.Mark.InexactFloat64(), q.EMA.InexactFloat64(), q.VWAP.InexactFloat64())
	if s.Distributor != nil {
		if err := s.Distributor.PublishPrice(context.Background(), q.Market, q); err != nil {
			s.log.Warn("publish price", zap.String("market", q.Market), zap.Error(err))
		}
	}
}

// ThrottleRemaining reports the owner's budget left this minute.
func (s *Service) ThrottleRemaining(ctx context.Context, owner, market string) (int, error) {
	return s.Admission.Remaining(ctx, owner, market)
}

// Exposure sums the owner's resting orders per market.
func (s *Service) Exposure(ctx context.Context, owner string) (model.Exposure, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.Ledger.Exposure(sctx, owner)
}

func (s *Service) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	o, err := s.Ledger.GetOrder(sctx, id)
	if errors.Is(err, ledger.ErrOrderNotFound) {
		return nil, fmt.Errorf("%w: order %s", ErrNotFound, id)
	}
	return o, err
}

func (s *Service) ListOrders(ctx context.Context, filter ledger.OrderFilter) ([]*model.Order, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.Ledger.ListOrders(sctx, filter)
}

func (s *Service) ListTrades(ctx context.Context, filter ledger.TradeFilter) ([]*model.Trade, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.Ledger.ListTrades(sctx, filter)
}

// OrderEvents returns the retained event chain of an order.
func (s *Service) OrderEvents(ctx context.Context, id string) ([]*model.OrderEvent, error) {
	if chain := s.events.Events(id); len(chain) > 0 {
		return chain, nil
	}
	if _, err := s.GetOrder(ctx, id); err != nil {
		return nil, err
	}
	return []*model.OrderEvent{}, nil
}

// Depth is the engine's resting liquidity for market.
func (s *Service) Depth(market string, levels int) *model.BookSnapshot {
	bids, asks := s.engine.Depth(market, levels)
	if bids == nil {
		bids = []model.PriceLevel{}
	}
	if asks == nil {
		asks = []model.PriceLevel{}
	}
	return &model.BookSnapshot{Market: market, Bids: bids, Asks: asks, CreatedAt: s.now().UTC()}
}

// InjectBook stores an administered display snapshot and broadcasts its top
// levels. It never touches the matching engine.
func (s *Service) InjectBook(ctx context.Context, market string, bids, asks []model.PriceLevel) (*model.BookSnapshot, error) {
	if market == "" {
		return nil, fmt.Errorf("%w: market is required", admission.ErrValidation)
	}
	snap := &model.BookSnapshot{Market: market, Bids: bids, Asks: asks, CreatedAt: s.stamp()}
	if snap.Bids == nil {
		snap.Bids = []model.PriceLevel{}
	}
	if snap.Asks == nil {
		snap.Asks = []model.PriceLevel{}
	}
	snap.Sort()

	sctx, cancel := s.storeCtx(ctx)
	err := s.Ledger.InsertBookSnapshot(sctx, snap)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("insert book snapshot: %w", err)
	}

	s.booksMu.Lock()
	s.books[market] = snap
	s.booksMu.Unlock()

	if s.Distributor != nil {
		if err := s.Distributor.PublishBook(ctx, snap); err != nil {
			s.log.Warn("publish book", zap.String("market", market), zap.Error(err))
		}
	}
	return snap, nil
}

// Book returns the latest injected snapshot of market.
func (s *Service) Book(market string) (*model.BookSnapshot, error) {
	s.booksMu.RLock()
	defer s.booksMu.RUnlock()
	snap, ok := s.books[market]
	if !ok {
		return nil, fmt.Errorf("%w: no book for %s", ErrNotFound, market)
	}
	return snap, nil
}

func (s *Service) UpdateTelemetry(ctx context.Context, r telemetry.Reading) (telemetry.Reading, error) {
	r.UpdatedAt = s.now().UTC()
	if err := s.Telemetry.Update(ctx, r); err != nil {
		return telemetry.Reading{}, err
	}
	s.Metrics.Telemetry(r.SocPercent, r.TemperatureC, r.ActivePowerMW)
	return r, nil
}

// TelemetryStatus is the latest reading with the eligibility derived from it.
func (s *Service) TelemetryStatus(ctx context.Context) (telemetry.Reading, telemetry.Limits, error) {
	return s.Admission.Limits(ctx)
}

// PushPrice feeds one tick into the price aggregator.
func (s *Service) PushPrice(ctx context.Context, market string, price, volume decimal.Decimal) (pricefeed.Quote, error) {
	if s.PriceFeed == nil {
		return pricefeed.Quote{}, fmt.Errorf("%w: price feed disabled", ErrNotFound)
	}
	return s.PriceFeed.Ingest(ctx, market, price, volume)
}

func (s *Service) startCleaner(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := s.events.cleanup(s.now().Add(-s.cfg.EventRetention)); n > 0 {
				s.log.Debug("event chains cleaned", zap.Int("count", n))
			}
		case <-s.stopCh:
			return
		}
	}
}
