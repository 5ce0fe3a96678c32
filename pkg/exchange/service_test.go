package exchange

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/joripage/bess-exchange/pkg/admission"
	"github.com/joripage/bess-exchange/pkg/distributor"
	"github.com/joripage/bess-exchange/pkg/ledger"
	"github.com/joripage/bess-exchange/pkg/model"
	"github.com/joripage/bess-exchange/pkg/policy"
	"github.com/joripage/bess-exchange/pkg/pricefeed"
	"github.com/joripage/bess-exchange/pkg/signing"
	"github.com/joripage/bess-exchange/pkg/telemetry"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticPolicy struct{ p *policy.Policy }

func (s staticPolicy) Current() *policy.Policy { return s.p }

type recordingGateway struct {
	mu     sync.Mutex
	events []*model.OrderEvent
}

func (g *recordingGateway) Start(context.Context) error { return nil }

func (g *recordingGateway) OnOrderReport(_ context.Context, ev *model.OrderEvent) {
	g.mu.Lock()
	g.events = append(g.events, ev)
	g.mu.Unlock()
}

func (g *recordingGateway) types() []model.OrderEventType {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]model.OrderEventType, 0, len(g.events))
	for _, ev := range g.events {
		out = append(out, ev.Type)
	}
	return out
}

type env struct {
	svc    *Service
	ledger *ledger.Memory
	tel    *telemetry.Memory
	dist   *distributor.Distributor
	gw     *recordingGateway
}

func newEnv(t *testing.T, pol *policy.Policy) *env {
	t.Helper()
	if pol == nil {
		pol = policy.Empty()
	}
	l := ledger.NewMemory()
	tel := telemetry.NewMemory(telemetry.Reading{SocPercent: 50, TemperatureC: 25})
	ctrl := admission.NewController(admission.DefaultConfig(), admission.NewMemoryCounter(nil), tel, staticPolicy{pol}, nil)

	ring := signing.NewKeyRing()
	require.NoError(t, ring.Rotate("k", "exchange test key"))
	dist := distributor.New(distributor.Config{}, signing.NewSigner(ring), nil, nil)
	feed := pricefeed.NewAggregator(pricefeed.Config{}, nil, nil, nil)

	svc := NewService(Config{}, Deps{
		Ledger:      l,
		Admission:   ctrl,
		Telemetry:   tel,
		Distributor: dist,
		PriceFeed:   feed,
	}, nil)
	gw := &recordingGateway{}
	svc.RegisterGateway(gw)
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(svc.Stop)
	return &env{svc: svc, ledger: l, tel: tel, dist: dist, gw: gw}
}

func req(owner, side, price, qty string) SubmitRequest {
	return SubmitRequest{
		Owner:         owner,
		Market:        "DE-H12",
		Side:          side,
		Type:          "limit",
		TimeInForce:   "gfd",
		LimitPrice:    decimal.RequireFromString(price),
		Quantity:      decimal.RequireFromString(qty),
		DeliveryStart: "2026-03-01T12:00:00Z",
		DeliveryEnd:   "2026-03-01T13:00:00Z",
	}
}

func TestSubmitAndMatch(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	sellerFeed := e.dist.Hub().Subscribe(distributor.OrdersChannel("bob"), distributor.KindOrders)
	trades := e.dist.Hub().Subscribe(distributor.TradesChannel(), distributor.KindTrades)

	sell, err := e.svc.Submit(ctx, req("bob", "SELL", "50", "2"))
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusAccepted, sell.Status)
	assert.Equal(t, 119, sell.ThrottleRemaining)

	buy, err := e.svc.Submit(ctx, req("alice", "buy", "60", "2"))
	require.NoError(t, err)
	require.NoError(t, e.svc.Flush(ctx))

	list, err := e.svc.ListTrades(ctx, ledger.TradeFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Price.Equal(decimal.NewFromInt(55)), "mean of both limits")
	assert.Equal(t, buy.OrderID, list[0].OrderID)

	for _, id := range []string{sell.OrderID, buy.OrderID} {
		o, err := e.svc.GetOrder(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.OrderStatusFilled, o.Status)
	}

	chain, err := e.svc.OrderEvents(ctx, buy.OrderID)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, model.OrderEventAccepted, chain[0].Type)
	assert.Equal(t, model.OrderEventFill, chain[1].Type)

	assert.Len(t, trades.Messages(), 1)
	require.Len(t, sellerFeed.Messages(), 2)
	<-sellerFeed.Messages()
	var fill distributor.Envelope
	require.NoError(t, json.Unmarshal(<-sellerFeed.Messages(), &fill))
	require.NotNil(t, fill.Meta.ThrottleRemaining)
	assert.Equal(t, 119, *fill.Meta.ThrottleRemaining)

	assert.Equal(t, []model.OrderEventType{
		model.OrderEventAccepted, model.OrderEventAccepted, model.OrderEventFill, model.OrderEventFill,
	}, e.gw.types())
}

func TestSubmitRejections(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, &policy.Policy{PerMarketRPS: map[string]int{"DE-H12": 1}})

	bad := req("alice", "BUY", "50", "1")
	bad.DeliveryEnd = "2026-03-01T11:00:00Z"
	_, err := e.svc.Submit(ctx, bad)
	assert.ErrorIs(t, err, admission.ErrValidation)

	require.NoError(t, e.tel.Update(ctx, telemetry.Reading{SocPercent: 5, TemperatureC: 25}))
	_, err = e.svc.Submit(ctx, req("alice", "BUY", "50", "1"))
	assert.ErrorIs(t, err, admission.ErrSafetyGate)

	_, err = e.svc.Submit(ctx, req("alice", "SELL", "50", "1"))
	require.NoError(t, err)
	_, err = e.svc.Submit(ctx, req("alice", "SELL", "50", "1"))
	assert.ErrorIs(t, err, admission.ErrThrottled)

	orders, err := e.svc.ListOrders(ctx, ledger.OrderFilter{Owner: "alice"})
	require.NoError(t, err)
	assert.Len(t, orders, 1, "rejected orders never reach the ledger")
}

func TestFOKCancelledEvent(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)

	_, err := e.svc.Submit(ctx, req("bob", "SELL", "50", "1"))
	require.NoError(t, err)
	fok := req("alice", "BUY", "50", "5")
	fok.TimeInForce = "FOK"
	res, err := e.svc.Submit(ctx, fok)
	require.NoError(t, err)
	require.NoError(t, e.svc.Flush(ctx))

	chain, err := e.svc.OrderEvents(ctx, res.OrderID)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, model.OrderEventCancelled, chain[1].Type)
	assert.Equal(t, model.OrderStatusCancelled, chain[1].Order.Status)
}

func TestTimestampsStrictlyIncrease(t *testing.T) {
	e := newEnv(t, nil)
	fixed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	e.svc.now = func() time.Time { return fixed }

	a, b, c := e.svc.stamp(), e.svc.stamp(), e.svc.stamp()
	assert.True(t, a.Before(b))
	assert.Equal(t, time.Microsecond, c.Sub(b))
}

func TestInjectBook(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	sub := e.dist.Hub().Subscribe(distributor.BookChannel("DE-H12"), distributor.KindBook)

	_, err := e.svc.Book("DE-H12")
	assert.ErrorIs(t, err, ErrNotFound)

	lvl := func(p, q string) model.PriceLevel {
		return model.PriceLevel{Price: decimal.RequireFromString(p), Quantity: decimal.RequireFromString(q)}
	}
	_, err = e.svc.InjectBook(ctx, "DE-H12",
		[]model.PriceLevel{lvl("40", "1"), lvl("45", "2")},
		[]model.PriceLevel{lvl("60", "1"), lvl("55", "3")})
	require.NoError(t, err)

	snap, err := e.svc.Book("DE-H12")
	require.NoError(t, err)
	assert.True(t, snap.Bids[0].Price.Equal(decimal.NewFromInt(45)))
	assert.True(t, snap.Asks[0].Price.Equal(decimal.NewFromInt(55)))
	assert.Len(t, sub.Messages(), 1)

	depth := e.svc.Depth("DE-H12", 10)
	assert.Empty(t, depth.Bids, "injected levels are display only")
}

func TestOrderEventsUnknownOrder(t *testing.T) {
	e := newEnv(t, nil)
	_, err := e.svc.OrderEvents(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStartRestoresRestingOrders(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemory()
	resting := &model.Order{
		ID: "old", Owner: "bob", Market: "DE-H12", Side: model.OrderSideSell,
		Type: model.OrderTypeLimit, TimeInForce: model.OrderTimeInForceGFD,
		LimitPrice: decimal.NewFromInt(50), Quantity: decimal.NewFromInt(3),
		Status: model.OrderStatusAccepted, CreatedAt: time.Now(),
	}
	require.NoError(t, l.InsertOrder(ctx, resting))

	tel := telemetry.NewMemory(telemetry.Reading{SocPercent: 50, TemperatureC: 25})
	svc := NewService(Config{}, Deps{
		Ledger:    l,
		Telemetry: tel,
		Admission: admission.NewController(admission.DefaultConfig(), admission.NewMemoryCounter(nil), tel, staticPolicy{policy.Empty()}, nil),
	}, nil)
	require.NoError(t, svc.Start(ctx))
	defer svc.Stop()

	depth := svc.Depth("DE-H12", 5)
	require.Len(t, depth.Asks, 1)
	assert.True(t, depth.Asks[0].Quantity.Equal(decimal.NewFromInt(3)))

	_, err := svc.Submit(ctx, req("alice", "BUY", "50", "1"))
	require.NoError(t, err)
	require.NoError(t, svc.Flush(ctx))
	o, err := svc.GetOrder(ctx, "old")
	require.NoError(t, err)
	assert.True(t, o.Filled.Equal(decimal.NewFromInt(1)))
}

func TestPushPricePublishes(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	sub := e.dist.Hub().Subscribe(distributor.PricesChannel("DE-H12"), distributor.KindPrices)

	q, err := e.svc.PushPrice(ctx, "DE-H12", decimal.NewFromInt(80), decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.True(t, q.Mark.Equal(decimal.NewFromInt(80)))
	assert.Len(t, sub.Messages(), 1)
}

func TestEventStoreCleanup(t *testing.T) {
	s := NewEventStore()
	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.AddEvent(&model.OrderEvent{Order: model.Order{ID: "done", Status: model.OrderStatusFilled}, Timestamp: old})
	s.AddEvent(&model.OrderEvent{Order: model.Order{ID: "open", Status: model.OrderStatusAccepted}, Timestamp: old})

	assert.Equal(t, 1, s.cleanup(old.Add(time.Hour)))
	assert.Empty(t, s.Events("done"))
	assert.Len(t, s.Events("open"), 1)
}

// gatedLedger holds InsertOrder for one owner until released.
type gatedLedger struct {
	*ledger.Memory
	owner   string
	entered chan struct{}
	release chan struct{}
}

func (g *gatedLedger) InsertOrder(ctx context.Context, order *model.Order) error {
	if order.Owner == g.owner {
		close(g.entered)
		<-g.release
	}
	return g.Memory.InsertOrder(ctx, order)
}

func TestPriorityFollowsTimestampNotQueueOrder(t *testing.T) {
	ctx := context.Background()
	l := &gatedLedger{
		Memory:  ledger.NewMemory(),
		owner:   "slow",
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	tel := telemetry.NewMemory(telemetry.Reading{SocPercent: 50, TemperatureC: 25})
	ctrl := admission.NewController(admission.DefaultConfig(), admission.NewMemoryCounter(nil), tel, staticPolicy{policy.Empty()}, nil)
	svc := NewService(Config{}, Deps{Ledger: l, Admission: ctrl, Telemetry: tel}, nil)
	require.NoError(t, svc.Start(ctx))
	t.Cleanup(svc.Stop)

	type outcome struct {
		res *SubmitResult
		err error
	}
	slowDone := make(chan outcome, 1)
	go func() {
		res, err := svc.Submit(ctx, req("slow", "sell", "50", "1"))
		slowDone <- outcome{res, err}
	}()
	<-l.entered

	fast, err := svc.Submit(ctx, req("fast", "sell", "50", "1"))
	require.NoError(t, err)
	require.NoError(t, svc.Flush(ctx))

	close(l.release)
	slow := <-slowDone
	require.NoError(t, slow.err)
	assert.True(t, slow.res.Timestamp.Before(fast.Timestamp))

	_, err = svc.Submit(ctx, req("buyer", "buy", "50", "1"))
	require.NoError(t, err)
	require.NoError(t, svc.Flush(ctx))

	trades, err := svc.ListTrades(ctx, ledger.TradeFilter{})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "slow", trades[0].CounterOwner)
	assert.Equal(t, slow.res.OrderID, trades[0].CounterOrderID)
}
