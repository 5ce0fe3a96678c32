package orderbook

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/joripage/bess-exchange/pkg/ledger"
	"github.com/joripage/bess-exchange/pkg/model"
	"github.com/shopspring/decimal"
)

const testMarket = "DE-2026-03-01T12"

type harness struct {
	t       testing.TB
	ledger  *ledger.Memory
	obm     *OrderBookManager
	mu      sync.Mutex
	results []*MatchResult
	clock   time.Time
	seq     int
}

func newHarness(t testing.TB) *harness {
	h := &harness{
		t:      t,
		ledger: ledger.NewMemory(),
		clock:  time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	h.obm = NewOrderBookManager(h.ledger, &OrderBookManagerConfig{StoreTimeout: time.Second}, nil)
	h.obm.RegisterMatchCallback(func(r *MatchResult) {
		h.mu.Lock()
		h.results = append(h.results, r)
		h.mu.Unlock()
	})
	t.Cleanup(h.obm.Stop)
	return h
}

func px(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func (h *harness) order(id string, side model.OrderSide, price string, qty string) *model.Order {
	h.mu.Lock()
	h.seq++
	ts := h.clock.Add(time.Duration(h.seq) * time.Microsecond)
	h.mu.Unlock()

	o := &model.Order{
		ID:            id,
		Owner:         "owner-" + id,
		Market:        testMarket,
		Side:          side,
		Type:          model.OrderTypeLimit,
		TimeInForce:   model.OrderTimeInForceGFD,
		Quantity:      px(qty),
		Filled:        decimal.Zero,
		DeliveryStart: h.clock.Add(3 * time.Hour),
		DeliveryEnd:   h.clock.Add(4 * time.Hour),
		Status:        model.OrderStatusAccepted,
		CreatedAt:     ts,
	}
	if price != "" {
		o.LimitPrice = px(price)
	}
	return o
}

// submit inserts the order and queues its match attempt.
func (h *harness) submit(o *model.Order) {
	if err := h.ledger.InsertOrder(context.Background(), o); err != nil {
		h.t.Fatalf("insert %s: %v", o.ID, err)
	}
	if err := h.obm.TryMatch(*o); err != nil {
		h.t.Fatalf("try match %s: %v", o.ID, err)
	}
}

func (h *harness) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.obm.Flush(ctx); err != nil {
		h.t.Fatalf("flush: %v", err)
	}
}

func (h *harness) get(id string) *model.Order {
	o, err := h.ledger.GetOrder(context.Background(), id)
	if err != nil {
		h.t.Fatalf("get %s: %v", id, err)
	}
	return o
}

func (h *harness) resultFor(id string) *MatchResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.results {
		if r.Order.ID == id {
			return r
		}
	}
	h.t.Fatalf("no match result for %s", id)
	return nil
}

func (h *harness) trades() []*model.Trade {
	trades, err := h.ledger.ListTrades(context.Background(), ledger.TradeFilter{Limit: ledger.MaxListLimit})
	if err != nil {
		h.t.Fatalf("list trades: %v", err)
	}
	// oldest first reads better in assertions
	for i, j := 0, len(trades)-1; i < j; i, j = i+1, j-1 {
		trades[i], trades[j] = trades[j], trades[i]
	}
	return trades
}

func checkInvariant(t *testing.T, o *model.Order) {
	t.Helper()
	if o.Filled.IsNegative() || o.Filled.GreaterThan(o.Quantity) {
		t.Fatalf("order %s filled %s outside [0, %s]", o.ID, o.Filled, o.Quantity)
	}
	if (o.Status == model.OrderStatusFilled) != o.Filled.GreaterThanOrEqual(o.Quantity) {
		t.Fatalf("order %s status %s does not match filled %s/%s", o.ID, o.Status, o.Filled, o.Quantity)
	}
}

func idOf(prefix string, i int) string { return fmt.Sprintf("%s-%d", prefix, i) }
