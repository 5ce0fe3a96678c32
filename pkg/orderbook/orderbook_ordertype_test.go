package orderbook

import (
	"context"
	"testing"

	"github.com/joripage/bess-exchange/pkg/model"
)

func TestLimitOrderMatch(t *testing.T) {
	h := newHarness(t)

	h.submit(h.order("S1", model.OrderSideSell, "100", "10"))
	h.submit(h.order("B1", model.OrderSideBuy, "101", "10"))
	h.flush()

	r := h.resultFor("B1")
	if len(r.Fills) != 1 || !r.Fills[0].Trade.Quantity.Equal(px("10")) {
		t.Errorf("expected 1 fill of 10, got %+v", r.Fills)
	}
	if r.Order.Status != model.OrderStatusFilled {
		t.Errorf("expected FILLED, got %s", r.Order.Status)
	}
}

func TestMarketOrderFullMatch(t *testing.T) {
	h := newHarness(t)

	h.submit(h.order("S1", model.OrderSideSell, "100", "10"))
	m := h.order("B1", model.OrderSideBuy, "", "10")
	m.Type = model.OrderTypeMarket
	h.submit(m)
	h.flush()

	r := h.resultFor("B1")
	if len(r.Fills) != 1 {
		t.Fatalf("expected full market match, got %+v", r.Fills)
	}
	if !r.Fills[0].Trade.Price.Equal(px("100")) {
		t.Errorf("expected MARKET to trade at resting limit 100, got %s", r.Fills[0].Trade.Price)
	}
	if r.Cancelled != nil {
		t.Errorf("nothing left to cancel")
	}
}

func TestMarketOrderRemainderCancelled(t *testing.T) {
	h := newHarness(t)

	h.submit(h.order("S1", model.OrderSideSell, "100", "4"))
	m := h.order("B1", model.OrderSideBuy, "", "10")
	m.Type = model.OrderTypeMarket
	h.submit(m)
	h.flush()

	r := h.resultFor("B1")
	if r.Cancelled == nil || r.CancelReason != CancelReasonMarket {
		t.Fatalf("expected remainder cancelled, got %+v", r)
	}
	b1 := h.get("B1")
	checkInvariant(t, b1)
	if b1.Status != model.OrderStatusCancelled || !b1.Filled.Equal(px("4")) {
		t.Errorf("expected CANCELLED with 4 filled, got %s %s", b1.Status, b1.Filled)
	}
	bids, _ := h.obm.Depth(testMarket, 0)
	if len(bids) != 0 {
		t.Errorf("MARKET remainder must not rest, got %+v", bids)
	}
}

func TestIOCPartialMatch(t *testing.T) {
	h := newHarness(t)

	h.submit(h.order("S1", model.OrderSideSell, "100", "5"))
	ioc := h.order("B1", model.OrderSideBuy, "101", "10")
	ioc.TimeInForce = model.OrderTimeInForceIOC
	h.submit(ioc)
	h.flush()

	r := h.resultFor("B1")
	if len(r.Fills) != 1 || !r.Fills[0].Trade.Quantity.Equal(px("5")) {
		t.Errorf("expected partial IOC match of 5, got %+v", r.Fills)
	}
	if r.Cancelled == nil || r.CancelReason != CancelReasonIOC {
		t.Errorf("expected IOC remainder cancelled")
	}
	if r.Rested {
		t.Errorf("IOC must not rest")
	}
}

func TestFOKRejectPartial(t *testing.T) {
	h := newHarness(t)

	h.submit(h.order("S1", model.OrderSideSell, "100", "5"))
	fok := h.order("B1", model.OrderSideBuy, "101", "10")
	fok.TimeInForce = model.OrderTimeInForceFOK
	h.submit(fok)
	h.flush()

	r := h.resultFor("B1")
	if len(r.Fills) != 0 {
		t.Errorf("FOK should not partially fill, got %+v", r.Fills)
	}
	if r.Cancelled == nil || r.CancelReason != CancelReasonFOK {
		t.Errorf("expected FOK cancelled")
	}
	if s1 := h.get("S1"); !s1.Filled.IsZero() {
		t.Errorf("resting order must be untouched, filled=%s", s1.Filled)
	}
}

func TestFOKFullMatchAcrossLevels(t *testing.T) {
	h := newHarness(t)

	h.submit(h.order("S1", model.OrderSideSell, "100", "5"))
	h.submit(h.order("S2", model.OrderSideSell, "101", "5"))
	h.submit(h.order("S3", model.OrderSideSell, "110", "5"))
	fok := h.order("B1", model.OrderSideBuy, "101", "10")
	fok.TimeInForce = model.OrderTimeInForceFOK
	h.submit(fok)
	h.flush()

	r := h.resultFor("B1")
	if len(r.Fills) != 2 || r.Order.Status != model.OrderStatusFilled {
		t.Fatalf("expected FOK filled by two orders, got %d fills status %s", len(r.Fills), r.Order.Status)
	}
	if h.get("S3").Filled.IsPositive() {
		t.Errorf("incompatible level must not be touched")
	}
}

func TestFOKIgnoresLiquidityGoneFromLedger(t *testing.T) {
	h := newHarness(t)

	h.submit(h.order("S1", model.OrderSideSell, "100", "5"))
	h.submit(h.order("S2", model.OrderSideSell, "100", "5"))
	h.flush()

	// S2 leaves the ledger behind the book's back
	if _, err := h.ledger.CancelRemainder(context.Background(), "S2"); err != nil {
		t.Fatalf("cancel S2: %v", err)
	}

	fok := h.order("B1", model.OrderSideBuy, "100", "10")
	fok.TimeInForce = model.OrderTimeInForceFOK
	h.submit(fok)
	h.flush()

	r := h.resultFor("B1")
	if len(r.Fills) != 0 {
		t.Fatalf("FOK must not keep partial fills, got %+v", r.Fills)
	}
	if r.Cancelled == nil || r.CancelReason != CancelReasonFOK {
		t.Fatalf("expected FOK cancel, got %+v", r)
	}
	if s1 := h.get("S1"); !s1.Filled.IsZero() {
		t.Errorf("S1 must stay untouched, filled %s", s1.Filled)
	}
}
