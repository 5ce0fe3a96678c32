package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// PriceLevel is encoded as a [price, qty] pair.
type PriceLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

func (l PriceLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]decimal.Decimal{l.Price, l.Quantity})
}

func (l *PriceLevel) UnmarshalJSON(b []byte) error {
	var pair []decimal.Decimal
	if err := json.Unmarshal(b, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("price level needs [price, qty], got %d values", len(pair))
	}
	l.Price, l.Quantity = pair[0], pair[1]
	return nil
}

// BookSnapshot is an administered, display-only view of a market.
type BookSnapshot struct {
	Market    string       `json:"market"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	CreatedAt time.Time    `json:"createdAt"`
}

// Sort orders bids by price descending and asks ascending.
func (b *BookSnapshot) Sort() {
	sort.SliceStable(b.Bids, func(i, j int) bool { return b.Bids[i].Price.GreaterThan(b.Bids[j].Price) })
	sort.SliceStable(b.Asks, func(i, j int) bool { return b.Asks[i].Price.LessThan(b.Asks[j].Price) })
}

// Top returns a copy limited to depth levels per side.
func (b *BookSnapshot) Top(depth int) *BookSnapshot {
	out := &BookSnapshot{Market: b.Market, CreatedAt: b.CreatedAt}
	out.Bids = append([]PriceLevel(nil), b.Bids[:min(depth, len(b.Bids))]...)
	out.Asks = append([]PriceLevel(nil), b.Asks[:min(depth, len(b.Asks))]...)
	return out
}

// MarketExposure is the net open energy and notional of one owner in one market.
type MarketExposure struct {
	Energy   decimal.Decimal `json:"energy"`
	Notional decimal.Decimal `json:"notional"`
}

type Exposure map[string]MarketExposure

// Add accounts for the remaining quantity of a resting order.
func (e Exposure) Add(o *Order) {
	rem := o.Remaining()
	cur := e[o.Market]
	if o.Side == OrderSideBuy {
		cur.Energy = cur.Energy.Add(rem)
	} else {
		cur.Energy = cur.Energy.Sub(rem)
	}
	cur.Notional = cur.Notional.Add(rem.Mul(o.LimitPrice).Abs())
	e[o.Market] = cur
}
