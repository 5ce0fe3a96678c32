package distributor

import (
	"encoding/json"

	"github.com/joripage/bess-exchange/pkg/model"
	"github.com/joripage/bess-exchange/pkg/signing"
)

const (
	KindBook   = "book"
	KindTrades = "trades"
	KindOrders = "orders"
	KindPrices = "prices"
)

func BookChannel(market string) string   { return KindBook + ":" + market }
func TradesChannel() string              { return KindTrades }
func OrdersChannel(owner string) string  { return KindOrders + ":" + owner }
func PricesChannel(market string) string { return KindPrices + ":" + market }

// Meta is the signed header plus the unsigned order-channel extras.
type Meta struct {
	signing.Meta
	ThrottleRemaining *int           `json:"throttle_remaining,omitempty"`
	ExposureSnapshot  model.Exposure `json:"exposure_snapshot,omitempty"`
}

type Envelope struct {
	Meta Meta            `json:"meta"`
	Data json.RawMessage `json:"data"`
}

// Record is what sinks receive for every published envelope.
type Record struct {
	EventID  string   `json:"event_id"`
	Channel  string   `json:"channel"`
	Kind     string   `json:"kind"`
	Envelope Envelope `json:"envelope"`
}
