package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type OrderEventType string

const (
	OrderEventAccepted  OrderEventType = "ACCEPTED"
	OrderEventFill      OrderEventType = "FILL"
	OrderEventCancelled OrderEventType = "CANCELLED"
)

// OrderEvent is one step in the life of an order as reported to its owner.
type OrderEvent struct {
	EventID   string          `json:"eventId"`
	Type      OrderEventType  `json:"type"`
	Order     Order           `json:"order"`
	TradeID   string          `json:"tradeId,omitempty"`
	LastQty   decimal.Decimal `json:"lastQty"`
	LastPrice decimal.Decimal `json:"lastPrice"`
	Reason    string          `json:"reason,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

func NewOrderEventAccepted(order Order, ts time.Time) *OrderEvent {
	return &OrderEvent{
		EventID:   NewEventID(order.ID, OrderEventAccepted, ""),
		Type:      OrderEventAccepted,
		Order:     order,
		Timestamp: ts,
	}
}

func NewOrderEventFill(order Order, trade Trade) *OrderEvent {
	return &OrderEvent{
		EventID:   NewEventID(order.ID, OrderEventFill, trade.ID),
		Type:      OrderEventFill,
		Order:     order,
		TradeID:   trade.ID,
		LastQty:   trade.Quantity,
		LastPrice: trade.Price,
		Timestamp: trade.CreatedAt,
	}
}

func NewOrderEventCancelled(order Order, reason string, ts time.Time) *OrderEvent {
	return &OrderEvent{
		EventID:   NewEventID(order.ID, OrderEventCancelled, ""),
		Type:      OrderEventCancelled,
		Order:     order,
		Reason:    reason,
		Timestamp: ts,
	}
}

func NewEventID(orderID string, typ OrderEventType, ref string) string {
	if ref == "" {
		return fmt.Sprintf("%s-%s", orderID, typ)
	}
	return fmt.Sprintf("%s-%s-%s", orderID, typ, ref)
}
