package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Opposite returns the side an order of s matches against.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

func (s OrderSide) Valid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

func (t OrderType) Valid() bool {
	return t == OrderTypeLimit || t == OrderTypeMarket
}

type OrderTimeInForce string

const (
	OrderTimeInForceGFD OrderTimeInForce = "GFD"
	OrderTimeInForceIOC OrderTimeInForce = "IOC"
	OrderTimeInForceFOK OrderTimeInForce = "FOK"
)

func (t OrderTimeInForce) Valid() bool {
	switch t {
	case OrderTimeInForceGFD, OrderTimeInForceIOC, OrderTimeInForceFOK:
		return true
	}
	return false
}

type OrderStatus string

const (
	OrderStatusAccepted  OrderStatus = "ACCEPTED"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// Normalize upper-cases and trims enum input from clients.
func Normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

type Order struct {
	ID            string           `json:"id" gorm:"column:id;primaryKey"`
	Owner         string           `json:"owner" gorm:"column:owner"`
	Market        string           `json:"market" gorm:"column:market"`
	Side          OrderSide        `json:"side" gorm:"column:side"`
	Type          OrderType        `json:"type" gorm:"column:type"`
	TimeInForce   OrderTimeInForce `json:"timeInForce" gorm:"column:time_in_force"`
	LimitPrice    decimal.Decimal  `json:"limitPrice" gorm:"column:limit_price;type:numeric(20,6)"`
	Quantity      decimal.Decimal  `json:"quantity" gorm:"column:quantity;type:numeric(20,6)"`
	Filled        decimal.Decimal  `json:"filled" gorm:"column:filled;type:numeric(20,6)"`
	DeliveryStart time.Time        `json:"deliveryStart" gorm:"column:delivery_start"`
	DeliveryEnd   time.Time        `json:"deliveryEnd" gorm:"column:delivery_end"`
	Status        OrderStatus      `json:"status" gorm:"column:status"`
	CreatedAt     time.Time        `json:"createdAt" gorm:"column:created_at"`
	UpdatedAt     time.Time        `json:"updatedAt" gorm:"column:updated_at"`
}

func (Order) TableName() string {
	return "orders"
}

func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.Filled)
}

// IsResting reports whether the order is still available as liquidity.
func (o *Order) IsResting() bool {
	return o.Status == OrderStatusAccepted && o.Filled.LessThan(o.Quantity)
}

func (o *Order) IsEnd() bool {
	return o.Status == OrderStatusFilled || o.Status == OrderStatusCancelled
}

// ApplyFill adds qty to filled and moves the order to FILLED once it is complete.
func (o *Order) ApplyFill(qty decimal.Decimal, at time.Time) {
	o.Filled = o.Filled.Add(qty)
	if o.Filled.GreaterThanOrEqual(o.Quantity) {
		o.Status = OrderStatusFilled
	}
	o.UpdatedAt = at
}
