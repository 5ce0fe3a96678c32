package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is one fill between an incoming order and a resting one, seen from
// the incoming side.
type Trade struct {
	ID             string          `json:"id" gorm:"column:id;primaryKey"`
	OrderID        string          `json:"orderId" gorm:"column:order_id"`
	CounterOrderID string          `json:"counterOrderId" gorm:"column:counter_order_id"`
	Owner          string          `json:"owner" gorm:"column:owner"`
	CounterOwner   string          `json:"counterOwner" gorm:"column:counter_owner"`
	Market         string          `json:"market" gorm:"column:market"`
	Side           OrderSide       `json:"side" gorm:"column:side"`
	Quantity       decimal.Decimal `json:"quantity" gorm:"column:quantity;type:numeric(20,6)"`
	Price          decimal.Decimal `json:"price" gorm:"column:price;type:numeric(20,6)"`
	CreatedAt      time.Time       `json:"createdAt" gorm:"column:created_at"`
}

func (Trade) TableName() string {
	return "trades"
}

// Fill is a single match the ledger applies atomically to both orders.
type Fill struct {
	IncomingID string
	RestingID  string
	Quantity   decimal.Decimal
	Trade      *Trade
}

// FillResult holds both orders as they are after the fill.
type FillResult struct {
	Trade    Trade
	Incoming Order
	Resting  Order
}
