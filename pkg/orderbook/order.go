package orderbook

import (
	"time"

	"github.com/joripage/bess-exchange/pkg/model"
	"github.com/shopspring/decimal"
)

// Order is the resting view of a ledger order kept in a price level.
type Order struct {
	ID         string
	Owner      string
	Side       model.OrderSide
	LimitPrice decimal.Decimal
	Remaining  decimal.Decimal
	CreatedAt  time.Time
}

func newBookOrder(o *model.Order) *Order {
	return &Order{
		ID:         o.ID,
		Owner:      o.Owner,
		Side:       o.Side,
		LimitPrice: o.LimitPrice,
		Remaining:  o.Remaining(),
		CreatedAt:  o.CreatedAt,
	}
}
