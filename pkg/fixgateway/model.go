package fixgateway

import (
	"sync"
	"time"

	"github.com/quickfixgo/enum"
	"github.com/quickfixgo/quickfix"
	"github.com/shopspring/decimal"
)

type NewOrderSingle struct {
	SessionID quickfix.SessionID

	Account      string
	ClOrdID      string
	Symbol       string
	SecurityID   string
	OrdType      enum.OrdType
	Price        decimal.Decimal
	TimeInForce  enum.TimeInForce
	Side         enum.Side
	TransactTime time.Time
	OrderQty     decimal.Decimal
}

// request tracks an accepted order so its reports can be routed back to the
// session that entered it.
type request struct {
	*NewOrderSingle
	OrderID string

	mu          sync.Mutex
	cumQty      decimal.Decimal
	cumNotional decimal.Decimal
}

func (r *request) avgPx() decimal.Decimal {
	if r.cumQty.IsZero() {
		return decimal.Zero
	}
	return r.cumNotional.Div(r.cumQty).Round(priceScale)
}
