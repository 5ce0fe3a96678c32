package ledger

import (
	"context"

	"github.com/joripage/bess-exchange/pkg/model"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 500
)

type OrderFilter struct {
	Owner  string
	Market string
	Limit  int
}

type TradeFilter struct {
	Market string
	Limit  int
}

// Ledger is the durable, transactional store of orders and trades.
type Ledger interface {
	InsertOrder(ctx context.Context, order *model.Order) error
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	// ListOrders returns newest first.
	ListOrders(ctx context.Context, filter OrderFilter) ([]*model.Order, error)
	// ListTrades returns newest first.
	ListTrades(ctx context.Context, filter TradeFilter) ([]*model.Trade, error)
	// RestingOrders returns every resting order oldest first.
	RestingOrders(ctx context.Context) ([]*model.Order, error)
	// ApplyFill raises filled on both orders and records the trade in one step.
	ApplyFill(ctx context.Context, fill model.Fill) (*model.FillResult, error)
	// CancelRemainder moves a resting order to CANCELLED.
	CancelRemainder(ctx context.Context, id string) (*model.Order, error)
	Exposure(ctx context.Context, owner string) (model.Exposure, error)
	InsertBookSnapshot(ctx context.Context, snapshot *model.BookSnapshot) error
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return min(limit, MaxListLimit)
}
