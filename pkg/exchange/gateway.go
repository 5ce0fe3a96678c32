package exchange

import (
	"context"

	"github.com/joripage/bess-exchange/pkg/model"
)

// OrderGateway is an external order entry session that wants every report
// about orders.
type OrderGateway interface {
	Start(ctx context.Context) error

	// exchange to client
	OnOrderReport(ctx context.Context, ev *model.OrderEvent)
}
