package orderbook

import (
	"time"

	"github.com/joripage/bess-exchange/pkg/model"
)

// MatchResult is the outcome of one match attempt for an incoming order.
type MatchResult struct {
	// Order is the incoming order after the attempt.
	Order model.Order
	Fills []model.FillResult
	// Cancelled holds the order when its remainder was cancelled.
	Cancelled    *model.Order
	CancelReason string
	Rested       bool
	Err          error
	Duration     time.Duration
}

const (
	CancelReasonIOC    = "IOC remainder cancelled"
	CancelReasonFOK    = "FOK not fully fillable"
	CancelReasonMarket = "MARKET remainder cancelled"
)
