package ledger

import "errors"

var (
	ErrOrderNotFound  = errors.New("order not found")
	ErrDuplicateOrder = errors.New("duplicate order")
	// ErrOverfill means a fill would leave an order above its quantity or
	// touched an order that is no longer resting.
	ErrOverfill       = errors.New("fill exceeds remaining quantity")
	ErrNotCancellable = errors.New("order is not cancellable")
)
