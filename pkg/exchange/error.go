package exchange

import "errors"

var (
	ErrNotFound = errors.New("not found")
	ErrStopped  = errors.New("exchange stopped")
)
