package orderbook

import "errors"

var (
	errBookStopped = errors.New("order book manager stopped")
)
