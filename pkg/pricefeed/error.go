package pricefeed

import "errors"

var (
	ErrInvalidTick   = errors.New("invalid price tick")
	ErrNoPrice       = errors.New("no price for market")
	ErrInvalidBucket = errors.New("bucket must be hour or day")
)
