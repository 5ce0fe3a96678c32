package distributor

import "errors"

var (
	ErrSlowConsumer = errors.New("subscriber buffer full")
	ErrDisconnected = errors.New("subscriber disconnected")
)
