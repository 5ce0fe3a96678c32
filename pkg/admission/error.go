package admission

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("invalid order")
	ErrSafetyGate = errors.New("rejected by battery safety gate")
	ErrThrottled  = errors.New("throttled")
)

// ThrottleError names the market whose budget was exceeded.
type ThrottleError struct {
	Market string
	Budget int
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: market %s budget %d/min exceeded", e.Market, e.Budget)
}

func (e *ThrottleError) Is(target error) bool {
	return target == ErrThrottled
}
