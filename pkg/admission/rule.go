package admission

import (
	"fmt"
	"time"

	"github.com/joripage/bess-exchange/pkg/model"
	"github.com/joripage/bess-exchange/pkg/policy"
)

// Rule validates an order before it touches any state.
type Rule interface {
	Check(order *model.Order, p *policy.Policy) error
}

func DefaultRules() []Rule {
	return []Rule{
		&FieldsRule{},
		&DeliveryWindowRule{},
		&LimitPriceRule{},
		&TickSizeRule{},
	}
}

type FieldsRule struct{}

func (r *FieldsRule) Check(order *model.Order, _ *policy.Policy) error {
	switch {
	case order.Owner == "":
		return fmt.Errorf("%w: owner is required", ErrValidation)
	case order.Market == "":
		return fmt.Errorf("%w: market is required", ErrValidation)
	case !order.Side.Valid():
		return fmt.Errorf("%w: side %q", ErrValidation, order.Side)
	case !order.Type.Valid():
		return fmt.Errorf("%w: type %q", ErrValidation, order.Type)
	case !order.TimeInForce.Valid():
		return fmt.Errorf("%w: time in force %q", ErrValidation, order.TimeInForce)
	case !order.Quantity.IsPositive():
		return fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	return nil
}

type DeliveryWindowRule struct{}

func (r *DeliveryWindowRule) Check(order *model.Order, _ *policy.Policy) error {
	if order.DeliveryStart.IsZero() || order.DeliveryEnd.IsZero() {
		return fmt.Errorf("%w: delivery window is required", ErrValidation)
	}
	if !order.DeliveryStart.Before(order.DeliveryEnd) {
		return fmt.Errorf("%w: delivery window start must be before end", ErrValidation)
	}
	return nil
}

// ParseDeliveryWindow parses RFC3339 bounds of a delivery interval.
func ParseDeliveryWindow(start, end string) (time.Time, time.Time, error) {
	s, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: window start %q", ErrValidation, start)
	}
	e, err := time.Parse(time.RFC3339, end)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: window end %q", ErrValidation, end)
	}
	if !s.Before(e) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: delivery window start must be before end", ErrValidation)
	}
	return s.UTC(), e.UTC(), nil
}
