package admission

import (
	"fmt"

	"github.com/joripage/bess-exchange/pkg/model"
	"github.com/joripage/bess-exchange/pkg/policy"
)

// TickSizeRule requires LIMIT prices on the market's price step.
type TickSizeRule struct{}

func (r *TickSizeRule) Check(order *model.Order, p *policy.Policy) error {
	if order.Type != model.OrderTypeLimit {
		return nil
	}
	tick, ok := p.TickSize(order.Market)
	if !ok { // no config -> no rule
		return nil
	}
	if !order.LimitPrice.Mod(tick).IsZero() {
		return fmt.Errorf("%w: price %s not on tick %s", ErrValidation, order.LimitPrice, tick)
	}
	return nil
}
