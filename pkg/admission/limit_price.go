package admission

import (
	"fmt"

	"github.com/joripage/bess-exchange/pkg/model"
	"github.com/joripage/bess-exchange/pkg/policy"
)

// LimitPriceRule keeps LIMIT prices inside the market's policy band.
type LimitPriceRule struct{}

func (r *LimitPriceRule) Check(order *model.Order, p *policy.Policy) error {
	if order.Type != model.OrderTypeLimit {
		return nil
	}
	band, ok := p.PriceBand(order.Market)
	if !ok {
		return nil
	}
	if order.LimitPrice.GreaterThan(band.Ceil) || order.LimitPrice.LessThan(band.Floor) {
		return fmt.Errorf("%w: price %s outside [%s, %s]", ErrValidation, order.LimitPrice, band.Floor, band.Ceil)
	}
	return nil
}
