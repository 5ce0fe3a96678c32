package admission

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/joripage/bess-exchange/pkg/model"
	"github.com/joripage/bess-exchange/pkg/policy"
	"github.com/joripage/bess-exchange/pkg/telemetry"
	"go.uber.org/zap"
)

const (
	RejectValidation = "validation"
	RejectSafetyGate = "safety_gate"
	RejectThrottle   = "throttle"
)

type Config struct {
	DefaultBudget     int `yaml:"default_budget"`
	CounterTTLSeconds int `yaml:"counter_ttl_seconds"`

	telemetry.Thresholds `yaml:",inline"`
}

func DefaultConfig() Config {
	return Config{
		DefaultBudget:     120,
		CounterTTLSeconds: 70,
		Thresholds:        telemetry.DefaultThresholds(),
	}
}

type PolicySource interface {
	Current() *policy.Policy
}

// Decision is the outcome of a successful admission.
type Decision struct {
	Budget    int
	Remaining int
}

type Controller struct {
	cfg       Config
	counter   Counter
	telemetry telemetry.Store
	policy    PolicySource
	rules     []Rule
	now       func() time.Time
	onReject  func(market, reason string)
	log       *zap.Logger
}

type Option func(*Controller)

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func WithRules(rules ...Rule) Option {
	return func(c *Controller) { c.rules = rules }
}

// WithRejectHook is called once per rejected admission.
func WithRejectHook(fn func(market, reason string)) Option {
	return func(c *Controller) { c.onReject = fn }
}

func NewController(cfg Config, counter Counter, tel telemetry.Store, pol PolicySource, log *zap.Logger, opts ...Option) *Controller {
	if cfg.DefaultBudget <= 0 {
		cfg.DefaultBudget = 120
	}
	if cfg.CounterTTLSeconds <= 0 {
		cfg.CounterTTLSeconds = 70
	}
	if log == nil {
		log = zap.NewNop()
	}
	c := &Controller{
		cfg:       cfg,
		counter:   counter,
		telemetry: tel,
		policy:    pol,
		rules:     DefaultRules(),
		now:       time.Now,
		onReject:  func(string, string) {},
		log:       log.Named("admission"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Admit validates the order, applies the safety gate and then takes one unit
// of the owner's budget for the market. The gate runs before the throttle so
// unsafe orders never consume budget.
func (c *Controller) Admit(ctx context.Context, order *model.Order) (Decision, error) {
	pol := c.policy.Current()
	for _, rule := range c.rules {
		if err := rule.Check(order, pol); err != nil {
			c.onReject(order.Market, RejectValidation)
			return Decision{}, err
		}
	}

	reading, err := c.telemetry.Latest(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("read telemetry: %w", err)
	}
	limits := telemetry.Evaluate(reading, c.cfg.Thresholds)

	if err := c.gate(order.Side, reading, limits); err != nil {
		c.onReject(order.Market, RejectSafetyGate)
		return Decision{}, err
	}

	budget := c.budget(pol, order.Market, limits.Scale)
	count, err := c.counter.Incr(ctx, c.key(order.Owner, order.Market), c.ttl())
	if err != nil {
		return Decision{}, fmt.Errorf("increment throttle counter: %w", err)
	}
	if count > int64(budget) {
		c.onReject(order.Market, RejectThrottle)
		c.log.Debug("throttled",
			zap.String("owner", order.Owner),
			zap.String("market", order.Market),
			zap.Int("budget", budget),
			zap.Int64("count", count))
		return Decision{}, &ThrottleError{Market: order.Market, Budget: budget}
	}
	return Decision{Budget: budget, Remaining: budget - int(count)}, nil
}

func (c *Controller) gate(side model.OrderSide, r telemetry.Reading, l telemetry.Limits) error {
	if side == model.OrderSideBuy && !l.AllowBuy {
		return fmt.Errorf("%w: BUY needs soc >= %v%%, battery at %v%%", ErrSafetyGate, c.cfg.BuyMinSoc, r.SocPercent)
	}
	if side == model.OrderSideSell && !l.AllowSell {
		return fmt.Errorf("%w: SELL needs soc <= %v%%, battery at %v%%", ErrSafetyGate, c.cfg.SellMaxSoc, r.SocPercent)
	}
	return nil
}

// Remaining reports the owner's budget left in the current minute without
// consuming any.
func (c *Controller) Remaining(ctx context.Context, owner, market string) (int, error) {
	reading, err := c.telemetry.Latest(ctx)
	if err != nil {
		return 0, err
	}
	budget := c.budget(c.policy.Current(), market, telemetry.Evaluate(reading, c.cfg.Thresholds).Scale)
	count, err := c.counter.Get(ctx, c.key(owner, market))
	if err != nil {
		return 0, err
	}
	return max(0, budget-int(count)), nil
}

// Limits exposes the current eligibility derived from telemetry.
func (c *Controller) Limits(ctx context.Context) (telemetry.Reading, telemetry.Limits, error) {
	reading, err := c.telemetry.Latest(ctx)
	if err != nil {
		return telemetry.Reading{}, telemetry.Limits{}, err
	}
	return reading, telemetry.Evaluate(reading, c.cfg.Thresholds), nil
}

func (c *Controller) budget(pol *policy.Policy, market string, scale float64) int {
	base := pol.Budget(market, c.cfg.DefaultBudget)
	return max(1, int(math.Floor(float64(base)*scale)))
}

func (c *Controller) key(owner, market string) string {
	return fmt.Sprintf("rps:%s:%s:%s", owner, market, c.now().UTC().Format("200601021504"))
}

func (c *Controller) ttl() time.Duration {
	return time.Duration(c.cfg.CounterTTLSeconds) * time.Second
}
