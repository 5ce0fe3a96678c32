package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

var ErrInvalidPolicy = errors.New("invalid policy")

// PriceBand bounds the limit price accepted for a market.
type PriceBand struct {
	Floor decimal.Decimal `yaml:"floor" json:"floor"`
	Ceil  decimal.Decimal `yaml:"ceil" json:"ceil"`
}

// Policy is one version of the admission policy document.
type Policy struct {
	Version      string                     `yaml:"version" json:"version"`
	PerMarketRPS map[string]int             `yaml:"per_market_rps" json:"perMarketRps"`
	PriceBands   map[string]PriceBand       `yaml:"price_bands" json:"priceBands,omitempty"`
	TickSizes    map[string]decimal.Decimal `yaml:"tick_sizes" json:"tickSizes,omitempty"`
}

// Empty is the policy used when no document exists.
func Empty() *Policy {
	return &Policy{Version: "empty", PerMarketRPS: map[string]int{}}
}

// Budget returns the per-minute budget for market, or def when unset.
func (p *Policy) Budget(market string, def int) int {
	if p == nil {
		return def
	}
	if b, ok := p.PerMarketRPS[market]; ok && b > 0 {
		return b
	}
	return def
}

func (p *Policy) PriceBand(market string) (PriceBand, bool) {
	if p == nil {
		return PriceBand{}, false
	}
	b, ok := p.PriceBands[market]
	return b, ok
}

func (p *Policy) TickSize(market string) (decimal.Decimal, bool) {
	if p == nil {
		return decimal.Zero, false
	}
	t, ok := p.TickSizes[market]
	return t, ok && t.IsPositive()
}

// Parse decodes a policy document. A document without a version gets one
// derived from its content.
func Parse(data []byte) (*Policy, error) {
	p := &Policy{}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	if p.PerMarketRPS == nil {
		p.PerMarketRPS = map[string]int{}
	}
	for market, b := range p.PerMarketRPS {
		if b < 0 {
			return nil, fmt.Errorf("%w: negative budget for %s", ErrInvalidPolicy, market)
		}
	}
	for market, band := range p.PriceBands {
		if band.Ceil.LessThan(band.Floor) {
			return nil, fmt.Errorf("%w: price band ceil below floor for %s", ErrInvalidPolicy, market)
		}
	}
	if p.Version == "" {
		sum := sha256.Sum256(data)
		p.Version = "sha256:" + hex.EncodeToString(sum[:6])
	}
	return p, nil
}
