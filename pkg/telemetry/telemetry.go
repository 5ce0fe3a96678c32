package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrInvalidReading = errors.New("invalid telemetry reading")

// Reading is the latest battery state.
type Reading struct {
	SocPercent    float64   `json:"soc_percent" yaml:"soc_percent"`
	ActivePowerMW float64   `json:"active_power_mw" yaml:"active_power_mw"`
	TemperatureC  float64   `json:"temperature_c" yaml:"temperature_c"`
	UpdatedAt     time.Time `json:"updated_at" yaml:"-"`
}

func (r Reading) Validate() error {
	if r.SocPercent < 0 || r.SocPercent > 100 {
		return fmt.Errorf("%w: soc_percent %v out of [0, 100]", ErrInvalidReading, r.SocPercent)
	}
	return nil
}

// Thresholds decide buy/sell eligibility and the throttle scale.
type Thresholds struct {
	BuyMinSoc       float64 `yaml:"buy_min_soc"`
	SellMaxSoc      float64 `yaml:"sell_max_soc"`
	HotTemperatureC float64 `yaml:"hot_temperature_c"`
	HotScale        float64 `yaml:"hot_scale"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		BuyMinSoc:       15,
		SellMaxSoc:      90,
		HotTemperatureC: 40,
		HotScale:        0.5,
	}
}

// Limits is what admission derives from a reading.
type Limits struct {
	AllowBuy  bool    `json:"allow_buy"`
	AllowSell bool    `json:"allow_sell"`
	Scale     float64 `json:"scale"`
}

func Evaluate(r Reading, th Thresholds) Limits {
	scale := 1.0
	if r.TemperatureC > th.HotTemperatureC {
		scale = th.HotScale
	}
	return Limits{
		AllowBuy:  r.SocPercent >= th.BuyMinSoc,
		AllowSell: r.SocPercent <= th.SellMaxSoc,
		Scale:     scale,
	}
}

// Store keeps the single latest reading; updates are latest-wins.
type Store interface {
	Update(ctx context.Context, r Reading) error
	Latest(ctx context.Context) (Reading, error)
}
