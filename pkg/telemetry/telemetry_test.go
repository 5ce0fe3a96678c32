package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	th := DefaultThresholds()

	cases := []struct {
		name      string
		reading   Reading
		allowBuy  bool
		allowSell bool
		scale     float64
	}{
		{"low soc blocks buy", Reading{SocPercent: 10, TemperatureC: 25}, false, true, 1},
		{"soc 20 allows both", Reading{SocPercent: 20, TemperatureC: 25}, true, true, 1},
		{"high soc blocks sell", Reading{SocPercent: 95, TemperatureC: 25}, true, false, 1},
		{"soc 50 allows sell", Reading{SocPercent: 50, TemperatureC: 25}, true, true, 1},
		{"boundaries are inclusive", Reading{SocPercent: 15, TemperatureC: 40}, true, true, 1},
		{"hot halves scale", Reading{SocPercent: 50, TemperatureC: 41}, true, true, 0.5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := Evaluate(tc.reading, th)
			assert.Equal(t, tc.allowBuy, l.AllowBuy)
			assert.Equal(t, tc.allowSell, l.AllowSell)
			assert.Equal(t, tc.scale, l.Scale)
		})
	}
}

func TestMemoryLatestWins(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(Reading{SocPercent: 100, TemperatureC: 25})

	r, err := m.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100.0, r.SocPercent)

	require.NoError(t, m.Update(ctx, Reading{SocPercent: 42, ActivePowerMW: -3.5, TemperatureC: 30}))
	require.NoError(t, m.Update(ctx, Reading{SocPercent: 43, ActivePowerMW: 1, TemperatureC: 31}))
	r, _ = m.Latest(ctx)
	assert.Equal(t, 43.0, r.SocPercent)
	assert.Equal(t, 31.0, r.TemperatureC)

	assert.ErrorIs(t, m.Update(ctx, Reading{SocPercent: 120}), ErrInvalidReading)
}
