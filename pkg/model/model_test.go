package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestOrderApplyFill(t *testing.T) {
	o := &Order{Quantity: d("10"), Filled: d("0"), Status: OrderStatusAccepted}
	o.ApplyFill(d("4"), time.Now())
	assert.True(t, o.IsResting())
	assert.Equal(t, "6", o.Remaining().String())

	o.ApplyFill(d("6"), time.Now())
	assert.Equal(t, OrderStatusFilled, o.Status)
	assert.False(t, o.IsResting())
	assert.True(t, o.IsEnd())
}

func TestPriceLevelJSON(t *testing.T) {
	var lvl PriceLevel
	require.NoError(t, json.Unmarshal([]byte(`[101.5, 3]`), &lvl))
	assert.True(t, lvl.Price.Equal(d("101.5")))
	assert.True(t, lvl.Quantity.Equal(d("3")))

	require.Error(t, json.Unmarshal([]byte(`[1]`), &lvl))
}

func TestBookSnapshotSortAndTop(t *testing.T) {
	b := &BookSnapshot{
		Market: "DE-H12",
		Bids:   []PriceLevel{{d("10"), d("1")}, {d("12"), d("1")}, {d("11"), d("1")}},
		Asks:   []PriceLevel{{d("15"), d("1")}, {d("13"), d("1")}},
	}
	b.Sort()
	assert.Equal(t, "12", b.Bids[0].Price.String())
	assert.Equal(t, "10", b.Bids[2].Price.String())
	assert.Equal(t, "13", b.Asks[0].Price.String())

	top := b.Top(1)
	assert.Len(t, top.Bids, 1)
	assert.Len(t, top.Asks, 1)
	assert.Len(t, b.Bids, 3)
}

func TestExposureAdd(t *testing.T) {
	e := Exposure{}
	e.Add(&Order{Market: "M", Side: OrderSideBuy, Quantity: d("10"), Filled: d("4"), LimitPrice: d("50")})
	e.Add(&Order{Market: "M", Side: OrderSideSell, Quantity: d("2"), Filled: d("0"), LimitPrice: d("-5")})

	assert.Equal(t, "4", e["M"].Energy.String())
	assert.Equal(t, "310", e["M"].Notional.String())
}
