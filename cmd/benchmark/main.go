package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/joripage/bess-exchange/pkg/admission"
	"github.com/joripage/bess-exchange/pkg/exchange"
	"github.com/joripage/bess-exchange/pkg/ledger"
	"github.com/joripage/bess-exchange/pkg/model"
	"github.com/joripage/bess-exchange/pkg/policy"
	"github.com/joripage/bess-exchange/pkg/telemetry"
	"github.com/shopspring/decimal"
)

const (
	minPrice = 40.0
	maxPrice = 60.0
	minQty   = 1
	maxQty   = 20
)

var markets = []string{"DE-H10", "DE-H11", "DE-H12", "DE-H13"}

type emptyPolicy struct{}

// fillCounter counts fill reports; every trade produces two.
type fillCounter struct{ fills atomic.Int64 }

func (c *fillCounter) Start(context.Context) error { return nil }

func (c *fillCounter) OnOrderReport(_ context.Context, ev *model.OrderEvent) {
	if ev.Type == model.OrderEventFill {
		c.fills.Add(1)
	}
}

func (emptyPolicy) Current() *policy.Policy { return policy.Empty() }

func randomRequest(r *rand.Rand, owners int) exchange.SubmitRequest {
	side := "BUY"
	if r.Intn(2) == 0 {
		side = "SELL"
	}
	price := minPrice + r.Float64()*(maxPrice-minPrice)
	qty := r.Intn(maxQty-minQty+1) + minQty

	return exchange.SubmitRequest{
		Owner:         fmt.Sprintf("bess-%03d", r.Intn(owners)),
		Market:        markets[r.Intn(len(markets))],
		Side:          side,
		Type:          "LIMIT",
		TimeInForce:   "GFD",
		LimitPrice:    decimal.NewFromFloat(price).Round(2),
		Quantity:      decimal.NewFromInt(int64(qty)),
		DeliveryStart: "2026-03-01T12:00:00Z",
		DeliveryEnd:   "2026-03-01T13:00:00Z",
	}
}

func main() {
	numOrders := flag.Int("orders", 200_000, "orders to submit")
	owners := flag.Int("owners", 100, "distinct owners")
	flag.Parse()

	tel := telemetry.NewMemory(telemetry.Reading{SocPercent: 50, TemperatureC: 25})
	ctrl := admission.NewController(admission.Config{
		DefaultBudget: *numOrders,
		Thresholds:    telemetry.DefaultThresholds(),
	}, admission.NewMemoryCounter(nil), tel, emptyPolicy{}, nil)

	svc := exchange.NewService(exchange.Config{}, exchange.Deps{
		Ledger:    ledger.NewMemory(),
		Admission: ctrl,
		Telemetry: tel,
	}, nil)
	counter := &fillCounter{}
	svc.RegisterGateway(counter)
	ctx := context.Background()
	if err := svc.Start(ctx); err != nil {
		panic(err)
	}
	defer svc.Stop()

	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	rejected := 0
	start := time.Now()
	for i := 0; i < *numOrders; i++ {
		if _, err := svc.Submit(ctx, randomRequest(r, *owners)); err != nil {
			rejected++
		}
	}
	accepted := time.Since(start)
	if err := svc.Flush(ctx); err != nil {
		panic(err)
	}
	elapsed := time.Since(start)

	fmt.Println("--------")
	fmt.Printf("Total Orders      : %d\n", *numOrders)
	fmt.Printf("Rejected          : %d\n", rejected)
	fmt.Printf("Trades            : %d\n", counter.fills.Load()/2)
	fmt.Printf("Acceptance Time   : %s\n", accepted)
	fmt.Printf("Time Taken        : %s\n", elapsed)
	fmt.Printf("Orders/sec        : %.0f\n", float64(*numOrders)/elapsed.Seconds())
}
