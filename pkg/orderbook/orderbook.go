package orderbook

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/joripage/bess-exchange/pkg/model"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Ledger is what the book needs from the durable order store.
type Ledger interface {
	ApplyFill(ctx context.Context, fill model.Fill) (*model.FillResult, error)
	CancelRemainder(ctx context.Context, id string) (*model.Order, error)
	GetOrder(ctx context.Context, id string) (*model.Order, error)
}

var two = decimal.NewFromInt(2)

type bookSide struct {
	levels map[string]*deque.Deque[*Order]
	prices *PriceHeap
}

func newBookSide(less func(i, j decimal.Decimal) bool) *bookSide {
	return &bookSide{
		levels: make(map[string]*deque.Deque[*Order]),
		prices: NewPriceHeap(less),
	}
}

// add places the order in its level by CreatedAt, not arrival.
func (s *bookSide) add(order *Order) {
	key := priceKey(order.LimitPrice)
	q := s.levels[key]
	if q == nil {
		q = &deque.Deque[*Order]{}
		s.levels[key] = q
		heap.Push(s.prices, order.LimitPrice)
	}
	i := q.Len()
	for i > 0 && q.At(i-1).CreatedAt.After(order.CreatedAt) {
		i--
	}
	if i == q.Len() {
		q.PushBack(order)
		return
	}
	q.Insert(i, order)
}

// best returns the front order of the best level, dropping empty levels.
func (s *bookSide) best() (*Order, bool) {
	for {
		price, ok := s.prices.Peek()
		if !ok {
			return nil, false
		}
		key := priceKey(price)
		q := s.levels[key]
		if q == nil || q.Len() == 0 {
			heap.Pop(s.prices)
			delete(s.levels, key)
			continue
		}
		return q.Front(), true
	}
}

func (s *bookSide) popBest() {
	price, ok := s.prices.Peek()
	if !ok {
		return
	}
	if q := s.levels[priceKey(price)]; q != nil && q.Len() > 0 {
		q.PopFront()
	}
}

func (s *bookSide) depth(levels int) []model.PriceLevel {
	prices := append([]decimal.Decimal(nil), s.prices.prices...)
	h := &PriceHeap{prices: prices, less: s.prices.less, index: map[string]bool{}}
	heap.Init(h)

	var out []model.PriceLevel
	for h.Len() > 0 && (levels <= 0 || len(out) < levels) {
		price := heap.Pop(h).(decimal.Decimal)
		q := s.levels[priceKey(price)]
		if q == nil || q.Len() == 0 {
			continue
		}
		total := decimal.Zero
		for i := 0; i < q.Len(); i++ {
			total = total.Add(q.At(i).Remaining)
		}
		out = append(out, model.PriceLevel{Price: price, Quantity: total})
	}
	return out
}

type orderBook struct {
	market string

	bids *bookSide
	asks *bookSide

	ledger       Ledger
	storeTimeout time.Duration
	now          func() time.Time
	newID        func() string
	log          *zap.Logger

	mu sync.Mutex
}

func newOrderBook(market string, ledger Ledger, cfg *OrderBookManagerConfig, log *zap.Logger) *orderBook {
	return &orderBook{
		market:       market,
		bids:         newBookSide(func(i, j decimal.Decimal) bool { return i.GreaterThan(j) }), // Max-heap
		asks:         newBookSide(func(i, j decimal.Decimal) bool { return i.LessThan(j) }),    // Min-heap
		ledger:       ledger,
		storeTimeout: cfg.StoreTimeout,
		now:          cfg.Now,
		newID:        cfg.NewID,
		log:          log.With(zap.String("market", market)),
	}
}

func (ob *orderBook) side(s model.OrderSide) *bookSide {
	if s == model.OrderSideBuy {
		return ob.bids
	}
	return ob.asks
}

// restore puts an already matched resting order back without matching it.
func (ob *orderBook) restore(o *model.Order) {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	ob.side(o.Side).add(newBookOrder(o))
}

func (ob *orderBook) depth(levels int) (bids, asks []model.PriceLevel) {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	return ob.bids.depth(levels), ob.asks.depth(levels)
}

// compatible reports whether a resting limit can trade with the incoming order.
func compatible(in *model.Order, restingPrice decimal.Decimal) bool {
	if in.Type == model.OrderTypeMarket {
		return true
	}
	if in.Side == model.OrderSideBuy {
		return restingPrice.LessThanOrEqual(in.LimitPrice)
	}
	return restingPrice.GreaterThanOrEqual(in.LimitPrice)
}

// tradePrice is the mean of both limits. A MARKET order has no limit of its
// own and takes the resting one.
func tradePrice(in *model.Order, resting *Order) decimal.Decimal {
	if in.Type == model.OrderTypeMarket {
		return resting.LimitPrice
	}
	return in.LimitPrice.Add(resting.LimitPrice).Div(two)
}

// available sums compatible resting quantity as the ledger sees it, stopping
// once need is reached. Entries the ledger no longer holds as resting count
// for nothing.
func (ob *orderBook) available(ctx context.Context, in *model.Order, need decimal.Decimal) (decimal.Decimal, error) {
	counter := ob.side(in.Side.Opposite())
	total := decimal.Zero
	for _, q := range counter.levels {
		if q.Len() == 0 || !compatible(in, q.Front().LimitPrice) {
			continue
		}
		for i := 0; i < q.Len(); i++ {
			remaining, err := ob.confirmed(ctx, q.At(i))
			if err != nil {
				return decimal.Zero, err
			}
			total = total.Add(remaining)
			if total.GreaterThanOrEqual(need) {
				return total, nil
			}
		}
	}
	return total, nil
}

func (ob *orderBook) confirmed(ctx context.Context, o *Order) (decimal.Decimal, error) {
	sctx, cancel := ob.storeCtx(ctx)
	defer cancel()

	stored, err := ob.ledger.GetOrder(sctx, o.ID)
	if err != nil {
		return decimal.Zero, err
	}
	if !stored.IsResting() {
		return decimal.Zero, nil
	}
	return decimal.Min(stored.Remaining(), o.Remaining), nil
}

func (ob *orderBook) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ob.storeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, ob.storeTimeout)
}

// match runs one attempt for the incoming order. Fills go through the ledger
// first; the in-memory book only follows a confirmed fill.
func (ob *orderBook) match(ctx context.Context, incoming model.Order) *MatchResult {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	in := &incoming
	res := &MatchResult{Order: incoming}

	if !in.IsResting() {
		return res
	}

	if in.TimeInForce == model.OrderTimeInForceFOK {
		avail, err := ob.available(ctx, in, in.Remaining())
		if err != nil {
			ob.log.Error("fok liquidity check failed", zap.String("order_id", in.ID), zap.Error(err))
			res.Err = err
			ob.cancelRemainder(ctx, res, CancelReasonFOK)
			return res
		}
		if avail.LessThan(in.Remaining()) {
			ob.cancelRemainder(ctx, res, CancelReasonFOK)
			return res
		}
	}

	counter := ob.side(in.Side.Opposite())
	for in.Remaining().IsPositive() {
		cand, ok := counter.best()
		if !ok || !compatible(in, cand.LimitPrice) {
			break
		}

		qty := decimal.Min(in.Remaining(), cand.Remaining)
		trade := &model.Trade{
			ID:             ob.newID(),
			OrderID:        in.ID,
			CounterOrderID: cand.ID,
			Owner:          in.Owner,
			CounterOwner:   cand.Owner,
			Market:         ob.market,
			Side:           in.Side,
			Quantity:       qty,
			Price:          tradePrice(in, cand),
			CreatedAt:      ob.now(),
		}

		sctx, cancel := ob.storeCtx(ctx)
		fill, err := ob.ledger.ApplyFill(sctx, model.Fill{
			IncomingID: in.ID,
			RestingID:  cand.ID,
			Quantity:   qty,
			Trade:      trade,
		})
		cancel()
		if err != nil {
			if ob.dropStale(ctx, cand, err) {
				continue
			}
			ob.log.Error("apply fill failed",
				zap.String("order_id", in.ID),
				zap.String("counter_order_id", cand.ID),
				zap.Error(err))
			res.Err = err
			break
		}

		res.Fills = append(res.Fills, *fill)
		*in = fill.Incoming
		cand.Remaining = fill.Resting.Remaining()
		if !fill.Resting.IsResting() {
			counter.popBest()
		}
	}

	res.Order = *in
	if !in.IsResting() {
		return res
	}

	switch {
	case in.Type == model.OrderTypeMarket:
		ob.cancelRemainder(ctx, res, CancelReasonMarket)
	case in.TimeInForce == model.OrderTimeInForceIOC:
		ob.cancelRemainder(ctx, res, CancelReasonIOC)
	case in.TimeInForce == model.OrderTimeInForceFOK:
		// the ledger refused a fill after the check passed; fills already made stand
		ob.cancelRemainder(ctx, res, CancelReasonFOK)
	default:
		ob.side(in.Side).add(newBookOrder(in))
		res.Rested = true
	}
	return res
}

// dropStale removes the best resting order when the ledger says it can no
// longer trade. It returns false when the incoming order is the problem.
func (ob *orderBook) dropStale(ctx context.Context, cand *Order, fillErr error) bool {
	sctx, cancel := ob.storeCtx(ctx)
	defer cancel()

	stored, err := ob.ledger.GetOrder(sctx, cand.ID)
	if err != nil || stored.IsResting() {
		return false
	}
	ob.log.Warn("dropping stale resting order",
		zap.String("order_id", cand.ID),
		zap.String("status", string(stored.Status)),
		zap.NamedError("fill_error", fillErr))
	ob.side(cand.Side).popBest()
	return true
}

func (ob *orderBook) cancelRemainder(ctx context.Context, res *MatchResult, reason string) {
	sctx, cancel := ob.storeCtx(ctx)
	defer cancel()

	cancelled, err := ob.ledger.CancelRemainder(sctx, res.Order.ID)
	if err != nil {
		ob.log.Error("cancel remainder failed", zap.String("order_id", res.Order.ID), zap.Error(err))
		res.Err = err
		return
	}
	res.Order = *cancelled
	res.Cancelled = cancelled
	res.CancelReason = reason
}
