package pricefeed

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/gammazero/deque"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const DefaultStreamCap = 10000

// Tick is one raw price observation.
type Tick struct {
	Price  decimal.Decimal
	Volume decimal.Decimal
	TS     int64 // ms
}

// TickStream keeps a bounded tail of ticks per market, oldest evicted first.
type TickStream interface {
	Append(ctx context.Context, market string, t Tick) error
	// Recent returns up to n ticks, newest first.
	Recent(ctx context.Context, market string, n int) ([]Tick, error)
}

// QuoteStore keeps the latest derived quote per market next to the ticks, so
// a restarted aggregator continues the EMA instead of reseeding it.
type QuoteStore interface {
	SaveQuote(ctx context.Context, q Quote) error
	// LoadQuote reports false when no quote was saved for market.
	LoadQuote(ctx context.Context, market string) (Quote, bool, error)
}

type MemoryStream struct {
	mu      sync.Mutex
	cap     int
	markets map[string]*deque.Deque[Tick]
	quotes  map[string]Quote
}

func NewMemoryStream(capacity int) *MemoryStream {
	if capacity <= 0 {
		capacity = DefaultStreamCap
	}
	return &MemoryStream{
		cap:     capacity,
		markets: make(map[string]*deque.Deque[Tick]),
		quotes:  make(map[string]Quote),
	}
}

func (s *MemoryStream) SaveQuote(_ context.Context, q Quote) error {
	s.mu.Lock()
	s.quotes[q.Market] = q
	s.mu.Unlock()
	return nil
}

func (s *MemoryStream) LoadQuote(_ context.Context, market string) (Quote, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quotes[market]
	return q, ok, nil
}

func (s *MemoryStream) Append(_ context.Context, market string, t Tick) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.markets[market]
	if !ok {
		q = &deque.Deque[Tick]{}
		s.markets[market] = q
	}
	for q.Len() >= s.cap {
		q.PopFront()
	}
	q.PushBack(t)
	return nil
}

func (s *MemoryStream) Recent(_ context.Context, market string, n int) ([]Tick, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.markets[market]
	if !ok {
		return nil, nil
	}
	n = min(n, q.Len())
	out := make([]Tick, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, q.At(q.Len()-1-i))
	}
	return out, nil
}

// Len is the number of ticks held for market.
func (s *MemoryStream) Len(market string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.markets[market]; ok {
		return q.Len()
	}
	return 0
}

// RedisStream stores ticks in a capped redis stream per market.
type RedisStream struct {
	client redis.UniversalClient
	cap    int64
}

func NewRedisStream(client redis.UniversalClient, capacity int) *RedisStream {
	if capacity <= 0 {
		capacity = DefaultStreamCap
	}
	return &RedisStream{client: client, cap: int64(capacity)}
}

func streamKey(market string) string {
	return "price:stream:" + market
}

func quoteKeys(market string) []string {
	return []string{
		"price:mark:" + market,
		"price:ema:" + market,
		"price:vwap:" + market,
		"price:ts:" + market,
	}
}

func (s *RedisStream) SaveQuote(ctx context.Context, q Quote) error {
	keys := quoteKeys(q.Market)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, keys[0], q.Mark.String(), 0)
		pipe.Set(ctx, keys[1], q.EMA.String(), 0)
		pipe.Set(ctx, keys[2], q.VWAP.String(), 0)
		pipe.Set(ctx, keys[3], q.TS, 0)
		return nil
	})
	return err
}

func (s *RedisStream) LoadQuote(ctx context.Context, market string) (Quote, bool, error) {
	vals, err := s.client.MGet(ctx, quoteKeys(market)...).Result()
	if err != nil {
		return Quote{}, false, err
	}
	if len(vals) != 4 || vals[0] == nil || vals[1] == nil {
		return Quote{}, false, nil
	}
	q := Quote{Market: market}
	fields := []*decimal.Decimal{&q.Mark, &q.EMA, &q.VWAP}
	for i, dst := range fields {
		str, _ := vals[i].(string)
		if str == "" {
			// vwap is optional; fall back to mark
			*dst = q.Mark
			continue
		}
		if *dst, err = decimal.NewFromString(str); err != nil {
			return Quote{}, false, fmt.Errorf("quote %s: %w", market, err)
		}
	}
	if ts, ok := vals[3].(string); ok {
		q.TS, _ = strconv.ParseInt(ts, 10, 64)
	}
	return q, true, nil
}

func (s *RedisStream) Append(ctx context.Context, market string, t Tick) error {
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(market),
		MaxLen: s.cap,
		Approx: true,
		Values: map[string]interface{}{
			"p":  t.Price.String(),
			"v":  t.Volume.String(),
			"ts": t.TS,
		},
	}).Err()
}

func (s *RedisStream) Recent(ctx context.Context, market string, n int) ([]Tick, error) {
	msgs, err := s.client.XRevRangeN(ctx, streamKey(market), "+", "-", int64(n)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Tick, 0, len(msgs))
	for _, m := range msgs {
		t, err := decodeTick(m.Values)
		if err != nil {
			return nil, fmt.Errorf("stream entry %s: %w", m.ID, err)
		}
		out = append(out, t)
	}
	return out, nil
}

func decodeTick(values map[string]interface{}) (Tick, error) {
	var t Tick
	p, _ := values["p"].(string)
	price, err := decimal.NewFromString(p)
	if err != nil {
		return t, err
	}
	t.Price = price
	t.Volume = decimal.NewFromInt(1)
	if v, ok := values["v"].(string); ok {
		if t.Volume, err = decimal.NewFromString(v); err != nil {
			return t, err
		}
	}
	if ts, ok := values["ts"].(string); ok {
		t.TS, _ = strconv.ParseInt(ts, 10, 64)
	}
	return t, nil
}
