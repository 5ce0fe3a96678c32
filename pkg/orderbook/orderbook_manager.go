package orderbook

import (
	"context"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/google/uuid"
	"github.com/joripage/bess-exchange/pkg/model"
	"go.uber.org/zap"
)

type OrderBookManagerConfig struct {
	// StoreTimeout bounds every ledger call made while matching.
	StoreTimeout time.Duration
	Now          func() time.Time
	NewID        func() string
}

// OrderBookManager owns one book and one match worker per market. Attempts
// for a market run one at a time in submission order; markets run in parallel.
type OrderBookManager struct {
	books     sync.Map
	ledger    Ledger
	callbacks []func(*MatchResult)
	cfg       *OrderBookManagerConfig
	log       *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

type matchTask struct {
	order model.Order
	done  chan struct{}
}

type marketWorker struct {
	book   *orderBook
	mu     sync.Mutex
	queue  deque.Deque[*matchTask]
	signal chan struct{}
}

func NewOrderBookManager(ledger Ledger, cfg *OrderBookManagerConfig, log *zap.Logger) *OrderBookManager {
	if cfg == nil {
		cfg = &OrderBookManagerConfig{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &OrderBookManager{
		ledger: ledger,
		cfg:    cfg,
		log:    log.Named("orderbook"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// RegisterMatchCallback must be called before the first TryMatch.
func (s *OrderBookManager) RegisterMatchCallback(cb func(*MatchResult)) {
	s.callbacks = append(s.callbacks, cb)
}

// Restore loads resting orders into their books without matching them.
func (s *OrderBookManager) Restore(orders []*model.Order) {
	for _, o := range orders {
		if o.IsResting() {
			s.getOrCreateWorker(o.Market).book.restore(o)
		}
	}
}

// TryMatch queues a match attempt for an accepted order and returns at once.
func (s *OrderBookManager) TryMatch(order model.Order) error {
	return s.enqueue(order.Market, &matchTask{order: order})
}

// Flush waits until every attempt queued before the call has run.
func (s *OrderBookManager) Flush(ctx context.Context) error {
	var dones []chan struct{}
	var err error
	s.books.Range(func(k, _ any) bool {
		done := make(chan struct{})
		if err = s.enqueue(k.(string), &matchTask{done: done}); err != nil {
			return false
		}
		dones = append(dones, done)
		return true
	})
	if err != nil {
		return err
	}
	for _, done := range dones {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Depth aggregates resting quantity per price level, best first.
func (s *OrderBookManager) Depth(market string, levels int) (bids, asks []model.PriceLevel) {
	val, ok := s.books.Load(market)
	if !ok {
		return nil, nil
	}
	return val.(*marketWorker).book.depth(levels)
}

// Stop drains queued attempts and waits for every worker to exit.
func (s *OrderBookManager) Stop() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

func (s *OrderBookManager) enqueue(market string, task *matchTask) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errBookStopped
	}

	w := s.getOrCreateWorker(market)
	w.mu.Lock()
	w.queue.PushBack(task)
	w.mu.Unlock()

	select {
	case w.signal <- struct{}{}:
	default:
	}
	return nil
}

func (s *OrderBookManager) getOrCreateWorker(market string) *marketWorker {
	if val, ok := s.books.Load(market); ok {
		return val.(*marketWorker)
	}

	w := &marketWorker{
		book:   newOrderBook(market, s.ledger, s.cfg, s.log),
		signal: make(chan struct{}, 1),
	}
	actual, loaded := s.books.LoadOrStore(market, w)
	if !loaded {
		s.wg.Add(1)
		go s.run(w)
	}
	return actual.(*marketWorker)
}

func (s *OrderBookManager) run(w *marketWorker) {
	defer s.wg.Done()
	for {
		select {
		case <-w.signal:
			s.drain(w)
		case <-s.ctx.Done():
			s.drain(w)
			return
		}
	}
}

func (s *OrderBookManager) drain(w *marketWorker) {
	for {
		w.mu.Lock()
		if w.queue.Len() == 0 {
			w.mu.Unlock()
			return
		}
		task := w.queue.PopFront()
		w.mu.Unlock()

		if task.done != nil {
			close(task.done)
			continue
		}

		// attempts queued before shutdown still run to completion
		start := time.Now()
		res := w.book.match(context.Background(), task.order)
		res.Duration = time.Since(start)
		for _, cb := range s.callbacks {
			cb(res)
		}
	}
}
