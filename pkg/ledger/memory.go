package ledger

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/joripage/bess-exchange/pkg/model"
)

const maxBookSnapshots = 1000

// Memory keeps the ledger in process. One mutex covers orders and trades so
// every fill is applied atomically.
type Memory struct {
	mu     sync.RWMutex
	orders map[string]*model.Order
	seq    []string
	trades []*model.Trade
	books  []*model.BookSnapshot
	now    func() time.Time

	// resting orders per owner
	resting map[string]map[string]*model.Order
}

func NewMemory() *Memory {
	return &Memory{
		orders:  make(map[string]*model.Order),
		now:     time.Now,
		resting: make(map[string]map[string]*model.Order),
	}
}

// track keeps the per-owner resting index in step with o's status.
func (m *Memory) track(o *model.Order) {
	if o.IsResting() {
		set := m.resting[o.Owner]
		if set == nil {
			set = make(map[string]*model.Order)
			m.resting[o.Owner] = set
		}
		set[o.ID] = o
		return
	}
	if set := m.resting[o.Owner]; set != nil {
		delete(set, o.ID)
		if len(set) == 0 {
			delete(m.resting, o.Owner)
		}
	}
}

func (m *Memory) InsertOrder(_ context.Context, order *model.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orders[order.ID]; ok {
		return ErrDuplicateOrder
	}
	cp := *order
	m.orders[order.ID] = &cp
	m.seq = append(m.seq, order.ID)
	m.track(&cp)
	return nil
}

func (m *Memory) GetOrder(_ context.Context, id string) (*model.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *Memory) ListOrders(_ context.Context, filter OrderFilter) ([]*model.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := clampLimit(filter.Limit)
	out := make([]*model.Order, 0, min(limit, len(m.seq)))
	for i := len(m.seq) - 1; i >= 0 && len(out) < limit; i-- {
		o := m.orders[m.seq[i]]
		if filter.Owner != "" && o.Owner != filter.Owner {
			continue
		}
		if filter.Market != "" && o.Market != filter.Market {
			continue
		}
		cp := *o
		out = append(out, &cp)
	}
	return out, nil
}

func (m *Memory) ListTrades(_ context.Context, filter TradeFilter) ([]*model.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := clampLimit(filter.Limit)
	out := make([]*model.Trade, 0, min(limit, len(m.trades)))
	for i := len(m.trades) - 1; i >= 0 && len(out) < limit; i-- {
		t := m.trades[i]
		if filter.Market != "" && t.Market != filter.Market {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (m *Memory) RestingOrders(_ context.Context) ([]*model.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.Order
	for _, set := range m.resting {
		for _, o := range set {
			cp := *o
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *model.Order) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (m *Memory) ApplyFill(_ context.Context, fill model.Fill) (*model.FillResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	in, ok := m.orders[fill.IncomingID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	rest, ok := m.orders[fill.RestingID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	if !fill.Quantity.IsPositive() || !canFill(in, fill) || !canFill(rest, fill) {
		return nil, ErrOverfill
	}

	now := m.now()
	in.ApplyFill(fill.Quantity, now)
	rest.ApplyFill(fill.Quantity, now)
	m.track(in)
	m.track(rest)

	trade := *fill.Trade
	m.trades = append(m.trades, &trade)

	return &model.FillResult{Trade: trade, Incoming: *in, Resting: *rest}, nil
}

func canFill(o *model.Order, fill model.Fill) bool {
	return o.Status == model.OrderStatusAccepted && o.Filled.Add(fill.Quantity).LessThanOrEqual(o.Quantity)
}

func (m *Memory) CancelRemainder(_ context.Context, id string) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	if o.Status != model.OrderStatusAccepted {
		return nil, ErrNotCancellable
	}
	o.Status = model.OrderStatusCancelled
	o.UpdatedAt = m.now()
	m.track(o)
	cp := *o
	return &cp, nil
}

func (m *Memory) Exposure(_ context.Context, owner string) (model.Exposure, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	exp := model.Exposure{}
	for _, o := range m.resting[owner] {
		exp.Add(o)
	}
	return exp, nil
}

func (m *Memory) InsertBookSnapshot(_ context.Context, snapshot *model.BookSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.books = append(m.books, snapshot)
	if len(m.books) > maxBookSnapshots {
		m.books = m.books[len(m.books)-maxBookSnapshots:]
	}
	return nil
}
