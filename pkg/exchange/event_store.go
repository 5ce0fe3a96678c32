package exchange

import (
	"sync"
	"time"

	"github.com/joripage/bess-exchange/pkg/model"
)

// EventStore keeps the event chain of each order in memory.
type EventStore struct {
	mu     sync.RWMutex
	chains map[string][]*model.OrderEvent
}

func NewEventStore() *EventStore {
	return &EventStore{chains: make(map[string][]*model.OrderEvent)}
}

func (s *EventStore) AddEvent(ev *model.OrderEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chains[ev.Order.ID] = append(s.chains[ev.Order.ID], ev)
}

// Events returns a copy of the chain in the order the events happened.
func (s *EventStore) Events(orderID string) []*model.OrderEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*model.OrderEvent(nil), s.chains[orderID]...)
}

func (s *EventStore) DeleteChainByOrderID(orderID string) {
	s.mu.Lock()
	delete(s.chains, orderID)
	s.mu.Unlock()
}

func (s *EventStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chains)
}

// cleanup drops chains whose order ended before cutoff and returns how many.
func (s *EventStore) cleanup(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, chain := range s.chains {
		last := chain[len(chain)-1]
		if last.Order.IsEnd() && last.Timestamp.Before(cutoff) {
			delete(s.chains, id)
			n++
		}
	}
	return n
}
