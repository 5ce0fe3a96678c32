package distributor

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/joripage/bess-exchange/pkg/metrics"
	"go.uber.org/zap"
)

const DefaultSendBuffer = 256

// Hub is the channel -> subscribers registry.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[*Subscriber]struct{}

	buffer  int
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewHub(buffer int, m *metrics.Metrics, log *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		channels: make(map[string]map[*Subscriber]struct{}),
		buffer:   buffer,
		metrics:  m,
		log:      log.Named("hub"),
	}
}

func (h *Hub) Subscribe(channel, kind string) *Subscriber {
	sub := newSubscriber(uuid.NewString(), channel, kind, h.buffer)

	h.mu.Lock()
	set, ok := h.channels[channel]
	if !ok {
		set = make(map[*Subscriber]struct{})
		h.channels[channel] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	h.metrics.SubscriberAdded(kind)
	h.log.Debug("subscribed", zap.String("channel", channel), zap.String("subscriber", sub.ID))
	return sub
}

// Unsubscribe removes sub. It is safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.remove(sub, false)
}

func (h *Hub) remove(sub *Subscriber, dropped bool) {
	h.mu.Lock()
	if set, ok := h.channels[sub.Channel]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.channels, sub.Channel)
		}
	}
	h.mu.Unlock()

	if sub.disconnect() {
		h.metrics.SubscriberRemoved(sub.Kind, dropped)
	}
}

// Broadcast sends msg to every subscriber of channel and returns how many
// received it. Subscribers that cannot take the message are removed.
func (h *Hub) Broadcast(channel string, msg []byte) int {
	h.mu.RLock()
	set := h.channels[channel]
	subs := make([]*Subscriber, 0, len(set))
	for s := range set {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, s := range subs {
		err := s.deliver(msg)
		if err == nil {
			delivered++
			continue
		}
		if !errors.Is(err, ErrDisconnected) {
			h.log.Warn("dropping subscriber",
				zap.String("channel", channel),
				zap.String("subscriber", s.ID),
				zap.Error(err))
		}
		h.remove(s, true)
	}
	return delivered
}

func (h *Hub) Count(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}
