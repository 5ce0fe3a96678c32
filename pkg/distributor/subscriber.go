package distributor

import (
	"sync/atomic"
)

type SubscriberState int32

const (
	StateConnected SubscriberState = iota
	StateDisconnected
)

func (s SubscriberState) String() string {
	if s == StateConnected {
		return "CONNECTED"
	}
	return "DISCONNECTED"
}

// Subscriber is one consumer of a channel. It starts CONNECTED and moves to
// DISCONNECTED exactly once.
type Subscriber struct {
	ID      string
	Channel string
	Kind    string

	state atomic.Int32
	send  chan []byte
	done  chan struct{}
}

func newSubscriber(id, channel, kind string, buffer int) *Subscriber {
	return &Subscriber{
		ID:      id,
		Channel: channel,
		Kind:    kind,
		send:    make(chan []byte, buffer),
		done:    make(chan struct{}),
	}
}

func (s *Subscriber) State() SubscriberState {
	return SubscriberState(s.state.Load())
}

// Messages yields envelopes in broadcast order.
func (s *Subscriber) Messages() <-chan []byte { return s.send }

// Done is closed on disconnect.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

func (s *Subscriber) deliver(msg []byte) error {
	if s.State() != StateConnected {
		return ErrDisconnected
	}
	select {
	case s.send <- msg:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// disconnect reports whether this call made the transition.
func (s *Subscriber) disconnect() bool {
	if !s.state.CompareAndSwap(int32(StateConnected), int32(StateDisconnected)) {
		return false
	}
	close(s.done)
	return true
}
