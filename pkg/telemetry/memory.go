package telemetry

import (
	"context"
	"sync/atomic"
)

type Memory struct {
	latest   atomic.Pointer[Reading]
	defaults Reading
}

// NewMemory returns a store that reports defaults until the first update.
func NewMemory(defaults Reading) *Memory {
	return &Memory{defaults: defaults}
}

func (m *Memory) Update(_ context.Context, r Reading) error {
	if err := r.Validate(); err != nil {
		return err
	}
	m.latest.Store(&r)
	return nil
}

func (m *Memory) Latest(_ context.Context) (Reading, error) {
	if r := m.latest.Load(); r != nil {
		return *r, nil
	}
	return m.defaults, nil
}
