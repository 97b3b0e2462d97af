// Package counter holds the shared counter resource.
package counter

import (
	"context"
	"math"
	"sync"
)

// Store is a single signed integer with linearizable increment, decrement and
// read. Mutations saturate at the int64 bounds instead of wrapping.
type Store interface {
	Increment(ctx context.Context) (int64, error)
	Decrement(ctx context.Context) (int64, error)
	Read(ctx context.Context) (int64, error)
}

// Memory is the in-process Store. The zero value is a counter at 0.
type Memory struct {
	mu    sync.Mutex
	value int64
}

var _ Store = (*Memory)(nil)

// NewMemory returns a counter starting at initial.
func NewMemory(initial int64) *Memory {
	return &Memory{value: initial}
}

func (m *Memory) Increment(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.value < math.MaxInt64 {
		m.value++
	}
	return m.value, nil
}

func (m *Memory) Decrement(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.value > math.MinInt64 {
		m.value--
	}
	return m.value, nil
}

func (m *Memory) Read(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value, nil
}
