package mempool

import "sync"

// Mempool is a FIFO of pending entries awaiting the batcher. Push appends
// at the tail and Drain pops from the head, so a push racing a drain is
// either included in that drain or left for the next one, never lost or
// duplicated.
type Mempool[T any] struct {
	mu      sync.Mutex
	pending []T
}

func NewMempool[T any]() *Mempool[T] {
	return &Mempool[T]{}
}

// Push enqueues v and returns the queue length after the append.
func (m *Mempool[T]) Push(v T) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, v)
	return len(m.pending)
}

// Drain removes and returns up to limit of the oldest entries.
// A non-positive limit drains everything.
func (m *Mempool[T]) Drain(limit int) []T {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.pending)
	if limit > 0 && limit < n {
		n = limit
	}
	if n == 0 {
		return nil
	}

	out := make([]T, n)
	copy(out, m.pending[:n])
	var zero T
	for i := 0; i < n; i++ {
		m.pending[i] = zero
	}
	m.pending = m.pending[n:]
	return out
}

// Len returns the number of pending entries.
func (m *Mempool[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
