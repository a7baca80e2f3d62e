package storage

import "sync"

// MemStore keeps the last capacity trades per symbol in memory. It backs
// the trades endpoint when no journal directory is configured.
type MemStore struct {
	mu       sync.Mutex
	capacity int
	seq      uint64
	trades   map[string][]TradeRecord
}

func NewMemStore(capacity int) *MemStore {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemStore{
		capacity: capacity,
		trades:   make(map[string][]TradeRecord),
	}
}

func (s *MemStore) SaveTrade(rec TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	rec.Seq = s.seq
	tape := append(s.trades[rec.Symbol], rec)
	if len(tape) > s.capacity {
		tape = tape[len(tape)-s.capacity:]
	}
	s.trades[rec.Symbol] = tape
	return nil
}

func (s *MemStore) LoadRecentTrades(symbol string, limit int) ([]TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tape := s.trades[symbol]
	var out []TradeRecord
	for i := len(tape) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, tape[i])
	}
	return out, nil
}

func (s *MemStore) Close() error { return nil }

var _ TradeStore = (*MemStore)(nil)
