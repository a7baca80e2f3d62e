package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
)

type PebbleStore struct {
	db  *pebble.DB
	seq atomic.Uint64
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open trade journal %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// SaveTrade appends rec without fsync; a crash may lose the newest fills.
func (s *PebbleStore) SaveTrade(rec TradeRecord) error {
	rec.Seq = s.seq.Add(1)
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal trade: %w", err)
	}

	key := tradeKey(rec.Symbol, rec.Timestamp, rec.Seq)
	if err := s.db.Set(key, data, pebble.NoSync); err != nil {
		return fmt.Errorf("failed to save trade: %w", err)
	}
	return nil
}

func (s *PebbleStore) LoadRecentTrades(symbol string, limit int) ([]TradeRecord, error) {
	prefix := tradePrefix(symbol)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open trade iterator: %w", err)
	}

	var trades []TradeRecord
	for iter.Last(); iter.Valid() && (limit <= 0 || len(trades) < limit); iter.Prev() {
		var rec TradeRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue // Skip invalid entries
		}
		trades = append(trades, rec)
	}
	return trades, errors.Join(iter.Error(), iter.Close())
}

var _ TradeStore = (*PebbleStore)(nil)
