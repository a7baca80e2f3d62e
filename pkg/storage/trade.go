// Package storage keeps a journal of executed trades. Resting orders are
// never persisted; only the tape of fills is.
package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/minexchange/pkg/app/core/orderbook"
)

// TradeRecord is one journaled fill.
type TradeRecord struct {
	Seq         uint64          `json:"seq"`
	Symbol      string          `json:"symbol"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int64           `json:"quantity"`
	BuyOrderID  string          `json:"buy_order_id"`
	SellOrderID string          `json:"sell_order_id"`
	Timestamp   int64           `json:"timestamp"` // unix nanos
}

func NewTradeRecord(t orderbook.Trade, at time.Time) TradeRecord {
	return TradeRecord{
		Symbol:      t.Symbol,
		Price:       t.Price,
		Quantity:    t.Qty,
		BuyOrderID:  t.BuyOrderID,
		SellOrderID: t.SellOrderID,
		Timestamp:   at.UnixNano(),
	}
}

// TradeStore persists trades and serves the most recent ones per symbol.
type TradeStore interface {
	SaveTrade(rec TradeRecord) error
	// LoadRecentTrades returns up to limit trades for symbol, newest first.
	LoadRecentTrades(symbol string, limit int) ([]TradeRecord, error)
	Close() error
}

// Journal adapts a TradeStore to the batcher's trade sink.
type Journal struct {
	Store TradeStore
}

func (j Journal) Record(_ context.Context, t orderbook.Trade, at time.Time) error {
	return j.Store.SaveTrade(NewTradeRecord(t, at))
}
