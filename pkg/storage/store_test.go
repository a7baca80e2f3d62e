package storage

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/minexchange/pkg/app/core/orderbook"
)

func trade(symbol string, qty int64) orderbook.Trade {
	return orderbook.Trade{
		Symbol:      symbol,
		Price:       decimal.RequireFromString("150.25"),
		Qty:         qty,
		BuyOrderID:  "b",
		SellOrderID: "s",
	}
}

func exerciseStore(t *testing.T, s TradeStore) {
	base := time.Unix(1700000000, 0)
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, s.SaveTrade(NewTradeRecord(trade("AAPL", i), base.Add(time.Duration(i)*time.Second))))
	}
	require.NoError(t, s.SaveTrade(NewTradeRecord(trade("AAPLX", 99), base)))
	require.NoError(t, s.SaveTrade(NewTradeRecord(trade("AAPL:X", 9), base.Add(time.Hour))))

	recent, err := s.LoadRecentTrades("AAPL", 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, []int64{5, 4, 3}, []int64{recent[0].Quantity, recent[1].Quantity, recent[2].Quantity})
	assert.True(t, recent[0].Price.Equal(decimal.RequireFromString("150.25")))
	assert.Equal(t, base.Add(5*time.Second).UnixNano(), recent[0].Timestamp)

	all, err := s.LoadRecentTrades("AAPL", 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
	for _, rec := range all {
		assert.Equal(t, "AAPL", rec.Symbol)
	}

	colon, err := s.LoadRecentTrades("AAPL:X", 0)
	require.NoError(t, err)
	require.Len(t, colon, 1)
	assert.Equal(t, int64(9), colon[0].Quantity)

	none, err := s.LoadRecentTrades("TSLA", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPebbleStore(t *testing.T) {
	s, err := NewPebbleStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestPebbleStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := NewPebbleStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.SaveTrade(NewTradeRecord(trade("GOOG", 7), time.Now())))
	require.NoError(t, s.Close())

	s, err = NewPebbleStore(dir)
	require.NoError(t, err)
	defer s.Close()
	recent, err := s.LoadRecentTrades("GOOG", 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, int64(7), recent[0].Quantity)
}

func TestTradePrefix_SymbolsWithSeparator(t *testing.T) {
	key := tradeKey("AAPL:X", 1, 1)
	assert.False(t, bytes.HasPrefix(key, tradePrefix("AAPL")))
	assert.True(t, bytes.HasPrefix(key, tradePrefix("AAPL:X")))
	assert.True(t, bytes.HasPrefix(tradeKey("AAPL", 1, 1), tradePrefix("AAPL")))
}

func TestMemStore(t *testing.T) {
	exerciseStore(t, NewMemStore(100))
}

func TestMemStore_Capacity(t *testing.T) {
	s := NewMemStore(2)
	for i := int64(1); i <= 4; i++ {
		require.NoError(t, s.SaveTrade(NewTradeRecord(trade("AAPL", i), time.Now())))
	}
	recent, _ := s.LoadRecentTrades("AAPL", 10)
	require.Len(t, recent, 2)
	assert.Equal(t, int64(4), recent[0].Quantity)
	assert.Equal(t, int64(3), recent[1].Quantity)
}

func TestJournal_Record(t *testing.T) {
	s := NewMemStore(10)
	j := Journal{Store: s}
	at := time.Unix(1700000000, 42)
	require.NoError(t, j.Record(context.Background(), trade("TSLA", 3), at))

	recent, _ := s.LoadRecentTrades("TSLA", 1)
	require.Len(t, recent, 1)
	assert.Equal(t, at.UnixNano(), recent[0].Timestamp)
	assert.Equal(t, "b", recent[0].BuyOrderID)
	assert.Equal(t, "s", recent[0].SellOrderID)
}
