package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/minexchange/pkg/app/batch"
	"github.com/uhyunpark/minexchange/pkg/app/core/matching"
	"github.com/uhyunpark/minexchange/pkg/app/core/metrics"
	"github.com/uhyunpark/minexchange/pkg/app/core/orderbook"
	"github.com/uhyunpark/minexchange/pkg/storage"
)

type testExchange struct {
	srv      *Server
	http     *httptest.Server
	registry *Registry
	trades   *storage.MemStore
}

// newTestExchange wires a server whose batcher flushes on every order.
func newTestExchange(t *testing.T) *testExchange {
	t.Helper()

	promReg := prometheus.NewRegistry()
	tracker := metrics.NewTracker(promReg)
	registry := NewRegistry(nil, tracker.SetConnections)
	trades := storage.NewMemStore(0)

	engine := matching.NewEngine(matching.WithSymbols([]string{"AAPL", "GOOG"}, false))
	b := batch.New(engine, tracker, registry,
		batch.Config{Size: 1, Interval: time.Hour},
		batch.WithSinks(storage.Journal{Store: trades}))

	srv := NewServer(Deps{
		Batcher:  b,
		Tracker:  tracker,
		Registry: registry,
		Trades:   trades,
		Gatherer: promReg,
	})
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		registry.CloseAll()
		hs.Close()
	})

	return &testExchange{srv: srv, http: hs, registry: registry, trades: trades}
}

func (x *testExchange) dial(t *testing.T, clientID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(x.http.URL, "http") + "/ws"
	hdr := http.Header{}
	hdr.Set("Client-ID", clientID)
	conn, _, err := websocket.DefaultDialer.Dial(url, hdr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (x *testExchange) get(t *testing.T, path string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(x.http.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m), "frame must be one JSON object: %s", data)
	return m
}

func order(side, symbol string, price float64, qty int) map[string]any {
	return map[string]any{"type": side, "symbol": symbol, "price": price, "quantity": qty}
}

func TestServer_OrderRestsThenMatches(t *testing.T) {
	x := newTestExchange(t)
	buyer := x.dial(t, "buyer")
	seller := x.dial(t, "seller")
	require.Eventually(t, func() bool { return x.registry.Len() == 2 }, time.Second, 10*time.Millisecond)

	send(t, buyer, order("buy", "AAPL", 150, 100))

	reply := readFrame(t, buyer)
	assert.Equal(t, "open", reply["status"])
	assert.Equal(t, "Order added to the book", reply["message"])

	for _, c := range []*websocket.Conn{buyer, seller} {
		upd := readFrame(t, c)
		assert.Equal(t, "order_update", upd["type"])
		data := upd["data"].(map[string]any)
		assert.Equal(t, "open", data["status"])
		assert.EqualValues(t, 1, data["throughput"])
	}

	send(t, seller, order("sell", "AAPL", 150, 50))

	reply = readFrame(t, seller)
	assert.Equal(t, "matched", reply["status"])
	assert.Equal(t, "Trade executed", reply["message"])
	trade := reply["trade"].(map[string]any)
	assert.Equal(t, "AAPL", trade["symbol"])
	assert.EqualValues(t, 150, trade["price"])
	assert.EqualValues(t, 50, trade["quantity"])

	for _, c := range []*websocket.Conn{buyer, seller} {
		upd := readFrame(t, c)
		data := upd["data"].(map[string]any)
		assert.Equal(t, "matched", data["status"])
		assert.EqualValues(t, 2, data["throughput"])
	}

	// The buy remainder is still resting.
	code, body := x.get(t, "/api/v1/markets/AAPL/orderbook")
	require.Equal(t, http.StatusOK, code)
	var snap OrderbookSnapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	require.Len(t, snap.Bids, 1)
	assert.Equal(t, int64(50), snap.Bids[0].Quantity)
	assert.Equal(t, "buy", snap.Bids[0].Side)
	assert.Empty(t, snap.Asks)

	code, body = x.get(t, "/api/v1/markets/AAPL/trades?limit=5")
	require.Equal(t, http.StatusOK, code)
	var trades []TradeInfo
	require.NoError(t, json.Unmarshal(body, &trades))
	require.Len(t, trades, 1)
	assert.Equal(t, int64(50), trades[0].Quantity)
	assert.Equal(t, trade["buy_order_id"], trades[0].BuyOrderID)
}

func TestServer_RejectionsAreNotBroadcast(t *testing.T) {
	x := newTestExchange(t)
	trader := x.dial(t, "trader")
	watcher := x.dial(t, "watcher")
	require.Eventually(t, func() bool { return x.registry.Len() == 2 }, time.Second, 10*time.Millisecond)

	cases := []struct {
		name string
		msg  any
		want map[string]any
	}{
		{
			name: "missing symbol",
			msg:  map[string]any{"type": "buy", "price": 150, "quantity": 100},
			want: map[string]any{"error": "Missing key in order data: 'symbol'"},
		},
		{
			name: "missing quantity",
			msg:  map[string]any{"type": "buy", "symbol": "AAPL", "price": 150},
			want: map[string]any{"error": "Missing key in order data: 'quantity'"},
		},
		{
			name: "invalid side",
			msg:  order("hold", "AAPL", 150, 100),
			want: map[string]any{"status": "error", "message": "Invalid order type"},
		},
		{
			name: "non-positive quantity",
			msg:  order("buy", "AAPL", 150, 0),
			want: map[string]any{"error": "Error processing order: quantity must be positive, got 0"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			send(t, trader, tc.msg)
			assert.Equal(t, tc.want, readFrame(t, trader))
		})
	}

	// Only the next accepted order reaches the watcher.
	send(t, trader, order("sell", "GOOG", 99.5, 10))
	assert.Equal(t, "open", readFrame(t, trader)["status"])
	upd := readFrame(t, watcher)
	assert.Equal(t, "order_update", upd["type"])
	assert.Equal(t, "open", upd["data"].(map[string]any)["status"])
}

func TestServer_InvalidJSONKeepsConnection(t *testing.T) {
	x := newTestExchange(t)
	conn := x.dial(t, "sloppy")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, map[string]any{"error": "Invalid JSON format"}, readFrame(t, conn))

	// Wrong value types are answered straight from the read loop.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"buy","symbol":"AAPL","price":150,"quantity":"lots"}`)))
	reply := readFrame(t, conn)
	assert.Contains(t, reply["error"], "Error processing order: ")

	send(t, conn, order("buy", "AAPL", 150, 1))
	assert.Equal(t, "open", readFrame(t, conn)["status"])
}

func TestServer_SubscribeHasNoReply(t *testing.T) {
	x := newTestExchange(t)
	conn := x.dial(t, "sub")

	send(t, conn, map[string]any{"type": "subscribe", "channel": "trades"})
	send(t, conn, order("buy", "TSLA", 200, 3))

	// The first frame back answers the order, not the subscription.
	reply := readFrame(t, conn)
	assert.Equal(t, "open", reply["status"])
}

func TestServer_DisconnectUnregisters(t *testing.T) {
	x := newTestExchange(t)
	conn := x.dial(t, "leaver")
	require.Eventually(t, func() bool { return x.registry.Len() == 1 }, time.Second, 10*time.Millisecond)

	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()
	require.Eventually(t, func() bool { return x.registry.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestServer_ShutdownWaitsForConnections(t *testing.T) {
	x := newTestExchange(t)
	a := x.dial(t, "a")
	b := x.dial(t, "b")
	require.Eventually(t, func() bool { return x.registry.Len() == 2 }, time.Second, 10*time.Millisecond)

	send(t, a, order("buy", "AAPL", 150, 1))
	assert.Equal(t, "open", readFrame(t, a)["status"])

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, x.srv.Shutdown(ctx))

	// Every pump has exited, so every connection is already unregistered.
	assert.Zero(t, x.registry.Len())

	// Late connections are refused.
	url := "ws" + strings.TrimPrefix(x.http.URL, "http") + "/ws"
	if late, _, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		late.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, err = late.ReadMessage()
		assert.Error(t, err)
		late.Close()
	}
	assert.Zero(t, x.registry.Len())

	for _, c := range []*websocket.Conn{a, b} {
		c.SetReadDeadline(time.Now().Add(2 * time.Second))
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				break
			}
		}
	}
}

func TestServer_RESTEndpoints(t *testing.T) {
	x := newTestExchange(t)

	code, body := x.get(t, "/health")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `"status":"ok"`)

	code, body = x.get(t, "/api/v1/markets")
	require.Equal(t, http.StatusOK, code)
	var markets []MarketInfo
	require.NoError(t, json.Unmarshal(body, &markets))
	assert.Equal(t, []MarketInfo{{Symbol: "AAPL"}, {Symbol: "GOOG"}}, markets)

	code, _ = x.get(t, "/api/v1/markets/MSFT/orderbook")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = x.get(t, "/api/v1/markets/AAPL/trades?limit=-1")
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = x.get(t, "/api/v1/stats")
	require.Equal(t, http.StatusOK, code)
	var stats metrics.Snapshot
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.Zero(t, stats.OrderThroughput)

	code, body = x.get(t, "/metrics")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "exchange_connections")
}

func TestServer_TradesNewestFirst(t *testing.T) {
	x := newTestExchange(t)
	for i := 1; i <= 3; i++ {
		require.NoError(t, x.trades.SaveTrade(storage.TradeRecord{
			Symbol:      "AAPL",
			Price:       decimal.NewFromInt(int64(100 + i)),
			Quantity:    int64(i),
			BuyOrderID:  fmt.Sprintf("b%d", i),
			SellOrderID: fmt.Sprintf("s%d", i),
			Timestamp:   time.Unix(int64(i), 0).UnixNano(),
		}))
	}

	code, body := x.get(t, "/api/v1/markets/AAPL/trades?limit=2")
	require.Equal(t, http.StatusOK, code)
	var trades []TradeInfo
	require.NoError(t, json.Unmarshal(body, &trades))
	require.Len(t, trades, 2)
	assert.Equal(t, "b3", trades[0].BuyOrderID)
	assert.Equal(t, int64(3000), trades[0].Timestamp)
	assert.Equal(t, "b2", trades[1].BuyOrderID)
}

func TestToResting(t *testing.T) {
	got := toResting([]orderbook.Order{{ID: "x", Side: orderbook.Sell, Price: decimal.RequireFromString("10.25"), Qty: 4}})
	assert.Equal(t, []RestingOrder{{ID: "x", Side: "sell", Price: 10.25, Quantity: 4}}, got)
}
