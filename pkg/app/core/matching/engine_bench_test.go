package matching

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/minexchange/pkg/app/core/orderbook"
)

func benchRequest(side, symbol string, price, qty int64) OrderRequest {
	p := decimal.NewFromInt(price)
	return OrderRequest{Type: &side, Symbol: &symbol, Price: &p, Quantity: &qty}
}

// BenchmarkProcessOrderMatch measures an order that trades against a book
// with 100 resting orders per side at distinct prices.
func BenchmarkProcessOrderMatch(b *testing.B) {
	e := NewEngine(WithSymbols([]string{"AAPL"}, false))
	for i := int64(0); i < 100; i++ {
		e.ProcessOrder(benchRequest("buy", "AAPL", 1000-i, 100))
		e.ProcessOrder(benchRequest("sell", "AAPL", 1100+i, 100))
	}
	// A deep level every incoming order can hit.
	e.ProcessOrder(benchRequest("sell", "AAPL", 1050, int64(b.N)*10+1))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e.ProcessOrder(benchRequest("buy", "AAPL", 1050, 10))
	}
}

// BenchmarkProcessOrderRest measures orders that never cross.
func BenchmarkProcessOrderRest(b *testing.B) {
	e := NewEngine()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e.ProcessOrder(benchRequest("buy", "AAPL", int64(1+i%1000), 10))
	}
}

// BenchmarkOrderBookRemove measures removal by id from a 1000-order side.
func BenchmarkOrderBookRemove(b *testing.B) {
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		ob := orderbook.NewOrderBook("AAPL")
		for j := 0; j < 1000; j++ {
			ob.Append(&orderbook.Order{
				ID:    fmt.Sprintf("order-%d", j),
				Side:  orderbook.Buy,
				Price: decimal.NewFromInt(int64(1000 + j)),
				Qty:   100,
			})
		}
		b.StartTimer()
		ob.Remove(orderbook.Buy, fmt.Sprintf("order-%d", i%1000))
	}
}
