package client

import (
	"math"
	"math/rand"
	"time"
)

// Order is the wire form of an order request.
type Order struct {
	Type     string  `json:"type"`
	Symbol   string  `json:"symbol"`
	Price    float64 `json:"price"`
	Quantity int64   `json:"quantity"`
}

// OrderGenerator creates random orders for load testing
type OrderGenerator struct {
	symbols  []string
	minPrice float64
	maxPrice float64
	maxQty   int
	rng      *rand.Rand
}

// NewOrderGenerator creates a generator over symbols. A zero seed uses the
// current time.
func NewOrderGenerator(symbols []string, seed int64) *OrderGenerator {
	if len(symbols) == 0 {
		symbols = []string{"AAPL", "GOOGL", "MSFT", "AMZN"}
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &OrderGenerator{
		symbols:  symbols,
		minPrice: 100,
		maxPrice: 1000,
		maxQty:   100,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// Next returns a random buy or sell: price uniform in [100, 1000] rounded
// to cents, quantity 1 to 100.
func (g *OrderGenerator) Next() Order {
	side := "buy"
	if g.rng.Intn(2) == 1 {
		side = "sell"
	}
	price := g.minPrice + g.rng.Float64()*(g.maxPrice-g.minPrice)

	return Order{
		Type:     side,
		Symbol:   g.symbols[g.rng.Intn(len(g.symbols))],
		Price:    math.Round(price*100) / 100,
		Quantity: int64(g.rng.Intn(g.maxQty) + 1),
	}
}

// Pause returns a random wait in [lo, hi).
func (g *OrderGenerator) Pause(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(g.rng.Int63n(int64(hi-lo)))
}
