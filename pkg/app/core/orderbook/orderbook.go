package orderbook

import "github.com/shopspring/decimal"

// OrderBook holds the resting orders of one symbol. Each side is kept in
// arrival order; there is no price sorting and no level aggregation.
//
// OrderBook is not safe for concurrent use. The matching engine owns it and
// every access happens under the batch lock.
type OrderBook struct {
	Symbol string

	bids []*Order
	asks []*Order
}

func NewOrderBook(symbol string) *OrderBook {
	return &OrderBook{Symbol: symbol}
}

func (ob *OrderBook) side(s Side) *[]*Order {
	if s == Buy {
		return &ob.bids
	}
	return &ob.asks
}

// Append places o at the tail of its side. Orders with no remaining
// quantity are ignored.
func (ob *OrderBook) Append(o *Order) {
	if o.Qty <= 0 {
		return
	}
	q := ob.side(o.Side)
	*q = append(*q, o)
}

// FirstAt returns the first order on side s, in current sequence order,
// whose price equals price. Returns nil if none rests at that price.
func (ob *OrderBook) FirstAt(s Side, price decimal.Decimal) *Order {
	for _, o := range *ob.side(s) {
		if o.Price.Equal(price) {
			return o
		}
	}
	return nil
}

// Remove deletes the order with the given id from side s.
func (ob *OrderBook) Remove(s Side, id string) bool {
	q := ob.side(s)
	for i, o := range *q {
		if o.ID == id {
			*q = append((*q)[:i], (*q)[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of resting orders on side s.
func (ob *OrderBook) Len(s Side) int {
	return len(*ob.side(s))
}

// Orders returns copies of the resting orders on side s in sequence order.
func (ob *OrderBook) Orders(s Side) []Order {
	q := *ob.side(s)
	out := make([]Order, len(q))
	for i, o := range q {
		out[i] = *o
	}
	return out
}
