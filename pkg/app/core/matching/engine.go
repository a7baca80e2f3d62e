// Package matching implements the price-equality matching engine.
//
// The engine keeps one OrderBook per symbol. An incoming order is matched
// against the first resting order on the opposite side with exactly the same
// price, regardless of how good that price is relative to other resting
// orders. At most one trade happens per incoming order; any remainder on
// either side goes back to the tail of its own book.
package matching

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/minexchange/pkg/app/core/orderbook"
)

// OrderRequest holds the raw order fields as decoded from the wire. Nil
// pointers are fields the client did not send.
type OrderRequest struct {
	Type     *string          `json:"type"`
	Symbol   *string          `json:"symbol"`
	Price    *decimal.Decimal `json:"price"`
	Quantity *int64           `json:"quantity"`
}

// Engine owns every order book. It is not safe for concurrent use.
type Engine struct {
	books   map[string]*orderbook.OrderBook
	symbols map[string]struct{}
	strict  bool
	newID   func() string
}

type Option func(*Engine)

// WithSymbols pre-creates books for symbols. When strict is set, orders for
// any other symbol are rejected.
func WithSymbols(symbols []string, strict bool) Option {
	return func(e *Engine) {
		for _, s := range symbols {
			e.symbols[s] = struct{}{}
			e.books[s] = orderbook.NewOrderBook(s)
		}
		e.strict = strict
	}
}

// WithIDGenerator overrides how order ids are assigned.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		books:   make(map[string]*orderbook.OrderBook),
		symbols: make(map[string]struct{}),
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ProcessOrder validates req, assigns an id and adds the order. Validation
// failures return an error result and leave every book untouched.
func (e *Engine) ProcessOrder(req OrderRequest) Result {
	o, err := e.newOrder(req)
	if err != nil {
		return ErrorResult(err)
	}
	return e.AddOrder(o)
}

func (e *Engine) newOrder(req OrderRequest) (*orderbook.Order, error) {
	switch {
	case req.Symbol == nil:
		return nil, &MissingFieldError{Field: "symbol"}
	case req.Type == nil:
		return nil, &MissingFieldError{Field: "type"}
	case req.Price == nil:
		return nil, &MissingFieldError{Field: "price"}
	case req.Quantity == nil:
		return nil, &MissingFieldError{Field: "quantity"}
	}

	side, err := orderbook.ParseSide(*req.Type)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSide, err)
	}
	if *req.Quantity <= 0 {
		return nil, fmt.Errorf("%w, got %d", ErrNonPositiveQuantity, *req.Quantity)
	}
	if _, ok := e.symbols[*req.Symbol]; e.strict && !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSymbol, *req.Symbol)
	}

	return &orderbook.Order{
		ID:     e.newID(),
		Symbol: *req.Symbol,
		Side:   side,
		Price:  *req.Price,
		Qty:    *req.Quantity,
	}, nil
}

// AddOrder matches o against the opposite side of its book or rests it.
func (e *Engine) AddOrder(o *orderbook.Order) Result {
	if o.Side != orderbook.Buy && o.Side != orderbook.Sell {
		return ErrorResult(ErrInvalidSide)
	}

	book := e.book(o.Symbol)
	if resting := book.FirstAt(o.Side.Opposite(), o.Price); resting != nil {
		return e.executeTrade(book, o, resting)
	}

	book.Append(o)
	return openResult()
}

// executeTrade fills min(incoming, resting) on both orders. Both are taken
// out of the book and whichever still has quantity is appended to the tail
// of its own side, behind orders that arrived after it.
func (e *Engine) executeTrade(book *orderbook.OrderBook, incoming, resting *orderbook.Order) Result {
	qty := min(incoming.Qty, resting.Qty)
	incoming.Qty -= qty
	resting.Qty -= qty

	book.Remove(incoming.Side, incoming.ID)
	book.Remove(resting.Side, resting.ID)
	book.Append(incoming)
	book.Append(resting)

	trade := orderbook.Trade{
		Symbol: incoming.Symbol,
		Price:  incoming.Price,
		Qty:    qty,
	}
	if incoming.Side == orderbook.Buy {
		trade.BuyOrderID, trade.SellOrderID = incoming.ID, resting.ID
	} else {
		trade.BuyOrderID, trade.SellOrderID = resting.ID, incoming.ID
	}
	return matchedResult(trade)
}

func (e *Engine) book(symbol string) *orderbook.OrderBook {
	if ob, ok := e.books[symbol]; ok {
		return ob
	}
	ob := orderbook.NewOrderBook(symbol)
	e.books[symbol] = ob
	return ob
}

// BookSnapshot is a copy of one symbol's resting orders.
type BookSnapshot struct {
	Symbol string
	Bids   []orderbook.Order
	Asks   []orderbook.Order
}

// Snapshot copies the book for symbol. ok is false if the symbol has never
// been seen.
func (e *Engine) Snapshot(symbol string) (BookSnapshot, bool) {
	ob, ok := e.books[symbol]
	if !ok {
		return BookSnapshot{Symbol: symbol}, false
	}
	return BookSnapshot{
		Symbol: symbol,
		Bids:   ob.Orders(orderbook.Buy),
		Asks:   ob.Orders(orderbook.Sell),
	}, true
}

// Symbols returns every symbol with a book, configured or not.
func (e *Engine) Symbols() []string {
	out := make([]string, 0, len(e.books))
	for s := range e.books {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
