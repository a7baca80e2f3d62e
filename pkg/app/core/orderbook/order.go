package orderbook

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side int8

const (
	Buy  Side = 1
	Sell Side = -1
)

// ErrUnknownSide is returned when a side string is neither "buy" nor "sell".
var ErrUnknownSide = errors.New("unknown order side")

// ParseSide maps the wire value to a Side. Only lowercase "buy" and
// "sell" are accepted.
func ParseSide(s string) (Side, error) {
	switch s {
	case "buy":
		return Buy, nil
	case "sell":
		return Sell, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownSide, s)
}

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	}
	return "unknown"
}

// Opposite returns the side an order of this side trades against.
func (s Side) Opposite() Side { return -s }

// Order is a resting or incoming order. ID, Symbol, Side and Price never
// change after creation; Qty is decremented in place on fills.
type Order struct {
	ID     string
	Symbol string
	Side   Side
	Price  decimal.Decimal
	Qty    int64
}

// Trade is the record of two opposite orders crossing.
type Trade struct {
	Symbol      string
	Price       decimal.Decimal
	Qty         int64
	BuyOrderID  string
	SellOrderID string
}
