package matching

import (
	"errors"

	"github.com/uhyunpark/minexchange/pkg/app/core/orderbook"
)

const (
	StatusOpen    = "open"
	StatusMatched = "matched"
	StatusError   = "error"
)

// Result is the per-order outcome sent back to the submitting connection.
// Exactly one of the open, matched or error shapes is populated.
type Result struct {
	Status  string     `json:"status,omitempty"`
	Message string     `json:"message,omitempty"`
	Error   string     `json:"error,omitempty"`
	Trade   *TradeInfo `json:"trade,omitempty"`

	executed *orderbook.Trade
}

// TradeInfo is the wire view of an executed trade.
type TradeInfo struct {
	Symbol      string  `json:"symbol"`
	Price       float64 `json:"price"`
	Quantity    int64   `json:"quantity"`
	BuyOrderID  string  `json:"buy_order_id"`
	SellOrderID string  `json:"sell_order_id"`
}

// Executed returns the trade behind a matched result.
func (r Result) Executed() (orderbook.Trade, bool) {
	if r.executed == nil {
		return orderbook.Trade{}, false
	}
	return *r.executed, true
}

// IsError reports whether r is either error shape.
func (r Result) IsError() bool {
	return r.Error != "" || r.Status == StatusError
}

func openResult() Result {
	return Result{Status: StatusOpen, Message: "Order added to the book"}
}

func matchedResult(t orderbook.Trade) Result {
	return Result{
		Status:  StatusMatched,
		Message: "Trade executed",
		Trade: &TradeInfo{
			Symbol:      t.Symbol,
			Price:       t.Price.InexactFloat64(),
			Quantity:    t.Qty,
			BuyOrderID:  t.BuyOrderID,
			SellOrderID: t.SellOrderID,
		},
		executed: &t,
	}
}

// ErrorResult maps an error to the matching wire shape.
func ErrorResult(err error) Result {
	var missing *MissingFieldError
	switch {
	case errors.As(err, &missing):
		return Result{Error: missing.Error()}
	case errors.Is(err, ErrInvalidSide):
		return Result{Status: StatusError, Message: "Invalid order type"}
	default:
		return Result{Error: "Error processing order: " + err.Error()}
	}
}
