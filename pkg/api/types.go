package api

// API response types for REST endpoints and WebSocket messages

// ==============================
// REST Response Types
// ==============================

// MarketInfo summarises one symbol's book
type MarketInfo struct {
	Symbol string `json:"symbol"`
	Bids   int    `json:"bids"` // resting buy orders
	Asks   int    `json:"asks"` // resting sell orders
}

// RestingOrder is one order waiting in a book
type RestingOrder struct {
	ID       string  `json:"id"`
	Side     string  `json:"side"` // "buy" or "sell"
	Price    float64 `json:"price"`
	Quantity int64   `json:"quantity"` // remaining
}

// OrderbookSnapshot lists resting orders in arrival order, not price order
type OrderbookSnapshot struct {
	Symbol    string         `json:"symbol"`
	Bids      []RestingOrder `json:"bids"`
	Asks      []RestingOrder `json:"asks"`
	Timestamp int64          `json:"timestamp"` // Unix milliseconds
}

// TradeInfo represents a journaled trade
type TradeInfo struct {
	Symbol      string  `json:"symbol"`
	Price       float64 `json:"price"`
	Quantity    int64   `json:"quantity"`
	BuyOrderID  string  `json:"buy_order_id"`
	SellOrderID string  `json:"sell_order_id"`
	Timestamp   int64   `json:"timestamp"` // Unix milliseconds
}

// ErrorResponse is returned for all REST errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSEnvelope is decoded first to route an inbound frame
type WSEnvelope struct {
	Type    *string `json:"type"`    // "subscribe", "buy", "sell"
	Channel string  `json:"channel"` // subscribe only
}

// WSError is sent for frames that never reach the matching engine
type WSError struct {
	Error string `json:"error"`
}
