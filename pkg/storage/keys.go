package storage

import "fmt"

// Key schema:
//   trade:<len(symbol)>:<symbol>:<unix-nanos>:<seq> → TradeRecord (JSON)
// The length prefix keeps a symbol's prefix from matching a longer symbol
// that starts with it and a ':'. Both numbers are zero-padded to 20 digits
// so keys sort by time.
const prefixTrade = "trade:"

func tradeKey(symbol string, timestamp int64, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d:%020d", tradePrefix(symbol), timestamp, seq))
}

// tradePrefix returns the prefix for all trades of a symbol
func tradePrefix(symbol string) []byte {
	return []byte(fmt.Sprintf("%s%d:%s:", prefixTrade, len(symbol), symbol))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
