package matching

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSide is returned for an order whose "type" is neither buy nor sell.
	ErrInvalidSide = errors.New("invalid order type")

	ErrNonPositiveQuantity = errors.New("quantity must be positive")
	ErrUnsupportedSymbol   = errors.New("unsupported symbol")
)

// MissingFieldError reports a required order field that was absent.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("Missing key in order data: '%s'", e.Field)
}
