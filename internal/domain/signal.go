package domain

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Signal is an external trade-direction event for a symbol at a reference price.
type Signal struct {
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"side"`
	Price      decimal.Decimal `json:"price"`
	ReceivedAt time.Time       `json:"received_at"`
}

// NormalizeSymbol trims and upper-cases a ticker symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Validate checks that the signal can be decided on.
func (s Signal) Validate() error {
	if NormalizeSymbol(s.Symbol) == "" {
		return errors.Wrap(ErrMalformedSignal, "symbol is required")
	}
	if !s.Side.IsValid() {
		return errors.Wrapf(ErrMalformedSignal, "invalid side %q", s.Side)
	}
	if !s.Price.IsPositive() {
		return errors.Wrapf(ErrMalformedSignal, "price must be positive, got %s", s.Price.String())
	}
	return nil
}
