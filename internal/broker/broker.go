// Package broker adapts exchanges to the decision engine: account snapshots,
// order submission and order status.
package broker

import (
	"context"
	"strings"

	"github.com/vadiminshakov/tvbridge/internal/domain"
)

// Broker is an executor and snapshot provider for one account.
type Broker interface {
	Snapshot(ctx context.Context, symbol string) (domain.AccountSnapshot, error)
	Submit(ctx context.Context, intent domain.OrderIntent) (domain.OrderHandle, error)
	OrderStatus(ctx context.Context, handle domain.OrderHandle) (domain.FillResult, error)
	Cancel(ctx context.Context, handle domain.OrderHandle) error
}

// Instrument maps a signal symbol onto an exchange pair.
type Instrument struct {
	Base  string
	Quote string
}

// Symbol returns the concatenated exchange symbol.
func (i Instrument) Symbol() string {
	return i.Base + i.Quote
}

// NewInstrument resolves symbol against the account quote asset: "BTC" and
// "BTCUSDT" both map to BTC/USDT.
func NewInstrument(symbol, quote string) Instrument {
	symbol = domain.NormalizeSymbol(symbol)
	quote = strings.ToUpper(strings.TrimSpace(quote))

	if quote != "" && len(symbol) > len(quote) && strings.HasSuffix(symbol, quote) {
		return Instrument{Base: strings.TrimSuffix(symbol, quote), Quote: quote}
	}
	return Instrument{Base: symbol, Quote: quote}
}
