package domain

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// TickerParams are the operator-controlled trading parameters of one symbol.
type TickerParams struct {
	OrderSizeUSD decimal.Decimal `json:"order_size_usd"`
	MinProfitPct decimal.Decimal `json:"min_profit_pct"`
	DCAEnabled   bool            `json:"dca_enabled"`
	// LotSize is the minimum tradable unit. Zero means the engine default.
	LotSize      decimal.Decimal `json:"lot_size"`
}

// Validate checks parameter bounds.
func (p TickerParams) Validate() error {
	if !p.OrderSizeUSD.IsPositive() {
		return errors.Wrapf(ErrInvalidParameter, "order size must be positive, got %s", p.OrderSizeUSD.String())
	}
	if p.MinProfitPct.IsNegative() {
		return errors.Wrapf(ErrInvalidParameter, "min profit must be >= 0, got %s", p.MinProfitPct.String())
	}
	if p.LotSize.IsNegative() {
		return errors.Wrapf(ErrInvalidParameter, "lot size must be >= 0, got %s", p.LotSize.String())
	}
	return nil
}

// TickerConfig is the stored configuration of a symbol.
type TickerConfig struct {
	Symbol string `json:"symbol"`
	TickerParams
	UpdatedAt time.Time `json:"updated_at"`
}
