package domain

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Holding is the cost basis of a symbol accumulated from fills.
type Holding struct {
	Symbol    string          `json:"symbol"`
	Quantity  decimal.Decimal `json:"quantity"`
	AvgCost   decimal.Decimal `json:"avg_cost"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ApplyBuy adds a filled quantity at price and recomputes the weighted average cost.
func (h *Holding) ApplyBuy(qty, price decimal.Decimal, at time.Time) error {
	if !qty.IsPositive() {
		return errors.Wrapf(ErrInvalidParameter, "buy quantity must be positive, got %s", qty.String())
	}
	if !price.IsPositive() {
		return errors.Wrapf(ErrInvalidParameter, "buy price must be positive, got %s", price.String())
	}

	if !h.Quantity.IsPositive() {
		h.Quantity = qty
		h.AvgCost = price
	} else {
		oldQty := h.Quantity
		h.Quantity = oldQty.Add(qty)
		weighted := h.AvgCost.Mul(oldQty).Add(price.Mul(qty))
		h.AvgCost = weighted.Div(h.Quantity)
	}
	h.UpdatedAt = at

	return nil
}

// ApplySell reduces the held quantity. The average cost of the remainder is unchanged;
// a fully closed holding resets its cost basis.
func (h *Holding) ApplySell(qty decimal.Decimal, at time.Time) {
	if !qty.IsPositive() {
		return
	}

	h.Quantity = h.Quantity.Sub(qty)
	if !h.Quantity.IsPositive() {
		h.Quantity = decimal.Zero
		h.AvgCost = decimal.Zero
	}
	h.UpdatedAt = at
}

// IsOpen returns true if the holding has a positive quantity.
func (h *Holding) IsOpen() bool {
	return h != nil && h.Quantity.IsPositive()
}
