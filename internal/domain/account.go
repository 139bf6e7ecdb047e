package domain

import "github.com/shopspring/decimal"

// Position is the broker-reported holding of a symbol.
// AvgCost is zero when the broker does not report a cost basis.
type Position struct {
	Symbol   string          `json:"symbol"`
	Quantity decimal.Decimal `json:"quantity"`
	AvgCost  decimal.Decimal `json:"avg_cost"`
}

// IsOpen returns true if the position holds a positive quantity.
func (p Position) IsOpen() bool {
	return p.Quantity.IsPositive()
}

// AccountSnapshot is a point-in-time read of funds and the position of the decided symbol.
type AccountSnapshot struct {
	AvailableFunds decimal.Decimal `json:"available_funds"`
	Position       Position        `json:"position"`
}
