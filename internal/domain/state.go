package domain

// SymbolState is the per-symbol lifecycle derived from holdings and open orders.
type SymbolState string

const (
	StateFlat        SymbolState = "flat"
	StatePendingBuy  SymbolState = "pending_buy"
	StateOpen        SymbolState = "open"
	StatePendingSell SymbolState = "pending_sell"
)

// String returns the string representation.
func (s SymbolState) String() string {
	return string(s)
}
