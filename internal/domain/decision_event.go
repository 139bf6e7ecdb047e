package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DecisionEvent is the journaled outcome of one decision, accepted or not.
type DecisionEvent struct {
	Timestamp time.Time       `json:"ts"`
	Symbol    string          `json:"symbol"`
	Side      Side            `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Outcome   string          `json:"outcome"`
	Message   string          `json:"message,omitempty"`
	IntentID  string          `json:"intent_id,omitempty"`
	Quantity  decimal.Decimal `json:"quantity,omitempty"`
}

// Accepted reports whether the decision produced an intent.
func (e DecisionEvent) Accepted() bool {
	return e.Outcome == ReasonAccepted
}

// NewDecisionEvent builds the journal entry for a decision result.
func NewDecisionEvent(sig Signal, intent OrderIntent, err error, at time.Time) DecisionEvent {
	ev := DecisionEvent{
		Timestamp: at,
		Symbol:    NormalizeSymbol(sig.Symbol),
		Side:      sig.Side,
		Price:     sig.Price,
		Outcome:   Reason(err),
	}
	if err != nil {
		ev.Message = err.Error()
	}
	// an unconfirmed submission still names the order it may have placed
	if intent.ID != "" {
		ev.IntentID = intent.ID
		ev.Quantity = intent.Quantity
	}
	return ev
}

// DecisionEventRecord bundles a decision event with its journal index.
type DecisionEventRecord struct {
	Index uint64        `json:"index"`
	Event DecisionEvent `json:"event"`
}
