package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TimeInForce of an order.
type TimeInForce string

// TimeInForceGTC keeps the order active until it is filled or cancelled.
const TimeInForceGTC TimeInForce = "GTC"

// OrderIntent is the engine output handed over to an executor.
type OrderIntent struct {
	ID          string          `json:"id"`
	Symbol      string          `json:"symbol"`
	Side        Side            `json:"side"`
	LimitPrice  decimal.Decimal `json:"limit_price"`
	Quantity    decimal.Decimal `json:"quantity"`
	TimeInForce TimeInForce     `json:"time_in_force"`
	SignalAt    time.Time       `json:"signal_at"`
}

// Notional returns LimitPrice * Quantity.
func (i OrderIntent) Notional() decimal.Decimal {
	return i.LimitPrice.Mul(i.Quantity)
}

// OrderHandle identifies a submitted order.
// IntentID doubles as the client order id on exchanges.
type OrderHandle struct {
	IntentID   string `json:"intent_id"`
	Symbol     string `json:"symbol"`
	ExchangeID string `json:"exchange_id,omitempty"`
	Venue      string `json:"venue,omitempty"`
}

// FillStatus is the lifecycle state reported by the executor.
type FillStatus string

const (
	FillStatusNew             FillStatus = "new"
	FillStatusPartiallyFilled FillStatus = "partially_filled"
	FillStatusFilled          FillStatus = "filled"
	FillStatusCancelled       FillStatus = "cancelled"
	FillStatusRejected        FillStatus = "rejected"
)

// IsTerminal reports whether no further fills can arrive.
func (s FillStatus) IsTerminal() bool {
	return s == FillStatusFilled || s == FillStatusCancelled || s == FillStatusRejected
}

// FillResult is a fill/cancel notification. FilledQty is cumulative for the order.
type FillResult struct {
	Status       FillStatus      `json:"status"`
	FilledQty    decimal.Decimal `json:"filled_qty"`
	AvgFillPrice decimal.Decimal `json:"avg_fill_price"`
	At           time.Time       `json:"at"`
}

// OrderStatus of a journaled order record.
type OrderStatus string

const (
	OrderStatusPending OrderStatus = "pending"
	OrderStatusDone    OrderStatus = "done"
	OrderStatusFailed  OrderStatus = "failed"
)

// OrderRecord tracks an intent from submission until it is closed.
type OrderRecord struct {
	Intent       OrderIntent     `json:"intent"`
	Handle       OrderHandle     `json:"handle"`
	Status       OrderStatus     `json:"status"`
	FilledQty    decimal.Decimal `json:"filled_qty"`
	AvgFillPrice decimal.Decimal `json:"avg_fill_price"`
	Error        string          `json:"error,omitempty"`
	// Unconfirmed is set while the broker has not yet acknowledged the submission.
	Unconfirmed  bool            `json:"unconfirmed,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// IsOpen returns true while the order may still receive fills.
func (r OrderRecord) IsOpen() bool {
	return r.Status == OrderStatusPending
}
