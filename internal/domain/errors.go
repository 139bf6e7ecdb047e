package domain

import (
	"github.com/pkg/errors"
)

// Decision outcomes. Every rejection is a reported condition, not a process fault.
var (
	ErrConfigMissing         = errors.New("ticker config missing")
	ErrInvalidParameter      = errors.New("invalid parameter")
	ErrNotFound              = errors.New("not found")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrPositionAlreadyOpen   = errors.New("position already open")
	ErrNoPositionToSell      = errors.New("no position to sell")
	ErrProfitThresholdNotMet = errors.New("profit threshold not met")
	ErrTimeout               = errors.New("decision timed out")
	ErrDuplicateSignal       = errors.New("duplicate signal")

	// ErrMalformedSignal is a caller-level fault: the signal could not be interpreted.
	ErrMalformedSignal = errors.New("malformed signal")
	// ErrUnknownOrder is returned for fill notifications that match no tracked order.
	ErrUnknownOrder = errors.New("unknown order")
	// ErrOrderRejected marks a submission the broker answered with a refusal: no order exists.
	ErrOrderRejected = errors.New("order rejected by broker")
	// ErrSubmitUnconfirmed means the submission outcome is unknown; the order stays tracked
	// by its client order id until the broker reports on it.
	ErrSubmitUnconfirmed = errors.New("order submission unconfirmed")
)

const (
	ReasonAccepted = "accepted"
	ReasonError    = "error"
)

var reasons = []struct {
	err    error
	reason string
}{
	{ErrConfigMissing, "config_missing"},
	{ErrInvalidParameter, "invalid_parameter"},
	{ErrNotFound, "not_found"},
	{ErrInsufficientFunds, "insufficient_funds"},
	{ErrPositionAlreadyOpen, "position_already_open"},
	{ErrNoPositionToSell, "no_position_to_sell"},
	{ErrProfitThresholdNotMet, "profit_threshold_not_met"},
	{ErrTimeout, "timeout"},
	{ErrDuplicateSignal, "duplicate_signal"},
	{ErrMalformedSignal, "malformed_signal"},
	{ErrUnknownOrder, "unknown_order"},
	{ErrOrderRejected, "order_rejected"},
	{ErrSubmitUnconfirmed, "submit_unconfirmed"},
}

// Reason maps a decision error to a stable snake_case outcome label.
// A nil error is "accepted"; anything outside the taxonomy is "error".
func Reason(err error) string {
	if err == nil {
		return ReasonAccepted
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return ReasonError
}

// IsRejection reports whether err is a business outcome that leaves the process healthy.
func IsRejection(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range []error{
		ErrConfigMissing,
		ErrInvalidParameter,
		ErrInsufficientFunds,
		ErrPositionAlreadyOpen,
		ErrNoPositionToSell,
		ErrProfitThresholdNotMet,
		ErrTimeout,
		ErrDuplicateSignal,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
