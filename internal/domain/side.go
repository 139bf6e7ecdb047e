// Package domain defines core data structures used throughout the bridge.
package domain

import (
	"strings"

	"github.com/pkg/errors"
)

// Side is the direction of a signal or an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ParseSide converts a case-insensitive action string into a Side.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	default:
		return "", errors.Wrapf(ErrMalformedSignal, "unknown action %q", s)
	}
}

// String returns the string representation of the side
func (s Side) String() string {
	return string(s)
}

// IsValid checks if the Side value is valid.
func (s Side) IsValid() bool {
	return s == SideBuy || s == SideSell
}
