// Package notifier delivers decision outcomes and fills to the operator.
package notifier

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/vadiminshakov/tvbridge/internal/domain"
)

// Sender delivers a text message to the operator channel.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// Nop discards every message.
type Nop struct{}

// Send implements Sender.
func (Nop) Send(context.Context, string) error { return nil }

// Dispatcher formats events and hands them to a Sender.
type Dispatcher struct {
	sender Sender
	l      *zap.Logger
}

// NewDispatcher creates a dispatcher. A nil sender disables delivery.
func NewDispatcher(sender Sender, l *zap.Logger) *Dispatcher {
	if sender == nil {
		sender = Nop{}
	}
	if l == nil {
		l = zap.NewNop()
	}
	return &Dispatcher{sender: sender, l: l}
}

// Run forwards decision events until ctx is done or the channel is closed.
func (d *Dispatcher) Run(ctx context.Context, events <-chan domain.DecisionEvent) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			d.Decision(ctx, ev)
		}
	}
}

// Decision notifies about one decision. Duplicates are not reported.
func (d *Dispatcher) Decision(ctx context.Context, ev domain.DecisionEvent) {
	if ev.Outcome == domain.Reason(domain.ErrDuplicateSignal) {
		return
	}
	d.send(ctx, FormatDecision(ev))
}

// Fill notifies about order progress.
func (d *Dispatcher) Fill(ctx context.Context, rec domain.OrderRecord, fill domain.FillResult) {
	d.send(ctx, FormatFill(rec, fill))
}

func (d *Dispatcher) send(ctx context.Context, text string) {
	if err := d.sender.Send(ctx, text); err != nil {
		d.l.Warn("failed to deliver notification", zap.Error(err))
	}
}

// FormatDecision renders a decision event as a short message.
func FormatDecision(ev domain.DecisionEvent) string {
	side := strings.ToUpper(ev.Side.String())
	if ev.Accepted() {
		return fmt.Sprintf("✅ %s %s %s @ %s", side, ev.Quantity.String(), ev.Symbol, ev.Price.String())
	}
	msg := fmt.Sprintf("⚠️ %s %s @ %s rejected: %s", side, ev.Symbol, ev.Price.String(), ev.Outcome)
	if ev.Outcome == domain.ReasonError && ev.Message != "" {
		msg += " (" + ev.Message + ")"
	}
	return msg
}

// FormatFill renders a fill notification.
func FormatFill(rec domain.OrderRecord, fill domain.FillResult) string {
	side := strings.ToUpper(rec.Intent.Side.String())
	return fmt.Sprintf("📈 %s %s %s: %s/%s filled @ %s",
		side, rec.Intent.Symbol, fill.Status,
		fill.FilledQty.String(), rec.Intent.Quantity.String(), fill.AvgFillPrice.String())
}
