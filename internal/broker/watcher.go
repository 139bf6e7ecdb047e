package broker

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tvbridge/internal/domain"
	"github.com/vadiminshakov/tvbridge/pkg/retrier"
)

// DefaultPollInterval is how often pending orders are checked.
const DefaultPollInterval = 5 * time.Second

// OrderTracker owns pending orders and consumes fill notifications.
type OrderTracker interface {
	PendingOrders() []domain.OrderRecord
	OnFill(handle domain.OrderHandle, fill domain.FillResult) error
}

// StatusSource reports order progress.
type StatusSource interface {
	OrderStatus(ctx context.Context, handle domain.OrderHandle) (domain.FillResult, error)
}

// FillListener observes every forwarded notification.
type FillListener func(rec domain.OrderRecord, fill domain.FillResult)

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithFillListener registers a listener for forwarded notifications.
func WithFillListener(fn FillListener) WatcherOption {
	return func(w *Watcher) { w.listener = fn }
}

// WithStatusRetrier overrides the retry policy of status queries.
func WithStatusRetrier(r *retrier.Retrier) WatcherOption {
	return func(w *Watcher) { w.retrier = r }
}

// Watcher polls the broker for pending orders and forwards changes to the tracker.
type Watcher struct {
	tracker  OrderTracker
	source   StatusSource
	interval time.Duration
	retrier  *retrier.Retrier
	listener FillListener
	l        *zap.Logger

	// serializes passes so a fill is never forwarded twice
	mu sync.Mutex
}

// NewWatcher creates a fill watcher.
func NewWatcher(tracker OrderTracker, source StatusSource, interval time.Duration, l *zap.Logger, opts ...WatcherOption) (*Watcher, error) {
	if tracker == nil {
		return nil, errors.New("order tracker is required")
	}
	if source == nil {
		return nil, errors.New("status source is required")
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if l == nil {
		l = zap.NewNop()
	}

	w := &Watcher{
		tracker:  tracker,
		source:   source,
		interval: interval,
		retrier: retrier.New(
			retrier.WithMaxRetries(2),
			retrier.WithInitialInterval(200*time.Millisecond),
			retrier.WithMaxInterval(interval),
		),
		l: l,
	}
	for _, opt := range opts {
		opt(w)
	}

	return w, nil
}

// Run polls until ctx is cancelled. The first pass reconciles orders left
// pending by a previous run.
func (w *Watcher) Run(ctx context.Context) error {
	if pending := len(w.tracker.PendingOrders()); pending > 0 {
		w.l.Info("Reconciling pending orders", zap.Int("count", pending))
	}
	w.Poll(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.Poll(ctx)
		}
	}
}

// Poll checks every pending order once and returns how many notifications were forwarded.
func (w *Watcher) Poll(ctx context.Context) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	forwarded := 0

	for _, rec := range w.tracker.PendingOrders() {
		if ctx.Err() != nil {
			return forwarded
		}

		fill, err := retrier.DoWithData(w.retrier, ctx, func(ctx context.Context) (domain.FillResult, error) {
			res, err := w.source.OrderStatus(ctx, rec.Handle)
			if errors.Is(err, domain.ErrUnknownOrder) {
				return res, retrier.Permanent(err)
			}
			return res, err
		})
		switch {
		case errors.Is(err, domain.ErrUnknownOrder):
			// the broker has no such order, so nothing more can fill
			w.l.Warn("order unknown to broker, closing it",
				zap.String("intent_id", rec.Intent.ID),
				zap.String("symbol", rec.Intent.Symbol),
				zap.Bool("unconfirmed", rec.Unconfirmed),
				zap.Error(err))
			fill = domain.FillResult{
				Status:       domain.FillStatusRejected,
				FilledQty:    rec.FilledQty,
				AvgFillPrice: rec.AvgFillPrice,
			}
		case err != nil:
			w.l.Warn("failed to check order status",
				zap.String("intent_id", rec.Intent.ID),
				zap.String("symbol", rec.Intent.Symbol),
				zap.Error(err))
			continue
		}

		if !changed(rec, fill) {
			continue
		}

		if err := w.tracker.OnFill(rec.Handle, fill); err != nil {
			w.l.Error("failed to apply fill",
				zap.String("intent_id", rec.Intent.ID),
				zap.Error(err))
			continue
		}
		forwarded++

		if w.listener != nil {
			w.listener(rec, fill)
		}
	}

	return forwarded
}

func changed(rec domain.OrderRecord, fill domain.FillResult) bool {
	return rec.Unconfirmed || fill.Status.IsTerminal() || !fill.FilledQty.Equal(rec.FilledQty)
}
