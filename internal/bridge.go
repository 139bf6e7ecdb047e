// Package internal wires the decision engine to brokers, storage and the HTTP surface.
package internal

import (
	"context"
	"net/http"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/tvbridge/config"
	"github.com/vadiminshakov/tvbridge/internal/broker"
	"github.com/vadiminshakov/tvbridge/internal/domain"
	"github.com/vadiminshakov/tvbridge/internal/engine"
	"github.com/vadiminshakov/tvbridge/internal/events"
	"github.com/vadiminshakov/tvbridge/internal/metrics"
	"github.com/vadiminshakov/tvbridge/internal/notifier"
	"github.com/vadiminshakov/tvbridge/internal/storage/decisions"
	"github.com/vadiminshakov/tvbridge/internal/storage/ledger"
	"github.com/vadiminshakov/tvbridge/internal/storage/tickerconfigs"
	"github.com/vadiminshakov/tvbridge/internal/web"
)

const eventBuffer = 64

// Option configures optional bridge collaborators.
type Option func(*options)

type options struct {
	sender   notifier.Sender
	registry prometheus.Registerer
}

// WithSender delivers operator notifications through s.
func WithSender(s notifier.Sender) Option {
	return func(o *options) { o.sender = s }
}

// WithRegistry registers metrics with reg instead of a private registry.
func WithRegistry(reg prometheus.Registerer) Option {
	return func(o *options) { o.registry = reg }
}

// Bridge turns webhook signals into broker orders and tracks them until filled.
type Bridge struct {
	conf config.Config

	engine   *engine.Engine
	broker   broker.Broker
	tickers  *tickerconfigs.Store
	ledger   *ledger.WALStore
	journal  *decisions.WALStore
	events   *events.DecisionBroadcaster
	notifier *notifier.Dispatcher
	metrics  *metrics.Metrics
	watcher  *broker.Watcher
	server   *web.Server

	l   *zap.Logger
	now func() time.Time
}

// NewBridge opens the stores under conf.DataDir and assembles the pipeline.
// client is what NewClient returned for conf.Platform.
func NewBridge(conf config.Config, client any, l *zap.Logger, opts ...Option) (*Bridge, error) {
	if l == nil {
		l = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	b := &Bridge{
		conf:     conf,
		events:   events.NewDecisionBroadcaster(eventBuffer),
		notifier: notifier.NewDispatcher(o.sender, l.Named("notifier")),
		l:        l,
		now:      time.Now,
	}

	var err error
	if b.metrics, err = metrics.New(o.registry); err != nil {
		return nil, errors.Wrap(err, "register metrics")
	}
	if b.broker, err = newBroker(client, conf, l); err != nil {
		return nil, errors.Wrap(err, "failed to create broker")
	}
	if b.tickers, err = tickerconfigs.NewWALStore(filepath.Join(conf.DataDir, "tickers"), l.Named("tickers")); err != nil {
		return nil, errors.Wrap(err, "open ticker config store")
	}
	if b.ledger, err = ledger.NewWALStore(filepath.Join(conf.DataDir, "ledger"), l.Named("ledger")); err != nil {
		b.Close()
		return nil, errors.Wrap(err, "open ledger")
	}
	if b.journal, err = decisions.NewWALStore(filepath.Join(conf.DataDir, "decisions")); err != nil {
		b.Close()
		return nil, errors.Wrap(err, "open decision journal")
	}

	if err := b.seedTickers(conf.Tickers); err != nil {
		b.Close()
		return nil, err
	}

	b.engine, err = engine.New(b.tickers, b.broker, engine.Config{
		DedupWindow:     conf.DedupWindow,
		DedupHistory:    conf.DedupHistory,
		DecisionTimeout: conf.DecisionTimeout,
		LotSize:         conf.LotSize,
		GlobalLock:      conf.GlobalLock,
	}, l.Named("engine"), engine.WithSubmitter(b.broker), engine.WithLedger(b.ledger))
	if err != nil {
		b.Close()
		return nil, errors.Wrap(err, "failed to create decision engine")
	}

	b.watcher, err = broker.NewWatcher(b.engine, b.broker, conf.PollInterval, l.Named("watcher"),
		broker.WithFillListener(b.onFill))
	if err != nil {
		b.Close()
		return nil, errors.Wrap(err, "failed to create fill watcher")
	}

	b.server, err = web.NewServer(web.Config{
		Addr:         conf.Addr,
		Passphrase:   conf.Passphrase,
		TLSDomains:   conf.TLSDomains,
		CertCacheDir: conf.CertCacheDir,
	}, web.Deps{
		Signals:   b,
		Tickers:   b.tickers,
		Decisions: b.journal,
		State:     b.engine,
		Orders:    b,
		Metrics:   b.metrics.Handler(),
	}, l.Named("web"))
	if err != nil {
		b.Close()
		return nil, errors.Wrap(err, "failed to create web server")
	}

	return b, nil
}

// seedTickers applies configured tickers the store does not know yet.
func (b *Bridge) seedTickers(seeds []config.TickerSeed) error {
	for _, seed := range seeds {
		if _, err := b.tickers.Get(seed.Symbol); err == nil {
			continue
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if _, err := b.tickers.Set(seed.Symbol, seed.Params); err != nil {
			return errors.Wrapf(err, "seed ticker %s", seed.Symbol)
		}
		b.l.Info("Seeded ticker config", zap.String("symbol", seed.Symbol))
	}
	return nil
}

// HandleSignal decides on sig, journals and publishes the outcome.
// The returned error is the engine's: nil, a rejection or a fault.
func (b *Bridge) HandleSignal(ctx context.Context, sig domain.Signal) (domain.DecisionEvent, error) {
	start := b.now()
	intent, err := b.engine.Decide(ctx, sig)
	ev := domain.NewDecisionEvent(sig, intent, err, b.now().UTC())

	b.logDecision(ev, err)
	b.metrics.ObserveDecision(ev, b.now().Sub(start))

	if ev.Symbol != "" {
		if _, jerr := b.journal.Save(ev); jerr != nil {
			b.l.Error("failed to journal decision", zap.String("symbol", ev.Symbol), zap.Error(jerr))
		}
	}
	b.events.Publish(ev)

	// the signal price is the only market price a paper account ever sees
	if paper, ok := b.broker.(*broker.Paper); ok && sig.Price.IsPositive() {
		if filled := paper.MarkPrice(ev.Symbol, sig.Price); filled > 0 {
			b.watcher.Poll(ctx)
		}
	}

	return ev, err
}

func (b *Bridge) logDecision(ev domain.DecisionEvent, err error) {
	fields := []zap.Field{
		zap.String("symbol", ev.Symbol),
		zap.String("side", ev.Side.String()),
		zap.String("price", ev.Price.String()),
		zap.String("outcome", ev.Outcome),
	}

	switch {
	case err == nil:
		b.l.Info("Signal accepted", append(fields,
			zap.String("intent_id", ev.IntentID),
			zap.String("quantity", ev.Quantity.String()))...)
	case errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrConfigMissing),
		errors.Is(err, domain.ErrInvalidParameter),
		errors.Is(err, domain.ErrTimeout),
		errors.Is(err, domain.ErrSubmitUnconfirmed):
		b.l.Warn("Signal rejected", append(fields, zap.Error(err))...)
	case domain.IsRejection(err):
		b.l.Info("Signal rejected", append(fields, zap.Error(err))...)
	default:
		b.l.Error("Signal failed", append(fields, zap.Error(err))...)
	}
}

// CancelOrder cancels an open order at the broker and closes its record with
// whatever had filled by then. Orders the broker no longer knows are closed too.
func (b *Bridge) CancelOrder(ctx context.Context, intentID string) (domain.FillResult, error) {
	rec, ok := b.engine.Order(intentID)
	if !ok {
		return domain.FillResult{}, errors.Wrapf(domain.ErrNotFound, "open order %s", intentID)
	}

	if err := b.broker.Cancel(ctx, rec.Handle); err != nil && !errors.Is(err, domain.ErrUnknownOrder) {
		return domain.FillResult{}, errors.Wrapf(err, "failed to cancel order %s", intentID)
	}

	fill, err := b.broker.OrderStatus(ctx, rec.Handle)
	switch {
	case err != nil:
		if !errors.Is(err, domain.ErrUnknownOrder) {
			b.l.Warn("order status after cancel unavailable, closing with known fills",
				zap.String("intent_id", intentID), zap.Error(err))
		}
		fill = domain.FillResult{
			Status:       domain.FillStatusCancelled,
			FilledQty:    rec.FilledQty,
			AvgFillPrice: rec.AvgFillPrice,
		}
	case !fill.Status.IsTerminal():
		fill.Status = domain.FillStatusCancelled
	}

	if err := b.engine.OnFill(rec.Handle, fill); err != nil {
		if errors.Is(err, domain.ErrUnknownOrder) {
			// closed by the watcher in the meantime
			return fill, nil
		}
		return domain.FillResult{}, errors.Wrap(err, "failed to close order record")
	}
	b.onFill(rec, fill)

	return fill, nil
}

func (b *Bridge) onFill(rec domain.OrderRecord, fill domain.FillResult) {
	b.metrics.ObserveFill(rec.Intent.Symbol, fill.Status)
	b.l.Info("Order progress",
		zap.String("symbol", rec.Intent.Symbol),
		zap.String("intent_id", rec.Intent.ID),
		zap.String("status", string(fill.Status)),
		zap.String("filled", fill.FilledQty.String()),
		zap.String("avg_price", fill.AvgFillPrice.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	b.notifier.Fill(ctx, rec, fill)
}

// Run serves webhooks, watches fills and delivers notifications until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	sub := b.events.Subscribe()
	defer b.events.Unsubscribe(sub)

	g.Go(func() error {
		return b.server.Start(gctx)
	})
	g.Go(func() error {
		return b.watcher.Run(gctx)
	})
	g.Go(func() error {
		return b.notifier.Run(gctx, sub)
	})

	b.l.Info("Bridge started",
		zap.String("platform", b.conf.Platform),
		zap.String("addr", b.conf.Addr),
		zap.Int("tickers", len(b.tickers.List())),
		zap.Int("pending_orders", len(b.engine.PendingOrders())))

	return g.Wait()
}

// Tickers returns the ticker config store.
func (b *Bridge) Tickers() *tickerconfigs.Store {
	return b.tickers
}

// Engine returns the decision engine.
func (b *Bridge) Engine() *engine.Engine {
	return b.engine
}

// Handler exposes the HTTP router.
func (b *Bridge) Handler() http.Handler {
	return b.server.Handler()
}

// Close flushes and closes the stores.
func (b *Bridge) Close() {
	if b.tickers != nil {
		if err := b.tickers.Close(); err != nil {
			b.l.Warn("close ticker store", zap.Error(err))
		}
	}
	if b.ledger != nil {
		if err := b.ledger.Close(); err != nil {
			b.l.Warn("close ledger", zap.Error(err))
		}
	}
	if b.journal != nil {
		if err := b.journal.Close(); err != nil {
			b.l.Warn("close decision journal", zap.Error(err))
		}
	}
}
