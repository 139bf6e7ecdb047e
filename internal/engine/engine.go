// Package engine turns trading signals into order intents.
package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tvbridge/internal/domain"
)

const (
	DefaultDedupWindow     = 5 * time.Second
	DefaultDedupHistory    = 32
	DefaultDecisionTimeout = 10 * time.Second
	DefaultSubmitTimeout   = 30 * time.Second

	globalLockKey = "*"
)

// DefaultLotSize trades whole units.
var DefaultLotSize = decimal.NewFromInt(1)

// ConfigReader provides ticker parameters.
type ConfigReader interface {
	Get(symbol string) (domain.TickerConfig, error)
}

// SnapshotProvider supplies funds and the position of a symbol at decision time.
type SnapshotProvider interface {
	Snapshot(ctx context.Context, symbol string) (domain.AccountSnapshot, error)
}

// Submitter places an intent with the broker.
type Submitter interface {
	Submit(ctx context.Context, intent domain.OrderIntent) (domain.OrderHandle, error)
}

// Ledger persists holdings and order records.
type Ledger interface {
	Holdings() []domain.Holding
	Orders() []domain.OrderRecord
	SaveHolding(h domain.Holding) error
	SaveOrder(rec domain.OrderRecord) error
}

// Config tunes the engine. Zero values fall back to defaults.
type Config struct {
	DedupWindow     time.Duration
	DedupHistory    int
	DecisionTimeout time.Duration
	// SubmitTimeout bounds order placement independently of DecisionTimeout.
	SubmitTimeout   time.Duration
	LotSize         decimal.Decimal
	// GlobalLock serializes decisions across all symbols.
	GlobalLock      bool
}

func (c Config) withDefaults() Config {
	if c.DedupWindow <= 0 {
		c.DedupWindow = DefaultDedupWindow
	}
	if c.DedupHistory <= 0 {
		c.DedupHistory = DefaultDedupHistory
	}
	if c.DecisionTimeout <= 0 {
		c.DecisionTimeout = DefaultDecisionTimeout
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = DefaultSubmitTimeout
	}
	if !c.LotSize.IsPositive() {
		c.LotSize = DefaultLotSize
	}
	return c
}

// Option configures optional collaborators.
type Option func(*Engine)

// WithSubmitter makes Decide submit accepted intents while the symbol lock is held.
func WithSubmitter(s Submitter) Option {
	return func(e *Engine) { e.submitter = s }
}

// WithLedger persists and restores holdings and order records.
func WithLedger(l Ledger) Option {
	return func(e *Engine) { e.ledger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator overrides intent id generation.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) { e.newID = gen }
}

// Engine is the order decision engine.
type Engine struct {
	cfg       Config
	configs   ConfigReader
	snapshots SnapshotProvider
	submitter Submitter
	ledger    Ledger
	l         *zap.Logger
	now       func() time.Time
	newID     func() string

	locks *keyedLocks

	mu       sync.Mutex
	dedup    *dedupHistory
	holdings map[string]domain.Holding
	orders   map[string]*domain.OrderRecord
}

// New creates an engine and restores its bookkeeping from the ledger, if any.
func New(configs ConfigReader, snapshots SnapshotProvider, cfg Config, l *zap.Logger, opts ...Option) (*Engine, error) {
	if configs == nil {
		return nil, errors.New("config reader is required")
	}
	if snapshots == nil {
		return nil, errors.New("snapshot provider is required")
	}
	if l == nil {
		l = zap.NewNop()
	}

	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:       cfg,
		configs:   configs,
		snapshots: snapshots,
		l:         l,
		now:       time.Now,
		newID:     uuid.NewString,
		locks:     newKeyedLocks(),
		dedup:     newDedupHistory(cfg.DedupWindow, cfg.DedupHistory),
		holdings:  make(map[string]domain.Holding),
		orders:    make(map[string]*domain.OrderRecord),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.ledger != nil {
		for _, h := range e.ledger.Holdings() {
			e.holdings[h.Symbol] = h
		}
		pending := 0
		for _, rec := range e.ledger.Orders() {
			if !rec.IsOpen() {
				continue
			}
			rec := rec
			e.orders[rec.Intent.ID] = &rec
			pending++
		}
		l.Info("engine state restored",
			zap.Int("holdings", len(e.holdings)),
			zap.Int("pending_orders", pending))
	}

	return e, nil
}

// Decide evaluates a signal and returns the accepted intent or the reason it was rejected.
func (e *Engine) Decide(ctx context.Context, sig domain.Signal) (domain.OrderIntent, error) {
	if err := sig.Validate(); err != nil {
		return domain.OrderIntent{}, err
	}
	sig.Symbol = domain.NormalizeSymbol(sig.Symbol)
	if sig.ReceivedAt.IsZero() {
		sig.ReceivedAt = e.now()
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.DecisionTimeout)
	defer cancel()

	unlock, err := e.locks.acquire(ctx, e.lockKey(sig.Symbol))
	if err != nil {
		return domain.OrderIntent{}, contextError(err, "waiting for symbol lock")
	}
	defer unlock()

	e.mu.Lock()
	duplicate := e.dedup.isDuplicate(sig)
	e.mu.Unlock()
	if duplicate {
		return domain.OrderIntent{}, errors.Wrapf(domain.ErrDuplicateSignal,
			"%s %s within %s", sig.Symbol, sig.Side, e.cfg.DedupWindow)
	}

	intent, err := e.decideLocked(ctx, sig)
	if shouldRemember(err) {
		e.mu.Lock()
		e.dedup.record(sig)
		e.mu.Unlock()
	}

	return intent, err
}

func (e *Engine) decideLocked(ctx context.Context, sig domain.Signal) (domain.OrderIntent, error) {
	cfg, err := e.configs.Get(sig.Symbol)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.OrderIntent{}, errors.Wrapf(domain.ErrConfigMissing, "ticker %s", sig.Symbol)
		}
		return domain.OrderIntent{}, errors.Wrap(err, "failed to read ticker config")
	}

	snap, err := e.snapshot(ctx, sig.Symbol)
	if err != nil {
		return domain.OrderIntent{}, err
	}

	pos := e.effectivePosition(sig.Symbol, snap.Position)
	pendingBuy, pendingSell := e.pendingSides(sig.Symbol)

	lot := e.cfg.LotSize
	if cfg.LotSize.IsPositive() {
		lot = cfg.LotSize
	}

	var qty decimal.Decimal
	switch sig.Side {
	case domain.SideBuy:
		qty, err = evaluateBuy(sig, cfg, snap.AvailableFunds, pos, pendingBuy, lot)
	case domain.SideSell:
		qty, err = evaluateSell(sig, cfg, pos, pendingSell)
	}
	if err != nil {
		return domain.OrderIntent{}, err
	}

	intent := domain.OrderIntent{
		ID:          e.newID(),
		Symbol:      sig.Symbol,
		Side:        sig.Side,
		LimitPrice:  sig.Price,
		Quantity:    qty,
		TimeInForce: domain.TimeInForceGTC,
		SignalAt:    sig.ReceivedAt,
	}

	return e.place(ctx, intent)
}

// place submits the intent (when a submitter is set) and opens its order record.
// Only an explicit broker refusal closes the record as failed. Any other submit
// error leaves it pending and unconfirmed so the fill watcher can look the order
// up by its client order id.
func (e *Engine) place(ctx context.Context, intent domain.OrderIntent) (domain.OrderIntent, error) {
	now := e.now()
	rec := domain.OrderRecord{
		Intent:    intent,
		Handle:    domain.OrderHandle{IntentID: intent.ID, Symbol: intent.Symbol},
		Status:    domain.OrderStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if e.submitter != nil {
		// the decision deadline must not abandon an order the exchange may be accepting
		submitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.SubmitTimeout)
		handle, err := e.submitter.Submit(submitCtx, intent)
		cancel()

		switch {
		case errors.Is(err, domain.ErrOrderRejected):
			rec.Status = domain.OrderStatusFailed
			rec.Error = err.Error()
			e.persistOrder(rec)
			return domain.OrderIntent{}, errors.Wrapf(err, "failed to submit %s order for %s", intent.Side, intent.Symbol)
		case err != nil:
			rec.Unconfirmed = true
			rec.Error = err.Error()
			e.track(rec)
			e.l.Warn("order submission unconfirmed, tracking by client order id",
				zap.String("intent_id", intent.ID),
				zap.String("symbol", intent.Symbol),
				zap.String("side", intent.Side.String()),
				zap.Error(err))
			return intent, errors.Wrapf(domain.ErrSubmitUnconfirmed, "%s order for %s: %v", intent.Side, intent.Symbol, err)
		}

		if handle.IntentID == "" {
			handle.IntentID = intent.ID
		}
		if handle.Symbol == "" {
			handle.Symbol = intent.Symbol
		}
		rec.Handle = handle
	}

	e.track(rec)
	return intent, nil
}

func (e *Engine) track(rec domain.OrderRecord) {
	e.mu.Lock()
	e.orders[rec.Intent.ID] = &rec
	e.mu.Unlock()
	e.persistOrder(rec)
}

type snapshotResult struct {
	snap domain.AccountSnapshot
	err  error
}

// snapshot fetches the account state, bounded by the decision deadline even if the
// provider ignores ctx.
func (e *Engine) snapshot(ctx context.Context, symbol string) (domain.AccountSnapshot, error) {
	ch := make(chan snapshotResult, 1)
	go func() {
		snap, err := e.snapshots.Snapshot(ctx, symbol)
		ch <- snapshotResult{snap: snap, err: err}
	}()

	select {
	case <-ctx.Done():
		return domain.AccountSnapshot{}, contextError(ctx.Err(), "waiting for account snapshot")
	case res := <-ch:
		if res.err != nil {
			if errors.Is(res.err, context.DeadlineExceeded) {
				return domain.AccountSnapshot{}, errors.Wrap(domain.ErrTimeout, res.err.Error())
			}
			return domain.AccountSnapshot{}, errors.Wrap(res.err, "failed to fetch account snapshot")
		}
		return res.snap, nil
	}
}

// effectivePosition fills in the cost basis from the fill ledger when the broker
// does not report one.
func (e *Engine) effectivePosition(symbol string, pos domain.Position) domain.Position {
	pos.Symbol = symbol
	if !pos.IsOpen() || pos.AvgCost.IsPositive() {
		return pos
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if h, ok := e.holdings[symbol]; ok && h.IsOpen() {
		pos.AvgCost = h.AvgCost
	}
	return pos
}

func (e *Engine) pendingSides(symbol string) (buy, sell bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, rec := range e.orders {
		if rec.Intent.Symbol != symbol || !rec.IsOpen() {
			continue
		}
		switch rec.Intent.Side {
		case domain.SideBuy:
			buy = true
		case domain.SideSell:
			sell = true
		}
	}
	return buy, sell
}

// OnFill applies a fill or cancel notification to the holding of the order's symbol.
// FilledQty is cumulative, so repeated notifications are idempotent.
func (e *Engine) OnFill(handle domain.OrderHandle, fill domain.FillResult) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.orders[handle.IntentID]
	if !ok {
		return errors.Wrapf(domain.ErrUnknownOrder, "intent %s", handle.IntentID)
	}
	if !rec.IsOpen() {
		return nil
	}

	at := fill.At
	if at.IsZero() {
		at = e.now()
	}

	changed := false
	if rec.Unconfirmed {
		rec.Unconfirmed = false
		rec.Error = ""
		changed = true
	}

	delta := fill.FilledQty.Sub(rec.FilledQty)
	if delta.IsPositive() {
		if err := e.applyDelta(rec, delta, fill, at); err != nil {
			return err
		}
		rec.FilledQty = fill.FilledQty
		if fill.AvgFillPrice.IsPositive() {
			rec.AvgFillPrice = fill.AvgFillPrice
		}
		changed = true
	}

	if fill.Status.IsTerminal() {
		if rec.FilledQty.IsPositive() {
			rec.Status = domain.OrderStatusDone
		} else {
			rec.Status = domain.OrderStatusFailed
			rec.Error = string(fill.Status)
		}
		changed = true
	}

	if !changed {
		return nil
	}
	rec.UpdatedAt = at

	e.l.Info("order updated",
		zap.String("intent_id", rec.Intent.ID),
		zap.String("symbol", rec.Intent.Symbol),
		zap.String("side", rec.Intent.Side.String()),
		zap.String("fill_status", string(fill.Status)),
		zap.String("filled_qty", rec.FilledQty.String()),
		zap.String("status", string(rec.Status)))

	if e.ledger != nil {
		if err := e.ledger.SaveOrder(*rec); err != nil {
			return errors.Wrap(err, "failed to persist order record")
		}
	}
	if !rec.IsOpen() {
		delete(e.orders, rec.Intent.ID)
	}

	return nil
}

// applyDelta must be called with mu held.
func (e *Engine) applyDelta(rec *domain.OrderRecord, delta decimal.Decimal, fill domain.FillResult, at time.Time) error {
	symbol := rec.Intent.Symbol
	h := e.holdings[symbol]
	h.Symbol = symbol

	switch rec.Intent.Side {
	case domain.SideBuy:
		if err := h.ApplyBuy(delta, deltaPrice(rec, delta, fill), at); err != nil {
			return errors.Wrap(err, "failed to apply buy fill")
		}
	case domain.SideSell:
		h.ApplySell(delta, at)
	}

	if e.ledger != nil {
		if err := e.ledger.SaveHolding(h); err != nil {
			return errors.Wrap(err, "failed to persist holding")
		}
	}
	e.holdings[symbol] = h

	return nil
}

// deltaPrice derives the price of the newly filled part from cumulative averages.
func deltaPrice(rec *domain.OrderRecord, delta decimal.Decimal, fill domain.FillResult) decimal.Decimal {
	if !fill.AvgFillPrice.IsPositive() {
		return rec.Intent.LimitPrice
	}
	if rec.FilledQty.IsZero() || !rec.AvgFillPrice.IsPositive() {
		return fill.AvgFillPrice
	}

	cost := fill.AvgFillPrice.Mul(fill.FilledQty).Sub(rec.AvgFillPrice.Mul(rec.FilledQty))
	price := cost.Div(delta)
	if !price.IsPositive() {
		return fill.AvgFillPrice
	}
	return price
}

// State returns the lifecycle state of a symbol.
func (e *Engine) State(symbol string) domain.SymbolState {
	symbol = domain.NormalizeSymbol(symbol)
	buy, sell := e.pendingSides(symbol)

	e.mu.Lock()
	h, ok := e.holdings[symbol]
	e.mu.Unlock()

	switch {
	case sell:
		return domain.StatePendingSell
	case ok && h.IsOpen():
		return domain.StateOpen
	case buy:
		return domain.StatePendingBuy
	default:
		return domain.StateFlat
	}
}

// Holding returns the fill-derived holding of a symbol.
func (e *Engine) Holding(symbol string) (domain.Holding, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	h, ok := e.holdings[domain.NormalizeSymbol(symbol)]
	return h, ok
}

// PendingOrders returns open order records ordered by creation time.
func (e *Engine) PendingOrders() []domain.OrderRecord {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]domain.OrderRecord, 0, len(e.orders))
	for _, rec := range e.orders {
		if rec.IsOpen() {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Order returns the open order record of an intent.
func (e *Engine) Order(intentID string) (domain.OrderRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.orders[intentID]
	if !ok || !rec.IsOpen() {
		return domain.OrderRecord{}, false
	}
	return *rec, true
}

func (e *Engine) persistOrder(rec domain.OrderRecord) {
	if e.ledger == nil {
		return
	}
	if err := e.ledger.SaveOrder(rec); err != nil {
		e.l.Error("failed to persist order record",
			zap.String("intent_id", rec.Intent.ID),
			zap.Error(err))
	}
}

func (e *Engine) lockKey(symbol string) string {
	if e.cfg.GlobalLock {
		return globalLockKey
	}
	return symbol
}

// contextError maps deadline expiry onto ErrTimeout.
func contextError(err error, msg string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(domain.ErrTimeout, msg)
	}
	return errors.Wrap(err, msg)
}

// shouldRemember reports whether the signal counts as decided for deduplication.
// Faults and timeouts stay retryable. An unconfirmed submission may have placed
// an order, so a redelivery of it is a duplicate.
func shouldRemember(err error) bool {
	if err == nil || errors.Is(err, domain.ErrSubmitUnconfirmed) {
		return true
	}
	return domain.IsRejection(err) && !errors.Is(err, domain.ErrTimeout)
}
