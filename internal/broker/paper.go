package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tvbridge/internal/domain"
	"github.com/vadiminshakov/tvbridge/internal/storage/simstate"
)

const venuePaper = "paper"

// DefaultPaperFunds is the starting balance of a fresh paper account.
var DefaultPaperFunds = decimal.NewFromInt(10000)

// PaperConfig configures the simulated account.
type PaperConfig struct {
	InitialFunds decimal.Decimal
	// FillOnSubmit fills every order at its limit price as soon as it is placed.
	FillOnSubmit bool
}

// Paper is a simulated spot account. Submitted orders reserve funds (buys) or
// quantity (sells) until they are filled or cancelled.
type Paper struct {
	mu        sync.Mutex
	cfg       PaperConfig
	funds     decimal.Decimal
	positions map[string]*domain.Holding
	orders    map[string]*simstate.StoredOrder
	seq       int
	store     *simstate.Store
	l         *zap.Logger
	now       func() time.Time
}

// NewPaper creates a paper broker. A nil store keeps state in memory only.
func NewPaper(cfg PaperConfig, store *simstate.Store, l *zap.Logger) (*Paper, error) {
	if l == nil {
		l = zap.NewNop()
	}
	if cfg.InitialFunds.IsNegative() {
		return nil, errors.New("paper initial funds must be >= 0")
	}
	if cfg.InitialFunds.IsZero() {
		cfg.InitialFunds = DefaultPaperFunds
	}

	p := &Paper{
		cfg:       cfg,
		funds:     cfg.InitialFunds,
		positions: make(map[string]*domain.Holding),
		orders:    make(map[string]*simstate.StoredOrder),
		store:     store,
		l:         l,
		now:       time.Now,
	}

	if err := p.restoreState(); err != nil {
		l.Warn("failed to restore paper state", zap.Error(err))
	}

	l.Info("paper broker init",
		zap.String("funds", p.funds.String()),
		zap.Int("positions", len(p.positions)),
		zap.Int("orders", len(p.orders)),
		zap.Bool("fill_on_submit", cfg.FillOnSubmit))

	return p, nil
}

// Snapshot returns free funds and the full position of symbol.
func (p *Paper) Snapshot(_ context.Context, symbol string) (domain.AccountSnapshot, error) {
	symbol = domain.NormalizeSymbol(symbol)

	p.mu.Lock()
	defer p.mu.Unlock()

	snap := domain.AccountSnapshot{
		AvailableFunds: p.funds,
		Position:       domain.Position{Symbol: symbol, Quantity: decimal.Zero, AvgCost: decimal.Zero},
	}
	if pos, ok := p.positions[symbol]; ok {
		snap.Position.Quantity = pos.Quantity
		snap.Position.AvgCost = pos.AvgCost
	}

	return snap, nil
}

// Submit places a limit order and reserves what it needs.
func (p *Paper) Submit(_ context.Context, intent domain.OrderIntent) (domain.OrderHandle, error) {
	if intent.ID == "" {
		return domain.OrderHandle{}, errors.Wrap(domain.ErrOrderRejected, "intent id is required")
	}
	if !intent.Quantity.IsPositive() || !intent.LimitPrice.IsPositive() {
		return domain.OrderHandle{}, errors.Wrap(domain.ErrOrderRejected, "intent quantity and price must be positive")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.orders[intent.ID]; exists {
		return domain.OrderHandle{}, errors.Errorf("order %s already submitted", intent.ID)
	}

	order := &simstate.StoredOrder{
		Intent:       intent,
		Status:       domain.FillStatusNew,
		FilledQty:    decimal.Zero,
		AvgFillPrice: decimal.Zero,
	}

	switch intent.Side {
	case domain.SideBuy:
		cost := intent.Notional()
		if p.funds.LessThan(cost) {
			return domain.OrderHandle{}, errors.Wrapf(domain.ErrOrderRejected, "paper funds %s < order cost %s", p.funds.String(), cost.String())
		}
		p.funds = p.funds.Sub(cost)
		order.Reserved = cost
	case domain.SideSell:
		free := p.freeQuantity(intent.Symbol)
		if free.LessThan(intent.Quantity) {
			return domain.OrderHandle{}, errors.Wrapf(domain.ErrOrderRejected, "paper position %s < sell quantity %s", free.String(), intent.Quantity.String())
		}
		order.Reserved = intent.Quantity
	default:
		return domain.OrderHandle{}, errors.Wrapf(domain.ErrOrderRejected, "unknown side %q", intent.Side)
	}

	p.seq++
	order.ExchangeID = fmt.Sprintf("paper-%08d", p.seq)
	p.orders[intent.ID] = order

	p.l.Info("paper order placed",
		zap.String("intent_id", intent.ID),
		zap.String("symbol", intent.Symbol),
		zap.String("side", intent.Side.String()),
		zap.String("qty", intent.Quantity.String()),
		zap.String("limit", intent.LimitPrice.String()))

	if p.cfg.FillOnSubmit {
		p.fill(order, intent.LimitPrice)
	}

	p.saveState()

	return handleOf(order), nil
}

// MarkPrice fills every open order of symbol that the price crosses.
// It returns the number of orders filled.
func (p *Paper) MarkPrice(symbol string, price decimal.Decimal) int {
	symbol = domain.NormalizeSymbol(symbol)

	p.mu.Lock()
	defer p.mu.Unlock()

	filled := 0
	for _, order := range p.sortedOrders() {
		if order.Intent.Symbol != symbol || order.Status.IsTerminal() {
			continue
		}
		crosses := (order.Intent.Side == domain.SideBuy && price.LessThanOrEqual(order.Intent.LimitPrice)) ||
			(order.Intent.Side == domain.SideSell && price.GreaterThanOrEqual(order.Intent.LimitPrice))
		if !crosses {
			continue
		}
		p.fill(order, order.Intent.LimitPrice)
		filled++
	}

	if filled > 0 {
		p.saveState()
	}
	return filled
}

// OrderStatus reports the cumulative fill of an order.
func (p *Paper) OrderStatus(_ context.Context, handle domain.OrderHandle) (domain.FillResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[handle.IntentID]
	if !ok {
		return domain.FillResult{}, errors.Wrapf(domain.ErrUnknownOrder, "paper order %s", handle.IntentID)
	}

	return domain.FillResult{
		Status:       order.Status,
		FilledQty:    order.FilledQty,
		AvgFillPrice: order.AvgFillPrice,
		At:           p.now(),
	}, nil
}

// Cancel releases the reservation of an open order.
func (p *Paper) Cancel(_ context.Context, handle domain.OrderHandle) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[handle.IntentID]
	if !ok {
		return errors.Wrapf(domain.ErrUnknownOrder, "paper order %s", handle.IntentID)
	}
	if order.Status.IsTerminal() {
		return nil
	}

	if order.Intent.Side == domain.SideBuy {
		p.funds = p.funds.Add(order.Reserved)
	}
	order.Reserved = decimal.Zero
	order.Status = domain.FillStatusCancelled

	p.saveState()
	return nil
}

// fill executes the remaining quantity of order at price. Must be called with mu held.
func (p *Paper) fill(order *simstate.StoredOrder, price decimal.Decimal) {
	intent := order.Intent
	qty := intent.Quantity.Sub(order.FilledQty)
	if !qty.IsPositive() {
		return
	}
	now := p.now()

	pos, ok := p.positions[intent.Symbol]
	if !ok {
		pos = &domain.Holding{Symbol: intent.Symbol}
		p.positions[intent.Symbol] = pos
	}

	switch intent.Side {
	case domain.SideBuy:
		cost := qty.Mul(price)
		// the reservation was taken at the limit price
		p.funds = p.funds.Add(order.Reserved.Sub(cost))
		if err := pos.ApplyBuy(qty, price, now); err != nil {
			p.l.Error("paper buy fill rejected", zap.Error(err))
			return
		}
	case domain.SideSell:
		pos.ApplySell(qty, now)
		p.funds = p.funds.Add(qty.Mul(price))
		if !pos.IsOpen() {
			delete(p.positions, intent.Symbol)
		}
	}

	order.Reserved = decimal.Zero
	order.FilledQty = intent.Quantity
	order.AvgFillPrice = price
	order.Status = domain.FillStatusFilled

	p.l.Info("paper order filled",
		zap.String("intent_id", intent.ID),
		zap.String("symbol", intent.Symbol),
		zap.String("side", intent.Side.String()),
		zap.String("qty", qty.String()),
		zap.String("price", price.String()),
		zap.String("funds", p.funds.String()))
}

// freeQuantity is the position minus quantity reserved by open sells. Must be called with mu held.
func (p *Paper) freeQuantity(symbol string) decimal.Decimal {
	pos, ok := p.positions[symbol]
	if !ok {
		return decimal.Zero
	}
	free := pos.Quantity
	for _, order := range p.orders {
		if order.Intent.Symbol == symbol && order.Intent.Side == domain.SideSell && !order.Status.IsTerminal() {
			free = free.Sub(order.Reserved)
		}
	}
	return free
}

func (p *Paper) sortedOrders() []*simstate.StoredOrder {
	out := make([]*simstate.StoredOrder, 0, len(p.orders))
	for _, order := range p.orders {
		out = append(out, order)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExchangeID < out[j].ExchangeID })
	return out
}

func (p *Paper) restoreState() error {
	if p.store == nil {
		return nil
	}

	state, err := p.store.Load()
	if err != nil {
		return err
	}
	if state == nil {
		return nil
	}

	p.funds = state.Funds
	for i := range state.Positions {
		h := state.Positions[i]
		p.positions[h.Symbol] = &h
	}
	for i := range state.Orders {
		order := state.Orders[i]
		p.orders[order.Intent.ID] = &order
		p.seq++
	}

	return nil
}

// saveState must be called with mu held.
func (p *Paper) saveState() {
	if p.store == nil {
		return
	}

	state := simstate.State{
		Funds:     p.funds,
		Positions: make([]domain.Holding, 0, len(p.positions)),
		Orders:    make([]simstate.StoredOrder, 0, len(p.orders)),
	}
	for _, pos := range p.positions {
		state.Positions = append(state.Positions, *pos)
	}
	for _, order := range p.sortedOrders() {
		state.Orders = append(state.Orders, *order)
	}

	if err := p.store.Save(state); err != nil {
		p.l.Warn("failed to persist paper state", zap.Error(err))
	}
}

func handleOf(order *simstate.StoredOrder) domain.OrderHandle {
	return domain.OrderHandle{
		IntentID:   order.Intent.ID,
		Symbol:     order.Intent.Symbol,
		ExchangeID: order.ExchangeID,
		Venue:      venuePaper,
	}
}
