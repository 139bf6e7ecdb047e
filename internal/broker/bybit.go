package broker

import (
	"context"

	"github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/tvbridge/internal/domain"
)

const (
	venueBybit = "bybit"

	bybitErrOrderNotExists = 170213
)

// BybitBroker places spot Limit GTC orders through the V5 API on a unified account.
// The intent id is used as orderLinkId.
type BybitBroker struct {
	client *bybit.Client
	quote  string
}

// NewBybitClient creates an authenticated Bybit client.
func NewBybitClient(apiKey, apiSecret string) *bybit.Client {
	return bybit.NewClient().WithAuth(apiKey, apiSecret)
}

// NewBybitBroker creates a broker trading symbols against the quote asset.
func NewBybitBroker(client *bybit.Client, quote string) (*BybitBroker, error) {
	if client == nil {
		return nil, errors.New("bybit client is required")
	}
	if quote == "" {
		return nil, errors.New("quote asset is required")
	}
	return &BybitBroker{client: client, quote: quote}, nil
}

// Snapshot reads the unified wallet. AvgCost is left zero.
func (b *BybitBroker) Snapshot(_ context.Context, symbol string) (domain.AccountSnapshot, error) {
	inst := NewInstrument(symbol, b.quote)

	res, err := b.client.V5().Account().GetWalletBalance(bybit.AccountTypeV5("UNIFIED"), nil)
	if err != nil {
		return domain.AccountSnapshot{}, errors.Wrap(err, "failed to get bybit wallet balance")
	}

	snap := domain.AccountSnapshot{
		AvailableFunds: decimal.Zero,
		Position:       domain.Position{Symbol: domain.NormalizeSymbol(symbol), Quantity: decimal.Zero, AvgCost: decimal.Zero},
	}
	if len(res.Result.List) == 0 {
		return snap, nil
	}

	for _, coin := range res.Result.List[0].Coin {
		balance, err := parseDecimalOrZero(coin.WalletBalance)
		if err != nil {
			return domain.AccountSnapshot{}, errors.Wrapf(err, "failed to parse %s balance", coin.Coin)
		}
		locked, err := parseDecimalOrZero(coin.Locked)
		if err != nil {
			return domain.AccountSnapshot{}, errors.Wrapf(err, "failed to parse %s locked balance", coin.Coin)
		}

		switch string(coin.Coin) {
		case inst.Quote:
			snap.AvailableFunds = balance.Sub(locked)
		case inst.Base:
			snap.Position.Quantity = balance
		}
	}

	return snap, nil
}

// Submit places a spot Limit GTC order.
func (b *BybitBroker) Submit(_ context.Context, intent domain.OrderIntent) (domain.OrderHandle, error) {
	inst := NewInstrument(intent.Symbol, b.quote)

	side := bybit.SideBuy
	if intent.Side == domain.SideSell {
		side = bybit.SideSell
	}
	price := intent.LimitPrice.String()
	tif := bybit.TimeInForceGoodTillCancel
	linkID := intent.ID

	res, err := b.client.V5().Order().CreateOrder(bybit.V5CreateOrderParam{
		Category:    bybit.CategoryV5Spot,
		Symbol:      bybit.SymbolV5(inst.Symbol()),
		Side:        side,
		OrderType:   bybit.OrderTypeLimit,
		Qty:         intent.Quantity.String(),
		Price:       &price,
		TimeInForce: &tif,
		OrderLinkID: &linkID,
	})
	if err != nil {
		return domain.OrderHandle{}, errors.Wrapf(bybitSubmitError(err), "failed to create bybit %s order", intent.Side)
	}

	return domain.OrderHandle{
		IntentID:   intent.ID,
		Symbol:     intent.Symbol,
		ExchangeID: res.Result.OrderID,
		Venue:      venueBybit,
	}, nil
}

// OrderStatus looks the order up among open orders, then in order history.
func (b *BybitBroker) OrderStatus(_ context.Context, handle domain.OrderHandle) (domain.FillResult, error) {
	inst := NewInstrument(handle.Symbol, b.quote)
	symbol := bybit.SymbolV5(inst.Symbol())
	linkID := handle.IntentID

	open, err := b.client.V5().Order().GetOpenOrders(bybit.V5GetOpenOrdersParam{
		Category:    bybit.CategoryV5Spot,
		Symbol:      &symbol,
		OrderLinkID: &linkID,
	})
	if err != nil {
		return domain.FillResult{}, errors.Wrap(err, "failed to query bybit open orders")
	}
	if len(open.Result.List) > 0 {
		o := open.Result.List[0]
		return bybitFillResult(string(o.OrderStatus), o.CumExecQty, o.AvgPrice)
	}

	history, err := b.client.V5().Order().GetHistoryOrders(bybit.V5GetHistoryOrdersParam{
		Category:    bybit.CategoryV5Spot,
		Symbol:      &symbol,
		OrderLinkID: &linkID,
	})
	if err != nil {
		return domain.FillResult{}, errors.Wrap(err, "failed to query bybit order history")
	}
	if len(history.Result.List) == 0 {
		return domain.FillResult{}, errors.Wrapf(domain.ErrUnknownOrder, "bybit order %s", handle.IntentID)
	}

	o := history.Result.List[0]
	return bybitFillResult(string(o.OrderStatus), o.CumExecQty, o.AvgPrice)
}

// Cancel cancels an open order by link id.
func (b *BybitBroker) Cancel(_ context.Context, handle domain.OrderHandle) error {
	inst := NewInstrument(handle.Symbol, b.quote)
	linkID := handle.IntentID

	_, err := b.client.V5().Order().CancelOrder(bybit.V5CancelOrderParam{
		Category:    bybit.CategoryV5Spot,
		Symbol:      bybit.SymbolV5(inst.Symbol()),
		OrderLinkID: &linkID,
	})
	if err != nil {
		var apiErr *bybit.ErrorResponse
		if errors.As(err, &apiErr) && apiErr.RetCode == bybitErrOrderNotExists {
			return nil
		}
		return errors.Wrapf(err, "failed to cancel bybit order %s", handle.IntentID)
	}
	return nil
}

// bybitSubmitError marks answered refusals, rate limits included, as rejected.
func bybitSubmitError(err error) error {
	var (
		apiErr  *bybit.ErrorResponse
		rateErr *bybit.RateLimitV5Error
	)
	switch {
	case errors.As(err, &apiErr):
		return errors.Wrap(domain.ErrOrderRejected, apiErr.Error())
	case errors.As(err, &rateErr):
		return errors.Wrap(domain.ErrOrderRejected, "rate limited")
	default:
		return err
	}
}

func bybitFillResult(status, cumExecQty, avgPrice string) (domain.FillResult, error) {
	filled, err := parseDecimalOrZero(cumExecQty)
	if err != nil {
		return domain.FillResult{}, errors.Wrap(err, "failed to parse executed quantity")
	}
	avg, err := parseDecimalOrZero(avgPrice)
	if err != nil {
		return domain.FillResult{}, errors.Wrap(err, "failed to parse average price")
	}

	return domain.FillResult{
		Status:       bybitFillStatus(status, filled),
		FilledQty:    filled,
		AvgFillPrice: avg,
	}, nil
}

func bybitFillStatus(status string, filled decimal.Decimal) domain.FillStatus {
	switch status {
	case "Filled":
		return domain.FillStatusFilled
	case "PartiallyFilled":
		return domain.FillStatusPartiallyFilled
	case "Cancelled", "PartiallyFilledCanceled", "Deactivated":
		return domain.FillStatusCancelled
	case "Rejected":
		return domain.FillStatusRejected
	default:
		if filled.IsPositive() {
			return domain.FillStatusPartiallyFilled
		}
		return domain.FillStatusNew
	}
}

func parseDecimalOrZero(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
