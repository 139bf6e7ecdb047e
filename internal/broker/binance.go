package broker

import (
	"context"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/tvbridge/internal/domain"
)

const (
	venueBinance = "binance"

	binanceErrUnknownOrder  = -2013
	binanceErrCancelReject  = -2011
	binanceErrUnknownStatus = -1006 // execution status unknown
	binanceErrExecTimeout   = -1007 // execution status unknown
)

// BinanceBroker places spot LIMIT GTC orders. The intent id is used as client order id.
type BinanceBroker struct {
	client *binance.Client
	quote  string
}

// NewBinanceClient creates a Binance API client.
func NewBinanceClient(apiKey, apiSecret string) *binance.Client {
	return binance.NewClient(apiKey, apiSecret)
}

// NewBinanceBroker creates a broker trading symbols against the quote asset.
func NewBinanceBroker(client *binance.Client, quote string) (*BinanceBroker, error) {
	if client == nil {
		return nil, errors.New("binance client is required")
	}
	if quote == "" {
		return nil, errors.New("quote asset is required")
	}
	return &BinanceBroker{client: client, quote: quote}, nil
}

// Snapshot reads free quote funds and the base asset balance. Binance spot does
// not report cost basis, so AvgCost is left zero.
func (b *BinanceBroker) Snapshot(ctx context.Context, symbol string) (domain.AccountSnapshot, error) {
	inst := NewInstrument(symbol, b.quote)

	account, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return domain.AccountSnapshot{}, errors.Wrap(err, "failed to get binance account balance")
	}

	snap := domain.AccountSnapshot{
		AvailableFunds: decimal.Zero,
		Position:       domain.Position{Symbol: domain.NormalizeSymbol(symbol), Quantity: decimal.Zero, AvgCost: decimal.Zero},
	}

	for _, balance := range account.Balances {
		switch balance.Asset {
		case inst.Quote:
			free, err := decimal.NewFromString(balance.Free)
			if err != nil {
				return domain.AccountSnapshot{}, errors.Wrap(err, "failed to parse quote balance")
			}
			snap.AvailableFunds = free
		case inst.Base:
			free, err := decimal.NewFromString(balance.Free)
			if err != nil {
				return domain.AccountSnapshot{}, errors.Wrap(err, "failed to parse base balance")
			}
			locked, err := decimal.NewFromString(balance.Locked)
			if err != nil {
				return domain.AccountSnapshot{}, errors.Wrap(err, "failed to parse locked base balance")
			}
			snap.Position.Quantity = free.Add(locked)
		}
	}

	return snap, nil
}

// Submit places a LIMIT GTC order.
func (b *BinanceBroker) Submit(ctx context.Context, intent domain.OrderIntent) (domain.OrderHandle, error) {
	inst := NewInstrument(intent.Symbol, b.quote)

	side := binance.SideTypeBuy
	if intent.Side == domain.SideSell {
		side = binance.SideTypeSell
	}

	res, err := b.client.NewCreateOrderService().Symbol(inst.Symbol()).
		Side(side).Type(binance.OrderTypeLimit).
		TimeInForce(binance.TimeInForceTypeGTC).
		Quantity(intent.Quantity.String()).
		Price(intent.LimitPrice.String()).
		NewClientOrderID(intent.ID).
		Do(ctx)
	if err != nil {
		return domain.OrderHandle{}, errors.Wrapf(binanceSubmitError(err), "failed to create binance %s order", intent.Side)
	}

	return domain.OrderHandle{
		IntentID:   intent.ID,
		Symbol:     intent.Symbol,
		ExchangeID: strconv.FormatInt(res.OrderID, 10),
		Venue:      venueBinance,
	}, nil
}

// OrderStatus queries the order by client order id.
func (b *BinanceBroker) OrderStatus(ctx context.Context, handle domain.OrderHandle) (domain.FillResult, error) {
	inst := NewInstrument(handle.Symbol, b.quote)

	order, err := b.client.NewGetOrderService().
		Symbol(inst.Symbol()).
		OrigClientOrderID(handle.IntentID).
		Do(ctx)
	if err != nil {
		if apiErr, ok := err.(*common.APIError); ok && apiErr.Code == binanceErrUnknownOrder {
			return domain.FillResult{}, errors.Wrapf(domain.ErrUnknownOrder, "binance order %s", handle.IntentID)
		}
		return domain.FillResult{}, errors.Wrap(err, "failed to query binance order status")
	}

	executedQty, err := decimal.NewFromString(order.ExecutedQuantity)
	if err != nil {
		return domain.FillResult{}, errors.Wrap(err, "failed to parse executed quantity")
	}

	avgPrice := decimal.Zero
	if executedQty.IsPositive() {
		quoteQty, err := decimal.NewFromString(order.CummulativeQuoteQuantity)
		if err != nil {
			return domain.FillResult{}, errors.Wrap(err, "failed to parse executed quote quantity")
		}
		avgPrice = quoteQty.Div(executedQty)
	}

	return domain.FillResult{
		Status:       binanceFillStatus(order.Status, executedQty),
		FilledQty:    executedQty,
		AvgFillPrice: avgPrice,
		At:           time.UnixMilli(order.UpdateTime),
	}, nil
}

// Cancel cancels an open order. Already closed orders are not an error.
func (b *BinanceBroker) Cancel(ctx context.Context, handle domain.OrderHandle) error {
	inst := NewInstrument(handle.Symbol, b.quote)

	_, err := b.client.NewCancelOrderService().
		Symbol(inst.Symbol()).
		OrigClientOrderID(handle.IntentID).
		Do(ctx)
	if err != nil {
		if apiErr, ok := err.(*common.APIError); ok {
			if apiErr.Code == binanceErrCancelReject || apiErr.Code == binanceErrUnknownOrder {
				return nil
			}
		}
		return errors.Wrapf(err, "failed to cancel binance order %s", handle.IntentID)
	}
	return nil
}

// binanceSubmitError marks API refusals as rejected. Transport errors and
// unknown-status answers stay unclassified: the order may exist.
func binanceSubmitError(err error) error {
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.Code {
	case binanceErrUnknownStatus, binanceErrExecTimeout:
		return err
	}
	return errors.Wrap(domain.ErrOrderRejected, apiErr.Error())
}

func binanceFillStatus(status binance.OrderStatusType, executed decimal.Decimal) domain.FillStatus {
	switch status {
	case binance.OrderStatusTypeFilled:
		return domain.FillStatusFilled
	case binance.OrderStatusTypePartiallyFilled:
		return domain.FillStatusPartiallyFilled
	case binance.OrderStatusTypeCanceled, binance.OrderStatusTypeExpired:
		return domain.FillStatusCancelled
	case binance.OrderStatusTypeRejected:
		return domain.FillStatusRejected
	default:
		if executed.IsPositive() {
			return domain.FillStatusPartiallyFilled
		}
		return domain.FillStatusNew
	}
}
