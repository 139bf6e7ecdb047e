package engine

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/tvbridge/internal/domain"
)

// buyQuantity is orderSize/price rounded down to a multiple of lot.
func buyQuantity(orderSize, price, lot decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() {
		return decimal.Zero
	}
	return domain.FloorToLot(orderSize.Div(price), lot)
}

// evaluateBuy applies the funds, sizing and repeat-buy rules.
func evaluateBuy(sig domain.Signal, cfg domain.TickerConfig, funds decimal.Decimal, pos domain.Position, pendingBuy bool, lot decimal.Decimal) (decimal.Decimal, error) {
	if funds.LessThan(cfg.OrderSizeUSD) {
		return decimal.Zero, errors.Wrapf(domain.ErrInsufficientFunds,
			"available %s < order size %s", funds.String(), cfg.OrderSizeUSD.String())
	}

	qty := buyQuantity(cfg.OrderSizeUSD, sig.Price, lot)
	if !qty.IsPositive() {
		return decimal.Zero, errors.Wrapf(domain.ErrInvalidParameter,
			"order size %s buys less than one lot (%s) at %s", cfg.OrderSizeUSD.String(), lot.String(), sig.Price.String())
	}

	if !cfg.DCAEnabled {
		if pos.IsOpen() {
			return decimal.Zero, errors.Wrapf(domain.ErrPositionAlreadyOpen, "holding %s", pos.Quantity.String())
		}
		if pendingBuy {
			return decimal.Zero, errors.Wrap(domain.ErrPositionAlreadyOpen, "buy order pending")
		}
	}

	return qty, nil
}

// evaluateSell applies the profit gate. The whole position is sold.
func evaluateSell(sig domain.Signal, cfg domain.TickerConfig, pos domain.Position, pendingSell bool) (decimal.Decimal, error) {
	if !pos.IsOpen() {
		return decimal.Zero, errors.Wrap(domain.ErrNoPositionToSell, "no open position")
	}
	if pendingSell {
		return decimal.Zero, errors.Wrap(domain.ErrNoPositionToSell, "sell order pending")
	}
	if !pos.AvgCost.IsPositive() {
		return decimal.Zero, errors.Wrap(domain.ErrNoPositionToSell, "average cost unknown")
	}

	pct := domain.PercentageDiff(sig.Price, pos.AvgCost)
	if pct.LessThan(cfg.MinProfitPct) {
		return decimal.Zero, errors.Wrapf(domain.ErrProfitThresholdNotMet,
			"profit %s%% < %s%%", pct.StringFixed(2), cfg.MinProfitPct.String())
	}

	return pos.Quantity, nil
}
