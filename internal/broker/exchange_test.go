package broker

import (
	"testing"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/vadiminshakov/tvbridge/internal/domain"
)

func TestBinanceFillStatus(t *testing.T) {
	tests := []struct {
		status   binance.OrderStatusType
		executed int64
		want     domain.FillStatus
	}{
		{binance.OrderStatusTypeNew, 0, domain.FillStatusNew},
		{binance.OrderStatusTypePartiallyFilled, 4, domain.FillStatusPartiallyFilled},
		{binance.OrderStatusTypeFilled, 10, domain.FillStatusFilled},
		{binance.OrderStatusTypeCanceled, 0, domain.FillStatusCancelled},
		{binance.OrderStatusTypeCanceled, 4, domain.FillStatusCancelled},
		{binance.OrderStatusTypeExpired, 0, domain.FillStatusCancelled},
		{binance.OrderStatusTypeRejected, 0, domain.FillStatusRejected},
		{binance.OrderStatusTypePendingCancel, 0, domain.FillStatusNew},
		{binance.OrderStatusTypePendingCancel, 4, domain.FillStatusPartiallyFilled},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			got := binanceFillStatus(tt.status, decimal.NewFromInt(tt.executed))
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.IsTerminal(), got.IsTerminal())
		})
	}
}

func TestBybitFillStatus(t *testing.T) {
	tests := []struct {
		status string
		filled int64
		want   domain.FillStatus
	}{
		{"New", 0, domain.FillStatusNew},
		{"Untriggered", 0, domain.FillStatusNew},
		{"PartiallyFilled", 3, domain.FillStatusPartiallyFilled},
		{"Filled", 10, domain.FillStatusFilled},
		{"Cancelled", 0, domain.FillStatusCancelled},
		{"PartiallyFilledCanceled", 3, domain.FillStatusCancelled},
		{"Deactivated", 0, domain.FillStatusCancelled},
		{"Rejected", 0, domain.FillStatusRejected},
		{"", 2, domain.FillStatusPartiallyFilled},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			assert.Equal(t, tt.want, bybitFillStatus(tt.status, decimal.NewFromInt(tt.filled)))
		})
	}
}

func TestBybitFillResult(t *testing.T) {
	res, err := bybitFillResult("PartiallyFilled", "0.25", "")
	assert.NoError(t, err)
	assert.Equal(t, domain.FillStatusPartiallyFilled, res.Status)
	assert.True(t, res.FilledQty.Equal(decimal.RequireFromString("0.25")))
	assert.True(t, res.AvgFillPrice.IsZero())

	_, err = bybitFillResult("Filled", "abc", "1")
	assert.Error(t, err)
}

func TestSubmitErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		rejected bool
	}{
		{"binance insufficient balance", &common.APIError{Code: -2010, Message: "Account has insufficient balance"}, true},
		{"binance filter failure", errors.Wrap(&common.APIError{Code: -1013, Message: "Filter failure: LOT_SIZE"}, "do"), true},
		{"binance unknown status", &common.APIError{Code: binanceErrUnknownStatus}, false},
		{"binance execution timeout", &common.APIError{Code: binanceErrExecTimeout}, false},
		{"binance transport", errors.New("read tcp: connection reset by peer"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.rejected, errors.Is(binanceSubmitError(tt.err), domain.ErrOrderRejected))
		})
	}

	bybitTests := []struct {
		name     string
		err      error
		rejected bool
	}{
		{"bybit api error", &bybit.ErrorResponse{RetCode: 170131, RetMsg: "Insufficient balance"}, true},
		{"bybit rate limit", &bybit.RateLimitV5Error{CommonV5Response: &bybit.CommonV5Response{RetCode: 10006, RetMsg: "Too many visits"}}, true},
		{"bybit transport", errors.New("context deadline exceeded"), false},
	}

	for _, tt := range bybitTests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.rejected, errors.Is(bybitSubmitError(tt.err), domain.ErrOrderRejected))
		})
	}
}
