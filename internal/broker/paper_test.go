package broker

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tvbridge/internal/domain"
	"github.com/vadiminshakov/tvbridge/internal/storage/simstate"
)

func intent(id string, side domain.Side, qty, price int64) domain.OrderIntent {
	return domain.OrderIntent{
		ID:          id,
		Symbol:      "AAPL",
		Side:        side,
		LimitPrice:  decimal.NewFromInt(price),
		Quantity:    decimal.NewFromInt(qty),
		TimeInForce: domain.TimeInForceGTC,
	}
}

func newPaper(t *testing.T, funds int64, fillOnSubmit bool) *Paper {
	t.Helper()
	p, err := NewPaper(PaperConfig{InitialFunds: decimal.NewFromInt(funds), FillOnSubmit: fillOnSubmit}, nil, zap.NewNop())
	require.NoError(t, err)
	return p
}

func TestPaper_SubmitReservesFunds(t *testing.T) {
	ctx := context.Background()
	p := newPaper(t, 1000, false)

	h, err := p.Submit(ctx, intent("b1", domain.SideBuy, 10, 100))
	require.NoError(t, err)
	assert.Equal(t, "b1", h.IntentID)
	assert.Equal(t, venuePaper, h.Venue)

	snap, err := p.Snapshot(ctx, "aapl")
	require.NoError(t, err)
	assert.True(t, snap.AvailableFunds.IsZero())
	assert.True(t, snap.Position.Quantity.IsZero())

	_, err = p.Submit(ctx, intent("b2", domain.SideBuy, 1, 100))
	require.ErrorIs(t, err, domain.ErrOrderRejected)

	// b1 exists, so this is not a refusal that proves no order was placed
	_, err = p.Submit(ctx, intent("b1", domain.SideBuy, 1, 1))
	require.Error(t, err, "duplicate intent id")
	assert.NotErrorIs(t, err, domain.ErrOrderRejected)
}

func TestPaper_MarkPriceFillsCrossingOrders(t *testing.T) {
	ctx := context.Background()
	p := newPaper(t, 2000, false)

	_, err := p.Submit(ctx, intent("b1", domain.SideBuy, 10, 100))
	require.NoError(t, err)

	assert.Equal(t, 0, p.MarkPrice("AAPL", decimal.NewFromInt(101)))
	assert.Equal(t, 1, p.MarkPrice("AAPL", decimal.NewFromInt(99)))

	fill, err := p.OrderStatus(ctx, domain.OrderHandle{IntentID: "b1"})
	require.NoError(t, err)
	assert.Equal(t, domain.FillStatusFilled, fill.Status)
	assert.True(t, fill.FilledQty.Equal(decimal.NewFromInt(10)))
	assert.True(t, fill.AvgFillPrice.Equal(decimal.NewFromInt(100)))

	snap, err := p.Snapshot(ctx, "AAPL")
	require.NoError(t, err)
	assert.True(t, snap.AvailableFunds.Equal(decimal.NewFromInt(1000)))
	assert.True(t, snap.Position.Quantity.Equal(decimal.NewFromInt(10)))
	assert.True(t, snap.Position.AvgCost.Equal(decimal.NewFromInt(100)))

	_, err = p.Submit(ctx, intent("s1", domain.SideSell, 10, 106))
	require.NoError(t, err)
	_, err = p.Submit(ctx, intent("s2", domain.SideSell, 1, 106))
	require.ErrorIs(t, err, domain.ErrOrderRejected, "quantity already reserved by s1")

	assert.Equal(t, 1, p.MarkPrice("AAPL", decimal.NewFromInt(107)))

	snap, err = p.Snapshot(ctx, "AAPL")
	require.NoError(t, err)
	assert.True(t, snap.AvailableFunds.Equal(decimal.NewFromInt(2060)))
	assert.False(t, snap.Position.IsOpen())
}

func TestPaper_CancelReleasesReservation(t *testing.T) {
	ctx := context.Background()
	p := newPaper(t, 1000, false)

	h, err := p.Submit(ctx, intent("b1", domain.SideBuy, 5, 100))
	require.NoError(t, err)
	require.NoError(t, p.Cancel(ctx, h))

	fill, err := p.OrderStatus(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, domain.FillStatusCancelled, fill.Status)

	snap, err := p.Snapshot(ctx, "AAPL")
	require.NoError(t, err)
	assert.True(t, snap.AvailableFunds.Equal(decimal.NewFromInt(1000)))

	_, err = p.OrderStatus(ctx, domain.OrderHandle{IntentID: "nope"})
	assert.ErrorIs(t, err, domain.ErrUnknownOrder)
}

func TestPaper_StatePersists(t *testing.T) {
	ctx := context.Background()
	store, err := simstate.NewStore(t.TempDir(), "test")
	require.NoError(t, err)

	p, err := NewPaper(PaperConfig{InitialFunds: decimal.NewFromInt(1000), FillOnSubmit: true}, store, zap.NewNop())
	require.NoError(t, err)
	_, err = p.Submit(ctx, intent("b1", domain.SideBuy, 3, 100))
	require.NoError(t, err)

	restored, err := NewPaper(PaperConfig{InitialFunds: decimal.NewFromInt(1000)}, store, zap.NewNop())
	require.NoError(t, err)

	snap, err := restored.Snapshot(ctx, "AAPL")
	require.NoError(t, err)
	assert.True(t, snap.AvailableFunds.Equal(decimal.NewFromInt(700)))
	assert.True(t, snap.Position.Quantity.Equal(decimal.NewFromInt(3)))

	fill, err := restored.OrderStatus(ctx, domain.OrderHandle{IntentID: "b1"})
	require.NoError(t, err)
	assert.Equal(t, domain.FillStatusFilled, fill.Status)
}

func TestNewInstrument(t *testing.T) {
	tests := []struct {
		symbol, quote, base, pair string
	}{
		{"btc", "USDT", "BTC", "BTCUSDT"},
		{"BTCUSDT", "USDT", "BTC", "BTCUSDT"},
		{"USDT", "USDT", "USDT", "USDTUSDT"},
		{"AAPL", "", "AAPL", "AAPL"},
	}

	for _, tt := range tests {
		inst := NewInstrument(tt.symbol, tt.quote)
		assert.Equal(t, tt.base, inst.Base)
		assert.Equal(t, tt.pair, inst.Symbol())
	}
}
