package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tvbridge/internal/broker"
	"github.com/vadiminshakov/tvbridge/internal/domain"
	"github.com/vadiminshakov/tvbridge/internal/engine"
	"github.com/vadiminshakov/tvbridge/internal/storage/tickerconfigs"
)

func newPaperEngine(t *testing.T, funds int64, dca bool) (*engine.Engine, *broker.Paper) {
	t.Helper()

	configs := tickerconfigs.NewMemoryStore()
	_, err := configs.Set("AAPL", domain.TickerParams{
		OrderSizeUSD: decimal.NewFromInt(1000),
		MinProfitPct: decimal.NewFromInt(5),
		DCAEnabled:   dca,
	})
	require.NoError(t, err)

	paper, err := broker.NewPaper(broker.PaperConfig{InitialFunds: decimal.NewFromInt(funds)}, nil, zap.NewNop())
	require.NoError(t, err)

	e, err := engine.New(configs, paper, engine.Config{}, zap.NewNop(), engine.WithSubmitter(paper))
	require.NoError(t, err)

	return e, paper
}

func TestConcurrentBuysDoNotDoubleSpend(t *testing.T) {
	for _, dca := range []bool{true, false} {
		for i := 0; i < 20; i++ {
			e, _ := newPaperEngine(t, 1000, dca)
			now := time.Now()

			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				results []error
			)
			for j := 0; j < 2; j++ {
				wg.Add(1)
				go func(j int) {
					defer wg.Done()
					_, err := e.Decide(context.Background(), domain.Signal{
						Symbol:     "AAPL",
						Side:       domain.SideBuy,
						Price:      decimal.NewFromInt(100),
						ReceivedAt: now.Add(time.Duration(j) * time.Minute),
					})
					mu.Lock()
					results = append(results, err)
					mu.Unlock()
				}(j)
			}
			wg.Wait()

			accepted, insufficient := 0, 0
			for _, err := range results {
				switch {
				case err == nil:
					accepted++
				case domain.Reason(err) == "insufficient_funds":
					insufficient++
				default:
					t.Fatalf("unexpected outcome: %v", err)
				}
			}
			assert.Equal(t, 1, accepted)
			assert.Equal(t, 1, insufficient)
			assert.Len(t, e.PendingOrders(), 1)
		}
	}
}

func TestPaperRoundTrip(t *testing.T) {
	ctx := context.Background()
	e, paper := newPaperEngine(t, 2000, false)
	now := time.Now()

	buy, err := e.Decide(ctx, domain.Signal{Symbol: "AAPL", Side: domain.SideBuy, Price: decimal.NewFromInt(100), ReceivedAt: now})
	require.NoError(t, err)
	assert.True(t, buy.Quantity.Equal(decimal.NewFromInt(10)))

	_, err = e.Decide(ctx, domain.Signal{Symbol: "AAPL", Side: domain.SideBuy, Price: decimal.NewFromInt(100), ReceivedAt: now.Add(time.Minute)})
	assert.ErrorIs(t, err, domain.ErrPositionAlreadyOpen)

	require.Equal(t, 1, paper.MarkPrice("AAPL", decimal.NewFromInt(100)))

	w, err := broker.NewWatcher(e, paper, time.Second, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 1, w.Poll(ctx))
	assert.Equal(t, domain.StateOpen, e.State("AAPL"))

	_, err = e.Decide(ctx, domain.Signal{Symbol: "AAPL", Side: domain.SideSell, Price: decimal.NewFromInt(104), ReceivedAt: now.Add(2 * time.Minute)})
	assert.ErrorIs(t, err, domain.ErrProfitThresholdNotMet)

	sell, err := e.Decide(ctx, domain.Signal{Symbol: "AAPL", Side: domain.SideSell, Price: decimal.NewFromInt(106), ReceivedAt: now.Add(3 * time.Minute)})
	require.NoError(t, err)
	assert.True(t, sell.Quantity.Equal(decimal.NewFromInt(10)))

	require.Equal(t, 1, paper.MarkPrice("AAPL", decimal.NewFromInt(106)))
	assert.Equal(t, 1, w.Poll(ctx))
	assert.Equal(t, domain.StateFlat, e.State("AAPL"))

	snap, err := paper.Snapshot(ctx, "AAPL")
	require.NoError(t, err)
	assert.True(t, snap.AvailableFunds.Equal(decimal.NewFromInt(2060)))
}

type lostOrders struct{}

func (lostOrders) OrderStatus(_ context.Context, handle domain.OrderHandle) (domain.FillResult, error) {
	return domain.FillResult{}, errors.Wrapf(domain.ErrUnknownOrder, "order %s", handle.IntentID)
}

func TestOrderUnknownToBrokerReleasesSymbol(t *testing.T) {
	ctx := context.Background()
	e, _ := newPaperEngine(t, 2000, false)
	now := time.Now()

	_, err := e.Decide(ctx, domain.Signal{Symbol: "AAPL", Side: domain.SideBuy, Price: decimal.NewFromInt(100), ReceivedAt: now})
	require.NoError(t, err)
	require.Equal(t, domain.StatePendingBuy, e.State("AAPL"))

	w, err := broker.NewWatcher(e, lostOrders{}, time.Second, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 1, w.Poll(ctx))
	assert.Equal(t, 0, w.Poll(ctx))

	assert.Empty(t, e.PendingOrders())
	assert.Equal(t, domain.StateFlat, e.State("AAPL"))

	_, err = e.Decide(ctx, domain.Signal{Symbol: "AAPL", Side: domain.SideBuy, Price: decimal.NewFromInt(100), ReceivedAt: now.Add(time.Hour)})
	require.NoError(t, err)
}
