package internal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	binance "github.com/adshao/go-binance/v2"
	bybit "github.com/hirokisan/bybit/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tvbridge/config"
	"github.com/vadiminshakov/tvbridge/internal/domain"
)

type recordingSender struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recordingSender) Send(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, text)
	return nil
}

func (r *recordingSender) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Platform:        config.PlatformPaper,
		QuoteAsset:      "USD",
		DataDir:         t.TempDir(),
		Addr:            "127.0.0.1:0",
		DedupWindow:     5 * time.Second,
		DedupHistory:    32,
		DecisionTimeout: time.Second,
		LotSize:         decimal.NewFromInt(1),
		PollInterval:    time.Hour,
		PaperFunds:      decimal.NewFromInt(2000),
		Tickers: []config.TickerSeed{{
			Symbol: "AAPL",
			Params: domain.TickerParams{
				OrderSizeUSD: decimal.NewFromInt(1000),
				MinProfitPct: decimal.NewFromInt(5),
			},
		}},
	}
}

func newTestBridge(t *testing.T, conf config.Config, sender *recordingSender) *Bridge {
	t.Helper()
	client, err := NewClient(conf)
	require.NoError(t, err)

	b, err := NewBridge(conf, client, zap.NewNop(), WithSender(sender))
	require.NoError(t, err)
	return b
}

func signal(side domain.Side, price int64, at time.Time) domain.Signal {
	return domain.Signal{Symbol: "AAPL", Side: side, Price: decimal.NewFromInt(price), ReceivedAt: at}
}

func TestBridge_PaperRoundTrip(t *testing.T) {
	ctx := context.Background()
	sender := &recordingSender{}
	b := newTestBridge(t, testConfig(t), sender)
	defer b.Close()

	now := time.Now()
	ev, err := b.HandleSignal(ctx, signal(domain.SideBuy, 100, now))
	require.NoError(t, err)
	assert.True(t, ev.Accepted())
	assert.True(t, ev.Quantity.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, domain.StateOpen, b.Engine().State("AAPL"))

	ev, err = b.HandleSignal(ctx, signal(domain.SideSell, 104, now.Add(time.Minute)))
	assert.ErrorIs(t, err, domain.ErrProfitThresholdNotMet)
	assert.Equal(t, "profit_threshold_not_met", ev.Outcome)

	_, err = b.HandleSignal(ctx, signal(domain.SideSell, 104, now.Add(time.Minute+time.Second)))
	assert.ErrorIs(t, err, domain.ErrDuplicateSignal)

	_, err = b.HandleSignal(ctx, signal(domain.SideSell, 106, now.Add(2*time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, domain.StateFlat, b.Engine().State("AAPL"))

	records, err := b.journal.EventsAfter(0)
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, "duplicate_signal", records[2].Event.Outcome)

	// two fills, no decision messages because the dispatcher loop is not running
	msgs := sender.messages()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0], "BUY AAPL filled")
	assert.Contains(t, msgs[1], "SELL AAPL filled")
}

func TestBridge_FaultsAndRejections(t *testing.T) {
	b := newTestBridge(t, testConfig(t), &recordingSender{})
	defer b.Close()

	ev, err := b.HandleSignal(context.Background(), domain.Signal{Symbol: "MSFT", Side: domain.SideBuy, Price: decimal.NewFromInt(10)})
	assert.ErrorIs(t, err, domain.ErrConfigMissing)
	assert.Equal(t, "config_missing", ev.Outcome)

	ev, err = b.HandleSignal(context.Background(), domain.Signal{Symbol: "", Side: domain.SideBuy, Price: decimal.NewFromInt(10)})
	assert.ErrorIs(t, err, domain.ErrMalformedSignal)
	assert.Equal(t, "malformed_signal", ev.Outcome)

	records, err := b.journal.EventsAfter(0)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestBridge_SeedDoesNotOverrideStore(t *testing.T) {
	conf := testConfig(t)
	b := newTestBridge(t, conf, &recordingSender{})
	_, err := b.Tickers().Set("AAPL", domain.TickerParams{
		OrderSizeUSD: decimal.NewFromInt(50),
		MinProfitPct: decimal.NewFromInt(1),
	})
	require.NoError(t, err)
	b.Close()

	reopened := newTestBridge(t, conf, &recordingSender{})
	defer reopened.Close()

	cfg, err := reopened.Tickers().Get("AAPL")
	require.NoError(t, err)
	assert.True(t, cfg.OrderSizeUSD.Equal(decimal.NewFromInt(50)))
}

func TestBridge_Webhook(t *testing.T) {
	b := newTestBridge(t, testConfig(t), &recordingSender{})
	defer b.Close()

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"ticker":"aapl","action":"buy","price":"100"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"outcome":"accepted"`)

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec = httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, req)
	assert.Contains(t, rec.Body.String(), `tvbridge_decisions_total{outcome="accepted",symbol="AAPL"} 1`)
}

func TestBridge_CancelOrder(t *testing.T) {
	ctx := context.Background()
	sender := &recordingSender{}
	b := newTestBridge(t, testConfig(t), sender)
	defer b.Close()

	// decided without a mark price, so the paper order rests
	intent, err := b.Engine().Decide(ctx, signal(domain.SideBuy, 100, time.Now()))
	require.NoError(t, err)
	require.Equal(t, domain.StatePendingBuy, b.Engine().State("AAPL"))

	req := httptest.NewRequest(http.MethodDelete, "/orders/"+intent.ID, nil)
	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"cancelled"`)

	assert.Equal(t, domain.StateFlat, b.Engine().State("AAPL"))
	assert.Empty(t, b.Engine().PendingOrders())

	snap, err := b.broker.Snapshot(ctx, "AAPL")
	require.NoError(t, err)
	assert.True(t, snap.AvailableFunds.Equal(decimal.NewFromInt(2000)))

	msgs := sender.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "BUY AAPL cancelled")

	_, err = b.CancelOrder(ctx, intent.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBridge_RunStopsOnCancel(t *testing.T) {
	b := newTestBridge(t, testConfig(t), &recordingSender{})
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("bridge did not stop")
	}
}

func TestNewBroker(t *testing.T) {
	conf := testConfig(t)

	tests := []struct {
		name        string
		client      any
		expectError bool
	}{
		{name: "binance", client: &binance.Client{}},
		{name: "bybit", client: &bybit.Client{}},
		{name: "paper in memory", client: nil},
		{name: "unsupported", client: "kraken", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			br, err := newBroker(tt.client, conf, zap.NewNop())
			if tt.expectError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "unsupported client type")
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, br)
		})
	}

	_, err := NewClient(config.Config{Platform: "kraken"})
	require.Error(t, err)
}
