package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestLoad_Defaults(t *testing.T) {
	conf, err := Load(nil, env(nil))
	require.NoError(t, err)

	assert.Equal(t, PlatformPaper, conf.Platform)
	assert.Equal(t, "USD", conf.QuoteAsset)
	assert.Equal(t, ":8080", conf.Addr)
	assert.Equal(t, 5*time.Second, conf.DedupWindow)
	assert.Equal(t, 32, conf.DedupHistory)
	assert.Equal(t, 10*time.Second, conf.DecisionTimeout)
	assert.True(t, conf.LotSize.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, 5*time.Second, conf.PollInterval)
	assert.Equal(t, "./wal", conf.DataDir)
	assert.True(t, conf.PaperFunds.Equal(decimal.NewFromInt(10000)))
	assert.Equal(t, "info", conf.LogLevel)
}

func TestLoad_Flags(t *testing.T) {
	conf, err := Load([]string{
		"--platform", "BINANCE",
		"--quote", "usdt",
		"--lotsize", "0.001",
		"--dedup-window", "2s",
		"--global-lock",
		"--tls-domains", "a.example.com, b.example.com",
	}, env(map[string]string{
		"BINANCE_API_KEY":    "key",
		"BINANCE_API_SECRET": "secret",
		"WEBHOOK_PASSPHRASE": "pass",
	}))
	require.NoError(t, err)

	assert.Equal(t, PlatformBinance, conf.Platform)
	assert.Equal(t, "USDT", conf.QuoteAsset)
	assert.True(t, conf.LotSize.Equal(decimal.RequireFromString("0.001")))
	assert.Equal(t, 2*time.Second, conf.DedupWindow)
	assert.True(t, conf.GlobalLock)
	assert.Equal(t, []string{"a.example.com", "b.example.com"}, conf.TLSDomains)
	assert.Equal(t, "key", conf.APIKey)
	assert.Equal(t, "pass", conf.Passphrase)
}

func TestLoad_Errors(t *testing.T) {
	liveCreds := map[string]string{"BINANCE_API_KEY": "key", "BINANCE_API_SECRET": "secret"}

	tests := []struct {
		name string
		args []string
		env  map[string]string
		msg  string
	}{
		{name: "unsupported platform", args: []string{"--platform", "kraken"}, msg: "unsupported platform: kraken"},
		{name: "missing credentials", args: []string{"--platform", "bybit"}, msg: "BYBIT_API_KEY"},
		{name: "live without passphrase", args: []string{"--platform", "binance"}, env: liveCreds, msg: "WEBHOOK_PASSPHRASE"},
		{name: "bad lot size", args: []string{"--lotsize", "abc"}, msg: "invalid --lotsize"},
		{name: "bad log level", args: []string{"--loglevel", "trace"}, msg: "unsupported log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.args, env(tt.env))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestValidate_Passphrase(t *testing.T) {
	tests := []struct {
		platform   string
		passphrase string
		ok         bool
	}{
		{PlatformPaper, "", true},
		{PlatformBinance, "", false},
		{PlatformBybit, "", false},
		{PlatformBinance, "s3cret", true},
		{PlatformBybit, "s3cret", true},
	}

	for _, tt := range tests {
		t.Run(tt.platform+"/"+tt.passphrase, func(t *testing.T) {
			c := Config{Platform: tt.platform, APIKey: "k", APISecret: "s", Passphrase: tt.passphrase, LogLevel: "info"}
			err := c.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), "WEBHOOK_PASSPHRASE")
		})
	}
}

const sampleYaml = `
platform: bybit
quote_asset: usdt
log_level: debug
webhook:
  addr: ":9000"
engine:
  dedup_window: 3s
  lot_size: "0.01"
storage:
  dir: /tmp/tvbridge
paper:
  initial_funds: "500"
watcher:
  poll_interval: 1s
telegram:
  chat_id: 42
tickers:
  - symbol: btc
    order_size_usd: "100"
    min_profit_pct: "1.5"
    dca: true
    lot_size: "0.0001"
  - symbol: ETH
    order_size_usd: "50"
    min_profit_pct: "2"
`

func TestLoad_Yaml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYaml), 0o644))

	conf, err := Load([]string{"--config", path}, env(map[string]string{
		"BYBIT_API_KEY":      "k",
		"BYBIT_API_SECRET":   "s",
		"TELEGRAM_TOKEN":     "tg",
		"WEBHOOK_PASSPHRASE": "pass",
	}))
	require.NoError(t, err)

	assert.Equal(t, PlatformBybit, conf.Platform)
	assert.Equal(t, "USDT", conf.QuoteAsset)
	assert.Equal(t, ":9000", conf.Addr)
	assert.Equal(t, 3*time.Second, conf.DedupWindow)
	assert.Equal(t, 32, conf.DedupHistory)
	assert.True(t, conf.LotSize.Equal(decimal.RequireFromString("0.01")))
	assert.Equal(t, "/tmp/tvbridge", conf.DataDir)
	assert.True(t, conf.PaperFunds.Equal(decimal.NewFromInt(500)))
	assert.Equal(t, time.Second, conf.PollInterval)
	assert.Equal(t, int64(42), conf.TelegramChatID)
	assert.Equal(t, "tg", conf.TelegramToken)

	require.Len(t, conf.Tickers, 2)
	assert.Equal(t, "BTC", conf.Tickers[0].Symbol)
	assert.True(t, conf.Tickers[0].Params.DCAEnabled)
	assert.True(t, conf.Tickers[0].Params.MinProfitPct.Equal(decimal.RequireFromString("1.5")))
	assert.True(t, conf.Tickers[1].Params.LotSize.IsZero())
}

func TestFromYaml_InvalidTicker(t *testing.T) {
	_, err := FromYaml([]byte("tickers:\n  - symbol: BTC\n    order_size_usd: \"0\"\n"))
	require.Error(t, err)

	_, err = FromYaml([]byte("tickers:\n  - symbol: BTC\n    order_size_usd: lots\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "order_size_usd")

	_, err = FromYaml([]byte("tickers:\n  - order_size_usd: \"10\"\n"))
	require.Error(t, err)
}

func TestConfigTmp_RoundTrip(t *testing.T) {
	tmp := ConfigTmp{
		Platform: "paper",
		Tickers:  []TickerTmp{{Symbol: "AAPL", OrderSizeUSDStr: "1000", MinProfitPctStr: "5"}},
	}
	conf, err := tmp.Parse()
	require.NoError(t, err)
	require.Len(t, conf.Tickers, 1)
	assert.True(t, conf.Tickers[0].Params.OrderSizeUSD.Equal(decimal.NewFromInt(1000)))
}
