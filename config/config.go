package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/tvbridge/internal/domain"
)

const (
	PlatformPaper   = "paper"
	PlatformBinance = "binance"
	PlatformBybit   = "bybit"

	defaultPlatform        = PlatformPaper
	defaultQuoteAsset      = "USD"
	defaultAddr            = ":8080"
	defaultDedupWindow     = 5 * time.Second
	defaultDedupHistory    = 32
	defaultDecisionTimeout = 10 * time.Second
	defaultPollInterval    = 5 * time.Second
	defaultDataDir         = "./wal"
	defaultLogLevel        = "info"
)

var (
	defaultLotSize    = decimal.NewFromInt(1)
	defaultPaperFunds = decimal.NewFromInt(10000)
)

type Config struct {
	Platform   string
	QuoteAsset string
	LogLevel   string
	DataDir    string

	Addr         string
	Passphrase   string
	TLSDomains   []string
	CertCacheDir string

	DedupWindow     time.Duration
	DedupHistory    int
	DecisionTimeout time.Duration
	LotSize         decimal.Decimal
	GlobalLock      bool

	PollInterval time.Duration

	PaperFunds        decimal.Decimal
	PaperFillOnSubmit bool

	TelegramToken  string
	TelegramChatID int64

	APIKey    string
	APISecret string

	Tickers []TickerSeed
}

// TickerSeed is a ticker config applied on startup when the store has none for the symbol.
type TickerSeed struct {
	Symbol string
	Params domain.TickerParams
}

// ConfigTmp is the YAML layout. Decimals are kept as strings.
type ConfigTmp struct {
	Platform   string `yaml:"platform"`
	QuoteAsset string `yaml:"quote_asset,omitempty"`
	LogLevel   string `yaml:"log_level,omitempty"`

	Webhook  WebhookTmp  `yaml:"webhook,omitempty"`
	Engine   EngineTmp   `yaml:"engine,omitempty"`
	Storage  StorageTmp  `yaml:"storage,omitempty"`
	Paper    PaperTmp    `yaml:"paper,omitempty"`
	Watcher  WatcherTmp  `yaml:"watcher,omitempty"`
	Telegram TelegramTmp `yaml:"telegram,omitempty"`

	Tickers []TickerTmp `yaml:"tickers,omitempty"`
}

type WebhookTmp struct {
	Addr         string   `yaml:"addr,omitempty"`
	TLSDomains   []string `yaml:"tls_domains,omitempty"`
	CertCacheDir string   `yaml:"cert_cache_dir,omitempty"`
}

type EngineTmp struct {
	DedupWindow     time.Duration `yaml:"dedup_window,omitempty"`
	DedupHistory    int           `yaml:"dedup_history,omitempty"`
	DecisionTimeout time.Duration `yaml:"decision_timeout,omitempty"`
	LotSizeStr      string        `yaml:"lot_size,omitempty"`
	GlobalLock      bool          `yaml:"global_lock,omitempty"`
}

type StorageTmp struct {
	Dir string `yaml:"dir,omitempty"`
}

type PaperTmp struct {
	InitialFundsStr string `yaml:"initial_funds,omitempty"`
	FillOnSubmit    bool   `yaml:"fill_on_submit,omitempty"`
}

type WatcherTmp struct {
	PollInterval time.Duration `yaml:"poll_interval,omitempty"`
}

type TelegramTmp struct {
	ChatID int64 `yaml:"chat_id,omitempty"`
}

type TickerTmp struct {
	Symbol          string `yaml:"symbol"`
	OrderSizeUSDStr string `yaml:"order_size_usd"`
	MinProfitPctStr string `yaml:"min_profit_pct"`
	DCA             bool   `yaml:"dca,omitempty"`
	LotSizeStr      string `yaml:"lot_size,omitempty"`
}

// Get loads .env, then reads the YAML file given by --config or falls back to CLI flags.
func Get(args []string) (Config, error) {
	_ = godotenv.Load() // best-effort
	return Load(args, os.Getenv)
}

// Load parses args and fills secrets through getenv.
func Load(args []string, getenv func(string) string) (Config, error) {
	fs := flag.NewFlagSet("tvbridge", flag.ContinueOnError)
	path := fs.String("config", "", "path to yaml config")
	cli := registerFlags(fs)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	var (
		conf Config
		err  error
	)
	if *path != "" {
		conf, err = getYaml(*path)
	} else {
		conf, err = cli.config()
	}
	if err != nil {
		return Config{}, err
	}

	applyEnv(&conf, getenv)
	if err := conf.Validate(); err != nil {
		return Config{}, err
	}
	return conf, nil
}

func getYaml(path string) (Config, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return FromYaml(f)
}

// FromYaml parses a YAML document and applies defaults.
func FromYaml(data []byte) (Config, error) {
	var tmp ConfigTmp
	if err := yaml.Unmarshal(data, &tmp); err != nil {
		return Config{}, err
	}
	return tmp.Parse()
}

// Parse converts the YAML layout into a Config.
func (c ConfigTmp) Parse() (Config, error) {
	conf := Config{
		Platform:          strings.ToLower(strings.TrimSpace(c.Platform)),
		QuoteAsset:        strings.ToUpper(strings.TrimSpace(c.QuoteAsset)),
		LogLevel:          c.LogLevel,
		DataDir:           c.Storage.Dir,
		Addr:              c.Webhook.Addr,
		TLSDomains:        c.Webhook.TLSDomains,
		CertCacheDir:      c.Webhook.CertCacheDir,
		DedupWindow:       c.Engine.DedupWindow,
		DedupHistory:      c.Engine.DedupHistory,
		DecisionTimeout:   c.Engine.DecisionTimeout,
		GlobalLock:        c.Engine.GlobalLock,
		PollInterval:      c.Watcher.PollInterval,
		PaperFillOnSubmit: c.Paper.FillOnSubmit,
		TelegramChatID:    c.Telegram.ChatID,
	}

	var err error
	if conf.LotSize, err = parseDecimal(c.Engine.LotSizeStr, defaultLotSize); err != nil {
		return Config{}, fmt.Errorf("incorrect 'engine.lot_size' param in yaml config (must be a decimal), error: %w", err)
	}
	if conf.PaperFunds, err = parseDecimal(c.Paper.InitialFundsStr, defaultPaperFunds); err != nil {
		return Config{}, fmt.Errorf("incorrect 'paper.initial_funds' param in yaml config (must be a decimal), error: %w", err)
	}

	for _, t := range c.Tickers {
		seed, err := t.parse()
		if err != nil {
			return Config{}, err
		}
		conf.Tickers = append(conf.Tickers, seed)
	}

	conf.applyDefaults()
	return conf, nil
}

func (t TickerTmp) parse() (TickerSeed, error) {
	symbol := domain.NormalizeSymbol(t.Symbol)
	if symbol == "" {
		return TickerSeed{}, fmt.Errorf("ticker symbol cannot be empty")
	}

	size, err := decimal.NewFromString(t.OrderSizeUSDStr)
	if err != nil {
		return TickerSeed{}, fmt.Errorf("incorrect 'order_size_usd' for ticker %s (must be a decimal), error: %w", symbol, err)
	}
	minProfit, err := parseDecimal(t.MinProfitPctStr, decimal.Zero)
	if err != nil {
		return TickerSeed{}, fmt.Errorf("incorrect 'min_profit_pct' for ticker %s (must be a decimal), error: %w", symbol, err)
	}
	lot, err := parseDecimal(t.LotSizeStr, decimal.Zero)
	if err != nil {
		return TickerSeed{}, fmt.Errorf("incorrect 'lot_size' for ticker %s (must be a decimal), error: %w", symbol, err)
	}

	params := domain.TickerParams{
		OrderSizeUSD: size,
		MinProfitPct: minProfit,
		DCAEnabled:   t.DCA,
		LotSize:      lot,
	}
	if err := params.Validate(); err != nil {
		return TickerSeed{}, fmt.Errorf("ticker %s: %w", symbol, err)
	}
	return TickerSeed{Symbol: symbol, Params: params}, nil
}

func (c *Config) applyDefaults() {
	if c.Platform == "" {
		c.Platform = defaultPlatform
	}
	if c.QuoteAsset == "" {
		c.QuoteAsset = defaultQuoteAsset
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.DataDir == "" {
		c.DataDir = defaultDataDir
	}
	if c.Addr == "" {
		c.Addr = defaultAddr
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = defaultDedupWindow
	}
	if c.DedupHistory <= 0 {
		c.DedupHistory = defaultDedupHistory
	}
	if c.DecisionTimeout <= 0 {
		c.DecisionTimeout = defaultDecisionTimeout
	}
	if !c.LotSize.IsPositive() {
		c.LotSize = defaultLotSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if !c.PaperFunds.IsPositive() {
		c.PaperFunds = defaultPaperFunds
	}
}

// applyEnv fills secrets that never live in the config file.
func applyEnv(c *Config, getenv func(string) string) {
	switch c.Platform {
	case PlatformBinance:
		c.APIKey = getenv("BINANCE_API_KEY")
		c.APISecret = getenv("BINANCE_API_SECRET")
	case PlatformBybit:
		c.APIKey = getenv("BYBIT_API_KEY")
		c.APISecret = getenv("BYBIT_API_SECRET")
	}
	c.TelegramToken = getenv("TELEGRAM_TOKEN")
	if c.TelegramChatID == 0 {
		if id, err := strconv.ParseInt(getenv("TELEGRAM_CHAT_ID"), 10, 64); err == nil {
			c.TelegramChatID = id
		}
	}
	if pass := getenv("WEBHOOK_PASSPHRASE"); pass != "" {
		c.Passphrase = pass
	}
}

// Validate checks the platform, its credentials and the webhook passphrase.
func (c Config) Validate() error {
	switch c.Platform {
	case PlatformPaper:
	case PlatformBinance:
		if c.APIKey == "" || c.APISecret == "" {
			return fmt.Errorf("BINANCE_API_KEY and BINANCE_API_SECRET environment variables must be set")
		}
	case PlatformBybit:
		if c.APIKey == "" || c.APISecret == "" {
			return fmt.Errorf("BYBIT_API_KEY and BYBIT_API_SECRET environment variables must be set")
		}
	default:
		return fmt.Errorf("unsupported platform: %s", c.Platform)
	}

	// live accounts never run with an open webhook and admin API
	if c.Platform != PlatformPaper && c.Passphrase == "" {
		return fmt.Errorf("WEBHOOK_PASSPHRASE environment variable must be set for platform %s", c.Platform)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log level: %s", c.LogLevel)
	}
	return nil
}

func parseDecimal(s string, def decimal.Decimal) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	return decimal.NewFromString(s)
}
