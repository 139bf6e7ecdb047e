package config

import (
	"flag"
	"fmt"
	"strings"
	"time"
)

type cliFlags struct {
	platform        *string
	quote           *string
	addr            *string
	dataDir         *string
	logLevel        *string
	dedupWindow     *time.Duration
	dedupHistory    *int
	decisionTimeout *time.Duration
	lotSize         *string
	globalLock      *bool
	pollInterval    *time.Duration
	paperFunds      *string
	fillOnSubmit    *bool
	tlsDomains      *string
}

func registerFlags(fs *flag.FlagSet) cliFlags {
	return cliFlags{
		platform:        fs.String("platform", defaultPlatform, "broker platform: paper, binance or bybit"),
		quote:           fs.String("quote", defaultQuoteAsset, "quote asset appended to tickers, example: USDT"),
		addr:            fs.String("addr", defaultAddr, "webhook listen address"),
		dataDir:         fs.String("datadir", defaultDataDir, "directory for WAL and paper state"),
		logLevel:        fs.String("loglevel", defaultLogLevel, "log level: debug, info, warn, error"),
		dedupWindow:     fs.Duration("dedup-window", defaultDedupWindow, "signals of the same side closer than this are duplicates"),
		dedupHistory:    fs.Int("dedup-history", defaultDedupHistory, "fingerprints kept per symbol"),
		decisionTimeout: fs.Duration("decision-timeout", defaultDecisionTimeout, "upper bound for a single decision"),
		lotSize:         fs.String("lotsize", defaultLotSize.String(), "default quantity step, example: 0.001"),
		globalLock:      fs.Bool("global-lock", false, "serialize decisions across all symbols"),
		pollInterval:    fs.Duration("poll-interval", defaultPollInterval, "order status poll interval"),
		paperFunds:      fs.String("paper-funds", defaultPaperFunds.String(), "initial paper trading funds"),
		fillOnSubmit:    fs.Bool("paper-fill", false, "fill paper orders immediately at the limit price"),
		tlsDomains:      fs.String("tls-domains", "", "comma separated domains for automatic TLS"),
	}
}

func (f cliFlags) config() (Config, error) {
	lot, err := parseDecimal(*f.lotSize, defaultLotSize)
	if err != nil {
		return Config{}, fmt.Errorf("invalid --lotsize provided, --lotsize=%s", *f.lotSize)
	}
	funds, err := parseDecimal(*f.paperFunds, defaultPaperFunds)
	if err != nil {
		return Config{}, fmt.Errorf("invalid --paper-funds provided, --paper-funds=%s", *f.paperFunds)
	}

	var domains []string
	for _, d := range strings.Split(*f.tlsDomains, ",") {
		if d = strings.TrimSpace(d); d != "" {
			domains = append(domains, d)
		}
	}

	conf := Config{
		Platform:          strings.ToLower(*f.platform),
		QuoteAsset:        strings.ToUpper(*f.quote),
		Addr:              *f.addr,
		DataDir:           *f.dataDir,
		LogLevel:          *f.logLevel,
		DedupWindow:       *f.dedupWindow,
		DedupHistory:      *f.dedupHistory,
		DecisionTimeout:   *f.decisionTimeout,
		LotSize:           lot,
		GlobalLock:        *f.globalLock,
		PollInterval:      *f.pollInterval,
		PaperFunds:        funds,
		PaperFillOnSubmit: *f.fillOnSubmit,
		TLSDomains:        domains,
	}
	conf.applyDefaults()
	return conf, nil
}
