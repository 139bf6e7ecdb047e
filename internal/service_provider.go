package internal

import (
	"fmt"
	"path/filepath"

	binance "github.com/adshao/go-binance/v2"
	bybit "github.com/hirokisan/bybit/v2"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tvbridge/config"
	"github.com/vadiminshakov/tvbridge/internal/broker"
	"github.com/vadiminshakov/tvbridge/internal/storage/simstate"
)

// NewClient creates the platform client described by conf.
func NewClient(conf config.Config) (any, error) {
	switch conf.Platform {
	case config.PlatformBinance:
		return broker.NewBinanceClient(conf.APIKey, conf.APISecret), nil
	case config.PlatformBybit:
		return broker.NewBybitClient(conf.APIKey, conf.APISecret), nil
	case config.PlatformPaper:
		return simstate.NewStore(filepath.Join(conf.DataDir, "paper"), conf.QuoteAsset)
	default:
		return nil, fmt.Errorf("unsupported platform: %s", conf.Platform)
	}
}

// newBroker dispatches to the platform-specific broker based on the client type.
func newBroker(client any, conf config.Config, l *zap.Logger) (broker.Broker, error) {
	switch c := client.(type) {
	case *binance.Client:
		return broker.NewBinanceBroker(c, conf.QuoteAsset)
	case *bybit.Client:
		return broker.NewBybitBroker(c, conf.QuoteAsset)
	case *simstate.Store:
		return broker.NewPaper(broker.PaperConfig{
			InitialFunds: conf.PaperFunds,
			FillOnSubmit: conf.PaperFillOnSubmit,
		}, c, l.Named("paper"))
	case nil:
		return broker.NewPaper(broker.PaperConfig{
			InitialFunds: conf.PaperFunds,
			FillOnSubmit: conf.PaperFillOnSubmit,
		}, nil, l.Named("paper"))
	default:
		return nil, fmt.Errorf("unsupported client type: %T", client)
	}
}
