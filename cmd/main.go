// Command tvbridge turns chart alert webhooks into broker limit orders.
// It supports paper trading, Binance and Bybit spot and can be configured
// via a YAML file or command-line arguments.
//
// Usage:
//
//	tvbridge --config config.yaml
//	tvbridge run --platform paper
//	tvbridge setup
//
// Required environment variables:
//
//	For Binance: BINANCE_API_KEY, BINANCE_API_SECRET, WEBHOOK_PASSPHRASE
//	For Bybit: BYBIT_API_KEY, BYBIT_API_SECRET, WEBHOOK_PASSPHRASE
//
// Optional: TELEGRAM_TOKEN, TELEGRAM_CHAT_ID, and WEBHOOK_PASSPHRASE for paper
// trading. A .env file in the working directory is loaded first.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vadiminshakov/tvbridge/config"
	"github.com/vadiminshakov/tvbridge/internal"
	"github.com/vadiminshakov/tvbridge/internal/notifier"
	"github.com/vadiminshakov/tvbridge/internal/setup"
)

func main() {
	args := os.Args[1:]
	if len(args) > 0 {
		switch args[0] {
		case "setup":
			if err := setup.RunTUI(setup.DefaultFile); err != nil {
				log.Fatal(err)
			}
			args = []string{"--config", setup.DefaultFile}
		case "run":
			args = args[1:]
		}
	}

	conf, err := config.Get(args)
	if err != nil {
		log.Fatal(err)
	}

	logger, err := newLogger(conf.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	client, err := internal.NewClient(conf)
	if err != nil {
		logger.Fatal("failed to create platform client", zap.Error(err))
	}

	var opts []internal.Option
	if conf.TelegramToken != "" {
		tg, err := notifier.NewTelegram(conf.TelegramToken, conf.TelegramChatID, logger.Named("telegram"))
		if err != nil {
			logger.Fatal("failed to create telegram notifier", zap.Error(err))
		}
		opts = append(opts, internal.WithSender(tg))
	}

	bridge, err := internal.NewBridge(conf, client, logger, opts...)
	if err != nil {
		logger.Fatal("failed to create bridge", zap.Error(err))
	}
	defer bridge.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := bridge.Run(ctx); err != nil {
		logger.Error("bridge stopped", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
