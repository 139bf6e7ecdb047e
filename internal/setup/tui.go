// Package setup runs the interactive configuration wizard.
package setup

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/tvbridge/config"
)

// DefaultFile is where the wizard writes the generated config.
const DefaultFile = "config.gen.yaml"

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

// Answers collects everything the wizard asks for.
type Answers struct {
	Platform     string
	QuoteAsset   string
	Addr         string
	PollInterval string
	PaperFunds   string
	ChatID       string
	Tickers      []TickerAnswer
}

// TickerAnswer is one ticker entered in the wizard.
type TickerAnswer struct {
	Symbol       string
	OrderSizeUSD string
	MinProfitPct string
	DCA          bool
}

func screen(step string) {
	fmt.Print("\033[H\033[2J") // clear screen
	fmt.Println(headerStyle.Render("TVBRIDGE CONFIG WIZARD"))
	fmt.Println(stepStyle.Render(step))
}

// RunTUI launches the terminal wizard and writes the result to path.
func RunTUI(path string) error {
	if path == "" {
		path = DefaultFile
	}

	a := Answers{
		QuoteAsset:   "USDT",
		Addr:         ":8080",
		PollInterval: "5s",
		PaperFunds:   "10000",
	}

	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("TVBRIDGE CONFIG WIZARD"))
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Route your chart alerts to a broker.\n"))

	fmt.Println(stepStyle.Render("STEP 1: PLATFORM"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Select Broker Platform").
				Options(
					huh.NewOption("Paper trading", config.PlatformPaper),
					huh.NewOption("Binance", config.PlatformBinance),
					huh.NewOption("Bybit", config.PlatformBybit),
				).
				Value(&a.Platform),
			huh.NewInput().
				Title("Quote Asset").
				Description("Appended to alert tickers (e.g. BTC -> BTCUSDT)").
				Value(&a.QuoteAsset),
		),
	).Run()
	if err != nil {
		return err
	}

	screen("STEP 2: WEBHOOK")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Listen Address").
				Value(&a.Addr),
			huh.NewInput().
				Title("Order Status Poll Interval").
				Description("Duration string (e.g. 5s, 1m)").
				Value(&a.PollInterval).
				Validate(func(s string) error {
					_, err := time.ParseDuration(s)
					return err
				}),
			huh.NewInput().
				Title("Telegram Chat ID").
				Description("Optional. The token is read from TELEGRAM_TOKEN").
				Value(&a.ChatID),
		),
	).Run()
	if err != nil {
		return err
	}

	if a.Platform == config.PlatformPaper {
		screen("STEP 3: PAPER ACCOUNT")
		err = huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Initial Funds").
					Value(&a.PaperFunds).
					Validate(validatePositive),
			),
		).Run()
		if err != nil {
			return err
		}
	}

	for {
		var (
			t    = TickerAnswer{MinProfitPct: "1"}
			more bool
		)
		screen(fmt.Sprintf("TICKER #%d", len(a.Tickers)+1))
		err = huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Symbol").
					Value(&t.Symbol).
					Validate(func(s string) error {
						if strings.TrimSpace(s) == "" {
							return fmt.Errorf("symbol cannot be empty")
						}
						return nil
					}),
				huh.NewInput().
					Title("Order Size (USD)").
					Value(&t.OrderSizeUSD).
					Validate(validatePositive),
				huh.NewInput().
					Title("Min Profit % to Sell").
					Value(&t.MinProfitPct).
					Validate(validateNonNegative),
				huh.NewConfirm().
					Title("Allow DCA buys while a position is open?").
					Value(&t.DCA),
				huh.NewConfirm().
					Title("Add another ticker?").
					Value(&more),
			),
		).Run()
		if err != nil {
			return err
		}
		a.Tickers = append(a.Tickers, t)
		if !more {
			break
		}
	}

	screen("FINAL CONFIRMATION")
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(a.summary()))

	var confirm bool
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save and start").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return err
	}
	if !confirm {
		return fmt.Errorf("setup cancelled by user")
	}

	if err := Write(path, a); err != nil {
		return err
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s\nStarting bridge...", path)))
	time.Sleep(1500 * time.Millisecond) // small pause to read success message
	return nil
}

// Build converts wizard answers into the YAML layout.
func Build(a Answers) (config.ConfigTmp, error) {
	poll, err := time.ParseDuration(a.PollInterval)
	if err != nil {
		return config.ConfigTmp{}, fmt.Errorf("invalid poll interval: %w", err)
	}

	tmp := config.ConfigTmp{
		Platform:   a.Platform,
		QuoteAsset: strings.ToUpper(strings.TrimSpace(a.QuoteAsset)),
		Webhook:    config.WebhookTmp{Addr: a.Addr},
		Watcher:    config.WatcherTmp{PollInterval: poll},
	}
	if a.Platform == config.PlatformPaper {
		tmp.Paper = config.PaperTmp{InitialFundsStr: a.PaperFunds}
	}
	if s := strings.TrimSpace(a.ChatID); s != "" {
		if _, err := fmt.Sscan(s, &tmp.Telegram.ChatID); err != nil {
			return config.ConfigTmp{}, fmt.Errorf("invalid telegram chat id: %w", err)
		}
	}
	for _, t := range a.Tickers {
		tmp.Tickers = append(tmp.Tickers, config.TickerTmp{
			Symbol:          strings.ToUpper(strings.TrimSpace(t.Symbol)),
			OrderSizeUSDStr: t.OrderSizeUSD,
			MinProfitPctStr: t.MinProfitPct,
			DCA:             t.DCA,
		})
	}

	// reject what the loader would reject
	if _, err := tmp.Parse(); err != nil {
		return config.ConfigTmp{}, err
	}
	return tmp, nil
}

// Write renders the answers to a YAML file at path.
func Write(path string, a Answers) error {
	tmp, err := Build(a)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(tmp)
	if err != nil {
		return fmt.Errorf("failed to generate yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}
	return nil
}

func (a Answers) summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Platform: %s\nQuote: %s\nAddr: %s\nPoll: %s\n", a.Platform, a.QuoteAsset, a.Addr, a.PollInterval)
	for _, t := range a.Tickers {
		fmt.Fprintf(&b, "%s: $%s, +%s%%, dca=%t\n", strings.ToUpper(t.Symbol), t.OrderSizeUSD, t.MinProfitPct, t.DCA)
	}
	return b.String()
}

func validatePositive(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if !d.IsPositive() {
		return fmt.Errorf("must be greater than 0")
	}
	return nil
}

func validateNonNegative(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if d.IsNegative() {
		return fmt.Errorf("must not be negative")
	}
	return nil
}
