// Package cli implements the lirashield command-line tool.
package cli

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/google/subcommands"

	"lirashield/internal/config"
	"lirashield/internal/logging"
	"lirashield/pkg/lirashield"
)

// App carries the global flags and the output streams shared by every command.
type App struct {
	Overrides config.Overrides
	// Plain prints raw markdown instead of rendering it for the terminal.
	Plain  bool
	Stdout io.Writer
	Stderr io.Writer
	// Market replaces live market data; tests use it to stay offline.
	Market lirashield.MarketData
	// Now overrides the wall clock.
	Now func() time.Time
}

// NewApp returns an App writing to the process streams.
func NewApp() *App {
	return &App{Stdout: os.Stdout, Stderr: os.Stderr}
}

// SetFlags registers the global flags.
func (a *App) SetFlags(f *flag.FlagSet) {
	f.StringVar(&a.Overrides.DataDir, "data-dir", "", "Directory holding the database")
	f.StringVar(&a.Overrides.DBPath, "db", "", "SQLite database path (overrides data-dir)")
	f.StringVar(&a.Overrides.ConfigPath, "config", "", "Path to the JSON user config")
	f.StringVar(&a.Overrides.LogLevel, "log-level", "", "debug, info, warn or error")
	f.BoolVar(&a.Plain, "plain", false, "print raw markdown instead of rendering it")
}

// Register adds every command to the commander.
func (a *App) Register(c *subcommands.Commander) {
	c.Register(c.HelpCommand(), "")
	c.Register(c.FlagsCommand(), "")
	c.Register(c.CommandsCommand(), "")

	c.Register(&analyzeCmd{app: a}, "analysis")
	c.Register(&fifoCmd{app: a}, "analysis")
	c.Register(&cpiCmd{app: a}, "analysis")
	c.Register(&chartCmd{app: a}, "analysis")

	c.Register(&addTxCmd{app: a}, "transactions")
	c.Register(&listTxCmd{app: a}, "transactions")

	c.Register(newImportRatesCmd(a), "data")
	c.Register(newImportCPICmd(a), "data")
	c.Register(&fetchRatesCmd{app: a}, "data")
	c.Register(&refreshPricesCmd{app: a}, "data")
}

// open resolves the configuration and opens the core. The returned func closes it.
func (a *App) open() (*lirashield.Core, config.Config, func(), error) {
	cfg, err := config.Load(a.Overrides)
	if err != nil {
		return nil, config.Config{}, nil, err
	}
	logger := logging.NewConsoleLogger(a.Stderr, cfg.LogLevel, cfg.LogFormat)
	core, err := lirashield.OpenWithOptions(lirashield.Options{
		DBPath:             cfg.DBPath,
		Logger:             logger,
		FetchCacheTTL:      cfg.FetchCacheTTL,
		FetchRatePerSecond: cfg.FetchRatePerSecond,
		FetchBurst:         cfg.FetchBurst,
		HTTPTimeout:        cfg.HTTPTimeout,
		Market:             a.Market,
		Now:                a.Now,
		AI: lirashield.AISettings{
			Provider: cfg.AI.Provider,
			Model:    cfg.AI.Model,
			APIKey:   cfg.AI.APIKey,
			BaseURL:  cfg.AI.BaseURL,
		},
	})
	if err != nil {
		return nil, config.Config{}, nil, err
	}
	closer := func() {
		if err := core.Close(); err != nil {
			logger.Error("failed to close core", "err", err)
		}
	}
	return core, cfg, closer, nil
}

// printMarkdown renders md for the terminal, falling back to the raw text.
func (a *App) printMarkdown(md string) {
	if a.Plain {
		fmt.Fprint(a.Stdout, md)
		return
	}
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(120))
	if err != nil {
		fmt.Fprint(a.Stdout, md)
		return
	}
	out, err := r.Render(md)
	if err != nil {
		fmt.Fprint(a.Stdout, md)
		return
	}
	fmt.Fprint(a.Stdout, out)
}

// fail reports err on stderr and maps it to an exit status.
func (a *App) fail(what string, err error) subcommands.ExitStatus {
	msg := err.Error()
	if code := lirashield.CodeOf(err); code != "" {
		msg = fmt.Sprintf("%s [%s]", lirashield.ErrorMessage(err), code)
	}
	fmt.Fprintf(a.Stderr, "Error %s: %s\n", what, msg)
	switch lirashield.CodeOf(err) {
	case lirashield.ErrCodeInvalidInput, lirashield.ErrCodeValidation, lirashield.ErrCodeMalformedDate:
		return subcommands.ExitUsageError
	}
	return subcommands.ExitFailure
}

func (a *App) usageError(format string, args ...any) subcommands.ExitStatus {
	fmt.Fprintf(a.Stderr, format+"\n", args...)
	return subcommands.ExitUsageError
}

// priceFlags collects repeated -p TICKER=PRICE[:CUR] values.
type priceFlags map[string]lirashield.CurrentPrice

func (p priceFlags) String() string {
	parts := make([]string, 0, len(p))
	for ticker, price := range p {
		parts = append(parts, fmt.Sprintf("%s=%g:%s", ticker, price.Price, price.Currency))
	}
	return strings.Join(parts, ",")
}

func (p priceFlags) Set(value string) error {
	ticker, rest, ok := strings.Cut(value, "=")
	if !ok || strings.TrimSpace(ticker) == "" {
		return fmt.Errorf("expected TICKER=PRICE[:CUR], got %q", value)
	}
	priceText, curText, hasCur := strings.Cut(rest, ":")
	price, err := strconv.ParseFloat(strings.TrimSpace(priceText), 64)
	if err != nil || !(price > 0) {
		return fmt.Errorf("invalid price in %q", value)
	}
	cp := lirashield.CurrentPrice{Price: price, Currency: lirashield.CurrencyTRY}
	if hasCur {
		cur, err := lirashield.ParseCurrency(curText)
		if err != nil {
			return err
		}
		cp.Currency = cur
	}
	p[strings.ToUpper(strings.TrimSpace(ticker))] = cp
	return nil
}

// optionalBool is a flag that remembers whether it was set.
type optionalBool struct {
	value *bool
}

func (o *optionalBool) String() string {
	if o == nil || o.value == nil {
		return ""
	}
	return fmt.Sprint(*o.value)
}

func (o *optionalBool) Set(s string) error {
	v, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	o.value = &v
	return nil
}

func (o *optionalBool) IsBoolFlag() bool { return true }

func (o *optionalBool) or(fallback bool) bool {
	if o.value == nil {
		return fallback
	}
	return *o.value
}
