package cli

import (
	"context"
	"encoding/json"
	"flag"
	"strings"

	"github.com/google/subcommands"

	"lirashield/pkg/lirashield"
)

type chartCmd struct {
	app       *App
	base      string
	compare   bool
	usd       bool
	autoFetch optionalBool
	asJSON    bool
}

func (*chartCmd) Name() string     { return "chart" }
func (*chartCmd) Synopsis() string { return "price history in TRY and USD, or several tickers rebased to 100" }
func (*chartCmd) Usage() string {
	return `lirashield chart [-base YYYY-MM-DD] [-auto-fetch=false] [-json] <ticker>
lirashield chart -compare [-usd] [-base YYYY-MM-DD] <ticker>[,<ticker>]...

  Without -compare prints every stored price of one ticker in both currencies.
  With -compare each ticker starts at 100 on its first price on or after -base.
`
}

func (c *chartCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.base, "base", "", "ignore prices before this date")
	f.BoolVar(&c.compare, "compare", false, "compare tickers normalized to 100")
	f.BoolVar(&c.usd, "usd", false, "normalize the USD prices, with -compare")
	f.Var(&c.autoFetch, "auto-fetch", "fetch USD/TRY rates for the charted range (default from config)")
	f.BoolVar(&c.asJSON, "json", false, "print the series as JSON")
}

func (c *chartCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	var tickers []string
	for _, arg := range f.Args() {
		tickers = append(tickers, strings.Split(arg, ",")...)
	}
	if len(tickers) == 0 || (!c.compare && len(tickers) != 1) {
		return c.app.usageError("usage: %s", strings.TrimSpace(c.Usage()))
	}
	opts := lirashield.SeriesOptions{InUSD: c.usd}
	if c.base != "" {
		base, err := lirashield.ParseDate(c.base)
		if err != nil {
			return c.app.fail("parsing -base", err)
		}
		opts.BaseDate = &base
	}

	core, cfg, closeCore, err := c.app.open()
	if err != nil {
		return c.app.fail("opening database", err)
	}
	defer closeCore()
	opts.AutoFetch = c.autoFetch.or(cfg.AutoFetchRates)

	var series any
	var md string
	if c.compare {
		normalized, err := core.NormalizedSeries(ctx, tickers, opts)
		if err != nil {
			return c.app.fail("building chart", err)
		}
		series, md = normalized, lirashield.RenderNormalizedMarkdown(normalized)
	} else {
		prices, err := core.PriceSeries(ctx, tickers[0], opts)
		if err != nil {
			return c.app.fail("building chart", err)
		}
		series, md = prices, lirashield.RenderSeriesMarkdown(prices)
	}

	if c.asJSON {
		enc := json.NewEncoder(c.app.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(series); err != nil {
			return c.app.fail("encoding chart", err)
		}
		return subcommands.ExitSuccess
	}
	c.app.printMarkdown(md)
	return subcommands.ExitSuccess
}
