package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"strings"

	"github.com/google/subcommands"

	"lirashield/pkg/lirashield"
)

type analyzeCmd struct {
	app       *App
	prices    priceFlags
	autoFetch optionalBool
	foreign   bool
	asJSON    bool
	ai        bool
}

func (*analyzeCmd) Name() string     { return "analyze" }
func (*analyzeCmd) Synopsis() string { return "real returns of every lot against USD/TRY and CPI" }
func (*analyzeCmd) Usage() string {
	return `lirashield analyze [-p TICKER=PRICE[:CUR]]... [-auto-fetch=false] [-foreign] [-json] [-ai]

  Analyzes the whole portfolio as of today. Tickers without -p use their newest stored
  price, then their buy price.
`
}

func (c *analyzeCmd) SetFlags(f *flag.FlagSet) {
	c.prices = priceFlags{}
	f.Var(c.prices, "p", "current price as TICKER=PRICE[:CUR], repeatable")
	f.Var(&c.autoFetch, "auto-fetch", "fetch missing USD/TRY rates (default from config)")
	f.BoolVar(&c.foreign, "foreign", false, "benchmark USD assets against the lira benchmarks too")
	f.BoolVar(&c.asJSON, "json", false, "print the report as JSON")
	f.BoolVar(&c.ai, "ai", false, "append a commentary from the configured AI provider")
}

func (c *analyzeCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	core, cfg, closeCore, err := c.app.open()
	if err != nil {
		return c.app.fail("opening database", err)
	}
	defer closeCore()

	prices, err := core.PrefillPrices(c.prices)
	if err != nil {
		return c.app.fail("loading prices", err)
	}
	report, err := core.AnalyzePortfolio(ctx, prices, lirashield.AnalyzeOptions{
		AutoFetch:              c.autoFetch.or(cfg.AutoFetchRates),
		BenchmarkForeignAssets: c.foreign,
	})
	if err != nil {
		return c.app.fail("analyzing portfolio", err)
	}

	if c.asJSON {
		enc := json.NewEncoder(c.app.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return c.app.fail("encoding report", err)
		}
		return subcommands.ExitSuccess
	}

	var md strings.Builder
	md.WriteString(lirashield.RenderMarkdown(report))
	if c.ai {
		commentary, err := core.GenerateCommentary(ctx, report, lirashield.AISettings{})
		if err != nil {
			return c.app.fail("generating commentary", err)
		}
		fmt.Fprintf(&md, "\n## Commentary\n\n%s\n", commentary)
	}
	c.app.printMarkdown(md.String())
	return subcommands.ExitSuccess
}
