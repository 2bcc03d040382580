package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/google/subcommands"

	"lirashield/pkg/lirashield"
)

type fifoCmd struct {
	app    *App
	ticker string
}

func (*fifoCmd) Name() string     { return "fifo" }
func (*fifoCmd) Synopsis() string { return "show open and closed FIFO lots" }
func (*fifoCmd) Usage() string {
	return `lirashield fifo [-t <ticker>]

  Replays transactions in FIFO order and lists the open lots and realized matches.
`
}

func (c *fifoCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.ticker, "t", "", "restrict to one ticker")
}

func (c *fifoCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	core, _, closeCore, err := c.app.open()
	if err != nil {
		return c.app.fail("opening database", err)
	}
	defer closeCore()

	var results []lirashield.FIFOResult
	if c.ticker != "" {
		result, err := core.MatchFIFO(strings.ToUpper(strings.TrimSpace(c.ticker)))
		if err != nil {
			return c.app.fail("matching lots", err)
		}
		if len(result.OpenLots)+len(result.ClosedLots) > 0 {
			results = append(results, result)
		}
	} else if results, err = core.MatchFIFOAll(); err != nil {
		return c.app.fail("matching lots", err)
	}
	c.app.printMarkdown(fifoMarkdown(results))
	return subcommands.ExitSuccess
}

type cpiCmd struct {
	app  *App
	list bool
	set  string
	yoy  float64
	mom  string
}

func (*cpiCmd) Name() string     { return "cpi" }
func (*cpiCmd) Synopsis() string { return "cumulative CPI between two dates, or manage CPI rows" }
func (*cpiCmd) Usage() string {
	return `lirashield cpi <start> [<end>]
lirashield cpi -list
lirashield cpi -set YYYY-MM -yoy <pct> [-mom <pct>]

  Dates are YYYY-MM-DD; <end> defaults to today. Without -mom the monthly change is left unpublished.
`
}

func (c *cpiCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.list, "list", false, "list stored CPI rows")
	f.StringVar(&c.set, "set", "", "store the CPI release for a month (YYYY-MM or MM-YYYY)")
	f.Float64Var(&c.yoy, "yoy", 0, "year-over-year CPI change in percent, with -set")
	f.StringVar(&c.mom, "mom", "", "month-over-month CPI change in percent, with -set")
}

func (c *cpiCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if !c.list && c.set == "" && (f.NArg() < 1 || f.NArg() > 2) {
		return c.app.usageError("usage: %s", strings.TrimSpace(c.Usage()))
	}
	core, _, closeCore, err := c.app.open()
	if err != nil {
		return c.app.fail("opening database", err)
	}
	defer closeCore()

	switch {
	case c.set != "":
		ym, err := lirashield.ParseYearMonthLenient(c.set)
		if err != nil {
			return c.app.fail("parsing month", err)
		}
		var mom *float64
		if c.mom != "" {
			v, err := strconv.ParseFloat(strings.TrimSpace(c.mom), 64)
			if err != nil {
				return c.app.usageError("invalid -mom %q", c.mom)
			}
			mom = &v
		}
		if err := core.UpsertCPI(ym, c.yoy, mom, "", ""); err != nil {
			return c.app.fail("saving cpi", err)
		}
		fmt.Fprintf(c.app.Stdout, "Saved CPI for %s\n", ym)
	case c.list:
		rows, err := core.ListCPI()
		if err != nil {
			return c.app.fail("listing cpi", err)
		}
		c.app.printMarkdown(cpiMarkdown(rows))
	default:
		start, err := lirashield.ParseDate(f.Arg(0))
		if err != nil {
			return c.app.fail("parsing start date", err)
		}
		end := core.Today()
		if f.NArg() == 2 {
			if end, err = lirashield.ParseDate(f.Arg(1)); err != nil {
				return c.app.fail("parsing end date", err)
			}
		}
		change, err := core.CumulativeCPI(start, end)
		if err != nil {
			return c.app.fail("computing cumulative cpi", err)
		}
		fmt.Fprintf(c.app.Stdout, "Cumulative CPI %s to %s: %+.2f%%\n", start, end, change)
	}
	return subcommands.ExitSuccess
}

type addTxCmd struct {
	app     *App
	date    string
	ticker  string
	txType  string
	asset   string
	cur     string
	qty     float64
	price   float64
	taxRate float64
	notes   string
}

func (*addTxCmd) Name() string     { return "add-tx" }
func (*addTxCmd) Synopsis() string { return "record a BUY or SELL" }
func (*addTxCmd) Usage() string {
	return `lirashield add-tx -t <ticker> -q <quantity> [-p <price>] [-type BUY|SELL] [-d <date>]
                  [-asset TEFAS|USD_STOCK|CASH] [-c TRY|USD] [-tax <pct>] [-notes <text>]

  Without -p the stored price on or before the date is used.
`
}

func (c *addTxCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.date, "d", "", "trade date YYYY-MM-DD (default today)")
	f.StringVar(&c.ticker, "t", "", "ticker; for cash, the currency code")
	f.StringVar(&c.txType, "type", "BUY", "BUY or SELL")
	f.StringVar(&c.asset, "asset", "", "TEFAS, USD_STOCK or CASH (default TEFAS)")
	f.StringVar(&c.cur, "c", "", "TRY or USD (default by asset type)")
	f.Float64Var(&c.qty, "q", 0, "quantity")
	f.Float64Var(&c.price, "p", 0, "price per share")
	f.Float64Var(&c.taxRate, "tax", 0, "withholding tax on gains, percent")
	f.StringVar(&c.notes, "notes", "", "free text")
}

func (c *addTxCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	core, _, closeCore, err := c.app.open()
	if err != nil {
		return c.app.fail("opening database", err)
	}
	defer closeCore()

	req := lirashield.AddTransactionRequest{
		Date:            c.date,
		Ticker:          c.ticker,
		Quantity:        c.qty,
		TaxRate:         c.taxRate,
		AssetType:       c.asset,
		Currency:        c.cur,
		TransactionType: c.txType,
	}
	if c.price > 0 {
		req.PricePerShare = &c.price
	}
	if c.notes != "" {
		req.Notes = &c.notes
	}
	id, err := core.AddTransaction(req)
	if err != nil {
		return c.app.fail("adding transaction", err)
	}
	fmt.Fprintf(c.app.Stdout, "Added transaction %d\n", id)
	return subcommands.ExitSuccess
}

type listTxCmd struct {
	app    *App
	ticker string
	txType string
	start  string
	end    string
	limit  int
}

func (*listTxCmd) Name() string     { return "list-tx" }
func (*listTxCmd) Synopsis() string { return "list transactions, newest first" }
func (*listTxCmd) Usage() string {
	return `lirashield list-tx [-t <ticker>] [-type BUY|SELL] [-from <date>] [-to <date>] [-n <limit>]
`
}

func (c *listTxCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.ticker, "t", "", "ticker")
	f.StringVar(&c.txType, "type", "", "BUY or SELL")
	f.StringVar(&c.start, "from", "", "first date, inclusive")
	f.StringVar(&c.end, "to", "", "last date, inclusive")
	f.IntVar(&c.limit, "n", 50, "maximum rows")
}

func (c *listTxCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	core, _, closeCore, err := c.app.open()
	if err != nil {
		return c.app.fail("opening database", err)
	}
	defer closeCore()

	txs, err := core.GetTransactions(lirashield.TransactionFilter{
		Ticker:          c.ticker,
		TransactionType: c.txType,
		StartDate:       c.start,
		EndDate:         c.end,
		Limit:           c.limit,
	})
	if err != nil {
		return c.app.fail("listing transactions", err)
	}
	c.app.printMarkdown(transactionsMarkdown(txs))
	return subcommands.ExitSuccess
}

// importFn is the core's CSV importer for one table.
type importFn func(core *lirashield.Core, ctx context.Context, file *os.File) (lirashield.ImportResult, error)

type importCmd struct {
	app      *App
	name     string
	synopsis string
	header   string
	title    string
	run      importFn
}

func (c *importCmd) Name() string     { return c.name }
func (c *importCmd) Synopsis() string { return c.synopsis }
func (c *importCmd) Usage() string {
	return fmt.Sprintf("lirashield %s <file.csv>\n\n  Lines are %s. Invalid lines are reported and skipped.\n", c.name, c.header)
}
func (c *importCmd) SetFlags(*flag.FlagSet) {}

func (c *importCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		return c.app.usageError("usage: lirashield %s <file.csv>", c.name)
	}
	file, err := os.Open(f.Arg(0))
	if err != nil {
		return c.app.fail("opening file", err)
	}
	defer file.Close()

	core, _, closeCore, err := c.app.open()
	if err != nil {
		return c.app.fail("opening database", err)
	}
	defer closeCore()

	result, err := c.run(core, ctx, file)
	if err != nil {
		return c.app.fail("importing", err)
	}
	c.app.printMarkdown(importMarkdown(c.title, result))
	return subcommands.ExitSuccess
}

func newImportRatesCmd(a *App) *importCmd {
	return &importCmd{
		app:      a,
		name:     "import-rates",
		synopsis: "bulk import USD/TRY rates from CSV",
		header:   "date,rate",
		title:    "USD/TRY import",
		run: func(core *lirashield.Core, ctx context.Context, file *os.File) (lirashield.ImportResult, error) {
			return core.ImportUSDRatesCSV(ctx, file)
		},
	}
}

func newImportCPICmd(a *App) *importCmd {
	return &importCmd{
		app:      a,
		name:     "import-cpi",
		synopsis: "bulk import official CPI from CSV",
		header:   "year_month,yoy[,mom]",
		title:    "CPI import",
		run: func(core *lirashield.Core, ctx context.Context, file *os.File) (lirashield.ImportResult, error) {
			return core.ImportCPICSV(ctx, file)
		},
	}
}

type fetchRatesCmd struct {
	app   *App
	start string
	end   string
}

func (*fetchRatesCmd) Name() string     { return "fetch-rates" }
func (*fetchRatesCmd) Synopsis() string { return "fetch USD/TRY rates from the market data providers" }
func (*fetchRatesCmd) Usage() string {
	return `lirashield fetch-rates [-from <date> [-to <date>]]

  Without -from, fetches the days missing since the newest stored rate.
`
}

func (c *fetchRatesCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.start, "from", "", "first date")
	f.StringVar(&c.end, "to", "", "last date (default today)")
}

func (c *fetchRatesCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	core, _, closeCore, err := c.app.open()
	if err != nil {
		return c.app.fail("opening database", err)
	}
	defer closeCore()

	var result lirashield.ImportResult
	if c.start == "" {
		result, err = core.QuickRefreshUSDRates(ctx)
	} else {
		start, perr := lirashield.ParseDate(c.start)
		if perr != nil {
			return c.app.fail("parsing -from", perr)
		}
		end := core.Today()
		if c.end != "" {
			if end, perr = lirashield.ParseDate(c.end); perr != nil {
				return c.app.fail("parsing -to", perr)
			}
		}
		result, err = core.FetchUSDRates(ctx, start, end)
	}
	if err != nil {
		return c.app.fail("fetching rates", err)
	}
	c.app.printMarkdown(importMarkdown("USD/TRY fetch", result))
	return subcommands.ExitSuccess
}

type refreshPricesCmd struct{ app *App }

func (*refreshPricesCmd) Name() string     { return "refresh-prices" }
func (*refreshPricesCmd) Synopsis() string { return "fetch missing daily prices for every held ticker" }
func (*refreshPricesCmd) Usage() string {
	return "lirashield refresh-prices\n"
}
func (*refreshPricesCmd) SetFlags(*flag.FlagSet) {}

func (c *refreshPricesCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	core, _, closeCore, err := c.app.open()
	if err != nil {
		return c.app.fail("opening database", err)
	}
	defer closeCore()

	result, err := core.RefreshPrices(ctx)
	if err != nil {
		return c.app.fail("refreshing prices", err)
	}
	var sb strings.Builder
	sb.WriteString("# Price refresh\n\n")
	for _, ticker := range sortedKeys(result.Updated) {
		fmt.Fprintf(&sb, "- %s: %d new prices\n", ticker, result.Updated[ticker])
	}
	for _, ticker := range sortedKeys(result.Failed) {
		fmt.Fprintf(&sb, "- %s: failed, %s\n", ticker, result.Failed[ticker])
	}
	if len(result.Updated)+len(result.Failed) == 0 {
		sb.WriteString("Nothing to refresh.\n")
	}
	c.app.printMarkdown(sb.String())
	if len(result.Failed) > 0 {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
