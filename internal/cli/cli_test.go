package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/subcommands"

	"lirashield/pkg/lirashield"
)

type offlineMarket struct{}

func (offlineMarket) USDTRYRate(ctx context.Context, date lirashield.Date) (float64, string, error) {
	return 0, "", errors.New("offline")
}

func (offlineMarket) USDTRYRates(ctx context.Context, start, end lirashield.Date) ([]lirashield.DataPoint, string, error) {
	return nil, "", errors.New("offline")
}

func (offlineMarket) Prices(ctx context.Context, ticker string, assetType lirashield.AssetType, start, end lirashield.Date) ([]lirashield.DataPoint, string, error) {
	return nil, "", errors.New("offline")
}

type testCLI struct {
	dir    string
	stdout bytes.Buffer
	stderr bytes.Buffer
}

func newTestCLI(t *testing.T) *testCLI {
	t.Helper()
	for _, key := range []string{"LIRASHIELD_DATA_DIR", "LIRASHIELD_DB_PATH", "LIRASHIELD_AUTO_FETCH", "LIRASHIELD_LOG_LEVEL", "LIRASHIELD_AI_PROVIDER"} {
		t.Setenv(key, "")
	}
	return &testCLI{dir: t.TempDir()}
}

// run executes one command line against a fresh App sharing the test database.
func (c *testCLI) run(t *testing.T, args ...string) subcommands.ExitStatus {
	t.Helper()
	c.stdout.Reset()
	c.stderr.Reset()

	app := &App{Stdout: &c.stdout, Stderr: &c.stderr, Market: offlineMarket{}}
	app.Now = func() time.Time { return time.Date(2024, 6, 15, 9, 0, 0, 0, time.UTC) }

	fs := flag.NewFlagSet("lirashield", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	commander := subcommands.NewCommander(fs, "lirashield")
	commander.Output = io.Discard
	commander.Error = io.Discard
	// SetFlags resets the bound Overrides fields to their defaults, so set them afterwards.
	app.SetFlags(fs)
	app.Plain = true
	app.Overrides.EnvFile = filepath.Join(c.dir, "missing.env")
	app.Overrides.ConfigPath = filepath.Join(c.dir, "config.json")
	app.Overrides.DBPath = filepath.Join(c.dir, "cli.db")
	app.Overrides.LogLevel = "error"
	app.Register(commander)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse %v: %v", args, err)
	}
	return commander.Execute(context.Background())
}

func (c *testCLI) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	if status := c.run(t, args...); status != subcommands.ExitSuccess {
		t.Fatalf("%v exited %d: %s", args, status, c.stderr.String())
	}
	return c.stdout.String()
}

func TestTransactionsAndFIFO(t *testing.T) {
	cli := newTestCLI(t)

	if out := cli.mustRun(t, "add-tx", "-d", "2024-05-01", "-t", "aaa", "-q", "100", "-p", "10"); !strings.Contains(out, "Added transaction 1") {
		t.Fatalf("add-tx output = %q", out)
	}
	cli.mustRun(t, "add-tx", "-d", "2024-05-20", "-t", "AAA", "-q", "40", "-p", "11", "-type", "SELL")

	out := cli.mustRun(t, "list-tx", "-t", "AAA")
	for _, want := range []string{"| 1 | 2024-05-01 | BUY | AAA", "| 2 | 2024-05-20 | SELL | AAA"} {
		if !strings.Contains(out, want) {
			t.Errorf("list-tx missing %q:\n%s", want, out)
		}
	}

	out = cli.mustRun(t, "fifo", "-t", "aaa")
	for _, want := range []string{"## AAA (TRY)", "Held **60**", "| 2024-05-01 | 2024-05-20 | 40 |", "| 19 |"} {
		if !strings.Contains(out, want) {
			t.Errorf("fifo missing %q:\n%s", want, out)
		}
	}

	out = cli.mustRun(t, "fifo")
	if !strings.Contains(out, "## AAA") {
		t.Errorf("fifo (all) output = %q", out)
	}
}

func TestAddTxErrors(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		status subcommands.ExitStatus
		stderr string
	}{
		{"bad date", []string{"add-tx", "-d", "2024/05/01", "-t", "AAA", "-q", "1", "-p", "1"}, subcommands.ExitUsageError, "MALFORMED_DATE"},
		{"oversell", []string{"add-tx", "-d", "2024-05-02", "-t", "AAA", "-q", "5", "-p", "1", "-type", "SELL"}, subcommands.ExitFailure, "INSUFFICIENT_HOLDINGS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cli := newTestCLI(t)
			if status := cli.run(t, tt.args...); status != tt.status {
				t.Fatalf("status = %d, want %d (%s)", status, tt.status, cli.stderr.String())
			}
			if !strings.Contains(cli.stderr.String(), tt.stderr) {
				t.Errorf("stderr = %q, want %q", cli.stderr.String(), tt.stderr)
			}
		})
	}
}

func TestCPICommand(t *testing.T) {
	cli := newTestCLI(t)

	if status := cli.run(t, "cpi"); status != subcommands.ExitUsageError {
		t.Fatalf("cpi without args = %d", status)
	}
	cli.mustRun(t, "cpi", "-set", "2024-05", "-yoy", "75.45", "-mom", "3")

	out := cli.mustRun(t, "cpi", "-list")
	if !strings.Contains(out, "| 2024-05 | 75.45 | 3.00 |") {
		t.Errorf("cpi -list = %q", out)
	}

	out = cli.mustRun(t, "cpi", "2024-05-01", "2024-06-01")
	if !strings.Contains(out, "+3.00%") {
		t.Errorf("cumulative = %q", out)
	}

	if status := cli.run(t, "cpi", "-set", "2024-06", "-yoy", "70", "-mom", "x"); status != subcommands.ExitUsageError {
		t.Errorf("bad -mom status = %d", status)
	}
}

func TestImportCommands(t *testing.T) {
	cli := newTestCLI(t)

	rates := filepath.Join(cli.dir, "rates.csv")
	if err := os.WriteFile(rates, []byte("2024-06-14,32.5\nnot-a-date,1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out := cli.mustRun(t, "import-rates", rates)
	if !strings.Contains(out, "Imported **1**") {
		t.Errorf("import-rates = %q", out)
	}

	cpi := filepath.Join(cli.dir, "cpi.csv")
	if err := os.WriteFile(cpi, []byte("05-2024,75.45,3.37\n2024-04,69.8,3.18\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out = cli.mustRun(t, "import-cpi", cpi)
	if !strings.Contains(out, "Imported **2**") {
		t.Errorf("import-cpi = %q", out)
	}

	if status := cli.run(t, "import-rates"); status != subcommands.ExitUsageError {
		t.Errorf("missing file arg = %d", status)
	}
	if status := cli.run(t, "import-rates", filepath.Join(cli.dir, "nope.csv")); status != subcommands.ExitFailure {
		t.Errorf("missing file = %d", status)
	}
}

func TestFetchRatesRejectsBadDate(t *testing.T) {
	cli := newTestCLI(t)
	if status := cli.run(t, "fetch-rates", "-from", "yesterday"); status != subcommands.ExitUsageError {
		t.Fatalf("status = %d", status)
	}
}

func TestAnalyze(t *testing.T) {
	cli := newTestCLI(t)

	out := cli.mustRun(t, "analyze")
	if !strings.Contains(out, lirashield.EmptyPortfolioMessage) {
		t.Fatalf("empty analyze = %q", out)
	}

	cli.mustRun(t, "add-tx", "-d", "2024-05-01", "-t", "AAA", "-q", "100", "-p", "10")
	cli.mustRun(t, "cpi", "-set", "2024-05", "-yoy", "75", "-mom", "3")

	cli.mustRun(t, "analyze", "-auto-fetch=false", "-p", "AAA=12", "-json")
	var report lirashield.PortfolioReport
	if err := json.Unmarshal(cli.stdout.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v\n%s", err, cli.stdout.String())
	}
	if len(report.Summary) != 1 || report.Summary[0].Ticker != "AAA" {
		t.Fatalf("summary = %+v", report.Summary)
	}
	if len(report.Totals) == 0 {
		t.Errorf("totals missing")
	}

	out = cli.mustRun(t, "analyze", "-auto-fetch=false")
	if !strings.Contains(out, "AAA") {
		t.Errorf("markdown analyze = %q", out)
	}
}

func TestPriceFlags(t *testing.T) {
	tests := []struct {
		value   string
		ticker  string
		want    lirashield.CurrentPrice
		wantErr bool
	}{
		{value: "aaa=12.5", ticker: "AAA", want: lirashield.CurrentPrice{Price: 12.5, Currency: lirashield.CurrencyTRY}},
		{value: "SPY=500:usd", ticker: "SPY", want: lirashield.CurrentPrice{Price: 500, Currency: lirashield.CurrencyUSD}},
		{value: "AAA", wantErr: true},
		{value: "AAA=0", wantErr: true},
		{value: "AAA=1:EUR", wantErr: true},
		{value: "=5", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			p := priceFlags{}
			err := p.Set(tt.value)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", p)
				}
				return
			}
			if err != nil {
				t.Fatalf("Set: %v", err)
			}
			if got := p[tt.ticker]; got != tt.want {
				t.Errorf("price = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestOptionalBool(t *testing.T) {
	var o optionalBool
	if !o.or(true) || o.or(false) {
		t.Fatal("unset flag should return the fallback")
	}
	if err := o.Set("false"); err != nil {
		t.Fatal(err)
	}
	if o.or(true) {
		t.Error("explicit false ignored")
	}
	if err := o.Set("maybe"); err == nil {
		t.Error("expected parse error")
	}
}

func TestChartCommand(t *testing.T) {
	cli := newTestCLI(t)

	core, err := lirashield.Open(filepath.Join(cli.dir, "cli.db"))
	if err != nil {
		t.Fatalf("open core: %v", err)
	}
	for _, p := range []struct {
		date, ticker string
		price        float64
	}{{"2024-05-01", "AAA", 10}, {"2024-06-14", "AAA", 12}, {"2024-06-14", "BBB", 3}} {
		if err := core.UpsertFundPrice(lirashield.MustParseDate(p.date), p.ticker, p.price, lirashield.CurrencyTRY, ""); err != nil {
			t.Fatalf("UpsertFundPrice: %v", err)
		}
	}
	if err := core.UpsertUSDRate(lirashield.MustParseDate("2024-05-01"), 32, "", ""); err != nil {
		t.Fatalf("UpsertUSDRate: %v", err)
	}
	core.Close()

	out := cli.mustRun(t, "chart", "-auto-fetch=false", "aaa")
	for _, want := range []string{"# AAA price history", "| 2024-05-01 | 10.0000 | 0.312500 | 32.0000 |", "2 price points, 2 with USD conversion"} {
		if !strings.Contains(out, want) {
			t.Errorf("chart missing %q:\n%s", want, out)
		}
	}

	out = cli.mustRun(t, "chart", "-compare", "-auto-fetch=false", "-base", "2024-06-01", "AAA,BBB")
	for _, want := range []string{"# Normalized to 100 (TRY) from 2024-06-01", "| Date | AAA | BBB |", "| 2024-06-14 | 100.00 | 100.00 |"} {
		if !strings.Contains(out, want) {
			t.Errorf("chart -compare missing %q:\n%s", want, out)
		}
	}

	cli.mustRun(t, "chart", "-auto-fetch=false", "-json", "AAA")
	var series lirashield.PriceSeries
	if err := json.Unmarshal(cli.stdout.Bytes(), &series); err != nil {
		t.Fatalf("decode series: %v\n%s", err, cli.stdout.String())
	}
	if len(series.Points) != 2 {
		t.Errorf("json points = %+v", series.Points)
	}

	tests := []struct {
		name   string
		args   []string
		status subcommands.ExitStatus
	}{
		{"no ticker", []string{"chart"}, subcommands.ExitUsageError},
		{"two tickers without compare", []string{"chart", "AAA", "BBB"}, subcommands.ExitUsageError},
		{"bad base", []string{"chart", "-base", "June", "AAA"}, subcommands.ExitUsageError},
		{"unknown ticker", []string{"chart", "-auto-fetch=false", "ZZZ"}, subcommands.ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if status := cli.run(t, tt.args...); status != tt.status {
				t.Errorf("status = %d, want %d (%s)", status, tt.status, cli.stderr.String())
			}
		})
	}
}
