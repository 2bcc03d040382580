package lirashield

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// testToday is the fixed "today" of every test core.
var testToday = MustParseDate("2024-06-15")

// setupTestDB creates a temporary database with a fixed clock and a fake market.
func setupTestDB(t *testing.T) (*Core, *fakeMarket, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "lirashield-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	market := newFakeMarket()
	core, err := OpenWithOptions(Options{
		DBPath: filepath.Join(tmpDir, "test.db"),
		Now: func() time.Time {
			return time.Date(testToday.Year(), testToday.Month(), testToday.Day(), 12, 0, 0, 0, istanbulLocation)
		},
		Market: market,
	})
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("failed to open test db: %v", err)
	}

	cleanup := func() {
		core.Close()
		os.RemoveAll(tmpDir)
	}
	return core, market, cleanup
}

// fakeMarket serves canned rates and prices and counts calls.
type fakeMarket struct {
	mu     sync.Mutex
	rates  map[Date]float64
	prices map[string][]DataPoint
	err    error
	calls  int
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{rates: map[Date]float64{}, prices: map[string][]DataPoint{}}
}

func (f *fakeMarket) setRate(date string, rate float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rates[MustParseDate(date)] = rate
}

func (f *fakeMarket) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeMarket) USDTRYRate(ctx context.Context, date Date) (float64, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return 0, "", f.err
	}
	rate, ok := f.rates[date]
	if !ok {
		return 0, "", ErrNoData
	}
	return rate, "fake", nil
}

func (f *fakeMarket) USDTRYRates(ctx context.Context, start, end Date) ([]DataPoint, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, "", f.err
	}
	var points []DataPoint
	for d := start; !d.After(end); d = d.AddDays(1) {
		if rate, ok := f.rates[d]; ok {
			points = append(points, DataPoint{Date: d, Value: rate})
		}
	}
	if len(points) == 0 {
		return nil, "", ErrAllSourcesFailed
	}
	return points, "fake", nil
}

func (f *fakeMarket) Prices(ctx context.Context, ticker string, assetType AssetType, start, end Date) ([]DataPoint, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, "", f.err
	}
	points, ok := f.prices[ticker]
	if !ok {
		return nil, "", errors.New("unknown ticker")
	}
	var out []DataPoint
	for _, p := range points {
		if !p.Date.Before(start) && !p.Date.After(end) {
			out = append(out, p)
		}
	}
	return out, "fake", nil
}

// addTx stores a transaction with a manual price.
func addTx(t *testing.T, core *Core, date, ticker, txType string, quantity, price float64) int64 {
	t.Helper()
	id, err := core.AddTransaction(AddTransactionRequest{
		Date:            date,
		Ticker:          ticker,
		Quantity:        quantity,
		TransactionType: txType,
		PricePerShare:   &price,
	})
	if err != nil {
		t.Fatalf("AddTransaction(%s %s %v@%v) failed: %v", txType, ticker, quantity, price, err)
	}
	return id
}

func mustUpsertRate(t *testing.T, core *Core, date string, rate float64) {
	t.Helper()
	if err := core.UpsertUSDRate(MustParseDate(date), rate, "", ""); err != nil {
		t.Fatalf("UpsertUSDRate(%s) failed: %v", date, err)
	}
}

func mustUpsertCPI(t *testing.T, core *Core, ym string, mom float64) {
	t.Helper()
	parsed, err := ParseYearMonth(ym)
	if err != nil {
		t.Fatalf("ParseYearMonth(%s) failed: %v", ym, err)
	}
	if err := core.UpsertCPI(parsed, 50, &mom, "", ""); err != nil {
		t.Fatalf("UpsertCPI(%s) failed: %v", ym, err)
	}
}

func approxEqual(a, b, tolerance float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}

func derefOr(v *float64, fallback float64) float64 {
	if v == nil {
		return fallback
	}
	return *v
}
