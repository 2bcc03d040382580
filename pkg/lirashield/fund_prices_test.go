package lirashield

import (
	"context"
	"testing"
)

func TestFundPrices_Store(t *testing.T) {
	core, _, cleanup := setupTestDB(t)
	defer cleanup()

	if err := core.UpsertFundPrice(MustParseDate("2024-01-01"), "AAA", 0, CurrencyTRY, ""); !IsErrorCode(err, ErrCodeValidation) {
		t.Fatalf("expected %s, got %v", ErrCodeValidation, err)
	}

	for _, p := range []struct {
		date  string
		price float64
	}{{"2024-01-01", 1.0}, {"2024-01-03", 1.2}, {"2024-01-03", 1.3}} {
		if err := core.UpsertFundPrice(MustParseDate(p.date), "aaa", p.price, CurrencyTRY, ""); err != nil {
			t.Fatalf("UpsertFundPrice failed: %v", err)
		}
	}
	if err := core.UpsertFundPrice(MustParseDate("2024-01-02"), "BBB", 50, CurrencyUSD, "yahoo"); err != nil {
		t.Fatalf("UpsertFundPrice failed: %v", err)
	}

	got, err := core.GetFundPrice("AAA", MustParseDate("2024-01-02"), false)
	if err != nil {
		t.Fatalf("GetFundPrice failed: %v", err)
	}
	checkOptional(t, "fallback price", got, floatPtr(1.0))
	got, err = core.GetFundPrice("AAA", MustParseDate("2024-01-02"), true)
	if err != nil || got != nil {
		t.Fatalf("exact GetFundPrice = %v, %v", got, err)
	}

	list, err := core.ListFundPrices("AAA", 0)
	if err != nil {
		t.Fatalf("ListFundPrices failed: %v", err)
	}
	if len(list) != 2 || list[0].Price != 1.3 || list[0].Source != priceSourceManual {
		t.Fatalf("ListFundPrices = %+v", list)
	}

	latest, err := core.LatestFundPrices()
	if err != nil {
		t.Fatalf("LatestFundPrices failed: %v", err)
	}
	if len(latest) != 2 || latest[0].Ticker != "AAA" || latest[1].Currency != CurrencyUSD {
		t.Fatalf("LatestFundPrices = %+v", latest)
	}
}

func TestAddFundPrices_KeepsExisting(t *testing.T) {
	core, _, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	if err := core.UpsertFundPrice(MustParseDate("2024-01-02"), "AAA", 9, CurrencyTRY, "manual"); err != nil {
		t.Fatalf("UpsertFundPrice failed: %v", err)
	}
	n, err := core.AddFundPrices(ctx, "AAA", CurrencyTRY, "tefas", []DataPoint{
		{Date: MustParseDate("2024-01-01"), Value: 1},
		{Date: MustParseDate("2024-01-02"), Value: 2},
	})
	if err != nil {
		t.Fatalf("AddFundPrices failed: %v", err)
	}
	if n != 1 {
		t.Errorf("inserted = %d, want 1", n)
	}
	got, _ := core.GetFundPrice("AAA", MustParseDate("2024-01-02"), true)
	checkOptional(t, "manual price kept", got, floatPtr(9))
}

func TestRefreshPrices(t *testing.T) {
	core, market, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	addTx(t, core, "2024-06-01", "TFA", "BUY", 10, 1)
	addTx(t, core, "2024-06-01", "BAD", "BUY", 10, 1)
	if _, err := core.AddTransaction(AddTransactionRequest{Date: "2024-06-01", AssetType: "CASH", Quantity: 100}); err != nil {
		t.Fatalf("AddTransaction cash failed: %v", err)
	}
	market.prices["TFA"] = []DataPoint{
		{Date: MustParseDate("2024-06-10"), Value: 1.1},
		{Date: MustParseDate("2024-06-14"), Value: 1.2},
	}

	result, err := core.RefreshPrices(ctx)
	if err != nil {
		t.Fatalf("RefreshPrices failed: %v", err)
	}
	if result.Updated["TFA"] != 2 {
		t.Errorf("updated = %+v, want TFA:2", result.Updated)
	}
	if _, ok := result.Failed["BAD"]; !ok {
		t.Errorf("failed = %+v, want BAD", result.Failed)
	}
	if _, ok := result.Updated["TRY"]; ok {
		t.Errorf("cash ticker should not be refreshed")
	}

	got, err := core.GetFundPrice("TFA", testToday, false)
	if err != nil {
		t.Fatalf("GetFundPrice failed: %v", err)
	}
	checkOptional(t, "refreshed price", got, floatPtr(1.2))
}

func TestPrefillPrices(t *testing.T) {
	core, _, cleanup := setupTestDB(t)
	defer cleanup()

	if err := core.UpsertFundPrice(MustParseDate("2024-06-10"), "AAA", 12, CurrencyTRY, ""); err != nil {
		t.Fatalf("UpsertFundPrice failed: %v", err)
	}
	if err := core.UpsertFundPrice(MustParseDate("2024-06-10"), "BBB", 7, CurrencyTRY, ""); err != nil {
		t.Fatalf("UpsertFundPrice failed: %v", err)
	}

	got, err := core.PrefillPrices(map[string]CurrentPrice{"bbb": {Price: 8, Currency: CurrencyTRY}})
	if err != nil {
		t.Fatalf("PrefillPrices failed: %v", err)
	}
	if len(got) != 2 || got["AAA"].Price != 12 || got["BBB"].Price != 8 {
		t.Errorf("prices = %+v", got)
	}
}
