package lirashield

import (
	"reflect"
	"testing"

	"github.com/shopspring/decimal"
)

func tx(id int64, date, ticker string, typ TxType, quantity, price float64) Transaction {
	return Transaction{
		ID:        id,
		Date:      MustParseDate(date),
		Ticker:    ticker,
		Quantity:  NewAmount(quantity),
		AssetType: AssetTEFAS,
		Currency:  CurrencyTRY,
		Type:      typ,
		Price:     NewAmount(price),
	}
}

func decEqual(t *testing.T, name string, got Amount, want float64) {
	t.Helper()
	if !got.Equal(decimal.NewFromFloat(want)) {
		t.Errorf("%s = %s, want %v", name, got.String(), want)
	}
}

func TestMatchFIFO_PartialSellAcrossLots(t *testing.T) {
	result := MatchFIFO("AAA", []Transaction{
		tx(1, "2024-01-01", "AAA", TxBuy, 100, 10),
		tx(2, "2024-02-01", "AAA", TxBuy, 50, 15),
		tx(3, "2024-03-01", "AAA", TxSell, 120, 20),
	})

	if len(result.ClosedLots) != 2 {
		t.Fatalf("expected 2 closed lots, got %d", len(result.ClosedLots))
	}
	first, second := result.ClosedLots[0], result.ClosedLots[1]
	decEqual(t, "first quantity", first.Quantity, 100)
	decEqual(t, "first cost", first.CostBasis, 1000)
	decEqual(t, "first proceeds", first.Proceeds, 2000)
	decEqual(t, "first gain", first.RealizedGain, 1000)
	if first.HoldingDays != 60 {
		t.Errorf("first holding days = %d, want 60", first.HoldingDays)
	}
	decEqual(t, "second quantity", second.Quantity, 20)
	decEqual(t, "second cost", second.CostBasis, 300)
	decEqual(t, "second gain", second.RealizedGain, 100)
	if second.BuyID != 2 || second.SellID != 3 {
		t.Errorf("second match ids = %d/%d, want 2/3", second.BuyID, second.SellID)
	}

	decEqual(t, "total realized", result.TotalRealizedGain, 1100)
	decEqual(t, "total proceeds", result.TotalProceeds, 2400)

	if len(result.OpenLots) != 1 {
		t.Fatalf("expected 1 open lot, got %d", len(result.OpenLots))
	}
	lot := result.OpenLots[0]
	decEqual(t, "remaining", lot.RemainingQuantity, 30)
	decEqual(t, "original", lot.OriginalQuantity, 50)
	decEqual(t, "lot price", lot.BuyPrice, 15)
	decEqual(t, "lot cost", lot.CostBasis, 450)
	decEqual(t, "shares held", result.TotalSharesHeld, 30)
	decEqual(t, "cost basis", result.TotalCostBasis, 450)
	decEqual(t, "avg cost", result.AvgCostPerShare, 15)
	if len(result.Warnings) != 0 {
		t.Errorf("unexpected warnings: %+v", result.Warnings)
	}
}

func TestMatchFIFO_QuantityConservation(t *testing.T) {
	history := []Transaction{
		tx(1, "2024-01-01", "AAA", TxBuy, 10.5, 1),
		tx(2, "2024-01-02", "AAA", TxBuy, 3.25, 2),
		tx(3, "2024-01-03", "AAA", TxSell, 4.75, 3),
		tx(4, "2024-01-04", "AAA", TxBuy, 7, 4),
		tx(5, "2024-01-05", "AAA", TxSell, 9.1, 5),
	}
	result := MatchFIFO("AAA", history)

	bought, sold := decimal.Zero, decimal.Zero
	for _, h := range history {
		if h.Type == TxBuy {
			bought = bought.Add(h.Quantity.Decimal)
		} else {
			sold = sold.Add(h.Quantity.Decimal)
		}
	}
	matched := decimal.Zero
	for _, m := range result.ClosedLots {
		matched = matched.Add(m.Quantity.Decimal)
	}
	if !matched.Equal(sold) {
		t.Errorf("matched %s, sold %s", matched, sold)
	}
	if got := result.TotalSharesHeld.Add(matched); !got.Equal(bought) {
		t.Errorf("held + matched = %s, bought %s", got, bought)
	}
	for _, lot := range result.OpenLots {
		if !lot.RemainingQuantity.IsPositive() {
			t.Errorf("open lot %d has non-positive remainder %s", lot.BuyID, lot.RemainingQuantity)
		}
	}
}

func TestMatchFIFO_Oversold(t *testing.T) {
	result := MatchFIFO("AAA", []Transaction{
		tx(1, "2024-01-01", "AAA", TxBuy, 10, 5),
		tx(2, "2024-01-10", "AAA", TxSell, 15, 6),
	})
	if len(result.ClosedLots) != 1 {
		t.Fatalf("expected 1 closed lot, got %d", len(result.ClosedLots))
	}
	decEqual(t, "matched", result.ClosedLots[0].Quantity, 10)
	if len(result.OpenLots) != 0 {
		t.Errorf("expected no open lots, got %d", len(result.OpenLots))
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("expected 1 warning, got %d", len(result.Warnings))
	}
	w := result.Warnings[0]
	if w.Code != ErrCodeOversold || w.SellID != 2 {
		t.Errorf("warning = %+v", w)
	}
	decEqual(t, "unmatched", w.Unmatched, 5)
	if !result.AvgCostPerShare.IsZero() {
		t.Errorf("avg cost with no shares = %s, want 0", result.AvgCostPerShare)
	}
}

func TestMatchFIFO_OrderingAndFiltering(t *testing.T) {
	// Out of order input, a same-day buy/sell pair and a foreign ticker.
	result := MatchFIFO("aaa", []Transaction{
		tx(4, "2024-01-05", "AAA", TxSell, 5, 9),
		tx(3, "2024-01-05", "AAA", TxBuy, 5, 8),
		tx(2, "2024-01-01", "BBB", TxBuy, 100, 1),
		tx(1, "2024-01-01", "AAA", TxBuy, 5, 7),
	})
	if result.Ticker != "AAA" {
		t.Errorf("ticker = %q, want AAA", result.Ticker)
	}
	if len(result.ClosedLots) != 1 {
		t.Fatalf("expected 1 closed lot, got %d", len(result.ClosedLots))
	}
	if result.ClosedLots[0].BuyID != 1 {
		t.Errorf("sell matched buy %d, want oldest buy 1", result.ClosedLots[0].BuyID)
	}
	if len(result.OpenLots) != 1 || result.OpenLots[0].BuyID != 3 {
		t.Errorf("open lots = %+v, want only buy 3", result.OpenLots)
	}
	decEqual(t, "shares held", result.TotalSharesHeld, 5)
}

func TestMatchFIFO_Empty(t *testing.T) {
	result := MatchFIFO("NONE", nil)
	if len(result.OpenLots) != 0 || len(result.ClosedLots) != 0 || len(result.Warnings) != 0 {
		t.Errorf("expected empty result, got %+v", result)
	}
	if !result.TotalSharesHeld.IsZero() {
		t.Errorf("shares = %s, want 0", result.TotalSharesHeld)
	}
}

func TestCoreMatchFIFO_FromStore(t *testing.T) {
	core, _, cleanup := setupTestDB(t)
	defer cleanup()

	addTx(t, core, "2024-01-01", "AAA", "BUY", 100, 10)
	addTx(t, core, "2024-02-01", "AAA", "BUY", 50, 15)
	addTx(t, core, "2024-03-01", "AAA", "SELL", 120, 20)
	addTx(t, core, "2024-03-02", "BBB", "BUY", 1, 100)

	result, err := core.MatchFIFO("aaa")
	if err != nil {
		t.Fatalf("MatchFIFO failed: %v", err)
	}
	decEqual(t, "realized", result.TotalRealizedGain, 1100)
	decEqual(t, "held", result.TotalSharesHeld, 30)

	positions, err := core.OpenPositions()
	if err != nil {
		t.Fatalf("OpenPositions failed: %v", err)
	}
	if len(positions) != 2 || positions[0].Ticker != "AAA" || positions[1].Ticker != "BBB" {
		t.Errorf("positions = %+v", positions)
	}

	gains, err := core.RealizedGains()
	if err != nil {
		t.Fatalf("RealizedGains failed: %v", err)
	}
	if len(gains) != 2 {
		t.Fatalf("expected 2 realized gains, got %d", len(gains))
	}
	if gains[0].Ticker != "AAA" || gains[0].Currency != CurrencyTRY {
		t.Errorf("gain = %+v", gains[0])
	}
}

func TestMatchFIFO_Idempotent(t *testing.T) {
	txs := []Transaction{
		tx(3, "2024-03-01", "AAA", TxSell, 120, 20),
		tx(1, "2024-01-01", "AAA", TxBuy, 100, 10),
		tx(2, "2024-02-01", "AAA", TxBuy, 50, 15),
	}
	original := append([]Transaction(nil), txs...)

	first := MatchFIFO("AAA", txs)
	second := MatchFIFO("AAA", txs)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("repeated runs differ:\n%+v\n%+v", first, second)
	}
	if !reflect.DeepEqual(txs, original) {
		t.Errorf("input was modified: %+v", txs)
	}
}

func TestMatchFIFO_SameDayOrderFollowsID(t *testing.T) {
	tests := []struct {
		name       string
		txs        []Transaction
		wantBuyIDs []int64
		wantOpen   float64
		oversold   bool
	}{
		{
			name: "sell with lower id than same-day buy",
			txs: []Transaction{
				tx(2, "2024-01-05", "AAA", TxBuy, 10, 12),
				tx(1, "2024-01-05", "AAA", TxSell, 4, 13),
			},
			wantOpen: 10,
			oversold: true,
		},
		{
			name: "same-day sell consumes the earlier day's lot first",
			txs: []Transaction{
				tx(3, "2024-01-05", "AAA", TxBuy, 10, 12),
				tx(2, "2024-01-05", "AAA", TxSell, 4, 13),
				tx(1, "2024-01-01", "AAA", TxBuy, 5, 10),
			},
			wantBuyIDs: []int64{1},
			wantOpen:   11,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := MatchFIFO("AAA", tt.txs)
			var buyIDs []int64
			for _, m := range result.ClosedLots {
				buyIDs = append(buyIDs, m.BuyID)
			}
			if !reflect.DeepEqual(buyIDs, tt.wantBuyIDs) {
				t.Errorf("matched buy ids = %v, want %v", buyIDs, tt.wantBuyIDs)
			}
			decEqual(t, "shares held", result.TotalSharesHeld, tt.wantOpen)
			if got := len(result.Warnings) == 1 && result.Warnings[0].Code == ErrCodeOversold; got != tt.oversold {
				t.Errorf("warnings = %+v, oversold want %v", result.Warnings, tt.oversold)
			}
		})
	}
}
