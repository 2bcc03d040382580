package lirashield

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestImportUSDRatesCSV(t *testing.T) {
	core, _, cleanup := setupTestDB(t)
	defer cleanup()

	input := strings.Join([]string{
		"date,rate",
		"# comment",
		"2024-01-02, 29.51",
		"2024-01-03,abc",
		"2024-13-01,30",
		"2024-01-04,-1",
		"",
		"2024-01-05,29.9,ignored",
	}, "\n")

	result, err := core.ImportUSDRatesCSV(context.Background(), strings.NewReader(input))
	if err != nil {
		t.Fatalf("ImportUSDRatesCSV failed: %v", err)
	}
	if result.Imported != 2 || result.Skipped != 3 {
		t.Errorf("result = %+v, want 2 imported / 3 skipped", result)
	}
	if result.BatchID == "" {
		t.Error("expected a batch id")
	}
	if len(result.Errors) != 3 || !strings.HasPrefix(result.Errors[0], "2024-01-03: ") {
		t.Errorf("errors = %v", result.Errors)
	}

	rates, err := core.ListUSDRates(0)
	if err != nil {
		t.Fatalf("ListUSDRates failed: %v", err)
	}
	if len(rates) != 2 {
		t.Fatalf("expected 2 rates, got %d", len(rates))
	}
	if rates[1].Rate != 29.51 || rates[1].Source != rateSourceBulkImport {
		t.Errorf("rate = %+v", rates[1])
	}
	if rates[1].Notes == nil || !strings.Contains(*rates[1].Notes, result.BatchID) {
		t.Errorf("notes = %v, want batch id", rates[1].Notes)
	}
}

func TestImportCPICSV(t *testing.T) {
	core, _, cleanup := setupTestDB(t)
	defer cleanup()

	input := "year_month,yoy,mom\n2024-01,64.77,6.70\n02-2024,67.07,4.53\n2024-03,68.5\n2024-04,x,1\n"
	result, err := core.ImportCPICSV(context.Background(), strings.NewReader(input))
	if err != nil {
		t.Fatalf("ImportCPICSV failed: %v", err)
	}
	if result.Imported != 3 || result.Skipped != 1 {
		t.Errorf("result = %+v, want 3 imported / 1 skipped", result)
	}
	if len(result.Errors) != 1 || !strings.HasPrefix(result.Errors[0], "2024-04: ") {
		t.Errorf("errors = %v", result.Errors)
	}

	mom, err := core.MoM(NewYearMonth(2024, time.February))
	if err != nil || mom == nil || *mom != 4.53 {
		t.Fatalf("MoM(2024-02) = %v, %v", mom, err)
	}
	mom, err = core.MoM(NewYearMonth(2024, time.March))
	if err != nil || mom != nil {
		t.Fatalf("MoM(2024-03) = %v, %v, want nil", mom, err)
	}
}
