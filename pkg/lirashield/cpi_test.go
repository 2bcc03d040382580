package lirashield

import (
	"math"
	"testing"
	"time"
)

type mapMoMSource map[YearMonth]float64

func (m mapMoMSource) MoM(ym YearMonth) (*float64, error) {
	v, ok := m[ym]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (m mapMoMSource) LatestMoM() (YearMonth, float64, bool, error) {
	var latest YearMonth
	found := false
	for ym := range m {
		if !found || latest.Before(ym) {
			latest, found = ym, true
		}
	}
	if !found {
		return YearMonth{}, 0, false, nil
	}
	return latest, m[latest], true, nil
}

func ym(year int, month time.Month) YearMonth { return NewYearMonth(year, month) }

func TestCumulativeCPI(t *testing.T) {
	src := mapMoMSource{
		ym(2024, time.January):  6.70,
		ym(2024, time.February): 4.53,
		ym(2024, time.March):    3.16,
	}

	tests := []struct {
		name  string
		start string
		end   string
		want  float64
	}{
		{name: "same day", start: "2024-01-10", end: "2024-01-10", want: 0},
		{name: "end before start", start: "2024-02-10", end: "2024-01-10", want: 0},
		{
			name:  "same month partial",
			start: "2024-01-05", end: "2024-01-15",
			want: (math.Pow(1.067, 10.0/31.0) - 1) * 100,
		},
		{
			name:  "three full months",
			start: "2024-01-01", end: "2024-04-01",
			want: (1.067*1.0453*1.0316 - 1) * 100,
		},
		{
			name:  "partial start and end months",
			start: "2024-01-20", end: "2024-03-11",
			// 12 days of January, all of February, 10 days of March.
			want: (math.Pow(1.067, 12.0/31.0)*1.0453*math.Pow(1.0316, 10.0/31.0) - 1) * 100,
		},
		{
			name:  "unpublished end month uses latest MoM",
			start: "2024-03-01", end: "2024-04-16",
			want: (1.0316*math.Pow(1.0316, 15.0/30.0) - 1) * 100,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got, err := cumulativeCPI(src, MustParseDate(tc.start), MustParseDate(tc.end))
			if err != nil {
				t.Fatalf("cumulativeCPI failed: %v", err)
			}
			if !approxEqual(got, tc.want, 1e-9) {
				t.Errorf("cumulativeCPI(%s, %s) = %.12f, want %.12f", tc.start, tc.end, got, tc.want)
			}
		})
	}
}

func TestCumulativeCPI_TenDaysOfHighInflation(t *testing.T) {
	src := mapMoMSource{ym(2024, time.January): 6.70}
	got, err := cumulativeCPI(src, MustParseDate("2024-01-01"), MustParseDate("2024-01-11"))
	if err != nil {
		t.Fatalf("cumulativeCPI failed: %v", err)
	}
	if !approxEqual(got, 2.11, 0.01) {
		t.Errorf("got %.4f, want about 2.11", got)
	}
}

func TestCumulativeCPI_MissingMonths(t *testing.T) {
	tests := []struct {
		name  string
		src   mapMoMSource
		start string
		end   string
	}{
		{
			name:  "missing start month",
			src:   mapMoMSource{ym(2024, time.February): 4.53},
			start: "2024-01-10", end: "2024-02-10",
		},
		{
			name:  "missing same month",
			src:   mapMoMSource{},
			start: "2024-01-10", end: "2024-01-20",
		},
		{
			name:  "gap in between",
			src:   mapMoMSource{ym(2024, time.January): 6.70, ym(2024, time.March): 3.16},
			start: "2024-01-10", end: "2024-03-20",
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := cumulativeCPI(tc.src, MustParseDate(tc.start), MustParseDate(tc.end))
			if !IsErrorCode(err, ErrCodeMissingCPI) {
				t.Fatalf("expected %s, got %v", ErrCodeMissingCPI, err)
			}
		})
	}
}

func TestCumulativeCPI_FirstOfMonthEnd(t *testing.T) {
	// No days of February have elapsed, so its missing MoM is never needed.
	src := mapMoMSource{ym(2024, time.January): 2}
	got, err := cumulativeCPI(src, MustParseDate("2024-01-01"), MustParseDate("2024-02-01"))
	if err != nil {
		t.Fatalf("cumulativeCPI failed: %v", err)
	}
	if !approxEqual(got, 2, 1e-9) {
		t.Errorf("got %v, want 2", got)
	}
}

func TestCoreCPIStore(t *testing.T) {
	core, _, cleanup := setupTestDB(t)
	defer cleanup()

	mustUpsertCPI(t, core, "2024-01", 6.70)
	mustUpsertCPI(t, core, "2024-02", 4.53)
	if err := core.UpsertCPI(ym(2024, time.March), 68.5, nil, "", "pending"); err != nil {
		t.Fatalf("UpsertCPI without mom failed: %v", err)
	}

	mom, err := core.MoM(ym(2024, time.February))
	if err != nil || mom == nil || *mom != 4.53 {
		t.Fatalf("MoM(2024-02) = %v, %v", mom, err)
	}
	mom, err = core.MoM(ym(2024, time.March))
	if err != nil || mom != nil {
		t.Fatalf("MoM(2024-03) = %v, %v, want nil", mom, err)
	}

	latest, value, ok, err := core.LatestMoM()
	if err != nil || !ok {
		t.Fatalf("LatestMoM = %v, %v", ok, err)
	}
	if latest != ym(2024, time.February) || value != 4.53 {
		t.Errorf("LatestMoM = %s %v, want 2024-02 4.53", latest, value)
	}

	// March has no MoM, so February stands in for the 14 elapsed days.
	got, err := core.CumulativeCPI(MustParseDate("2024-02-01"), MustParseDate("2024-03-15"))
	if err != nil {
		t.Fatalf("CumulativeCPI failed: %v", err)
	}
	want := (1.0453*math.Pow(1.0453, 14.0/31.0) - 1) * 100
	if !approxEqual(got, want, 1e-9) {
		t.Errorf("CumulativeCPI = %v, want %v", got, want)
	}

	list, err := core.ListCPI()
	if err != nil {
		t.Fatalf("ListCPI failed: %v", err)
	}
	if len(list) != 3 || list[0].YearMonth != ym(2024, time.March) || list[0].MoM != nil {
		t.Fatalf("ListCPI = %+v", list)
	}
	if list[0].Source != "TCMB" {
		t.Errorf("default source = %q, want TCMB", list[0].Source)
	}

	deleted, err := core.DeleteCPI(list[0].ID)
	if err != nil || !deleted {
		t.Fatalf("DeleteCPI = %v, %v", deleted, err)
	}
	deleted, err = core.DeleteCPI(list[0].ID)
	if err != nil || deleted {
		t.Fatalf("second DeleteCPI = %v, %v, want false", deleted, err)
	}
}

func TestUpsertCPI_Replaces(t *testing.T) {
	core, _, cleanup := setupTestDB(t)
	defer cleanup()

	mustUpsertCPI(t, core, "2024-01", 6.70)
	mustUpsertCPI(t, core, "2024-01", 6.75)
	mom, err := core.MoM(ym(2024, time.January))
	if err != nil || mom == nil || *mom != 6.75 {
		t.Fatalf("MoM = %v, %v, want 6.75", mom, err)
	}
	list, err := core.ListCPI()
	if err != nil || len(list) != 1 {
		t.Fatalf("ListCPI = %d rows, %v", len(list), err)
	}
}
