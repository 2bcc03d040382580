package lirashield

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
)

// mockHTTPClient answers by URL substring and records requested URLs.
type mockHTTPClient struct {
	mu        sync.Mutex
	responses map[string]string
	status    map[string]int
	requests  []string
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := req.URL.String()
	m.requests = append(m.requests, u)
	for key, body := range m.responses {
		if strings.Contains(u, key) {
			status := http.StatusOK
			if s, ok := m.status[key]; ok {
				status = s
			}
			return &http.Response{
				StatusCode: status,
				Body:       io.NopCloser(strings.NewReader(body)),
				Header:     make(http.Header),
			}, nil
		}
	}
	return nil, errors.New("connection refused")
}

func (m *mockHTTPClient) requestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func newTestFetcher(client HTTPDoer) *marketFetcher {
	return newMarketFetcher(marketFetcherOptions{
		CacheTTL:      time.Minute,
		FailThreshold: 2,
		FailWindow:    time.Minute,
		Cooldown:      time.Minute,
		HTTPClient:    client,
	})
}

func istanbulUnix(date string) int64 {
	d := MustParseDate(date)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, istanbulLocation).Unix()
}

func yahooBody(dates []string, closes []string) string {
	ts := make([]string, len(dates))
	for i, d := range dates {
		ts[i] = fmt.Sprint(istanbulUnix(d))
	}
	return fmt.Sprintf(`{"chart":{"result":[{"timestamp":[%s],"indicators":{"quote":[{"close":[%s]}]}}],"error":null}}`,
		strings.Join(ts, ","), strings.Join(closes, ","))
}

func TestMarketFetcher_YahooRates(t *testing.T) {
	client := &mockHTTPClient{responses: map[string]string{
		"chart/TRY=X": yahooBody([]string{"2024-06-10", "2024-06-11", "2024-06-12"}, []string{"32.1", "null", "32.3"}),
	}}
	mf := newTestFetcher(client)

	points, source, err := mf.USDTRYRates(context.Background(), MustParseDate("2024-06-10"), MustParseDate("2024-06-12"))
	if err != nil {
		t.Fatalf("USDTRYRates failed: %v", err)
	}
	if source != "Yahoo Finance TRY=X" {
		t.Errorf("source = %q", source)
	}
	if len(points) != 2 || points[0].Value != 32.1 || points[1].Date.String() != "2024-06-12" {
		t.Fatalf("points = %+v", points)
	}

	calls := client.requestCount()
	if _, _, err := mf.USDTRYRates(context.Background(), MustParseDate("2024-06-10"), MustParseDate("2024-06-12")); err != nil {
		t.Fatalf("cached USDTRYRates failed: %v", err)
	}
	if client.requestCount() != calls {
		t.Errorf("expected cached result, got %d new requests", client.requestCount()-calls)
	}
}

func TestMarketFetcher_RateNeverLooksAhead(t *testing.T) {
	client := &mockHTTPClient{responses: map[string]string{
		"frankfurter": `{"rates":{"2024-06-07":{"TRY":32.2},"2024-06-10":{"TRY":32.4}}}`,
	}}
	mf := newTestFetcher(client)

	// 2024-06-09 is a Sunday: the Friday close is the answer, not Monday's.
	rate, source, err := mf.USDTRYRate(context.Background(), MustParseDate("2024-06-09"))
	if err != nil {
		t.Fatalf("USDTRYRate failed: %v", err)
	}
	if rate != 32.2 || source != "Frankfurter" {
		t.Errorf("rate = %v from %q, want 32.2 from Frankfurter", rate, source)
	}
}

func TestMarketFetcher_AllSourcesFail(t *testing.T) {
	client := &mockHTTPClient{
		responses: map[string]string{"frankfurter": `{}`},
		status:    map[string]int{"frankfurter": http.StatusBadGateway},
	}
	mf := newTestFetcher(client)

	_, _, err := mf.USDTRYRates(context.Background(), MustParseDate("2024-06-01"), MustParseDate("2024-06-07"))
	if !errors.Is(err, ErrAllSourcesFailed) {
		t.Fatalf("expected ErrAllSourcesFailed, got %v", err)
	}
	_, _, err = mf.USDTRYRates(context.Background(), MustParseDate("2024-05-01"), MustParseDate("2024-05-07"))
	if !errors.Is(err, ErrAllSourcesFailed) {
		t.Fatalf("expected ErrAllSourcesFailed, got %v", err)
	}

	// Every source has now failed twice and is cooling down.
	calls := client.requestCount()
	_, _, err = mf.USDTRYRates(context.Background(), MustParseDate("2024-04-01"), MustParseDate("2024-04-07"))
	if err == nil || !strings.Contains(err.Error(), "cooling down") {
		t.Fatalf("expected cooldown error, got %v", err)
	}
	if client.requestCount() != calls {
		t.Errorf("requests were sent during cooldown")
	}
}

func TestMarketFetcher_TEFASPrices(t *testing.T) {
	ms := time.Date(2024, 6, 10, 0, 0, 0, 0, istanbulLocation).UnixMilli()
	client := &mockHTTPClient{responses: map[string]string{
		"tefas.gov.tr": fmt.Sprintf(`{"data":[{"TARIH":"%d","FONKODU":"TFA","FIYAT":1.2345},{"TARIH":"%d","FONKODU":"OTHER","FIYAT":9}]}`, ms, ms),
	}}
	mf := newTestFetcher(client)

	points, source, err := mf.Prices(context.Background(), "tfa", AssetTEFAS, MustParseDate("2024-06-01"), MustParseDate("2024-06-15"))
	if err != nil {
		t.Fatalf("Prices failed: %v", err)
	}
	if source != "TEFAS" || len(points) != 1 || points[0].Value != 1.2345 || points[0].Date.String() != "2024-06-10" {
		t.Fatalf("points = %+v from %q", points, source)
	}

	if _, _, err := mf.Prices(context.Background(), "TRY", AssetCash, MustParseDate("2024-06-01"), MustParseDate("2024-06-15")); !IsErrorCode(err, ErrCodeUnsupported) {
		t.Errorf("cash prices: expected %s, got %v", ErrCodeUnsupported, err)
	}
}

func TestMarketFetcher_TEFASChunks(t *testing.T) {
	client := &mockHTTPClient{responses: map[string]string{"tefas.gov.tr": `{"data":[]}`}}
	mf := newTestFetcher(client)

	_, _, err := mf.Prices(context.Background(), "TFA", AssetTEFAS, MustParseDate("2024-01-01"), MustParseDate("2024-06-01"))
	if !errors.Is(err, ErrAllSourcesFailed) {
		t.Fatalf("expected ErrAllSourcesFailed for empty data, got %v", err)
	}
	// 153 days in chunks of 61.
	if got := client.requestCount(); got != 3 {
		t.Errorf("requests = %d, want 3", got)
	}
}

func TestParseFloat(t *testing.T) {
	tests := []struct {
		in      any
		want    float64
		wantErr bool
	}{
		{1.5, 1.5, false},
		{"2,75", 2.75, false},
		{int64(3), 3, false},
		{"", 0, true},
		{nil, 0, true},
		{true, 0, true},
	}
	for _, tc := range tests {
		got, err := parseFloat(tc.in)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Errorf("parseFloat(%v) = %v, %v", tc.in, got, err)
		}
	}
}

func TestDedupePoints(t *testing.T) {
	points := dedupePoints([]DataPoint{
		{Date: MustParseDate("2024-01-03"), Value: 3},
		{Date: MustParseDate("2024-01-01"), Value: 1},
		{Date: MustParseDate("2024-01-03"), Value: 4},
	})
	if len(points) != 2 || points[0].Value != 1 || points[1].Value != 4 {
		t.Fatalf("points = %+v", points)
	}
	if v, ok := lastOnOrBefore(points, MustParseDate("2024-01-02")); !ok || v != 1 {
		t.Errorf("lastOnOrBefore = %v, %v", v, ok)
	}
	if _, ok := lastOnOrBefore(points, MustParseDate("2023-12-31")); ok {
		t.Error("expected no value before the first point")
	}
}
