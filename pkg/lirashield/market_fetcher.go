package lirashield

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// Market data errors. Use errors.Is() to check for these conditions.
var (
	// ErrNoData indicates the provider answered but had no usable observation.
	ErrNoData = errors.New("no market data available")
	// ErrAllSourcesFailed indicates every provider failed or was cooling down.
	ErrAllSourcesFailed = errors.New("all market data sources failed")
)

const (
	yahooChartURL     = "https://query1.finance.yahoo.com/v8/finance/chart/%s?interval=1d&period1=%d&period2=%d"
	frankfurterURL    = "https://api.frankfurter.app"
	tefasHistoryURL   = "https://www.tefas.gov.tr/api/DB/BindHistoryInfo"
	tefasDateFormat   = "02.01.2006"
	tefasChunkDays    = 60
	usdTryLookbackDay = 7

	// maxResponseSize limits external API responses to 1MB.
	maxResponseSize = 1 << 20
)

// yahooUSDTRYSymbols are tried in order for the lira rate.
var yahooUSDTRYSymbols = []string{"TRY=X", "USDTRY=X"}

// DataPoint is a dated value returned by a market data provider.
type DataPoint struct {
	Date  Date    `json:"date"`
	Value float64 `json:"value"`
}

// MarketData fetches live USD/TRY rates and asset prices. Each method also
// returns the name of the provider that answered.
type MarketData interface {
	USDTRYRate(ctx context.Context, date Date) (float64, string, error)
	USDTRYRates(ctx context.Context, start, end Date) ([]DataPoint, string, error)
	Prices(ctx context.Context, ticker string, assetType AssetType, start, end Date) ([]DataPoint, string, error)
}

// HTTPDoer is an interface for making HTTP requests. It enables dependency
// injection for testing without network calls.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

type marketFetcherOptions struct {
	Logger        *slog.Logger
	CacheTTL      time.Duration
	FailThreshold int
	FailWindow    time.Duration
	Cooldown      time.Duration
	RatePerSecond float64
	Burst         int
	HTTPTimeout   time.Duration
	HTTPClient    HTTPDoer // Optional: inject custom client for testing
}

type marketFetcher struct {
	logger        *slog.Logger
	failThreshold int
	failWindow    time.Duration
	cooldown      time.Duration
	client        HTTPDoer
	limiter       *rate.Limiter
	cache         *cache.Cache

	circuitMu    sync.Mutex
	serviceState map[string]*serviceState
}

type serviceState struct {
	failCount     int
	firstFailAt   time.Time
	cooldownUntil time.Time
}

type cachedSeries struct {
	points []DataPoint
	source string
}

func newMarketFetcher(opts marketFetcherOptions) *marketFetcher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.HTTPTimeout}
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	return &marketFetcher{
		logger:        logger,
		failThreshold: opts.FailThreshold,
		failWindow:    opts.FailWindow,
		cooldown:      opts.Cooldown,
		client:        client,
		limiter:       rate.NewLimiter(limit, burst),
		cache:         cache.New(opts.CacheTTL, 2*opts.CacheTTL),
		serviceState:  map[string]*serviceState{},
	}
}

type fetchAttempt struct {
	name string
	fn   func(ctx context.Context) ([]DataPoint, error)
}

// USDTRYRate returns the close on or before date, never a later one.
func (mf *marketFetcher) USDTRYRate(ctx context.Context, date Date) (float64, string, error) {
	points, source, err := mf.USDTRYRates(ctx, date.AddDays(-usdTryLookbackDay), date)
	if err != nil {
		return 0, "", err
	}
	value, ok := lastOnOrBefore(points, date)
	if !ok {
		return 0, "", ErrNoData
	}
	return value, source, nil
}

// USDTRYRates returns daily USD/TRY closes in [start, end], ascending by date.
func (mf *marketFetcher) USDTRYRates(ctx context.Context, start, end Date) ([]DataPoint, string, error) {
	attempts := make([]fetchAttempt, 0, len(yahooUSDTRYSymbols)+1)
	for _, symbol := range yahooUSDTRYSymbols {
		symbol := symbol
		attempts = append(attempts, fetchAttempt{"Yahoo Finance " + symbol, func(ctx context.Context) ([]DataPoint, error) {
			return mf.yahooHistory(ctx, symbol, start, end)
		}})
	}
	attempts = append(attempts, fetchAttempt{"Frankfurter", func(ctx context.Context) ([]DataPoint, error) {
		return mf.frankfurterHistory(ctx, start, end)
	}})
	return mf.run(ctx, "usdtry|"+start.String()+"|"+end.String(), attempts)
}

// Prices returns daily closes for an asset in [start, end]. Cash has no price history.
func (mf *marketFetcher) Prices(ctx context.Context, ticker string, assetType AssetType, start, end Date) ([]DataPoint, string, error) {
	ticker = normalizeTicker(ticker)
	var attempts []fetchAttempt
	switch assetType {
	case AssetTEFAS:
		attempts = []fetchAttempt{{"TEFAS", func(ctx context.Context) ([]DataPoint, error) {
			return mf.tefasHistory(ctx, ticker, start, end)
		}}}
	case AssetUSDStock:
		attempts = []fetchAttempt{{"Yahoo Finance", func(ctx context.Context) ([]DataPoint, error) {
			return mf.yahooHistory(ctx, ticker, start, end)
		}}}
	default:
		return nil, "", NewError(ErrCodeUnsupported, fmt.Sprintf("no price source for asset type %s", assetType))
	}
	return mf.run(ctx, "price|"+string(assetType)+"|"+ticker+"|"+start.String()+"|"+end.String(), attempts)
}

func (mf *marketFetcher) run(ctx context.Context, key string, attempts []fetchAttempt) ([]DataPoint, string, error) {
	if cached, ok := mf.cache.Get(key); ok {
		entry := cached.(cachedSeries)
		return entry.points, entry.source, nil
	}

	var errorsList []string
	for _, attempt := range attempts {
		service := attempt.name
		if !mf.serviceAvailable(service) {
			errorsList = append(errorsList, fmt.Sprintf("%s: cooling down", service))
			continue
		}
		points, err := attempt.fn(ctx)
		if err == nil && len(points) > 0 {
			mf.recordServiceSuccess(service)
			sortPoints(points)
			mf.cache.SetDefault(key, cachedSeries{points: points, source: service})
			mf.logger.Debug("market data fetched", "source", service, "points", len(points))
			return points, service, nil
		}
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		if err != nil {
			errorsList = append(errorsList, fmt.Sprintf("%s: %v", service, err))
		} else {
			errorsList = append(errorsList, fmt.Sprintf("%s: no data", service))
		}
		mf.recordServiceFailure(service)
	}
	mf.logger.Warn("market data fetch failed", "key", key, "errors", strings.Join(errorsList, "; "))
	return nil, "", fmt.Errorf("%w: %s", ErrAllSourcesFailed, strings.Join(errorsList, "; "))
}

func (mf *marketFetcher) serviceAvailable(service string) bool {
	mf.circuitMu.Lock()
	defer mf.circuitMu.Unlock()
	state, ok := mf.serviceState[service]
	if !ok {
		return true
	}
	return time.Now().After(state.cooldownUntil)
}

func (mf *marketFetcher) recordServiceFailure(service string) {
	mf.circuitMu.Lock()
	defer mf.circuitMu.Unlock()
	state := mf.serviceState[service]
	now := time.Now()
	if state == nil {
		state = &serviceState{firstFailAt: now}
		mf.serviceState[service] = state
	}
	if now.Sub(state.firstFailAt) > mf.failWindow {
		state.failCount = 0
		state.firstFailAt = now
	}
	state.failCount++
	if state.failCount >= mf.failThreshold {
		state.cooldownUntil = now.Add(mf.cooldown)
	}
}

func (mf *marketFetcher) recordServiceSuccess(service string) {
	mf.circuitMu.Lock()
	defer mf.circuitMu.Unlock()
	delete(mf.serviceState, service)
}

type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (mf *marketFetcher) yahooHistory(ctx context.Context, symbol string, start, end Date) ([]DataPoint, error) {
	period1 := start.time().Unix()
	// period2 is exclusive.
	period2 := end.AddDays(1).time().Unix()
	endpoint := fmt.Sprintf(yahooChartURL, url.PathEscape(symbol), period1, period2)
	body, err := mf.httpGet(ctx, endpoint, map[string]string{"User-Agent": "Mozilla/5.0"})
	if err != nil {
		return nil, err
	}
	var payload yahooChartResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	if payload.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo: %s", payload.Chart.Error.Description)
	}
	if len(payload.Chart.Result) == 0 || len(payload.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, nil
	}
	result := payload.Chart.Result[0]
	closes := result.Indicators.Quote[0].Close
	points := make([]DataPoint, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(closes) || closes[i] == nil || *closes[i] <= 0 {
			continue
		}
		day := DateOf(time.Unix(ts, 0).In(istanbulLocation))
		if day.Before(start) || day.After(end) {
			continue
		}
		points = append(points, DataPoint{Date: day, Value: *closes[i]})
	}
	return dedupePoints(points), nil
}

type frankfurterSeries struct {
	Rates map[string]map[string]float64 `json:"rates"`
}

func (mf *marketFetcher) frankfurterHistory(ctx context.Context, start, end Date) ([]DataPoint, error) {
	endpoint := fmt.Sprintf("%s/%s..%s?from=USD&to=TRY", frankfurterURL, start, end)
	body, err := mf.httpGet(ctx, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var payload frankfurterSeries
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	points := make([]DataPoint, 0, len(payload.Rates))
	for raw, rates := range payload.Rates {
		day, err := ParseDate(raw)
		if err != nil {
			continue
		}
		value, ok := rates["TRY"]
		if !ok || value <= 0 || day.After(end) {
			continue
		}
		points = append(points, DataPoint{Date: day, Value: value})
	}
	return points, nil
}

type tefasHistoryResponse struct {
	Data []struct {
		Date  any    `json:"TARIH"`
		Code  string `json:"FONKODU"`
		Price any    `json:"FIYAT"`
	} `json:"data"`
}

func (mf *marketFetcher) tefasHistory(ctx context.Context, fund string, start, end Date) ([]DataPoint, error) {
	var points []DataPoint
	for chunkStart := start; !chunkStart.After(end); chunkStart = chunkStart.AddDays(tefasChunkDays + 1) {
		chunkEnd := chunkStart.AddDays(tefasChunkDays)
		if chunkEnd.After(end) {
			chunkEnd = end
		}
		form := url.Values{
			"fontip":      {"YAT"},
			"sfontur":     {""},
			"fonkod":      {fund},
			"fongrup":     {""},
			"bastarih":    {chunkStart.time().Format(tefasDateFormat)},
			"bittarih":    {chunkEnd.time().Format(tefasDateFormat)},
			"fonturkod":   {""},
			"fonunvantip": {""},
		}
		body, err := mf.httpPostForm(ctx, tefasHistoryURL, form, map[string]string{
			"User-Agent":       "Mozilla/5.0",
			"X-Requested-With": "XMLHttpRequest",
			"Origin":           "https://www.tefas.gov.tr",
			"Referer":          "https://www.tefas.gov.tr/TarihselVeriler.aspx",
		})
		if err != nil {
			return nil, err
		}
		var payload tefasHistoryResponse
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, err
		}
		for _, row := range payload.Data {
			if row.Code != "" && !strings.EqualFold(row.Code, fund) {
				continue
			}
			ms, err := parseFloat(row.Date)
			if err != nil {
				continue
			}
			price, err := parseFloat(row.Price)
			if err != nil || price <= 0 {
				continue
			}
			day := DateOf(time.UnixMilli(int64(ms)).In(istanbulLocation))
			points = append(points, DataPoint{Date: day, Value: price})
		}
	}
	return dedupePoints(points), nil
}

func (mf *marketFetcher) httpGet(ctx context.Context, endpoint string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return mf.do(ctx, req, headers)
}

func (mf *marketFetcher) httpPostForm(ctx context.Context, endpoint string, form url.Values, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	return mf.do(ctx, req, headers)
}

func (mf *marketFetcher) do(ctx context.Context, req *http.Request, headers map[string]string) ([]byte, error) {
	if err := mf.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := mf.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
}

func parseFloat(value any) (float64, error) {
	switch v := value.(type) {
	case nil:
		return 0, errors.New("no value")
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		if v == "" {
			return 0, errors.New("empty")
		}
		return strconv.ParseFloat(strings.ReplaceAll(v, ",", "."), 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", value)
	}
}

func sortPoints(points []DataPoint) {
	sort.SliceStable(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })
}

// dedupePoints keeps the last value seen for each day.
func dedupePoints(points []DataPoint) []DataPoint {
	byDay := make(map[Date]int, len(points))
	out := make([]DataPoint, 0, len(points))
	for _, p := range points {
		if idx, ok := byDay[p.Date]; ok {
			out[idx] = p
			continue
		}
		byDay[p.Date] = len(out)
		out = append(out, p)
	}
	sortPoints(out)
	return out
}

// lastOnOrBefore returns the latest value dated no later than date.
func lastOnOrBefore(points []DataPoint, date Date) (float64, bool) {
	var (
		value float64
		found bool
	)
	for _, p := range points {
		if p.Date.After(date) {
			continue
		}
		value, found = p.Value, true
	}
	return value, found
}
