package lirashield

import (
	"context"
	"fmt"
)

// SeriesOptions controls PriceSeries and NormalizedSeries.
type SeriesOptions struct {
	// BaseDate drops prices before it. Nil keeps the whole history.
	BaseDate *Date
	// InUSD selects the USD leg for NormalizedSeries.
	InUSD bool
	// AutoFetch batch-fetches USD/TRY rates for the charted range before converting.
	AutoFetch bool
}

// SeriesPoint is one stored price in both currencies. The leg that needs a missing rate is nil.
type SeriesPoint struct {
	Date       Date     `json:"date"`
	PriceTRY   *float64 `json:"price_try"`
	PriceUSD   *float64 `json:"price_usd"`
	USDTRYRate *float64 `json:"usd_try_rate"`
}

// PriceSeries is the price history of one ticker, oldest first.
type PriceSeries struct {
	Ticker    string        `json:"ticker"`
	Currency  Currency      `json:"currency"`
	BaseDate  *Date         `json:"base_date,omitempty"`
	Points    []SeriesPoint `json:"points"`
	Converted int           `json:"converted"`
	Fetched   int           `json:"fetched"`
	Warnings  []string      `json:"warnings"`
}

// NormalizedPoint is a price rebased so the first charted point is 100.
type NormalizedPoint struct {
	Date  Date    `json:"date"`
	Index float64 `json:"index"`
	Price float64 `json:"price"`
}

// NormalizedLine is one ticker of a NormalizedSeries.
type NormalizedLine struct {
	Ticker string            `json:"ticker"`
	Points []NormalizedPoint `json:"points"`
}

// NormalizedSeries compares several tickers in one currency, each starting at 100.
type NormalizedSeries struct {
	Currency Currency         `json:"currency"`
	BaseDate *Date            `json:"base_date,omitempty"`
	Lines    []NormalizedLine `json:"lines"`
	Fetched  int              `json:"fetched"`
	Warnings []string         `json:"warnings"`
}

// PriceSeries returns the stored prices of ticker in TRY and USD. Each day converts with the
// rate of that day or the closest earlier one.
func (c *Core) PriceSeries(ctx context.Context, ticker string, opts SeriesOptions) (*PriceSeries, error) {
	ticker = normalizeTicker(ticker)
	if ticker == "" {
		return nil, NewError(ErrCodeInvalidInput, "ticker is required")
	}
	prices, err := c.pricesFrom(ticker, opts.BaseDate)
	if err != nil {
		return nil, err
	}
	if len(prices) == 0 {
		return nil, NewError(ErrCodeNotFound, "no price data found for "+ticker+sinceSuffix(opts.BaseDate))
	}

	series := &PriceSeries{
		Ticker:   ticker,
		Currency: prices[len(prices)-1].Currency,
		BaseDate: opts.BaseDate,
		Points:   make([]SeriesPoint, 0, len(prices)),
		Warnings: []string{},
	}
	start, end := prices[0].Date, prices[len(prices)-1].Date
	if opts.AutoFetch {
		series.Fetched, series.Warnings = c.fetchSeriesRates(ctx, start, end, series.Warnings)
	}
	rates, err := c.ratesThrough(end)
	if err != nil {
		return nil, err
	}

	for _, p := range prices {
		point := SeriesPoint{Date: p.Date, USDTRYRate: rates.at(p.Date)}
		price := p.Price
		if p.Currency == CurrencyUSD {
			point.PriceUSD = &price
			if point.USDTRYRate != nil {
				point.PriceTRY = floatPtr(price * *point.USDTRYRate)
			}
		} else {
			point.PriceTRY = &price
			if point.USDTRYRate != nil {
				point.PriceUSD = floatPtr(price / *point.USDTRYRate)
			}
		}
		if point.USDTRYRate != nil {
			series.Converted++
		}
		series.Points = append(series.Points, point)
	}
	if missing := len(series.Points) - series.Converted; missing > 0 {
		series.Warnings = append(series.Warnings, fmt.Sprintf("%d dates missing USD rates", missing))
	}
	return series, nil
}

// NormalizedSeries rebases every ticker to 100 at its first price on or after the base date.
// Tickers with no usable price are skipped with a warning; it fails only when none remain.
func (c *Core) NormalizedSeries(ctx context.Context, tickers []string, opts SeriesOptions) (*NormalizedSeries, error) {
	names := make([]string, 0, len(tickers))
	seen := map[string]bool{}
	for _, t := range tickers {
		if t = normalizeTicker(t); t != "" && !seen[t] {
			seen[t] = true
			names = append(names, t)
		}
	}
	if len(names) == 0 {
		return nil, NewError(ErrCodeInvalidInput, "at least one ticker is required")
	}

	out := &NormalizedSeries{Currency: CurrencyTRY, BaseDate: opts.BaseDate, Lines: []NormalizedLine{}, Warnings: []string{}}
	if opts.InUSD {
		out.Currency = CurrencyUSD
	}

	history := make(map[string][]FundPrice, len(names))
	var start, end Date
	needRates := false
	for _, t := range names {
		prices, err := c.pricesFrom(t, opts.BaseDate)
		if err != nil {
			return nil, err
		}
		history[t] = prices
		for _, p := range prices {
			if start.IsZero() || p.Date.Before(start) {
				start = p.Date
			}
			if p.Date.After(end) {
				end = p.Date
			}
			if p.Currency != out.Currency {
				needRates = true
			}
		}
	}
	if start.IsZero() {
		return nil, NewError(ErrCodeNotFound, "no price data found for any ticker"+sinceSuffix(opts.BaseDate))
	}
	if opts.AutoFetch && needRates {
		out.Fetched, out.Warnings = c.fetchSeriesRates(ctx, start, end, out.Warnings)
	}
	rates, err := c.ratesThrough(end)
	if err != nil {
		return nil, err
	}

	for _, t := range names {
		prices := history[t]
		if len(prices) == 0 {
			out.Warnings = append(out.Warnings, "no data for "+t+sinceSuffix(opts.BaseDate))
			continue
		}
		line := NormalizedLine{Ticker: t, Points: []NormalizedPoint{}}
		var first float64
		for _, p := range prices {
			value, ok := convertPrice(p.Price, p.Currency, out.Currency, rates.at(p.Date))
			if !ok {
				continue
			}
			if first == 0 {
				first = value
			}
			line.Points = append(line.Points, NormalizedPoint{Date: p.Date, Index: value / first * 100, Price: value})
		}
		if len(line.Points) == 0 {
			out.Warnings = append(out.Warnings, "no USD/TRY rates available for "+t)
			continue
		}
		out.Lines = append(out.Lines, line)
	}
	return out, nil
}

func convertPrice(price float64, from, to Currency, rate *float64) (float64, bool) {
	switch {
	case from == to:
		return price, true
	case rate == nil:
		return 0, false
	case to == CurrencyUSD:
		return price / *rate, true
	default:
		return price * *rate, true
	}
}

// fetchSeriesRates reports a failed batch fetch as a warning; the chart still uses stored rates.
func (c *Core) fetchSeriesRates(ctx context.Context, start, end Date, warnings []string) (int, []string) {
	result, err := c.FetchUSDRates(ctx, start, end)
	if err != nil {
		c.logger.Warn("usd/try fetch for chart failed", "start", start.String(), "end", end.String(), "err", err)
		return 0, append(warnings, "USD/TRY fetch failed: "+ErrorMessage(err))
	}
	return result.Imported, warnings
}

// pricesFrom returns the stored prices of ticker on or after base, oldest first.
func (c *Core) pricesFrom(ticker string, base *Date) ([]FundPrice, error) {
	stored, err := c.ListFundPrices(ticker, 0)
	if err != nil {
		return nil, err
	}
	out := make([]FundPrice, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		if base != nil && stored[i].Date.Before(*base) {
			continue
		}
		out = append(out, stored[i])
	}
	return out, nil
}

// rateHistory is stored USD/TRY rates, oldest first.
type rateHistory []DataPoint

// at returns the rate of date or the closest earlier day, the same fallback GetUSDRate uses.
func (h rateHistory) at(date Date) *float64 {
	lo, hi := 0, len(h)
	for lo < hi {
		mid := (lo + hi) / 2
		if h[mid].Date.After(date) {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	if lo == 0 {
		return nil
	}
	rate := h[lo-1].Value
	return &rate
}

func (c *Core) ratesThrough(end Date) (rateHistory, error) {
	rows, err := c.db.Query("SELECT date, usd_try_rate FROM cpi_usd_rates WHERE date <= ? ORDER BY date", end.String())
	if err != nil {
		return nil, dbError("query usd rates", err)
	}
	defer rows.Close()
	var out rateHistory
	for rows.Next() {
		var p DataPoint
		if err := rows.Scan(&p.Date, &p.Value); err != nil {
			return nil, dbError("scan usd rate", err)
		}
		out = append(out, p)
	}
	return out, dbError("query usd rates", rows.Err())
}

func sinceSuffix(base *Date) string {
	if base == nil {
		return ""
	}
	return " from " + base.String()
}
