// Package mobile exposes the lirashield core through string-typed calls for gomobile bindings.
package mobile

import (
	"context"
	"encoding/json"
	"strings"

	"lirashield/pkg/lirashield"
)

// Core wraps the lirashield core for gomobile bindings.
type Core struct {
	core *lirashield.Core
}

// Open initializes the core with a database path.
func Open(dbPath string) (*Core, error) {
	core, err := lirashield.Open(dbPath)
	if err != nil {
		return nil, err
	}
	return &Core{core: core}, nil
}

// Close releases resources.
func (c *Core) Close() error {
	if c == nil || c.core == nil {
		return nil
	}
	return c.core.Close()
}

// GetTransactionsJSON queries transactions with optional filter JSON.
func (c *Core) GetTransactionsJSON(filterJSON string) (string, error) {
	filter := lirashield.TransactionFilter{}
	if filterJSON != "" {
		var payload transactionFilterPayload
		if err := json.Unmarshal([]byte(filterJSON), &payload); err != nil {
			return "", lirashield.WrapError(lirashield.ErrCodeInvalidInput, "invalid filter JSON", err)
		}
		filter = lirashield.TransactionFilter{
			Ticker:          payload.Ticker,
			AssetType:       payload.AssetType,
			TransactionType: payload.TransactionType,
			StartDate:       payload.StartDate,
			EndDate:         payload.EndDate,
			Limit:           payload.Limit,
			Offset:          payload.Offset,
		}
	}
	data, err := c.core.GetTransactions(filter)
	if err != nil {
		return "", err
	}
	return marshalJSON(data)
}

// AddTransactionJSON creates a transaction from JSON and returns id JSON.
func (c *Core) AddTransactionJSON(payloadJSON string) (string, error) {
	var req lirashield.AddTransactionRequest
	if err := json.Unmarshal([]byte(payloadJSON), &req); err != nil {
		return "", lirashield.WrapError(lirashield.ErrCodeInvalidInput, "invalid transaction JSON", err)
	}
	id, err := c.core.AddTransaction(req)
	if err != nil {
		return "", err
	}
	return marshalJSON(map[string]any{"id": id})
}

// DeleteTransaction deletes a transaction by id.
func (c *Core) DeleteTransaction(id int64) (bool, error) {
	return c.core.DeleteTransaction(id)
}

// MatchFIFOJSON returns the FIFO lots of one ticker, or of every ticker when ticker is empty.
func (c *Core) MatchFIFOJSON(ticker string) (string, error) {
	if ticker == "" {
		data, err := c.core.MatchFIFOAll()
		if err != nil {
			return "", err
		}
		return marshalJSON(data)
	}
	data, err := c.core.MatchFIFO(ticker)
	if err != nil {
		return "", err
	}
	return marshalJSON(data)
}

// CumulativeCPIJSON returns the interpolated CPI change between two YYYY-MM-DD dates.
func (c *Core) CumulativeCPIJSON(startDate, endDate string) (string, error) {
	start, err := lirashield.ParseDate(startDate)
	if err != nil {
		return "", err
	}
	end, err := lirashield.ParseDate(endDate)
	if err != nil {
		return "", err
	}
	change, err := c.core.CumulativeCPI(start, end)
	if err != nil {
		return "", err
	}
	return marshalJSON(map[string]any{"start_date": start, "end_date": end, "change_pct": change})
}

// UpsertCPI stores one month's official CPI release. hasMoM is false when the
// monthly change has not been published.
func (c *Core) UpsertCPI(yearMonth string, yoy float64, mom float64, hasMoM bool) error {
	ym, err := lirashield.ParseYearMonthLenient(yearMonth)
	if err != nil {
		return err
	}
	var momPtr *float64
	if hasMoM {
		momPtr = &mom
	}
	return c.core.UpsertCPI(ym, yoy, momPtr, "", "")
}

// UpsertUSDRate stores the USD/TRY rate of one day.
func (c *Core) UpsertUSDRate(date string, rate float64) error {
	d, err := lirashield.ParseDate(date)
	if err != nil {
		return err
	}
	return c.core.UpsertUSDRate(d, rate, "", "")
}

// UpsertFundPrice stores the price of ticker on date. An empty currency means TRY.
func (c *Core) UpsertFundPrice(date, ticker string, price float64, currency string) error {
	d, err := lirashield.ParseDate(date)
	if err != nil {
		return err
	}
	cur := lirashield.CurrencyTRY
	if currency != "" {
		if cur, err = lirashield.ParseCurrency(currency); err != nil {
			return err
		}
	}
	return c.core.UpsertFundPrice(d, ticker, price, cur, "")
}

// RealReturnJSON computes after-tax nominal and real returns for a single holding.
func (c *Core) RealReturnJSON(payloadJSON string) (string, error) {
	var req lirashield.RealReturnRequest
	if err := json.Unmarshal([]byte(payloadJSON), &req); err != nil {
		return "", lirashield.WrapError(lirashield.ErrCodeInvalidInput, "invalid real return JSON", err)
	}
	result, err := c.core.RealReturn(context.Background(), req)
	if err != nil {
		return "", err
	}
	return marshalJSON(result)
}

// AnalyzePortfolioJSON analyzes the whole portfolio. pricesJSON maps tickers to
// {"price":..,"currency":..}; omitted tickers use their newest stored price.
func (c *Core) AnalyzePortfolioJSON(pricesJSON string, autoFetch bool) (string, error) {
	report, err := c.analyze(pricesJSON, autoFetch)
	if err != nil {
		return "", err
	}
	return marshalJSON(report)
}

// AnalyzePortfolioMarkdown is AnalyzePortfolioJSON rendered as markdown tables.
func (c *Core) AnalyzePortfolioMarkdown(pricesJSON string, autoFetch bool) (string, error) {
	report, err := c.analyze(pricesJSON, autoFetch)
	if err != nil {
		return "", err
	}
	return lirashield.RenderMarkdown(report), nil
}

func (c *Core) analyze(pricesJSON string, autoFetch bool) (*lirashield.PortfolioReport, error) {
	supplied := map[string]lirashield.CurrentPrice{}
	if pricesJSON != "" {
		if err := json.Unmarshal([]byte(pricesJSON), &supplied); err != nil {
			return nil, lirashield.WrapError(lirashield.ErrCodeInvalidInput, "invalid prices JSON", err)
		}
	}
	prices, err := c.core.PrefillPrices(supplied)
	if err != nil {
		return nil, err
	}
	return c.core.AnalyzePortfolio(context.Background(), prices, lirashield.AnalyzeOptions{AutoFetch: autoFetch})
}

// PriceSeriesJSON returns the TRY and USD price history of ticker. baseDate may be empty.
func (c *Core) PriceSeriesJSON(ticker, baseDate string, autoFetch bool) (string, error) {
	opts, err := seriesOptions(baseDate, false, autoFetch)
	if err != nil {
		return "", err
	}
	series, err := c.core.PriceSeries(context.Background(), ticker, opts)
	if err != nil {
		return "", err
	}
	return marshalJSON(series)
}

// NormalizedSeriesJSON compares comma-separated tickers rebased to 100, in USD when inUSD.
func (c *Core) NormalizedSeriesJSON(tickers, baseDate string, inUSD, autoFetch bool) (string, error) {
	opts, err := seriesOptions(baseDate, inUSD, autoFetch)
	if err != nil {
		return "", err
	}
	series, err := c.core.NormalizedSeries(context.Background(), strings.Split(tickers, ","), opts)
	if err != nil {
		return "", err
	}
	return marshalJSON(series)
}

func seriesOptions(baseDate string, inUSD, autoFetch bool) (lirashield.SeriesOptions, error) {
	opts := lirashield.SeriesOptions{InUSD: inUSD, AutoFetch: autoFetch}
	if baseDate != "" {
		base, err := lirashield.ParseDate(baseDate)
		if err != nil {
			return opts, err
		}
		opts.BaseDate = &base
	}
	return opts, nil
}

func marshalJSON(value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

type transactionFilterPayload struct {
	Ticker          string `json:"ticker"`
	AssetType       string `json:"asset_type"`
	TransactionType string `json:"transaction_type"`
	StartDate       string `json:"start_date"`
	EndDate         string `json:"end_date"`
	Limit           int    `json:"limit"`
	Offset          int    `json:"offset"`
}
