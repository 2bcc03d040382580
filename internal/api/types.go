package api

import "lirashield/pkg/lirashield"

type usdRatePayload struct {
	Date   string  `json:"date"`
	Rate   float64 `json:"rate"`
	Source string  `json:"source"`
	Notes  string  `json:"notes"`
}

type dateRangePayload struct {
	Start string `json:"start_date"`
	End   string `json:"end_date"`
}

type cpiPayload struct {
	YearMonth string   `json:"year_month"`
	YoY       float64  `json:"cpi_yoy"`
	MoM       *float64 `json:"cpi_mom"`
	Source    string   `json:"source"`
	Notes     string   `json:"notes"`
}

type fundPricePayload struct {
	Date     string  `json:"date"`
	Ticker   string  `json:"ticker"`
	Price    float64 `json:"price"`
	Currency string  `json:"currency"`
	Source   string  `json:"source"`
}

type realReturnPayload struct {
	BuyPrice       float64 `json:"buy_price"`
	CurrentPrice   float64 `json:"current_price"`
	BuyDate        string  `json:"buy_date"`
	TaxRate        float64 `json:"tax_rate"`
	AutoFetch      *bool   `json:"auto_fetch"`
	SkipBenchmarks bool    `json:"skip_benchmarks"`
}

type analyzePayload struct {
	// Prices maps ticker to its current price. Omitted tickers use the latest stored price.
	Prices                 map[string]lirashield.CurrentPrice `json:"prices"`
	AutoFetch              *bool                              `json:"auto_fetch"`
	BenchmarkForeignAssets bool                               `json:"benchmark_foreign_assets"`
	// Markdown adds a rendered markdown report alongside the structured one.
	Markdown bool `json:"markdown"`
}

type analyzeResponse struct {
	*lirashield.PortfolioReport
	Markdown string `json:"markdown,omitempty"`
}

type commentaryPayload struct {
	analyzePayload
	Provider string `json:"provider"`
	Model    string `json:"model"`
	APIKey   string `json:"api_key"`
	BaseURL  string `json:"base_url"`
}

type commentaryResponse struct {
	Commentary string                      `json:"commentary"`
	Report     *lirashield.PortfolioReport `json:"report"`
}

type cumulativeCPIResponse struct {
	Start     string  `json:"start_date"`
	End       string  `json:"end_date"`
	ChangePct float64 `json:"change_pct"`
}

type usdRateLookupResponse struct {
	Date string   `json:"date"`
	Rate *float64 `json:"rate"`
}

type transactionsResponse struct {
	Items  []lirashield.Transaction `json:"items"`
	Limit  int                      `json:"limit"`
	Offset int                      `json:"offset"`
}
