package lirashield

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
)

// EmptyPortfolioMessage is the placeholder reported when there is nothing to analyze.
const EmptyPortfolioMessage = "No transactions found. Add some first."

// DetailKind distinguishes open lots from realized sales in the detail table.
type DetailKind string

const (
	DetailOpen DetailKind = "OPEN"
	DetailSold DetailKind = "SOLD"
)

// AnalyzeOptions tunes AnalyzePortfolio.
type AnalyzeOptions struct {
	// AutoFetch fetches and stores USD/TRY rates missing from the store.
	AutoFetch bool
	// BenchmarkForeignAssets compares USD assets against the lira benchmarks after
	// converting their prices to TRY. Off by default: lira CPI is not meaningful for them.
	BenchmarkForeignAssets bool
}

// DetailRow is one open lot or one realized match.
type DetailRow struct {
	Kind     DetailKind `json:"type"`
	Ticker   string     `json:"ticker"`
	BuyDate  Date       `json:"buy_date"`
	SellDate *Date      `json:"sell_date,omitempty"`
	Quantity float64    `json:"quantity"`
	BuyPrice float64    `json:"buy_price"`
	// Price is the current price of an open lot or the sale price of a realized one.
	Price            float64  `json:"price"`
	Currency         Currency `json:"currency"`
	TaxRate          float64  `json:"tax_rate"`
	NominalPct       *float64 `json:"nominal_pct"`
	USDInflationPct  *float64 `json:"usd_inflation_pct"`
	CPIInflationPct  *float64 `json:"cpi_inflation_pct"`
	RealReturnUSDPct *float64 `json:"real_return_usd_pct"`
	RealReturnCPIPct *float64 `json:"real_return_cpi_pct"`
	HoldingDays      *int     `json:"holding_days,omitempty"`
	RealizedGain     *float64 `json:"realized_gain,omitempty"`
	Error            string   `json:"error,omitempty"`
}

// SummaryRow aggregates one ticker. Real returns are weighted by invested capital.
type SummaryRow struct {
	Ticker           string    `json:"ticker"`
	AssetType        AssetType `json:"asset_type"`
	Currency         Currency  `json:"currency"`
	SharesHeld       float64   `json:"shares_held"`
	AvgCost          float64   `json:"avg_cost"`
	CurrentPrice     *float64  `json:"current_price"`
	CostBasis        float64   `json:"cost_basis"`
	CurrentValue     float64   `json:"current_value"`
	UnrealizedPL     float64   `json:"unrealized_pl"`
	UnrealizedPct    float64   `json:"unrealized_pct"`
	RealizedGain     float64   `json:"realized_gain"`
	RealReturnUSDPct *float64  `json:"real_return_usd_pct"`
	RealReturnCPIPct *float64  `json:"real_return_cpi_pct"`
}

// TotalRow is the grand total of the portfolio expressed in one currency.
type TotalRow struct {
	Currency      Currency `json:"currency"`
	CostBasis     float64  `json:"cost_basis"`
	CurrentValue  float64  `json:"current_value"`
	UnrealizedPL  float64  `json:"unrealized_pl"`
	UnrealizedPct float64  `json:"unrealized_pct"`
	RealizedGain  float64  `json:"realized_gain"`
	TotalGain     float64  `json:"total_gain"`
}

// PortfolioReport is the outcome of AnalyzePortfolio. It is always populated, even when
// individual lots failed; Errors lists those failures and Status summarizes the run.
type PortfolioReport struct {
	AsOf         Date         `json:"as_of"`
	Placeholder  string       `json:"placeholder,omitempty"`
	Details      []DetailRow  `json:"details"`
	Summary      []SummaryRow `json:"summary"`
	Totals       []TotalRow   `json:"totals"`
	USDRateToday *float64     `json:"usd_rate_today"`
	Status       string       `json:"status"`
	Errors       []string     `json:"errors"`
	Warnings     []string     `json:"warnings"`
}

// weighted accumulates capital-weighted returns.
type weighted struct {
	sum, weight float64
}

func (w *weighted) add(invested float64, value *float64) {
	if value == nil {
		return
	}
	w.sum += invested * *value
	w.weight += invested
}

func (w weighted) average() *float64 {
	if w.weight <= 0 {
		return nil
	}
	return floatPtr(w.sum / w.weight)
}

// AnalyzePortfolio evaluates every open lot against the supplied current prices and the
// inflation benchmarks, and lists realized matches. Tickers without a usable price are
// valued at their buy price. Failures for one lot are reported, never fatal.
func (c *Core) AnalyzePortfolio(ctx context.Context, prices map[string]CurrentPrice, opts AnalyzeOptions) (*PortfolioReport, error) {
	today := c.today()
	report := &PortfolioReport{
		AsOf:     today,
		Details:  []DetailRow{},
		Summary:  []SummaryRow{},
		Totals:   []TotalRow{},
		Errors:   []string{},
		Warnings: []string{},
	}

	results, err := c.MatchFIFOAll()
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		report.Placeholder = EmptyPortfolioMessage
		report.Status = EmptyPortfolioMessage
		return report, nil
	}

	usdToday, err := c.RateFor(ctx, today, opts.AutoFetch)
	if err != nil {
		return nil, err
	}
	report.USDRateToday = usdToday
	priceMap := normalizePrices(prices)

	sort.Slice(results, func(i, j int) bool { return results[i].Ticker < results[j].Ticker })
	for _, fifo := range results {
		for _, w := range fifo.Warnings {
			report.Warnings = append(report.Warnings, w.Message)
		}
		row, err := c.analyzeTicker(ctx, fifo, priceMap, usdToday, today, opts, report)
		if err != nil {
			return nil, err
		}
		report.Summary = append(report.Summary, row)
	}

	report.Totals = portfolioTotals(report.Summary, usdToday)
	report.Status = FormatStatus(report)
	c.logger.Info("portfolio analyzed", "tickers", len(report.Summary), "lots", len(report.Details), "errors", len(report.Errors))
	return report, nil
}

// normalizePrices keeps positive prices keyed by upper-case ticker. A missing currency means TRY.
func normalizePrices(prices map[string]CurrentPrice) map[string]CurrentPrice {
	out := make(map[string]CurrentPrice, len(prices))
	for ticker, p := range prices {
		ticker = normalizeTicker(ticker)
		if ticker == "" || !(p.Price > 0) {
			continue
		}
		if p.Currency == "" {
			p.Currency = CurrencyTRY
		}
		out[ticker] = p
	}
	return out
}

// priceIn converts a supplied price into cur using today's USD/TRY rate.
func priceIn(p CurrentPrice, cur Currency, usdToday *float64) (float64, bool) {
	if p.Currency == cur {
		return p.Price, true
	}
	if usdToday == nil || *usdToday <= 0 {
		return 0, false
	}
	switch {
	case p.Currency == CurrencyTRY && cur == CurrencyUSD:
		return p.Price / *usdToday, true
	case p.Currency == CurrencyUSD && cur == CurrencyTRY:
		return p.Price * *usdToday, true
	}
	return 0, false
}

func (c *Core) analyzeTicker(
	ctx context.Context,
	fifo FIFOResult,
	prices map[string]CurrentPrice,
	usdToday *float64,
	today Date,
	opts AnalyzeOptions,
	report *PortfolioReport,
) (SummaryRow, error) {
	isCash := fifo.AssetType == AssetCash
	currency := fifo.Currency
	if currency == "" {
		currency = CurrencyTRY
	}

	var current *float64
	if isCash {
		current = floatPtr(1)
	} else if p, ok := prices[fifo.Ticker]; ok {
		if converted, ok := priceIn(p, currency, usdToday); ok {
			current = floatPtr(converted)
		} else {
			report.Warnings = append(report.Warnings, fmt.Sprintf(
				"%s: price given in %s cannot be converted to %s without today's USD/TRY rate", fifo.Ticker, p.Currency, currency))
		}
	} else if fifo.TotalSharesHeld.IsPositive() {
		report.Warnings = append(report.Warnings, fmt.Sprintf(
			"%s: no current price, open lots valued at their buy price", fifo.Ticker))
	}

	row := SummaryRow{
		Ticker:       fifo.Ticker,
		AssetType:    fifo.AssetType,
		Currency:     currency,
		SharesHeld:   fifo.TotalSharesHeld.Float(),
		AvgCost:      fifo.AvgCostPerShare.Float(),
		CurrentPrice: current,
		CostBasis:    fifo.TotalCostBasis.Float(),
		RealizedGain: fifo.TotalRealizedGain.Float(),
	}

	var realUSD, realCPI weighted
	for _, lot := range fifo.OpenLots {
		quantity := lot.RemainingQuantity.Float()
		buyPrice := lot.BuyPrice.Float()
		if isCash {
			buyPrice = 1
		}
		lotPrice := buyPrice
		if current != nil {
			lotPrice = *current
		}
		invested := buyPrice * quantity
		row.CurrentValue += lotPrice * quantity

		detail := DetailRow{
			Kind:     DetailOpen,
			Ticker:   fifo.Ticker,
			BuyDate:  lot.BuyDate,
			Quantity: quantity,
			BuyPrice: buyPrice,
			Price:    lotPrice,
			Currency: currency,
			TaxRate:  lot.TaxRate,
		}

		res, err := c.lotReturn(ctx, fifo.AssetType, currency, lot, buyPrice, lotPrice, usdToday, today, opts)
		switch {
		case err == nil:
			detail.NominalPct = floatPtr(res.NominalPct)
			detail.USDInflationPct = res.USDInflationPct
			detail.CPIInflationPct = res.CPIInflationPct
			detail.RealReturnUSDPct = res.RealReturnUSDPct
			detail.RealReturnCPIPct = res.RealReturnCPIPct
			realUSD.add(invested, res.RealReturnUSDPct)
			realCPI.add(invested, res.RealReturnCPIPct)
		case isLotError(err):
			detail.Error = ErrorMessage(err)
			report.Errors = append(report.Errors, fmt.Sprintf("%s (%s): %s", fifo.Ticker, lot.BuyDate, ErrorMessage(err)))
		default:
			return SummaryRow{}, err
		}
		report.Details = append(report.Details, detail)
	}

	for _, m := range fifo.ClosedLots {
		sellDate := m.SellDate
		holding := m.HoldingDays
		gain := m.RealizedGain.Float()
		pct := m.RealizedGainPct
		report.Details = append(report.Details, DetailRow{
			Kind:         DetailSold,
			Ticker:       fifo.Ticker,
			BuyDate:      m.BuyDate,
			SellDate:     &sellDate,
			Quantity:     m.Quantity.Float(),
			BuyPrice:     m.BuyPrice.Float(),
			Price:        m.SellPrice.Float(),
			Currency:     currency,
			TaxRate:      m.TaxRate,
			NominalPct:   &pct,
			HoldingDays:  &holding,
			RealizedGain: &gain,
		})
	}

	if row.SharesHeld > 0 {
		row.UnrealizedPL = row.CurrentValue - row.CostBasis
		if row.CostBasis > 0 {
			row.UnrealizedPct = row.UnrealizedPL / row.CostBasis * 100
		}
	} else {
		row.CurrentValue = 0
	}
	row.RealReturnUSDPct = realUSD.average()
	row.RealReturnCPIPct = realCPI.average()
	return row, nil
}

// lotReturn evaluates one open lot. USD assets report their nominal return in dollars with
// tax applied there; a lira benchmark comparison converts the after-tax price to TRY.
func (c *Core) lotReturn(
	ctx context.Context,
	assetType AssetType,
	currency Currency,
	lot OpenLot,
	buyPrice, lotPrice float64,
	usdToday *float64,
	today Date,
	opts AnalyzeOptions,
) (RealReturnResult, error) {
	if assetType == AssetCash {
		return RealReturnResult{NominalPct: 0, TaxRate: lot.TaxRate}, nil
	}
	req := RealReturnRequest{
		BuyPrice:     buyPrice,
		CurrentPrice: lotPrice,
		BuyDate:      lot.BuyDate,
		TaxRate:      lot.TaxRate,
		AutoFetch:    opts.AutoFetch,
	}
	if currency != CurrencyUSD {
		return c.RealReturn(ctx, req)
	}

	req.SkipBenchmarks = true
	nominal, err := c.RealReturn(ctx, req)
	if err != nil || !opts.BenchmarkForeignAssets {
		return nominal, err
	}
	buyRate, err := c.RateFor(ctx, lot.BuyDate, opts.AutoFetch)
	if err != nil {
		return RealReturnResult{}, err
	}
	if buyRate == nil || usdToday == nil {
		return RealReturnResult{}, NewError(ErrCodeMissingRate, fmt.Sprintf("USD/TRY rate missing for %s or %s", lot.BuyDate, today))
	}
	afterTax := lotPrice - math.Max(0, lotPrice-buyPrice)*lot.TaxRate/100
	converted, err := c.RealReturn(ctx, RealReturnRequest{
		BuyPrice:     buyPrice * *buyRate,
		CurrentPrice: afterTax * *usdToday,
		BuyDate:      lot.BuyDate,
		AutoFetch:    opts.AutoFetch,
	})
	if err != nil {
		return RealReturnResult{}, err
	}
	converted.NominalPct = nominal.NominalPct
	converted.TaxRate = nominal.TaxRate
	converted.TaxAmountPerShare = nominal.TaxAmountPerShare
	return converted, nil
}

// isLotError reports failures that flag a single lot rather than abort the analysis.
func isLotError(err error) bool {
	switch CodeOf(err) {
	case ErrCodeMissingBenchmark, ErrCodeMissingRate, ErrCodeMissingCPI, ErrCodeValidation, ErrCodeMalformedDate, ErrCodeFetchFailed:
		return true
	}
	return false
}

// portfolioTotals converts every ticker through today's USD/TRY rate. The TRY row is always
// present; the USD row only when the rate is known.
func portfolioTotals(rows []SummaryRow, usdToday *float64) []TotalRow {
	tryTotal := TotalRow{Currency: CurrencyTRY}
	usdTotal := TotalRow{Currency: CurrencyUSD}
	for _, r := range rows {
		for _, total := range []*TotalRow{&tryTotal, &usdTotal} {
			factor, ok := conversionFactor(r.Currency, total.Currency, usdToday)
			if !ok {
				continue
			}
			total.CostBasis += r.CostBasis * factor
			total.CurrentValue += r.CurrentValue * factor
			total.RealizedGain += r.RealizedGain * factor
		}
	}
	totals := []TotalRow{finishTotal(tryTotal)}
	if usdToday != nil && *usdToday > 0 {
		totals = append(totals, finishTotal(usdTotal))
	}
	return totals
}

func conversionFactor(from, to Currency, usdToday *float64) (float64, bool) {
	if from == to {
		return 1, true
	}
	if usdToday == nil || *usdToday <= 0 {
		return 0, false
	}
	if from == CurrencyUSD && to == CurrencyTRY {
		return *usdToday, true
	}
	return 1 / *usdToday, true
}

func finishTotal(t TotalRow) TotalRow {
	t.UnrealizedPL = t.CurrentValue - t.CostBasis
	if t.CostBasis > 0 {
		t.UnrealizedPct = t.UnrealizedPL / t.CostBasis * 100
	}
	t.TotalGain = t.UnrealizedPL + t.RealizedGain
	return t
}

// FormatStatus renders the status text of a report, one line per item.
func FormatStatus(report *PortfolioReport) string {
	if report == nil {
		return ""
	}
	if report.Placeholder != "" {
		return report.Placeholder
	}
	var lines []string
	if report.USDRateToday != nil {
		lines = append(lines, fmt.Sprintf("Today's USD/TRY: %.4f", *report.USDRateToday))
	}
	lines = append(lines, "Using FIFO cost basis method")

	var realizedTRY, realizedUSD float64
	hasUSD := false
	for _, t := range report.Totals {
		switch t.Currency {
		case CurrencyTRY:
			realizedTRY = t.RealizedGain
		case CurrencyUSD:
			realizedUSD = t.RealizedGain
			hasUSD = true
		}
	}
	if realizedTRY != 0 || realizedUSD != 0 {
		if hasUSD {
			lines = append(lines, fmt.Sprintf("Total Realized Gains: %s / %s",
				FormatSignedMoney(realizedTRY, CurrencyTRY), FormatSignedMoney(realizedUSD, CurrencyUSD)))
		} else {
			lines = append(lines, "Total Realized Gains: "+FormatSignedMoney(realizedTRY, CurrencyTRY))
		}
	}
	for _, w := range report.Warnings {
		lines = append(lines, "Warning: "+w)
	}
	if len(report.Errors) > 0 {
		for _, e := range report.Errors {
			lines = append(lines, "- "+e)
		}
	} else {
		lines = append(lines, "All calculations successful")
	}
	return strings.Join(lines, "\n")
}
