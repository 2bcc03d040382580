package lirashield

import (
	"context"
	"fmt"
)

// RealReturnRequest describes one position to evaluate against the inflation benchmarks.
type RealReturnRequest struct {
	BuyPrice     float64 `json:"buy_price"`
	CurrentPrice float64 `json:"current_price"`
	BuyDate      Date    `json:"buy_date"`
	// TaxRate is a percentage levied on gains only.
	TaxRate   float64 `json:"tax_rate"`
	AutoFetch bool    `json:"auto_fetch"`
	// SkipBenchmarks returns the after-tax nominal return only.
	SkipBenchmarks bool `json:"skip_benchmarks"`
}

// RealReturnResult holds after-tax returns in percent, rounded to 2 decimals.
// A nil benchmark field means that benchmark had no data.
type RealReturnResult struct {
	NominalPct        float64  `json:"nominal_pct"`
	USDInflationPct   *float64 `json:"usd_inflation_pct"`
	RealReturnUSDPct  *float64 `json:"real_return_usd_pct"`
	CPIInflationPct   *float64 `json:"cpi_inflation_pct"`
	RealReturnCPIPct  *float64 `json:"real_return_cpi_pct"`
	BuyUSDRate        *float64 `json:"buy_usd"`
	CurrentUSDRate    *float64 `json:"current_usd"`
	TaxRate           float64  `json:"tax_rate"`
	TaxAmountPerShare float64  `json:"tax_amount_per_share"`
}

// benchmarkInputs are the resolved benchmark observations for one request.
type benchmarkInputs struct {
	buyRate   *float64
	todayRate *float64
	// cpiChange is the cumulative CPI change in percent.
	cpiChange *float64
}

// RealReturn computes the after-tax nominal return and its real value against the USD/TRY
// rate and official CPI between the buy date and today. One missing benchmark leaves its
// fields nil; if both are missing the call fails with MISSING_BENCHMARK_DATA.
func (c *Core) RealReturn(ctx context.Context, req RealReturnRequest) (RealReturnResult, error) {
	if err := validateRealReturnRequest(req); err != nil {
		return RealReturnResult{}, err
	}
	if req.SkipBenchmarks {
		return computeRealReturn(req, benchmarkInputs{})
	}

	today := c.today()
	var in benchmarkInputs
	var err error
	if in.buyRate, err = c.RateFor(ctx, req.BuyDate, req.AutoFetch); err != nil {
		return RealReturnResult{}, err
	}
	if in.todayRate, err = c.RateFor(ctx, today, req.AutoFetch); err != nil {
		return RealReturnResult{}, err
	}
	cpi, err := c.CumulativeCPI(req.BuyDate, today)
	switch {
	case err == nil:
		in.cpiChange = &cpi
	case IsErrorCode(err, ErrCodeMissingCPI):
		c.logger.Debug("cpi benchmark unavailable", "buy_date", req.BuyDate.String(), "err", err)
	default:
		return RealReturnResult{}, err
	}
	return computeRealReturn(req, in)
}

func validateRealReturnRequest(req RealReturnRequest) error {
	if !(req.BuyPrice > 0) {
		return NewError(ErrCodeValidation, fmt.Sprintf("buy price must be positive, got %v", req.BuyPrice))
	}
	if req.CurrentPrice < 0 {
		return NewError(ErrCodeValidation, fmt.Sprintf("current price must not be negative, got %v", req.CurrentPrice))
	}
	if req.TaxRate < 0 || req.TaxRate > 100 {
		return NewError(ErrCodeValidation, "tax_rate must be between 0 and 100")
	}
	if req.BuyDate.IsZero() && !req.SkipBenchmarks {
		return NewError(ErrCodeMalformedDate, "buy date required")
	}
	return nil
}

// computeRealReturn applies real = (1+nominal)/(1+benchmark) - 1 to each available benchmark.
func computeRealReturn(req RealReturnRequest, in benchmarkInputs) (RealReturnResult, error) {
	taxableGain := req.CurrentPrice - req.BuyPrice
	if taxableGain < 0 {
		taxableGain = 0
	}
	taxAmount := taxableGain * req.TaxRate / 100
	afterTax := req.CurrentPrice - taxAmount
	nominal := (afterTax - req.BuyPrice) / req.BuyPrice

	result := RealReturnResult{
		NominalPct:        round2(nominal * 100),
		TaxRate:           req.TaxRate,
		TaxAmountPerShare: round4(taxAmount),
	}
	if req.SkipBenchmarks {
		return result, nil
	}

	if in.buyRate != nil && in.todayRate != nil && *in.buyRate > 0 {
		fxChange := (*in.todayRate - *in.buyRate) / *in.buyRate
		result.USDInflationPct = floatPtr(round2(fxChange * 100))
		result.RealReturnUSDPct = floatPtr(round2(((1+nominal)/(1+fxChange) - 1) * 100))
		result.BuyUSDRate = floatPtr(round4(*in.buyRate))
		result.CurrentUSDRate = floatPtr(round4(*in.todayRate))
	}
	if in.cpiChange != nil {
		result.CPIInflationPct = floatPtr(round2(*in.cpiChange))
		result.RealReturnCPIPct = floatPtr(round2(((1+nominal)/(1+*in.cpiChange/100) - 1) * 100))
	}

	if result.RealReturnUSDPct == nil && result.RealReturnCPIPct == nil {
		return RealReturnResult{}, NewError(ErrCodeMissingBenchmark, fmt.Sprintf(
			"missing both USD and CPI data for %s; add rates first", req.BuyDate))
	}
	return result, nil
}
