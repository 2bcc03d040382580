package lirashield

import (
	"fmt"
	"sort"
	"strings"
)

// RenderMarkdown renders a report as markdown tables followed by the status lines.
func RenderMarkdown(report *PortfolioReport) string {
	if report == nil {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Portfolio as of %s\n\n", report.AsOf)
	if report.Placeholder != "" {
		sb.WriteString(report.Placeholder)
		sb.WriteString("\n")
		return sb.String()
	}

	sb.WriteString("## Summary\n\n")
	sb.WriteString("| Ticker | Shares | Avg Cost | Price | Cost Basis | Value | Unreal P/L | Unreal % | Realized | Real (USD) | Real (CPI) |\n")
	sb.WriteString("|---|---:|---:|---:|---:|---:|---:|---:|---:|---:|---:|\n")
	for _, r := range report.Summary {
		price := "-"
		if r.CurrentPrice != nil {
			price = fmt.Sprintf("%.4f", *r.CurrentPrice)
		}
		shares := "0 (sold)"
		value, unreal, unrealPct := "-", "-", "-"
		if r.SharesHeld > 0 {
			shares = fmt.Sprintf("%.4f", r.SharesHeld)
			value = FormatMoney(r.CurrentValue, r.Currency)
			unreal = FormatSignedMoney(r.UnrealizedPL, r.Currency)
			unrealPct = fmt.Sprintf("%+.2f%%", r.UnrealizedPct)
		}
		realized := "-"
		if r.RealizedGain != 0 {
			realized = FormatSignedMoney(r.RealizedGain, r.Currency)
		}
		fmt.Fprintf(&sb, "| %s | %s | %.4f | %s | %s | %s | %s | %s | %s | %s | %s |\n",
			r.Ticker, shares, r.AvgCost, price, FormatMoney(r.CostBasis, r.Currency), value, unreal, unrealPct,
			realized, formatPct(r.RealReturnUSDPct), formatPct(r.RealReturnCPIPct))
	}
	for _, t := range report.Totals {
		fmt.Fprintf(&sb, "| **TOTAL %s** | | | | %s | %s | %s | %+.2f%% | %s | | Total: %s |\n",
			t.Currency, FormatMoney(t.CostBasis, t.Currency), FormatMoney(t.CurrentValue, t.Currency),
			FormatSignedMoney(t.UnrealizedPL, t.Currency), t.UnrealizedPct,
			FormatSignedMoney(t.RealizedGain, t.Currency), FormatSignedMoney(t.TotalGain, t.Currency))
	}

	sb.WriteString("\n## Lots\n\n")
	sb.WriteString("| Type | Date | Ticker | Qty | Buy | Now | Tax | Nominal | USD Δ | CPI Δ | vs USD | vs CPI |\n")
	sb.WriteString("|---|---|---|---:|---:|---:|---:|---:|---:|---:|---:|---:|\n")
	for _, d := range report.Details {
		switch d.Kind {
		case DetailSold:
			fmt.Fprintf(&sb, "| SOLD | %s → %s | %s | %.4f | %.4f %s | %.4f %s | %.2f%% | %s | (%dd) | - | %s | - |\n",
				d.BuyDate, d.SellDate, d.Ticker, d.Quantity, d.BuyPrice, d.Currency, d.Price, d.Currency, d.TaxRate,
				formatPct(d.NominalPct), derefInt(d.HoldingDays), FormatSignedMoney(derefFloat(d.RealizedGain), d.Currency))
		default:
			nominal, usd, cpi := formatPct(d.NominalPct), formatPct(d.RealReturnUSDPct), formatPct(d.RealReturnCPIPct)
			if d.Error != "" {
				nominal = "-"
			}
			fmt.Fprintf(&sb, "| OPEN | %s | %s | %.4f | %.4f %s | %.4f %s | %.2f%% | %s | %s | %s | %s | %s |\n",
				d.BuyDate, d.Ticker, d.Quantity, d.BuyPrice, d.Currency, d.Price, d.Currency, d.TaxRate,
				nominal, formatPct(d.USDInflationPct), formatPct(d.CPIInflationPct), usd, cpi)
		}
	}

	sb.WriteString("\n## Status\n\n")
	for _, line := range strings.Split(report.Status, "\n") {
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "- ") {
			line = "- " + line
		}
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	return sb.String()
}

// RenderSeriesMarkdown renders a price history as a table with one row per stored day.
func RenderSeriesMarkdown(series *PriceSeries) string {
	if series == nil {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s price history%s\n\n", series.Ticker, sinceSuffix(series.BaseDate))
	sb.WriteString("| Date | TRY | USD | USD/TRY |\n")
	sb.WriteString("|---|---:|---:|---:|\n")
	for _, p := range series.Points {
		fmt.Fprintf(&sb, "| %s | %s | %s | %s |\n", p.Date,
			formatOptional(p.PriceTRY, "%.4f"), formatOptional(p.PriceUSD, "%.6f"), formatOptional(p.USDTRYRate, "%.4f"))
	}
	fmt.Fprintf(&sb, "\n- %s: %d price points, %d with USD conversion\n", series.Ticker, len(series.Points), series.Converted)
	if series.Fetched > 0 {
		fmt.Fprintf(&sb, "- fetched %d USD/TRY rates\n", series.Fetched)
	}
	for _, w := range series.Warnings {
		fmt.Fprintf(&sb, "- %s\n", w)
	}
	return sb.String()
}

// RenderNormalizedMarkdown renders a comparison with one column per ticker. A blank cell
// means that ticker has no price that day.
func RenderNormalizedMarkdown(series *NormalizedSeries) string {
	if series == nil {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Normalized to 100 (%s)%s\n\n", series.Currency, sinceSuffix(series.BaseDate))

	byDate := map[Date][]string{}
	for i, line := range series.Lines {
		for _, p := range line.Points {
			row, ok := byDate[p.Date]
			if !ok {
				row = make([]string, len(series.Lines))
				byDate[p.Date] = row
			}
			row[i] = fmt.Sprintf("%.2f", p.Index)
		}
	}
	dates := make([]Date, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	if len(series.Lines) > 0 {
		sb.WriteString("| Date |")
		for _, line := range series.Lines {
			fmt.Fprintf(&sb, " %s |", line.Ticker)
		}
		sb.WriteString("\n|---|" + strings.Repeat("---:|", len(series.Lines)) + "\n")
		for _, d := range dates {
			fmt.Fprintf(&sb, "| %s | %s |\n", d, strings.Join(byDate[d], " | "))
		}
		sb.WriteString("\n")
	}
	for _, line := range series.Lines {
		fmt.Fprintf(&sb, "- %s: %d points (%s)\n", line.Ticker, len(line.Points), series.Currency)
	}
	for _, w := range series.Warnings {
		fmt.Fprintf(&sb, "- %s\n", w)
	}
	return sb.String()
}

func formatOptional(v *float64, format string) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf(format, *v)
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func derefInt(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
