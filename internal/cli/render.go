package cli

import (
	"fmt"
	"strings"

	"lirashield/pkg/lirashield"
)

func fifoMarkdown(results []lirashield.FIFOResult) string {
	var sb strings.Builder
	sb.WriteString("# FIFO lots\n\n")
	if len(results) == 0 {
		sb.WriteString(lirashield.EmptyPortfolioMessage + "\n")
		return sb.String()
	}
	for _, r := range results {
		fmt.Fprintf(&sb, "## %s (%s)\n\n", r.Ticker, r.Currency)
		fmt.Fprintf(&sb, "Held **%s** at an average cost of %s, cost basis %s, realized %s.\n\n",
			r.TotalSharesHeld.String(),
			lirashield.FormatMoney(r.AvgCostPerShare.Float(), r.Currency),
			lirashield.FormatMoney(r.TotalCostBasis.Float(), r.Currency),
			lirashield.FormatSignedMoney(r.TotalRealizedGain.Float(), r.Currency))

		if len(r.OpenLots) > 0 {
			sb.WriteString("| Buy Date | Quantity | Remaining | Buy Price | Cost Basis |\n")
			sb.WriteString("|---|---:|---:|---:|---:|\n")
			for _, lot := range r.OpenLots {
				fmt.Fprintf(&sb, "| %s | %s | %s | %s | %s |\n", lot.BuyDate, lot.OriginalQuantity.String(),
					lot.RemainingQuantity.String(), lot.BuyPrice.String(),
					lirashield.FormatMoney(lot.CostBasis.Float(), r.Currency))
			}
			sb.WriteString("\n")
		}
		if len(r.ClosedLots) > 0 {
			sb.WriteString("| Buy Date | Sell Date | Quantity | Buy | Sell | Gain | Gain % | Days |\n")
			sb.WriteString("|---|---|---:|---:|---:|---:|---:|---:|\n")
			for _, m := range r.ClosedLots {
				fmt.Fprintf(&sb, "| %s | %s | %s | %s | %s | %s | %+.2f%% | %d |\n", m.BuyDate, m.SellDate,
					m.Quantity.String(), m.BuyPrice.String(), m.SellPrice.String(),
					lirashield.FormatSignedMoney(m.RealizedGain.Float(), r.Currency), m.RealizedGainPct, m.HoldingDays)
			}
			sb.WriteString("\n")
		}
		for _, w := range r.Warnings {
			fmt.Fprintf(&sb, "- **%s**: %s\n", w.Code, w.Message)
		}
		if len(r.Warnings) > 0 {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func transactionsMarkdown(txs []lirashield.Transaction) string {
	var sb strings.Builder
	sb.WriteString("# Transactions\n\n")
	if len(txs) == 0 {
		sb.WriteString("No transactions found.\n")
		return sb.String()
	}
	sb.WriteString("| ID | Date | Type | Ticker | Asset | Quantity | Price | Tax % |\n")
	sb.WriteString("|---:|---|---|---|---|---:|---:|---:|\n")
	for _, t := range txs {
		fmt.Fprintf(&sb, "| %d | %s | %s | %s | %s | %s | %s | %.2f |\n", t.ID, t.Date, t.Type, t.Ticker, t.AssetType,
			t.Quantity.String(), lirashield.FormatMoney(t.Price.Float(), t.Currency), t.TaxRate)
	}
	return sb.String()
}

func cpiMarkdown(rows []lirashield.CPIObservation) string {
	var sb strings.Builder
	sb.WriteString("# Official CPI\n\n")
	if len(rows) == 0 {
		sb.WriteString("No CPI data stored.\n")
		return sb.String()
	}
	sb.WriteString("| Month | YoY % | MoM % | Source |\n")
	sb.WriteString("|---|---:|---:|---|\n")
	for _, r := range rows {
		mom := "-"
		if r.MoM != nil {
			mom = fmt.Sprintf("%.2f", *r.MoM)
		}
		fmt.Fprintf(&sb, "| %s | %.2f | %s | %s |\n", r.YearMonth, r.YoY, mom, r.Source)
	}
	return sb.String()
}

func importMarkdown(title string, result lirashield.ImportResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", title)
	fmt.Fprintf(&sb, "Imported **%d**, skipped **%d**.\n", result.Imported, result.Skipped)
	if result.BatchID != "" {
		fmt.Fprintf(&sb, "\nBatch `%s`\n", result.BatchID)
	}
	if len(result.Errors) > 0 {
		sb.WriteString("\n")
		for _, e := range result.Errors {
			fmt.Fprintf(&sb, "- %s\n", e)
		}
	}
	return sb.String()
}
