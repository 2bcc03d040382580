package lirashield

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// OpenLot is the unsold remainder of one BUY.
type OpenLot struct {
	BuyID             int64     `json:"buy_id"`
	BuyDate           Date      `json:"buy_date"`
	BuyPrice          Amount    `json:"buy_price"`
	OriginalQuantity  Amount    `json:"original_quantity"`
	RemainingQuantity Amount    `json:"remaining_quantity"`
	CostBasis         Amount    `json:"cost_basis"`
	TaxRate           float64   `json:"tax_rate"`
	AssetType         AssetType `json:"asset_type"`
	Currency          Currency  `json:"currency"`
}

// LotMatch is the part of a BUY lot consumed by one SELL.
type LotMatch struct {
	BuyID           int64   `json:"buy_id"`
	SellID          int64   `json:"sell_id"`
	BuyDate         Date    `json:"buy_date"`
	BuyPrice        Amount  `json:"buy_price"`
	SellDate        Date    `json:"sell_date"`
	SellPrice       Amount  `json:"sell_price"`
	Quantity        Amount  `json:"quantity"`
	CostBasis       Amount  `json:"cost_basis"`
	Proceeds        Amount  `json:"proceeds"`
	RealizedGain    Amount  `json:"realized_gain"`
	RealizedGainPct float64 `json:"realized_gain_pct"`
	HoldingDays     int     `json:"holding_days"`
	TaxRate         float64 `json:"tax_rate"`
}

// FIFOWarning reports a SELL that could not be fully matched against open lots.
type FIFOWarning struct {
	Code      ErrorCode `json:"code"`
	SellID    int64     `json:"sell_id"`
	SellDate  Date      `json:"sell_date"`
	Unmatched Amount    `json:"unmatched_quantity"`
	Message   string    `json:"message"`
}

// FIFOResult is the lot-level state of one ticker after replaying its history.
type FIFOResult struct {
	Ticker            string        `json:"ticker"`
	AssetType         AssetType     `json:"asset_type"`
	Currency          Currency      `json:"currency"`
	OpenLots          []OpenLot     `json:"open_lots"`
	ClosedLots        []LotMatch    `json:"closed_lots"`
	TotalSharesHeld   Amount        `json:"total_shares_held"`
	TotalCostBasis    Amount        `json:"total_cost_basis"`
	AvgCostPerShare   Amount        `json:"avg_cost_per_share"`
	TotalRealizedGain Amount        `json:"total_realized_gain"`
	TotalProceeds     Amount        `json:"total_proceeds"`
	Warnings          []FIFOWarning `json:"warnings"`
}

// MatchFIFO replays a ticker's transactions and matches every SELL against the oldest open lots.
//
// Input order is not trusted: transactions are stably sorted by date, then by ID, so same-day
// trades replay in insertion order. Cost basis always uses the consumed lot's own buy price.
// A SELL exceeding the open inventory matches what exists and records an OVERSOLD_INVENTORY warning.
// Transactions for other tickers are ignored.
func MatchFIFO(ticker string, txs []Transaction) FIFOResult {
	ticker = normalizeTicker(ticker)
	result := FIFOResult{
		Ticker:     ticker,
		OpenLots:   []OpenLot{},
		ClosedLots: []LotMatch{},
		Warnings:   []FIFOWarning{},
	}

	history := make([]Transaction, 0, len(txs))
	for _, tx := range txs {
		if normalizeTicker(tx.Ticker) == ticker {
			history = append(history, tx)
		}
	}
	if len(history) == 0 {
		return result
	}
	sort.SliceStable(history, func(i, j int) bool {
		if history[i].Date != history[j].Date {
			return history[i].Date.Before(history[j].Date)
		}
		return history[i].ID < history[j].ID
	})
	result.AssetType = history[0].AssetType
	result.Currency = history[0].Currency

	queue := []*OpenLot{}
	for _, tx := range history {
		switch tx.Type {
		case TxSell:
			need := tx.Quantity.Decimal
			for need.IsPositive() && len(queue) > 0 {
				head := queue[0]
				matched := need
				if head.RemainingQuantity.LessThanOrEqual(need) {
					matched = head.RemainingQuantity.Decimal
					queue = queue[1:]
				}
				result.ClosedLots = append(result.ClosedLots, newLotMatch(head, tx, matched))
				head.RemainingQuantity = Amount{head.RemainingQuantity.Sub(matched)}
				head.CostBasis = Amount{head.BuyPrice.Mul(head.RemainingQuantity.Decimal)}
				need = need.Sub(matched)
			}
			if need.IsPositive() {
				result.Warnings = append(result.Warnings, FIFOWarning{
					Code:      ErrCodeOversold,
					SellID:    tx.ID,
					SellDate:  tx.Date,
					Unmatched: Amount{need},
					Message: fmt.Sprintf("%s: sell on %s exceeds open inventory by %s shares",
						ticker, tx.Date, need.String()),
				})
			}
		default:
			queue = append(queue, &OpenLot{
				BuyID:             tx.ID,
				BuyDate:           tx.Date,
				BuyPrice:          tx.Price,
				OriginalQuantity:  tx.Quantity,
				RemainingQuantity: tx.Quantity,
				CostBasis:         Amount{tx.Price.Mul(tx.Quantity.Decimal)},
				TaxRate:           tx.TaxRate,
				AssetType:         tx.AssetType,
				Currency:          tx.Currency,
			})
		}
	}

	shares, cost := decimal.Zero, decimal.Zero
	for _, lot := range queue {
		result.OpenLots = append(result.OpenLots, *lot)
		shares = shares.Add(lot.RemainingQuantity.Decimal)
		cost = cost.Add(lot.CostBasis.Decimal)
	}
	realized, proceeds := decimal.Zero, decimal.Zero
	for _, m := range result.ClosedLots {
		realized = realized.Add(m.RealizedGain.Decimal)
		proceeds = proceeds.Add(m.Proceeds.Decimal)
	}
	result.TotalSharesHeld = Amount{shares}
	result.TotalCostBasis = Amount{cost}
	if shares.IsPositive() {
		result.AvgCostPerShare = Amount{cost.DivRound(shares, 16)}
	}
	result.TotalRealizedGain = Amount{realized}
	result.TotalProceeds = Amount{proceeds}
	return result
}

func newLotMatch(lot *OpenLot, sell Transaction, quantity decimal.Decimal) LotMatch {
	cost := lot.BuyPrice.Mul(quantity)
	proceeds := sell.Price.Mul(quantity)
	gain := proceeds.Sub(cost)
	pct := 0.0
	if cost.IsPositive() {
		pct = gain.Div(cost).InexactFloat64() * 100
	}
	return LotMatch{
		BuyID:           lot.BuyID,
		SellID:          sell.ID,
		BuyDate:         lot.BuyDate,
		BuyPrice:        lot.BuyPrice,
		SellDate:        sell.Date,
		SellPrice:       sell.Price,
		Quantity:        Amount{quantity},
		CostBasis:       Amount{cost},
		Proceeds:        Amount{proceeds},
		RealizedGain:    Amount{gain},
		RealizedGainPct: pct,
		HoldingDays:     sell.Date.DaysSince(lot.BuyDate),
		TaxRate:         lot.TaxRate,
	}
}

// MatchFIFO loads a ticker's history and runs the FIFO engine over it.
// An unknown ticker yields an empty result.
func (c *Core) MatchFIFO(ticker string) (FIFOResult, error) {
	txs, err := c.transactionsForTicker(ticker)
	if err != nil {
		return FIFOResult{}, err
	}
	return MatchFIFO(ticker, txs), nil
}

// MatchFIFOAll runs the FIFO engine for every ticker, sorted by ticker.
func (c *Core) MatchFIFOAll() ([]FIFOResult, error) {
	tickers, err := c.Tickers()
	if err != nil {
		return nil, err
	}
	results := make([]FIFOResult, 0, len(tickers))
	for _, ticker := range tickers {
		result, err := c.MatchFIFO(ticker)
		if err != nil {
			return nil, err
		}
		for _, w := range result.Warnings {
			c.logger.Warn("fifo oversold inventory", "ticker", ticker, "sell_id", w.SellID, "unmatched", w.Unmatched.String())
		}
		results = append(results, result)
	}
	return results, nil
}

// OpenPosition is an open lot flattened with its ticker.
type OpenPosition struct {
	Ticker string `json:"ticker"`
	OpenLot
}

// OpenPositions returns every open lot across the portfolio, ordered by ticker then buy date.
func (c *Core) OpenPositions() ([]OpenPosition, error) {
	results, err := c.MatchFIFOAll()
	if err != nil {
		return nil, err
	}
	positions := []OpenPosition{}
	for _, r := range results {
		for _, lot := range r.OpenLots {
			positions = append(positions, OpenPosition{Ticker: r.Ticker, OpenLot: lot})
		}
	}
	return positions, nil
}

// RealizedGain is a closed lot flattened with its ticker and currency.
type RealizedGain struct {
	Ticker   string   `json:"ticker"`
	Currency Currency `json:"currency"`
	LotMatch
}

// RealizedGains returns every closed lot, newest sale first, then by ticker.
func (c *Core) RealizedGains() ([]RealizedGain, error) {
	results, err := c.MatchFIFOAll()
	if err != nil {
		return nil, err
	}
	gains := []RealizedGain{}
	for _, r := range results {
		for _, m := range r.ClosedLots {
			gains = append(gains, RealizedGain{Ticker: r.Ticker, Currency: r.Currency, LotMatch: m})
		}
	}
	sort.SliceStable(gains, func(i, j int) bool {
		if gains[i].SellDate != gains[j].SellDate {
			return gains[i].SellDate.After(gains[j].SellDate)
		}
		return gains[i].Ticker < gains[j].Ticker
	})
	return gains, nil
}
