package lirashield

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

const (
	priceSourceManual = "manual"

	// priceRefreshWorkers bounds concurrent price refreshes.
	priceRefreshWorkers = 4
	// priceRefreshLookbackDays is used for tickers without any stored price.
	priceRefreshLookbackDays = 365
)

// UpsertFundPrice stores a price for ticker on date, replacing an existing one.
func (c *Core) UpsertFundPrice(date Date, ticker string, price float64, currency Currency, source string) error {
	_, err := upsertFundPrice(context.Background(), c.db, date, ticker, price, currency, source, true)
	return err
}

func upsertFundPrice(ctx context.Context, db execer, date Date, ticker string, price float64, currency Currency, source string, replace bool) (int64, error) {
	ticker = normalizeTicker(ticker)
	if ticker == "" {
		return 0, NewError(ErrCodeInvalidInput, "ticker required")
	}
	if date.IsZero() {
		return 0, NewError(ErrCodeMalformedDate, "price date required")
	}
	if !(price > 0) {
		return 0, NewError(ErrCodeValidation, fmt.Sprintf("price must be positive, got %v", price))
	}
	if currency == "" {
		currency = CurrencyTRY
	}
	if strings.TrimSpace(source) == "" {
		source = priceSourceManual
	}
	query := `
		INSERT INTO fund_prices (date, ticker, price, currency, source)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(date, ticker) DO UPDATE SET
			price = excluded.price,
			currency = excluded.currency,
			source = excluded.source`
	if !replace {
		query = `
		INSERT INTO fund_prices (date, ticker, price, currency, source)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(date, ticker) DO NOTHING`
	}
	result, err := db.ExecContext(ctx, query, date.String(), ticker, price, string(currency), source)
	if err != nil {
		return 0, dbError("upsert fund price", err)
	}
	affected, err := result.RowsAffected()
	return affected, dbError("upsert fund price", err)
}

// AddFundPrices stores a batch of prices for ticker, keeping existing rows for the same day.
// It returns the number of new rows.
func (c *Core) AddFundPrices(ctx context.Context, ticker string, currency Currency, source string, points []DataPoint) (int, error) {
	inserted := 0
	err := c.WithTx(ctx, func(tx *sql.Tx) error {
		for _, p := range points {
			n, err := upsertFundPrice(ctx, tx, p.Date, ticker, p.Value, currency, source, false)
			if err != nil {
				return err
			}
			inserted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// GetFundPrice returns the stored price for ticker on date. Unless exactOnly, the closest
// earlier price is used. Nil means no price is known.
func (c *Core) GetFundPrice(ticker string, date Date, exactOnly bool) (*float64, error) {
	query := "SELECT price FROM fund_prices WHERE ticker = ? AND date = ?"
	if !exactOnly {
		query = "SELECT price FROM fund_prices WHERE ticker = ? AND date <= ? ORDER BY date DESC LIMIT 1"
	}
	var price float64
	err := c.db.QueryRow(query, normalizeTicker(ticker), date.String()).Scan(&price)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, dbError("query fund price", err)
	}
	return &price, nil
}

// ListFundPrices returns stored prices for a ticker (all tickers when empty), newest first.
func (c *Core) ListFundPrices(ticker string, limit int) ([]FundPrice, error) {
	query := strings.Builder{}
	query.WriteString("SELECT id, date, ticker, price, COALESCE(currency, 'TRY'), COALESCE(source, ''), created_at FROM fund_prices WHERE 1=1")
	params := []any{}
	if ticker = normalizeTicker(ticker); ticker != "" {
		query.WriteString(" AND ticker = ?")
		params = append(params, ticker)
	}
	query.WriteString(" ORDER BY date DESC, ticker")
	if limit > 0 {
		query.WriteString(" LIMIT ?")
		params = append(params, limit)
	}
	rows, err := c.db.Query(query.String(), params...)
	if err != nil {
		return nil, dbError("query fund prices", err)
	}
	defer rows.Close()
	return scanFundPrices(rows)
}

// LatestFundPrices returns the newest stored price of every ticker, sorted by ticker.
func (c *Core) LatestFundPrices() ([]FundPrice, error) {
	rows, err := c.db.Query(`
		SELECT fp.id, fp.date, fp.ticker, fp.price, COALESCE(fp.currency, 'TRY'), COALESCE(fp.source, ''), fp.created_at
		FROM fund_prices fp
		JOIN (SELECT ticker, MAX(date) AS max_date FROM fund_prices GROUP BY ticker) latest
			ON latest.ticker = fp.ticker AND latest.max_date = fp.date
		ORDER BY fp.ticker`)
	if err != nil {
		return nil, dbError("query latest fund prices", err)
	}
	defer rows.Close()
	return scanFundPrices(rows)
}

// PrefillPrices returns supplied extended with the newest stored price of every ticker it does not name.
// Supplied entries always win.
func (c *Core) PrefillPrices(supplied map[string]CurrentPrice) (map[string]CurrentPrice, error) {
	latest, err := c.LatestFundPrices()
	if err != nil {
		return nil, err
	}
	out := make(map[string]CurrentPrice, len(supplied)+len(latest))
	for _, fp := range latest {
		out[fp.Ticker] = CurrentPrice{Price: fp.Price, Currency: fp.Currency}
	}
	for ticker, p := range supplied {
		out[normalizeTicker(ticker)] = p
	}
	return out, nil
}

func scanFundPrices(rows *sql.Rows) ([]FundPrice, error) {
	result := []FundPrice{}
	for rows.Next() {
		var item FundPrice
		var currency string
		var createdAt sql.NullString
		if err := rows.Scan(&item.ID, &item.Date, &item.Ticker, &item.Price, &currency, &item.Source, &createdAt); err != nil {
			return nil, dbError("scan fund price", err)
		}
		parsed, err := ParseCurrency(currency)
		if err != nil {
			return nil, err
		}
		item.Currency = parsed
		item.CreatedAt = scanNullString(createdAt)
		result = append(result, item)
	}
	return result, dbError("query fund prices", rows.Err())
}

// PriceRefreshResult reports a RefreshPrices run per ticker.
type PriceRefreshResult struct {
	Updated map[string]int    `json:"updated"`
	Failed  map[string]string `json:"failed"`
}

// RefreshPrices fetches missing daily prices for every non-cash ticker in the portfolio,
// from the day after its newest stored price through today.
func (c *Core) RefreshPrices(ctx context.Context) (PriceRefreshResult, error) {
	result := PriceRefreshResult{Updated: map[string]int{}, Failed: map[string]string{}}
	if c.market == nil {
		return result, NewError(ErrCodeUnsupported, "market data fetching is not configured")
	}
	targets, err := c.priceTargets()
	if err != nil {
		return result, err
	}
	today := c.today()

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(priceRefreshWorkers)
	for _, target := range targets {
		target := target
		g.Go(func() error {
			start := today.AddDays(-priceRefreshLookbackDays)
			if target.earliest.Before(start) {
				start = target.earliest
			}
			if target.latest != nil {
				start = target.latest.AddDays(1)
			}
			if start.After(today) {
				return nil
			}
			points, source, err := c.market.Prices(gctx, target.ticker, target.assetType, start, today)
			if err == nil {
				var n int
				n, err = c.AddFundPrices(gctx, target.ticker, target.currency, strings.ToLower(source), points)
				if err == nil {
					mu.Lock()
					result.Updated[target.ticker] = n
					mu.Unlock()
					return nil
				}
			}
			if gctx.Err() != nil {
				return gctx.Err()
			}
			c.logger.Warn("price refresh failed", "ticker", target.ticker, "err", err)
			mu.Lock()
			result.Failed[target.ticker] = err.Error()
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}
	c.logger.Info("prices refreshed", "updated", len(result.Updated), "failed", len(result.Failed))
	return result, nil
}

type priceTarget struct {
	ticker    string
	assetType AssetType
	currency  Currency
	earliest  Date
	latest    *Date
}

func (c *Core) priceTargets() ([]priceTarget, error) {
	rows, err := c.db.Query(`
		SELECT t.ticker, t.asset_type, MAX(t.currency), MIN(t.date),
			(SELECT MAX(fp.date) FROM fund_prices fp WHERE fp.ticker = t.ticker)
		FROM transactions t
		WHERE t.asset_type != 'CASH'
		GROUP BY t.ticker, t.asset_type
		ORDER BY t.ticker`)
	if err != nil {
		return nil, dbError("query price targets", err)
	}
	defer rows.Close()

	targets := []priceTarget{}
	for rows.Next() {
		var target priceTarget
		var assetType, currency string
		var latest sql.NullString
		if err := rows.Scan(&target.ticker, &assetType, &currency, &target.earliest, &latest); err != nil {
			return nil, dbError("scan price target", err)
		}
		if target.assetType, err = ParseAssetType(assetType); err != nil {
			return nil, err
		}
		if target.currency, err = ParseCurrency(currency); err != nil {
			return nil, err
		}
		if latest.Valid {
			d, err := ParseDate(latest.String)
			if err != nil {
				return nil, err
			}
			target.latest = &d
		}
		targets = append(targets, target)
	}
	return targets, dbError("query price targets", rows.Err())
}
