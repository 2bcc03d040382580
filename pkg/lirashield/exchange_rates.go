package lirashield

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const (
	rateSourceManual     = "manual"
	rateSourceAutoFetch  = "yfinance_auto"
	rateSourceBatch      = "yfinance_batch"
	rateSourceBulkImport = "bulk_import"

	// quickRefreshLookbackDays is used when neither rates nor transactions exist yet.
	quickRefreshLookbackDays = 30
)

// UpsertUSDRate stores the USD/TRY rate for date, replacing any existing observation for that date.
func (c *Core) UpsertUSDRate(date Date, rate float64, source, notes string) error {
	return upsertUSDRate(context.Background(), c.db, date, rate, source, notes)
}

func upsertUSDRate(ctx context.Context, db execer, date Date, rate float64, source, notes string) error {
	if date.IsZero() {
		return NewError(ErrCodeMalformedDate, "rate date required")
	}
	if !(rate > 0) {
		return NewError(ErrCodeInvalidRate, fmt.Sprintf("rate must be positive, got %v", rate))
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO cpi_usd_rates (date, usd_try_rate, source, notes)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			usd_try_rate = excluded.usd_try_rate,
			source = excluded.source,
			notes = excluded.notes
	`, date.String(), rate, normalizeRateSource(source), nullString(&notes))
	return dbError("upsert usd rate", err)
}

// GetUSDRate returns the stored rate for date. Unless exactOnly, a missing day falls back to the
// closest earlier stored day, never a later one. Nil means no usable observation.
func (c *Core) GetUSDRate(date Date, exactOnly bool) (*float64, error) {
	var rate float64
	err := c.db.QueryRow("SELECT usd_try_rate FROM cpi_usd_rates WHERE date = ?", date.String()).Scan(&rate)
	if err == nil {
		return &rate, nil
	}
	if err != sql.ErrNoRows {
		return nil, dbError("query usd rate", err)
	}
	if exactOnly {
		return nil, nil
	}
	err = c.db.QueryRow(
		"SELECT usd_try_rate FROM cpi_usd_rates WHERE date < ? ORDER BY date DESC LIMIT 1",
		date.String(),
	).Scan(&rate)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, dbError("query usd rate", err)
	}
	return &rate, nil
}

// ListUSDRates returns stored rates, newest first. limit <= 0 returns everything.
func (c *Core) ListUSDRates(limit int) ([]RateObservation, error) {
	query := "SELECT id, date, usd_try_rate, COALESCE(source, ''), notes, created_at FROM cpi_usd_rates ORDER BY date DESC"
	params := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		params = append(params, limit)
	}
	rows, err := c.db.Query(query, params...)
	if err != nil {
		return nil, dbError("query usd rates", err)
	}
	defer rows.Close()

	result := []RateObservation{}
	for rows.Next() {
		var item RateObservation
		var notes, createdAt sql.NullString
		if err := rows.Scan(&item.ID, &item.Date, &item.Rate, &item.Source, &notes, &createdAt); err != nil {
			return nil, dbError("scan usd rate", err)
		}
		item.Notes = scanNullString(notes)
		item.CreatedAt = scanNullString(createdAt)
		result = append(result, item)
	}
	return result, dbError("query usd rates", rows.Err())
}

// DeleteUSDRate deletes a rate by ID and reports whether it existed.
func (c *Core) DeleteUSDRate(id int64) (bool, error) {
	result, err := c.db.Exec("DELETE FROM cpi_usd_rates WHERE id = ?", id)
	if err != nil {
		return false, dbError("delete usd rate", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, dbError("delete usd rate", err)
	}
	return affected > 0, nil
}

// LatestUSDRateDate returns the newest stored rate date, nil when none is stored.
func (c *Core) LatestUSDRateDate() (*Date, error) {
	var raw sql.NullString
	if err := c.db.QueryRow("SELECT MAX(date) FROM cpi_usd_rates").Scan(&raw); err != nil {
		return nil, dbError("query latest usd rate", err)
	}
	if !raw.Valid {
		return nil, nil
	}
	d, err := ParseDate(raw.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// RateFor resolves the USD/TRY rate for date.
//
// Without autoFetch it returns the stored rate for date or the closest earlier one.
// With autoFetch only an exact stored match is accepted; otherwise the rate is fetched live,
// persisted with source yfinance_auto and returned. A failed fetch yields nil, not an error.
func (c *Core) RateFor(ctx context.Context, date Date, autoFetch bool) (*float64, error) {
	rate, err := c.GetUSDRate(date, autoFetch)
	if err != nil || rate != nil {
		return rate, err
	}
	if !autoFetch {
		return nil, nil
	}
	if c.market == nil {
		return nil, nil
	}
	fetched, source, err := c.market.USDTRYRate(ctx, date)
	if err != nil {
		c.logger.Warn("usd/try auto fetch failed", "date", date.String(), "err", err)
		return nil, nil
	}
	if err := c.UpsertUSDRate(date, fetched, rateSourceAutoFetch, "Auto-fetched from "+source); err != nil {
		return nil, err
	}
	return &fetched, nil
}

// FetchUSDRates fetches daily USD/TRY closes for [start, end] and upserts them with source yfinance_batch.
func (c *Core) FetchUSDRates(ctx context.Context, start, end Date) (ImportResult, error) {
	result := ImportResult{Errors: []string{}}
	if end.Before(start) {
		return result, NewError(ErrCodeInvalidInput, fmt.Sprintf("end date %s is before start date %s", end, start))
	}
	if c.market == nil {
		return result, NewError(ErrCodeUnsupported, "market data fetching is not configured")
	}
	series, source, err := c.market.USDTRYRates(ctx, start, end)
	if err != nil {
		return result, WrapError(ErrCodeFetchFailed, fmt.Sprintf("no USD/TRY data available for %s to %s", start, end), err)
	}
	err = c.WithTx(ctx, func(tx *sql.Tx) error {
		for _, point := range series {
			if err := upsertUSDRate(ctx, tx, point.Date, point.Value, rateSourceBatch, "Batch fetched from "+source); err != nil {
				if IsErrorCode(err, ErrCodeInvalidRate) {
					result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", point.Date, err))
					continue
				}
				return err
			}
			result.Imported++
		}
		return nil
	})
	if err != nil {
		return ImportResult{Errors: []string{}}, err
	}
	c.logger.Info("usd/try rates fetched", "start", start.String(), "end", end.String(), "count", result.Imported, "source", source)
	return result, nil
}

// QuickRefreshUSDRates fetches the rates missing between the newest stored day and today.
// With no stored rates it starts at the earliest transaction, or a short lookback window.
func (c *Core) QuickRefreshUSDRates(ctx context.Context) (ImportResult, error) {
	today := c.today()
	latest, err := c.LatestUSDRateDate()
	if err != nil {
		return ImportResult{}, err
	}
	var start Date
	switch {
	case latest != nil:
		start = latest.AddDays(1)
	default:
		earliest, err := c.earliestTransactionDate()
		if err != nil {
			return ImportResult{}, err
		}
		if earliest != nil {
			start = *earliest
		} else {
			start = today.AddDays(-quickRefreshLookbackDays)
		}
	}
	if start.After(today) {
		return ImportResult{Errors: []string{}}, nil
	}
	return c.FetchUSDRates(ctx, start, today)
}

func normalizeRateSource(source string) string {
	trimmed := strings.TrimSpace(source)
	if trimmed == "" {
		return rateSourceManual
	}
	return strings.ToLower(trimmed)
}
