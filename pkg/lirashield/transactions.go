package lirashield

import (
	"database/sql"
	"fmt"
	"strings"
)

// transactionColumns selects a transaction together with its effective price:
// cash is worth 1, a manual price wins, otherwise the latest stored price on or before the trade date.
const transactionColumns = `
	t.id, t.date, t.ticker, t.quantity, COALESCE(t.tax_rate, 0), t.asset_type, t.currency,
	COALESCE(t.transaction_type, 'BUY'), t.price_per_share,
	CASE
		WHEN t.asset_type = 'CASH' THEN 1.0
		WHEN t.price_per_share IS NOT NULL THEN t.price_per_share
		ELSE (SELECT fp.price FROM fund_prices fp
		      WHERE fp.ticker = t.ticker AND fp.date <= t.date
		      ORDER BY fp.date DESC LIMIT 1)
	END,
	t.notes, t.created_at`

// AddTransaction validates and stores a transaction, returning its ID.
func (c *Core) AddTransaction(req AddTransactionRequest) (int64, error) {
	txType := TxBuy
	if strings.TrimSpace(req.TransactionType) != "" {
		parsed, err := ParseTxType(req.TransactionType)
		if err != nil {
			return 0, err
		}
		txType = parsed
	}
	assetType := AssetTEFAS
	if strings.TrimSpace(req.AssetType) != "" {
		parsed, err := ParseAssetType(req.AssetType)
		if err != nil {
			return 0, err
		}
		assetType = parsed
	}
	currency := CurrencyTRY
	if assetType == AssetUSDStock {
		currency = CurrencyUSD
	}
	if strings.TrimSpace(req.Currency) != "" {
		parsed, err := ParseCurrency(req.Currency)
		if err != nil {
			return 0, err
		}
		currency = parsed
	}

	date := c.today()
	if strings.TrimSpace(req.Date) != "" {
		parsed, err := ParseDate(req.Date)
		if err != nil {
			return 0, err
		}
		date = parsed
	}
	if req.Quantity <= 0 {
		return 0, NewError(ErrCodeValidation, "quantity must be greater than 0")
	}
	if req.TaxRate < 0 || req.TaxRate > 100 {
		return 0, NewError(ErrCodeValidation, "tax_rate must be between 0 and 100")
	}

	ticker := normalizeTicker(req.Ticker)
	var storedPrice *float64
	switch {
	case assetType == AssetCash:
		if ticker == "" || ticker == "CASH" {
			ticker = cashTicker(currency)
		}
		storedPrice = floatPtr(1)
	case req.PricePerShare != nil && *req.PricePerShare > 0:
		storedPrice = floatPtr(*req.PricePerShare)
	}
	if ticker == "" {
		return 0, NewError(ErrCodeInvalidInput, "ticker required")
	}
	if storedPrice == nil {
		price, err := c.GetFundPrice(ticker, date, false)
		if err != nil {
			return 0, err
		}
		if price == nil {
			return 0, NewError(ErrCodeNotFound, fmt.Sprintf(
				"no price found for %s on or before %s; fetch prices first or enter the price manually", ticker, date))
		}
	}

	if txType == TxSell {
		held, err := c.Holdings(ticker, &date)
		if err != nil {
			return 0, err
		}
		if held+quantityEpsilon < req.Quantity {
			return 0, NewError(ErrCodeInsufficientHoldings, fmt.Sprintf(
				"insufficient shares: you have %.4f %s but are trying to sell %.4f", held, ticker, req.Quantity))
		}
	}

	result, err := c.db.Exec(`
		INSERT INTO transactions (date, ticker, quantity, tax_rate, asset_type, currency, transaction_type, notes, price_per_share)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, date.String(), ticker, req.Quantity, req.TaxRate, string(assetType), string(currency), string(txType),
		nullString(req.Notes), nullFloat(storedPrice))
	if err != nil {
		return 0, dbError("insert transaction", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, dbError("insert transaction", err)
	}
	c.logger.Info("transaction added", "id", id, "ticker", ticker, "type", txType, "quantity", req.Quantity, "date", date.String())
	return id, nil
}

// GetTransaction fetches a single transaction by ID, nil if it does not exist.
func (c *Core) GetTransaction(id int64) (*Transaction, error) {
	row := c.db.QueryRow("SELECT "+transactionColumns+" FROM transactions t WHERE t.id = ?", id)
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, dbError("get transaction", err)
	}
	return t, nil
}

// GetTransactions returns transactions matching the filter, newest first.
func (c *Core) GetTransactions(filter TransactionFilter) ([]Transaction, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := strings.Builder{}
	query.WriteString("SELECT " + transactionColumns + " FROM transactions t WHERE 1=1")
	params := []any{}

	if filter.Ticker != "" {
		query.WriteString(" AND t.ticker = ?")
		params = append(params, normalizeTicker(filter.Ticker))
	}
	if filter.AssetType != "" {
		assetType, err := ParseAssetType(filter.AssetType)
		if err != nil {
			return nil, err
		}
		query.WriteString(" AND t.asset_type = ?")
		params = append(params, string(assetType))
	}
	if filter.TransactionType != "" {
		txType, err := ParseTxType(filter.TransactionType)
		if err != nil {
			return nil, err
		}
		query.WriteString(" AND t.transaction_type = ?")
		params = append(params, string(txType))
	}
	if filter.StartDate != "" {
		query.WriteString(" AND t.date >= ?")
		params = append(params, filter.StartDate)
	}
	if filter.EndDate != "" {
		query.WriteString(" AND t.date <= ?")
		params = append(params, filter.EndDate)
	}

	query.WriteString(" ORDER BY t.date DESC, t.id DESC LIMIT ? OFFSET ?")
	params = append(params, limit, offset)

	rows, err := c.db.Query(query.String(), params...)
	if err != nil {
		return nil, dbError("query transactions", err)
	}
	defer rows.Close()

	results := []Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, dbError("scan transaction", err)
		}
		results = append(results, *t)
	}
	return results, dbError("query transactions", rows.Err())
}

// DeleteTransaction deletes a transaction by ID and reports whether it existed.
func (c *Core) DeleteTransaction(id int64) (bool, error) {
	result, err := c.db.Exec("DELETE FROM transactions WHERE id = ?", id)
	if err != nil {
		return false, dbError("delete transaction", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, dbError("delete transaction", err)
	}
	return affected > 0, nil
}

// Tickers returns every ticker with at least one transaction, sorted.
func (c *Core) Tickers() ([]string, error) {
	rows, err := c.db.Query("SELECT DISTINCT ticker FROM transactions ORDER BY ticker")
	if err != nil {
		return nil, dbError("query tickers", err)
	}
	defer rows.Close()
	tickers := []string{}
	for rows.Next() {
		var ticker string
		if err := rows.Scan(&ticker); err != nil {
			return nil, dbError("scan ticker", err)
		}
		tickers = append(tickers, ticker)
	}
	return tickers, dbError("query tickers", rows.Err())
}

// Holdings returns bought minus sold quantity for ticker, optionally as of a date (inclusive).
func (c *Core) Holdings(ticker string, asOf *Date) (float64, error) {
	query := `
		SELECT
			COALESCE(SUM(CASE WHEN transaction_type = 'SELL' THEN 0 ELSE quantity END), 0) -
			COALESCE(SUM(CASE WHEN transaction_type = 'SELL' THEN quantity ELSE 0 END), 0)
		FROM transactions
		WHERE ticker = ?`
	params := []any{normalizeTicker(ticker)}
	if asOf != nil {
		query += " AND date <= ?"
		params = append(params, asOf.String())
	}
	var held float64
	if err := c.db.QueryRow(query, params...).Scan(&held); err != nil {
		return 0, dbError("query holdings", err)
	}
	return held, nil
}

// transactionsForTicker returns the ticker's full history in storage order.
func (c *Core) transactionsForTicker(ticker string) ([]Transaction, error) {
	rows, err := c.db.Query("SELECT "+transactionColumns+" FROM transactions t WHERE t.ticker = ? ORDER BY t.date, t.id",
		normalizeTicker(ticker))
	if err != nil {
		return nil, dbError("query ticker transactions", err)
	}
	defer rows.Close()

	txs := []Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, dbError("scan transaction", err)
		}
		txs = append(txs, *t)
	}
	return txs, dbError("query ticker transactions", rows.Err())
}

// earliestTransactionDate returns the oldest trade date, nil when there are no transactions.
func (c *Core) earliestTransactionDate() (*Date, error) {
	var raw sql.NullString
	if err := c.db.QueryRow("SELECT MIN(date) FROM transactions").Scan(&raw); err != nil {
		return nil, dbError("query earliest transaction", err)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*Transaction, error) {
	var t Transaction
	var assetType, currency, txType string
	var manual, effective any
	var notes, createdAt sql.NullString
	if err := row.Scan(
		&t.ID, &t.Date, &t.Ticker, &t.Quantity, &t.TaxRate, &assetType, &currency,
		&txType, &manual, &effective, &notes, &createdAt,
	); err != nil {
		return nil, err
	}
	var err error
	if t.AssetType, err = ParseAssetType(assetType); err != nil {
		return nil, err
	}
	if t.Currency, err = ParseCurrency(currency); err != nil {
		return nil, err
	}
	if t.Type, err = ParseTxType(txType); err != nil {
		return nil, err
	}
	if t.PricePerShare, err = scanNullAmount(manual); err != nil {
		return nil, err
	}
	if err := t.Price.Scan(effective); err != nil {
		return nil, err
	}
	t.Notes = scanNullString(notes)
	t.CreatedAt = scanNullString(createdAt)
	return &t, nil
}
