package lirashield

// Transaction is a persisted BUY or SELL. Once stored it is never edited, only deleted.
type Transaction struct {
	ID        int64     `json:"id"`
	Date      Date      `json:"date"`
	Ticker    string    `json:"ticker"`
	Quantity  Amount    `json:"quantity"`
	TaxRate   float64   `json:"tax_rate"`
	AssetType AssetType `json:"asset_type"`
	Currency  Currency  `json:"currency"`
	Type      TxType    `json:"transaction_type"`
	// PricePerShare is the manually entered price, nil when it was left to the price table.
	PricePerShare *Amount `json:"price_per_share"`
	// Price is the effective per-share price used for cost basis and proceeds.
	Price     Amount  `json:"price"`
	Notes     *string `json:"notes"`
	CreatedAt *string `json:"created_at"`
}

// AddTransactionRequest defines inputs to add a transaction.
type AddTransactionRequest struct {
	Date            string   `json:"date"`
	Ticker          string   `json:"ticker"`
	Quantity        float64  `json:"quantity"`
	TaxRate         float64  `json:"tax_rate"`
	AssetType       string   `json:"asset_type"`
	Currency        string   `json:"currency"`
	TransactionType string   `json:"transaction_type"`
	PricePerShare   *float64 `json:"price_per_share"`
	Notes           *string  `json:"notes"`
}

// TransactionFilter narrows GetTransactions. Zero values mean "any".
type TransactionFilter struct {
	Ticker          string
	AssetType       string
	TransactionType string
	StartDate       string
	EndDate         string
	Limit           int
	Offset          int
}

// RateObservation is the USD/TRY rate for one calendar day.
type RateObservation struct {
	ID        int64   `json:"id"`
	Date      Date    `json:"date"`
	Rate      float64 `json:"rate"`
	Source    string  `json:"source"`
	Notes     *string `json:"notes"`
	CreatedAt *string `json:"created_at"`
}

// CPIObservation is the official CPI release for one month. MoM may be unpublished.
type CPIObservation struct {
	ID        int64     `json:"id"`
	YearMonth YearMonth `json:"year_month"`
	YoY       float64   `json:"cpi_yoy"`
	MoM       *float64  `json:"cpi_mom"`
	Source    string    `json:"source"`
	Notes     *string   `json:"notes"`
	CreatedAt *string   `json:"created_at"`
}

// FundPrice is a stored closing price for a ticker on a day.
type FundPrice struct {
	ID        int64    `json:"id"`
	Date      Date     `json:"date"`
	Ticker    string   `json:"ticker"`
	Price     float64  `json:"price"`
	Currency  Currency `json:"currency"`
	Source    string   `json:"source"`
	CreatedAt *string  `json:"created_at"`
}

// CurrentPrice is a caller-supplied "now" price for a ticker.
type CurrentPrice struct {
	Price    float64  `json:"price"`
	Currency Currency `json:"currency"`
}

// ImportResult reports a bulk operation that may partially succeed.
type ImportResult struct {
	BatchID  string   `json:"batch_id,omitempty"`
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors"`
}
