package lirashield

import (
	"fmt"
	"strings"
)

// Currency is the denomination of a position.
type Currency string

const (
	CurrencyTRY Currency = "TRY"
	CurrencyUSD Currency = "USD"
)

// Currencies lists every supported currency.
var Currencies = []Currency{CurrencyTRY, CurrencyUSD}

// ParseCurrency parses a currency code, case-insensitively.
func ParseCurrency(s string) (Currency, error) {
	switch Currency(strings.ToUpper(strings.TrimSpace(s))) {
	case CurrencyTRY:
		return CurrencyTRY, nil
	case CurrencyUSD:
		return CurrencyUSD, nil
	default:
		return "", NewError(ErrCodeInvalidInput, fmt.Sprintf("unknown currency: %q", s))
	}
}

func (c Currency) String() string { return string(c) }

// UnmarshalText rejects codes outside the closed set.
func (c *Currency) UnmarshalText(b []byte) error {
	v, err := ParseCurrency(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// AssetType classifies what a ticker is.
type AssetType string

const (
	// AssetTEFAS is a Turkish mutual fund traded on TEFAS.
	AssetTEFAS AssetType = "TEFAS"
	// AssetUSDStock is a foreign, USD-denominated stock.
	AssetUSDStock AssetType = "USD_STOCK"
	// AssetCash is a cash balance; each unit is worth 1 of its currency.
	AssetCash AssetType = "CASH"
)

// AssetTypes lists every supported asset type.
var AssetTypes = []AssetType{AssetTEFAS, AssetUSDStock, AssetCash}

// ParseAssetType parses an asset type, case-insensitively.
func ParseAssetType(s string) (AssetType, error) {
	switch AssetType(strings.ToUpper(strings.TrimSpace(s))) {
	case AssetTEFAS:
		return AssetTEFAS, nil
	case AssetUSDStock:
		return AssetUSDStock, nil
	case AssetCash:
		return AssetCash, nil
	default:
		return "", NewError(ErrCodeInvalidInput, fmt.Sprintf("unknown asset type: %q", s))
	}
}

func (a AssetType) String() string { return string(a) }

// UnmarshalText rejects asset types outside the closed set.
func (a *AssetType) UnmarshalText(b []byte) error {
	v, err := ParseAssetType(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// TxType is the direction of a transaction.
type TxType string

const (
	TxBuy  TxType = "BUY"
	TxSell TxType = "SELL"
)

// ParseTxType parses a transaction type, case-insensitively.
func ParseTxType(s string) (TxType, error) {
	switch TxType(strings.ToUpper(strings.TrimSpace(s))) {
	case TxBuy:
		return TxBuy, nil
	case TxSell:
		return TxSell, nil
	default:
		return "", NewError(ErrCodeInvalidInput, fmt.Sprintf("invalid transaction type: %q, must be BUY or SELL", s))
	}
}

func (t TxType) String() string { return string(t) }

// UnmarshalText rejects types other than BUY and SELL.
func (t *TxType) UnmarshalText(b []byte) error {
	v, err := ParseTxType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}
