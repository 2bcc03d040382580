package lirashield

import (
	"database/sql/driver"
	"strconv"

	"github.com/shopspring/decimal"
)

// amountJSONPlaces bounds the precision of quantities and prices on the wire.
const amountJSONPlaces = 6

// Amount wraps decimal.Decimal for share quantities and per-share prices.
// JSON marshaling outputs a number, while FIFO arithmetic stays exact.
type Amount struct {
	decimal.Decimal
}

// MarshalJSON outputs as a JSON number (not a string).
func (a Amount) MarshalJSON() ([]byte, error) {
	f, _ := a.Round(amountJSONPlaces).Float64()
	return []byte(strconv.FormatFloat(f, 'f', -1, 64)), nil
}

// UnmarshalJSON accepts both JSON numbers and quoted strings.
func (a *Amount) UnmarshalJSON(data []byte) error {
	return a.Decimal.UnmarshalJSON(data)
}

// Scan implements sql.Scanner, reading SQLite REAL, INTEGER and TEXT columns.
func (a *Amount) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		a.Decimal = decimal.Zero
		return nil
	case float64:
		a.Decimal = decimal.NewFromFloat(v)
		return nil
	case int64:
		a.Decimal = decimal.NewFromInt(v)
		return nil
	case []byte:
		return a.Scan(string(v))
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return err
		}
		a.Decimal = d
		return nil
	}
	return a.Decimal.Scan(src)
}

// Value implements driver.Valuer for database writes.
func (a Amount) Value() (driver.Value, error) {
	f, _ := a.Round(amountJSONPlaces).Float64()
	return f, nil
}

// Float returns the closest float64, for use in return arithmetic.
func (a Amount) Float() float64 {
	return a.InexactFloat64()
}

// NewAmount creates an Amount from a float64.
func NewAmount(f float64) Amount {
	return Amount{decimal.NewFromFloat(f)}
}

// NewAmountFromInt creates an Amount from an int64.
func NewAmountFromInt(i int64) Amount {
	return Amount{decimal.NewFromInt(i)}
}

func amountPtr(v Amount) *Amount {
	return &v
}

// scanNullAmount scans a nullable column into a *Amount, nil for NULL.
func scanNullAmount(src any) (*Amount, error) {
	if src == nil {
		return nil, nil
	}
	var a Amount
	if err := a.Scan(src); err != nil {
		return nil, err
	}
	return &a, nil
}
