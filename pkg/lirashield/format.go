package lirashield

import (
	"fmt"
	"math"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// FormatMoney renders an amount in the currency's own notation, e.g. 1.100,00₺ or $35.00.
func FormatMoney(amount float64, cur Currency) string {
	m := newMoney(amount, cur)
	if m == nil {
		return fmt.Sprintf("%.2f %s", amount, cur)
	}
	return m.Display()
}

// FormatSignedMoney is FormatMoney with an explicit + for gains.
func FormatSignedMoney(amount float64, cur Currency) string {
	s := FormatMoney(amount, cur)
	if amount > 0 {
		return "+" + s
	}
	return s
}

func newMoney(amount float64, cur Currency) *money.Money {
	currency := money.GetCurrency(string(cur))
	if currency == nil || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return nil
	}
	factor := decimal.New(1, int32(currency.Fraction))
	minor := decimal.NewFromFloat(amount).Mul(factor).Round(0)
	return money.New(minor.IntPart(), string(cur))
}

// formatPct renders a percentage with an explicit sign, "N/A" when absent.
func formatPct(v *float64) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf("%+.2f%%", *v)
}
