package lirashield

import (
	"math"
	"strings"
)

func normalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

// cashTicker is the ticker cash positions are stored under: the currency code itself.
func cashTicker(cur Currency) string {
	return string(cur)
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

func round4(value float64) float64 {
	return math.Round(value*10000) / 10000
}

func stringPtr(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func floatPtr(value float64) *float64 {
	return &value
}

// quantityEpsilon absorbs float drift when comparing share counts read from REAL columns.
const quantityEpsilon = 1e-9
