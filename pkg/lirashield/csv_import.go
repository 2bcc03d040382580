package lirashield

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ImportUSDRatesCSV imports "date,rate" lines. Invalid lines are reported in the result and
// skipped; valid lines are upserted with source bulk_import.
func (c *Core) ImportUSDRatesCSV(ctx context.Context, r io.Reader) (ImportResult, error) {
	return c.importCSV(ctx, r, "date", func(tx *sql.Tx, fields []string, notes string) (string, error) {
		if len(fields) < 2 {
			return fields[0], NewError(ErrCodeInvalidInput, "expected date,rate")
		}
		key := fields[0]
		date, err := ParseDate(key)
		if err != nil {
			return key, err
		}
		rate, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return key, NewError(ErrCodeInvalidRate, "invalid rate value")
		}
		return key, upsertUSDRate(ctx, tx, date, rate, rateSourceBulkImport, notes)
	})
}

// ImportCPICSV imports "year_month,yoy[,mom]" lines. Months may be written YYYY-MM or MM-YYYY.
func (c *Core) ImportCPICSV(ctx context.Context, r io.Reader) (ImportResult, error) {
	return c.importCSV(ctx, r, "year_month", func(tx *sql.Tx, fields []string, notes string) (string, error) {
		if len(fields) < 2 {
			return fields[0], NewError(ErrCodeInvalidInput, "expected year_month,yoy[,mom]")
		}
		ym, err := ParseYearMonthLenient(fields[0])
		if err != nil {
			return fields[0], err
		}
		key := ym.String()
		yoy, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return key, NewError(ErrCodeValidation, "invalid value")
		}
		var mom *float64
		if len(fields) >= 3 && fields[2] != "" {
			v, err := strconv.ParseFloat(fields[2], 64)
			if err != nil {
				return key, NewError(ErrCodeValidation, "invalid value")
			}
			mom = &v
		}
		return key, upsertCPI(ctx, tx, ym, yoy, mom, rateSourceBulkImport, notes)
	})
}

type importRowFunc func(tx *sql.Tx, fields []string, notes string) (key string, err error)

// importCSV applies fn to every record inside one transaction. Row-level validation failures
// are collected; storage failures abort the whole import.
func (c *Core) importCSV(ctx context.Context, r io.Reader, header string, fn importRowFunc) (ImportResult, error) {
	batchID := uuid.NewString()
	result := ImportResult{BatchID: batchID, Errors: []string{}}
	notes := "Bulk import " + batchID

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	err := c.WithTx(ctx, func(tx *sql.Tx) error {
		for {
			record, err := reader.Read()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				var parseErr *csv.ParseError
				if errors.As(err, &parseErr) {
					result.Skipped++
					result.Errors = append(result.Errors, fmt.Sprintf("line %d: %v", parseErr.Line, parseErr.Err))
					continue
				}
				return WrapError(ErrCodeInvalidInput, "read csv", err)
			}
			fields := trimFields(record)
			if len(fields) == 0 || fields[0] == "" {
				continue
			}
			if strings.EqualFold(fields[0], header) {
				continue
			}
			key, err := fn(tx, fields, notes)
			if err == nil {
				result.Imported++
				continue
			}
			if CodeOf(err) == ErrCodeDatabase || CodeOf(err) == "" {
				return err
			}
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", key, ErrorMessage(err)))
		}
	})
	if err != nil {
		return ImportResult{Errors: []string{}}, err
	}
	c.logger.Info("csv import finished", "batch_id", batchID, "imported", result.Imported, "skipped", result.Skipped)
	return result, nil
}

func trimFields(record []string) []string {
	fields := make([]string, 0, len(record))
	for _, f := range record {
		fields = append(fields, strings.TrimSpace(f))
	}
	for len(fields) > 0 && fields[len(fields)-1] == "" {
		fields = fields[:len(fields)-1]
	}
	return fields
}
