package lirashield

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
)

const cpiSourceDefault = "TCMB"

// UpsertCPI stores the official CPI release for a month. A nil mom records an unpublished monthly change.
func (c *Core) UpsertCPI(ym YearMonth, yoy float64, mom *float64, source, notes string) error {
	return upsertCPI(context.Background(), c.db, ym, yoy, mom, source, notes)
}

func upsertCPI(ctx context.Context, db execer, ym YearMonth, yoy float64, mom *float64, source, notes string) error {
	if ym.Year() == 0 {
		return NewError(ErrCodeMalformedDate, "year_month required")
	}
	if math.IsNaN(yoy) || math.IsInf(yoy, 0) {
		return NewError(ErrCodeValidation, "cpi_yoy must be a finite number")
	}
	if mom != nil && (math.IsNaN(*mom) || math.IsInf(*mom, 0)) {
		return NewError(ErrCodeValidation, "cpi_mom must be a finite number")
	}
	if strings.TrimSpace(source) == "" {
		source = cpiSourceDefault
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO cpi_official (year_month, cpi_yoy, cpi_mom, source, notes)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(year_month) DO UPDATE SET
			cpi_yoy = excluded.cpi_yoy,
			cpi_mom = excluded.cpi_mom,
			source = excluded.source,
			notes = excluded.notes
	`, ym.String(), yoy, nullFloat(mom), strings.TrimSpace(source), nullString(&notes))
	return dbError("upsert cpi", err)
}

// MoM returns the month-over-month CPI change for ym, nil when the month or its MoM is missing.
func (c *Core) MoM(ym YearMonth) (*float64, error) {
	var mom sql.NullFloat64
	err := c.db.QueryRow("SELECT cpi_mom FROM cpi_official WHERE year_month = ?", ym.String()).Scan(&mom)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, dbError("query cpi", err)
	}
	if !mom.Valid {
		return nil, nil
	}
	return &mom.Float64, nil
}

// LatestMoM returns the most recent month with a published month-over-month change.
// ok is false when no month has one.
func (c *Core) LatestMoM() (ym YearMonth, mom float64, ok bool, err error) {
	err = c.db.QueryRow(
		"SELECT year_month, cpi_mom FROM cpi_official WHERE cpi_mom IS NOT NULL ORDER BY year_month DESC LIMIT 1",
	).Scan(&ym, &mom)
	if err == sql.ErrNoRows {
		return YearMonth{}, 0, false, nil
	}
	if err != nil {
		return YearMonth{}, 0, false, dbError("query latest cpi", err)
	}
	return ym, mom, true, nil
}

// ListCPI returns all CPI releases, newest first.
func (c *Core) ListCPI() ([]CPIObservation, error) {
	rows, err := c.db.Query(`
		SELECT id, year_month, cpi_yoy, cpi_mom, COALESCE(source, ''), notes, created_at
		FROM cpi_official ORDER BY year_month DESC`)
	if err != nil {
		return nil, dbError("query cpi", err)
	}
	defer rows.Close()

	result := []CPIObservation{}
	for rows.Next() {
		var item CPIObservation
		var mom sql.NullFloat64
		var notes, createdAt sql.NullString
		if err := rows.Scan(&item.ID, &item.YearMonth, &item.YoY, &mom, &item.Source, &notes, &createdAt); err != nil {
			return nil, dbError("scan cpi", err)
		}
		if mom.Valid {
			item.MoM = floatPtr(mom.Float64)
		}
		item.Notes = scanNullString(notes)
		item.CreatedAt = scanNullString(createdAt)
		result = append(result, item)
	}
	return result, dbError("query cpi", rows.Err())
}

// DeleteCPI deletes a CPI release by ID and reports whether it existed.
func (c *Core) DeleteCPI(id int64) (bool, error) {
	result, err := c.db.Exec("DELETE FROM cpi_official WHERE id = ?", id)
	if err != nil {
		return false, dbError("delete cpi", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, dbError("delete cpi", err)
	}
	return affected > 0, nil
}

// CumulativeCPI returns the compounded CPI change in percent between start and end,
// interpolating partial months by calendar days. A gap in the required months is
// reported as ErrCodeMissingCPI.
func (c *Core) CumulativeCPI(start, end Date) (float64, error) {
	return cumulativeCPI(c, start, end)
}

// momSource is the read side of the CPI table used by the interpolator.
type momSource interface {
	MoM(ym YearMonth) (*float64, error)
	LatestMoM() (YearMonth, float64, bool, error)
}

func cumulativeCPI(src momSource, start, end Date) (float64, error) {
	if !start.Before(end) {
		return 0, nil
	}
	startMonth := start.YearMonth()
	endMonth := end.YearMonth()

	if startMonth == endMonth {
		mom, err := requireMoM(src, startMonth)
		if err != nil {
			return 0, err
		}
		days := end.Day() - start.Day()
		fraction := float64(days) / float64(startMonth.Days())
		return (math.Pow(1+mom/100, fraction) - 1) * 100, nil
	}

	acc := 1.0

	// First month: from the start day through month end, inclusive.
	mom, err := requireMoM(src, startMonth)
	if err != nil {
		return 0, err
	}
	daysRemaining := startMonth.Days() - start.Day() + 1
	acc *= math.Pow(1+mom/100, float64(daysRemaining)/float64(startMonth.Days()))

	for ym := startMonth.Next(); ym.Before(endMonth); ym = ym.Next() {
		mom, err := requireMoM(src, ym)
		if err != nil {
			return 0, err
		}
		acc *= 1 + mom/100
	}

	// Last month: days elapsed before the end day. The newest month is often unpublished,
	// so the latest known MoM stands in for it.
	daysElapsed := end.Day() - 1
	if daysElapsed > 0 {
		endMoM, err := src.MoM(endMonth)
		if err != nil {
			return 0, err
		}
		if endMoM == nil {
			_, latest, ok, err := src.LatestMoM()
			if err != nil {
				return 0, err
			}
			if ok {
				endMoM = &latest
			}
		}
		if endMoM != nil {
			acc *= math.Pow(1+*endMoM/100, float64(daysElapsed)/float64(endMonth.Days()))
		}
	}

	return (acc - 1) * 100, nil
}

func requireMoM(src momSource, ym YearMonth) (float64, error) {
	mom, err := src.MoM(ym)
	if err != nil {
		return 0, err
	}
	if mom == nil {
		return 0, NewError(ErrCodeMissingCPI, fmt.Sprintf("CPI MoM data missing for %s", ym))
	}
	return *mom, nil
}
