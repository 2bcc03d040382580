package lirashield

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateFormat is the storage and wire format of a Date.
const DateFormat = "2006-01-02"

// permissive read format, accepts 2024-1-5.
const readDateFormat = "2006-1-2"

// Date is a calendar day with no time component.
type Date struct {
	y int
	m time.Month
	d int
}

// NewDate returns a normalized Date, so NewDate(2024, 1, 32) is 2024-02-01.
func NewDate(year int, month time.Month, day int) Date {
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return Date{t.Year(), t.Month(), t.Day()}
}

// DateOf returns the calendar day of t in t's location.
func DateOf(t time.Time) Date {
	return NewDate(t.Date())
}

// ParseDate parses YYYY-MM-DD. A trailing time part ("2024-01-05 10:00", "2024-01-05T10:00:00Z") is dropped.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if len(s) > 10 && (s[10] == 'T' || s[10] == ' ') {
		s = s[:10]
	}
	t, err := time.Parse(readDateFormat, s)
	if err != nil {
		return Date{}, WrapError(ErrCodeMalformedDate, fmt.Sprintf("invalid date %q, want YYYY-MM-DD", s), err)
	}
	return DateOf(t), nil
}

// MustParseDate is like ParseDate but panics on error.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err.Error())
	}
	return d
}

func (d Date) time() time.Time { return time.Date(d.y, d.m, d.d, 0, 0, 0, 0, time.UTC) }

func (d Date) Year() int         { return d.y }
func (d Date) Month() time.Month { return d.m }
func (d Date) Day() int          { return d.d }

// IsZero reports whether d is the zero Date.
func (d Date) IsZero() bool { return d.y == 0 && d.m == 0 && d.d == 0 }

func (d Date) Before(x Date) bool { return d.time().Before(x.time()) }
func (d Date) After(x Date) bool  { return d.time().After(x.time()) }

// AddDays returns d shifted by n days.
func (d Date) AddDays(n int) Date { return NewDate(d.y, d.m, d.d+n) }

// DaysSince returns the number of days from x to d.
func (d Date) DaysSince(x Date) int {
	return int(d.time().Sub(x.time()).Hours() / 24)
}

// YearMonth returns the month containing d.
func (d Date) YearMonth() YearMonth { return YearMonth{d.y, d.m} }

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.time().Format(DateFormat)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	v, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Scan implements sql.Scanner for TEXT date columns.
func (d *Date) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = Date{}
		return nil
	case string:
		p, err := ParseDate(v)
		if err != nil {
			return err
		}
		*d = p
		return nil
	case []byte:
		return d.Scan(string(v))
	case time.Time:
		*d = DateOf(v)
		return nil
	}
	return fmt.Errorf("cannot scan %T into Date", src)
}

// Value implements driver.Valuer.
func (d Date) Value() (driver.Value, error) {
	return d.String(), nil
}

// DaysInMonth returns 28, 29, 30 or 31 following the Gregorian calendar.
func DaysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// YearMonth identifies a calendar month.
type YearMonth struct {
	y int
	m time.Month
}

// NewYearMonth returns a normalized YearMonth.
func NewYearMonth(year int, month time.Month) YearMonth {
	d := NewDate(year, month, 1)
	return YearMonth{d.y, d.m}
}

// ParseYearMonth parses the strict YYYY-MM form.
func ParseYearMonth(s string) (YearMonth, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, "-")
	if len(parts) != 2 || len(parts[0]) != 4 || len(parts[1]) != 2 {
		return YearMonth{}, NewError(ErrCodeMalformedDate, fmt.Sprintf("invalid year-month %q, want YYYY-MM", s))
	}
	y, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || m < 1 || m > 12 {
		return YearMonth{}, NewError(ErrCodeMalformedDate, fmt.Sprintf("invalid year-month %q, want YYYY-MM", s))
	}
	return YearMonth{y, time.Month(m)}, nil
}

// ParseYearMonthLenient accepts both YYYY-MM and MM-YYYY.
func ParseYearMonthLenient(s string) (YearMonth, error) {
	s = strings.TrimSpace(s)
	if parts := strings.Split(s, "-"); len(parts) == 2 && len(parts[0]) == 2 && len(parts[1]) == 4 {
		s = parts[1] + "-" + parts[0]
	}
	return ParseYearMonth(s)
}

func (ym YearMonth) Year() int         { return ym.y }
func (ym YearMonth) Month() time.Month { return ym.m }

// Days returns the number of days in the month.
func (ym YearMonth) Days() int { return DaysInMonth(ym.y, ym.m) }

// Next returns the following month.
func (ym YearMonth) Next() YearMonth { return NewYearMonth(ym.y, ym.m+1) }

func (ym YearMonth) Before(x YearMonth) bool {
	if ym.y != x.y {
		return ym.y < x.y
	}
	return ym.m < x.m
}

func (ym YearMonth) String() string {
	return fmt.Sprintf("%04d-%02d", ym.y, int(ym.m))
}

func (ym YearMonth) MarshalJSON() ([]byte, error) {
	return json.Marshal(ym.String())
}

func (ym *YearMonth) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := ParseYearMonthLenient(s)
	if err != nil {
		return err
	}
	*ym = v
	return nil
}

// Scan implements sql.Scanner for TEXT year_month columns.
func (ym *YearMonth) Scan(src any) error {
	switch v := src.(type) {
	case string:
		p, err := ParseYearMonth(v)
		if err != nil {
			return err
		}
		*ym = p
		return nil
	case []byte:
		return ym.Scan(string(v))
	}
	return fmt.Errorf("cannot scan %T into YearMonth", src)
}

// Value implements driver.Valuer.
func (ym YearMonth) Value() (driver.Value, error) {
	return ym.String(), nil
}
