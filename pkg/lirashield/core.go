package lirashield

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Options controls Core initialization.
type Options struct {
	DBPath string
	Logger *slog.Logger
	// Now overrides the wall clock; "today" for benchmarks is derived from it.
	Now func() time.Time

	FetchCacheTTL      time.Duration
	FetchFailThreshold int
	FetchFailWindow    time.Duration
	FetchCooldown      time.Duration
	// FetchRatePerSecond throttles outbound market-data requests.
	FetchRatePerSecond float64
	FetchBurst         int
	HTTPTimeout        time.Duration
	HTTPClient         HTTPDoer
	// Market replaces the built-in Yahoo/Frankfurter/TEFAS fetcher.
	Market MarketData

	AI AISettings
}

// Core provides access to the portfolio store, the FIFO engine and the real-return analysis.
type Core struct {
	db     *sql.DB
	logger *slog.Logger
	market MarketData
	now    func() time.Time
	ai     AISettings
	dbPath string
}

// Open initializes a Core using the provided database path.
func Open(dbPath string) (*Core, error) {
	return OpenWithOptions(Options{DBPath: dbPath})
}

// OpenWithOptions initializes a Core using the provided options.
func OpenWithOptions(opts Options) (*Core, error) {
	if opts.DBPath == "" {
		return nil, errors.New("db path is required")
	}
	cleanPath := filepath.Clean(opts.DBPath)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	db, err := sql.Open("sqlite", cleanPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite performs best with a single writer; this also serializes rate upserts.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logger.Warn("pragma busy_timeout failed", "err", err)
	}

	if err := initDatabase(db, logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init database: %w", err)
	}

	var market MarketData = opts.Market
	if market == nil {
		market = newMarketFetcher(marketFetcherOptions{
			Logger:        logger,
			CacheTTL:      defaultDuration(opts.FetchCacheTTL, 10*time.Minute),
			FailThreshold: defaultInt(opts.FetchFailThreshold, 3),
			FailWindow:    defaultDuration(opts.FetchFailWindow, 60*time.Second),
			Cooldown:      defaultDuration(opts.FetchCooldown, 120*time.Second),
			RatePerSecond: defaultFloat(opts.FetchRatePerSecond, 5),
			Burst:         defaultInt(opts.FetchBurst, 5),
			HTTPTimeout:   defaultDuration(opts.HTTPTimeout, 15*time.Second),
			HTTPClient:    opts.HTTPClient,
		})
	}

	return &Core{
		db:     db,
		logger: logger,
		market: market,
		now:    now,
		ai:     opts.AI,
		dbPath: cleanPath,
	}, nil
}

// Close releases database resources.
func (c *Core) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// DBPath returns the underlying database path.
func (c *Core) DBPath() string {
	return c.dbPath
}

// Logger returns the logger the core writes to.
func (c *Core) Logger() *slog.Logger {
	if c == nil || c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

// Today returns the current calendar day in Istanbul.
func (c *Core) Today() Date {
	return c.today()
}

func defaultDuration(v time.Duration, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return v
}

func defaultInt(v int, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func defaultFloat(v float64, fallback float64) float64 {
	if v <= 0 {
		return fallback
	}
	return v
}
