package lirashield

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

func initDatabase(db *sql.DB, logger *slog.Logger) error {
	if err := upgradeLegacyColumns(db); err != nil {
		return fmt.Errorf("upgrade legacy columns: %w", err)
	}

	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	// m.Close would close db as well; only the source is released.
	defer source.Close()

	if err := m.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("apply migrations: %w", err)
		}
		logger.Debug("no new database migrations to apply")
		return nil
	}
	version, _, _ := m.Version()
	logger.Info("database migrations applied", "version", version)
	return nil
}

// legacyColumns are columns older databases may lack. The tables themselves are
// created by the migrations; these only patch tables that predate them.
var legacyColumns = []struct {
	table, column, ddl string
}{
	{"transactions", "tax_rate", "ALTER TABLE transactions ADD COLUMN tax_rate REAL NOT NULL DEFAULT 0"},
	{"transactions", "asset_type", "ALTER TABLE transactions ADD COLUMN asset_type TEXT NOT NULL DEFAULT 'TEFAS'"},
	{"transactions", "currency", "ALTER TABLE transactions ADD COLUMN currency TEXT NOT NULL DEFAULT 'TRY'"},
	{"transactions", "transaction_type", "ALTER TABLE transactions ADD COLUMN transaction_type TEXT NOT NULL DEFAULT 'BUY'"},
	{"transactions", "price_per_share", "ALTER TABLE transactions ADD COLUMN price_per_share REAL"},
	{"fund_prices", "currency", "ALTER TABLE fund_prices ADD COLUMN currency TEXT NOT NULL DEFAULT 'TRY'"},
}

func upgradeLegacyColumns(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, col := range legacyColumns {
		exists, err := tableExists(tx, col.table)
		if err != nil {
			return err
		}
		if !exists {
			continue
		}
		has, err := tableHasColumn(tx, col.table, col.column)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := tx.Exec(col.ddl); err != nil {
			return fmt.Errorf("add %s.%s: %w", col.table, col.column, err)
		}
	}
	return tx.Commit()
}

func tableExists(tx *sql.Tx, table string) (bool, error) {
	var name string
	err := tx.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func tableHasColumn(tx *sql.Tx, table, column string) (bool, error) {
	rows, err := tx.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name string
		var ctype string
		var notnull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
