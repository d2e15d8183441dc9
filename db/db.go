package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/deemkeen/stegonet/domain"
	"github.com/rs/zerolog/log"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// DB is the database struct.
type DB struct {
	db *sql.DB
}

const maxBusyRetries = 5

// Open opens (and creates) the SQLite database at path and runs the schema
// migrations. ":memory:" gives a private in-memory database.
func Open(path string) (*DB, error) {
	dsn := path
	if path != ":memory:" {
		// every pooled connection gets the lock timeout, and write
		// transactions take the lock up front instead of failing on upgrade
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if path == ":memory:" {
		// every connection would see its own empty database otherwise
		sqlDB.SetMaxOpenConns(1)
		sqlDB.Exec("PRAGMA foreign_keys = ON")
	} else {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(time.Hour)

		var journalMode string
		if err := sqlDB.QueryRow("PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
			log.Warn().Err(err).Msg("Failed to enable WAL mode")
		} else {
			log.Debug().Str("mode", journalMode).Msg("Database journal mode")
		}
		sqlDB.Exec("PRAGMA synchronous = NORMAL")
	}

	database := &DB{db: sqlDB}
	if err := database.RunMigrations(context.Background()); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return database, nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

// wrapTransaction runs f within a transaction, starting over while SQLite
// reports the database as busy.
func (db *DB) wrapTransaction(ctx context.Context, f func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var err error
	for attempt := 0; attempt <= maxBusyRetries; attempt++ {
		var tx *sql.Tx
		tx, err = db.db.BeginTx(ctx, nil)
		if err != nil {
			log.Error().Err(err).Msg("error starting transaction")
			return err
		}
		if err = f(tx); err != nil {
			tx.Rollback()
			if isBusy(err) {
				busyBackoff(attempt)
				continue
			}
			return mapError(err)
		}
		if err = tx.Commit(); err != nil {
			if isBusy(err) {
				tx.Rollback()
				busyBackoff(attempt)
				continue
			}
			log.Error().Err(err).Msg("error committing transaction")
			return mapError(err)
		}
		return nil
	}
	return err
}

func busyBackoff(attempt int) {
	time.Sleep(time.Duration(attempt+1) * 20 * time.Millisecond)
}

func isBusy(err error) bool {
	var serr *sqlite.Error
	return errors.As(err, &serr) && serr.Code()&0xff == sqlitelib.SQLITE_BUSY
}

// mapError turns unique constraint violations into domain.ErrDuplicate so
// callers can detect lost races without knowing about SQLite.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrDuplicate) || errors.Is(err, domain.ErrNotFound) {
		return err
	}
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return err
	}
	switch serr.Code() {
	case sqlitelib.SQLITE_CONSTRAINT_UNIQUE, sqlitelib.SQLITE_CONSTRAINT_PRIMARYKEY:
		return fmt.Errorf("%w: %v", domain.ErrDuplicate, err)
	}
	if serr.Code()&0xff == sqlitelib.SQLITE_CONSTRAINT && strings.Contains(serr.Error(), "UNIQUE") {
		return fmt.Errorf("%w: %v", domain.ErrDuplicate, err)
	}
	return err
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

type scanner interface {
	Scan(dest ...any) error
}
