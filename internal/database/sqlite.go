package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/rzpsarthak13/strata/internal/core"
)

// NewSQLiteDatabase opens a SQLite database through the cgo driver. The
// pool holds a single connection, so transactions queue behind each other
// and an in-memory database lives as long as the pool.
func NewSQLiteDatabase(ctx context.Context, config SQLiteConfig, logger *zap.Logger) (core.Database, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", sqliteDSN(config))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("opened sqlite database", zap.String("path", config.Path))
	return &sqlDatabase{
		db:        db,
		dialect:   DialectSQLite,
		logger:    logger.Named("sqlite"),
		translate: translateSQLiteError,
	}, nil
}

func sqliteDSN(config SQLiteConfig) string {
	params := url.Values{}
	params.Set("_foreign_keys", "0")
	if config.BusyTimeout > 0 {
		params.Set("_busy_timeout", fmt.Sprint(config.BusyTimeout.Milliseconds()))
	}
	if config.InMemory() {
		return "file::memory:?" + params.Encode()
	}
	params.Set("_journal_mode", "WAL")
	params.Set("mode", "rwc")
	return "file:" + config.Path + "?" + params.Encode()
}

func translateSQLiteError(err error) error {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}
	switch sqliteErr.ExtendedCode {
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		return uniqueError(constraintTarget(sqliteErr.Error()), err)
	}
	if table, ok := missingTable(sqliteErr.Error()); ok {
		return undefinedTableError(table, err)
	}
	return err
}

// constraintTarget extracts "table.column" from
// "UNIQUE constraint failed: table.column".
func constraintTarget(msg string) string {
	i := strings.LastIndex(msg, "failed: ")
	if i < 0 {
		return ""
	}
	target, _, _ := strings.Cut(msg[i+len("failed: "):], ",")
	return strings.TrimSpace(target)
}

func missingTable(msg string) (string, bool) {
	_, table, ok := strings.Cut(msg, "no such table: ")
	if !ok {
		return "", false
	}
	return strings.TrimSpace(table), true
}
