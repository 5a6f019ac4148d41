package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/rzpsarthak13/strata/internal/core"
)

// MySQL error numbers translated into engine errors.
const (
	mysqlDuplicateEntry = 1062
	mysqlNoSuchTable    = 1146
)

// NewMySQLDatabase connects to MySQL and verifies the connection.
func NewMySQLDatabase(ctx context.Context, config MySQLConfig, logger *zap.Logger) (core.Database, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dsn := mysql.NewConfig()
	dsn.Net = "tcp"
	dsn.Addr = fmt.Sprintf("%s:%d", config.Host, config.Port)
	dsn.DBName = config.Database
	dsn.User = config.Username
	dsn.Passwd = config.Password
	dsn.Timeout = config.ConnectionTimeout
	dsn.Params = map[string]string{"sql_mode": "'STRICT_ALL_TABLES,NO_BACKSLASH_ESCAPES'"}

	db, err := sql.Open("mysql", dsn.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	// Test connection
	pingCtx := ctx
	if config.ConnectionTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, config.ConnectionTimeout)
		defer cancel()
	}
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("connected to mysql", zap.String("addr", dsn.Addr), zap.String("database", config.Database))
	return &sqlDatabase{
		db:        db,
		dialect:   DialectMySQL,
		logger:    logger.Named("mysql"),
		translate: translateMySQLError,
	}, nil
}

func translateMySQLError(err error) error {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return err
	}
	switch myErr.Number {
	case mysqlDuplicateEntry:
		// Duplicate entry 'v' for key 'table.key'
		return uniqueError(lastQuoted(myErr.Message), err)
	case mysqlNoSuchTable:
		// Table 'db.name' doesn't exist
		_, table, _ := strings.Cut(firstQuoted(myErr.Message), ".")
		return undefinedTableError(table, err)
	}
	return err
}

func lastQuoted(s string) string {
	end := strings.LastIndexByte(s, '\'')
	if end <= 0 {
		return ""
	}
	start := strings.LastIndexByte(s[:end], '\'')
	return s[start+1 : end]
}

func firstQuoted(s string) string {
	_, rest, ok := strings.Cut(s, "'")
	if !ok {
		return ""
	}
	quoted, _, _ := strings.Cut(rest, "'")
	return quoted
}
