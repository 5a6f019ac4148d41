// Command strata-server opens a database described by a configuration file
// and serves its tables over HTTP.
//
//	strata-server -config strata.yaml
//
// Without -config the configuration is read from STRATA_* environment
// variables on top of the defaults.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rzpsarthak13/strata/internal/logging"
	"github.com/rzpsarthak13/strata/internal/rpc"
	"github.com/rzpsarthak13/strata/pkg/strata"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML or JSON configuration file")
	addr := flag.String("addr", "", "listen address, overrides server.addr")
	flag.Parse()

	if err := run(*configPath, *addr); err != nil {
		fmt.Fprintf(os.Stderr, "strata-server: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, addr string) error {
	config, err := strata.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		config.Server.Addr = addr
	}

	logger, err := logging.New(config.Logging.Level, config.Logging.Development)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := strata.OpenFromConfig(ctx, config, strata.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("failed to close database", zap.Error(err))
		}
	}()

	tables, err := exposeTables(ctx, db, config)
	if err != nil {
		return err
	}

	server := rpc.NewServer(tables, db, rpc.Config{
		Addr:            config.Server.Addr,
		RequestRate:     config.Server.RequestRate,
		RequestBurst:    config.Server.RequestBurst,
		ShutdownTimeout: config.Server.ShutdownTimeout,
	}, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(ctx)
	})
	g.Go(func() error {
		return logChanges(ctx, db, logger)
	})
	err = g.Wait()
	logger.Info("server stopped", zap.Error(err))
	return err
}

// logChanges writes every committed change to the debug log until ctx is
// done. It returns at once when the database has no change feed.
func logChanges(ctx context.Context, db *strata.Database, logger *zap.Logger) error {
	if !logger.Core().Enabled(zap.DebugLevel) {
		return nil
	}
	changes, cancel, err := db.Subscribe(256)
	if errors.Is(err, strata.ErrNoChangeFeed) {
		return nil
	}
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case change, ok := <-changes:
			if !ok {
				return nil
			}
			logger.Debug("change committed",
				zap.String("table", change.Table),
				zap.String("op", string(change.Op)),
				zap.Any("keys", change.Keys))
		}
	}
}

// exposeTables registers every configured table with the server.
func exposeTables(ctx context.Context, db *strata.Database, config *strata.Config) (*rpc.Tables, error) {
	schemas, err := strata.SchemasFromConfig(config)
	if err != nil {
		return nil, err
	}

	tables := rpc.NewTables()
	for i, s := range schemas {
		tbl, err := db.Table(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("failed to open table %q: %w", s.TableName, err)
		}
		if err := tables.Register(tbl, config.Tables[i].ReadOnly); err != nil {
			return nil, err
		}
	}
	return tables, nil
}
