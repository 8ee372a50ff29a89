package main

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/platinummonkey/pullpay/pkg/config"
	"github.com/platinummonkey/pullpay/pkg/ledger"
	"github.com/platinummonkey/pullpay/pkg/observability"
	"github.com/sirupsen/logrus"
)

// openLedger builds the configured ledger backend. The returned health
// options cover the backend's connection; close releases it.
func openLedger(ctx context.Context, cfg config.LedgerConfig, logger logrus.FieldLogger) (ledger.Ledger, []observability.HealthOption, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Driver {
	case config.LedgerMemory:
		logger.Warn("Using in-memory ledger, subscriptions are lost on restart")
		return ledger.NewMemoryLedger(), nil, noop, nil

	case config.LedgerSQLite, config.LedgerPostgres:
		driver, dialect := "postgres", ledger.DialectPostgres
		if cfg.Driver == config.LedgerSQLite {
			driver, dialect = "sqlite3", ledger.DialectSQLite
		}

		db, err := sql.Open(driver, cfg.DSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open %s ledger: %w", cfg.Driver, err)
		}
		if dialect == ledger.DialectSQLite {
			// sqlite allows a single writer
			db.SetMaxOpenConns(1)
		} else if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, nil, fmt.Errorf("failed to connect to %s ledger: %w", cfg.Driver, err)
		}

		l := ledger.NewSQLLedger(db, dialect)
		if cfg.Migrate {
			if err := l.Migrate(ctx); err != nil {
				db.Close()
				return nil, nil, nil, fmt.Errorf("failed to migrate ledger: %w", err)
			}
			logger.Info("Ledger schema migrated")
		}
		return l, []observability.HealthOption{observability.WithDatabase(db)}, db.Close, nil

	case config.LedgerRedis:
		l, err := ledger.NewRedisLedgerFromURL(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, nil, err
		}
		return l, []observability.HealthOption{observability.WithRedis(l.Client())}, l.Close, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown ledger driver %q", cfg.Driver)
	}
}
