package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ms-coupons/internal/config"
	"ms-coupons/internal/logger"

	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

const connectBackoff = 2 * time.Second

// Connect opens the PostgreSQL pool and pings it, retrying while the
// database comes up.
func Connect(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*bun.DB, error) {
	if cfg.DSN == "" {
		return nil, errors.New("POSTGRES_DSN not set")
	}
	retries := cfg.ConnectRetries
	if retries < 1 {
		retries = 1
	}

	var sqldb *sql.DB
	var err error
	for i := 0; i < retries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, retries))
		sqldb, err = sql.Open("postgres", cfg.DSN)
		if err == nil {
			if err = sqldb.PingContext(ctx); err == nil {
				break
			}
			sqldb.Close()
		}
		log.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))

		if i < retries-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(connectBackoff):
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect to postgres after %d attempts: %w", retries, err)
	}

	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.MaxLifetime)

	log.Info("DATABASE", "PostgreSQL connection successful")
	return bun.NewDB(sqldb, pgdialect.New()), nil
}
