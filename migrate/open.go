package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"appboot/config"
)

// Open connects to the configured application database and verifies the
// connection within the configured timeout. An unreachable database fails
// here, before any migration is attempted.
func Open(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (*sql.DB, error) {
	driver := cfg.Database.Driver
	dsn := cfg.DatabaseDSN()

	if driver == "sqlite" && dsn != ":memory:" {
		// The database file's directory must exist before the driver
		// creates the file
		dir := filepath.Dir(dsn)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	// Migrations are strictly sequential, a single connection is enough
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Database.ConnectTimeout)*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database unreachable (%s): %w", driver, err)
	}

	logger.Infow("Database connection established",
		"driver", driver,
		"database", cfg.Database.Name)

	return db, nil
}
