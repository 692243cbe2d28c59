package registry

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/mbdelacruz/invoice-extract/internal/common"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Open connects to the registry database. SQLite is the embedded default;
// postgres serves shared deployments where several capture stations resolve
// against one registry.
func Open(ctx context.Context, cfg common.RegistryConfig, logger *slog.Logger) (*sqlx.DB, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var db *sqlx.DB
	var err error
	switch cfg.Driver {
	case "sqlite":
		dsn, derr := sqliteDSN(cfg.DSN)
		if derr != nil {
			return nil, derr
		}
		db, err = sqlx.ConnectContext(ctx, "sqlite", dsn)
		if err == nil {
			// modernc sqlite handles one writer; keep the pool at one conn
			db.SetMaxOpenConns(1)
			db.SetMaxIdleConns(1)
		}
	case "postgres":
		db, err = sqlx.ConnectContext(ctx, "pgx", cfg.DSN)
		if err == nil {
			db.SetConnMaxLifetime(30 * time.Minute)
		}
	default:
		return nil, fmt.Errorf("unsupported registry driver: %q", cfg.Driver)
	}
	if err != nil {
		logger.Error("registry.open_failed", "driver", cfg.Driver, "error", err)
		return nil, common.WrapError(err, "open registry")
	}

	logger.Info("registry.opened", "driver", cfg.Driver)
	return db, nil
}

// Migrate applies the embedded schema migrations.
func Migrate(db *sqlx.DB, driver string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	var m *migrate.Migrate
	switch driver {
	case "sqlite":
		drv, err := migratesqlite.WithInstance(db.DB, &migratesqlite.Config{})
		if err != nil {
			return fmt.Errorf("migration driver: %w", err)
		}
		m, err = migrate.NewWithInstance("iofs", src, "sqlite", drv)
		if err != nil {
			return fmt.Errorf("migration instance: %w", err)
		}
	case "postgres":
		drv, err := migratepgx.WithInstance(db.DB, &migratepgx.Config{})
		if err != nil {
			return fmt.Errorf("migration driver: %w", err)
		}
		m, err = migrate.NewWithInstance("iofs", src, "pgx", drv)
		if err != nil {
			return fmt.Errorf("migration instance: %w", err)
		}
	default:
		return fmt.Errorf("unsupported registry driver: %q", driver)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("registry.migrated", "driver", driver)
	return nil
}

// HealthCheck pings the registry with a bounded timeout.
func HealthCheck(ctx context.Context, db *sqlx.DB, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return db.PingContext(ctx)
}

func sqliteDSN(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve registry path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("create registry directory: %w", err)
	}
	return abs, nil
}
