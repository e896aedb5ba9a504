package repo

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// RunMigrations применяет все новые миграции.
func RunMigrations(dsn string) error {
	return withMigrate(dsn, func(m *migrate.Migrate) error {
		if err := m.Up(); err != nil {
			if errors.Is(err, migrate.ErrNoChange) {
				slog.Info("migrations up to date")
				return nil
			}
			return fmt.Errorf("migrate up: %w", err)
		}
		slog.Info("migrations applied")
		return nil
	})
}

// RollbackMigrations откатывает steps последних миграций.
func RollbackMigrations(dsn string, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return withMigrate(dsn, func(m *migrate.Migrate) error {
		if err := m.Steps(-steps); err != nil {
			if errors.Is(err, migrate.ErrNoChange) {
				return nil
			}
			return fmt.Errorf("migrate down: %w", err)
		}
		slog.Info("migrations rolled back", "steps", steps)
		return nil
	})
}

// MigrationVersion возвращает текущую версию схемы.
func MigrationVersion(dsn string) (uint, bool, error) {
	var (
		version uint
		dirty   bool
	)
	err := withMigrate(dsn, func(m *migrate.Migrate) error {
		v, d, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("migrate version: %w", err)
		}
		version, dirty = v, d
		return nil
	})
	return version, dirty, err
}

func withMigrate(dsn string, fn func(m *migrate.Migrate) error) error {
	if dsn == "" {
		dsn = DefaultDSN
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migrate driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrate: %w", err)
	}
	defer m.Close()

	return fn(m)
}

// Migrator — миграции для конкретной БД.
type Migrator struct {
	DSN string
}

// Up применяет все новые миграции.
func (m Migrator) Up() error {
	return RunMigrations(m.DSN)
}

// Down откатывает steps последних миграций.
func (m Migrator) Down(steps int) error {
	return RollbackMigrations(m.DSN, steps)
}

// Version возвращает текущую версию схемы.
func (m Migrator) Version() (uint, bool, error) {
	return MigrationVersion(m.DSN)
}
