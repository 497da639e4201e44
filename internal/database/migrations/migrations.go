package migrations

import (
	"errors"
	"fmt"
	"os"

	"ms-coupons/internal/logger"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/uptrace/bun"
)

// SchemaVersion is the last migration that only creates tables. Later
// versions load seed data.
const SchemaVersion uint = 1

type MigrateOptions struct {
	// MigrationsDir holds the numbered *.up.sql / *.down.sql files.
	MigrationsDir string
	// AutoMigrate runs migrations on service startup.
	AutoMigrate bool
	// SeedData applies the seed migrations too. Without it the database
	// stops at SchemaVersion.
	SeedData bool
}

func DefaultOptions() MigrateOptions {
	return MigrateOptions{
		MigrationsDir: "./migrations",
		AutoMigrate:   true,
		SeedData:      false,
	}
}

// Runner applies the SQL migrations to the coupon database.
type Runner struct {
	bunDB    *bun.DB
	options  MigrateOptions
	log      *logger.Logger
	migrator *migrate.Migrate
}

func NewRunner(bunDB *bun.DB, opts MigrateOptions, log *logger.Logger) *Runner {
	return &Runner{
		bunDB:   bunDB,
		options: opts,
		log:     log,
	}
}

func (r *Runner) Initialize() error {
	if r.migrator != nil {
		return nil
	}
	if _, err := os.Stat(r.options.MigrationsDir); os.IsNotExist(err) {
		return fmt.Errorf("migrations directory does not exist: %s", r.options.MigrationsDir)
	}

	driver, err := postgres.WithInstance(r.bunDB.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres migration driver: %w", err)
	}

	migrator, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", r.options.MigrationsDir),
		"postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	r.migrator = migrator
	return nil
}

// RunMigrations brings the schema up to date. A dirty version left by a
// crashed run is forced clean and retried once.
func (r *Runner) RunMigrations() error {
	if err := r.Initialize(); err != nil {
		return err
	}

	version, dirty, err := r.migrator.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	if dirty {
		r.log.Warn("MIGRATE", fmt.Sprintf("Dirty migration at version %d, forcing", version))
		if err := r.migrator.Force(int(version)); err != nil {
			return fmt.Errorf("failed to fix dirty migration: %w", err)
		}
	}

	if r.options.SeedData {
		r.log.Info("MIGRATE", "Running all migrations including seed data")
		if err := r.migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	} else if errors.Is(err, migrate.ErrNilVersion) || version < SchemaVersion {
		r.log.Info("MIGRATE", "Running schema migrations only")
		if err := r.migrator.Migrate(SchemaVersion); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("failed to run schema migration: %w", err)
		}
	}

	current, _, err := r.Version()
	if err != nil {
		return err
	}
	r.log.Info("MIGRATE", fmt.Sprintf("Current schema version: %d", current))
	return nil
}

func (r *Runner) MigrateUp() error {
	if err := r.Initialize(); err != nil {
		return err
	}
	if err := r.migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateDown rolls back every migration.
func (r *Runner) MigrateDown() error {
	if err := r.Initialize(); err != nil {
		return err
	}
	if err := r.migrator.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}
	return nil
}

func (r *Runner) MigrateTo(version uint) error {
	if err := r.Initialize(); err != nil {
		return err
	}
	if err := r.migrator.Migrate(version); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration to version %d failed: %w", version, err)
	}
	return nil
}

// Version reports the applied version, 0 when nothing has run.
func (r *Runner) Version() (uint, bool, error) {
	if err := r.Initialize(); err != nil {
		return 0, false, err
	}
	version, dirty, err := r.migrator.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, dirty, nil
}

func (r *Runner) Close() error {
	if r.migrator == nil {
		return nil
	}
	sourceErr, databaseErr := r.migrator.Close()
	if sourceErr != nil {
		return fmt.Errorf("error closing migrator source: %w", sourceErr)
	}
	if databaseErr != nil {
		return fmt.Errorf("error closing migrator database: %w", databaseErr)
	}
	return nil
}
