package migrations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// DefaultTable is the golang-migrate bookkeeping table used when none is configured.
const DefaultTable = "schema_migrations"

type (
	// Status is the schema state of a database relative to the embedded catalog.
	Status struct {
		Version int
		Dirty   bool
		Latest  int
	}

	// Runner applies the embedded migrations to a single database connection.
	Runner struct {
		migrate *migrate.Migrate
		catalog *Catalog
		logger  *slog.Logger
	}

	// RunnerOption configures a Runner.
	RunnerOption func(*Runner)

	migrateLogger struct {
		logger *slog.Logger
	}
)

var _ migrate.Logger = (*migrateLogger)(nil)

// Pending reports how many migrations the database is behind.
func (s Status) Pending() int {
	if s.Version >= s.Latest {
		return 0
	}

	return s.Latest - s.Version
}

// String renders the status for CLI output.
func (s Status) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "schema v%03d, migrator supports v%03d", s.Version, s.Latest)

	switch {
	case s.Dirty:
		b.WriteString(" (dirty, needs manual intervention)")
	case s.Version == s.Latest:
		b.WriteString(" (up to date)")
	case s.Version < s.Latest:
		fmt.Fprintf(&b, " (%d pending)", s.Pending())
	default:
		b.WriteString(" (database is newer than this binary)")
	}

	return b.String()
}

// WithLogger sets the logger used for runner and golang-migrate output.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithCatalog replaces the embedded catalog. Used by tests.
func WithCatalog(catalog *Catalog) RunnerOption {
	return func(r *Runner) {
		if catalog != nil {
			r.catalog = catalog
		}
	}
}

// NewRunner validates the catalog and prepares golang-migrate on a dedicated
// connection taken from db. Close releases that connection but leaves db open.
func NewRunner(ctx context.Context, db *sql.DB, table string, opts ...RunnerOption) (*Runner, error) {
	r := &Runner{
		catalog: NewCatalog(nil),
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(r)
	}

	if err := r.catalog.Validate(); err != nil {
		return nil, err
	}

	if table == "" {
		table = DefaultTable
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire migration connection: %w", err)
	}

	driver, err := postgres.WithConnection(ctx, conn, &postgres.Config{MigrationsTable: table})
	if err != nil {
		_ = conn.Close()

		return nil, fmt.Errorf("failed to create postgres migration driver: %w", err)
	}

	src, err := iofs.New(r.catalog.FS(), ".")
	if err != nil {
		_ = driver.Close()

		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		_ = src.Close()
		_ = driver.Close()

		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	m.Log = &migrateLogger{logger: r.logger}
	r.migrate = m

	return r, nil
}

// Up applies the embedded migrations to db and releases the runner.
func Up(ctx context.Context, db *sql.DB, table string, opts ...RunnerOption) error {
	r, err := NewRunner(ctx, db, table, opts...)
	if err != nil {
		return err
	}

	upErr := r.Up()
	closeErr := r.Close()

	return errors.Join(upErr, closeErr)
}

// Up applies all pending migrations.
func (r *Runner) Up() error {
	err := r.migrate.Up()

	switch {
	case errors.Is(err, migrate.ErrNoChange):
		r.logger.Info("No new migrations to apply")

		return nil
	case err != nil:
		return fmt.Errorf("migration up failed: %w", err)
	}

	r.logger.Info("Migrations applied", slog.Int("latest", r.catalog.Latest()))

	return nil
}

// Down rolls back the most recent migration.
func (r *Runner) Down() error {
	err := r.migrate.Steps(-1)

	switch {
	case errors.Is(err, migrate.ErrNoChange):
		r.logger.Info("No migrations to roll back")

		return nil
	case err != nil:
		return fmt.Errorf("migration down failed: %w", err)
	}

	r.logger.Info("Rolled back last migration")

	return nil
}

// Status reports the applied version against the embedded catalog.
func (r *Runner) Status() (Status, error) {
	status := Status{Latest: r.catalog.Latest()}

	ver, dirty, err := r.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return status, nil
	}

	if err != nil {
		return status, fmt.Errorf("failed to read migration version: %w", err)
	}

	status.Version = int(ver) // #nosec G115 - versions are three-digit sequences
	status.Dirty = dirty

	return status, nil
}

// Drop removes every table in the database. Destructive.
func (r *Runner) Drop() error {
	r.logger.Warn("Dropping all tables")

	if err := r.migrate.Drop(); err != nil {
		return fmt.Errorf("drop failed: %w", err)
	}

	return nil
}

// Close releases the migration source and connection.
func (r *Runner) Close() error {
	if r.migrate == nil {
		return nil
	}

	sourceErr, dbErr := r.migrate.Close()
	r.migrate = nil

	var errs []error
	if sourceErr != nil {
		errs = append(errs, fmt.Errorf("source close: %w", sourceErr))
	}

	if dbErr != nil {
		errs = append(errs, fmt.Errorf("database close: %w", dbErr))
	}

	return errors.Join(errs...)
}

func (l *migrateLogger) Printf(format string, v ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)), slog.String("component", "migrate"))
}

func (l *migrateLogger) Verbose() bool {
	return l.logger.Enabled(context.Background(), slog.LevelDebug)
}
