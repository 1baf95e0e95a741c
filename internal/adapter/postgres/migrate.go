package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrator applies the embedded fixapp schema over an existing pool.
type Migrator struct {
	provider *goose.Provider
	log      *zap.Logger
}

// NewMigrator opens a database/sql handle on pool and loads the embedded
// migrations. Close releases the handle; the pool stays open.
func NewMigrator(pool *pgxpool.Pool, log *zap.Logger) (*Migrator, error) {
	if log == nil {
		log = zap.NewNop()
	}
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("migrations fs: %w", err)
	}
	db := stdlib.OpenDBFromPool(pool)
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("load migrations: %w", err)
	}
	return &Migrator{provider: provider, log: log}, nil
}

// Up applies every pending migration and returns how many ran.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	results, err := m.provider.Up(ctx)
	for _, r := range results {
		m.logResult(r)
	}
	if err != nil {
		return len(results), fmt.Errorf("run migrations: %w", err)
	}
	return len(results), nil
}

// Down rolls back up to steps migrations and returns how many were undone.
// Reaching version zero early is not an error.
func (m *Migrator) Down(ctx context.Context, steps int) (int, error) {
	undone := 0
	for undone < steps {
		r, err := m.provider.Down(ctx)
		if errors.Is(err, goose.ErrNoNextVersion) {
			break
		}
		if err != nil {
			return undone, fmt.Errorf("rollback: %w", err)
		}
		if r == nil {
			break
		}
		m.logResult(r)
		undone++
	}
	return undone, nil
}

// Version returns the schema version recorded in the database.
func (m *Migrator) Version(ctx context.Context) (int64, error) {
	v, err := m.provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("get version: %w", err)
	}
	return v, nil
}

// Close releases the database/sql handle.
func (m *Migrator) Close() error {
	return m.provider.Close()
}

func (m *Migrator) logResult(r *goose.MigrationResult) {
	if r == nil || r.Source == nil {
		return
	}
	m.log.Info("migration applied",
		zap.Int64("version", r.Source.Version),
		zap.String("direction", r.Direction),
		zap.Duration("duration", r.Duration),
	)
}

// RunMigrations applies all pending migrations over pool.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, log *zap.Logger) error {
	m, err := NewMigrator(pool, log)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()
	_, err = m.Up(ctx)
	return err
}
