package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chin-flags/fixapp/internal/port/database"
)

var _ database.Store = (*Store)(nil)

// Store implements database.Store using PostgreSQL. Every tenant-scoped query
// filters on tenant_id explicitly, in addition to the checks of
// isolation.Store.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool returns the underlying connection pool.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }
