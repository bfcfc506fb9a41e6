// Package tenant resolves tenant names and quota limits. Bucket names
// are derived from tenant names, so the directory is consulted on every
// cross-tenant operation.
package tenant

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	_ "github.com/lib/pq"
)

// Directory maps tenant IDs to their registered names and quota limits.
type Directory interface {
	// TenantName returns the tenant's registered name.
	TenantName(ctx context.Context, tenantID int64) (string, error)
	// QuotaLimit returns the tenant's storage limit in bytes, 0 for
	// unlimited.
	QuotaLimit(ctx context.Context, tenantID int64) (int64, error)
}

// Store is a Postgres-backed directory.
type Store struct {
	db           *sql.DB
	defaultQuota int64
}

// Open connects to the tenant database and ensures the schema exists.
func Open(databaseURL string, defaultQuota int64) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open tenant database: %w", err)
	}
	s := &Store{db: db, defaultQuota: defaultQuota}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an existing database handle.
func NewStore(db *sql.DB, defaultQuota int64) *Store {
	return &Store{db: db, defaultQuota: defaultQuota}
}

func (s *Store) ensureSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tenants (
			id BIGINT PRIMARY KEY,
			name TEXT NOT NULL,
			quota_bytes BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("ensure tenants schema: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// TenantName returns the tenant's registered name. Unknown tenants fall
// back to their numeric ID, so a missing directory row never blocks
// storage access.
func (s *Store) TenantName(ctx context.Context, tenantID int64) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx,
		`SELECT name FROM tenants WHERE id = $1`, tenantID).Scan(&name)
	if err == sql.ErrNoRows {
		return strconv.FormatInt(tenantID, 10), nil
	}
	if err != nil {
		return "", fmt.Errorf("get tenant name: %w", err)
	}
	return name, nil
}

// QuotaLimit returns the tenant's storage limit. When no row or no
// per-tenant limit is set, the configured default applies.
func (s *Store) QuotaLimit(ctx context.Context, tenantID int64) (int64, error) {
	var limit sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT quota_bytes FROM tenants WHERE id = $1`, tenantID).Scan(&limit)
	if err == sql.ErrNoRows {
		return s.defaultQuota, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get tenant quota: %w", err)
	}
	if !limit.Valid || limit.Int64 == 0 {
		return s.defaultQuota, nil
	}
	return limit.Int64, nil
}

// Register creates or updates a tenant record.
func (s *Store) Register(ctx context.Context, tenantID int64, name string, quotaBytes int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants (id, name, quota_bytes)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			quota_bytes = EXCLUDED.quota_bytes`,
		tenantID, name, quotaBytes)
	if err != nil {
		return fmt.Errorf("register tenant: %w", err)
	}
	return nil
}

// Static is a directory with no external backing. Tenant names are the
// numeric IDs and every tenant gets the same quota. Used when no
// database is configured.
type Static struct {
	Quota int64
	Names map[int64]string
}

func (s Static) TenantName(_ context.Context, tenantID int64) (string, error) {
	if name, ok := s.Names[tenantID]; ok {
		return name, nil
	}
	return strconv.FormatInt(tenantID, 10), nil
}

func (s Static) QuotaLimit(context.Context, int64) (int64, error) {
	return s.Quota, nil
}
