// Package pg persists the identity directory, the session ledger and the
// RBAC catalog in PostgreSQL.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"gatehouse.org/internal/identity"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// querier is the subset of database/sql shared by *sql.DB and *sql.Tx, so
// every sub-store runs unchanged inside or outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements identity.Store on PostgreSQL.
type Store struct {
	db *sql.DB
	q  querier
}

var _ identity.Store = (*Store)(nil)

// Open connects via the pgx stdlib driver and applies pool defaults.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return New(db), nil
}

// New wraps an existing database handle, mainly for tests.
func New(db *sql.DB) *Store {
	return &Store{db: db, q: db}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping reports backend health for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: postgres: %v", identity.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) Tenants() identity.TenantStore             { return &tenantStore{q: s.q} }
func (s *Store) Users() identity.UserStore                 { return &userStore{q: s.q} }
func (s *Store) AuthMethods() identity.AuthMethodStore     { return &authMethodStore{q: s.q} }
func (s *Store) RefreshTokens() identity.RefreshTokenStore { return &refreshTokenStore{q: s.q} }
func (s *Store) LoginAttempts() identity.LoginAttemptStore { return &loginAttemptStore{q: s.q} }
func (s *Store) Roles() identity.RoleStore                 { return &roleStore{q: s.q} }
func (s *Store) Permissions() identity.PermissionStore     { return &permissionStore{q: s.q} }
func (s *Store) Audit() identity.AuditStore                { return &auditStore{q: s.q} }

// WithinTx runs fn against a transaction-bound view of the store. Nested
// calls join the enclosing transaction rather than opening a new one.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx identity.Store) error) error {
	if _, inTx := s.q.(*sql.Tx); inTx {
		return fn(ctx, s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, &Store{db: s.db, q: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// --- helpers ---

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func mapWriteErr(err error) error {
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return identity.ErrConflict
		case pgErrForeignKeyViolation:
			return identity.ErrNotFound
		}
	}
	return err
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullStr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	v := nt.Time
	return &v
}
