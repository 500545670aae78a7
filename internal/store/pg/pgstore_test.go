package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"gatehouse.org/internal/identity"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func TestTenantFindNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select id, name, status, created_at, updated_at.*from tenants").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "status", "created_at", "updated_at"}))

	_, err := store.Tenants().Find(context.Background(), "missing")
	if !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserCreateMapsUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("insert into users").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	now := time.Now().UTC()
	err := store.Users().Create(context.Background(), &identity.User{
		ID:        "u1",
		Email:     "dupe@example.com",
		Status:    identity.UserStatusActive,
		RoleID:    "r1",
		CreatedAt: now,
		UpdatedAt: now,
	})
	if !errors.Is(err, identity.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestUserCreateMapsForeignKeyViolation(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("insert into users").
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})

	err := store.Users().Create(context.Background(), &identity.User{ID: "u1", RoleID: "ghost"})
	if !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRefreshTokenClaim(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Now().UTC()

	mock.ExpectExec("update refresh_tokens.*set revoked_at.*revoked_at is null and replaced_by is null").
		WithArgs("tok1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	claimed, err := store.RefreshTokens().Claim(context.Background(), "tok1", at)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if !claimed {
		t.Fatalf("expected live token to be claimed")
	}

	mock.ExpectExec("update refresh_tokens.*set revoked_at").
		WithArgs("tok1", at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	claimed, err = store.RefreshTokens().Claim(context.Background(), "tok1", at)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if claimed {
		t.Fatalf("second claim of the same token must lose")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRefreshTokenFindScansNullables(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Now().UTC().Add(-time.Hour)
	expires := created.Add(24 * time.Hour)

	mock.ExpectQuery("select id, user_id, tenant_id, token_hash, expires_at, revoked_at, replaced_by, created_at.*from refresh_tokens").
		WithArgs("tok1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "tenant_id", "token_hash", "expires_at", "revoked_at", "replaced_by", "created_at"}).
			AddRow("tok1", "u1", nil, "hash", expires, nil, nil, created))

	token, err := store.RefreshTokens().Find(context.Background(), "tok1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if token.TenantID != nil || token.RevokedAt != nil || token.ReplacedBy != nil {
		t.Fatalf("expected nil nullable fields, got %+v", token)
	}
	if !token.Live() {
		t.Fatalf("expected live token")
	}
}

func TestRoleListVisibleIncludesGlobal(t *testing.T) {
	store, mock := newMockStore(t)
	tenantID := "t1"
	now := time.Now().UTC()

	mock.ExpectQuery("from roles.*where tenant_id = .* or tenant_id is null").
		WithArgs(tenantID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "name", "description", "is_system_role", "is_active", "created_at", "updated_at"}).
			AddRow("r1", tenantID, "editor", nil, false, true, now, now).
			AddRow("r2", nil, "admin", "built in", true, true, now, now))

	roles, err := store.Roles().ListVisible(context.Background(), &tenantID)
	if err != nil {
		t.Fatalf("ListVisible: %v", err)
	}
	if len(roles) != 2 {
		t.Fatalf("expected 2 roles, got %d", len(roles))
	}
	if roles[0].TenantID == nil || *roles[0].TenantID != tenantID {
		t.Fatalf("expected tenant-owned role first, got %+v", roles[0])
	}
	if roles[1].TenantID != nil {
		t.Fatalf("expected global role, got %+v", roles[1])
	}
}

func TestWithinTxCommitsOnSuccess(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec("update refresh_tokens").
		WithArgs("old", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into refresh_tokens").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("update refresh_tokens set replaced_by").
		WithArgs("old", "new").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.WithinTx(context.Background(), func(ctx context.Context, tx identity.Store) error {
		claimed, err := tx.RefreshTokens().Claim(ctx, "old", at)
		if err != nil {
			return err
		}
		if !claimed {
			t.Fatalf("expected claim to succeed")
		}
		if err := tx.RefreshTokens().Create(ctx, &identity.RefreshToken{
			ID: "new", UserID: "u1", TokenHash: "h", ExpiresAt: at.Add(time.Hour), CreatedAt: at,
		}); err != nil {
			return err
		}
		return tx.RefreshTokens().SetReplacedBy(ctx, "old", "new")
	})
	if err != nil {
		t.Fatalf("WithinTx: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("insert into tenants").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})
	mock.ExpectRollback()

	err := store.WithinTx(context.Background(), func(ctx context.Context, tx identity.Store) error {
		return tx.Tenants().Create(ctx, &identity.Tenant{ID: "t1", Name: "acme"})
	})
	if !errors.Is(err, identity.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAuthMethodUpsertAndFind(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectExec("insert into auth_methods.*on conflict \\(user_id, auth_type\\) do update").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.AuthMethods().Upsert(context.Background(), &identity.AuthMethod{
		ID:        "m1",
		UserID:    "u1",
		Type:      identity.AuthMethodOTP,
		Metadata:  map[string]string{"totp_secret": "ABC123"},
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	mock.ExpectQuery("select id, user_id, auth_type, password_hash, metadata.*from auth_methods").
		WithArgs("u1", identity.AuthMethodOTP).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "auth_type", "password_hash", "metadata", "created_at", "updated_at"}).
			AddRow("m1", "u1", identity.AuthMethodOTP, nil, []byte(`{"totp_secret":"ABC123"}`), now, now))

	method, err := store.AuthMethods().Find(context.Background(), "u1", identity.AuthMethodOTP)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if method.Metadata["totp_secret"] != "ABC123" {
		t.Fatalf("metadata not decoded: %+v", method.Metadata)
	}
}

func TestUserCountByRoleExcludesDeactivated(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select count.*from users where role_id = .* and status <>").
		WithArgs("r1", identity.UserStatusDeactivated).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := store.Users().CountByRole(context.Background(), "r1")
	if err != nil {
		t.Fatalf("CountByRole: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3, got %d", count)
	}
}

// The optional text columns carry not-null defaults in the schema, so empty
// values must go over the wire as empty strings, never as SQL NULL.
func TestOptionalTextColumnsWrittenAsEmptyStrings(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectExec("insert into login_attempts").
		WithArgs("la1", "a@example.com", "password", false, nil, nil, "", "", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	err := store.LoginAttempts().Create(context.Background(), &identity.LoginAttempt{
		ID:         "la1",
		Email:      "a@example.com",
		Method:     "password",
		Successful: false,
		CreatedAt:  now,
	})
	if err != nil {
		t.Fatalf("LoginAttempts.Create: %v", err)
	}

	mock.ExpectExec("insert into roles").
		WithArgs("r1", nil, "ops", "", false, true, now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	err = store.Roles().Create(context.Background(), &identity.Role{
		ID:        "r1",
		Name:      "ops",
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("Roles.Create: %v", err)
	}

	mock.ExpectExec("insert into audit_log").
		WithArgs("a1", nil, nil, "tenant.create", "tenant", "", []byte("{}"), "", "", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	err = store.Audit().Append(context.Background(), &identity.AuditEntry{
		ID:           "a1",
		Action:       "tenant.create",
		ResourceType: "tenant",
		OccurredAt:   now,
	})
	if err != nil {
		t.Fatalf("Audit.Append: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
