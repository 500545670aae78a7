package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"gatehouse.org/internal/identity"
)

type refreshTokenStore struct {
	q querier
}

const refreshTokenColumns = `id, user_id, tenant_id, token_hash, expires_at, revoked_at, replaced_by, created_at`

func (s *refreshTokenStore) Create(ctx context.Context, t *identity.RefreshToken) error {
	_, err := s.q.ExecContext(ctx, `
		insert into refresh_tokens (id, user_id, tenant_id, token_hash, expires_at, created_at)
		values ($1, $2, $3, $4, $5, $6)
	`, t.ID, t.UserID, nullStr(t.TenantID), t.TokenHash, t.ExpiresAt, t.CreatedAt)
	return mapWriteErr(err)
}

func (s *refreshTokenStore) Find(ctx context.Context, id string) (*identity.RefreshToken, error) {
	var (
		t          identity.RefreshToken
		tenant     sql.NullString
		revokedAt  sql.NullTime
		replacedBy sql.NullString
	)
	err := s.q.QueryRowContext(ctx, `
		select `+refreshTokenColumns+`
		from refresh_tokens
		where id = $1
	`, id).Scan(&t.ID, &t.UserID, &tenant, &t.TokenHash, &t.ExpiresAt, &revokedAt, &replacedBy, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.TenantID = strPtr(tenant)
	t.RevokedAt = timePtr(revokedAt)
	t.ReplacedBy = strPtr(replacedBy)
	return &t, nil
}

// Claim revokes the record only while it is still live. The conditional
// update is the serialization point: of two concurrent rotations of the same
// token exactly one observes an affected row.
func (s *refreshTokenStore) Claim(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
		update refresh_tokens
		set revoked_at = $2
		where id = $1 and revoked_at is null and replaced_by is null
	`, id, at)
	if err != nil {
		return false, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return aff == 1, nil
}

func (s *refreshTokenStore) SetReplacedBy(ctx context.Context, id, successorID string) error {
	res, err := s.q.ExecContext(ctx, `
		update refresh_tokens set replaced_by = $2 where id = $1
	`, id, successorID)
	if err != nil {
		return mapWriteErr(err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return identity.ErrNotFound
	}
	return nil
}

func (s *refreshTokenStore) Revoke(ctx context.Context, id string, at time.Time) error {
	_, err := s.q.ExecContext(ctx, `
		update refresh_tokens set revoked_at = $2 where id = $1 and revoked_at is null
	`, id, at)
	return err
}

func (s *refreshTokenStore) RevokeAllForUser(ctx context.Context, userID string, at time.Time) error {
	_, err := s.q.ExecContext(ctx, `
		update refresh_tokens set revoked_at = $2 where user_id = $1 and revoked_at is null
	`, userID, at)
	return err
}

func (s *refreshTokenStore) RevokeAllForTenant(ctx context.Context, tenantID string, at time.Time) error {
	_, err := s.q.ExecContext(ctx, `
		update refresh_tokens set revoked_at = $2 where tenant_id = $1 and revoked_at is null
	`, tenantID, at)
	return err
}

func (s *refreshTokenStore) CountLiveForUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.q.QueryRowContext(ctx, `
		select count(*)
		from refresh_tokens
		where user_id = $1 and revoked_at is null and replaced_by is null and expires_at > now()
	`, userID).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

type loginAttemptStore struct {
	q querier
}

func (s *loginAttemptStore) Create(ctx context.Context, a *identity.LoginAttempt) error {
	_, err := s.q.ExecContext(ctx, `
		insert into login_attempts (id, email, method, successful, tenant_id, user_id, ip_address, user_agent, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, a.ID, a.Email, a.Method, a.Successful, nullStr(a.TenantID), nullStr(a.UserID), a.IPAddress, a.UserAgent, a.CreatedAt)
	return err
}
