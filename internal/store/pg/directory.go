package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"gatehouse.org/internal/identity"
)

type tenantStore struct {
	q querier
}

func (s *tenantStore) Create(ctx context.Context, t *identity.Tenant) error {
	_, err := s.q.ExecContext(ctx, `
		insert into tenants (id, name, status, created_at, updated_at)
		values ($1, $2, $3, $4, $5)
	`, t.ID, t.Name, t.Status, t.CreatedAt, t.UpdatedAt)
	return mapWriteErr(err)
}

func (s *tenantStore) Find(ctx context.Context, id string) (*identity.Tenant, error) {
	return s.findBy(ctx, `id = $1`, id)
}

func (s *tenantStore) FindByName(ctx context.Context, name string) (*identity.Tenant, error) {
	return s.findBy(ctx, `name = $1`, name)
}

func (s *tenantStore) findBy(ctx context.Context, where string, arg any) (*identity.Tenant, error) {
	var t identity.Tenant
	err := s.q.QueryRowContext(ctx, `
		select id, name, status, created_at, updated_at
		from tenants
		where `+where, arg).Scan(&t.ID, &t.Name, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *tenantStore) List(ctx context.Context) ([]*identity.Tenant, error) {
	rows, err := s.q.QueryContext(ctx, `
		select id, name, status, created_at, updated_at
		from tenants
		order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tenants []*identity.Tenant
	for rows.Next() {
		var t identity.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		tenants = append(tenants, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tenants, nil
}

func (s *tenantStore) UpdateStatus(ctx context.Context, id, status string) error {
	res, err := s.q.ExecContext(ctx, `
		update tenants set status = $2, updated_at = now() where id = $1
	`, id, status)
	if err != nil {
		return err
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

type userStore struct {
	q querier
}

const userColumns = `id, tenant_id, email, first_name, last_name, status, role_id, created_at, updated_at`

func (s *userStore) Create(ctx context.Context, u *identity.User) error {
	_, err := s.q.ExecContext(ctx, `
		insert into users (id, tenant_id, email, first_name, last_name, status, role_id, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, u.ID, nullStr(u.TenantID), u.Email, u.FirstName, u.LastName, u.Status, u.RoleID, u.CreatedAt, u.UpdatedAt)
	return mapWriteErr(err)
}

func (s *userStore) Find(ctx context.Context, id string) (*identity.User, error) {
	return s.findBy(ctx, `id = $1`, id)
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*identity.User, error) {
	return s.findBy(ctx, `email = $1`, email)
}

func (s *userStore) findBy(ctx context.Context, where string, arg any) (*identity.User, error) {
	var (
		u      identity.User
		tenant sql.NullString
	)
	err := s.q.QueryRowContext(ctx, `
		select `+userColumns+`
		from users
		where `+where, arg).Scan(
		&u.ID, &tenant, &u.Email, &u.FirstName, &u.LastName, &u.Status, &u.RoleID, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.TenantID = strPtr(tenant)
	return &u, nil
}

func (s *userStore) List(ctx context.Context, tenantID *string) ([]*identity.User, error) {
	query := `select ` + userColumns + ` from users order by email`
	args := []any{}
	if tenantID != nil {
		query = `select ` + userColumns + ` from users where tenant_id = $1 order by email`
		args = append(args, *tenantID)
	}
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*identity.User
	for rows.Next() {
		var (
			u      identity.User
			tenant sql.NullString
		)
		if err := rows.Scan(&u.ID, &tenant, &u.Email, &u.FirstName, &u.LastName, &u.Status, &u.RoleID, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		u.TenantID = strPtr(tenant)
		users = append(users, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *userStore) Update(ctx context.Context, u *identity.User) error {
	res, err := s.q.ExecContext(ctx, `
		update users
		set first_name = $2, last_name = $3, status = $4, role_id = $5, updated_at = $6
		where id = $1
	`, u.ID, u.FirstName, u.LastName, u.Status, u.RoleID, u.UpdatedAt)
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

func (s *userStore) UpdateStatus(ctx context.Context, id, status string) error {
	res, err := s.q.ExecContext(ctx, `
		update users set status = $2, updated_at = now() where id = $1
	`, id, status)
	if err != nil {
		return err
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

func (s *userStore) CountByRole(ctx context.Context, roleID string) (int, error) {
	var count int
	err := s.q.QueryRowContext(ctx, `
		select count(*) from users where role_id = $1 and status <> $2
	`, roleID, identity.UserStatusDeactivated).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

type authMethodStore struct {
	q querier
}

// Upsert replaces the (user, type) row in place, preserving created_at.
func (s *authMethodStore) Upsert(ctx context.Context, m *identity.AuthMethod) error {
	meta := []byte("{}")
	if len(m.Metadata) > 0 {
		bytes, err := json.Marshal(m.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		meta = bytes
	}
	_, err := s.q.ExecContext(ctx, `
		insert into auth_methods (id, user_id, auth_type, password_hash, metadata, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7)
		on conflict (user_id, auth_type) do update
		set password_hash = excluded.password_hash,
		    metadata = excluded.metadata,
		    updated_at = excluded.updated_at
	`, m.ID, m.UserID, m.Type, nullIfEmpty(m.PasswordHash), meta, m.CreatedAt, m.UpdatedAt)
	return mapWriteErr(err)
}

func (s *authMethodStore) Find(ctx context.Context, userID, methodType string) (*identity.AuthMethod, error) {
	var (
		m    identity.AuthMethod
		hash sql.NullString
		meta []byte
	)
	err := s.q.QueryRowContext(ctx, `
		select id, user_id, auth_type, password_hash, metadata, created_at, updated_at
		from auth_methods
		where user_id = $1 and auth_type = $2
	`, userID, methodType).Scan(&m.ID, &m.UserID, &m.Type, &hash, &meta, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if hash.Valid {
		m.PasswordHash = hash.String
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &m.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &m, nil
}

func (s *authMethodStore) Delete(ctx context.Context, userID, methodType string) error {
	res, err := s.q.ExecContext(ctx, `
		delete from auth_methods where user_id = $1 and auth_type = $2
	`, userID, methodType)
	if err != nil {
		return err
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
