package pg

import (
	"context"
	"database/sql"
	"errors"

	"gatehouse.org/internal/identity"
)

type roleStore struct {
	q querier
}

const roleColumns = `id, tenant_id, name, description, is_system_role, is_active, created_at, updated_at`

func (s *roleStore) Create(ctx context.Context, r *identity.Role) error {
	_, err := s.q.ExecContext(ctx, `
		insert into roles (id, tenant_id, name, description, is_system_role, is_active, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, r.ID, nullStr(r.TenantID), r.Name, r.Description, r.IsSystemRole, r.IsActive, r.CreatedAt, r.UpdatedAt)
	return mapWriteErr(err)
}

func (s *roleStore) Find(ctx context.Context, id string) (*identity.Role, error) {
	return s.findBy(ctx, `id = $1`, id)
}

func (s *roleStore) findBy(ctx context.Context, where string, args ...any) (*identity.Role, error) {
	row := s.q.QueryRowContext(ctx, `
		select `+roleColumns+`
		from roles
		where `+where, args...)
	role, err := scanRole(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return role, nil
}

// FindByNameInScope resolves a name inside one scope: the global namespace
// when tenantID is nil, a single tenant's namespace otherwise.
func (s *roleStore) FindByNameInScope(ctx context.Context, name string, tenantID *string) (*identity.Role, error) {
	if tenantID == nil {
		return s.findBy(ctx, `name = $1 and tenant_id is null`, name)
	}
	return s.findBy(ctx, `name = $1 and tenant_id = $2`, name, *tenantID)
}

func (s *roleStore) ListVisible(ctx context.Context, tenantID *string) ([]*identity.Role, error) {
	query := `select ` + roleColumns + ` from roles order by name`
	args := []any{}
	if tenantID != nil {
		query = `select ` + roleColumns + ` from roles where tenant_id = $1 or tenant_id is null order by name`
		args = append(args, *tenantID)
	}
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []*identity.Role
	for rows.Next() {
		role, err := scanRole(rows.Scan)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

func (s *roleStore) Update(ctx context.Context, r *identity.Role) error {
	res, err := s.q.ExecContext(ctx, `
		update roles
		set name = $2, description = $3, updated_at = $4
		where id = $1
	`, r.ID, r.Name, r.Description, r.UpdatedAt)
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

func (s *roleStore) SetActive(ctx context.Context, id string, active bool) error {
	res, err := s.q.ExecContext(ctx, `
		update roles set is_active = $2, updated_at = now() where id = $1
	`, id, active)
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

func (s *roleStore) Attach(ctx context.Context, roleID string, permissionIDs []string) error {
	for _, permID := range permissionIDs {
		if _, err := s.q.ExecContext(ctx, `
			insert into role_permissions (role_id, permission_id)
			values ($1, $2)
			on conflict do nothing
		`, roleID, permID); err != nil {
			return mapWriteErr(err)
		}
	}
	return nil
}

func (s *roleStore) Detach(ctx context.Context, roleID, permissionID string) error {
	res, err := s.q.ExecContext(ctx, `
		delete from role_permissions where role_id = $1 and permission_id = $2
	`, roleID, permissionID)
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

func (s *roleStore) PermissionsFor(ctx context.Context, roleID string) ([]identity.Permission, error) {
	rows, err := s.q.QueryContext(ctx, `
		select p.id, p.slug, coalesce(p.description, ''), p.created_at
		from role_permissions rp
		join permissions p on p.id = rp.permission_id
		where rp.role_id = $1
		order by p.slug
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []identity.Permission
	for rows.Next() {
		var p identity.Permission
		if err := rows.Scan(&p.ID, &p.Slug, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

func scanRole(scan func(dest ...any) error) (*identity.Role, error) {
	var (
		r      identity.Role
		tenant sql.NullString
		desc   sql.NullString
	)
	if err := scan(&r.ID, &tenant, &r.Name, &desc, &r.IsSystemRole, &r.IsActive, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.TenantID = strPtr(tenant)
	if desc.Valid {
		r.Description = desc.String
	}
	return &r, nil
}

type permissionStore struct {
	q querier
}

// Ensure makes the catalog contain every listed permission. Existing slugs
// keep their ids, so role attachments survive reseeding.
func (s *permissionStore) Ensure(ctx context.Context, perms []identity.Permission) error {
	for _, p := range perms {
		if _, err := s.q.ExecContext(ctx, `
			insert into permissions (id, slug, description, created_at)
			values ($1, $2, $3, $4)
			on conflict (slug) do nothing
		`, p.ID, p.Slug, p.Description, p.CreatedAt); err != nil {
			return err
		}
	}
	return nil
}

func (s *permissionStore) List(ctx context.Context) ([]identity.Permission, error) {
	return s.query(ctx, `
		select id, slug, coalesce(description, ''), created_at
		from permissions
		order by slug
	`)
}

func (s *permissionStore) FindByIDs(ctx context.Context, ids []string) ([]identity.Permission, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.query(ctx, `
		select id, slug, coalesce(description, ''), created_at
		from permissions
		where id = any($1)
		order by slug
	`, ids)
}

func (s *permissionStore) query(ctx context.Context, query string, args ...any) ([]identity.Permission, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []identity.Permission
	for rows.Next() {
		var p identity.Permission
		if err := rows.Scan(&p.ID, &p.Slug, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}
