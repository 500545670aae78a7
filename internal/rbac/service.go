// Package rbac owns role and permission resolution with tenant-scoped
// visibility: a tenant actor sees its own roles plus global ones, a system
// actor sees everything, and mutation guards keep system roles and foreign
// tenants out of reach.
package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gatehouse.org/internal/identity"
	"gatehouse.org/internal/ids"
)

// Service provides role and permission operations for a resolved actor.
// Stateless between calls and safe for concurrent use.
type Service struct {
	store identity.Store
}

// NewService constructs the authorization resolver.
func NewService(store identity.Store) (*Service, error) {
	if store == nil {
		return nil, errors.New("rbac: store is required")
	}
	return &Service{store: store}, nil
}

// CreateRoleInput describes a role to create. A nil TenantID targets the
// actor's own scope (tenant actors) or the global scope (system actors).
type CreateRoleInput struct {
	Name          string
	Description   string
	TenantID      *string
	PermissionIDs []string
}

// RoleUpdate carries optional field updates.
type RoleUpdate struct {
	Name        *string
	Description *string
}

// RoleWithPermissions pairs a role with its resolved permission set.
type RoleWithPermissions struct {
	identity.Role
	Permissions []identity.Permission `json:"permissions"`
}

// EnsureBuiltins makes sure the predefined permission catalog exists. Fresh
// ids are minted per call; slugs already present keep their existing rows.
func (s *Service) EnsureBuiltins(ctx context.Context) error {
	perms := make([]identity.Permission, len(BuiltinPermissions))
	copy(perms, BuiltinPermissions)
	now := timeNow()
	for i := range perms {
		perms[i].ID = ids.New()
		perms[i].CreatedAt = now
	}
	return s.store.Permissions().Ensure(ctx, perms)
}

// Principal loads a user with its role and resolved permissions. Used by the
// boundary layer after decoding an access token.
func (s *Service) Principal(ctx context.Context, userID string) (identity.Principal, error) {
	user, err := s.store.Users().Find(ctx, userID)
	if err != nil {
		return identity.Principal{}, err
	}
	role, err := s.store.Roles().Find(ctx, user.RoleID)
	if err != nil {
		return identity.Principal{}, err
	}
	perms, err := s.store.Roles().PermissionsFor(ctx, role.ID)
	if err != nil {
		return identity.Principal{}, err
	}
	return identity.NewPrincipal(user, role, perms), nil
}

// VisibleRoles lists every role the actor may observe: tenant-owned plus
// global for tenant actors, all roles for system actors.
func (s *Service) VisibleRoles(ctx context.Context, actor identity.Principal) ([]*identity.Role, error) {
	return s.store.Roles().ListVisible(ctx, actor.TenantID())
}

// GetRole resolves a role through the visibility rule. A role outside the
// actor's scope is reported as not found, never as forbidden, so existence
// does not leak across tenant boundaries.
func (s *Service) GetRole(ctx context.Context, actor identity.Principal, roleID string) (RoleWithPermissions, error) {
	role, err := s.visibleRole(ctx, actor, roleID)
	if err != nil {
		return RoleWithPermissions{}, err
	}
	perms, err := s.store.Roles().PermissionsFor(ctx, role.ID)
	if err != nil {
		return RoleWithPermissions{}, err
	}
	return RoleWithPermissions{Role: *role, Permissions: perms}, nil
}

// ListPermissions returns the global permission catalog.
func (s *Service) ListPermissions(ctx context.Context) ([]identity.Permission, error) {
	return s.store.Permissions().List(ctx)
}

// CreateRole creates a role in the resolved scope. A system actor may target
// any tenant or the global scope; a tenant actor may only target its own
// tenant and can never produce a system role. Requested permission ids are
// validated all-or-nothing before anything is written.
func (s *Service) CreateRole(ctx context.Context, actor identity.Principal, input CreateRoleInput) (*identity.Role, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: role name is required", identity.ErrInvalidInput)
	}

	var tenantID *string
	isSystemRole := false
	if actor.IsSystem() {
		tenantID = input.TenantID
		isSystemRole = tenantID == nil
	} else {
		if input.TenantID != nil && *input.TenantID != *actor.TenantID() {
			return nil, fmt.Errorf("%w: cannot create role for another tenant", identity.ErrUnauthorized)
		}
		tenantID = actor.TenantID()
	}

	if tenantID != nil {
		if _, err := s.store.Tenants().Find(ctx, *tenantID); err != nil {
			if errors.Is(err, identity.ErrNotFound) {
				return nil, fmt.Errorf("%w: tenant", identity.ErrNotFound)
			}
			return nil, err
		}
	}

	existing, err := s.store.Roles().FindByNameInScope(ctx, name, tenantID)
	if err != nil && !errors.Is(err, identity.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: role name already used in scope", identity.ErrConflict)
	}

	permIDs := dedupe(input.PermissionIDs)
	if err := s.resolveAll(ctx, permIDs); err != nil {
		return nil, err
	}

	now := timeNow()
	role := &identity.Role{
		ID:           ids.New(),
		TenantID:     tenantID,
		Name:         name,
		Description:  strings.TrimSpace(input.Description),
		IsSystemRole: isSystemRole,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx identity.Store) error {
		if err := tx.Roles().Create(ctx, role); err != nil {
			return err
		}
		if len(permIDs) == 0 {
			return nil
		}
		return tx.Roles().Attach(ctx, role.ID, permIDs)
	})
	if err != nil {
		return nil, err
	}
	return role, nil
}

// UpdateRole renames or re-describes a role, keeping the per-scope name
// uniqueness invariant.
func (s *Service) UpdateRole(ctx context.Context, actor identity.Principal, roleID string, upd RoleUpdate) (*identity.Role, error) {
	role, err := s.visibleRole(ctx, actor, roleID)
	if err != nil {
		return nil, err
	}
	if err := s.guardMutation(actor, role); err != nil {
		return nil, err
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: role name is required", identity.ErrInvalidInput)
		}
		if name != role.Name {
			existing, err := s.store.Roles().FindByNameInScope(ctx, name, role.TenantID)
			if err != nil && !errors.Is(err, identity.ErrNotFound) {
				return nil, err
			}
			if existing != nil && existing.ID != role.ID {
				return nil, fmt.Errorf("%w: role name already used in scope", identity.ErrConflict)
			}
		}
		role.Name = name
	}
	if upd.Description != nil {
		role.Description = strings.TrimSpace(*upd.Description)
	}
	role.UpdatedAt = timeNow()
	if err := s.store.Roles().Update(ctx, role); err != nil {
		return nil, err
	}
	return role, nil
}

// DeactivateRole retires a role. Requires a live assignee count of zero:
// roles in use cannot be deactivated.
func (s *Service) DeactivateRole(ctx context.Context, actor identity.Principal, roleID string) (*identity.Role, error) {
	role, err := s.visibleRole(ctx, actor, roleID)
	if err != nil {
		return nil, err
	}
	if err := s.guardMutation(actor, role); err != nil {
		return nil, err
	}
	if !role.IsActive {
		return nil, fmt.Errorf("%w: role already inactive", identity.ErrConflict)
	}
	count, err := s.store.Users().CountByRole(ctx, role.ID)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, fmt.Errorf("%w: role is assigned to %d user(s)", identity.ErrConflict, count)
	}
	if err := s.store.Roles().SetActive(ctx, role.ID, false); err != nil {
		return nil, err
	}
	role.IsActive = false
	return role, nil
}

// ReactivateRole brings a retired role back. Reactivating an already active
// role is a conflict, not a silent success.
func (s *Service) ReactivateRole(ctx context.Context, actor identity.Principal, roleID string) (*identity.Role, error) {
	role, err := s.visibleRole(ctx, actor, roleID)
	if err != nil {
		return nil, err
	}
	if err := s.guardMutation(actor, role); err != nil {
		return nil, err
	}
	if role.IsActive {
		return nil, fmt.Errorf("%w: role already active", identity.ErrConflict)
	}
	if err := s.store.Roles().SetActive(ctx, role.ID, true); err != nil {
		return nil, err
	}
	role.IsActive = true
	return role, nil
}

// AttachPermissions grants additional permissions to an active role. If the
// whole requested set is already attached the call is a conflict, signaling
// caller error rather than silently succeeding.
func (s *Service) AttachPermissions(ctx context.Context, actor identity.Principal, roleID string, permissionIDs []string) error {
	role, err := s.mutableActiveRole(ctx, actor, roleID)
	if err != nil {
		return err
	}
	permIDs := dedupe(permissionIDs)
	if len(permIDs) == 0 {
		return fmt.Errorf("%w: permission ids are required", identity.ErrInvalidInput)
	}
	if err := s.resolveAll(ctx, permIDs); err != nil {
		return err
	}
	current, err := s.store.Roles().PermissionsFor(ctx, role.ID)
	if err != nil {
		return err
	}
	attached := make(map[string]struct{}, len(current))
	for _, p := range current {
		attached[p.ID] = struct{}{}
	}
	missing := permIDs[:0]
	for _, id := range permIDs {
		if _, ok := attached[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return fmt.Errorf("%w: permissions already attached", identity.ErrConflict)
	}
	return s.store.Roles().Attach(ctx, role.ID, missing)
}

// DetachPermission removes a permission that is currently attached.
func (s *Service) DetachPermission(ctx context.Context, actor identity.Principal, roleID, permissionID string) error {
	role, err := s.mutableActiveRole(ctx, actor, roleID)
	if err != nil {
		return err
	}
	current, err := s.store.Roles().PermissionsFor(ctx, role.ID)
	if err != nil {
		return err
	}
	found := false
	for _, p := range current {
		if p.ID == permissionID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: permission not attached", identity.ErrNotFound)
	}
	return s.store.Roles().Detach(ctx, role.ID, permissionID)
}

// --- helpers ---

// visibleRole applies the visibility rule: tenant actors observe their own
// and global roles only; anything else reads as absent.
func (s *Service) visibleRole(ctx context.Context, actor identity.Principal, roleID string) (*identity.Role, error) {
	role, err := s.store.Roles().Find(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if !actor.IsSystem() && role.TenantID != nil && *role.TenantID != *actor.TenantID() {
		return nil, identity.ErrNotFound
	}
	return role, nil
}

// guardMutation rejects tenant actors mutating system roles or roles they do
// not own. Visibility has already passed, so these are authorization errors.
func (s *Service) guardMutation(actor identity.Principal, role *identity.Role) error {
	if actor.IsSystem() {
		return nil
	}
	if role.IsSystemRole {
		return fmt.Errorf("%w: system roles are read-only for tenant actors", identity.ErrUnauthorized)
	}
	if role.TenantID == nil || *role.TenantID != *actor.TenantID() {
		return fmt.Errorf("%w: role is outside the actor's tenant", identity.ErrUnauthorized)
	}
	return nil
}

func (s *Service) mutableActiveRole(ctx context.Context, actor identity.Principal, roleID string) (*identity.Role, error) {
	role, err := s.visibleRole(ctx, actor, roleID)
	if err != nil {
		return nil, err
	}
	if err := s.guardMutation(actor, role); err != nil {
		return nil, err
	}
	if !role.IsActive {
		return nil, fmt.Errorf("%w: role is inactive", identity.ErrConflict)
	}
	return role, nil
}

// resolveAll fails the whole request when any permission id is unknown.
func (s *Service) resolveAll(ctx context.Context, permissionIDs []string) error {
	if len(permissionIDs) == 0 {
		return nil
	}
	perms, err := s.store.Permissions().FindByIDs(ctx, permissionIDs)
	if err != nil {
		return err
	}
	if len(perms) != len(permissionIDs) {
		return fmt.Errorf("%w: one or more permissions", identity.ErrNotFound)
	}
	return nil
}

// timeNow is swapped out in tests.
var timeNow = func() time.Time { return time.Now().UTC() }

func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
