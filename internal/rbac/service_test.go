package rbac

import (
	"context"
	"errors"
	"testing"

	"gatehouse.org/internal/identity"
	"gatehouse.org/internal/identity/identitytest"
)

func systemActor() identity.Principal {
	return identity.NewPrincipal(
		&identity.User{ID: "sys-user", Status: identity.UserStatusActive, RoleID: "sys-role"},
		&identity.Role{ID: "sys-role", Name: "platform-admin", IsSystemRole: true, IsActive: true},
		nil,
	)
}

func tenantActor(tenantID string) identity.Principal {
	return identity.NewPrincipal(
		&identity.User{ID: "tenant-user", TenantID: &tenantID, Status: identity.UserStatusActive, RoleID: "tenant-role"},
		&identity.Role{ID: "tenant-role", Name: "admin", TenantID: &tenantID, IsActive: true},
		nil,
	)
}

func newRBAC(t *testing.T) (*Service, *identitytest.Store) {
	t.Helper()
	store := identitytest.New()
	store.AddTenant(identity.Tenant{ID: "t1", Name: "acme", Status: identity.TenantStatusActive})
	store.AddTenant(identity.Tenant{ID: "t2", Name: "globex", Status: identity.TenantStatusActive})
	svc, err := NewService(store)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, store
}

func TestEnsureBuiltins(t *testing.T) {
	svc, _ := newRBAC(t)

	if err := svc.EnsureBuiltins(context.Background()); err != nil {
		t.Fatalf("EnsureBuiltins: %v", err)
	}
	// Idempotent.
	if err := svc.EnsureBuiltins(context.Background()); err != nil {
		t.Fatalf("second EnsureBuiltins: %v", err)
	}

	perms, err := svc.ListPermissions(context.Background())
	if err != nil {
		t.Fatalf("ListPermissions: %v", err)
	}
	if len(perms) != len(BuiltinPermissions) {
		t.Fatalf("expected %d builtins, got %d", len(BuiltinPermissions), len(perms))
	}
}

func TestCreateRoleScopeResolution(t *testing.T) {
	svc, _ := newRBAC(t)
	tenantID := "t1"
	otherTenant := "t2"

	// System actor, no tenant: global system role.
	global, err := svc.CreateRole(context.Background(), systemActor(), CreateRoleInput{Name: "auditor"})
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if global.TenantID != nil || !global.IsSystemRole {
		t.Fatalf("expected global system role, got %+v", global)
	}

	// System actor targeting a tenant: plain tenant role.
	scoped, err := svc.CreateRole(context.Background(), systemActor(), CreateRoleInput{Name: "auditor", TenantID: &tenantID})
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if scoped.TenantID == nil || *scoped.TenantID != tenantID || scoped.IsSystemRole {
		t.Fatalf("expected tenant role, got %+v", scoped)
	}

	// Tenant actor defaults to its own tenant.
	own, err := svc.CreateRole(context.Background(), tenantActor(tenantID), CreateRoleInput{Name: "editor"})
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if own.TenantID == nil || *own.TenantID != tenantID || own.IsSystemRole {
		t.Fatalf("expected own-tenant role, got %+v", own)
	}

	// Tenant actor may not target another tenant.
	_, err = svc.CreateRole(context.Background(), tenantActor(tenantID), CreateRoleInput{Name: "editor", TenantID: &otherTenant})
	if !errors.Is(err, identity.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestCreateRoleNameUniquePerScope(t *testing.T) {
	svc, _ := newRBAC(t)
	tenantID := "t1"
	otherTenant := "t2"

	if _, err := svc.CreateRole(context.Background(), systemActor(), CreateRoleInput{Name: "editor", TenantID: &tenantID}); err != nil {
		t.Fatalf("CreateRole: %v", err)
	}

	// Same name inside the same scope conflicts.
	_, err := svc.CreateRole(context.Background(), systemActor(), CreateRoleInput{Name: "editor", TenantID: &tenantID})
	if !errors.Is(err, identity.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	// Same name in another tenant or globally is fine.
	if _, err := svc.CreateRole(context.Background(), systemActor(), CreateRoleInput{Name: "editor", TenantID: &otherTenant}); err != nil {
		t.Fatalf("other tenant scope: %v", err)
	}
	if _, err := svc.CreateRole(context.Background(), systemActor(), CreateRoleInput{Name: "editor"}); err != nil {
		t.Fatalf("global scope: %v", err)
	}
}

func TestCreateRoleUnknownPermissionAllOrNothing(t *testing.T) {
	svc, store := newRBAC(t)
	store.AddPermission(identity.Permission{ID: "p1", Slug: "users:read"})

	_, err := svc.CreateRole(context.Background(), systemActor(), CreateRoleInput{
		Name:          "viewer",
		PermissionIDs: []string{"p1", "ghost"},
	})
	if !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// Nothing was written.
	roles, err := svc.VisibleRoles(context.Background(), systemActor())
	if err != nil {
		t.Fatalf("VisibleRoles: %v", err)
	}
	if len(roles) != 0 {
		t.Fatalf("expected no roles, got %+v", roles)
	}
}

func TestRoleVisibility(t *testing.T) {
	svc, _ := newRBAC(t)
	tenantID := "t1"
	otherTenant := "t2"

	global, _ := svc.CreateRole(context.Background(), systemActor(), CreateRoleInput{Name: "auditor"})
	mine, _ := svc.CreateRole(context.Background(), systemActor(), CreateRoleInput{Name: "editor", TenantID: &tenantID})
	foreign, _ := svc.CreateRole(context.Background(), systemActor(), CreateRoleInput{Name: "editor", TenantID: &otherTenant})

	roles, err := svc.VisibleRoles(context.Background(), tenantActor(tenantID))
	if err != nil {
		t.Fatalf("VisibleRoles: %v", err)
	}
	if len(roles) != 2 {
		t.Fatalf("tenant actor must see own + global, got %d", len(roles))
	}

	if _, err := svc.GetRole(context.Background(), tenantActor(tenantID), global.ID); err != nil {
		t.Fatalf("global role must be visible: %v", err)
	}
	if _, err := svc.GetRole(context.Background(), tenantActor(tenantID), mine.ID); err != nil {
		t.Fatalf("own role must be visible: %v", err)
	}
	// Foreign roles read as absent, not forbidden.
	if _, err := svc.GetRole(context.Background(), tenantActor(tenantID), foreign.ID); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGuardMutationOnSystemRole(t *testing.T) {
	svc, _ := newRBAC(t)
	tenantID := "t1"

	global, _ := svc.CreateRole(context.Background(), systemActor(), CreateRoleInput{Name: "auditor"})

	name := "renamed"
	_, err := svc.UpdateRole(context.Background(), tenantActor(tenantID), global.ID, RoleUpdate{Name: &name})
	if !errors.Is(err, identity.ErrUnauthorized) {
		t.Fatalf("tenant actor mutating a system role: expected ErrUnauthorized, got %v", err)
	}

	// The system actor may.
	updated, err := svc.UpdateRole(context.Background(), systemActor(), global.ID, RoleUpdate{Name: &name})
	if err != nil {
		t.Fatalf("UpdateRole: %v", err)
	}
	if updated.Name != "renamed" {
		t.Fatalf("unexpected name: %s", updated.Name)
	}
}

func TestDeactivateRoleInUse(t *testing.T) {
	svc, store := newRBAC(t)
	tenantID := "t1"

	role, _ := svc.CreateRole(context.Background(), systemActor(), CreateRoleInput{Name: "editor", TenantID: &tenantID})
	store.AddUser(identity.User{ID: "u1", TenantID: &tenantID, Email: "jane@example.com", Status: identity.UserStatusActive, RoleID: role.ID})

	_, err := svc.DeactivateRole(context.Background(), systemActor(), role.ID)
	if !errors.Is(err, identity.ErrConflict) {
		t.Fatalf("role in use: expected ErrConflict, got %v", err)
	}

	// Deactivated assignees do not block.
	store.AddUser(identity.User{ID: "u1", TenantID: &tenantID, Email: "jane@example.com", Status: identity.UserStatusDeactivated, RoleID: role.ID})
	got, err := svc.DeactivateRole(context.Background(), systemActor(), role.ID)
	if err != nil {
		t.Fatalf("DeactivateRole: %v", err)
	}
	if got.IsActive {
		t.Fatalf("expected inactive role")
	}

	if _, err := svc.DeactivateRole(context.Background(), systemActor(), role.ID); !errors.Is(err, identity.ErrConflict) {
		t.Fatalf("double deactivate: expected ErrConflict, got %v", err)
	}
	if _, err := svc.ReactivateRole(context.Background(), systemActor(), role.ID); err != nil {
		t.Fatalf("ReactivateRole: %v", err)
	}
	if _, err := svc.ReactivateRole(context.Background(), systemActor(), role.ID); !errors.Is(err, identity.ErrConflict) {
		t.Fatalf("double reactivate: expected ErrConflict, got %v", err)
	}
}

func TestAttachDetachPermissions(t *testing.T) {
	svc, store := newRBAC(t)
	store.AddPermission(identity.Permission{ID: "p1", Slug: "users:read"})
	store.AddPermission(identity.Permission{ID: "p2", Slug: "users:create"})

	role, err := svc.CreateRole(context.Background(), systemActor(), CreateRoleInput{
		Name:          "viewer",
		PermissionIDs: []string{"p1"},
	})
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}

	// Attaching an already attached set is a conflict.
	err = svc.AttachPermissions(context.Background(), systemActor(), role.ID, []string{"p1"})
	if !errors.Is(err, identity.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	// A mixed set attaches only the missing permissions.
	if err := svc.AttachPermissions(context.Background(), systemActor(), role.ID, []string{"p1", "p2"}); err != nil {
		t.Fatalf("AttachPermissions: %v", err)
	}
	got, err := svc.GetRole(context.Background(), systemActor(), role.ID)
	if err != nil {
		t.Fatalf("GetRole: %v", err)
	}
	if len(got.Permissions) != 2 {
		t.Fatalf("expected 2 permissions, got %+v", got.Permissions)
	}

	if err := svc.DetachPermission(context.Background(), systemActor(), role.ID, "p2"); err != nil {
		t.Fatalf("DetachPermission: %v", err)
	}
	err = svc.DetachPermission(context.Background(), systemActor(), role.ID, "p2")
	if !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("detach of unattached permission: expected ErrNotFound, got %v", err)
	}
}

func TestAttachPermissionsToInactiveRole(t *testing.T) {
	svc, store := newRBAC(t)
	store.AddPermission(identity.Permission{ID: "p1", Slug: "users:read"})

	role, _ := svc.CreateRole(context.Background(), systemActor(), CreateRoleInput{Name: "viewer"})
	if _, err := svc.DeactivateRole(context.Background(), systemActor(), role.ID); err != nil {
		t.Fatalf("DeactivateRole: %v", err)
	}

	err := svc.AttachPermissions(context.Background(), systemActor(), role.ID, []string{"p1"})
	if !errors.Is(err, identity.ErrConflict) {
		t.Fatalf("inactive role: expected ErrConflict, got %v", err)
	}
}

func TestPrincipalResolvesRoleAndPermissions(t *testing.T) {
	svc, store := newRBAC(t)
	tenantID := "t1"
	store.AddPermission(identity.Permission{ID: "p1", Slug: "users:read"})

	role, err := svc.CreateRole(context.Background(), systemActor(), CreateRoleInput{
		Name:          "viewer",
		TenantID:      &tenantID,
		PermissionIDs: []string{"p1"},
	})
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	store.AddUser(identity.User{ID: "u1", TenantID: &tenantID, Email: "jane@example.com", Status: identity.UserStatusActive, RoleID: role.ID})

	principal, err := svc.Principal(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Principal: %v", err)
	}
	if principal.Role == nil || principal.Role.ID != role.ID {
		t.Fatalf("unexpected role: %+v", principal.Role)
	}
	if !principal.HasPermission("users:read") {
		t.Fatalf("expected users:read")
	}
	if principal.HasPermission("users:create") {
		t.Fatalf("users:create was never granted")
	}
}
