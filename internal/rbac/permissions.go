package rbac

import "gatehouse.org/internal/identity"

// Permission slugs checked by the boundary layer. Wildcards of the form
// "resource:*" grant every action on the resource.
const (
	PermTenantsCreate = "tenants:create"
	PermTenantsRead   = "tenants:read"
	PermTenantsUpdate = "tenants:update"

	PermUsersCreate = "users:create"
	PermUsersRead   = "users:read"
	PermUsersUpdate = "users:update"

	PermRolesCreate = "roles:create"
	PermRolesRead   = "roles:read"
	PermRolesUpdate = "roles:update"

	PermPermissionsRead = "permissions:read"

	PermSessionsRevoke = "sessions:revoke"
)

// BuiltinPermissions seeds the global permission catalog.
var BuiltinPermissions = []identity.Permission{
	{Slug: PermTenantsCreate, Description: "Create tenants"},
	{Slug: PermTenantsRead, Description: "View tenants"},
	{Slug: PermTenantsUpdate, Description: "Update and deactivate tenants"},
	{Slug: PermUsersCreate, Description: "Create users"},
	{Slug: PermUsersRead, Description: "View users"},
	{Slug: PermUsersUpdate, Description: "Update and deactivate users"},
	{Slug: PermRolesCreate, Description: "Create roles"},
	{Slug: PermRolesRead, Description: "View roles and their permissions"},
	{Slug: PermRolesUpdate, Description: "Update, deactivate and regrant roles"},
	{Slug: PermPermissionsRead, Description: "View the permission catalog"},
	{Slug: PermSessionsRevoke, Description: "Revoke user and tenant sessions"},
}
