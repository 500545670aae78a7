package identity

import "strings"

// Principal is a user with its resolved role and permission set, as handed to
// authorization checks after the boundary layer decoded an access token.
type Principal struct {
	User        *User
	Role        *Role
	Permissions map[string]struct{}
}

// NewPrincipal constructs a principal with preloaded permissions.
func NewPrincipal(user *User, role *Role, perms []Permission) Principal {
	set := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		set[p.Slug] = struct{}{}
	}
	return Principal{User: user, Role: role, Permissions: set}
}

// IsSystem reports whether the principal operates above all tenants.
func (p Principal) IsSystem() bool {
	return p.User != nil && p.User.TenantID == nil
}

// TenantID returns the principal's tenant scope, nil for system principals.
func (p Principal) TenantID() *string {
	if p.User == nil {
		return nil
	}
	return p.User.TenantID
}

// HasPermission reports whether the granted set satisfies the required slug,
// either exactly or through a resource-level wildcard.
func (p Principal) HasPermission(required string) bool {
	return SlugsAllow(p.Permissions, required)
}

// SlugsAllow checks a required "resource:action" slug against a granted set.
// "resource:*" among the granted slugs satisfies any action on that resource.
// There is no deeper hierarchy: "*:*" grants nothing.
func SlugsAllow(granted map[string]struct{}, required string) bool {
	if _, ok := granted[required]; ok {
		return true
	}
	resource, _, ok := strings.Cut(required, ":")
	if !ok || resource == "" || resource == "*" {
		return false
	}
	_, ok = granted[resource+":*"]
	return ok
}
