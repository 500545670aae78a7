package identity

import (
	"context"
	"time"
)

// Store describes the persistence operations required by the identity core.
// Implementations must honor the uniqueness constraints enumerated on the
// domain types and surface violations as ErrConflict.
type Store interface {
	Tenants() TenantStore
	Users() UserStore
	AuthMethods() AuthMethodStore
	RefreshTokens() RefreshTokenStore
	LoginAttempts() LoginAttemptStore
	Roles() RoleStore
	Permissions() PermissionStore
	Audit() AuditStore

	// WithinTx runs fn against a transaction-bound view of the store. All
	// writes performed through the passed store commit or roll back as one
	// atomic unit.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}

// TenantStore manages tenants.
type TenantStore interface {
	Create(ctx context.Context, t *Tenant) error
	Find(ctx context.Context, id string) (*Tenant, error)
	FindByName(ctx context.Context, name string) (*Tenant, error)
	List(ctx context.Context) ([]*Tenant, error)
	UpdateStatus(ctx context.Context, id, status string) error
}

// UserStore manages users.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	// List returns every user when tenantID is nil, otherwise only the
	// tenant's own users.
	List(ctx context.Context, tenantID *string) ([]*User, error)
	Update(ctx context.Context, u *User) error
	UpdateStatus(ctx context.Context, id, status string) error
	// CountByRole returns the live number of users currently assigned the
	// role. Used as the in-use precondition before role deactivation.
	CountByRole(ctx context.Context, roleID string) (int, error)
}

// AuthMethodStore manages per-user authentication methods.
type AuthMethodStore interface {
	// Upsert creates or replaces the (user, type) row.
	Upsert(ctx context.Context, m *AuthMethod) error
	Find(ctx context.Context, userID, methodType string) (*AuthMethod, error)
	Delete(ctx context.Context, userID, methodType string) error
}

// RefreshTokenStore manages the session ledger.
type RefreshTokenStore interface {
	Create(ctx context.Context, t *RefreshToken) error
	Find(ctx context.Context, id string) (*RefreshToken, error)
	// Claim marks the record revoked iff it is still live. It returns false
	// when another rotation already claimed it, which callers must treat as
	// evidence of concurrent reuse.
	Claim(ctx context.Context, id string, at time.Time) (bool, error)
	SetReplacedBy(ctx context.Context, id, successorID string) error
	Revoke(ctx context.Context, id string, at time.Time) error
	RevokeAllForUser(ctx context.Context, userID string, at time.Time) error
	RevokeAllForTenant(ctx context.Context, tenantID string, at time.Time) error
	CountLiveForUser(ctx context.Context, userID string) (int, error)
}

// LoginAttemptStore appends forensic login records. Rows are never mutated.
type LoginAttemptStore interface {
	Create(ctx context.Context, a *LoginAttempt) error
}

// RoleStore manages roles and the role/permission mapping.
type RoleStore interface {
	Create(ctx context.Context, r *Role) error
	Find(ctx context.Context, id string) (*Role, error)
	// FindByNameInScope treats the global scope (nil tenantID) and each
	// tenant scope as independent namespaces.
	FindByNameInScope(ctx context.Context, name string, tenantID *string) (*Role, error)
	// ListVisible returns tenant-owned plus global roles for a tenant scope,
	// or every role when tenantID is nil.
	ListVisible(ctx context.Context, tenantID *string) ([]*Role, error)
	Update(ctx context.Context, r *Role) error
	SetActive(ctx context.Context, id string, active bool) error
	Attach(ctx context.Context, roleID string, permissionIDs []string) error
	Detach(ctx context.Context, roleID, permissionID string) error
	PermissionsFor(ctx context.Context, roleID string) ([]Permission, error)
}

// PermissionStore manages the global permission catalog.
type PermissionStore interface {
	Ensure(ctx context.Context, perms []Permission) error
	List(ctx context.Context) ([]Permission, error)
	FindByIDs(ctx context.Context, ids []string) ([]Permission, error)
}

// AuditStore appends immutable audit entries.
type AuditStore interface {
	Append(ctx context.Context, e *AuditEntry) error
}
