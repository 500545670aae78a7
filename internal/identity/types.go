package identity

import "time"

// Tenant statuses. Deactivation is a soft status flip and is reversible.
const (
	TenantStatusActive   = "active"
	TenantStatusInactive = "inactive"
)

// User statuses.
const (
	UserStatusPending     = "pending"
	UserStatusActive      = "active"
	UserStatusDeactivated = "deactivated"
)

// Auth method types stored per user. At most one row per type per user.
const (
	AuthMethodPassword = "password"
	AuthMethodOTP      = "otp"
)

// Tenant is the isolation boundary grouping users and tenant-scoped roles.
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User is an authenticatable principal. Email is unique globally, not per
// tenant. A nil TenantID marks a system-scope user unbound by any tenant.
type User struct {
	ID        string    `json:"id"`
	TenantID  *string   `json:"tenant_id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name,omitempty"`
	LastName  string    `json:"last_name,omitempty"`
	Status    string    `json:"status"`
	RoleID    string    `json:"role_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AuthMethod stores one way a user can authenticate: a password hash, or
// opaque provider/OTP metadata such as a TOTP secret.
type AuthMethod struct {
	ID           string            `json:"id"`
	UserID       string            `json:"user_id"`
	Type         string            `json:"type"`
	PasswordHash string            `json:"-"`
	Metadata     map[string]string `json:"-"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// RefreshToken is a persisted session credential. Only the SHA-256 of the
// opaque secret is stored. TenantID is denormalized from the owning user for
// fast tenant-wide revocation. ReplacedBy links a rotated record to its
// successor; a non-nil value means the secret must never be accepted again.
type RefreshToken struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	TenantID   *string    `json:"tenant_id"`
	TokenHash  string     `json:"-"`
	ExpiresAt  time.Time  `json:"expires_at"`
	RevokedAt  *time.Time `json:"revoked_at"`
	ReplacedBy *string    `json:"replaced_by"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Live reports whether the record can still be exchanged (ignoring expiry).
func (t RefreshToken) Live() bool {
	return t.RevokedAt == nil && t.ReplacedBy == nil
}

// LoginAttempt is an append-only forensic record. Email is the raw attempted
// value, not a foreign key, so attempts against nonexistent users survive.
type LoginAttempt struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Method     string    `json:"method"`
	Successful bool      `json:"successful"`
	TenantID   *string   `json:"tenant_id"`
	UserID     *string   `json:"user_id"`
	IPAddress  string    `json:"ip_address,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Permission is an atomic capability identified by a slug of the form
// "resource:action", or the resource wildcard "resource:*". Global, never
// tenant-scoped.
type Permission struct {
	ID          string    `json:"id"`
	Slug        string    `json:"slug"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Role bundles permissions. A nil TenantID means a global role visible to
// every tenant; IsSystemRole marks roles only a system actor may mutate.
type Role struct {
	ID           string    `json:"id"`
	TenantID     *string   `json:"tenant_id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	IsSystemRole bool      `json:"is_system_role"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AuditEntry is an append-only record of a mutating action. The core only
// ever writes these; it never reads them back.
type AuditEntry struct {
	ID           string         `json:"id"`
	TenantID     *string        `json:"tenant_id"`
	ActorID      *string        `json:"actor_id"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
	IPAddress    string         `json:"ip_address,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	OccurredAt   time.Time      `json:"occurred_at"`
}

// RequestMeta carries network metadata recorded for forensic purposes only.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}
