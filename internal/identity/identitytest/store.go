// Package identitytest provides an in-memory identity.Store for tests.
package identitytest

import (
	"context"
	"sync"
	"time"

	"gatehouse.org/internal/identity"
)

// Store keeps everything in maps guarded by one mutex. WithinTx provides
// the same callback shape as the real store but no rollback; tests that
// care about atomicity assert on the observable end state.
type Store struct {
	mu sync.Mutex

	tenants     map[string]*identity.Tenant
	users       map[string]*identity.User
	methods     map[string]*identity.AuthMethod // keyed userID+"/"+type
	tokens      map[string]*identity.RefreshToken
	attempts    []*identity.LoginAttempt
	roles       map[string]*identity.Role
	permissions map[string]*identity.Permission
	rolePerms   map[string]map[string]bool // roleID -> permissionID set
	audit       []*identity.AuditEntry
}

var _ identity.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		tenants:     map[string]*identity.Tenant{},
		users:       map[string]*identity.User{},
		methods:     map[string]*identity.AuthMethod{},
		tokens:      map[string]*identity.RefreshToken{},
		roles:       map[string]*identity.Role{},
		permissions: map[string]*identity.Permission{},
		rolePerms:   map[string]map[string]bool{},
	}
}

func (s *Store) Tenants() identity.TenantStore             { return (*tenantStore)(s) }
func (s *Store) Users() identity.UserStore                 { return (*userStore)(s) }
func (s *Store) AuthMethods() identity.AuthMethodStore     { return (*authMethodStore)(s) }
func (s *Store) RefreshTokens() identity.RefreshTokenStore { return (*refreshTokenStore)(s) }
func (s *Store) LoginAttempts() identity.LoginAttemptStore { return (*loginAttemptStore)(s) }
func (s *Store) Roles() identity.RoleStore                 { return (*roleStore)(s) }
func (s *Store) Permissions() identity.PermissionStore     { return (*permissionStore)(s) }
func (s *Store) Audit() identity.AuditStore                { return (*auditStore)(s) }

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx identity.Store) error) error {
	return fn(ctx, s)
}

// --- seeding and inspection helpers ---

func (s *Store) AddTenant(t identity.Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[t.ID] = &t
}

func (s *Store) AddUser(u identity.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = &u
}

func (s *Store) AddAuthMethod(m identity.AuthMethod) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.methods[m.UserID+"/"+m.Type] = &m
}

func (s *Store) AddRole(r identity.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[r.ID] = &r
}

func (s *Store) AddPermission(p identity.Permission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.permissions[p.ID] = &p
}

func (s *Store) GrantPermission(roleID, permissionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rolePerms[roleID] == nil {
		s.rolePerms[roleID] = map[string]bool{}
	}
	s.rolePerms[roleID][permissionID] = true
}

func (s *Store) AddRefreshToken(t identity.RefreshToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[t.ID] = &t
}

func (s *Store) Attempts() []*identity.LoginAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*identity.LoginAttempt, len(s.attempts))
	copy(out, s.attempts)
	return out
}

func (s *Store) Token(id string) (identity.RefreshToken, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok {
		return identity.RefreshToken{}, false
	}
	return *t, true
}

func (s *Store) Tokens() []identity.RefreshToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []identity.RefreshToken
	for _, t := range s.tokens {
		out = append(out, *t)
	}
	return out
}

func (s *Store) AuditEntries() []*identity.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*identity.AuditEntry, len(s.audit))
	copy(out, s.audit)
	return out
}

// --- sub-stores ---

type tenantStore Store

func (s *tenantStore) Create(ctx context.Context, t *identity.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.tenants {
		if existing.Name == t.Name {
			return identity.ErrConflict
		}
	}
	clone := *t
	s.tenants[t.ID] = &clone
	return nil
}

func (s *tenantStore) Find(ctx context.Context, id string) (*identity.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	clone := *t
	return &clone, nil
}

func (s *tenantStore) FindByName(ctx context.Context, name string) (*identity.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tenants {
		if t.Name == name {
			clone := *t
			return &clone, nil
		}
	}
	return nil, identity.ErrNotFound
}

func (s *tenantStore) List(ctx context.Context) ([]*identity.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*identity.Tenant
	for _, t := range s.tenants {
		clone := *t
		out = append(out, &clone)
	}
	return out, nil
}

func (s *tenantStore) UpdateStatus(ctx context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[id]
	if !ok {
		return identity.ErrNotFound
	}
	t.Status = status
	return nil
}

type userStore Store

func (s *userStore) Create(ctx context.Context, u *identity.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return identity.ErrConflict
		}
	}
	clone := *u
	s.users[u.ID] = &clone
	return nil
}

func (s *userStore) Find(ctx context.Context, id string) (*identity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	clone := *u
	return &clone, nil
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*identity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			clone := *u
			return &clone, nil
		}
	}
	return nil, identity.ErrNotFound
}

func (s *userStore) List(ctx context.Context, tenantID *string) ([]*identity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*identity.User
	for _, u := range s.users {
		if tenantID != nil && (u.TenantID == nil || *u.TenantID != *tenantID) {
			continue
		}
		clone := *u
		out = append(out, &clone)
	}
	return out, nil
}

func (s *userStore) Update(ctx context.Context, u *identity.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; !ok {
		return identity.ErrNotFound
	}
	clone := *u
	s.users[u.ID] = &clone
	return nil
}

func (s *userStore) UpdateStatus(ctx context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return identity.ErrNotFound
	}
	u.Status = status
	return nil
}

func (s *userStore) CountByRole(ctx context.Context, roleID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, u := range s.users {
		if u.RoleID == roleID && u.Status != identity.UserStatusDeactivated {
			count++
		}
	}
	return count, nil
}

type authMethodStore Store

func (s *authMethodStore) Upsert(ctx context.Context, m *identity.AuthMethod) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *m
	s.methods[m.UserID+"/"+m.Type] = &clone
	return nil
}

func (s *authMethodStore) Find(ctx context.Context, userID, methodType string) (*identity.AuthMethod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.methods[userID+"/"+methodType]
	if !ok {
		return nil, identity.ErrNotFound
	}
	clone := *m
	return &clone, nil
}

func (s *authMethodStore) Delete(ctx context.Context, userID, methodType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := userID + "/" + methodType
	if _, ok := s.methods[key]; !ok {
		return identity.ErrNotFound
	}
	delete(s.methods, key)
	return nil
}

type refreshTokenStore Store

func (s *refreshTokenStore) Create(ctx context.Context, t *identity.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *t
	s.tokens[t.ID] = &clone
	return nil
}

func (s *refreshTokenStore) Find(ctx context.Context, id string) (*identity.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	clone := *t
	return &clone, nil
}

func (s *refreshTokenStore) Claim(ctx context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok || t.RevokedAt != nil || t.ReplacedBy != nil {
		return false, nil
	}
	ts := at
	t.RevokedAt = &ts
	return true, nil
}

func (s *refreshTokenStore) SetReplacedBy(ctx context.Context, id, successorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok {
		return identity.ErrNotFound
	}
	succ := successorID
	t.ReplacedBy = &succ
	return nil
}

func (s *refreshTokenStore) Revoke(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok {
		return nil
	}
	if t.RevokedAt == nil {
		ts := at
		t.RevokedAt = &ts
	}
	return nil
}

func (s *refreshTokenStore) RevokeAllForUser(ctx context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tokens {
		if t.UserID == userID && t.RevokedAt == nil {
			ts := at
			t.RevokedAt = &ts
		}
	}
	return nil
}

func (s *refreshTokenStore) RevokeAllForTenant(ctx context.Context, tenantID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tokens {
		if t.TenantID != nil && *t.TenantID == tenantID && t.RevokedAt == nil {
			ts := at
			t.RevokedAt = &ts
		}
	}
	return nil
}

func (s *refreshTokenStore) CountLiveForUser(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, t := range s.tokens {
		if t.UserID == userID && t.RevokedAt == nil && t.ReplacedBy == nil && t.ExpiresAt.After(time.Now()) {
			count++
		}
	}
	return count, nil
}

type loginAttemptStore Store

func (s *loginAttemptStore) Create(ctx context.Context, a *identity.LoginAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *a
	s.attempts = append(s.attempts, &clone)
	return nil
}

type roleStore Store

func (s *roleStore) Create(ctx context.Context, r *identity.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.roles {
		if existing.Name == r.Name && sameScope(existing.TenantID, r.TenantID) {
			return identity.ErrConflict
		}
	}
	clone := *r
	s.roles[r.ID] = &clone
	return nil
}

func (s *roleStore) Find(ctx context.Context, id string) (*identity.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	clone := *r
	return &clone, nil
}

func (s *roleStore) FindByNameInScope(ctx context.Context, name string, tenantID *string) (*identity.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.roles {
		if r.Name == name && sameScope(r.TenantID, tenantID) {
			clone := *r
			return &clone, nil
		}
	}
	return nil, identity.ErrNotFound
}

func (s *roleStore) ListVisible(ctx context.Context, tenantID *string) ([]*identity.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*identity.Role
	for _, r := range s.roles {
		if tenantID != nil && r.TenantID != nil && *r.TenantID != *tenantID {
			continue
		}
		clone := *r
		out = append(out, &clone)
	}
	return out, nil
}

func (s *roleStore) Update(ctx context.Context, r *identity.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[r.ID]; !ok {
		return identity.ErrNotFound
	}
	clone := *r
	s.roles[r.ID] = &clone
	return nil
}

func (s *roleStore) SetActive(ctx context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[id]
	if !ok {
		return identity.ErrNotFound
	}
	r.IsActive = active
	return nil
}

func (s *roleStore) Attach(ctx context.Context, roleID string, permissionIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rolePerms[roleID] == nil {
		s.rolePerms[roleID] = map[string]bool{}
	}
	for _, id := range permissionIDs {
		s.rolePerms[roleID][id] = true
	}
	return nil
}

func (s *roleStore) Detach(ctx context.Context, roleID, permissionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.rolePerms[roleID][permissionID] {
		return identity.ErrNotFound
	}
	delete(s.rolePerms[roleID], permissionID)
	return nil
}

func (s *roleStore) PermissionsFor(ctx context.Context, roleID string) ([]identity.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []identity.Permission
	for permID := range s.rolePerms[roleID] {
		if p, ok := s.permissions[permID]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

type permissionStore Store

func (s *permissionStore) Ensure(ctx context.Context, perms []identity.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range perms {
		exists := false
		for _, existing := range s.permissions {
			if existing.Slug == p.Slug {
				exists = true
				break
			}
		}
		if !exists {
			clone := p
			s.permissions[p.ID] = &clone
		}
	}
	return nil
}

func (s *permissionStore) List(ctx context.Context) ([]identity.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []identity.Permission
	for _, p := range s.permissions {
		out = append(out, *p)
	}
	return out, nil
}

func (s *permissionStore) FindByIDs(ctx context.Context, ids []string) ([]identity.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []identity.Permission
	for _, id := range ids {
		if p, ok := s.permissions[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

type auditStore Store

func (s *auditStore) Append(ctx context.Context, e *identity.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *e
	s.audit = append(s.audit, &clone)
	return nil
}

func sameScope(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
