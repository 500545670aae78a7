package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"

	"gatehouse.org/internal/ids"
	"gatehouse.org/internal/password"
)

// Service manages the tenant and user directory. Every operation takes the
// acting principal explicitly; there is no ambient current user.
type Service struct {
	store  Store
	issuer string
	now    func() time.Time
}

// ServiceOption configures the directory service.
type ServiceOption func(*Service)

// WithTOTPIssuer sets the issuer shown in authenticator apps.
func WithTOTPIssuer(issuer string) ServiceOption {
	return func(s *Service) {
		if issuer != "" {
			s.issuer = issuer
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the directory service.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("identity: store is required")
	}
	s := &Service{store: store, issuer: "gatehouse", now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// --- tenants ---

// CreateTenant registers a new isolation boundary. System actors only.
func (s *Service) CreateTenant(ctx context.Context, actor Principal, name string) (*Tenant, error) {
	if !actor.IsSystem() {
		return nil, fmt.Errorf("%w: tenants are managed by system actors", ErrUnauthorized)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: tenant name is required", ErrInvalidInput)
	}
	existing, err := s.store.Tenants().FindByName(ctx, name)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: tenant name already used", ErrConflict)
	}
	now := s.now().UTC()
	tenant := &Tenant{
		ID:        ids.New(),
		Name:      name,
		Status:    TenantStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Tenants().Create(ctx, tenant); err != nil {
		return nil, err
	}
	return tenant, nil
}

// GetTenant returns a tenant visible to the actor: its own for tenant
// actors, any for system actors.
func (s *Service) GetTenant(ctx context.Context, actor Principal, tenantID string) (*Tenant, error) {
	if !actor.IsSystem() && (actor.TenantID() == nil || *actor.TenantID() != tenantID) {
		return nil, ErrNotFound
	}
	return s.store.Tenants().Find(ctx, tenantID)
}

// ListTenants returns every tenant for system actors, or only the actor's
// own tenant otherwise.
func (s *Service) ListTenants(ctx context.Context, actor Principal) ([]*Tenant, error) {
	if actor.IsSystem() {
		return s.store.Tenants().List(ctx)
	}
	tenant, err := s.store.Tenants().Find(ctx, *actor.TenantID())
	if err != nil {
		return nil, err
	}
	return []*Tenant{tenant}, nil
}

// DeactivateTenant soft-disables a tenant. The flip is reversible and never
// deletes anything the tenant still references.
func (s *Service) DeactivateTenant(ctx context.Context, actor Principal, tenantID string) (*Tenant, error) {
	return s.setTenantStatus(ctx, actor, tenantID, TenantStatusInactive)
}

// ReactivateTenant reverses a deactivation.
func (s *Service) ReactivateTenant(ctx context.Context, actor Principal, tenantID string) (*Tenant, error) {
	return s.setTenantStatus(ctx, actor, tenantID, TenantStatusActive)
}

func (s *Service) setTenantStatus(ctx context.Context, actor Principal, tenantID, status string) (*Tenant, error) {
	if !actor.IsSystem() {
		return nil, fmt.Errorf("%w: tenants are managed by system actors", ErrUnauthorized)
	}
	tenant, err := s.store.Tenants().Find(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if tenant.Status == status {
		return nil, fmt.Errorf("%w: tenant already %s", ErrConflict, status)
	}
	if err := s.store.Tenants().UpdateStatus(ctx, tenantID, status); err != nil {
		return nil, err
	}
	tenant.Status = status
	tenant.UpdatedAt = s.now().UTC()
	return tenant, nil
}

// --- users ---

// CreateUserInput describes a user to create. A nil TenantID creates a
// system-scope user, which only system actors may do.
type CreateUserInput struct {
	Email     string
	FirstName string
	LastName  string
	TenantID  *string
	RoleID    string
	Password  string
}

// UserUpdate carries optional field updates.
type UserUpdate struct {
	FirstName *string
	LastName  *string
	Status    *string
	RoleID    *string
}

// CreateUser registers a principal. Email uniqueness is global; the tenant
// scope resolves exactly as for role creation; the assigned role must be
// global or belong to the user's tenant.
func (s *Service) CreateUser(ctx context.Context, actor Principal, input CreateUserInput) (*User, error) {
	email := strings.TrimSpace(strings.ToLower(input.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if strings.TrimSpace(input.RoleID) == "" {
		return nil, fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}

	existing, err := s.store.Users().FindByEmail(ctx, email)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: email already registered", ErrConflict)
	}

	var tenantID *string
	if actor.IsSystem() {
		tenantID = input.TenantID
	} else {
		if input.TenantID != nil && *input.TenantID != *actor.TenantID() {
			return nil, fmt.Errorf("%w: cannot create user for another tenant", ErrUnauthorized)
		}
		tenantID = actor.TenantID()
	}

	if tenantID != nil {
		tenant, err := s.store.Tenants().Find(ctx, *tenantID)
		if err != nil {
			return nil, err
		}
		if tenant.Status != TenantStatusActive {
			return nil, fmt.Errorf("%w: tenant is inactive", ErrNotFound)
		}
	}

	role, err := s.store.Roles().Find(ctx, input.RoleID)
	if err != nil {
		return nil, err
	}
	if role.TenantID != nil && (tenantID == nil || *role.TenantID != *tenantID) {
		return nil, fmt.Errorf("%w: role does not belong to this tenant", ErrUnauthorized)
	}

	now := s.now().UTC()
	status := UserStatusPending
	if input.Password != "" {
		status = UserStatusActive
	}
	user := &User{
		ID:        ids.New(),
		TenantID:  tenantID,
		Email:     email,
		FirstName: strings.TrimSpace(input.FirstName),
		LastName:  strings.TrimSpace(input.LastName),
		Status:    status,
		RoleID:    role.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx Store) error {
		if err := tx.Users().Create(ctx, user); err != nil {
			return err
		}
		if input.Password == "" {
			return nil
		}
		hash, err := password.Hash(input.Password)
		if err != nil {
			return fmt.Errorf("%w: hash password: %v", ErrUnavailable, err)
		}
		return tx.AuthMethods().Upsert(ctx, &AuthMethod{
			ID:           ids.New(),
			UserID:       user.ID,
			Type:         AuthMethodPassword,
			PasswordHash: hash,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetUser returns a user inside the actor's visibility.
func (s *Service) GetUser(ctx context.Context, actor Principal, userID string) (*User, error) {
	return s.visibleUser(ctx, actor, userID)
}

// ListUsers returns every user for system actors, or the actor's tenant
// population otherwise.
func (s *Service) ListUsers(ctx context.Context, actor Principal) ([]*User, error) {
	return s.store.Users().List(ctx, actor.TenantID())
}

// UpdateUser applies profile, status and role changes. A role change is
// re-validated against the user's tenant.
func (s *Service) UpdateUser(ctx context.Context, actor Principal, userID string, upd UserUpdate) (*User, error) {
	user, err := s.visibleUser(ctx, actor, userID)
	if err != nil {
		return nil, err
	}
	if upd.RoleID != nil {
		role, err := s.store.Roles().Find(ctx, *upd.RoleID)
		if err != nil {
			return nil, err
		}
		if role.TenantID != nil && (user.TenantID == nil || *role.TenantID != *user.TenantID) {
			return nil, fmt.Errorf("%w: role does not belong to the user's tenant", ErrUnauthorized)
		}
		user.RoleID = role.ID
	}
	if upd.Status != nil {
		status := strings.TrimSpace(strings.ToLower(*upd.Status))
		switch status {
		case UserStatusPending, UserStatusActive, UserStatusDeactivated:
		default:
			return nil, fmt.Errorf("%w: unsupported status %s", ErrInvalidInput, status)
		}
		user.Status = status
	}
	if upd.FirstName != nil {
		user.FirstName = strings.TrimSpace(*upd.FirstName)
	}
	if upd.LastName != nil {
		user.LastName = strings.TrimSpace(*upd.LastName)
	}
	user.UpdatedAt = s.now().UTC()
	if err := s.store.Users().Update(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// DeactivateUser soft-deletes a principal. Callers are expected to revoke
// the user's sessions alongside.
func (s *Service) DeactivateUser(ctx context.Context, actor Principal, userID string) (*User, error) {
	user, err := s.visibleUser(ctx, actor, userID)
	if err != nil {
		return nil, err
	}
	if user.Status == UserStatusDeactivated {
		return nil, fmt.Errorf("%w: user already deactivated", ErrConflict)
	}
	if err := s.store.Users().UpdateStatus(ctx, user.ID, UserStatusDeactivated); err != nil {
		return nil, err
	}
	user.Status = UserStatusDeactivated
	user.UpdatedAt = s.now().UTC()
	return user, nil
}

// SetPassword hashes and stores the user's password method, activating a
// pending account.
func (s *Service) SetPassword(ctx context.Context, actor Principal, userID, plaintext string) error {
	if plaintext == "" {
		return fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	user, err := s.visibleUser(ctx, actor, userID)
	if err != nil {
		return err
	}
	hash, err := password.Hash(plaintext)
	if err != nil {
		return fmt.Errorf("%w: hash password: %v", ErrUnavailable, err)
	}
	now := s.now().UTC()
	return s.store.WithinTx(ctx, func(ctx context.Context, tx Store) error {
		if err := tx.AuthMethods().Upsert(ctx, &AuthMethod{
			ID:           ids.New(),
			UserID:       user.ID,
			Type:         AuthMethodPassword,
			PasswordHash: hash,
			CreatedAt:    now,
			UpdatedAt:    now,
		}); err != nil {
			return err
		}
		if user.Status != UserStatusPending {
			return nil
		}
		return tx.Users().UpdateStatus(ctx, user.ID, UserStatusActive)
	})
}

// EnrollTOTP provisions a time-based OTP secret for the user and returns the
// otpauth:// URL to load into an authenticator app.
func (s *Service) EnrollTOTP(ctx context.Context, actor Principal, userID string) (string, error) {
	user, err := s.visibleUser(ctx, actor, userID)
	if err != nil {
		return "", err
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: user.Email,
	})
	if err != nil {
		return "", fmt.Errorf("%w: generate totp secret: %v", ErrUnavailable, err)
	}
	now := s.now().UTC()
	err = s.store.AuthMethods().Upsert(ctx, &AuthMethod{
		ID:        ids.New(),
		UserID:    user.ID,
		Type:      AuthMethodOTP,
		Metadata:  map[string]string{"totp_secret": key.Secret()},
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return "", err
	}
	return key.URL(), nil
}

// visibleUser applies tenant isolation: a tenant actor observes only its own
// population, and cross-tenant users read as absent.
func (s *Service) visibleUser(ctx context.Context, actor Principal, userID string) (*User, error) {
	user, err := s.store.Users().Find(ctx, userID)
	if err != nil {
		return nil, err
	}
	if actor.IsSystem() {
		return user, nil
	}
	if user.TenantID == nil || *user.TenantID != *actor.TenantID() {
		return nil, ErrNotFound
	}
	return user, nil
}
