// Package session owns the credential lifecycle: password and one-time-code
// authentication, access token issuance, and refresh token rotation with
// replay detection.
package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"

	"gatehouse.org/internal/identity"
	"gatehouse.org/internal/ids"
	"gatehouse.org/internal/password"
)

const (
	defaultRefreshTTL = 24 * time.Hour * 14
	defaultCodeTTL    = 5 * time.Minute

	codeKeyPrefix = "otp:"
	codeLength    = 6

	methodPassword  = "password"
	methodEmailCode = "otp"
	methodTOTP      = "totp"
)

// errRotationRace marks a rotation that lost the claim to a concurrent
// rotation of the same secret. Internal only; surfaced as replay.
var errRotationRace = errors.New("session: rotation claim lost")

// CodeSender delivers one-time codes out of band. Delivery is an external
// collaborator; the core only hands it the code.
type CodeSender interface {
	Send(ctx context.Context, email, code string) error
}

// TokenPair carries freshly issued credentials and their expirations.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Service coordinates the credential lifecycle. Stateless between calls and
// safe for concurrent use.
type Service struct {
	store  identity.Store
	kv     Ephemeral
	signer *Signer
	sender CodeSender

	emailLimiter *RateLimiter
	ipLimiter    *RateLimiter

	refreshTTL time.Duration
	codeTTL    time.Duration
	now        func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
	}
}

// WithCodeTTL configures one-time-code lifetime.
func WithCodeTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.codeTTL = ttl
		}
	}
}

// WithCodeSender wires the out-of-band delivery collaborator.
func WithCodeSender(sender CodeSender) Option {
	return func(s *Service) { s.sender = sender }
}

// WithCodeLimits overrides the per-email and per-IP issuance limiters.
func WithCodeLimits(perEmail, perIP *RateLimiter) Option {
	return func(s *Service) {
		s.emailLimiter = perEmail
		s.ipLimiter = perIP
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the session manager.
func NewService(store identity.Store, kv Ephemeral, signer *Signer, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("session: store is required")
	}
	if kv == nil {
		return nil, errors.New("session: ephemeral store is required")
	}
	if signer == nil {
		return nil, errors.New("session: signer is required")
	}
	s := &Service{
		store:        store,
		kv:           kv,
		signer:       signer,
		refreshTTL:   defaultRefreshTTL,
		codeTTL:      defaultCodeTTL,
		emailLimiter: NewRateLimiter(kv, "code_email", 5, 15*time.Minute),
		ipLimiter:    NewRateLimiter(kv, "code_ip", 15, 15*time.Minute),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Authenticate performs the password login flow: uniform failure for unknown
// email and wrong password, one LoginAttempt row per call, status gates after
// the credential check, then a token pair on success.
func (s *Service) Authenticate(ctx context.Context, email, plaintext string, meta identity.RequestMeta) (TokenPair, *identity.User, error) {
	email = normalizeEmail(email)

	user, err := s.lookupUser(ctx, email)
	if err != nil {
		return TokenPair{}, nil, err
	}

	valid := false
	if user != nil && plaintext != "" {
		method, err := s.store.AuthMethods().Find(ctx, user.ID, identity.AuthMethodPassword)
		if err != nil && !errors.Is(err, identity.ErrNotFound) {
			return TokenPair{}, nil, fmt.Errorf("%w: load auth method: %v", identity.ErrUnavailable, err)
		}
		if method != nil && method.PasswordHash != "" {
			valid = password.Verify(plaintext, method.PasswordHash)
		}
	}

	if err := s.recordAttempt(ctx, email, methodPassword, valid, user, meta); err != nil {
		return TokenPair{}, nil, err
	}
	if !valid {
		return TokenPair{}, nil, identity.ErrInvalidCredentials
	}
	if err := s.checkActive(ctx, user); err != nil {
		return TokenPair{}, nil, err
	}

	pair, err := s.mintPair(ctx, user)
	if err != nil {
		return TokenPair{}, nil, err
	}
	return pair, user, nil
}

// Rotate exchanges a refresh token for a fresh pair. Reuse of an already
// rotated or revoked secret is treated as compromise: every session of the
// owning user is revoked and ErrReplayDetected is returned. An expired but
// unrevoked token yields a plain expiry error with no revocation.
func (s *Service) Rotate(ctx context.Context, presented string) (TokenPair, *identity.User, error) {
	tokenID, secret, err := splitRefreshToken(presented)
	if err != nil {
		return TokenPair{}, nil, identity.ErrInvalidCredentials
	}

	rec, err := s.store.RefreshTokens().Find(ctx, tokenID)
	if errors.Is(err, identity.ErrNotFound) {
		return TokenPair{}, nil, identity.ErrInvalidCredentials
	}
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("%w: load refresh token: %v", identity.ErrUnavailable, err)
	}
	if !secureCompareHash(rec.TokenHash, secret) {
		return TokenPair{}, nil, identity.ErrInvalidCredentials
	}

	now := s.now().UTC()
	if !rec.Live() {
		return TokenPair{}, nil, s.containReplay(ctx, rec.UserID, now)
	}
	if now.After(rec.ExpiresAt) {
		return TokenPair{}, nil, identity.ErrTokenExpired
	}

	user, err := s.store.Users().Find(ctx, rec.UserID)
	if errors.Is(err, identity.ErrNotFound) {
		return TokenPair{}, nil, identity.ErrInvalidCredentials
	}
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("%w: load user: %v", identity.ErrUnavailable, err)
	}
	if err := s.checkActive(ctx, user); err != nil {
		return TokenPair{}, nil, err
	}

	successor, refreshSecret, err := s.buildRefreshToken(user, now)
	if err != nil {
		return TokenPair{}, nil, err
	}

	// Revoking the predecessor, creating the successor and linking the two
	// commit as one unit. The conditional claim guarantees that of two
	// concurrent rotations of the same secret exactly one proceeds.
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx identity.Store) error {
		claimed, err := tx.RefreshTokens().Claim(ctx, rec.ID, now)
		if err != nil {
			return fmt.Errorf("%w: claim refresh token: %v", identity.ErrUnavailable, err)
		}
		if !claimed {
			return errRotationRace
		}
		if err := tx.RefreshTokens().Create(ctx, successor); err != nil {
			return fmt.Errorf("%w: create successor: %v", identity.ErrUnavailable, err)
		}
		if err := tx.RefreshTokens().SetReplacedBy(ctx, rec.ID, successor.ID); err != nil {
			return fmt.Errorf("%w: link successor: %v", identity.ErrUnavailable, err)
		}
		return nil
	})
	if errors.Is(err, errRotationRace) {
		return TokenPair{}, nil, s.containReplay(ctx, rec.UserID, now)
	}
	if err != nil {
		return TokenPair{}, nil, err
	}

	access, accessExp, err := s.signer.Sign(user)
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("%w: sign access token: %v", identity.ErrUnavailable, err)
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     successor.ID + "." + refreshSecret,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: successor.ExpiresAt,
	}, user, nil
}

// Revoke marks the presented refresh token revoked. Idempotent: logging out
// an already dead or unknown session is not an error.
func (s *Service) Revoke(ctx context.Context, presented string) error {
	tokenID, secret, err := splitRefreshToken(presented)
	if err != nil {
		return nil
	}
	rec, err := s.store.RefreshTokens().Find(ctx, tokenID)
	if errors.Is(err, identity.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: load refresh token: %v", identity.ErrUnavailable, err)
	}
	if !secureCompareHash(rec.TokenHash, secret) || rec.RevokedAt != nil {
		return nil
	}
	if err := s.store.RefreshTokens().Revoke(ctx, rec.ID, s.now().UTC()); err != nil {
		return fmt.Errorf("%w: revoke refresh token: %v", identity.ErrUnavailable, err)
	}
	return nil
}

// RevokeUserSessions revokes every live refresh token owned by the user.
func (s *Service) RevokeUserSessions(ctx context.Context, userID string) error {
	if err := s.store.RefreshTokens().RevokeAllForUser(ctx, userID, s.now().UTC()); err != nil {
		return fmt.Errorf("%w: revoke user sessions: %v", identity.ErrUnavailable, err)
	}
	return nil
}

// RevokeTenantSessions revokes every live refresh token in the tenant. The
// denormalized tenant column on the ledger exists for exactly this call.
func (s *Service) RevokeTenantSessions(ctx context.Context, tenantID string) error {
	if err := s.store.RefreshTokens().RevokeAllForTenant(ctx, tenantID, s.now().UTC()); err != nil {
		return fmt.Errorf("%w: revoke tenant sessions: %v", identity.ErrUnavailable, err)
	}
	return nil
}

// RequestOneTimeCode issues a short-lived numeric login code. The response is
// identical whether or not the email exists; issuance is rate limited per
// email and per requesting IP.
func (s *Service) RequestOneTimeCode(ctx context.Context, email string, meta identity.RequestMeta) error {
	email = normalizeEmail(email)
	if email == "" {
		return nil
	}
	if err := s.emailLimiter.Allow(ctx, email); err != nil {
		return err
	}
	if meta.IPAddress != "" {
		if err := s.ipLimiter.Allow(ctx, meta.IPAddress); err != nil {
			return err
		}
	}

	user, err := s.lookupUser(ctx, email)
	if err != nil {
		return err
	}
	if user == nil {
		return nil
	}

	code, err := generateCode()
	if err != nil {
		return fmt.Errorf("%w: generate code: %v", identity.ErrUnavailable, err)
	}
	if err := s.kv.Set(ctx, codeKeyPrefix+email, code, s.codeTTL); err != nil {
		return fmt.Errorf("%w: store code: %v", identity.ErrUnavailable, err)
	}
	if s.sender != nil {
		if err := s.sender.Send(ctx, email, code); err != nil {
			return fmt.Errorf("%w: deliver code: %v", identity.ErrUnavailable, err)
		}
	}
	return nil
}

// VerifyOneTimeCode consumes a previously issued code and completes the login
// success path. The compare-and-delete against the ephemeral store is the
// serialization point: a code verifies at most once even under concurrent
// attempts.
func (s *Service) VerifyOneTimeCode(ctx context.Context, email, code string, meta identity.RequestMeta) (TokenPair, *identity.User, error) {
	email = normalizeEmail(email)

	consumed := false
	if email != "" && code != "" {
		var err error
		consumed, err = s.kv.CompareAndDelete(ctx, codeKeyPrefix+email, code)
		if err != nil {
			return TokenPair{}, nil, fmt.Errorf("%w: consume code: %v", identity.ErrUnavailable, err)
		}
	}

	user, err := s.lookupUser(ctx, email)
	if err != nil {
		return TokenPair{}, nil, err
	}
	valid := consumed && user != nil

	if err := s.recordAttempt(ctx, email, methodEmailCode, valid, user, meta); err != nil {
		return TokenPair{}, nil, err
	}
	if !valid {
		return TokenPair{}, nil, identity.ErrInvalidCredentials
	}
	if err := s.checkActive(ctx, user); err != nil {
		return TokenPair{}, nil, err
	}

	pair, err := s.mintPair(ctx, user)
	if err != nil {
		return TokenPair{}, nil, err
	}
	return pair, user, nil
}

// VerifyTOTP authenticates a user holding an enrolled OTP method with a
// time-based code.
func (s *Service) VerifyTOTP(ctx context.Context, email, code string, meta identity.RequestMeta) (TokenPair, *identity.User, error) {
	email = normalizeEmail(email)

	user, err := s.lookupUser(ctx, email)
	if err != nil {
		return TokenPair{}, nil, err
	}

	valid := false
	if user != nil && code != "" {
		method, err := s.store.AuthMethods().Find(ctx, user.ID, identity.AuthMethodOTP)
		if err != nil && !errors.Is(err, identity.ErrNotFound) {
			return TokenPair{}, nil, fmt.Errorf("%w: load auth method: %v", identity.ErrUnavailable, err)
		}
		if method != nil {
			if secret := method.Metadata["totp_secret"]; secret != "" {
				valid = totp.Validate(code, secret)
			}
		}
	}

	if err := s.recordAttempt(ctx, email, methodTOTP, valid, user, meta); err != nil {
		return TokenPair{}, nil, err
	}
	if !valid {
		return TokenPair{}, nil, identity.ErrInvalidCredentials
	}
	if err := s.checkActive(ctx, user); err != nil {
		return TokenPair{}, nil, err
	}

	pair, err := s.mintPair(ctx, user)
	if err != nil {
		return TokenPair{}, nil, err
	}
	return pair, user, nil
}

// Verifier exposes the access token verifier for the boundary layer.
func (s *Service) Verifier() *Signer {
	return s.signer
}

// --- helpers ---

func (s *Service) lookupUser(ctx context.Context, email string) (*identity.User, error) {
	if email == "" {
		return nil, nil
	}
	user, err := s.store.Users().FindByEmail(ctx, email)
	if errors.Is(err, identity.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load user: %v", identity.ErrUnavailable, err)
	}
	return user, nil
}

// checkActive enforces the status gates that follow a successful credential
// check: the user must be active and its tenant, when bound, active too.
func (s *Service) checkActive(ctx context.Context, user *identity.User) error {
	if user.Status != identity.UserStatusActive {
		return identity.ErrInactive
	}
	if user.TenantID == nil {
		return nil
	}
	tenant, err := s.store.Tenants().Find(ctx, *user.TenantID)
	if errors.Is(err, identity.ErrNotFound) {
		return identity.ErrInactive
	}
	if err != nil {
		return fmt.Errorf("%w: load tenant: %v", identity.ErrUnavailable, err)
	}
	if tenant.Status != identity.TenantStatusActive {
		return identity.ErrInactive
	}
	return nil
}

func (s *Service) recordAttempt(ctx context.Context, email, method string, success bool, user *identity.User, meta identity.RequestMeta) error {
	attempt := &identity.LoginAttempt{
		ID:         ids.New(),
		Email:      email,
		Method:     method,
		Successful: success,
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
		CreatedAt:  s.now().UTC(),
	}
	if user != nil {
		attempt.UserID = &user.ID
		attempt.TenantID = user.TenantID
	}
	if err := s.store.LoginAttempts().Create(ctx, attempt); err != nil {
		return fmt.Errorf("%w: record login attempt: %v", identity.ErrUnavailable, err)
	}
	return nil
}

func (s *Service) mintPair(ctx context.Context, user *identity.User) (TokenPair, error) {
	now := s.now().UTC()
	access, accessExp, err := s.signer.Sign(user)
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: sign access token: %v", identity.ErrUnavailable, err)
	}
	rec, secret, err := s.buildRefreshToken(user, now)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.store.RefreshTokens().Create(ctx, rec); err != nil {
		return TokenPair{}, fmt.Errorf("%w: store refresh token: %v", identity.ErrUnavailable, err)
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     rec.ID + "." + secret,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: rec.ExpiresAt,
	}, nil
}

func (s *Service) buildRefreshToken(user *identity.User, now time.Time) (*identity.RefreshToken, string, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return nil, "", fmt.Errorf("%w: generate secret: %v", identity.ErrUnavailable, err)
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	sum := sha256.Sum256([]byte(secret))
	rec := &identity.RefreshToken{
		ID:        ids.New(),
		UserID:    user.ID,
		TenantID:  user.TenantID,
		TokenHash: hex.EncodeToString(sum[:]),
		ExpiresAt: now.Add(s.refreshTTL),
		CreatedAt: now,
	}
	return rec, secret, nil
}

// containReplay revokes every session of the user before surfacing the
// security error. The revocation is deliberate fallout, not cleanup, so a
// failure to apply it is an infrastructure error rather than a silent pass.
func (s *Service) containReplay(ctx context.Context, userID string, now time.Time) error {
	if err := s.store.RefreshTokens().RevokeAllForUser(ctx, userID, now); err != nil {
		return fmt.Errorf("%w: contain replay: %v", identity.ErrUnavailable, err)
	}
	return identity.ErrReplayDetected
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

func splitRefreshToken(raw string) (id, secret string, err error) {
	id, secret, ok := strings.Cut(raw, ".")
	if !ok || id == "" || secret == "" {
		return "", "", errors.New("invalid refresh token format")
	}
	return id, secret, nil
}

func secureCompareHash(expectedHash, secret string) bool {
	sum := sha256.Sum256([]byte(secret))
	actual := hex.EncodeToString(sum[:])
	if len(expectedHash) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expectedHash), []byte(actual)) == 1
}

func generateCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < codeLength; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeLength, n), nil
}
