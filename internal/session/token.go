package session

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"gatehouse.org/internal/identity"
)

const tokenTypeAccess = "access"

// ErrInvalidToken indicates an access token failed validation.
var ErrInvalidToken = errors.New("session: invalid token")

// Claims are the verified contents of an access token. TenantID carries the
// principal's tenant scope; authority is resolved dynamically through RBAC,
// so no permissions are baked into the token.
type Claims struct {
	TenantID  *string `json:"tenant_id"`
	TokenType string  `json:"type"`
	jwt.RegisteredClaims
}

// Signer mints and verifies RS256 access tokens. Verification needs only the
// public key, so verifier-only instances can run in other services.
type Signer struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	issuer     string
	accessTTL  time.Duration
	now        func() time.Time
}

// SignerOption configures a Signer.
type SignerOption func(*Signer)

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) SignerOption {
	return func(s *Signer) { s.issuer = strings.TrimSpace(issuer) }
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) SignerOption {
	return func(s *Signer) {
		if ttl > 0 {
			s.accessTTL = ttl
		}
	}
}

// WithSignerClock overrides the time source (useful for tests).
func WithSignerClock(fn func() time.Time) SignerOption {
	return func(s *Signer) {
		if fn != nil {
			s.now = fn
		}
	}
}

const (
	defaultIssuer    = "gatehouse"
	defaultAccessTTL = 15 * time.Minute
)

// NewSigner parses the PEM key pair and returns a signing-capable Signer.
func NewSigner(privatePEM, publicPEM string, opts ...SignerOption) (*Signer, error) {
	priv, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(privatePEM))
	if err != nil {
		return nil, fmt.Errorf("session: parse private key: %w", err)
	}
	pub, err := jwt.ParseRSAPublicKeyFromPEM([]byte(publicPEM))
	if err != nil {
		return nil, fmt.Errorf("session: parse public key: %w", err)
	}
	s := &Signer{
		privateKey: priv,
		publicKey:  pub,
		issuer:     defaultIssuer,
		accessTTL:  defaultAccessTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewVerifier returns a Signer that can only verify tokens.
func NewVerifier(publicPEM string, opts ...SignerOption) (*Signer, error) {
	pub, err := jwt.ParseRSAPublicKeyFromPEM([]byte(publicPEM))
	if err != nil {
		return nil, fmt.Errorf("session: parse public key: %w", err)
	}
	s := &Signer{
		publicKey: pub,
		issuer:    defaultIssuer,
		accessTTL: defaultAccessTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Sign issues an access token for the user.
func (s *Signer) Sign(user *identity.User) (string, time.Time, error) {
	if s.privateKey == nil {
		return "", time.Time{}, errors.New("session: signer has no private key")
	}
	now := s.now().UTC()
	exp := now.Add(s.accessTTL)
	claims := Claims{
		TenantID:  user.TenantID,
		TokenType: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(s.privateKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify validates the signature and required claims of an access token.
// Expired or signature-invalid tokens fail deterministically.
func (s *Signer) Verify(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodRS256 {
			return nil, ErrInvalidToken
		}
		return s.publicKey, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if err := s.validateClaims(claims); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *Signer) validateClaims(claims *Claims) error {
	if claims.TokenType != tokenTypeAccess {
		return fmt.Errorf("unexpected token type: %s", claims.TokenType)
	}
	if s.issuer != "" && claims.Issuer != s.issuer {
		return fmt.Errorf("unexpected issuer: %s", claims.Issuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	// Allow a small clock skew of 5 seconds when validating issued-at.
	if claims.IssuedAt.Time.After(s.now().Add(5 * time.Second)) {
		return errors.New("token issued in the future")
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return errors.New("token expiry precedes issued-at")
	}
	return nil
}
