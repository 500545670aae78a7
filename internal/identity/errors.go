package identity

import "errors"

// Error taxonomy shared by the session and rbac services. The boundary layer
// translates these to transport responses; the core never logs or swallows
// them.
var (
	// ErrInvalidCredentials covers every bad password, code or refresh
	// secret. Presented uniformly regardless of root cause so callers cannot
	// enumerate accounts.
	ErrInvalidCredentials = errors.New("identity: invalid credentials")

	// ErrTokenExpired marks an expired, unrevoked refresh token. Expiry is
	// not evidence of compromise and triggers no revocation.
	ErrTokenExpired = errors.New("identity: token expired")

	// ErrInactive means credentials were valid but the account or its tenant
	// failed the status gate.
	ErrInactive = errors.New("identity: account or tenant inactive")

	// ErrReplayDetected is the security-critical reuse of an already rotated
	// or revoked refresh token. The only error kind with a mandated side
	// effect: every session of the affected user is revoked first.
	ErrReplayDetected = errors.New("identity: refresh token replay detected")

	// ErrNotFound covers both absent resources and resources outside the
	// actor's visibility; the two are indistinguishable by design.
	ErrNotFound = errors.New("identity: not found")

	// ErrConflict covers uniqueness and idempotency violations.
	ErrConflict = errors.New("identity: conflict")

	// ErrUnauthorized means the actor lacks the scope or permission for an
	// otherwise valid target.
	ErrUnauthorized = errors.New("identity: unauthorized")

	// ErrInvalidInput marks malformed or missing request fields.
	ErrInvalidInput = errors.New("identity: invalid input")

	// ErrRateLimited bounds one-time-code issuance frequency.
	ErrRateLimited = errors.New("identity: rate limited")

	// ErrUnavailable wraps store, hash or signing primitive failures and
	// timeouts. Retryable by the caller, never retried inside the core.
	ErrUnavailable = errors.New("identity: infrastructure unavailable")
)
