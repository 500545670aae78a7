package session

import (
	"errors"
	"testing"
	"time"

	"gatehouse.org/internal/identity"
)

func TestSignAndVerify(t *testing.T) {
	signer := testSigner(t, WithIssuer("test-issuer"), WithAccessTTL(time.Minute))
	tenantID := "tenant-9"
	user := &identity.User{ID: "user-9", TenantID: &tenantID}

	token, exp, err := signer.Sign(user)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Fatalf("expected future expiry, got %v", exp)
	}

	claims, err := signer.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "user-9" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.TenantID == nil || *claims.TenantID != tenantID {
		t.Fatalf("unexpected tenant: %v", claims.TenantID)
	}
	if claims.TokenType != tokenTypeAccess {
		t.Fatalf("unexpected type: %s", claims.TokenType)
	}
	if claims.ID == "" {
		t.Fatalf("expected a jti")
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	clock := time.Now()
	signer := testSigner(t, WithAccessTTL(time.Minute), WithSignerClock(func() time.Time { return clock }))

	token, _, err := signer.Sign(&identity.User{ID: "user-9"})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	clock = clock.Add(2 * time.Minute)
	if _, err := signer.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsWrongKeyAndGarbage(t *testing.T) {
	signer := testSigner(t)
	other := testSigner(t)

	token, _, err := other.Sign(&identity.User{ID: "user-9"})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := signer.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("foreign signature must fail, got %v", err)
	}
	if _, err := signer.Verify("not.a.jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage must fail, got %v", err)
	}
	if _, err := signer.Verify(""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("empty token must fail, got %v", err)
	}
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	issuerA := testSigner(t, WithIssuer("service-a"))

	token, _, err := issuerA.Sign(&identity.User{ID: "user-9"})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	// Same signer, stricter issuer expectation.
	issuerA.issuer = "service-b"
	if _, err := issuerA.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("issuer mismatch must fail, got %v", err)
	}
}

func TestVerifierHasNoPrivateKey(t *testing.T) {
	signer := testSigner(t)
	token, _, err := signer.Sign(&identity.User{ID: "user-9"})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	// A verifier built from only the public half can check but not mint.
	verifier := &Signer{publicKey: signer.publicKey, issuer: signer.issuer, now: time.Now}
	if _, err := verifier.Verify(token); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if _, _, err := verifier.Sign(&identity.User{ID: "user-9"}); err == nil {
		t.Fatalf("expected signing to fail without a private key")
	}
}
