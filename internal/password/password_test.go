package password

import (
	"strings"
	"testing"
)

func TestHashAndVerify(t *testing.T) {
	hash, err := Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$") {
		t.Fatalf("unexpected encoding: %s", hash)
	}
	if !Verify("correct horse battery staple", hash) {
		t.Fatalf("expected match")
	}
	if Verify("wrong", hash) {
		t.Fatalf("unexpected match")
	}
}

func TestHashIsSalted(t *testing.T) {
	a, err := Hash("secret")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	b, err := Hash("secret")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if a == b {
		t.Fatalf("expected distinct salts")
	}
}

func TestVerifyMalformed(t *testing.T) {
	for _, bad := range []string{
		"",
		"plaintext",
		"$argon2id$v=19$m=65536,t=2,p=1$short",
		"$bcrypt$v=19$m=65536,t=2,p=1$c2FsdA$c3Vt",
		"$argon2id$v=18$m=65536,t=2,p=1$c2FsdA$c3Vt",
	} {
		if Verify("secret", bad) {
			t.Fatalf("verified malformed hash %q", bad)
		}
	}
}

func TestHashRejectsEmpty(t *testing.T) {
	if _, err := Hash(""); err == nil {
		t.Fatalf("expected error for empty plaintext")
	}
}
