// Package password provides the memory-hard credential hashing primitive used
// for stored secrets. Hashes are encoded in the standard argon2id PHC form so
// parameters can be tuned without invalidating existing credentials.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	memory      = 64 * 1024
	iterations  = 2
	parallelism = 1
	keyLength   = 32
	saltLength  = 16
)

var errMalformedHash = errors.New("password: malformed hash")

// Hash derives an argon2id hash from the plaintext with a random salt.
func Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", errors.New("password: empty plaintext")
	}
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	sum := argon2.IDKey([]byte(plaintext), salt, iterations, memory, parallelism, keyLength)
	return fmt.Sprintf(
		"$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		memory,
		iterations,
		parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum),
	), nil
}

// Verify reports whether the plaintext matches the encoded hash. The final
// comparison is constant time; a malformed hash verifies as false.
func Verify(plaintext, encoded string) bool {
	mem, iters, par, salt, want, err := decode(encoded)
	if err != nil {
		return false
	}
	got := argon2.IDKey([]byte(plaintext), salt, iters, mem, par, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}

func decode(encoded string) (mem uint32, iters uint32, par uint8, salt, sum []byte, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return 0, 0, 0, nil, nil, errMalformedHash
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return 0, 0, 0, nil, nil, errMalformedHash
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &iters, &par); err != nil {
		return 0, 0, 0, nil, nil, errMalformedHash
	}
	salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return 0, 0, 0, nil, nil, errMalformedHash
	}
	sum, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(sum) == 0 {
		return 0, 0, 0, nil, nil, errMalformedHash
	}
	return mem, iters, par, salt, sum, nil
}
