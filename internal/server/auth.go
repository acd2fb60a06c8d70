package server

import (
	"crypto/subtle"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// VerifyAdminSecret compares a candidate against the configured admin
// secret without leaking timing information. The configured secret may be
// either the plaintext secret or a bcrypt hash of it; deployments that
// don't want the secret on the command line can pass the hash instead.
func VerifyAdminSecret(configured, candidate string) bool {
	if configured == "" {
		return false
	}

	if isBcryptHash(configured) {
		return bcrypt.CompareHashAndPassword([]byte(configured), []byte(candidate)) == nil
	}

	return subtle.ConstantTimeCompare([]byte(configured), []byte(candidate)) == 1
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}
