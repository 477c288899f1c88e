package library

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// legacyDigestLen is the length of a hex SHA-256 digest, the format older
// installations stored before bcrypt.
const legacyDigestLen = sha256.Size * 2

// HashPassword returns a salted bcrypt digest of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// LegacyDigest returns the unsalted hex SHA-256 of password.
func LegacyDigest(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// VerifyPassword compares password against a stored digest in constant time.
// Both bcrypt and legacy SHA-256 digests are accepted.
func VerifyPassword(digest, password string) bool {
	if len(digest) == legacyDigestLen {
		if _, err := hex.DecodeString(digest); err == nil {
			return subtle.ConstantTimeCompare([]byte(digest), []byte(LegacyDigest(password))) == 1
		}
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(password)) == nil
}
