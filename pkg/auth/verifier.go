// Package auth gates the attendance operations behind a single configured
// administrator. Credentials are checked by an injected CredentialVerifier,
// sessions live in a SessionStore and are handed to clients as signed tokens.
package auth

import (
	"crypto/subtle"

	"golang.org/x/crypto/bcrypt"
)

// CredentialVerifier decides whether a username/password pair may log in.
type CredentialVerifier interface {
	Verify(username, password string) bool
}

// StaticVerifier accepts exactly one configured account.
type StaticVerifier struct {
	username     string
	password     string
	passwordHash []byte
}

// NewStaticVerifier creates a verifier for one account. When passwordHash is
// set it must be a bcrypt hash and takes precedence over password.
func NewStaticVerifier(username, password, passwordHash string) *StaticVerifier {
	v := &StaticVerifier{username: username, password: password}
	if passwordHash != "" {
		v.passwordHash = []byte(passwordHash)
	}
	return v
}

// Verify reports whether the credentials match the configured account.
func (v *StaticVerifier) Verify(username, password string) bool {
	if v.username == "" || username == "" || password == "" {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(v.username)) == 1

	var passOK bool
	if len(v.passwordHash) > 0 {
		passOK = bcrypt.CompareHashAndPassword(v.passwordHash, []byte(password)) == nil
	} else {
		passOK = v.password != "" && subtle.ConstantTimeCompare([]byte(password), []byte(v.password)) == 1
	}
	return userOK && passOK
}

// HashPassword returns a bcrypt hash suitable for auth.admin_password_hash.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
