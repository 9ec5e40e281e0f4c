// Package auth checks the username and password carried by sync requests.
package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials indicates an unknown user or a wrong password.
var ErrInvalidCredentials = errors.New("invalid username or password")

// dummyHash stands in for the hash of an unknown user.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("decksync"), bcrypt.MinCost)

// PasswordVerifier compares a bcrypt hash with a plaintext password.
type PasswordVerifier interface {
	Compare(hashedPassword, password string) error
}

// BcryptVerifier implements PasswordVerifier using bcrypt.
type BcryptVerifier struct{}

// Compare returns nil when password matches hashedPassword.
func (BcryptVerifier) Compare(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

// Users authenticates against a fixed table of username to bcrypt hash.
type Users struct {
	hashes   map[string]string
	verifier PasswordVerifier
}

// NewUsers creates an authenticator over hashes.
func NewUsers(hashes map[string]string) *Users {
	copied := make(map[string]string, len(hashes))
	for u, h := range hashes {
		copied[u] = h
	}
	return &Users{hashes: copied, verifier: BcryptVerifier{}}
}

// Authenticate returns ErrInvalidCredentials unless username exists and
// password matches its hash.
func (u *Users) Authenticate(username, password string) error {
	hash, ok := u.hashes[username]
	if !ok || username == "" {
		_ = u.verifier.Compare(string(dummyHash), password)
		return ErrInvalidCredentials
	}
	if err := u.verifier.Compare(hash, password); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// Len returns the number of configured users.
func (u *Users) Len() int {
	return len(u.hashes)
}

// HashPassword returns the bcrypt hash of password at the default cost.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
