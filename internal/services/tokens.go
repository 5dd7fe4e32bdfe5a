package services

import (
	"crypto/rand"
	"encoding/base64"
	"sync/atomic"
)

// tokenBytes gives 256 bits of entropy.
const tokenBytes = 32

// TokenStore owns the bearer token. Readers racing a rotation see either the
// old or the new token.
type TokenStore struct {
	current atomic.Pointer[string]
}

// NewTokenStore keeps a persisted token when one exists, otherwise it
// generates a fresh one.
func NewTokenStore(initial string) *TokenStore {
	s := &TokenStore{}
	if initial == "" {
		initial = GenerateToken()
	}
	s.current.Store(&initial)
	return s
}

// Current returns the token that protected routes accept right now.
func (s *TokenStore) Current() string {
	return *s.current.Load()
}

// Rotate replaces the token. The previous one stops working immediately.
func (s *TokenStore) Rotate() string {
	token := GenerateToken()
	s.current.Store(&token)
	return token
}

// Replace installs a token read back from configuration. Empty tokens are ignored.
func (s *TokenStore) Replace(token string) bool {
	if token == "" || token == s.Current() {
		return false
	}
	s.current.Store(&token)
	return true
}

// GenerateToken returns a URL-safe random token.
func GenerateToken() string {
	buf := make([]byte, tokenBytes)
	// crypto/rand.Read never returns an error; it aborts the process if the
	// system source fails.
	_, _ = rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf)
}
