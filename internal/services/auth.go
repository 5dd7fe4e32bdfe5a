package services

import (
	"crypto/sha256"
	"crypto/subtle"
	"strings"

	"github.com/Riboost-Studio/print-my-bridge/internal/model"
)

// RequestAuthenticator checks bearer tokens against the TokenStore.
type RequestAuthenticator struct {
	tokens *TokenStore
}

func NewRequestAuthenticator(tokens *TokenStore) *RequestAuthenticator {
	return &RequestAuthenticator{tokens: tokens}
}

// Authenticate validates an Authorization header value. present is false when
// the request carried no Authorization header at all.
func (a *RequestAuthenticator) Authenticate(header string, present bool) error {
	if !present {
		return model.ErrAuthMissing
	}
	token, ok := parseBearer(header)
	if !ok {
		return model.ErrAuthMalformed
	}
	if !tokensEqual(token, a.tokens.Current()) {
		return model.ErrAuthInvalid
	}
	return nil
}

func parseBearer(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", false
	}
	return token, true
}

// Both sides are hashed first so the comparison runs over equal lengths and
// leaks neither the token length nor a matching prefix.
func tokensEqual(got, want string) bool {
	g := sha256.Sum256([]byte(got))
	w := sha256.Sum256([]byte(want))
	return subtle.ConstantTimeCompare(g[:], w[:]) == 1
}
