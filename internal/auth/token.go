// Package auth exposes the current access token to the presence layer.
//
// Token acquisition belongs to the login flow. This package only defines
// the accessor the stream and session clients consult before each call.
package auth

import (
	"context"
	"errors"
	"sync"
)

// ErrNoToken is returned when no access token is currently available.
var ErrNoToken = errors.New("no access token")

// TokenSource returns the current access token.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func(ctx context.Context) (string, error)

// AccessToken calls f.
func (f TokenFunc) AccessToken(ctx context.Context) (string, error) {
	return f(ctx)
}

// Static returns a TokenSource that always yields token.
func Static(token string) TokenSource {
	return TokenFunc(func(context.Context) (string, error) {
		if token == "" {
			return "", ErrNoToken
		}
		return token, nil
	})
}

// Holder stores the token the login flow hands over. The zero value holds
// no token.
type Holder struct {
	mu    sync.RWMutex
	token string
}

// NewHolder returns a Holder seeded with token.
func NewHolder(token string) *Holder {
	return &Holder{token: token}
}

// Set replaces the current token.
func (h *Holder) Set(token string) {
	h.mu.Lock()
	h.token = token
	h.mu.Unlock()
}

// Clear forgets the current token.
func (h *Holder) Clear() {
	h.Set("")
}

// AccessToken returns the current token or ErrNoToken.
func (h *Holder) AccessToken(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.token == "" {
		return "", ErrNoToken
	}
	return h.token, nil
}
