// Package session resolves the identifier of the signed-in user.
//
// Authentication itself happens elsewhere; this package only reads what the
// identity provider left behind. A user id comes either from configuration
// (Static) or from the session file written by `flowsync login`, which holds
// a user id, an access token whose subject is the user id, or both.
package session

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoUser is returned when no user is signed in.
var ErrNoUser = errors.New("no authenticated user")

// Provider resolves the current user.
type Provider interface {
	// UserID returns the current user's id or ErrNoUser.
	UserID() (string, error)
}

// Static always resolves to the same user. The empty Static has no user.
type Static string

// UserID implements Provider.
func (s Static) UserID() (string, error) {
	if s == "" {
		return "", ErrNoUser
	}
	return string(s), nil
}

// Chain asks each provider in turn and returns the first user found.
type Chain []Provider

// UserID implements Provider.
func (c Chain) UserID() (string, error) {
	for _, p := range c {
		if p == nil {
			continue
		}
		id, err := p.UserID()
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, ErrNoUser) {
			return "", err
		}
	}
	return "", ErrNoUser
}

// UserFromToken returns the subject claim of a JWT access token. The
// signature is not verified: the token only names the user locally and the
// remote backend verifies it on every request.
func UserFromToken(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("failed to parse access token: %w", err)
	}
	if claims.Subject == "" {
		return "", errors.New("access token has no subject")
	}
	return claims.Subject, nil
}
