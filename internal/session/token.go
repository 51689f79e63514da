package session

import "errors"

var (
	ErrAuthMissing = errors.New("auth token missing")
	ErrAuthExpired = errors.New("auth token expired")
)

// TokenSupplier yields the current authentication token for the session. The
// core does not know where tokens come from; callers inject a supplier that
// reads whatever credential source the host application uses.
type TokenSupplier func() (string, error)

// StaticToken builds a supplier around a fixed token string.
func StaticToken(token string) TokenSupplier {
	return func() (string, error) {
		if token == "" {
			return "", ErrAuthMissing
		}
		return token, nil
	}
}
