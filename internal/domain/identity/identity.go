// Package identity models the owner of a cart or order: either a registered
// user or an anonymous, token-identified guest session. Exactly one of the
// two is ever set.
package identity

import (
	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// Sentinel errors for identity validation.
var (
	ErrMissing      = errors.New("identity required")
	ErrAmbiguous    = errors.New("identity must be a user or a session, not both")
	ErrInvalidToken = errors.New("invalid session token")
)

// Identity is an opaque cart/order owner. The zero value is invalid.
type Identity struct {
	userID       string
	sessionToken string
}

// User returns an identity for a registered user.
func User(id string) (Identity, error) {
	if id == "" {
		return Identity{}, ErrMissing
	}
	return Identity{userID: id}, nil
}

// Session returns an identity for an anonymous guest session. Tokens are
// minted client-side, so the format is validated here: they must be UUIDs.
func Session(token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrMissing
	}
	if _, err := uuid.Parse(token); err != nil {
		return Identity{}, ErrInvalidToken
	}
	return Identity{sessionToken: token}, nil
}

// IsUser reports whether the identity belongs to a registered user.
func (i Identity) IsUser() bool { return i.userID != "" }

// UserID returns the user id, or "" for guest identities.
func (i Identity) UserID() string { return i.userID }

// SessionToken returns the session token, or "" for user identities.
func (i Identity) SessionToken() string { return i.sessionToken }

// Validate checks the exactly-one-owner invariant.
func (i Identity) Validate() error {
	switch {
	case i.userID == "" && i.sessionToken == "":
		return ErrMissing
	case i.userID != "" && i.sessionToken != "":
		return ErrAmbiguous
	}
	return nil
}

// Equal reports whether two identities refer to the same owner.
func (i Identity) Equal(other Identity) bool {
	return i.userID == other.userID && i.sessionToken == other.sessionToken
}

// String returns a loggable representation that does not leak the raw
// session token.
func (i Identity) String() string {
	if i.IsUser() {
		return "user:" + i.userID
	}
	if len(i.sessionToken) >= 8 {
		return "session:" + i.sessionToken[:8]
	}
	return "session:?"
}
