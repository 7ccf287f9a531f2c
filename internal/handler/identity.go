package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"

	"github.com/marketloop/checkout/internal/domain/identity"
)

// sessionTokenHeader carries the anonymous session token for guest requests.
const sessionTokenHeader = "X-Session-Token"

// identityKey is the context key for the resolved request identity.
type identityKey struct{}

// identityFromContext extracts the identity placed by the middleware.
func identityFromContext(ctx context.Context) (identity.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(identity.Identity)
	return id, ok
}

// Authenticator resolves the request owner: a user id from a signed bearer
// token, or an anonymous session token. Token issuance is someone else's job;
// this only validates.
type Authenticator struct {
	jwtSecret []byte
}

// NewAuthenticator creates an Authenticator verifying HS256 bearer tokens
// with the given secret.
func NewAuthenticator(jwtSecret []byte) *Authenticator {
	return &Authenticator{jwtSecret: jwtSecret}
}

// Middleware requires a resolvable identity and stores it on the context.
// A bearer token wins over a session token when both are present, so a
// just-logged-in client keeps working while it still sends its old guest
// token (the merge endpoint uses both).
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := a.resolve(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		ctx := context.WithValue(r.Context(), identityKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) resolve(r *http.Request) (identity.Identity, error) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		userID, err := a.userFromBearer(auth)
		if err != nil {
			return identity.Identity{}, err
		}
		return identity.User(userID)
	}
	if token := r.Header.Get(sessionTokenHeader); token != "" {
		return identity.Session(token)
	}
	return identity.Identity{}, identity.ErrMissing
}

// userFromBearer validates an HS256 JWT and returns its subject.
func (a *Authenticator) userFromBearer(header string) (string, error) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", errors.New("malformed authorization header")
	}

	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		return a.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", errors.Wrap(err, "parse bearer token")
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", errors.New("bearer token missing subject")
	}
	return sub, nil
}
