package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"github.com/keyfold/keyfold/pkg/contextkeys"
	"github.com/keyfold/keyfold/pkg/directory"
	"github.com/keyfold/keyfold/pkg/httputil"
	"github.com/keyfold/keyfold/pkg/orgs"
)

// UserResolver looks up the user behind a token hash. Implemented by
// *directory.Postgres.
type UserResolver interface {
	GetUserByTokenHash(ctx context.Context, tokenHash string) (*directory.User, error)
}

// Auth authenticates requests by bearer token. Tokens are stored hashed;
// the raw token never touches the database.
type Auth struct {
	users UserResolver
}

// NewAuth creates an authentication middleware.
func NewAuth(users UserResolver) *Auth {
	return &Auth{users: users}
}

// HashToken returns the hex SHA-256 digest under which a token is stored.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Handler wraps an HTTP handler with authentication.
func (a *Auth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			httputil.WriteUnauthorized(w, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			httputil.WriteUnauthorized(w, "invalid authorization header format")
			return
		}

		user, err := a.users.GetUserByTokenHash(r.Context(), HashToken(parts[1]))
		if err != nil {
			if errors.Is(err, directory.ErrNotFound) {
				httputil.WriteUnauthorized(w, "invalid or expired token")
				return
			}
			httputil.WriteInternalError(w, err)
			return
		}

		actor := orgs.Actor{UserID: user.ID, Email: user.Email}
		ctx := contextkeys.WithActor(r.Context(), actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ActorFrom extracts the authenticated caller from the request context.
func ActorFrom(ctx context.Context) (orgs.Actor, bool) {
	actor, ok := ctx.Value(contextkeys.ActorKey).(orgs.Actor)
	return actor, ok
}
