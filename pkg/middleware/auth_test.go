package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyfold/keyfold/pkg/directory"
	"github.com/keyfold/keyfold/pkg/orgs"
)

type fakeUserResolver struct {
	usersByHash map[string]*directory.User
}

func (f *fakeUserResolver) GetUserByTokenHash(_ context.Context, tokenHash string) (*directory.User, error) {
	user, ok := f.usersByHash[tokenHash]
	if !ok {
		return nil, directory.ErrNotFound
	}
	return user, nil
}

func TestAuthHandler(t *testing.T) {
	resolver := &fakeUserResolver{usersByHash: map[string]*directory.User{
		HashToken("valid-token"): {ID: "user-1", Email: "user@example.com"},
	}}
	auth := NewAuth(resolver)

	var gotActor orgs.Actor
	var called bool
	handler := auth.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		gotActor, _ = ActorFrom(r.Context())
	}))

	t.Run("valid token attaches the actor", func(t *testing.T) {
		called = false
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer valid-token")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		require.True(t, called)
		assert.Equal(t, "user-1", gotActor.UserID)
		assert.Equal(t, "user@example.com", gotActor.Email)
	})

	t.Run("missing header is 401", func(t *testing.T) {
		called = false
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.False(t, called)
	})

	t.Run("malformed header is 401", func(t *testing.T) {
		called = false
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.False(t, called)
	})

	t.Run("unknown token is 401", func(t *testing.T) {
		called = false
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer wrong-token")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.False(t, called)
	})
}

func TestHashToken(t *testing.T) {
	assert.Len(t, HashToken("token"), 64)
	assert.NotEqual(t, HashToken("a"), HashToken("b"))
	assert.Equal(t, HashToken("a"), HashToken("a"))
}
