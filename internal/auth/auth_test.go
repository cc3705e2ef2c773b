package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certforge/certforge/internal/auth"
	"github.com/certforge/certforge/internal/storage"
)

var secret = []byte("test-secret-0123456789abcdefghij")

func TestHasRole(t *testing.T) {
	issuer := auth.Identity{Roles: []string{auth.RoleIssuer}}
	assert.True(t, issuer.HasRole(auth.RoleIssuer))
	assert.False(t, issuer.HasRole(auth.RoleAdmin))

	admin := auth.Identity{Roles: []string{auth.RoleAdmin}}
	assert.True(t, admin.HasRole(auth.RoleAdmin))
	assert.True(t, admin.HasRole(auth.RoleIssuer), "admin implies issuer")

	nobody := auth.Identity{}
	assert.False(t, nobody.HasRole(auth.RoleIssuer))
}

func TestTokenRoundTrip(t *testing.T) {
	id := auth.Identity{UID: "user-1", OrgID: "org-1", Roles: []string{auth.RoleIssuer}}
	token, err := auth.MintToken(secret, id)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	// Verify through the middleware, the only consumer.
	e := echo.New()
	store := storage.NewMemoryStorage()
	var got auth.Identity
	handler := auth.BearerAuthMiddleware(secret, store, auth.RoleIssuer)(func(c echo.Context) error {
		var ok bool
		got, ok = auth.IdentityFrom(c)
		require.True(t, ok)
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec := httptest.NewRecorder()
	require.NoError(t, handler(e.NewContext(req, rec)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, got)
}

func TestMiddlewareRejections(t *testing.T) {
	e := echo.New()
	store := storage.NewMemoryStorage()
	mw := auth.BearerAuthMiddleware(secret, store, auth.RoleAdmin)
	next := func(c echo.Context) error { return c.NoContent(http.StatusOK) }

	invoke := func(header string) error {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set(echo.HeaderAuthorization, header)
		}
		return mw(next)(e.NewContext(req, httptest.NewRecorder()))
	}

	httpStatus := func(err error) int {
		var he *echo.HTTPError
		require.ErrorAs(t, err, &he)
		return he.Code
	}

	t.Run("missing header", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, httpStatus(invoke("")))
	})

	t.Run("empty bearer", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, httpStatus(invoke("Bearer ")))
	})

	t.Run("unparseable token", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, httpStatus(invoke("Bearer not.a.token")))
	})

	t.Run("wrong signing key", func(t *testing.T) {
		token, err := auth.MintToken([]byte("other-secret-0123456789abcdefghi"), auth.Identity{Roles: []string{auth.RoleAdmin}})
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, httpStatus(invoke("Bearer "+token)))
	})

	t.Run("valid token, missing role", func(t *testing.T) {
		token, err := auth.MintToken(secret, auth.Identity{UID: "u", Roles: []string{auth.RoleIssuer}})
		require.NoError(t, err)
		assert.Equal(t, http.StatusForbidden, httpStatus(invoke("Bearer "+token)))
	})
}
