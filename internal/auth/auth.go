// Package auth resolves the caller identity minted by the external
// identity provider: either an HS256-signed bearer token carrying
// uid/org/role claims, or a stored API key with roles.
package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/certforge/certforge/internal/storage"
)

var logger *zap.Logger

func init() {
	logger = zap.L().With(zap.String("package", "auth"))
}

// Roles understood by the route gates.
const (
	RoleIssuer = "issuer"
	RoleAdmin  = "admin"
)

// identityContextKey is where middleware stores the resolved identity.
const identityContextKey = "identity"

// Identity is the authenticated caller.
type Identity struct {
	UID   string   `json:"uid"`
	OrgID string   `json:"org"`
	Roles []string `json:"roles"`
}

// HasRole reports whether the identity carries the role. The admin role
// implies issuer.
func (id Identity) HasRole(role string) bool {
	for _, r := range id.Roles {
		if r == role {
			return true
		}
		if r == RoleAdmin && role == RoleIssuer {
			return true
		}
	}
	return false
}

// IdentityFrom returns the identity the middleware stored on the context.
func IdentityFrom(c echo.Context) (Identity, bool) {
	id, ok := c.Get(identityContextKey).(Identity)
	return id, ok
}

// MintToken signs an identity into a compact HS256 JWS. Used by tests and
// local tooling; production tokens come from the identity provider.
func MintToken(secret []byte, id Identity) (string, error) {
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: secret}, nil)
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(id)
	if err != nil {
		return "", err
	}
	obj, err := signer.Sign(payload)
	if err != nil {
		return "", err
	}
	return obj.CompactSerialize()
}

// verifyToken parses and verifies a compact JWS and decodes its claims.
func verifyToken(secret []byte, token string) (Identity, error) {
	var id Identity
	jws, err := jose.ParseSigned(token, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return id, err
	}
	payload, err := jws.Verify(secret)
	if err != nil {
		return id, err
	}
	err = json.Unmarshal(payload, &id)
	return id, err
}

// BearerAuthMiddleware authenticates the request and requires the given
// role. The Authorization header carries either a signed bearer token or a
// stored API key. Missing/invalid credentials yield 401, a valid identity
// without the role yields 403.
func BearerAuthMiddleware(secret []byte, store storage.Storage, requiredRole string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if header == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Missing Authorization header")
			}
			token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
			if token == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Empty bearer token")
			}

			identity, err := verifyToken(secret, token)
			if err != nil {
				// Not a signed token; try it as a stored API key.
				roles, keyErr := store.GetAPIKey(c.Request().Context(), token)
				if keyErr != nil {
					logger.Debug("credential rejected", zap.Error(err))
					return echo.NewHTTPError(http.StatusUnauthorized, "Invalid credentials")
				}
				identity = Identity{UID: "api-key", Roles: roles}
			}

			if !identity.HasRole(requiredRole) {
				return echo.NewHTTPError(http.StatusForbidden, "Insufficient role")
			}
			c.Set(identityContextKey, identity)
			return next(c)
		}
	}
}
