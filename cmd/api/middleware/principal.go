package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/minutes/common/clients"
	"github.com/lyzr/minutes/common/identity"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// PrincipalKey is the echo context key for the decoded principal
	PrincipalKey ContextKey = "principal"
)

// ExtractPrincipal decodes the X-MS-CLIENT-PRINCIPAL header injected by the
// hosting platform and stores it in both the echo context and the request
// context. A missing header means an anonymous caller; a header that cannot
// be decoded is rejected.
//
// Usage:
//
//	e := echo.New()
//	e.Use(middleware.ExtractPrincipal())
//
// Accessing in handlers:
//
//	p := middleware.GetPrincipal(c)
func ExtractPrincipal() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			principal, err := identity.DecodePrincipal(c.Request().Header.Get(identity.HeaderName))
			if err != nil {
				return c.JSON(http.StatusUnauthorized, map[string]interface{}{
					"error": "invalid " + identity.HeaderName + " header",
				})
			}

			ctx := identity.WithPrincipal(c.Request().Context(), principal)
			if principal.Known() {
				ctx = clients.WithUserID(ctx, principal.UserID)
			}
			if rid := c.Response().Header().Get(echo.HeaderXRequestID); rid != "" {
				ctx = clients.WithRequestID(ctx, rid)
			} else if rid := c.Request().Header.Get(echo.HeaderXRequestID); rid != "" {
				ctx = clients.WithRequestID(ctx, rid)
			}
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set(string(PrincipalKey), principal)

			return next(c)
		}
	}
}

// GetPrincipal retrieves the principal from the echo context.
// Returns an anonymous principal if not set
func GetPrincipal(c echo.Context) identity.Principal {
	p, _ := c.Get(string(PrincipalKey)).(identity.Principal)
	return p
}

// RequirePrincipal rejects anonymous callers.
func RequirePrincipal() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !GetPrincipal(c).Known() {
				return c.JSON(http.StatusUnauthorized, map[string]interface{}{
					"error": "authentication required",
				})
			}
			return next(c)
		}
	}
}
