package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/minutes/common/clients"
	"github.com/lyzr/minutes/common/identity"
)

func serve(t *testing.T, header string, mws ...echo.MiddlewareFunc) (*httptest.ResponseRecorder, identity.Principal, string) {
	t.Helper()
	e := echo.New()
	var seen identity.Principal
	var ctxUser string
	handler := func(c echo.Context) error {
		seen = GetPrincipal(c)
		ctxUser, _ = clients.GetUserID(c.Request().Context())
		assert.Equal(t, seen, identity.FromContext(c.Request().Context()))
		return c.NoContent(http.StatusNoContent)
	}
	e.GET("/", handler, mws...)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set(identity.HeaderName, header)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec, seen, ctxUser
}

func TestExtractPrincipal(t *testing.T) {
	header := identity.Encode(identity.Principal{UserID: "alice", UserDetails: "alice@example.com"})

	rec, p, user := serve(t, header, ExtractPrincipal())
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "alice", p.UserID)
	assert.Equal(t, "alice@example.com", p.UserDetails)
	assert.Equal(t, "alice", user)
}

func TestExtractPrincipalAnonymous(t *testing.T) {
	rec, p, user := serve(t, "", ExtractPrincipal())
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, p.Known())
	assert.Empty(t, user)
}

func TestExtractPrincipalRejectsGarbage(t *testing.T) {
	rec, _, _ := serve(t, "!!!not-base64!!!", ExtractPrincipal())
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _, _ = serve(t, identity.Encode(identity.Principal{UserID: "alice/../bob"}), ExtractPrincipal())
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequirePrincipal(t *testing.T) {
	rec, _, _ := serve(t, "", ExtractPrincipal(), RequirePrincipal())
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _, _ = serve(t, identity.Encode(identity.Principal{UserID: "bob"}), ExtractPrincipal(), RequirePrincipal())
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
