// Package identity decodes the client principal injected by the hosting platform.
package identity

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/lyzr/minutes/common/apperrors"
	"github.com/lyzr/minutes/common/naming"
)

// HeaderName is the request header carrying the base64 encoded principal.
const HeaderName = "X-MS-CLIENT-PRINCIPAL"

// Principal is the authenticated caller. A zero Principal means anonymous.
type Principal struct {
	IdentityProvider string   `json:"identityProvider,omitempty"`
	UserID           string   `json:"userId"`
	UserDetails      string   `json:"userDetails,omitempty"`
	UserRoles        []string `json:"userRoles,omitempty"`
}

// Known reports whether the principal identifies a user.
func (p Principal) Known() bool { return p.UserID != "" }

// DecodePrincipal parses the header value. An empty header yields an anonymous
// principal; a present but unreadable one, or one whose userId cannot serve
// as a users/{id}/ segment, is a validation error.
func DecodePrincipal(header string) (Principal, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return Principal{}, nil
	}
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		raw, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(header, "="))
		if err != nil {
			return Principal{}, apperrors.Wrap(apperrors.ErrValidation, "identity", "decode", "principal is not base64", err)
		}
	}
	var p Principal
	if err := json.Unmarshal(raw, &p); err != nil {
		return Principal{}, apperrors.Wrap(apperrors.ErrValidation, "identity", "decode", "principal is not json", err)
	}
	p.UserID = strings.TrimSpace(p.UserID)
	if p.UserID != "" && !naming.ValidUserID(p.UserID) {
		return Principal{}, apperrors.Wrap(apperrors.ErrValidation, "identity", "decode", "principal userId is not a valid path segment", nil)
	}
	return p, nil
}

// Encode produces a header value for p. Used by tools and tests that act as a user.
func Encode(p Principal) string {
	raw, _ := json.Marshal(p)
	return base64.StdEncoding.EncodeToString(raw)
}

type contextKey string

const principalKey contextKey = "principal"

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// FromContext returns the principal stored in ctx, or an anonymous one.
func FromContext(ctx context.Context) Principal {
	p, _ := ctx.Value(principalKey).(Principal)
	return p
}
