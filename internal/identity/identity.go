// Package identity carries the caller's identity through a request. The
// session itself is owned elsewhere; this package only verifies the bearer
// token the session layer issues and exposes who is calling.
package identity

import (
	"context"
)

// Identity is the resolved caller for one request.
type Identity struct {
	UserID         string
	OrganisationID string
	Authenticated  bool
}

// Anonymous is the identity of a caller without a valid session.
var Anonymous = Identity{}

// IsAuthenticated reports whether the identity can be used for access checks.
// An identity without a user or organisation is never authenticated.
func (i Identity) IsAuthenticated() bool {
	return i.Authenticated && i.UserID != "" && i.OrganisationID != ""
}

type ctxKey struct{}

// WithIdentity attaches id to ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the caller attached to ctx, or Anonymous.
func FromContext(ctx context.Context) Identity {
	if id, ok := ctx.Value(ctxKey{}).(Identity); ok {
		return id
	}
	return Anonymous
}

// Authenticated is a convenience constructor used by tests and tooling.
func Authenticated(userID, organisationID string) Identity {
	return Identity{UserID: userID, OrganisationID: organisationID, Authenticated: true}
}
