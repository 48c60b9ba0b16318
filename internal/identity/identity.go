// Package identity resolves the caller behind each request. Authentication
// itself happens upstream (a gateway or reverse proxy); this package turns
// whatever that layer forwards into an Actor the handlers can trust.
package identity

import (
	"context"
	"net/http"

	"github.com/circulateapp/circulate-server/internal/errors"
)

// Role classifies what an actor may do.
type Role string

const (
	// RoleUser is a regular library member.
	RoleUser Role = "user"
	// RoleAdmin may approve loans, resolve fines, and run the sweep.
	RoleAdmin Role = "admin"
)

// Actor is the resolved caller of a request.
type Actor struct {
	UserID string
	Role   Role
}

// IsAdmin reports whether the actor holds the admin role.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// Provider resolves an incoming request to an actor.
type Provider interface {
	Resolve(r *http.Request) (Actor, error)
}

// HeaderProvider trusts identity headers stamped by the upstream auth layer.
// It must only sit behind a gateway that strips these headers from outside
// traffic.
type HeaderProvider struct {
	UserHeader string
	RoleHeader string
}

// NewHeaderProvider creates a provider reading the default identity headers.
func NewHeaderProvider() *HeaderProvider {
	return &HeaderProvider{
		UserHeader: "X-User-ID",
		RoleHeader: "X-User-Role",
	}
}

func (p *HeaderProvider) Resolve(r *http.Request) (Actor, error) {
	userID := r.Header.Get(p.UserHeader)
	if userID == "" {
		return Actor{}, errors.Unauthorized("missing identity")
	}
	role := Role(r.Header.Get(p.RoleHeader))
	if role != RoleAdmin {
		role = RoleUser
	}
	return Actor{UserID: userID, Role: role}, nil
}

type contextKey struct{}

// WithActor stores the actor in the context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, contextKey{}, actor)
}

// ActorFrom retrieves the actor stored by the identity middleware.
func ActorFrom(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(contextKey{}).(Actor)
	return actor, ok
}

// MustActor retrieves the actor or returns an unauthorized error.
func MustActor(ctx context.Context) (Actor, error) {
	actor, ok := ActorFrom(ctx)
	if !ok {
		return Actor{}, errors.Unauthorized("no authenticated actor")
	}
	return actor, nil
}
