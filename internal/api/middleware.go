package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	apperrors "github.com/circulateapp/circulate-server/internal/errors"
	"github.com/circulateapp/circulate-server/internal/identity"
)

// EnvelopeVersion is the wire version of the response envelope. Bump when
// the envelope shape itself changes; payload changes do not count.
const EnvelopeVersion = 1

// APIEnvelope wraps every successful response body. Clients switch on the
// success flag before touching data.
type APIEnvelope struct { //nolint:revive // API prefix is intentional for clarity
	Version int    `json:"v"`
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// APIErrorEnvelope wraps error responses that carry a machine-readable code
// and optional details alongside the message.
type APIErrorEnvelope struct { //nolint:revive // API prefix is intentional for clarity
	Version int    `json:"v"`
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// EnvelopeTransformer wraps every response in the versioned envelope.
// Append it to huma's config transformers before creating the API.
func EnvelopeTransformer(_ huma.Context, status string, v any) (any, error) {
	if apiErr, ok := v.(*APIError); ok {
		return APIErrorEnvelope{
			Version: EnvelopeVersion,
			Success: false,
			Code:    apiErr.Code,
			Message: apiErr.Message,
			Details: apiErr.Details,
		}, nil
	}

	if err, ok := v.(error); ok {
		return APIEnvelope{
			Version: EnvelopeVersion,
			Success: false,
			Error:   err.Error(),
		}, nil
	}

	code, convErr := strconv.Atoi(status)
	if convErr != nil {
		code = http.StatusOK
	}

	return APIEnvelope{
		Version: EnvelopeVersion,
		Success: code < http.StatusBadRequest,
		Data:    v,
	}, nil
}

// identityMiddleware resolves the caller from the request and stores the
// actor in context. Requests without a resolvable identity continue without
// one; handlers reject via CurrentActor when they need it.
func identityMiddleware(provider identity.Provider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, err := provider.Resolve(r)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(identity.WithActor(r.Context(), actor)))
		})
	}
}

// CurrentActor returns the resolved caller from context.
// Returns 401 if the request carried no identity.
func CurrentActor(ctx context.Context) (identity.Actor, error) {
	actor, ok := identity.ActorFrom(ctx)
	if !ok {
		return identity.Actor{}, huma.Error401Unauthorized("Authentication required")
	}
	return actor, nil
}

// RequireAdmin validates the caller is authenticated and holds the admin role.
// Returns the actor ID if successful, error otherwise.
func (s *Server) RequireAdmin(ctx context.Context) (string, error) {
	actor, err := CurrentActor(ctx)
	if err != nil {
		return "", err
	}
	if !actor.IsAdmin() {
		return "", apperrors.Forbidden("Admin access required")
	}
	return actor.UserID, nil
}

// RequireSelfOrAdmin validates the caller is either the named user or an
// admin. Returns the actor ID if successful.
func (s *Server) RequireSelfOrAdmin(ctx context.Context, userID string) (string, error) {
	actor, err := CurrentActor(ctx)
	if err != nil {
		return "", err
	}
	if actor.UserID != userID && !actor.IsAdmin() {
		return "", apperrors.Forbidden("Access to another user's records requires admin role")
	}
	return actor.UserID, nil
}
