package auth

import (
	"context"

	pkgerrors "echovault-backend/pkg/errors"
)

// UserContext carries the verified owner identity for a request. The service
// trusts this identifier completely and never re-derives it; requests without
// one are rejected before any storage access.
type UserContext struct {
	UserID string
	Email  string
}

type contextKey string

const userContextKey contextKey = "user_context"

// SetUserInContext attaches the verified identity to the request context.
func SetUserInContext(ctx context.Context, user *UserContext) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// GetUserFromContext extracts the verified identity from the request context.
func GetUserFromContext(ctx context.Context) (*UserContext, error) {
	user, ok := ctx.Value(userContextKey).(*UserContext)
	if !ok || user == nil || user.UserID == "" {
		return nil, pkgerrors.NewUnauthorizedError("missing user identity")
	}
	return user, nil
}
