package middleware

import (
	"net/http"
	"strings"

	"echovault-backend/pkg/auth"
	"echovault-backend/pkg/common"
	pkgerrors "echovault-backend/pkg/errors"
)

// Authenticate resolves the verified owner identity for every request and
// rejects unauthenticated ones before any storage access.
//
// In Lambda the API Gateway JWT authorizer has already verified the token;
// the proxy handler forwards the authorizer's subject in identity headers and
// this middleware only lifts it into the request context. Outside Lambda the
// bearer token is validated locally against the configured secret.
func Authenticate(validator *auth.JWTValidator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Gateway-verified path.
			if r.Header.Get("X-API-Gateway-Authorized") == "true" {
				userID := r.Header.Get("X-User-ID")
				if userID == "" {
					common.RespondAppError(w, pkgerrors.NewUnauthorizedError("missing user context from API gateway"))
					return
				}
				ctx := auth.SetUserInContext(r.Context(), &auth.UserContext{
					UserID: userID,
					Email:  r.Header.Get("X-User-Email"),
				})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			// Local bearer-token path.
			if validator == nil {
				common.RespondAppError(w, pkgerrors.NewUnauthorizedError("authentication not configured"))
				return
			}
			token := bearerToken(r)
			if token == "" {
				common.RespondAppError(w, pkgerrors.NewUnauthorizedError("missing authorization header"))
				return
			}
			claims, err := validator.ValidateToken(token)
			if err != nil {
				msg := "invalid token"
				if err == auth.ErrExpiredToken {
					msg = "token has expired"
				}
				common.RespondAppError(w, pkgerrors.NewUnauthorizedError(msg))
				return
			}

			ctx := auth.SetUserInContext(r.Context(), &auth.UserContext{
				UserID: claims.UserID,
				Email:  claims.Email,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}
