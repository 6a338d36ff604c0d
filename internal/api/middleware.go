/**
 * @description
 * This file contains the authentication middleware for the HTTP router. The
 * surrounding platform issues HS256 JWTs; this middleware validates them and
 * puts the caller's identity (user id and superuser flag) on the request
 * context. No identity management lives in this service.
 */

package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// identityContextKey is a custom type for context keys to avoid collisions.
type identityContextKey string

const (
	userIDKey    identityContextKey = "userID"
	superuserKey identityContextKey = "superuser"
)

// AuthMiddleware creates a middleware that validates bearer JWTs signed with
// the shared HMAC secret. The `sub` claim must be the user's UUID; the
// optional `superuser` claim grants access to privileged endpoints.
func AuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				http.Error(w, "Invalid token claims", http.StatusUnauthorized)
				return
			}

			sub, ok := claims["sub"].(string)
			if !ok {
				http.Error(w, "User ID not found in token", http.StatusUnauthorized)
				return
			}
			userID, err := uuid.Parse(sub)
			if err != nil {
				http.Error(w, "User ID is not a valid UUID", http.StatusUnauthorized)
				return
			}

			superuser, _ := claims["superuser"].(bool)

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			ctx = context.WithValue(ctx, superuserKey, superuser)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireSuperuser rejects authenticated callers without the superuser claim.
func RequireSuperuser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IsSuperuser(r.Context()) {
			http.Error(w, "Superuser privileges required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetUserID retrieves the authenticated user's UUID from the context.
func GetUserID(ctx context.Context) (uuid.UUID, bool) {
	userID, ok := ctx.Value(userIDKey).(uuid.UUID)
	return userID, ok
}

// IsSuperuser reports whether the authenticated caller is a superuser.
func IsSuperuser(ctx context.Context) bool {
	superuser, _ := ctx.Value(superuserKey).(bool)
	return superuser
}
