package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/duckmesh/dbchat/internal/observability"
)

type contextKey string

const identityKey contextKey = "auth_identity"

const (
	reasonMissingKey        = "missing API key"
	reasonInvalidKey        = "invalid API key"
	reasonUnsupportedScheme = "unsupported authorization scheme"
)

func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey).(Identity)
	return identity, ok
}

// Middleware resolves the caller from X-API-Key or a bearer token. Requests
// without a valid key never reach next.
func Middleware(logger *slog.Logger, validator APIKeyValidator) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey, reason := extractAPIKey(r)
			if reason == "" {
				identity, ok := validator.Validate(r.Context(), apiKey)
				if ok {
					logger.DebugContext(r.Context(), "authenticated",
						slog.String("trace_id", observability.TraceIDFromContext(r.Context())),
						slog.String("user_id", identity.UserID),
					)
					next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
					return
				}
				reason = reasonInvalidKey
			}

			logger.WarnContext(r.Context(), "authentication failed",
				slog.String("trace_id", observability.TraceIDFromContext(r.Context())),
				slog.String("path", r.URL.Path),
				slog.String("reason", reason),
			)
			writeUnauthorized(w, r, reason)
		})
	}
}

// extractAPIKey returns the presented key, or a failure reason when none
// usable was sent.
func extractAPIKey(r *http.Request) (string, string) {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key, ""
	}
	authorization := strings.TrimSpace(r.Header.Get("Authorization"))
	if authorization == "" {
		return "", reasonMissingKey
	}
	scheme, token, found := strings.Cut(authorization, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", reasonUnsupportedScheme
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", reasonMissingKey
	}
	return token, ""
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="dbchat"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error_code": "UNAUTHORIZED",
		"message":    message,
		"retryable":  false,
		"trace_id":   observability.TraceIDFromContext(r.Context()),
	})
}
