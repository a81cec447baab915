package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/render"
)

// ExpiredFunc runs when a request carries a correctly signed token that has
// expired, before the 401 is written. The user is the token's subject.
type ExpiredFunc func(r *http.Request, user *User)

// ErrorResponse is the JSON body of an authentication failure.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Middleware enforces JWT/API key auth for HTTP handlers. Bearer tokens are
// read from the Authorization header, or from the access_token query
// parameter for WebSocket upgrades that cannot set headers. onExpired may be
// nil.
func Middleware(service *Service, logger *slog.Logger, onExpired ExpiredFunc) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if service == nil || !service.Enabled() {
				next.ServeHTTP(w, r)
				return
			}

			if token := extractBearer(r); token != "" {
				user, err := service.ValidateJWT(token)
				switch {
				case errors.Is(err, ErrTokenExpired):
					logger.Info("expired token", "user_id", user.ID, "path", r.URL.Path)
					if onExpired != nil {
						onExpired(r.WithContext(WithUser(r.Context(), user)), user)
					}
					unauthorized(w, r, "token_expired", "token has expired")
					return
				case err != nil:
					logger.Warn("jwt validation failed", "error", err)
					unauthorized(w, r, "invalid_token", "invalid token")
					return
				}
				next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
				return
			}

			if apiKey := extractAPIKey(r); apiKey != "" {
				user, err := service.ValidateAPIKey(apiKey)
				if err != nil {
					logger.Warn("api key validation failed", "error", err)
					unauthorized(w, r, "invalid_api_key", "invalid api key")
					return
				}
				next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
				return
			}

			unauthorized(w, r, "missing_credentials", "missing credentials")
		})
	}
}

func unauthorized(w http.ResponseWriter, r *http.Request, code, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="roomviz"`)
	render.Status(r, http.StatusUnauthorized)
	render.JSON(w, r, ErrorResponse{Error: code, Message: message})
}

func extractBearer(r *http.Request) string {
	value := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(value), "bearer ") {
		return strings.TrimSpace(value[len("bearer "):])
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}

func extractAPIKey(r *http.Request) string {
	for _, key := range []string{"X-API-Key", "Api-Key"} {
		if trimmed := strings.TrimSpace(r.Header.Get(key)); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
