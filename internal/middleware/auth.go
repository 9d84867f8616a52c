// Package middleware contains HTTP middleware for the usage metering
// service.
//
// Middleware functions follow the standard Go pattern of wrapping
// http.Handler and are composed with Stack.
package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

// Middleware is a function that wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Stack composes middleware so the first argument is the outermost wrapper.
func Stack(middlewares ...Middleware) Middleware {
	return func(next http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// ServiceAuthMiddleware authenticates internal callers with a shared
// bearer token. The gateway that fronts this service is trusted to have
// authenticated the end user; this token only proves the request came
// from inside the platform.
type ServiceAuthMiddleware struct {
	token   string
	logger  *slog.Logger
	enabled bool
}

// NewServiceAuthMiddleware creates a new service auth middleware.
// An empty token disables authentication (development only).
func NewServiceAuthMiddleware(token string, logger *slog.Logger) *ServiceAuthMiddleware {
	return &ServiceAuthMiddleware{
		token:   token,
		logger:  logger,
		enabled: token != "",
	}
}

// Handler returns middleware that requires a valid bearer token.
func (m *ServiceAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.enabled {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			m.unauthorized(w, r)
			return
		}

		// Constant-time comparison to prevent timing attacks
		if subtle.ConstantTimeCompare([]byte(token), []byte(m.token)) != 1 {
			m.unauthorized(w, r)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *ServiceAuthMiddleware) unauthorized(w http.ResponseWriter, r *http.Request) {
	m.logger.Warn("rejected unauthenticated request", "path", r.URL.Path, "ip", getClientIP(r))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":{"code":"unauthorized","message":"Service token required"}}`))
}

// getClientIP extracts the client IP, honoring X-Forwarded-For from the
// load balancer.
func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if idx := strings.Index(forwarded, ","); idx != -1 {
			return strings.TrimSpace(forwarded[:idx])
		}
		return strings.TrimSpace(forwarded)
	}
	return r.RemoteAddr
}
