package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/hems-dispatch/internal/auth"
	"github.com/ukydev/hems-dispatch/internal/models"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	UserContextKey contextKey = "user"
)

// APIKeyHeader carries plugin and bridge keys.
const APIKeyHeader = "x-api-key"

// AuthMiddleware authenticates requests by session token or plugin API key
type AuthMiddleware struct {
	authService *auth.Service
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(authService *auth.Service) *AuthMiddleware {
	return &AuthMiddleware{
		authService: authService,
	}
}

// Authenticate accepts an x-api-key header or a Bearer token, preferring the
// key when both are sent, and adds the identity to the request context.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shouldSkipAuth(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		var (
			claims *models.Claims
			err    error
		)
		switch {
		case r.Header.Get(APIKeyHeader) != "":
			claims, err = m.authService.VerifyAPIKey(r.Context(), r.Header.Get(APIKeyHeader))
		case r.Header.Get("Authorization") != "":
			claims, err = m.authService.ValidateToken(r.Header.Get("Authorization"))
		default:
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if err != nil {
			if !errors.Is(err, auth.ErrInvalidAPIKey) && !errors.Is(err, auth.ErrInvalidToken) && !errors.Is(err, auth.ErrExpiredToken) {
				logrus.WithError(err).Error("Credential lookup failed")
				http.Error(w, "Authentication unavailable", http.StatusInternalServerError)
				return
			}
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), claims)))
	})
}

// RequirePermission middleware checks if the caller's role allows action
func (m *AuthMiddleware) RequirePermission(action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := GetUserFromContext(r.Context())
			if !ok {
				http.Error(w, "User context not found", http.StatusUnauthorized)
				return
			}

			if !claims.Role.HasPermission(action) {
				http.Error(w, "Insufficient permissions", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// WithUser attaches claims to ctx.
func WithUser(ctx context.Context, claims *models.Claims) context.Context {
	return context.WithValue(ctx, UserContextKey, claims)
}

// GetUserFromContext extracts user claims from request context
func GetUserFromContext(ctx context.Context) (*models.Claims, bool) {
	claims, ok := ctx.Value(UserContextKey).(*models.Claims)
	return claims, ok && claims != nil
}

// shouldSkipAuth determines if authentication should be skipped for a given path
func shouldSkipAuth(path string) bool {
	skipPaths := []string{
		"/health",
	}

	for _, skipPath := range skipPaths {
		if strings.HasPrefix(path, skipPath) {
			return true
		}
	}
	return false
}

// RateLimitMiddleware provides sliding-window rate limiting
type RateLimitMiddleware struct {
	requests  map[string][]int64 // caller -> unix timestamps
	mu        sync.Mutex
	now       func() time.Time
	lastSweep int64
}

// NewRateLimitMiddleware creates a new rate limiting middleware
func NewRateLimitMiddleware() *RateLimitMiddleware {
	return &RateLimitMiddleware{
		requests: make(map[string][]int64),
		now:      time.Now,
	}
}

// RateLimit allows maxRequests per window for each caller. Authenticated
// callers are keyed by identity, anonymous ones by client IP.
func (m *RateLimitMiddleware) RateLimit(maxRequests int, windowSeconds int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := callerKey(r)

			now := m.now().Unix()
			windowStart := now - int64(windowSeconds)

			m.mu.Lock()
			if now-m.lastSweep >= int64(windowSeconds) {
				m.sweepLocked(windowStart)
				m.lastSweep = now
			}
			var valid []int64
			for _, ts := range m.requests[caller] {
				if ts > windowStart {
					valid = append(valid, ts)
				}
			}
			if len(valid) >= maxRequests {
				m.requests[caller] = valid
				m.mu.Unlock()
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			m.requests[caller] = append(valid, now)
			m.mu.Unlock()

			next.ServeHTTP(w, r)
		})
	}
}

// sweepLocked drops callers with no request inside the window.
func (m *RateLimitMiddleware) sweepLocked(windowStart int64) {
	for caller, stamps := range m.requests {
		if len(stamps) == 0 || stamps[len(stamps)-1] <= windowStart {
			delete(m.requests, caller)
		}
	}
}

func callerKey(r *http.Request) string {
	if claims, ok := GetUserFromContext(r.Context()); ok {
		if claims.APIKeyID != "" {
			return "key:" + claims.APIKeyID
		}
		return "user:" + claims.UserID
	}
	return "ip:" + getClientIP(r)
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}

	ip := r.RemoteAddr
	if colonIndex := strings.LastIndex(ip, ":"); colonIndex != -1 {
		ip = ip[:colonIndex]
	}
	return ip
}
