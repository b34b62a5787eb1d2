package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// contextKey is used for storing claims in context.
type contextKey string

const claimsContextKey contextKey = "claims"

// TokenVerifier turns a bearer token into claims. *Provider implements it.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, rawToken string) (*Claims, error)
	VerifyAccessToken(ctx context.Context, accessToken string) (*Claims, error)
}

// Middleware provides HTTP middleware for authentication and authorization.
type Middleware struct {
	verifier      TokenVerifier
	enabled       bool
	publicPaths   map[string]bool
	requiredRoles []string
}

// MiddlewareConfig holds middleware configuration.
type MiddlewareConfig struct {
	// Enabled controls whether auth is enforced
	Enabled bool

	// PublicPaths are paths that don't require authentication
	PublicPaths []string

	// RequiredRoles grants access when the caller holds any of them
	RequiredRoles []string
}

// NewMiddleware creates a new auth middleware.
func NewMiddleware(verifier TokenVerifier, cfg *MiddlewareConfig) *Middleware {
	if cfg == nil {
		cfg = &MiddlewareConfig{}
	}

	publicPaths := map[string]bool{
		"/health":  true,
		"/healthz": true,
		"/ready":   true,
		"/metrics": true,
	}
	for _, p := range cfg.PublicPaths {
		publicPaths[p] = true
	}

	return &Middleware{
		verifier:      verifier,
		enabled:       cfg.Enabled,
		publicPaths:   publicPaths,
		requiredRoles: cfg.RequiredRoles,
	}
}

// Handler returns the auth middleware handler.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.publicPaths[r.URL.Path] || !m.enabled || m.verifier == nil {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			unauthorized(w, "missing authorization header")
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			unauthorized(w, "invalid authorization header format")
			return
		}

		claims, err := m.verifier.VerifyToken(r.Context(), token)
		if err != nil {
			// Not a JWT we can verify; try it as an opaque access token.
			claims, err = m.verifier.VerifyAccessToken(r.Context(), token)
			if err != nil {
				unauthorized(w, "invalid token")
				return
			}
		}

		if claims.IsExpired() {
			unauthorized(w, "token expired")
			return
		}

		if len(m.requiredRoles) > 0 {
			hasRole := false
			for _, role := range m.requiredRoles {
				if claims.HasRole(role) {
					hasRole = true
					break
				}
			}
			if !hasRole {
				writeError(w, http.StatusForbidden, "forbidden", "insufficient permissions")
				return
			}
		}

		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// WithClaims stores claims in the context.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// GetClaims extracts claims from the request context.
func GetClaims(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsContextKey).(*Claims)
	return claims
}

// Principal returns the authenticated caller, or "" when auth is off.
func Principal(ctx context.Context) string {
	if claims := GetClaims(ctx); claims != nil {
		return claims.Principal()
	}
	return ""
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="mentatlab"`)
	writeError(w, http.StatusUnauthorized, "unauthorized", message)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}

// PerIPRateLimiter provides per-IP rate limiting.
type PerIPRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiter
	rps      float64
	burst    int
	idle     time.Duration
	logger   *slog.Logger
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewPerIPRateLimiter creates a new per-IP rate limiter.
// rps is requests per second, burst is the maximum burst size.
func NewPerIPRateLimiter(rps float64, burst int, logger *slog.Logger) *PerIPRateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &PerIPRateLimiter{
		limiters: make(map[string]*ipLimiter),
		rps:      rps,
		burst:    burst,
		idle:     time.Hour,
		logger:   logger,
	}
}

func (rl *PerIPRateLimiter) allow(ip string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.limiters[ip]
	if !ok {
		entry = &ipLimiter{limiter: rate.NewLimiter(rate.Limit(rl.rps), rl.burst)}
		rl.limiters[ip] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// Sweep drops limiters idle since before now minus the idle window.
func (rl *PerIPRateLimiter) Sweep(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for ip, entry := range rl.limiters {
		if now.Sub(entry.lastSeen) > rl.idle {
			delete(rl.limiters, ip)
			removed++
		}
	}
	return removed
}

// StartCleanup sweeps idle limiters until ctx is done.
func (rl *PerIPRateLimiter) StartCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(rl.idle / 4)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				rl.Sweep(now)
			}
		}
	}()
}

// Handler returns the per-IP rate limiting middleware handler.
func (rl *PerIPRateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !rl.allow(ip, time.Now()) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			rl.logger.Warn("rate limit exceeded", slog.String("ip", ip))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	// First X-Forwarded-For entry is the original client
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
