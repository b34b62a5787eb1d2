package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// fakeVerifier accepts "id-<sub>" as ID tokens and "at-<sub>" as access tokens.
type fakeVerifier struct {
	roles  []string
	expiry time.Time
}

func (f *fakeVerifier) VerifyToken(ctx context.Context, raw string) (*Claims, error) {
	if len(raw) > 3 && raw[:3] == "id-" {
		return &Claims{Subject: raw[3:], Roles: f.roles, Expiry: f.expiry}, nil
	}
	return nil, errors.New("not an id token")
}

func (f *fakeVerifier) VerifyAccessToken(ctx context.Context, raw string) (*Claims, error) {
	if len(raw) > 3 && raw[:3] == "at-" {
		return &Claims{Subject: raw[3:], Email: raw[3:] + "@example.com", Roles: f.roles}, nil
	}
	return nil, errors.New("not an access token")
}

func principalHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(Principal(r.Context())))
	})
}

func TestMiddleware_Handler(t *testing.T) {
	tests := []struct {
		name       string
		verifier   *fakeVerifier
		cfg        *MiddlewareConfig
		path       string
		header     string
		wantStatus int
		wantBody   string
	}{
		{"disabled passes through", &fakeVerifier{}, &MiddlewareConfig{}, "/runs", "", http.StatusOK, ""},
		{"public path", &fakeVerifier{}, &MiddlewareConfig{Enabled: true}, "/health", "", http.StatusOK, ""},
		{"missing header", &fakeVerifier{}, &MiddlewareConfig{Enabled: true}, "/runs", "", http.StatusUnauthorized, ""},
		{"not bearer", &fakeVerifier{}, &MiddlewareConfig{Enabled: true}, "/runs", "Basic abc", http.StatusUnauthorized, ""},
		{"invalid token", &fakeVerifier{}, &MiddlewareConfig{Enabled: true}, "/runs", "Bearer junk", http.StatusUnauthorized, ""},
		{"id token", &fakeVerifier{}, &MiddlewareConfig{Enabled: true}, "/runs", "Bearer id-alice", http.StatusOK, "alice"},
		{"access token fallback", &fakeVerifier{}, &MiddlewareConfig{Enabled: true}, "/runs", "Bearer at-bob", http.StatusOK, "bob@example.com"},
		{"expired", &fakeVerifier{expiry: time.Now().Add(-time.Minute)}, &MiddlewareConfig{Enabled: true}, "/runs", "Bearer id-alice", http.StatusUnauthorized, ""},
		{"missing role", &fakeVerifier{roles: []string{"viewer"}}, &MiddlewareConfig{Enabled: true, RequiredRoles: []string{"pipeline"}}, "/runs", "Bearer id-alice", http.StatusForbidden, ""},
		{"has role", &fakeVerifier{roles: []string{"pipeline"}}, &MiddlewareConfig{Enabled: true, RequiredRoles: []string{"admin", "pipeline"}}, "/runs", "Bearer id-alice", http.StatusOK, "alice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewMiddleware(tt.verifier, tt.cfg).Handler(principalHandler())
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if tt.wantStatus == http.StatusOK && rec.Body.String() != tt.wantBody {
				t.Errorf("expected principal %q, got %q", tt.wantBody, rec.Body.String())
			}
			if tt.wantStatus == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("expected WWW-Authenticate header")
			}
		})
	}
}

func TestPerIPRateLimiter(t *testing.T) {
	rl := NewPerIPRateLimiter(0.001, 2, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	do := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/runs", nil)
		req.RemoteAddr = ip + ":5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if do("10.0.0.1") != http.StatusOK || do("10.0.0.1") != http.StatusOK {
		t.Fatal("burst requests should pass")
	}
	if code := do("10.0.0.1"); code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", code)
	}
	if code := do("10.0.0.2"); code != http.StatusOK {
		t.Errorf("other client should not be limited, got %d", code)
	}

	if n := rl.Sweep(time.Now()); n != 0 {
		t.Errorf("expected no idle limiters, got %d", n)
	}
	if n := rl.Sweep(time.Now().Add(2 * time.Hour)); n != 2 {
		t.Errorf("expected 2 idle limiters swept, got %d", n)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		header map[string]string
		remote string
		want   string
	}{
		{"forwarded", map[string]string{"X-Forwarded-For": "1.2.3.4, 10.0.0.1"}, "10.0.0.9:1", "1.2.3.4"},
		{"real ip", map[string]string{"X-Real-IP": "5.6.7.8"}, "10.0.0.9:1", "5.6.7.8"},
		{"remote addr", nil, "10.0.0.9:1234", "10.0.0.9"},
		{"ipv6 remote", nil, "[::1]:1234", "::1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			if got := clientIP(req); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}
