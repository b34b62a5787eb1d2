package tracing

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestInit_Disabled(t *testing.T) {
	p, err := Init(context.Background(), nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if p.Enabled() {
		t.Error("tracing should be disabled by default")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}

	called := false
	h := p.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Error("middleware must pass through when disabled")
	}

	_, span := Tracer().Start(context.Background(), "noop")
	span.End()
}

func TestSampler(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{1.0, "AlwaysOnSampler"},
		{2.0, "AlwaysOnSampler"},
		{0, "AlwaysOffSampler"},
		{0.25, "TraceIDRatioBased"},
	}
	for _, tt := range tests {
		if got := Sampler(tt.rate).Description(); !strings.HasPrefix(got, tt.want) {
			t.Errorf("Sampler(%v) = %s, want prefix %s", tt.rate, got, tt.want)
		}
	}
}
