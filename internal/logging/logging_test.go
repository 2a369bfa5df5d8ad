package logging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestMiddlewareGeneratesRequestID(t *testing.T) {
	var seen string
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/projects", nil))

	if seen == "" {
		t.Fatal("handler context carries no request ID")
	}
	if got := rec.Header().Get("X-Request-ID"); got != seen {
		t.Errorf("response header %q does not match context ID %q", got, seen)
	}
}

func TestMiddlewareHonorsIncomingRequestID(t *testing.T) {
	var seen string
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set("X-Request-ID", "client-supplied-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen != "client-supplied-42" {
		t.Errorf("incoming request ID not propagated, got %q", seen)
	}
	if got := rec.Header().Get("X-Request-ID"); got != "client-supplied-42" {
		t.Errorf("incoming request ID not echoed, got %q", got)
	}
}

func TestWithContextFallsBackToGlobal(t *testing.T) {
	if WithContext(context.Background()) != logger {
		t.Error("bare context should yield the global logger")
	}
	ctx := WithRequestID(context.Background(), "abc123")
	if WithContext(ctx) == logger {
		t.Error("request context should yield a scoped logger")
	}
	if got := GetRequestID(ctx); got != "abc123" {
		t.Errorf("GetRequestID = %q, want abc123", got)
	}
}

func TestSetLevel(t *testing.T) {
	if err := SetLevel("debug"); err != nil {
		t.Fatalf("SetLevel(debug): %v", err)
	}
	if !globalLevel.Enabled(zapcore.DebugLevel) {
		t.Error("debug should be enabled after SetLevel(debug)")
	}
	if err := SetLevel("warn"); err != nil {
		t.Fatalf("SetLevel(warn): %v", err)
	}
	if globalLevel.Enabled(zapcore.InfoLevel) {
		t.Error("info should be disabled after SetLevel(warn)")
	}
	if err := SetLevel("nonsense"); err == nil {
		t.Error("expected error for invalid level")
	}
}
