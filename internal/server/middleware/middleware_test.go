package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"ok":true}`)
	})
}

func TestAuthAcceptsEitherHeader(t *testing.T) {
	h := Auth("sekrit")(okHandler())

	for _, set := range []func(*http.Request){
		func(r *http.Request) { r.Header.Set("Authorization", "Bearer sekrit") },
		func(r *http.Request) { r.Header.Set("X-API-Key", "sekrit") },
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/markets", nil)
		set(req)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestAuthRejectsMissingOrWrongKey(t *testing.T) {
	h := Auth("sekrit")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/markets", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	req = httptest.NewRequest(http.MethodPost, "/api/markets", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthDisabledWithEmptyKey(t *testing.T) {
	h := Auth("")(okHandler())
	req := httptest.NewRequest(http.MethodPost, "/api/markets", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSEchoesAllowedOrigin(t *testing.T) {
	h := CORS([]string{"http://localhost:3000"})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/markets", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))

	// Unknown origins get no grant but the request still runs.
	req = httptest.NewRequest(http.MethodGet, "/api/markets", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	h := CORS(nil)(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/api/markets", nil)
	req.Header.Set("Origin", "http://anywhere.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://anywhere.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Body.String())
}

func TestLoggingCapturesStatusAndBytes(t *testing.T) {
	var rendered string
	logger := slog.New(slog.NewTextHandler(writerFunc(func(p []byte) (int, error) {
		rendered += string(p)
		return len(p), nil
	}), nil))

	h := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		io.WriteString(w, "short and stout")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/status?verbose=1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Contains(t, rendered, "status=418")
	assert.Contains(t, rendered, "bytes=15")
	assert.Contains(t, rendered, "query=verbose=1")
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

// stubLimiter admits or refuses everything, or fails outright.
type stubLimiter struct {
	allow bool
	err   error
}

func (s *stubLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return s.allow, s.err
}

func (s *stubLimiter) Wait(context.Context, string) error { return nil }

func TestRateLimitRefusesWhenExhausted(t *testing.T) {
	h := RateLimit(&stubLimiter{allow: false}, 10, time.Minute)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/markets", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestRateLimitFailsOpen(t *testing.T) {
	h := RateLimit(&stubLimiter{err: errors.New("redis down")}, 10, time.Minute)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/markets", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestExtractClientIPPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:9999"
	assert.Equal(t, "10.0.0.1", extractClientIP(req))

	req.Header.Set("X-Real-IP", "203.0.113.7")
	assert.Equal(t, "203.0.113.7", extractClientIP(req))

	req.Header.Set("X-Forwarded-For", "198.51.100.4, 10.0.0.1")
	assert.Equal(t, "198.51.100.4", extractClientIP(req))
}
