package middleware

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCORSMiddleware_SetsHeaders(t *testing.T) {
	os.Unsetenv("CORS_MAX_AGE")

	middleware := NewCORSMiddleware()

	req := httptest.NewRequest("GET", "/api/v1/consent-requests", nil)
	w := httptest.NewRecorder()

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
	})

	middleware(next).ServeHTTP(w, req)

	assert.True(t, nextCalled)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Authorization")
	assert.Equal(t, "86400", w.Header().Get("Access-Control-Max-Age"))
}

func TestCORSMiddleware_PreflightShortCircuits(t *testing.T) {
	middleware := NewCORSMiddleware()

	req := httptest.NewRequest("OPTIONS", "/api/v1/consent-requests", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
	})

	middleware(next).ServeHTTP(w, req)

	assert.False(t, nextCalled)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetCORSMaxAge_EnvOverride(t *testing.T) {
	t.Setenv("CORS_MAX_AGE", "3600")
	assert.Equal(t, "3600", getCORSMaxAge())

	// Non-numeric values fall back to the default
	t.Setenv("CORS_MAX_AGE", "tomorrow")
	assert.Equal(t, "86400", getCORSMaxAge())
}
