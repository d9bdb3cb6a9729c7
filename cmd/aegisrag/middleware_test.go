package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/klapom/aegisrag/config"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders()(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "default-src 'self'", w.Header().Get("Content-Security-Policy"))
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}), SecurityHeaders(), RequestID())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, w.Header().Get("X-Request-ID"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))

	// 客户端提供的 ID 保持不变
	r := httptest.NewRequest(http.MethodGet, "/test", nil)
	r.Header.Set("X-Request-ID", "client-1")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, "client-1", seen)
}

func TestRecovery(t *testing.T) {
	handler := Recovery(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"INTERNAL_ERROR"`)
}

type httpRecord struct {
	method, path string
	status       int
}

type httpRecorderStub struct {
	mu   sync.Mutex
	recs []httpRecord
}

func (s *httpRecorderStub) RecordHTTPRequest(method, path string, status int, _ time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, httpRecord{method, path, status})
}

func TestMetricsMiddleware(t *testing.T) {
	rec := &httpRecorderStub{}
	handler := MetricsMiddleware(rec)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/sessions/abc-123/checkpoints", nil))

	require.Len(t, rec.recs, 1)
	assert.Equal(t, httpRecord{http.MethodGet, "/v1/sessions/:id/checkpoints", http.StatusNotFound}, rec.recs[0])
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/v1/query", "/v1/query"},
		{"/v1/query/stream", "/v1/query/stream"},
		{"/health", "/health"},
		{"/v1/sessions/s1", "/v1/sessions/:id"},
		{"/v1/sessions/s1/followups", "/v1/sessions/:id/followups"},
		{"/wp-admin/login.php", "other"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizePath(tt.path))
		})
	}
}

func TestStatusWriter_PreservesFlusher(t *testing.T) {
	w := httptest.NewRecorder()
	sw := newStatusWriter(w)

	var _ http.Flusher = sw
	var _ http.Hijacker = sw

	sw.Flush()
	assert.True(t, w.Flushed)
	assert.Same(t, w, sw.Unwrap())

	// httptest.ResponseRecorder 不支持 Hijack
	_, _, err := sw.Hijack()
	assert.Error(t, err)
}

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := RateLimiter(ctx, 1, 2, zap.NewNop())(okHandler())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		r := httptest.NewRequest(http.MethodGet, "/v1/query", nil)
		r.RemoteAddr = "10.0.0.1:5555"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// 不同 IP 独立计数
	r := httptest.NewRequest(http.MethodGet, "/v1/query", nil)
	r.RemoteAddr = "10.0.0.2:5555"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestJWTAuth(t *testing.T) {
	cfg := config.AuthConfig{Enabled: true, JWTSecret: "s3cret", Issuer: "aegis"}

	var subject string
	handler := JWTAuth(cfg, publicPaths, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject = SubjectFromContext(r.Context())
	}))

	valid := signToken(t, "s3cret", jwt.MapClaims{
		"sub": "user-1", "iss": "aegis", "exp": time.Now().Add(time.Hour).Unix(),
	})

	tests := []struct {
		name       string
		path       string
		header     string
		wantStatus int
	}{
		{"public path", "/health", "", http.StatusOK},
		{"missing header", "/v1/query", "", http.StatusUnauthorized},
		{"wrong scheme", "/v1/query", "Basic abc", http.StatusUnauthorized},
		{"valid token", "/v1/query", "Bearer " + valid, http.StatusOK},
		{"wrong secret", "/v1/query", "Bearer " + signToken(t, "other", jwt.MapClaims{"iss": "aegis"}), http.StatusUnauthorized},
		{"wrong issuer", "/v1/query", "Bearer " + signToken(t, "s3cret", jwt.MapClaims{"iss": "evil"}), http.StatusUnauthorized},
		{"expired", "/v1/query", "Bearer " + signToken(t, "s3cret", jwt.MapClaims{
			"iss": "aegis", "exp": time.Now().Add(-time.Hour).Unix(),
		}), http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, tt.path, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}

	assert.Equal(t, "user-1", subject)
}
