package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompositeHealthChecker(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	t.Run("no checks", func(t *testing.T) {
		status := NewCompositeHealthChecker("v1").Check(context.Background())
		assert.True(t, status.Healthy)
		assert.True(t, status.Ready)
		assert.Equal(t, "v1", status.Version)
	})

	t.Run("all pass", func(t *testing.T) {
		c := NewCompositeHealthChecker("v1")
		c.AddCheck("postgres", ok)
		c.AddOptionalCheck("redis", ok)

		status := c.Check(context.Background())
		assert.True(t, status.Healthy)
		assert.True(t, status.Ready)
		assert.Len(t, status.Checks, 2)
	})

	t.Run("optional failure keeps ready", func(t *testing.T) {
		c := NewCompositeHealthChecker("v1")
		c.AddCheck("postgres", ok)
		c.AddOptionalCheck("redis", down)

		status := c.Check(context.Background())
		assert.False(t, status.Healthy)
		assert.True(t, status.Ready)
		assert.Equal(t, "Some checks failed: redis", status.Message)
		assert.True(t, status.Checks["redis"].Optional)
		assert.Equal(t, "connection refused", status.Checks["redis"].Message)
	})

	t.Run("required failure", func(t *testing.T) {
		c := NewCompositeHealthChecker("v1")
		c.AddCheck("postgres", down)
		c.AddOptionalCheck("redis", down)

		status := c.Check(context.Background())
		assert.False(t, status.Ready)
		assert.Equal(t, "Some checks failed: postgres, redis", status.Message)
	})

	t.Run("timeout", func(t *testing.T) {
		c := NewCompositeHealthChecker("v1")
		c.SetTimeout(10 * time.Millisecond)
		c.AddCheck("slow", func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})

		status := c.Check(context.Background())
		assert.False(t, status.Ready)
		assert.Contains(t, status.Checks["slow"].Message, "deadline exceeded")
	})
}

type pingerFunc func(context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestNewPingCheck(t *testing.T) {
	boom := errors.New("boom")
	check := NewPingCheck(pingerFunc(func(context.Context) error { return boom }))
	assert.ErrorIs(t, check(context.Background()), boom)
}

type fakePool struct {
	err error
}

func (p fakePool) Ping(context.Context) error { return p.err }

func (p fakePool) Stats() map[string]any {
	return map[string]any{"total_conns": int32(4), "idle_conns": int32(3)}
}

func TestCompositeHealthChecker_PoolCheck(t *testing.T) {
	c := NewCompositeHealthChecker("v1")
	c.AddPoolCheck("postgres", fakePool{})

	status := c.Check(context.Background())
	require.Contains(t, status.Checks, "postgres")
	assert.True(t, status.Ready)
	assert.Equal(t, int32(4), status.Checks["postgres"].Details["total_conns"])

	c.AddPoolCheck("postgres", fakePool{err: errors.New("connection refused")})
	status = c.Check(context.Background())
	assert.False(t, status.Ready)
	assert.Equal(t, "connection refused", status.Checks["postgres"].Message)
	assert.Equal(t, int32(3), status.Checks["postgres"].Details["idle_conns"])
}

func echoIdentity() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := IdentityFrom(r.Context())
		_, _ = w.Write([]byte(id.TenantID + "/" + id.ActorID))
	})
}

func TestIdentityMiddleware(t *testing.T) {
	h := IdentityMiddleware("/api/")(echoIdentity())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/scores", nil)
	req.Header.Set(HeaderTenantID, " school-1 ")
	req.Header.Set(HeaderActorID, "teacher-7")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "school-1/teacher-7", rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/scores", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `"missing_tenant"`)

	// Outside the prefix the tenant is optional.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIKeyAuth(t *testing.T) {
	auth := NewAPIKeyAuth("X-API-Key", []string{"secret", ""})
	require.True(t, auth.Enabled())
	assert.False(t, NewAPIKeyAuth("X-API-Key", []string{""}).Enabled())

	h := auth.Middleware("/api/")(echoIdentity())

	tests := []struct {
		name   string
		path   string
		header map[string]string
		want   int
	}{
		{"missing key", "/api/v1/scores", nil, http.StatusUnauthorized},
		{"wrong key", "/api/v1/scores", map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized},
		{"header key", "/api/v1/scores", map[string]string{"X-API-Key": "secret"}, http.StatusOK},
		{"bearer", "/api/v1/scores", map[string]string{"Authorization": "Bearer secret"}, http.StatusOK},
		{"outside prefix", "/health", nil, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRequestSizeLimitMiddleware(t *testing.T) {
	h := RequestSizeLimitMiddleware(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123456789")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{}")))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) MiddlewareFunc {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}), mw("first"), mw("second"))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"first", "second", "handler"}, order)
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	h := SecurityHeadersMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}
