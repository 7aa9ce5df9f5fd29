package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeMC777/ordenes-credito/internal/apperr"
	"github.com/MikeMC777/ordenes-credito/internal/identity"
	"github.com/MikeMC777/ordenes-credito/internal/metrics"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func init() { gin.SetMode(gin.TestMode) }

func TestRequestIDIsEchoedOrMinted(t *testing.T) {
	t.Parallel()
	r := gin.New()
	r.Use(RequestID())
	r.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(RequestIDKey)) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-ID", "abc")
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc", w.Header().Get("X-Request-ID"))
	assert.Equal(t, "abc", w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Len(t, w.Header().Get("X-Request-ID"), 36)
}

func TestAuth(t *testing.T) {
	t.Parallel()
	r := gin.New()
	r.Use(Auth("s3cret"))
	r.GET("/me", func(c *gin.Context) {
		a := Actor(c)
		fromCtx, _ := identity.FromContext(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"id": a.ID, "role": a.Role, "ctx": fromCtx.ID})
	})

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"garbage", "Bearer nope", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		r.ServeHTTP(w, req)
		assert.Equal(t, tc.want, w.Code, tc.name)
	}

	token, err := identity.Issue("s3cret", identity.Actor{ID: "c1", Role: identity.RoleCustomer}, time.Minute)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":"c1","role":"customer","ctx":"c1"}`, w.Body.String())
}

func TestErrorMapping(t *testing.T) {
	t.Parallel()
	cases := []struct {
		err  error
		code int
		body string
	}{
		{apperr.Validation("op", "bad %s", "input"), http.StatusUnprocessableEntity, "validation_error"},
		{apperr.Integrity("op", "totals"), http.StatusBadRequest, "integrity_violation"},
		{apperr.NotFound("op", "order x not found"), http.StatusNotFound, "not_found"},
		{apperr.Forbidden("op", "no"), http.StatusForbidden, "forbidden"},
		{apperr.Conflict("op", errors.New("version")), http.StatusConflict, "conflict"},
		{apperr.Dependency("op", "redis down", errors.New("dial")), http.StatusBadGateway, "dependency_failure"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		r := gin.New()
		err := tc.err
		r.GET("/x", func(c *gin.Context) { Error(c, discard, err) })
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
		assert.Equal(t, tc.code, w.Code, tc.body)
		var got APIError
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, tc.body, got.Error)
	}
}

func TestInternalErrorHidesCause(t *testing.T) {
	t.Parallel()
	r := gin.New()
	r.GET("/x", func(c *gin.Context) { Error(c, discard, apperr.Internal("op", errors.New("pq: password leaked"))) })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.NotContains(t, w.Body.String(), "leaked")
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	r := gin.New()
	r.Use(Metrics(metrics.New(reg)))
	r.GET("/orders/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, id := range []string{"a", "b", "c"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/orders/"+id, nil))
	}
	families, err := reg.Gather()
	require.NoError(t, err)
	series := -1
	for _, f := range families {
		if f.GetName() == "http_requests_total" {
			series = len(f.GetMetric())
			assert.Equal(t, 3.0, f.GetMetric()[0].GetCounter().GetValue())
		}
	}
	assert.Equal(t, 1, series)
}
