package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/albapepper/breatheasy/internal/api/auth"
	"github.com/albapepper/breatheasy/internal/api/handler"
	"github.com/albapepper/breatheasy/internal/config"
)

func testRouter() http.Handler {
	cfg := &config.Config{
		Environment:      "test",
		CORSAllowOrigins: []string{"*"},
		JWTSecret:        "s3cret",
		InternalAPIKey:   "k3y",
	}
	return NewRouter(handler.New(handler.Deps{Config: cfg}), cfg)
}

func TestPublicRoutes(t *testing.T) {
	r := testRouter()
	for _, path := range []string{"/", "/health", "/api/aqi/categories", "/api/aqi/health-recommendations?aqi=120"} {
		rec := serve(r, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.NotEmpty(t, rec.Header().Get("X-Process-Time"), path)
	}
}

func TestProtectedRoutesRejectAnonymous(t *testing.T) {
	r := testRouter()
	cases := []struct {
		method, path string
	}{
		{http.MethodPost, "/api/aqi/check-alerts"},
		{http.MethodPost, "/api/notifications/00000000-0000-0000-0000-000000000000/delivery"},
		{http.MethodGet, "/api/notifications/stats"},
		{http.MethodPost, "/api/notifications/broadcast"},
		{http.MethodGet, "/api/admin/dashboard"},
		{http.MethodGet, "/api/admin/subscriptions"},
		{http.MethodPost, "/api/admin/jobs/cleanup/trigger"},
	}
	for _, tc := range cases {
		rec := serve(r, httptest.NewRequest(tc.method, tc.path, nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, tc.path)
	}
}

func TestAdminRouteWithTokenReachesHandler(t *testing.T) {
	r := testRouter()
	tok, err := auth.IssueToken("s3cret", "ops", "", auth.RoleAdmin, time.Hour)
	assert.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/jobs", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := serve(r, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"data":{"jobs":[]}}`, rec.Body.String())
}

func TestCORSPreflightAllowsAPIKeyHeader(t *testing.T) {
	r := testRouter()
	req := httptest.NewRequest(http.MethodOptions, "/api/aqi/check-alerts", nil)
	req.Header.Set("Origin", "https://breatheasy.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "X-API-Key")
	rec := serve(r, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
