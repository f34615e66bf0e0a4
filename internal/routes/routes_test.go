package routes

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/manthanshiroya/alert-bot-project-api-sub003/internal/config"
)

func TestSetupRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	cfg := &config.Config{Admin: config.AdminConfig{JWTSecret: "secret"}}
	SetupRoutes(r, Handlers{}, cfg)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	// Admin routes reject before reaching any handler.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/admin/payments/1/approve", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	routes := map[string]bool{}
	for _, ri := range r.Routes() {
		routes[ri.Method+" "+ri.Path] = true
	}
	for _, want := range []string{
		"POST /api/v1/webhook/tradingview",
		"GET /api/v1/plans",
		"POST /api/v1/payments",
		"POST /api/v1/payments/:id/proof",
		"GET /api/v1/admin/alerts/:id",
		"POST /api/v1/admin/alerts/:id/retry",
		"POST /api/v1/admin/payments/:id/reject",
		"POST /api/v1/admin/subscriptions/:id/cancel",
	} {
		assert.True(t, routes[want], want)
	}
}
