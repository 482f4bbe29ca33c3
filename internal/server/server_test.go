package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/auth"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/clients"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/config"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/handlers"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/logging"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/repository"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/service"
)

type stubDelivery struct{}

func (stubDelivery) EstimateDays(ctx context.Context, buyerID, productID int64) (int, error) {
	return 5, nil
}

func newTestServer(t *testing.T, authEnabled bool) (*Server, *auth.JWTService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Server:  config.ServerConfig{Port: 0},
		Auth:    config.AuthConfig{Enabled: authEnabled, JWTSecret: "server-test-secret"},
		Sweeper: config.SweeperConfig{Window: 10 * time.Minute},
	}
	store := repository.NewMemoryStore()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	logger := logging.NewNop()

	svc := service.NewOrderService(service.Stores{
		Tx:       store,
		Orders:   store.Orders(),
		Payments: store.Payments(),
		Items:    store.Items(),
		Products: store.Products(),
	}, nil, nil, stubDelivery{}, nil, m, cfg, logger)

	jwt := auth.NewJWTService(cfg.Auth.JWTSecret, time.Hour)
	srv := NewServer(cfg, handlers.NewHandlers(svc, nil, cfg, logger), jwt, m, reg, logger)
	return srv, jwt
}

func request(t *testing.T, srv *Server, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func token(t *testing.T, jwt *auth.JWTService, role string) string {
	t.Helper()
	tok, _, err := jwt.GenerateToken(7, role)
	require.NoError(t, err)
	return tok
}

const orderBody = `{"user_id":7,"total_amount":"499.00","shipping_address":"12 MG Road, Bengaluru","payment_method":"UPI"}`

func TestServer_RoleGates(t *testing.T) {
	srv, jwt := newTestServer(t, true)
	buyer := token(t, jwt, auth.RoleBuyer)
	seller := token(t, jwt, auth.RoleSeller)
	admin := token(t, jwt, auth.RoleAdmin)

	w := request(t, srv, http.MethodPost, "/api/v1/orders", "", orderBody)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = request(t, srv, http.MethodPost, "/api/v1/orders", seller, orderBody)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = request(t, srv, http.MethodPost, "/api/v1/orders", buyer, orderBody)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	location := w.Header().Get("Location")
	require.NotEmpty(t, location)

	w = request(t, srv, http.MethodPut, location+"/status?orderStatus=SHIPPED", buyer, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = request(t, srv, http.MethodPut, location+"/status?orderStatus=SHIPPED", seller, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = request(t, srv, http.MethodGet, "/api/v1/orders", seller, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = request(t, srv, http.MethodGet, "/api/v1/orders", admin, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = request(t, srv, http.MethodDelete, location, buyer, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = request(t, srv, http.MethodDelete, location, admin, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestServer_AuthDisabled(t *testing.T) {
	srv, _ := newTestServer(t, false)

	w := request(t, srv, http.MethodPost, "/api/v1/orders", "", orderBody)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = request(t, srv, http.MethodGet, "/api/v1/delivery/estimate?buyerId=7&productId=101", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"days":5}`, w.Body.String())
}

func TestServer_OperationalEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, true)

	for _, path := range []string{"/health", "/ready", "/live"} {
		w := request(t, srv, http.MethodGet, path, "", "")
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	w := request(t, srv, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "ordersync_http_requests_total"))
}

func TestRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, logging.RequestIDFromContext(c.Request.Context()))
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(clients.HeaderRequestID, "req-abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-abc", w.Body.String())
	assert.Equal(t, "req-abc", w.Header().Get(clients.HeaderRequestID))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	minted := w.Header().Get(clients.HeaderRequestID)
	assert.Len(t, minted, 36)
	assert.Equal(t, minted, w.Body.String())
}
