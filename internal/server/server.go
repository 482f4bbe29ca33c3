package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/auth"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/clients"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/config"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/handlers"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/logging"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/metrics"
)

type Server struct {
	config   *config.Config
	router   *gin.Engine
	httpSrv  *http.Server
	handlers *handlers.Handlers
	jwt      *auth.JWTService
	logger   *logging.Logger
}

// NewServer builds the router. jwt may be nil when auth is disabled; gatherer
// backs the /metrics endpoint.
func NewServer(
	cfg *config.Config,
	h *handlers.Handlers,
	jwt *auth.JWTService,
	m *metrics.Metrics,
	gatherer prometheus.Gatherer,
	logger *logging.Logger,
) *Server {
	router := gin.New()
	router.Use(gin.Recovery(), RequestID(), m.GinMiddleware(), AccessLog(logger))

	s := &Server{
		config:   cfg,
		router:   router,
		handlers: h,
		jwt:      jwt,
		logger:   logger.Named("server"),
	}

	s.setupRoutes(gatherer)

	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s
}

func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	s.router.GET("/health", s.handlers.Health)
	s.router.GET("/ready", s.handlers.Ready)
	s.router.GET("/live", s.handlers.Live)
	if gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	buyer, seller, admin := auth.RoleBuyer, auth.RoleSeller, auth.RoleAdmin

	v1 := s.router.Group("/api/v1")
	if s.authEnabled() {
		v1.Use(auth.Middleware(s.jwt))
	}
	{
		v1.POST("/orders", s.roles(buyer, admin), s.handlers.CreateOrder)
		v1.GET("/orders", s.roles(admin), s.handlers.ListOrders)
		v1.POST("/orders/expire", s.roles(admin), s.handlers.ExpireOrders)
		v1.GET("/orders/:id", s.roles(buyer, seller, admin), s.handlers.GetOrder)
		v1.PUT("/orders/:id/status", s.roles(seller, admin), s.handlers.UpdateOrderStatus)
		v1.PUT("/orders/:id/payment-status", s.roles(seller, admin), s.handlers.UpdatePaymentStatus)
		v1.PUT("/orders/:id/payment-reference", s.roles(buyer, admin), s.handlers.UpdatePaymentReference)
		v1.POST("/orders/:id/cancel", s.roles(buyer, seller, admin), s.handlers.CancelOrder)
		v1.DELETE("/orders/:id", s.roles(admin), s.handlers.DeleteOrder)

		v1.GET("/users/:user_id/orders", s.roles(buyer, admin), s.handlers.GetUserOrders)
		v1.GET("/users/:user_id/order-items", s.roles(buyer, seller, admin), s.handlers.GetUserOrderItems)

		v1.GET("/delivery/estimate", s.roles(buyer, seller, admin), s.handlers.EstimateDelivery)
	}
}

func (s *Server) authEnabled() bool {
	return s.config.Auth.Enabled && s.jwt != nil
}

// roles gates a route on the caller's role. With auth disabled every caller
// passes.
func (s *Server) roles(roles ...string) gin.HandlerFunc {
	if !s.authEnabled() {
		return func(c *gin.Context) { c.Next() }
	}
	return auth.RequireRole(roles...)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until Shutdown is called.
func (s *Server) Run() error {
	s.logger.Info("Starting server", logging.Fields{"addr": s.httpSrv.Addr})
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server")
	return s.httpSrv.Shutdown(ctx)
}

// RequestID propagates the X-Request-ID header, minting one when absent.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(clients.HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(clients.HeaderRequestID, id)
		c.Request = c.Request.WithContext(logging.ContextWithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// AccessLog logs one line per request.
func AccessLog(logger *logging.Logger) gin.HandlerFunc {
	logger = logger.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.WithContext(c.Request.Context()).Info("Request handled", logging.Fields{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
	}
}
