package handlers

import (
	"context"

	"github.com/tm-acme-shop/acme-shop-order-sync/internal/config"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/logging"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/service"
)

// Pinger reports whether a backing store is reachable. *sql.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Handlers holds all HTTP handlers for the order sync service.
type Handlers struct {
	orderService *service.OrderService
	db           Pinger
	config       *config.Config
	logger       *logging.Logger
}

// NewHandlers creates a new handlers instance. db may be nil when the
// service runs on the in-memory store.
func NewHandlers(orderService *service.OrderService, db Pinger, cfg *config.Config, logger *logging.Logger) *Handlers {
	return &Handlers{
		orderService: orderService,
		db:           db,
		config:       cfg,
		logger:       logger.Named("handlers"),
	}
}
