package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/tm-acme-shop/acme-shop-order-sync/internal/config"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/errors"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/logging"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/models"
)

func (s *OrderService) expiryWindow() time.Duration {
	if s.config.Sweeper.Window > 0 {
		return s.config.Sweeper.Window
	}
	return defaultExpiryWindow
}

// ExpireStaleOrders expires PENDING orders placed before now minus the
// window and returns their stock. Each order commits on its own; a failure
// on one order does not stop the others and is reported in the joined error.
func (s *OrderService) ExpireStaleOrders(ctx context.Context) (_ int, err error) {
	ctx, span := tracer.Start(ctx, "OrderService.ExpireStaleOrders")
	defer func() { endSpan(span, err) }()

	start := time.Now()
	cutoff := s.clock.Now().Add(-s.expiryWindow())

	candidates, err := s.orders.FindByStatusBefore(ctx, models.OrderStatusPending, cutoff)
	if err != nil {
		return 0, err
	}

	expired := 0
	var errs []error
	for _, candidate := range candidates {
		ok, err := s.expireOrder(ctx, candidate.ID, cutoff)
		if err != nil {
			s.logger.WithContext(ctx).Error("Failed to expire order", logging.Fields{
				"order_id": candidate.ID,
				"error":    err.Error(),
			})
			errs = append(errs, fmt.Errorf("expire order %d: %w", candidate.ID, err))
			continue
		}
		if ok {
			expired++
		}
	}

	s.metrics.SweepFinished(expired, time.Since(start))
	span.SetAttributes(
		attribute.Int("sweep.candidates", len(candidates)),
		attribute.Int("sweep.expired", expired),
	)

	if expired > 0 || len(errs) > 0 {
		s.logger.WithContext(ctx).Info("Expiry sweep finished", logging.Fields{
			"cutoff":     cutoff,
			"candidates": len(candidates),
			"expired":    expired,
			"failed":     len(errs),
		})
	}
	return expired, errors.Join(errs...)
}

// expireOrder re-checks the order under its row lock. An order that is gone,
// no longer PENDING, or not older than cutoff is skipped without writes.
func (s *OrderService) expireOrder(ctx context.Context, id int64, cutoff time.Time) (bool, error) {
	var t transition
	var expired *models.Order
	var items []models.OrderItem
	skipped := false

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		order, err := s.orders.LockByID(ctx, id)
		if errors.Is(err, errors.ErrNotFound) {
			skipped = true
			return nil
		}
		if err != nil {
			return err
		}
		if order.Status != models.OrderStatusPending || !order.PlacedAt.Before(cutoff) {
			skipped = true
			return nil
		}

		items, err = s.items.FindByOrderID(ctx, id)
		if err != nil {
			return err
		}
		for _, item := range items {
			if err := s.products.IncreaseStock(ctx, item.ProductID, item.Quantity); err != nil {
				return err
			}
		}

		if _, err := s.updateOrderStatus(ctx, id, models.OrderStatusExpired, &t); err != nil {
			return err
		}

		expired, err = s.orders.FindByID(ctx, id)
		return err
	})
	if err != nil {
		return false, err
	}
	if skipped {
		s.logger.WithContext(ctx).Debug("Skipping order no longer eligible for expiry", logging.Fields{"order_id": id})
		return false, nil
	}

	s.record(t)
	s.invalidate(ctx, expired)
	if s.eventsEnabled() {
		if err := s.publisher.PublishOrderExpired(ctx, expired); err != nil {
			s.logPublishError(ctx, "order.expired", id, err)
		}
	}

	s.logger.WithContext(ctx).Info("Order expired", logging.Fields{
		"order_id":       id,
		"items_restored": len(items),
		"restored_value": ItemsTotal(items).String(),
		"payment_status": t.paymentTo,
	})
	return true, nil
}

// Expirer runs one expiry sweep.
type Expirer interface {
	ExpireStaleOrders(ctx context.Context) (int, error)
}

// SweepLock is a lease shared by replicas so a tick runs on one of them.
type SweepLock interface {
	TryAcquire(ctx context.Context, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

// ExpirySweeper drives an Expirer on a fixed interval.
type ExpirySweeper struct {
	expirer  Expirer
	lock     SweepLock
	interval time.Duration
	lockTTL  time.Duration
	logger   *logging.Logger
}

// NewExpirySweeper creates a sweeper. lock may be nil, in which case every
// replica sweeps and row locks alone keep the sweeps apart.
func NewExpirySweeper(expirer Expirer, lock SweepLock, cfg config.SweeperConfig, logger *logging.Logger) *ExpirySweeper {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = interval
	}

	return &ExpirySweeper{
		expirer:  expirer,
		lock:     lock,
		interval: interval,
		lockTTL:  lockTTL,
		logger:   logger.Named("expiry-sweeper"),
	}
}

// Run sweeps every interval until ctx is done.
func (w *ExpirySweeper) Run(ctx context.Context) {
	w.logger.Info("Expiry sweeper started", logging.Fields{"interval": w.interval.String()})

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Expiry sweeper stopped")
			return
		case <-ticker.C:
			if _, err := w.Tick(ctx); err != nil {
				w.logger.Error("Expiry sweep failed", logging.Fields{"error": err.Error()})
			}
		}
	}
}

// Tick runs a single sweep if this replica can take the lease.
func (w *ExpirySweeper) Tick(ctx context.Context) (int, error) {
	if w.lock != nil {
		release, ok, err := w.lock.TryAcquire(ctx, w.lockTTL)
		if err != nil {
			return 0, fmt.Errorf("acquire sweep lock: %w", err)
		}
		if !ok {
			w.logger.Debug("Sweep lease held elsewhere, skipping tick")
			return 0, nil
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				w.logger.Warn("Failed to release sweep lock", logging.Fields{"error": err.Error()})
			}
		}()
	}

	return w.expirer.ExpireStaleOrders(ctx)
}
