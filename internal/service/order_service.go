package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tm-acme-shop/acme-shop-order-sync/internal/clients"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/config"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/errors"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/logging"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/models"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/repository"
)

const defaultExpiryWindow = 10 * time.Minute

var tracer = otel.Tracer("github.com/tm-acme-shop/acme-shop-order-sync/internal/service")

// EventPublisher announces committed order changes.
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, order *models.Order) error
	PublishOrderStatusChanged(ctx context.Context, order *models.Order, previousStatus models.OrderStatus) error
	PublishOrderCancelled(ctx context.Context, order *models.Order, previousStatus models.OrderStatus) error
	PublishOrderExpired(ctx context.Context, order *models.Order) error
	PublishOrderDeleted(ctx context.Context, order *models.Order) error
}

// Stores groups the transactional collaborators of the engine. All of them
// must share the transaction carried by the context Tx hands to its callback.
type Stores struct {
	Tx       repository.Transactor
	Orders   repository.OrderRepository
	Payments repository.PaymentRepository
	Items    repository.OrderItemRepository
	Products repository.ProductRepository
}

// OrderService keeps orders and their payments consistent.
type OrderService struct {
	tx        repository.Transactor
	orders    repository.OrderRepository
	payments  repository.PaymentRepository
	items     repository.OrderItemRepository
	products  repository.ProductRepository
	cache     repository.OrderCache
	publisher EventPublisher
	delivery  clients.DeliveryEstimator
	clock     Clock
	metrics   *metrics.Metrics
	config    *config.Config
	logger    *logging.Logger
}

// NewOrderService creates a new order service. cache and publisher may be nil.
func NewOrderService(
	stores Stores,
	cache repository.OrderCache,
	publisher EventPublisher,
	delivery clients.DeliveryEstimator,
	clock Clock,
	m *metrics.Metrics,
	cfg *config.Config,
	logger *logging.Logger,
) *OrderService {
	if clock == nil {
		clock = SystemClock{}
	}
	return &OrderService{
		tx:        stores.Tx,
		orders:    stores.Orders,
		payments:  stores.Payments,
		items:     stores.Items,
		products:  stores.Products,
		cache:     cache,
		publisher: publisher,
		delivery:  delivery,
		clock:     clock,
		metrics:   m,
		config:    cfg,
		logger:    logger.Named("order-service"),
	}
}

// transition records what a transaction changed so metrics are only counted
// after commit. Zero values mean "unchanged".
type transition struct {
	orderFrom, orderTo     models.OrderStatus
	paymentFrom, paymentTo models.PaymentStatus
	// paymentSettled skips the payment sync rule on the order write.
	paymentSettled bool
}

const paymentLookupSavepoint = "payment_lookup"

func (s *OrderService) record(t transition) {
	s.metrics.OrderTransition(t.orderFrom, t.orderTo)
	s.metrics.PaymentTransition(t.paymentFrom, t.paymentTo)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CreateOrder persists an order together with its PENDING payment.
func (s *OrderService) CreateOrder(ctx context.Context, req *models.CreateOrderRequest) (_ *models.Order, err error) {
	ctx, span := tracer.Start(ctx, "OrderService.CreateOrder",
		trace.WithAttributes(attribute.Int64("user.id", req.UserID)))
	defer func() { endSpan(span, err) }()

	logger := s.logger.WithContext(ctx)

	method, err := models.ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		return nil, err
	}

	if err := ValidateCreateOrderRequest(req); err != nil {
		return nil, err
	}

	status := models.OrderStatusPending
	if req.OrderStatus != "" {
		if status, err = models.ParseOrderStatus(req.OrderStatus); err != nil {
			return nil, err
		}
	}

	placedAt := s.clock.Now()
	if req.PlacedAt != nil {
		placedAt = *req.PlacedAt
	}

	order := &models.Order{
		UserID:          req.UserID,
		TotalAmount:     RoundAmount(req.TotalAmount),
		ShippingAddress: req.ShippingAddress,
		Status:          status,
		PlacedAt:        placedAt,
		PaymentMethod:   method,
	}

	var created *models.Order
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		id, err := s.orders.Save(ctx, order)
		if err != nil {
			return err
		}
		if id == 0 {
			return errors.Persistence("save order", id)
		}

		if _, err := s.payments.Create(ctx, id, order.UserID, order.TotalAmount, models.CurrencyINR, method); err != nil {
			return err
		}

		created, err = s.orders.FindByID(ctx, id)
		return err
	})
	if err != nil {
		logger.Error("Failed to create order", logging.Fields{
			"user_id": req.UserID,
			"error":   err.Error(),
		})
		return nil, err
	}

	s.invalidateUser(ctx, created.UserID)
	s.metrics.OrderCreated(method)
	if s.eventsEnabled() {
		if err := s.publisher.PublishOrderCreated(ctx, created); err != nil {
			s.logPublishError(ctx, "order.created", created.ID, err)
		}
	}

	logger.Info("Order created", logging.Fields{
		"order_id": created.ID,
		"user_id":  created.UserID,
		"total":    created.TotalAmount.String(),
		"method":   created.PaymentMethod,
	})
	return created, nil
}

// GetOrder returns an order, reading through the cache.
func (s *OrderService) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	if s.cachingEnabled() {
		if order, err := s.cache.Get(ctx, id); err == nil && order != nil {
			return order, nil
		}
	}

	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.cachingEnabled() {
		if err := s.cache.Set(ctx, order); err != nil {
			s.logger.WithContext(ctx).Warn("Failed to cache order", logging.Fields{
				"order_id": id,
				"error":    err.Error(),
			})
		}
	}
	return order, nil
}

// ListOrders returns every order.
func (s *OrderService) ListOrders(ctx context.Context) ([]*models.Order, error) {
	return s.orders.FindAll(ctx)
}

// GetUserOrders returns a buyer's orders, newest first.
func (s *OrderService) GetUserOrders(ctx context.Context, userID int64) ([]*models.Order, error) {
	if s.cachingEnabled() {
		if orders, err := s.cache.GetByUserID(ctx, userID); err == nil && orders != nil {
			return orders, nil
		}
	}

	orders, err := s.orders.FindByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if s.cachingEnabled() {
		_ = s.cache.SetByUserID(ctx, userID, orders)
	}
	return orders, nil
}

// GetOrdersWithItems returns a buyer's orders joined with their items.
func (s *OrderService) GetOrdersWithItems(ctx context.Context, userID int64) ([]models.OrderItemView, error) {
	return s.orders.FindOrdersWithItems(ctx, userID)
}

// UpdateOrderStatus moves an order to status and reconciles its payment.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, id int64, status models.OrderStatus) (_ *models.Order, err error) {
	ctx, span := tracer.Start(ctx, "OrderService.UpdateOrderStatus", trace.WithAttributes(
		attribute.Int64("order.id", id),
		attribute.String("order.status", string(status)),
	))
	defer func() { endSpan(span, err) }()

	var t transition
	var updated *models.Order
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.updateOrderStatus(ctx, id, status, &t); err != nil {
			return err
		}
		var err error
		updated, err = s.orders.FindByID(ctx, id)
		return err
	})
	if err != nil {
		s.logger.WithContext(ctx).Error("Failed to update order status", logging.Fields{
			"order_id":   id,
			"new_status": status,
			"error":      err.Error(),
		})
		return nil, err
	}

	s.record(t)
	s.invalidate(ctx, updated)
	if s.eventsEnabled() {
		if err := s.publisher.PublishOrderStatusChanged(ctx, updated, t.orderFrom); err != nil {
			s.logPublishError(ctx, "order.status_changed", id, err)
		}
	}

	s.logger.WithContext(ctx).Info("Order status updated", logging.Fields{
		"order_id":        id,
		"previous_status": t.orderFrom,
		"new_status":      updated.Status,
	})
	return updated, nil
}

// updateOrderStatus is the single order-side write path. It must run inside a
// transaction; it locks the row, writes the status and then reconciles the
// payment. It returns the order as it was before the write.
func (s *OrderService) updateOrderStatus(ctx context.Context, id int64, status models.OrderStatus, t *transition) (*models.Order, error) {
	current, err := s.orders.LockByID(ctx, id)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, errors.Persistence("update order status", id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.orders.UpdateStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, errors.Persistence("update order status", id)
	}
	t.orderFrom, t.orderTo = current.Status, status
	if t.paymentSettled {
		return current, nil
	}

	if err := s.syncPaymentWithOrder(ctx, current, status, t); err != nil {
		return nil, err
	}
	return current, nil
}

// syncPaymentWithOrder brings the payment in line with a new order status.
// It writes the ledger directly and never calls back into the order path.
func (s *OrderService) syncPaymentWithOrder(ctx context.Context, order *models.Order, newStatus models.OrderStatus, t *transition) error {
	payment, err := s.payments.FindByOrderID(ctx, order.ID)
	if err != nil {
		return err
	}
	if payment == nil || payment.Status.IsTerminal() {
		return nil
	}

	target := TargetPaymentStatus(order.PaymentMethod, newStatus)
	if target == payment.Status {
		return nil
	}

	if err := s.writePaymentStatus(ctx, payment, target); err != nil {
		return err
	}
	t.paymentFrom, t.paymentTo = payment.Status, target
	return nil
}

func (s *OrderService) writePaymentStatus(ctx context.Context, payment *models.Payment, status models.PaymentStatus) error {
	rows, err := s.payments.UpdateStatus(ctx, payment.ID, status)
	if err != nil {
		return err
	}
	if rows == 0 {
		return errors.Persistence("update payment status", payment.ID)
	}
	return nil
}

// UpdatePaymentStatus records a payment-side status change and derives the
// order status from it. The order is written directly, not through
// updateOrderStatus, so the payment sync rule is not re-run.
func (s *OrderService) UpdatePaymentStatus(ctx context.Context, orderID int64, status models.PaymentStatus) (_ *models.Order, err error) {
	ctx, span := tracer.Start(ctx, "OrderService.UpdatePaymentStatus", trace.WithAttributes(
		attribute.Int64("order.id", orderID),
		attribute.String("payment.status", string(status)),
	))
	defer func() { endSpan(span, err) }()

	var t transition
	var updated *models.Order
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		order, err := s.orders.LockByID(ctx, orderID)
		if errors.Is(err, errors.ErrNotFound) {
			return errors.PaymentNotFound(orderID)
		}
		if err != nil {
			return err
		}

		payment, err := s.payments.FindByOrderID(ctx, orderID)
		if err != nil {
			return err
		}
		if payment == nil {
			return errors.PaymentNotFound(orderID)
		}

		if err := s.writePaymentStatus(ctx, payment, status); err != nil {
			return err
		}
		t.paymentFrom, t.paymentTo = payment.Status, status

		next := DeriveOrderStatus(status, order.Status)
		rows, err := s.orders.UpdateStatus(ctx, orderID, next)
		if err != nil {
			return err
		}
		if rows == 0 {
			return errors.Persistence("update order status", orderID)
		}
		t.orderFrom, t.orderTo = order.Status, next

		updated, err = s.orders.FindByID(ctx, orderID)
		return err
	})
	if err != nil {
		s.logger.WithContext(ctx).Error("Failed to update payment status", logging.Fields{
			"order_id":       orderID,
			"payment_status": status,
			"error":          err.Error(),
		})
		return nil, err
	}

	s.record(t)
	s.invalidate(ctx, updated)
	if t.orderFrom != t.orderTo && s.eventsEnabled() {
		if err := s.publisher.PublishOrderStatusChanged(ctx, updated, t.orderFrom); err != nil {
			s.logPublishError(ctx, "order.status_changed", orderID, err)
		}
	}

	s.logger.WithContext(ctx).Info("Payment status updated", logging.Fields{
		"order_id":        orderID,
		"payment_status":  status,
		"previous_status": t.orderFrom,
		"order_status":    updated.Status,
	})
	return updated, nil
}

// CancelOrder cancels an order that has not shipped. A PAID payment is
// refunded and the order ends REFUNDED; otherwise the payment fails and the
// order ends CANCELLED.
func (s *OrderService) CancelOrder(ctx context.Context, id int64) (_ *models.Order, err error) {
	ctx, span := tracer.Start(ctx, "OrderService.CancelOrder",
		trace.WithAttributes(attribute.Int64("order.id", id)))
	defer func() { endSpan(span, err) }()

	logger := s.logger.WithContext(ctx)

	var t transition
	var cancelled *models.Order
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		order, err := s.orders.LockByID(ctx, id)
		if err != nil {
			return err
		}
		if order.Status.IsProcessed() {
			return &errors.OrderAlreadyProcessedError{OrderID: id, Status: string(order.Status)}
		}

		var payment *models.Payment
		lookupErr := s.tx.WithinSavepoint(ctx, paymentLookupSavepoint, func(ctx context.Context) error {
			var err error
			payment, err = s.payments.FindByOrderID(ctx, id)
			return err
		})
		if lookupErr != nil {
			logger.Warn("Payment lookup failed during cancel, continuing without payment", logging.Fields{
				"order_id": id,
				"error":    lookupErr.Error(),
			})
			payment = nil
		}
		// The payment is settled here; the order write must not look it up again.
		t.paymentSettled = true

		target := models.OrderStatusCancelled
		if payment != nil {
			var next models.PaymentStatus
			switch payment.Status {
			case models.PaymentStatusPaid:
				next, target = models.PaymentStatusRefunded, models.OrderStatusRefunded
			case models.PaymentStatusRefunded:
				next = payment.Status
			default:
				next = models.PaymentStatusFailed
			}

			if next != payment.Status {
				if err := s.writePaymentStatus(ctx, payment, next); err != nil {
					return err
				}
				t.paymentFrom, t.paymentTo = payment.Status, next
			}
		}

		if _, err := s.updateOrderStatus(ctx, id, target, &t); err != nil {
			return err
		}

		cancelled, err = s.orders.FindByID(ctx, id)
		return err
	})
	if err != nil {
		logger.Warn("Order not cancelled", logging.Fields{
			"order_id": id,
			"error":    err.Error(),
		})
		return nil, err
	}

	s.record(t)
	s.invalidate(ctx, cancelled)
	if s.eventsEnabled() {
		if err := s.publisher.PublishOrderCancelled(ctx, cancelled, t.orderFrom); err != nil {
			s.logPublishError(ctx, "order.cancelled", id, err)
		}
	}

	logger.Info("Order cancelled", logging.Fields{
		"order_id":       id,
		"order_status":   cancelled.Status,
		"payment_status": t.paymentTo,
	})
	return cancelled, nil
}

// DeleteOrder removes an order; its payment and items go with it.
func (s *OrderService) DeleteOrder(ctx context.Context, id int64) (err error) {
	ctx, span := tracer.Start(ctx, "OrderService.DeleteOrder",
		trace.WithAttributes(attribute.Int64("order.id", id)))
	defer func() { endSpan(span, err) }()

	var deleted *models.Order
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		order, err := s.orders.LockByID(ctx, id)
		if err != nil {
			return err
		}

		rows, err := s.orders.DeleteByID(ctx, id)
		if err != nil {
			return err
		}
		if rows == 0 {
			return errors.Persistence("delete order", id)
		}
		deleted = order
		return nil
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, deleted)
	if s.eventsEnabled() {
		if err := s.publisher.PublishOrderDeleted(ctx, deleted); err != nil {
			s.logPublishError(ctx, "order.deleted", id, err)
		}
	}

	s.logger.WithContext(ctx).Info("Order deleted", logging.Fields{"order_id": id})
	return nil
}

// UpdatePaymentReference stores the gateway order reference on an order.
func (s *OrderService) UpdatePaymentReference(ctx context.Context, id int64, ref string) (*models.Order, error) {
	if err := ValidatePaymentReference(ref); err != nil {
		return nil, err
	}

	var updated *models.Order
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		rows, err := s.orders.UpdatePaymentReference(ctx, id, ref)
		if err != nil {
			return err
		}
		if rows == 0 {
			return errors.NotFound("order", id)
		}
		updated, err = s.orders.FindByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, updated)
	return updated, nil
}

// EstimateDelivery returns the delivery estimate in days. It runs outside
// any transaction.
func (s *OrderService) EstimateDelivery(ctx context.Context, buyerID, productID int64) (int, error) {
	return s.delivery.EstimateDays(ctx, buyerID, productID)
}

func (s *OrderService) cachingEnabled() bool {
	return s.cache != nil && s.config.Features.EnableOrderCaching
}

func (s *OrderService) eventsEnabled() bool {
	return s.publisher != nil && s.config.Features.EnableOrderEvents
}

// invalidate evicts the order and its owner's list, then evicts them again
// after the configured delay. The second pass removes entries a concurrent
// read-through wrote from a row it loaded before this write committed.
func (s *OrderService) invalidate(ctx context.Context, order *models.Order) {
	if !s.cachingEnabled() || order == nil {
		return
	}
	s.evict(ctx, order.ID, order.UserID)
}

func (s *OrderService) invalidateUser(ctx context.Context, userID int64) {
	if !s.cachingEnabled() {
		return
	}
	s.evict(ctx, 0, userID)
}

// evict drops cache entries now and schedules the delayed second pass. An
// orderID of zero evicts only the user's list.
func (s *OrderService) evict(ctx context.Context, orderID, userID int64) {
	s.evictNow(ctx, orderID, userID)

	delay := s.config.Redis.InvalidationDelay
	if delay <= 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	time.AfterFunc(delay, func() { s.evictNow(ctx, orderID, userID) })
}

func (s *OrderService) evictNow(ctx context.Context, orderID, userID int64) {
	if orderID > 0 {
		if err := s.cache.Delete(ctx, orderID); err != nil {
			s.logger.WithContext(ctx).Warn("Failed to evict order from cache", logging.Fields{
				"order_id": orderID,
				"error":    err.Error(),
			})
		}
	}
	if err := s.cache.InvalidateByUserID(ctx, userID); err != nil {
		s.logger.WithContext(ctx).Warn("Failed to evict user orders from cache", logging.Fields{
			"user_id": userID,
			"error":   err.Error(),
		})
	}
}

func (s *OrderService) logPublishError(ctx context.Context, eventType string, orderID int64, err error) {
	s.logger.WithContext(ctx).Error("Failed to publish order event", logging.Fields{
		"event_type": eventType,
		"order_id":   orderID,
		"error":      err.Error(),
	})
}
