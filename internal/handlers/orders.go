package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/errors"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/logging"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/models"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/service"
)

// CreateOrder handles POST /api/v1/orders
func (h *Handlers) CreateOrder(c *gin.Context) {
	var req models.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WithContext(c.Request.Context()).Warn("Failed to bind request", logging.Fields{"error": err.Error()})
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	order, err := h.orderService.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.Header("Location", "/api/v1/orders/"+strconv.FormatInt(order.ID, 10))
	c.JSON(http.StatusCreated, order)
}

// ListOrders handles GET /api/v1/orders
func (h *Handlers) ListOrders(c *gin.Context) {
	orders, err := h.orderService.ListOrders(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, orders)
}

// GetOrder handles GET /api/v1/orders/:id
func (h *Handlers) GetOrder(c *gin.Context) {
	orderID, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	order, err := h.orderService.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

// UpdateOrderStatus handles PUT /api/v1/orders/:id/status?orderStatus=
func (h *Handlers) UpdateOrderStatus(c *gin.Context) {
	orderID, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	status, err := models.ParseOrderStatus(c.Query("orderStatus"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	order, err := h.orderService.UpdateOrderStatus(c.Request.Context(), orderID, status)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

// UpdatePaymentStatus handles PUT /api/v1/orders/:id/payment-status?status=
func (h *Handlers) UpdatePaymentStatus(c *gin.Context) {
	orderID, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	status, err := models.ParsePaymentStatus(c.Query("status"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	order, err := h.orderService.UpdatePaymentStatus(c.Request.Context(), orderID, status)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

// UpdatePaymentReference handles PUT /api/v1/orders/:id/payment-reference
func (h *Handlers) UpdatePaymentReference(c *gin.Context) {
	orderID, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	var req models.UpdatePaymentReferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	order, err := h.orderService.UpdatePaymentReference(c.Request.Context(), orderID, req.RazorpayOrderID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

// CancelOrder handles POST /api/v1/orders/:id/cancel
func (h *Handlers) CancelOrder(c *gin.Context) {
	orderID, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	order, err := h.orderService.CancelOrder(c.Request.Context(), orderID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

// DeleteOrder handles DELETE /api/v1/orders/:id
func (h *Handlers) DeleteOrder(c *gin.Context) {
	orderID, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	if err := h.orderService.DeleteOrder(c.Request.Context(), orderID); err != nil {
		h.handleError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// ExpireOrders handles POST /api/v1/orders/expire
func (h *Handlers) ExpireOrders(c *gin.Context) {
	expired, err := h.orderService.ExpireStaleOrders(c.Request.Context())
	if err != nil {
		h.logger.WithContext(c.Request.Context()).Warn("Manual sweep finished with errors", logging.Fields{
			"expired": expired,
		})
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"expired": expired})
}

// GetUserOrders handles GET /api/v1/users/:user_id/orders
func (h *Handlers) GetUserOrders(c *gin.Context) {
	userID, ok := h.pathID(c, "user_id")
	if !ok {
		return
	}

	orders, err := h.orderService.GetUserOrders(c.Request.Context(), userID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, orders)
}

// GetUserOrderItems handles GET /api/v1/users/:user_id/order-items
func (h *Handlers) GetUserOrderItems(c *gin.Context) {
	userID, ok := h.pathID(c, "user_id")
	if !ok {
		return
	}

	items, err := h.orderService.GetOrdersWithItems(c.Request.Context(), userID)
	if err != nil {
		h.handleError(c, err)
		return
	}
	if len(items) == 0 {
		h.handleError(c, errors.NotFound("order items for user", userID))
		return
	}

	c.JSON(http.StatusOK, items)
}

// EstimateDelivery handles GET /api/v1/delivery/estimate?buyerId=&productId=
func (h *Handlers) EstimateDelivery(c *gin.Context) {
	buyerID, err := strconv.ParseInt(c.Query("buyerId"), 10, 64)
	if err != nil || buyerID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid buyerId"})
		return
	}
	productID, err := strconv.ParseInt(c.Query("productId"), 10, 64)
	if err != nil || productID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid productId"})
		return
	}

	days, err := h.orderService.EstimateDelivery(c.Request.Context(), buyerID, productID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"days": days})
}

// pathID parses a numeric path parameter and writes a 400 when it is malformed
// or not positive.
func (h *Handlers) pathID(c *gin.Context, param string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(param), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + param})
		return 0, false
	}
	if err := service.ValidateID(param, id); err != nil {
		h.handleError(c, err)
		return 0, false
	}
	return id, true
}

func (h *Handlers) handleError(c *gin.Context, err error) {
	var validationErr *errors.ValidationError
	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{
			"error": validationErr.Message,
			"field": validationErr.Field,
		})
	case errors.Is(err, errors.ErrInvalidPaymentMethod):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, errors.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, errors.ErrOrderAlreadyProcessed):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, errors.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	case errors.Is(err, errors.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, errors.ErrPersistence), errors.Is(err, errors.ErrPaymentNotFound):
		h.logger.WithContext(c.Request.Context()).Error("Request failed", logging.Fields{"error": err.Error()})
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		h.logger.WithContext(c.Request.Context()).Error("Unhandled error", logging.Fields{"error": err.Error()})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
