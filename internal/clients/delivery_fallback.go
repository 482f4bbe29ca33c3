package clients

import (
	"context"

	"github.com/tm-acme-shop/acme-shop-order-sync/internal/logging"
)

// FallbackDeliveryEstimator answers with a fixed day count when the primary
// estimator fails. A zero fallback disables it and surfaces the error.
type FallbackDeliveryEstimator struct {
	primary      DeliveryEstimator
	fallbackDays int
	logger       *logging.Logger
}

func NewFallbackDeliveryEstimator(primary DeliveryEstimator, fallbackDays int, logger *logging.Logger) *FallbackDeliveryEstimator {
	return &FallbackDeliveryEstimator{
		primary:      primary,
		fallbackDays: fallbackDays,
		logger:       logger,
	}
}

func (f *FallbackDeliveryEstimator) EstimateDays(ctx context.Context, buyerID, productID int64) (int, error) {
	days, err := f.primary.EstimateDays(ctx, buyerID, productID)
	if err == nil || f.fallbackDays <= 0 {
		return days, err
	}

	f.logger.WithContext(ctx).Warn("Delivery estimate unavailable, using fallback", logging.Fields{
		"buyer_id":      buyerID,
		"product_id":    productID,
		"fallback_days": f.fallbackDays,
		"error":         err.Error(),
	})
	return f.fallbackDays, nil
}
