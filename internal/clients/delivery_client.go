package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/tm-acme-shop/acme-shop-order-sync/internal/config"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/logging"
)

// HeaderRequestID carries the caller's request id to downstream services.
const HeaderRequestID = "X-Request-ID"

// DeliveryEstimator estimates how many days a product takes to reach a buyer.
type DeliveryEstimator interface {
	EstimateDays(ctx context.Context, buyerID, productID int64) (int, error)
}

// Ensure HTTPDeliveryClient implements DeliveryEstimator
var _ DeliveryEstimator = (*HTTPDeliveryClient)(nil)

// HTTPDeliveryClient implements DeliveryEstimator against the delivery service.
type HTTPDeliveryClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

type estimateResponse struct {
	Days int `json:"days"`
}

// NewHTTPDeliveryClient creates a new HTTP-based delivery client.
func NewHTTPDeliveryClient(cfg config.DeliveryServiceConfig, logger *logging.Logger) *HTTPDeliveryClient {
	return &HTTPDeliveryClient{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

// EstimateDays asks the delivery service for a day count.
func (c *HTTPDeliveryClient) EstimateDays(ctx context.Context, buyerID, productID int64) (int, error) {
	c.logger.Debug("Estimating delivery", logging.Fields{
		"buyer_id":   buyerID,
		"product_id": productID,
	})

	query := url.Values{}
	query.Set("buyerId", strconv.FormatInt(buyerID, 10))
	query.Set("productId", strconv.FormatInt(productID, 10))
	endpoint := fmt.Sprintf("%s/api/v1/delivery/days?%s", c.baseURL, query.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}
	c.setHeaders(ctx, httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error("Delivery request failed", logging.Fields{
			"buyer_id":   buyerID,
			"product_id": productID,
			"error":      err.Error(),
		})
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("delivery service returned status %d", resp.StatusCode)
	}

	var result estimateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, err
	}
	if result.Days < 0 {
		return 0, fmt.Errorf("delivery service returned negative estimate %d", result.Days)
	}

	return result.Days, nil
}

func (c *HTTPDeliveryClient) setHeaders(ctx context.Context, req *http.Request) {
	req.Header.Set("Accept", "application/json")

	if requestID := logging.RequestIDFromContext(ctx); requestID != "" {
		req.Header.Set(HeaderRequestID, requestID)
	}
}
