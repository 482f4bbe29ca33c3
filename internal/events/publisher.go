package events

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/config"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/logging"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/models"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/service"
)

// Ensure KafkaPublisher implements service.EventPublisher
var _ service.EventPublisher = (*KafkaPublisher)(nil)

// EventType represents the type of order event.
type EventType string

const (
	EventTypeOrderCreated       EventType = "order.created"
	EventTypeOrderStatusChanged EventType = "order.status_changed"
	EventTypeOrderCancelled     EventType = "order.cancelled"
	EventTypeOrderExpired       EventType = "order.expired"
	EventTypeOrderDeleted       EventType = "order.deleted"
)

// OrderEvent represents an order-related event.
type OrderEvent struct {
	ID            string            `json:"id"`
	Type          EventType         `json:"type"`
	OrderID       int64             `json:"order_id"`
	UserID        int64             `json:"user_id"`
	Data          json.RawMessage   `json:"data"`
	Metadata      map[string]string `json:"metadata"`
	Timestamp     time.Time         `json:"timestamp"`
	CorrelationID string            `json:"correlation_id,omitempty"`
}

type statusChange struct {
	Order          *models.Order      `json:"order"`
	PreviousStatus models.OrderStatus `json:"previous_status"`
	NewStatus      models.OrderStatus `json:"new_status"`
}

// messageWriter is the subset of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes order events to Kafka.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger *logging.Logger
	now    func() time.Time
}

// NewKafkaPublisher creates a new Kafka-based event publisher.
func NewKafkaPublisher(cfg config.KafkaConfig, logger *logging.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.OrdersTopic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
	}

	return newPublisher(writer, cfg.OrdersTopic, logger)
}

func newPublisher(writer messageWriter, topic string, logger *logging.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: writer,
		topic:  topic,
		logger: logger.Named("kafka-publisher"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// PublishOrderCreated publishes an order created event.
func (p *KafkaPublisher) PublishOrderCreated(ctx context.Context, order *models.Order) error {
	return p.publishOrder(ctx, EventTypeOrderCreated, order, order)
}

// PublishOrderStatusChanged publishes an order status change event.
func (p *KafkaPublisher) PublishOrderStatusChanged(ctx context.Context, order *models.Order, previousStatus models.OrderStatus) error {
	return p.publishOrder(ctx, EventTypeOrderStatusChanged, order, statusChange{
		Order:          order,
		PreviousStatus: previousStatus,
		NewStatus:      order.Status,
	})
}

// PublishOrderCancelled publishes an order cancellation event. A refunded
// cancellation carries REFUNDED as its new status.
func (p *KafkaPublisher) PublishOrderCancelled(ctx context.Context, order *models.Order, previousStatus models.OrderStatus) error {
	return p.publishOrder(ctx, EventTypeOrderCancelled, order, statusChange{
		Order:          order,
		PreviousStatus: previousStatus,
		NewStatus:      order.Status,
	})
}

// PublishOrderExpired publishes an order expiry event.
func (p *KafkaPublisher) PublishOrderExpired(ctx context.Context, order *models.Order) error {
	return p.publishOrder(ctx, EventTypeOrderExpired, order, order)
}

// PublishOrderDeleted publishes an order deletion event.
func (p *KafkaPublisher) PublishOrderDeleted(ctx context.Context, order *models.Order) error {
	return p.publishOrder(ctx, EventTypeOrderDeleted, order, order)
}

func (p *KafkaPublisher) publishOrder(ctx context.Context, eventType EventType, order *models.Order, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	event := &OrderEvent{
		ID:            uuid.NewString(),
		Type:          eventType,
		OrderID:       order.ID,
		UserID:        order.UserID,
		Data:          data,
		Metadata:      map[string]string{"order_status": string(order.Status)},
		Timestamp:     p.now(),
		CorrelationID: logging.RequestIDFromContext(ctx),
	}
	return p.publish(ctx, event)
}

func (p *KafkaPublisher) publish(ctx context.Context, event *OrderEvent) error {
	eventData, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(event.OrderID, 10)),
		Value: eventData,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "event_id", Value: []byte(event.ID)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.WithContext(ctx).Error("Failed to publish event", logging.Fields{
			"event_id":   event.ID,
			"event_type": event.Type,
			"order_id":   event.OrderID,
			"error":      err.Error(),
		})
		return err
	}

	p.logger.WithContext(ctx).Debug("Event published", logging.Fields{
		"event_id":   event.ID,
		"event_type": event.Type,
		"order_id":   event.OrderID,
		"topic":      p.topic,
	})
	return nil
}

// Close closes the Kafka writer.
func (p *KafkaPublisher) Close() error {
	p.logger.Info("Closing Kafka publisher")
	return p.writer.Close()
}
