package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/config"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/logging"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/models"
)

// PaymentEventType represents the type of payment event.
type PaymentEventType string

const (
	PaymentEventCompleted PaymentEventType = "payment.completed"
	PaymentEventFailed    PaymentEventType = "payment.failed"
	PaymentEventRefunded  PaymentEventType = "payment.refunded"
	PaymentEventPending   PaymentEventType = "payment.pending"
)

var paymentEventStatus = map[PaymentEventType]models.PaymentStatus{
	PaymentEventCompleted: models.PaymentStatusPaid,
	PaymentEventFailed:    models.PaymentStatusFailed,
	PaymentEventRefunded:  models.PaymentStatusRefunded,
	PaymentEventPending:   models.PaymentStatusPending,
}

// PaymentEvent is a payment gateway webhook relayed through Kafka.
type PaymentEvent struct {
	ID        string           `json:"id"`
	Type      PaymentEventType `json:"type"`
	PaymentID string           `json:"payment_id"`
	OrderID   int64            `json:"order_id"`
	Timestamp time.Time        `json:"timestamp"`
}

// PaymentStatusUpdater applies a payment-side status change.
type PaymentStatusUpdater interface {
	UpdatePaymentStatus(ctx context.Context, orderID int64, status models.PaymentStatus) (*models.Order, error)
}

// messageReader is the subset of *kafka.Reader the consumer uses.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaConsumer feeds payment events into the order engine.
type KafkaConsumer struct {
	reader   messageReader
	updater  PaymentStatusUpdater
	logger   *logging.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewKafkaConsumer creates a new Kafka-based payment event consumer.
func NewKafkaConsumer(cfg config.KafkaConfig, updater PaymentStatusUpdater, logger *logging.Logger) *KafkaConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.PaymentsTopic,
		GroupID:  cfg.ConsumerGroup,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	})

	return newConsumer(reader, updater, logger)
}

func newConsumer(reader messageReader, updater PaymentStatusUpdater, logger *logging.Logger) *KafkaConsumer {
	return &KafkaConsumer{
		reader:  reader,
		updater: updater,
		logger:  logger.Named("payment-consumer"),
		stopCh:  make(chan struct{}),
	}
}

// Start consumes events until ctx is done or Stop is called.
func (c *KafkaConsumer) Start(ctx context.Context) error {
	c.logger.Info("Starting Kafka consumer")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			c.logger.Info("Kafka consumer stopped")
			return nil
		default:
			msg, err := c.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				select {
				case <-c.stopCh:
					return nil
				default:
				}
				c.logger.Error("Failed to read message", logging.Fields{"error": err.Error()})
				continue
			}

			c.handleMessage(ctx, msg)
		}
	}
}

// Stop stops the consumer. It is safe to call more than once.
func (c *KafkaConsumer) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		if err := c.reader.Close(); err != nil {
			c.logger.Warn("Failed to close Kafka reader", logging.Fields{"error": err.Error()})
		}
	})
}

func (c *KafkaConsumer) handleMessage(ctx context.Context, msg kafka.Message) {
	c.logger.Debug("Received message", logging.Fields{
		"topic":     msg.Topic,
		"partition": msg.Partition,
		"offset":    msg.Offset,
	})

	var event PaymentEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		c.logger.Error("Failed to unmarshal event", logging.Fields{"error": err.Error()})
		return
	}

	status, ok := paymentEventStatus[event.Type]
	if !ok {
		c.logger.Debug("Ignoring unknown event type", logging.Fields{"type": event.Type})
		return
	}

	if event.ID != "" {
		ctx = logging.ContextWithRequestID(ctx, event.ID)
	}
	logger := c.logger.WithContext(ctx)

	logger.Info("Handling payment event", logging.Fields{
		"type":       event.Type,
		"payment_id": event.PaymentID,
		"order_id":   event.OrderID,
	})

	if _, err := c.updater.UpdatePaymentStatus(ctx, event.OrderID, status); err != nil {
		logger.Error("Failed to apply payment event", logging.Fields{
			"type":     event.Type,
			"order_id": event.OrderID,
			"error":    err.Error(),
		})
	}
}
