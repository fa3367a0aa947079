// Package analytics publishes storefront events.
//
// The purchase-completed event goes to a Kafka topic keyed by order id, so
// every event for one order lands on the same partition. Without brokers the
// log notifier stands in.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"storefront-checkout/internal/model"
)

// EventPurchaseCompleted is the event type header and envelope name.
const EventPurchaseCompleted = "purchase_completed"

// DefaultTopic is used when no topic is configured.
const DefaultTopic = "storefront.purchases"

const writeTimeout = 5 * time.Second

// MessageWriter is the part of *kafka.Writer the notifier uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Envelope wraps every published event.
type Envelope struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// KafkaNotifier publishes events to Kafka.
type KafkaNotifier struct {
	writer MessageWriter
	logger *slog.Logger
}

// ParseBrokers splits a comma separated broker list, dropping blanks.
func ParseBrokers(csv string) []string {
	var brokers []string
	for _, b := range strings.Split(csv, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// NewKafkaNotifier creates a notifier writing to topic on brokers.
func NewKafkaNotifier(brokers []string, topic string, logger *slog.Logger) (*KafkaNotifier, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("analytics: at least one broker is required")
	}
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return NewKafkaNotifierWithWriter(w, logger), nil
}

// NewKafkaNotifierWithWriter wraps an existing writer. Tests pass a fake.
func NewKafkaNotifierWithWriter(w MessageWriter, logger *slog.Logger) *KafkaNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaNotifier{writer: w, logger: logger}
}

// PurchaseCompleted publishes the event keyed by order id.
func (n *KafkaNotifier) PurchaseCompleted(ctx context.Context, event model.PurchaseCompleted) error {
	msg, err := newMessage(EventPurchaseCompleted, strconv.FormatInt(event.OrderID, 10), event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publishing %s: %w", EventPurchaseCompleted, err)
	}

	n.logger.Info("purchase event published",
		slog.Int64("order_id", event.OrderID),
		slog.Int64("total", event.Total),
	)
	return nil
}

// Close flushes and closes the writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

func newMessage(eventType, key string, payload any) (kafka.Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encoding %s: %w", eventType, err)
	}
	now := time.Now().UTC()
	body, err := json.Marshal(Envelope{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: now,
		Data:       data,
	})
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encoding envelope: %w", err)
	}
	return kafka.Message{
		Key:     []byte(key),
		Value:   body,
		Time:    now,
		Headers: []kafka.Header{{Key: "event-type", Value: []byte(eventType)}},
	}, nil
}

// LogNotifier writes events to the log only.
type LogNotifier struct {
	Logger *slog.Logger
}

// PurchaseCompleted logs the event.
func (n LogNotifier) PurchaseCompleted(_ context.Context, event model.PurchaseCompleted) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info(EventPurchaseCompleted,
		slog.Int64("order_id", event.OrderID),
		slog.Int64("total", event.Total),
		slog.String("status", string(event.Status)),
	)
	return nil
}

// Close is a no-op.
func (LogNotifier) Close() error { return nil }
