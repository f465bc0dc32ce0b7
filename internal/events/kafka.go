package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/order"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// EventOrderPaid is emitted when an order is created as paid or moves to paid.
const EventOrderPaid = "OrderPaid"

// MessageWriter is the subset of *kafka.Writer the producer needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	w     MessageWriter
	topic string
}

// NewProducerWithBrokers builds a producer writing to topic.
func NewProducerWithBrokers(brokers []string, topic string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{}, // partition by Kafka message key
			AllowAutoTopicCreation: true,
		},
		topic: topic,
	}
}

// NewProducerWithWriter wraps an existing writer, e.g. a shared *kafka.Writer.
func NewProducerWithWriter(w MessageWriter, topic string) *Producer {
	return &Producer{w: w, topic: topic}
}

func (p *Producer) Close() error { return p.w.Close() }

// Envelope is the standard event schema the service publishes.
// Keep it small and stable.
type Envelope struct {
	EventID      string          `json:"eventId"`
	EventType    string          `json:"eventType"`
	EventVersion string          `json:"eventVersion"`
	OccurredAt   time.Time       `json:"occurredAt"`
	AggregateID  string          `json:"aggregateId"` // payment reference
	Data         json.RawMessage `json:"data"`
}

// OrderPaid is the Data of an OrderPaid envelope.
type OrderPaid struct {
	OrderID         string  `json:"orderId"`
	Reference       string  `json:"reference"`
	UserID          string  `json:"userId"`
	ProviderName    string  `json:"providerName"`
	BundleID        string  `json:"bundleId"`
	RecipientNumber string  `json:"recipientNumber"`
	Price           float64 `json:"price"`
	PaymentNetwork  string  `json:"paymentNetwork"`
	Source          string  `json:"source"`
}

// Publish writes a single message to Kafka.
// 'key' is the Kafka partition key (the reference keeps per-payment ordering).
func (p *Producer) Publish(ctx context.Context, key string, evt Envelope) error {
	if evt.EventID == "" {
		evt.EventID = uuid.New().String()
	}
	evt.OccurredAt = time.Now().UTC()
	val, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", evt.EventType, err)
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Topic: p.topic,
		Key:   []byte(key),
		Value: val,
	})
}

// PublishOrderPaid implements order.Publisher.
func (p *Producer) PublishOrderPaid(ctx context.Context, o order.Order, source string) error {
	data, err := json.Marshal(OrderPaid{
		OrderID:         o.ID,
		Reference:       o.Reference,
		UserID:          o.UserID,
		ProviderName:    o.ProviderName,
		BundleID:        o.BundleID,
		RecipientNumber: o.RecipientNumber,
		Price:           o.Price,
		PaymentNetwork:  o.PaymentNetwork,
		Source:          source,
	})
	if err != nil {
		return fmt.Errorf("marshal OrderPaid: %w", err)
	}
	return p.Publish(ctx, o.Reference, Envelope{
		EventType:    EventOrderPaid,
		EventVersion: "v1",
		AggregateID:  o.Reference,
		Data:         data,
	})
}

// DecodeOrderPaid unpacks an envelope produced by PublishOrderPaid.
func DecodeOrderPaid(value []byte) (Envelope, OrderPaid, error) {
	var evt Envelope
	if err := json.Unmarshal(value, &evt); err != nil {
		return Envelope{}, OrderPaid{}, fmt.Errorf("decode envelope: %w", err)
	}
	if evt.EventType != EventOrderPaid {
		return evt, OrderPaid{}, nil
	}
	var paid OrderPaid
	if err := json.Unmarshal(evt.Data, &paid); err != nil {
		return evt, OrderPaid{}, fmt.Errorf("decode %s data: %w", evt.EventType, err)
	}
	return evt, paid, nil
}
