package notify

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/xenking/storefront/internal/domain/order"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var _ order.Notifier = (*Kafka)(nil)

// Kafka publishes order events to a topic, keyed by order number.
type Kafka struct {
	w   messageWriter
	now func() time.Time
}

// NewKafka creates a Kafka publisher writing to topic on brokers.
func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			MaxAttempts:  3,
			WriteTimeout: 10 * time.Second,
			ReadTimeout:  10 * time.Second,
		},
		now: time.Now,
	}
}

// OrderPlaced implements order.Notifier.
func (k *Kafka) OrderPlaced(ctx context.Context, o *order.Order) error {
	ts := k.now()
	msg := kafka.Message{
		Key:   []byte(o.Number),
		Value: EncodeOrderPlaced(o, uuid.NewString(), ts),
		Time:  ts,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(EventOrderPlaced)},
		},
	}
	if err := k.w.WriteMessages(ctx, msg); err != nil {
		return errors.Wrap(err, "write message")
	}
	return nil
}

// Close flushes and closes the writer.
func (k *Kafka) Close() error {
	return k.w.Close()
}
