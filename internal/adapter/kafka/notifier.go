// Package kafka publishes liquidation email jobs to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/olyamironova/futures-engine/internal/domain"
	"github.com/olyamironova/futures-engine/internal/port"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

var _ port.Notifier = (*Notifier)(nil)

// messageWriter is the part of *kafka.Writer the notifier uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Config struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

type Notifier struct {
	writer messageWriter
	topic  string
	log    *zap.Logger
	now    func() time.Time
}

func NewNotifier(cfg Config, log *zap.Logger) *Notifier {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.CRC32Balancer{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
	}
	return newNotifier(w, cfg.Topic, log)
}

func newNotifier(w messageWriter, topic string, log *zap.Logger) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{writer: w, topic: topic, log: log.Named("kafka"), now: time.Now}
}

// Enqueue writes n keyed by the user id so one user's emails stay ordered.
func (n *Notifier) Enqueue(ctx context.Context, note domain.Notification) error {
	payload, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("kafka: marshal notification: %w", err)
	}
	userID, _ := note.EmailData["userId"].(string)
	now := n.now()
	msg := kafka.Message{
		Key:   []byte(userID),
		Value: payload,
		Time:  now,
		Headers: []kafka.Header{
			{Key: "email-type", Value: []byte(note.EmailType)},
			{Key: "timestamp", Value: []byte(now.UTC().Format(time.RFC3339))},
		},
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: write to %s: %w", n.topic, err)
	}
	n.log.Debug("notification enqueued",
		zap.String("topic", n.topic),
		zap.String("email_type", string(note.EmailType)),
		zap.Int("size", len(payload)),
	)
	return nil
}

func (n *Notifier) Close() error {
	return n.writer.Close()
}
