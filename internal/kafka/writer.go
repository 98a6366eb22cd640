// Package kafka publishes scan events to a Kafka topic.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	kgo "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Config struct {
	Brokers []string
	Topic   string
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kgo.Message) error
	Close() error
}

// Writer publishes keyed messages. Messages with the same key land on the
// same partition, so the events of one scan pass stay in order.
type Writer struct {
	w      messageWriter
	topic  string
	logger *zap.Logger
}

func NewWriter(cfg Config, logger *zap.Logger) (*Writer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka topic is required")
	}

	w := &kgo.Writer{
		Addr:         kgo.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kgo.Hash{},
		RequiredAcks: kgo.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}

	logger.Info("kafka writer initialized",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic),
	)
	return &Writer{w: w, topic: cfg.Topic, logger: logger}, nil
}

func (w *Writer) Publish(ctx context.Context, key string, body []byte) error {
	err := w.w.WriteMessages(ctx, kgo.Message{
		Key:   []byte(key),
		Value: body,
		Time:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("writing to %s: %w", w.topic, err)
	}
	return nil
}

func (w *Writer) Close() error {
	return w.w.Close()
}
