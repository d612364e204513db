package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// Consumer reads a single-partition topic from the first offset without a
// consumer group, so every process start replays the full topic.
type Consumer struct {
	reader *kafka.Reader
	topic  string
	log    *slog.Logger
}

func NewConsumer(brokers []string, topic string, log *slog.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: 0,
		MaxWait:   time.Second,
	})

	return &Consumer{
		reader: reader,
		topic:  topic,
		log:    log.With(slog.String("topic", topic)),
	}
}

func (c *Consumer) CheckConnection(ctx context.Context) error {
	conn, err := kafka.DialContext(ctx, "tcp", c.reader.Config().Brokers[0])
	if err != nil {
		return fmt.Errorf("failed to connect to kafka: %w", err)
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions(c.topic)
	if err != nil {
		return fmt.Errorf("failed to read partitions: %w", err)
	}

	c.log.Info("kafka connection ok", "partitions", len(partitions))
	return nil
}

// ReadEvent blocks until the next message arrives and decodes it into v.
func (c *Consumer) ReadEvent(ctx context.Context, v interface{}) (kafka.Message, error) {
	msg, err := c.reader.ReadMessage(ctx)
	if err != nil {
		return msg, err
	}

	c.log.Debug("received message",
		"key", string(msg.Key),
		"offset", msg.Offset,
		"value_length", len(msg.Value))

	if err := json.Unmarshal(msg.Value, v); err != nil {
		return msg, fmt.Errorf("decode message at offset %d: %w", msg.Offset, err)
	}

	return msg, nil
}

// Lag reports how many messages are behind the high watermark.
func (c *Consumer) Lag() int64 {
	return c.reader.Stats().Lag
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

func (c *Consumer) Topic() string {
	return c.topic
}
