package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-marketplace/internal/logger"

	"github.com/segmentio/kafka-go"
)

// Handler processes one message. A nil error commits the offset.
type Handler func(ctx context.Context, msg kafka.Message) error

type Consumer struct {
	reader *kafka.Reader
	logger *logger.Logger
	topic  string
}

func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
	if log == nil {
		log = logger.Discard()
	}
	return &Consumer{reader: reader, logger: log, topic: topic}
}

// Start blocks until ctx is cancelled. A failed message is retried in place
// with a growing pause so later messages never overtake it.
func (c *Consumer) Start(ctx context.Context, handle Handler) {
	c.logger.LogKafka("CONSUME", c.topic, "consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				c.logger.LogKafka("CONSUME", c.topic, "consumer stopped")
				return
			}
			c.logger.Error("KAFKA", fmt.Sprintf("fetch from %s failed: %v", c.topic, err))
			time.Sleep(time.Second)
			continue
		}

		if !c.process(ctx, handle, msg) {
			c.logger.LogKafka("CONSUME", c.topic, "consumer stopped")
			return
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("KAFKA", fmt.Sprintf("commit failed: %v", err))
		}
	}
}

// process returns false only when ctx ends before the message succeeds.
func (c *Consumer) process(ctx context.Context, handle Handler, msg kafka.Message) bool {
	backoff := time.Second
	for {
		err := handle(ctx, msg)
		if err == nil {
			return true
		}
		c.logger.Error("KAFKA", fmt.Sprintf("handler failed at %s[%d]@%d: %v", msg.Topic, msg.Partition, msg.Offset, err))
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
