package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ms-marketplace/internal/logger"

	"github.com/google/uuid"
)

type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// Notifier wraps payloads in an Envelope and hands them to the notification
// topic. Callers treat its errors as non-fatal.
type Notifier struct {
	pub      Publisher
	topic    string
	producer string
	timeout  time.Duration
	logger   *logger.Logger
}

func NewNotifier(pub Publisher, topic string, log *logger.Logger) *Notifier {
	if log == nil {
		log = logger.Discard()
	}
	return &Notifier{pub: pub, topic: topic, producer: "marketplace-core", timeout: 3 * time.Second, logger: log}
}

func (n *Notifier) Publish(ctx context.Context, event, key string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     event,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      n.producer,
		CorrelationID: key,
		Payload:       raw,
	}
	value, err := json.Marshal(env)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	return n.pub.Publish(ctx, n.topic, key, value)
}

// LogPublisher stands in for Kafka when it is disabled.
type LogPublisher struct {
	Logger *logger.Logger
}

func (l LogPublisher) Publish(_ context.Context, topic, key string, value []byte) error {
	l.Logger.Debug("NOTIFY", fmt.Sprintf("%s key=%s %s", topic, key, value))
	return nil
}

type Sink interface {
	Publish(ctx context.Context, event, key string, payload interface{}) error
}

// Fanout delivers to every sink and reports the first failure.
type Fanout []Sink

func (f Fanout) Publish(ctx context.Context, event, key string, payload interface{}) error {
	var first error
	for _, s := range f {
		if err := s.Publish(ctx, event, key, payload); err != nil && first == nil {
			first = err
		}
	}
	return first
}
