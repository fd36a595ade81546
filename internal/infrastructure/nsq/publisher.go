// Package nsq publishes sync events to an NSQ topic.
package nsq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/nsqio/go-nsq"
	log "github.com/sirupsen/logrus"

	"finsync/internal/domain/openfinance"
)

// messageProducer is the part of *nsq.Producer the publisher needs.
type messageProducer interface {
	Publish(topic string, body []byte) error
	Stop()
}

// Publisher implements openfinance.EventPublisher
type Publisher struct {
	producer messageProducer
	topic    string
}

// logrusAdapter routes go-nsq's internal log lines through logrus.
type logrusAdapter struct{}

func (logrusAdapter) Output(_ int, s string) error {
	log.WithField("component", "nsq").Warn(s)
	return nil
}

// NewPublisher connects to nsqd at address, retrying the initial ping.
func NewPublisher(ctx context.Context, address, topic string) (*Publisher, error) {
	producer, err := nsq.NewProducer(address, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create NSQ producer: %w", err)
	}
	producer.SetLogger(logrusAdapter{}, nsq.LogLevelWarning)

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, producer.Ping()
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(30*time.Second),
	)
	if err != nil {
		producer.Stop()
		return nil, fmt.Errorf("failed to ping NSQ daemon: %w", err)
	}

	return &Publisher{producer: producer, topic: topic}, nil
}

// PublishSyncEvent sends the event as JSON. go-nsq publishes synchronously and
// has no context support, so ctx is only checked before sending.
func (p *Publisher) PublishSyncEvent(ctx context.Context, event openfinance.SyncEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.producer.Publish(p.topic, body); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.Type, err)
	}

	log.WithFields(log.Fields{
		"topic":         p.topic,
		"type":          event.Type,
		"connection_id": event.ConnectionID,
	}).Debug("Published sync event")
	return nil
}

// Stop gracefully stops the producer
func (p *Publisher) Stop() {
	p.producer.Stop()
}
