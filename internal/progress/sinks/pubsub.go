package sinks

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/appsight/aso-pipeline/internal/progress"
)

// Publisher sends a single payload to a named topic and returns the server
// message ID. Abstracted so tests can run without a Pub/Sub backend.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// GCPPublisher publishes JSON payloads to a Google Cloud Pub/Sub topic.
type GCPPublisher struct {
	topic *pubsub.Topic
}

// NewGCPPublisher wraps an already resolved topic handle.
func NewGCPPublisher(topic *pubsub.Topic) *GCPPublisher {
	return &GCPPublisher{topic: topic}
}

// Publish marshals the payload to JSON and publishes it, blocking until the
// server acknowledges.
func (p *GCPPublisher) Publish(ctx context.Context, _ string, payload any) (string, error) {
	if p.topic == nil {
		return "", fmt.Errorf("pubsub topic is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	result := p.topic.Publish(ctx, &pubsub.Message{Data: data})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Stop flushes outstanding publishes and releases topic resources.
func (p *GCPPublisher) Stop() {
	if p.topic != nil {
		p.topic.Stop()
	}
}

// PubSubSink forwards progress events to a Publisher, one message per event.
// Publish failures are logged and do not interrupt the batch.
type PubSubSink struct {
	publisher Publisher
	topic     string
	logger    *zap.Logger
}

// NewPubSubSink wires a Publisher to the sink interface.
func NewPubSubSink(publisher Publisher, topic string, logger *zap.Logger) *PubSubSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PubSubSink{publisher: publisher, topic: topic, logger: logger}
}

// Consume publishes each event in the batch in order.
func (s *PubSubSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s.publisher == nil {
		return fmt.Errorf("pubsub sink has no publisher")
	}
	for _, evt := range batch {
		if _, err := s.publisher.Publish(ctx, s.topic, evt); err != nil {
			s.logger.Warn("pubsub publish failed",
				zap.String("run_id", evt.RunID),
				zap.String("stage", string(evt.Stage)),
				zap.Error(err),
			)
		}
	}
	return nil
}

// Close stops the underlying publisher when it supports flushing.
func (s *PubSubSink) Close(context.Context) error {
	if stopper, ok := s.publisher.(interface{ Stop() }); ok {
		stopper.Stop()
	}
	return nil
}
