package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/novel-harvester/internal/progress"
)

// topicPublisher is the subset of *pubsub.Topic the sink relies on.
type topicPublisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) *pubsub.PublishResult
	Stop()
}

// PubSubSink publishes each event as a JSON message. Messages carry the
// collection id and kind as attributes so subscribers can filter server-side.
type PubSubSink struct {
	topic  topicPublisher
	logger *zap.Logger
}

// NewPubSubSink wraps a Pub/Sub topic.
func NewPubSubSink(topic *pubsub.Topic, logger *zap.Logger) *PubSubSink {
	return newPubSubSink(topic, logger)
}

func newPubSubSink(topic topicPublisher, logger *zap.Logger) *PubSubSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PubSubSink{topic: topic, logger: logger}
}

// Consume publishes the batch and waits for every publish result.
func (s *PubSubSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.topic == nil {
		return errors.New("pubsub topic is not configured")
	}
	results := make([]*pubsub.PublishResult, 0, len(batch))
	for _, evt := range batch {
		data, err := json.Marshal(evt)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		results = append(results, s.topic.Publish(ctx, &pubsub.Message{
			Data: data,
			Attributes: map[string]string{
				"collection_id": evt.CollectionID,
				"kind":          string(evt.Kind),
				"run_id":        evt.RunID.String(),
			},
		}))
	}
	var errs []error
	for _, res := range results {
		if _, err := res.Get(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("publish %d of %d events: %w", len(errs), len(batch), errors.Join(errs...))
	}
	return nil
}

// Close flushes pending publishes and stops the topic's background goroutines.
func (s *PubSubSink) Close(context.Context) error {
	if s == nil || s.topic == nil {
		return nil
	}
	s.topic.Stop()
	s.logger.Debug("pubsub sink stopped")
	return nil
}
