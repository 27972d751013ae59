// Package relay propagates buffer updates between server instances over
// Redis pub/sub. Each instance holds an independent replica of a document's
// buffer; the relay carries encoded updates between them and the CRDT's
// idempotent merge makes duplicate delivery harmless.
package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/maheshalyana/letterflow/pkg/observability"
)

const channelPrefix = "letterflow:doc:"

// envelope wraps an update with the publishing instance so subscribers can
// drop their own messages
type envelope struct {
	Instance string `json:"instance"`
	Update   []byte `json:"update"`
}

// Relay publishes and subscribes to per-document update channels
type Relay struct {
	client     *redis.Client
	instanceID string
	logger     observability.Logger
	metrics    observability.MetricsClient
}

// New creates a relay bound to the given Redis client
func New(client *redis.Client, logger observability.Logger, metrics observability.MetricsClient) *Relay {
	return &Relay{
		client:     client,
		instanceID: uuid.New().String(),
		logger:     logger,
		metrics:    metrics,
	}
}

// InstanceID returns this instance's relay identity
func (r *Relay) InstanceID() string {
	return r.instanceID
}

// Publish sends an encoded update to all other instances holding the document
func (r *Relay) Publish(ctx context.Context, documentID string, update []byte) error {
	payload, err := json.Marshal(envelope{Instance: r.instanceID, Update: update})
	if err != nil {
		return fmt.Errorf("failed to encode relay envelope: %w", err)
	}
	if err := r.client.Publish(ctx, channelPrefix+documentID, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish update: %w", err)
	}
	r.metrics.IncrementCounter("relay_updates_published", 1)
	return nil
}

// Subscribe delivers updates published by other instances for the document to
// handler. The returned function cancels the subscription; it is safe to call
// more than once.
func (r *Relay) Subscribe(ctx context.Context, documentID string, handler func(update []byte)) (func(), error) {
	pubsub := r.client.Subscribe(ctx, channelPrefix+documentID)

	// Wait for the subscription to be confirmed so no update races past it
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to document channel: %w", err)
	}

	go func() {
		for msg := range pubsub.Channel() {
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.logger.Warn("Dropping malformed relay message", map[string]interface{}{
					"document_id": documentID,
					"error":       err.Error(),
				})
				continue
			}
			if env.Instance == r.instanceID {
				continue
			}
			r.metrics.IncrementCounter("relay_updates_received", 1)
			handler(env.Update)
		}
	}()

	return func() { _ = pubsub.Close() }, nil
}
