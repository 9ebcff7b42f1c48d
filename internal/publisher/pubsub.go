package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"github.com/mcncl/rpc-middleware/pkg/errors"
)

// Publisher defines the interface for publishing messages
type Publisher interface {
	Publish(ctx context.Context, data interface{}, attributes map[string]string) (string, error)
	Close() error
}

// PubSubPublisher implements the Publisher interface for Google Cloud Pub/Sub
type PubSubPublisher struct {
	client  *pubsub.Client
	topic   *pubsub.Topic
	topicID string
}

// NewPubSubPublisher connects to projectID and binds to an existing topic.
// Client options pass through to the Pub/Sub client, so credentials files and
// emulator connections are configured by the caller.
func NewPubSubPublisher(ctx context.Context, projectID, topicID string, opts ...option.ClientOption) (*PubSubPublisher, error) {
	if projectID == "" || topicID == "" {
		return nil, errors.NewValidationError("project ID and topic ID are required")
	}

	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, errors.NewConnectionError(fmt.Sprintf("failed to create pubsub client: %v", err))
	}

	topic := client.Topic(topicID)

	exists, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, errors.NewConnectionError(fmt.Sprintf("failed to check topic existence: %v", err))
	}
	if !exists {
		client.Close()
		return nil, errors.NewValidationError(fmt.Sprintf("topic %s does not exist", topicID))
	}

	return newPubSubPublisher(client, topic), nil
}

func newPubSubPublisher(client *pubsub.Client, topic *pubsub.Topic) *PubSubPublisher {
	return &PubSubPublisher{
		client:  client,
		topic:   topic,
		topicID: topic.ID(),
	}
}

// TopicID returns the topic messages are published to.
func (p *PubSubPublisher) TopicID() string {
	return p.topicID
}

// Publish encodes data as JSON and blocks until the server acknowledges it.
func (p *PubSubPublisher) Publish(ctx context.Context, data interface{}, attributes map[string]string) (string, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", errors.NewValidationError(fmt.Sprintf("failed to marshal data: %v", err))
	}

	msg := &pubsub.Message{
		Data:       jsonData,
		Attributes: attributes,
	}

	result := p.topic.Publish(ctx, msg)
	msgID, err := result.Get(ctx)
	if err != nil {
		return "", errors.NewPublishError("failed to publish message", err)
	}

	return msgID, nil
}

// Close flushes pending messages and closes the client.
func (p *PubSubPublisher) Close() error {
	p.topic.Stop()
	if err := p.client.Close(); err != nil {
		return errors.NewConnectionError(fmt.Sprintf("closing pubsub client: %v", err))
	}
	return nil
}
