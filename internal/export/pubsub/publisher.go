// Package pubsub announces completed projects on a Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/bidboard-harvester/internal/bid"
	"github.com/JakeFAU/bidboard-harvester/internal/export"
)

// Publisher publishes one JSON message per completion.
type Publisher struct {
	client    *pubsub.Client
	topic     *pubsub.Topic
	ownClient bool
}

var _ export.Exporter = (*Publisher)(nil)

// New creates a client with Application Default Credentials and checks that
// the topic exists.
func New(ctx context.Context, projectID, topicID string) (*Publisher, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	p, err := NewWithClient(ctx, client, topicID)
	if err != nil {
		if closeErr := client.Close(); closeErr != nil {
			return nil, fmt.Errorf("%w (close client: %v)", err, closeErr)
		}
		return nil, err
	}
	p.ownClient = true
	return p, nil
}

// NewWithClient publishes through an existing client. The caller keeps
// ownership of the client.
func NewWithClient(ctx context.Context, client *pubsub.Client, topicID string) (*Publisher, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	if topicID == "" {
		return nil, fmt.Errorf("topic id is required")
	}
	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for topic existence: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %q does not exist", topicID)
	}
	return &Publisher{client: client, topic: topic}, nil
}

// Name identifies the exporter in logs and metrics.
func (p *Publisher) Name() string {
	return "pubsub"
}

// Export publishes the completion and waits for the server to acknowledge it.
func (p *Publisher) Export(ctx context.Context, c bid.Completion) error {
	doc := export.NewDocument(c)
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal completion: %w", err)
	}
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"identifier": doc.ID,
			"sequence":   strconv.Itoa(doc.Sequence),
			"folder":     doc.Folder,
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish completion %s: %w", doc.ID, err)
	}
	return nil
}

// Close flushes pending messages and closes the client if this publisher
// created it.
func (p *Publisher) Close() error {
	p.topic.Stop()
	if !p.ownClient {
		return nil
	}
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("failed to close pubsub client: %w", err)
	}
	return nil
}
