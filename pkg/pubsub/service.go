package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/dialverse/call-gateway/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PubSubConfig holds the GCP Pub/Sub settings for lifecycle events.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
	PubID     string `mapstructure:"pub_id"`
}

// PubSubService publishes call lifecycle events consumed by the analytics
// pipeline. The gateway only emits; aggregation happens downstream.
type PubSubService struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	config *PubSubConfig
}

// CallLifecycleEvent is the JSON payload published per call transition.
type CallLifecycleEvent struct {
	ID          string     `json:"id"`
	CallID      string     `json:"call_id"`
	EventType   string     `json:"event_type"` // call_initiated, call_answered, call_ended
	Direction   string     `json:"direction"`
	FromNumber  string     `json:"from_number"`
	ToNumber    string     `json:"to_number"`
	Status      string     `json:"status"`
	Disposition string     `json:"disposition,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	Duration    int        `json:"duration"`
	CreatedAt   time.Time  `json:"created_at"`
}

func NewPubSubService(ctx context.Context, cfg *PubSubConfig) (*PubSubService, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("PubSub project ID is required")
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create PubSub client: %w", err)
	}

	topic := client.Topic(cfg.TopicName)
	exists, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to check if topic exists: %w", err)
	}

	if !exists {
		logger.Base().Info("Topic does not exist, creating", zap.String("topic_name", cfg.TopicName))
		topic, err = client.CreateTopic(ctx, cfg.TopicName)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to create topic %s: %w", cfg.TopicName, err)
		}
	}

	return &PubSubService{
		client: client,
		topic:  topic,
		config: cfg,
	}, nil
}

// PublishCallEvent publishes a lifecycle event and waits for the server ack.
func (p *PubSubService) PublishCallEvent(ctx context.Context, ev CallLifecycleEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal call event: %w", err)
	}

	attrs := map[string]string{
		"event_type": ev.EventType,
	}
	if p.config.PubID != "" {
		attrs["publisher"] = p.config.PubID
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("failed to publish call event: %w", err)
	}

	logger.Base().Debug("Published call lifecycle event",
		zap.String("call_id", ev.CallID),
		zap.String("event_type", ev.EventType),
	)
	return nil
}

// Close flushes pending publishes and releases the client.
func (p *PubSubService) Close() error {
	if p.topic != nil {
		p.topic.Stop()
	}
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
