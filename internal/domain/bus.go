package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication between the
// API layer, the async re-resolution worker, and rendering consumers.
// Supports Go channels (Community) or NATS (Pro).
// All methods require workspaceID for strict workspace isolation.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, workspaceID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, workspaceID string, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID          string            `json:"id"`
	WorkspaceID string            `json:"workspaceId"`
	Topic       string            `json:"topic"`
	Payload     []byte            `json:"payload"`
	Metadata    map[string]string `json:"metadata"`
	Timestamp   int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string

	// Channel settings (Community tier)
	ChannelBufferSize int

	// NATS settings (Pro tier)
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}

// Standard topic names for the planning pipeline.
const (
	TopicDistrictsLoaded     = "kestrel.districts.loaded"
	TopicRulesUpdated        = "kestrel.rules.updated"
	TopicExceptionsChanged   = "kestrel.exceptions.changed"
	TopicResolutionCompleted = "kestrel.resolution.completed"
)
