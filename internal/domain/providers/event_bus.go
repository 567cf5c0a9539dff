package providers

import (
	"context"

	"github.com/zatekoja/scribesync/internal/domain/entities"
)

// EventBus defines the interface for publishing and subscribing to lifecycle events
type EventBus interface {
	// Publish publishes an event to all subscribers
	Publish(ctx context.Context, channel string, event *entities.LifecycleEvent) error

	// Subscribe subscribes to events on a channel
	Subscribe(ctx context.Context, channel string) (<-chan *entities.LifecycleEvent, error)

	// Unsubscribe unsubscribes from a channel
	Unsubscribe(ctx context.Context, channel string) error

	// Close closes the event bus and all subscriptions
	Close() error
}

// EventChannelLifecyclePrefix is the prefix for per-owner lifecycle channels
const EventChannelLifecyclePrefix = "scribesync:lifecycle:"

// GetLifecycleChannel returns the lifecycle channel for an owner
func GetLifecycleChannel(ownerID string) string {
	return EventChannelLifecyclePrefix + ownerID
}
