package entities

import (
	"time"

	"github.com/google/uuid"
)

// LifecycleEventType represents an application lifecycle signal that should
// push pending local writes to the remote store
type LifecycleEventType string

const (
	LifecycleEventPeriodic LifecycleEventType = "periodic"
	LifecycleEventVisible  LifecycleEventType = "visible"
	LifecycleEventOnline   LifecycleEventType = "online"
	LifecycleEventFocus    LifecycleEventType = "focus"
	LifecycleEventNavigate LifecycleEventType = "navigate"
	LifecycleEventUnload   LifecycleEventType = "unload"
	LifecycleEventSignOut  LifecycleEventType = "sign_out"
	LifecycleEventMount    LifecycleEventType = "mount"
)

// ParseLifecycleEventType validates a lifecycle event name
func ParseLifecycleEventType(s string) (LifecycleEventType, bool) {
	switch t := LifecycleEventType(s); t {
	case LifecycleEventPeriodic, LifecycleEventVisible, LifecycleEventOnline, LifecycleEventFocus,
		LifecycleEventNavigate, LifecycleEventUnload, LifecycleEventSignOut, LifecycleEventMount:
		return t, true
	}
	return "", false
}

// LifecycleEvent is published by the application shell when a trigger fires
type LifecycleEvent struct {
	ID        string             `json:"id"`
	OwnerID   string             `json:"owner_id"`
	Type      LifecycleEventType `json:"type"`
	Timestamp time.Time          `json:"timestamp"`
}

// NewLifecycleEvent creates a new lifecycle event
func NewLifecycleEvent(ownerID string, eventType LifecycleEventType) *LifecycleEvent {
	return &LifecycleEvent{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Type:      eventType,
		Timestamp: time.Now(),
	}
}
