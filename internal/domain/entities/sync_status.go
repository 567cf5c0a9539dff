package entities

import "time"

// HydrationStatus is the state of the most recent hydration attempt
type HydrationStatus string

const (
	HydrationStatusIdle    HydrationStatus = "idle"
	HydrationStatusLoading HydrationStatus = "loading"
	HydrationStatusSuccess HydrationStatus = "success"
	HydrationStatusError   HydrationStatus = "error"
)

// HydrationState is the UI-facing view of hydration progress
type HydrationState struct {
	Status      HydrationStatus `json:"status"`
	Message     string          `json:"message,omitempty"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// QueueStats counts sync queue activity since process start
type QueueStats struct {
	Total       int        `json:"total"`
	Success     int        `json:"success"`
	Failed      int        `json:"failed"`
	Pending     int        `json:"pending"`
	Flushing    bool       `json:"flushing"`
	LastFlushAt *time.Time `json:"last_flush_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

// DeadLetter records an enqueue that was rejected before reaching the queue
type DeadLetter struct {
	Label  string    `json:"label"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// SyncStatus is the persistent status indicator shown to the user
type SyncStatus struct {
	LastSyncedAt *time.Time     `json:"last_synced_at,omitempty"`
	LastError    string         `json:"last_error,omitempty"`
	Queue        QueueStats     `json:"queue"`
	DeadLetters  []DeadLetter   `json:"dead_letters"`
	Hydration    HydrationState `json:"hydration"`
}
