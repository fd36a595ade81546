package openfinance

import (
	"context"
	"time"

	"finsync/internal/domain/connection"
)

// Event types published after each sync run
const (
	EventSyncCompleted = "sync.completed"
	EventSyncFailed    = "sync.failed"
)

// SyncEvent is the message published after a sync run finishes.
type SyncEvent struct {
	Type         string    `json:"type"`
	RunID        string    `json:"runId"`
	ConnectionID string    `json:"connectionId"`
	UserID       string    `json:"userId"`
	Phase        Phase     `json:"phase"`
	Kind         string    `json:"kind,omitempty"`
	Error        string    `json:"error,omitempty"`
	Pages        int       `json:"pages"`
	Added        int       `json:"added"`
	Modified     int       `json:"modified"`
	Removed      int       `json:"removed"`
	OccurredAt   time.Time `json:"occurredAt"`
}

// EventPublisher delivers sync events to downstream consumers.
// Implemented by the NSQ publisher in the infrastructure layer.
type EventPublisher interface {
	PublishSyncEvent(ctx context.Context, event SyncEvent) error
}

// Alerter notifies operators when a connection needs attention.
type Alerter interface {
	AlertConnectionRejected(ctx context.Context, conn *connection.Connection, cause error) error
}
