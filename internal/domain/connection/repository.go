package connection

import (
	"context"
	"time"
)

// Repository defines the interface for connection data access
// This interface is defined in the domain layer, but implemented in the infrastructure layer
type Repository interface {
	// Create inserts a connection. Linking an id that already exists
	// reactivates it with the new credential and keeps its cursor.
	Create(ctx context.Context, params CreateParams) (*Connection, error)

	// GetByID returns ErrConnectionNotFound when no row matches
	GetByID(ctx context.Context, id string) (*Connection, error)

	// ListByUserID retrieves all connections for an owner
	ListByUserID(ctx context.Context, userID string) ([]*Connection, error)

	// ListActive retrieves every connection with active = true
	ListActive(ctx context.Context) ([]*Connection, error)

	// ListActiveIDs returns the ids of active connections without reading
	// their credentials
	ListActiveIDs(ctx context.Context) ([]string, error)

	// SetActive flips the active flag
	SetActive(ctx context.Context, id string, active bool) error

	// AdvanceCursor replaces the cursor in a single statement
	AdvanceCursor(ctx context.Context, id, cursor string) error

	// MarkSynced stamps last_synced_at and clears failure state
	MarkSynced(ctx context.Context, id string, at time.Time) error

	// RecordFailure stores the last error and optionally flags the connection
	RecordFailure(ctx context.Context, id, message string, needsAttention bool) error

	// Delete removes the connection row
	Delete(ctx context.Context, id string) error
}
