package account

import "context"

// Repository defines the interface for account data access
// This interface is defined in the domain layer, but implemented in the infrastructure layer
type Repository interface {
	// Upsert creates or fully replaces an account by ID. inserted reports
	// whether the row was new.
	Upsert(ctx context.Context, params UpsertParams) (acc *Account, inserted bool, err error)

	// GetByID retrieves an account by its ID
	GetByID(ctx context.Context, id string) (*Account, error)

	// ListByConnectionID retrieves all accounts reported by a connection
	ListByConnectionID(ctx context.Context, connectionID string) ([]*Account, error)
}
