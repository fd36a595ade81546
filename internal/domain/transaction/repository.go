package transaction

import (
	"context"
)

// Repository defines the interface for transaction data access
type Repository interface {
	// Upsert creates or fully replaces a transaction by ID.
	Upsert(ctx context.Context, params UpsertParams) (inserted bool, err error)

	// Delete removes a transaction owned by the connection. A missing row is
	// not an error; deleted reports whether a row went away.
	Delete(ctx context.Context, connectionID, id string) (deleted bool, err error)

	GetByID(ctx context.Context, id string) (*Transaction, error)
	CountByConnectionID(ctx context.Context, connectionID string) (int64, error)
}
