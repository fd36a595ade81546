package connection

import (
	"context"
	"errors"
	"fmt"
)

// Service contains the business logic for connection operations
type Service struct {
	repo Repository
}

// NewService creates a new connection service
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Link registers a connection for an owner, or reactivates an existing one.
func (s *Service) Link(ctx context.Context, params CreateParams) (*Connection, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	return s.repo.Create(ctx, params)
}

// Unlink deactivates a connection. Stored data and the cursor are kept so a
// later relink resumes incrementally.
func (s *Service) Unlink(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: connection ID is required", ErrInvalidInput)
	}

	return s.repo.SetActive(ctx, id, false)
}

// Get returns one connection
func (s *Service) Get(ctx context.Context, id string) (*Connection, error) {
	conn, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrConnectionNotFound) {
			return nil, ErrConnectionNotFound
		}
		return nil, err
	}
	return conn, nil
}

// ListForUser returns the credential-free projections of an owner's connections
func (s *Service) ListForUser(ctx context.Context, userID string) ([]Summary, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user ID is required", ErrInvalidInput)
	}

	conns, err := s.repo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	summaries := make([]Summary, 0, len(conns))
	for _, c := range conns {
		summaries = append(summaries, c.Summary())
	}
	return summaries, nil
}

// ListActiveIDs returns the ids of every connection eligible for scheduled sync
func (s *Service) ListActiveIDs(ctx context.Context) ([]string, error) {
	return s.repo.ListActiveIDs(ctx)
}

// Remove deletes a connection row outright
func (s *Service) Remove(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: connection ID is required", ErrInvalidInput)
	}

	return s.repo.Delete(ctx, id)
}
