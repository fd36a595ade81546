package connection

import (
	"context"
	"errors"
	"testing"
	"time"
)

// MockRepository is a mock implementation of Repository interface
type MockRepository struct {
	CreateFunc        func(ctx context.Context, params CreateParams) (*Connection, error)
	GetByIDFunc       func(ctx context.Context, id string) (*Connection, error)
	ListByUserIDFunc  func(ctx context.Context, userID string) ([]*Connection, error)
	ListActiveFunc    func(ctx context.Context) ([]*Connection, error)
	ListActiveIDsFunc func(ctx context.Context) ([]string, error)
	SetActiveFunc     func(ctx context.Context, id string, active bool) error
	AdvanceCursorFunc func(ctx context.Context, id, cursor string) error
	MarkSyncedFunc    func(ctx context.Context, id string, at time.Time) error
	RecordFailureFunc func(ctx context.Context, id, message string, needsAttention bool) error
	DeleteFunc        func(ctx context.Context, id string) error
}

func (m *MockRepository) Create(ctx context.Context, params CreateParams) (*Connection, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, params)
	}
	return nil, nil
}

func (m *MockRepository) GetByID(ctx context.Context, id string) (*Connection, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, ErrConnectionNotFound
}

func (m *MockRepository) ListByUserID(ctx context.Context, userID string) ([]*Connection, error) {
	if m.ListByUserIDFunc != nil {
		return m.ListByUserIDFunc(ctx, userID)
	}
	return nil, nil
}

func (m *MockRepository) ListActive(ctx context.Context) ([]*Connection, error) {
	if m.ListActiveFunc != nil {
		return m.ListActiveFunc(ctx)
	}
	return nil, nil
}

func (m *MockRepository) ListActiveIDs(ctx context.Context) ([]string, error) {
	if m.ListActiveIDsFunc != nil {
		return m.ListActiveIDsFunc(ctx)
	}
	return nil, nil
}

func (m *MockRepository) SetActive(ctx context.Context, id string, active bool) error {
	if m.SetActiveFunc != nil {
		return m.SetActiveFunc(ctx, id, active)
	}
	return nil
}

func (m *MockRepository) AdvanceCursor(ctx context.Context, id, cursor string) error {
	if m.AdvanceCursorFunc != nil {
		return m.AdvanceCursorFunc(ctx, id, cursor)
	}
	return nil
}

func (m *MockRepository) MarkSynced(ctx context.Context, id string, at time.Time) error {
	if m.MarkSyncedFunc != nil {
		return m.MarkSyncedFunc(ctx, id, at)
	}
	return nil
}

func (m *MockRepository) RecordFailure(ctx context.Context, id, message string, needsAttention bool) error {
	if m.RecordFailureFunc != nil {
		return m.RecordFailureFunc(ctx, id, message, needsAttention)
	}
	return nil
}

func (m *MockRepository) Delete(ctx context.Context, id string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id)
	}
	return nil
}

func TestLink(t *testing.T) {
	tests := []struct {
		name      string
		params    CreateParams
		wantErr   bool
		wantCalls int
	}{
		{
			name:      "Valid",
			params:    CreateParams{ID: "item-1", UserID: "user-1", Credential: "access-sandbox-1"},
			wantCalls: 1,
		},
		{
			name:    "Missing ID",
			params:  CreateParams{UserID: "user-1", Credential: "access-sandbox-1"},
			wantErr: true,
		},
		{
			name:    "Missing user",
			params:  CreateParams{ID: "item-1", Credential: "access-sandbox-1"},
			wantErr: true,
		},
		{
			name:    "Missing credential",
			params:  CreateParams{ID: "item-1", UserID: "user-1"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			repo := &MockRepository{
				CreateFunc: func(ctx context.Context, params CreateParams) (*Connection, error) {
					calls++
					return &Connection{ID: params.ID, UserID: params.UserID, Credential: params.Credential, Active: true}, nil
				},
			}
			svc := NewService(repo)

			conn, err := svc.Link(context.Background(), tt.params)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Link() expected error, got nil")
				}
				if !errors.Is(err, ErrInvalidInput) {
					t.Errorf("Link() error = %v, want ErrInvalidInput", err)
				}
			} else {
				if err != nil {
					t.Fatalf("Link() failed: %v", err)
				}
				if !conn.Active {
					t.Error("Link() returned inactive connection")
				}
			}
			if calls != tt.wantCalls {
				t.Errorf("repo.Create calls = %d, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestUnlink_Deactivates(t *testing.T) {
	var gotID string
	var gotActive = true
	repo := &MockRepository{
		SetActiveFunc: func(ctx context.Context, id string, active bool) error {
			gotID = id
			gotActive = active
			return nil
		},
	}
	svc := NewService(repo)

	if err := svc.Unlink(context.Background(), "item-1"); err != nil {
		t.Fatalf("Unlink() failed: %v", err)
	}
	if gotID != "item-1" || gotActive {
		t.Errorf("SetActive(%q, %v), want SetActive(%q, false)", gotID, gotActive, "item-1")
	}
}

func TestUnlink_NotFound(t *testing.T) {
	repo := &MockRepository{
		SetActiveFunc: func(ctx context.Context, id string, active bool) error {
			return ErrConnectionNotFound
		},
	}
	svc := NewService(repo)

	err := svc.Unlink(context.Background(), "missing")
	if !errors.Is(err, ErrConnectionNotFound) {
		t.Errorf("Unlink() error = %v, want ErrConnectionNotFound", err)
	}
}

func TestListForUser_OmitsCredential(t *testing.T) {
	cursor := "c-1"
	repo := &MockRepository{
		ListByUserIDFunc: func(ctx context.Context, userID string) ([]*Connection, error) {
			return []*Connection{
				{ID: "item-1", UserID: userID, Credential: "secret", Cursor: &cursor, Active: true},
				{ID: "item-2", UserID: userID, Credential: "secret", Active: false},
			}, nil
		},
	}
	svc := NewService(repo)

	summaries, err := svc.ListForUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ListForUser() failed: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("len(summaries) = %d, want 2", len(summaries))
	}
	if !summaries[0].BackfillDone {
		t.Error("summaries[0].BackfillDone = false, want true")
	}
	if summaries[1].BackfillDone {
		t.Error("summaries[1].BackfillDone = true, want false")
	}
}

func TestListForUser_RequiresUser(t *testing.T) {
	svc := NewService(&MockRepository{})

	_, err := svc.ListForUser(context.Background(), "")
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("ListForUser() error = %v, want ErrInvalidInput", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	svc := NewService(&MockRepository{})

	_, err := svc.Get(context.Background(), "missing")
	if err != ErrConnectionNotFound {
		t.Errorf("Get() error = %v, want %v", err, ErrConnectionNotFound)
	}
}
