package connection

import (
	"errors"
	"time"
)

// Domain errors
var (
	ErrConnectionNotFound = errors.New("connection not found")
	ErrInvalidInput       = errors.New("invalid input")
)

// Connection is one linked institution login at the provider. It owns the
// access credential and the resumption cursor for its transaction stream.
type Connection struct {
	ID              string     `json:"id"`
	UserID          string     `json:"userId"`
	Credential      string     `json:"-"`
	InstitutionName string     `json:"institutionName,omitempty"`
	Cursor          *string    `json:"-"`
	Active          bool       `json:"active"`
	NeedsAttention  bool       `json:"needsAttention"`
	LastError       string     `json:"lastError,omitempty"`
	LastSyncedAt    *time.Time `json:"lastSyncedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// CursorValue returns the stored cursor, or "" when the connection has never
// completed a page.
func (c *Connection) CursorValue() string {
	if c.Cursor == nil {
		return ""
	}
	return *c.Cursor
}

// Summary is the read projection of a connection. It never carries the
// credential or the raw cursor.
type Summary struct {
	ID              string     `json:"id"`
	UserID          string     `json:"userId"`
	InstitutionName string     `json:"institutionName,omitempty"`
	Active          bool       `json:"active"`
	NeedsAttention  bool       `json:"needsAttention"`
	LastError       string     `json:"lastError,omitempty"`
	LastSyncedAt    *time.Time `json:"lastSyncedAt"`
	BackfillDone    bool       `json:"backfillDone"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// Summary builds the credential-free projection.
func (c *Connection) Summary() Summary {
	return Summary{
		ID:              c.ID,
		UserID:          c.UserID,
		InstitutionName: c.InstitutionName,
		Active:          c.Active,
		NeedsAttention:  c.NeedsAttention,
		LastError:       c.LastError,
		LastSyncedAt:    c.LastSyncedAt,
		BackfillDone:    c.Cursor != nil,
		CreatedAt:       c.CreatedAt,
	}
}

// CreateParams contains parameters for linking a connection
type CreateParams struct {
	ID              string
	UserID          string
	Credential      string
	InstitutionName string
}

// Validate validates the create parameters
func (p CreateParams) Validate() error {
	if p.ID == "" {
		return errors.New("connection ID is required")
	}
	if p.UserID == "" {
		return errors.New("user ID is required")
	}
	if p.Credential == "" {
		return errors.New("credential is required")
	}
	return nil
}
