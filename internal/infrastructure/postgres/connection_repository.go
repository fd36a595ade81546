package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"finsync/internal/domain/connection"
)

// CredentialCipher seals provider credentials at rest.
type CredentialCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// ConnectionRepository implements the connection.Repository interface for PostgreSQL
type ConnectionRepository struct {
	db     *DB
	cipher CredentialCipher
}

// NewConnectionRepository creates a new PostgreSQL connection repository
func NewConnectionRepository(db *DB, cipher CredentialCipher) *ConnectionRepository {
	return &ConnectionRepository{db: db, cipher: cipher}
}

const connectionColumns = `id, user_id, credential, institution_name, cursor, active, needs_attention,
		       last_error, last_synced_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *ConnectionRepository) scanConnection(row rowScanner) (*connection.Connection, error) {
	var conn connection.Connection
	var sealed string
	var institutionName, cursor, lastError sql.NullString
	var lastSyncedAt sql.NullTime

	err := row.Scan(
		&conn.ID, &conn.UserID, &sealed, &institutionName, &cursor,
		&conn.Active, &conn.NeedsAttention, &lastError, &lastSyncedAt,
		&conn.CreatedAt, &conn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	credential, err := r.cipher.Decrypt(sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credential for connection %s: %w", conn.ID, err)
	}
	conn.Credential = credential

	if institutionName.Valid {
		conn.InstitutionName = institutionName.String
	}
	if cursor.Valid {
		c := cursor.String
		conn.Cursor = &c
	}
	if lastError.Valid {
		conn.LastError = lastError.String
	}
	if lastSyncedAt.Valid {
		t := lastSyncedAt.Time
		conn.LastSyncedAt = &t
	}

	return &conn, nil
}

// Create inserts a connection, or reactivates an existing one with a fresh
// credential. The stored cursor survives a relink.
func (r *ConnectionRepository) Create(ctx context.Context, params connection.CreateParams) (*connection.Connection, error) {
	sealed, err := r.cipher.Encrypt(params.Credential)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt credential: %w", err)
	}

	query := `
		INSERT INTO connections (id, user_id, credential, institution_name, active, needs_attention)
		VALUES ($1, $2, $3, $4, TRUE, FALSE)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			credential = EXCLUDED.credential,
			institution_name = COALESCE(EXCLUDED.institution_name, connections.institution_name),
			active = TRUE,
			needs_attention = FALSE,
			last_error = NULL,
			updated_at = NOW()
		RETURNING ` + connectionColumns

	conn, err := r.scanConnection(r.db.QueryRowContext(
		ctx, query,
		params.ID, params.UserID, sealed, nullString(params.InstitutionName),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create connection: %w", err)
	}

	return conn, nil
}

// GetByID retrieves a connection by its ID
func (r *ConnectionRepository) GetByID(ctx context.Context, id string) (*connection.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE id = $1`

	conn, err := r.scanConnection(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, connection.ErrConnectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}

	return conn, nil
}

// ListByUserID retrieves all connections for an owner
func (r *ConnectionRepository) ListByUserID(ctx context.Context, userID string) ([]*connection.Connection, error) {
	query := `SELECT ` + connectionColumns + `
		FROM connections
		WHERE user_id = $1
		ORDER BY created_at ASC
	`
	return r.list(ctx, "list connections", query, userID)
}

// ListActive retrieves every connection the scheduler should sync
func (r *ConnectionRepository) ListActive(ctx context.Context) ([]*connection.Connection, error) {
	query := `SELECT ` + connectionColumns + `
		FROM connections
		WHERE active = TRUE
		ORDER BY id ASC
	`
	return r.list(ctx, "list active connections", query)
}

// ListActiveIDs returns active connection ids. Credentials are not read.
func (r *ConnectionRepository) ListActiveIDs(ctx context.Context) ([]string, error) {
	query := `SELECT id FROM connections WHERE active = TRUE ORDER BY id ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active connection ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan connection id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connection ids: %w", err)
	}

	return ids, nil
}

func (r *ConnectionRepository) list(ctx context.Context, what, query string, args ...any) ([]*connection.Connection, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to %s: %w", what, err)
	}
	defer rows.Close()

	var conns []*connection.Connection
	for rows.Next() {
		conn, err := r.scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		conns = append(conns, conn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connections: %w", err)
	}

	return conns, nil
}

// SetActive flips the active flag
func (r *ConnectionRepository) SetActive(ctx context.Context, id string, active bool) error {
	query := `UPDATE connections SET active = $2, updated_at = NOW() WHERE id = $1`
	return r.execOne(ctx, "set connection active", query, id, active)
}

// AdvanceCursor stores the cursor of the last reconciled page
func (r *ConnectionRepository) AdvanceCursor(ctx context.Context, id, cursor string) error {
	query := `UPDATE connections SET cursor = $2, updated_at = NOW() WHERE id = $1`
	return r.execOne(ctx, "advance cursor", query, id, cursor)
}

// MarkSynced stamps the completion time and clears failure state
func (r *ConnectionRepository) MarkSynced(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE connections
		SET last_synced_at = $2, needs_attention = FALSE, last_error = NULL, updated_at = NOW()
		WHERE id = $1
	`
	return r.execOne(ctx, "mark connection synced", query, id, at)
}

// RecordFailure stores the last error. needs_attention only ever gets set
// here; a later MarkSynced or relink clears it.
func (r *ConnectionRepository) RecordFailure(ctx context.Context, id, message string, needsAttention bool) error {
	query := `
		UPDATE connections
		SET last_error = $2, needs_attention = needs_attention OR $3, updated_at = NOW()
		WHERE id = $1
	`
	return r.execOne(ctx, "record connection failure", query, id, nullString(message), needsAttention)
}

// Delete removes a connection row. Its accounts and transactions stay.
func (r *ConnectionRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM connections WHERE id = $1`
	return r.execOne(ctx, "delete connection", query, id)
}

func (r *ConnectionRepository) execOne(ctx context.Context, what, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", what, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return connection.ErrConnectionNotFound
	}

	return nil
}
