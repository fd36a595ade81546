package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"finsync/internal/domain/account"
)

// AccountRepository implements the account.Repository interface for PostgreSQL
type AccountRepository struct {
	db *DB
}

// NewAccountRepository creates a new PostgreSQL account repository
func NewAccountRepository(db *DB) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `id, connection_id, user_id, name, official_name, type, subtype, mask,
		       balance_available, balance_current, balance_limit,
		       iso_currency_code, unofficial_currency_code,
		       last_synced_at, created_at, updated_at`

func scanAccount(row rowScanner, extra ...any) (*account.Account, error) {
	var acc account.Account
	var officialName, subtype, mask, isoCode, unofficialCode sql.NullString
	var lastSyncedAt sql.NullTime

	dest := []any{
		&acc.ID, &acc.ConnectionID, &acc.UserID, &acc.Name, &officialName,
		&acc.Type, &subtype, &mask,
		&acc.Balances.Available, &acc.Balances.Current, &acc.Balances.Limit,
		&isoCode, &unofficialCode,
		&lastSyncedAt, &acc.CreatedAt, &acc.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	acc.OfficialName = officialName.String
	acc.Subtype = subtype.String
	acc.Mask = mask.String
	acc.Balances.IsoCurrencyCode = isoCode.String
	acc.Balances.UnofficialCurrencyCode = unofficialCode.String
	if lastSyncedAt.Valid {
		t := lastSyncedAt.Time
		acc.LastSyncedAt = &t
	}

	return &acc, nil
}

// Upsert creates or fully replaces an account. Balances are overwritten with
// the snapshot, including nulls.
func (r *AccountRepository) Upsert(ctx context.Context, params account.UpsertParams) (*account.Account, bool, error) {
	query := `
		INSERT INTO accounts (
			id, connection_id, user_id, name, official_name, type, subtype, mask,
			balance_available, balance_current, balance_limit,
			iso_currency_code, unofficial_currency_code, last_synced_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			connection_id = EXCLUDED.connection_id,
			user_id = EXCLUDED.user_id,
			name = EXCLUDED.name,
			official_name = EXCLUDED.official_name,
			type = EXCLUDED.type,
			subtype = EXCLUDED.subtype,
			mask = EXCLUDED.mask,
			balance_available = EXCLUDED.balance_available,
			balance_current = EXCLUDED.balance_current,
			balance_limit = EXCLUDED.balance_limit,
			iso_currency_code = EXCLUDED.iso_currency_code,
			unofficial_currency_code = EXCLUDED.unofficial_currency_code,
			last_synced_at = EXCLUDED.last_synced_at,
			updated_at = NOW()
		WHERE accounts.connection_id = EXCLUDED.connection_id
		RETURNING ` + accountColumns + `, (xmax = 0) AS inserted`

	var inserted bool
	acc, err := scanAccount(r.db.QueryRowContext(
		ctx, query,
		params.ID, params.ConnectionID, params.UserID, params.Name, nullString(params.OfficialName),
		params.Type, nullString(params.Subtype), nullString(params.Mask),
		params.Balances.Available, params.Balances.Current, params.Balances.Limit,
		nullString(params.Balances.IsoCurrencyCode), nullString(params.Balances.UnofficialCurrencyCode),
		nullTime(params.SyncedAt),
	), &inserted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("account %s: %w", params.ID, account.ErrOwnedElsewhere)
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert account: %w", err)
	}

	return acc, inserted, nil
}

// GetByID retrieves an account by its ID
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*account.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	acc, err := scanAccount(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, account.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return acc, nil
}

// ListByConnectionID retrieves all accounts reported by a connection
func (r *AccountRepository) ListByConnectionID(ctx context.Context, connectionID string) ([]*account.Account, error) {
	query := `SELECT ` + accountColumns + `
		FROM accounts
		WHERE connection_id = $1
		ORDER BY name ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*account.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, acc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}

	return accounts, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return nullTime(*t)
}
