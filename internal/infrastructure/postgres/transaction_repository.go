package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"finsync/internal/domain/transaction"
)

type TransactionRepository struct {
	db *DB
}

func NewTransactionRepository(db *DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Upsert writes the provider's view of a transaction, replacing every column
// of an existing row.
func (r *TransactionRepository) Upsert(ctx context.Context, params transaction.UpsertParams) (bool, error) {
	location, err := marshalLocation(params.Location)
	if err != nil {
		return false, fmt.Errorf("failed to encode location: %w", err)
	}

	var pfcPrimary, pfcDetailed, pfcConfidence sql.NullString
	if pfc := params.PersonalFinanceCategory; pfc != nil {
		pfcPrimary = nullString(pfc.Primary)
		pfcDetailed = nullString(pfc.Detailed)
		pfcConfidence = nullString(pfc.ConfidenceLevel)
	}

	query := `
		INSERT INTO transactions (
			id, account_id, connection_id, amount, iso_currency_code, unofficial_currency_code,
			date, authorized_date, name, merchant_name, pending, payment_channel,
			category, category_id, pfc_primary, pfc_detailed, pfc_confidence, location,
			transaction_type, original_description, merchant_entity_id, logo_url, website
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
		        $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
		ON CONFLICT (id) DO UPDATE SET
			account_id = EXCLUDED.account_id,
			connection_id = EXCLUDED.connection_id,
			amount = EXCLUDED.amount,
			iso_currency_code = EXCLUDED.iso_currency_code,
			unofficial_currency_code = EXCLUDED.unofficial_currency_code,
			date = EXCLUDED.date,
			authorized_date = EXCLUDED.authorized_date,
			name = EXCLUDED.name,
			merchant_name = EXCLUDED.merchant_name,
			pending = EXCLUDED.pending,
			payment_channel = EXCLUDED.payment_channel,
			category = EXCLUDED.category,
			category_id = EXCLUDED.category_id,
			pfc_primary = EXCLUDED.pfc_primary,
			pfc_detailed = EXCLUDED.pfc_detailed,
			pfc_confidence = EXCLUDED.pfc_confidence,
			location = EXCLUDED.location,
			transaction_type = EXCLUDED.transaction_type,
			original_description = EXCLUDED.original_description,
			merchant_entity_id = EXCLUDED.merchant_entity_id,
			logo_url = EXCLUDED.logo_url,
			website = EXCLUDED.website,
			updated_at = NOW()
		WHERE transactions.connection_id = EXCLUDED.connection_id
		RETURNING (xmax = 0) AS inserted
	`

	var inserted bool
	err = r.db.QueryRowContext(
		ctx, query,
		params.ID, params.AccountID, params.ConnectionID, params.Amount,
		nullString(params.IsoCurrencyCode), nullString(params.UnofficialCurrencyCode),
		params.Date, nullTimePtr(params.AuthorizedDate),
		params.Name, nullString(params.MerchantName), params.Pending, nullString(params.PaymentChannel),
		pq.StringArray(params.Category), nullString(params.CategoryID),
		pfcPrimary, pfcDetailed, pfcConfidence, location,
		nullString(params.TransactionType), nullString(params.OriginalDescription),
		nullString(params.MerchantEntityID), nullString(params.LogoURL), nullString(params.Website),
	).Scan(&inserted)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("transaction %s: %w", params.ID, transaction.ErrOwnedElsewhere)
	}
	if err != nil {
		return false, fmt.Errorf("failed to upsert transaction: %w", err)
	}

	return inserted, nil
}

// Delete removes a transaction owned by connectionID. A missing row is not an
// error.
func (r *TransactionRepository) Delete(ctx context.Context, connectionID, id string) (bool, error) {
	query := `DELETE FROM transactions WHERE id = $1 AND connection_id = $2`

	result, err := r.db.ExecContext(ctx, query, id, connectionID)
	if err != nil {
		return false, fmt.Errorf("failed to delete transaction: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*transaction.Transaction, error) {
	query := `
		SELECT id, account_id, connection_id, amount, iso_currency_code, unofficial_currency_code,
		       date, authorized_date, name, merchant_name, pending, payment_channel,
		       category, category_id, pfc_primary, pfc_detailed, pfc_confidence, location,
		       transaction_type, original_description, merchant_entity_id, logo_url, website,
		       created_at, updated_at
		FROM transactions
		WHERE id = $1
	`

	var t transaction.Transaction
	var isoCode, unofficialCode, merchantName, paymentChannel, categoryID sql.NullString
	var pfcPrimary, pfcDetailed, pfcConfidence sql.NullString
	var transactionType, originalDescription, merchantEntityID, logoURL, website sql.NullString
	var authorizedDate sql.NullTime
	var category pq.StringArray
	var location []byte

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&t.ID, &t.AccountID, &t.ConnectionID, &t.Amount, &isoCode, &unofficialCode,
		&t.Date, &authorizedDate, &t.Name, &merchantName, &t.Pending, &paymentChannel,
		&category, &categoryID, &pfcPrimary, &pfcDetailed, &pfcConfidence, &location,
		&transactionType, &originalDescription, &merchantEntityID, &logoURL, &website,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, transaction.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	t.IsoCurrencyCode = isoCode.String
	t.UnofficialCurrencyCode = unofficialCode.String
	t.MerchantName = merchantName.String
	t.PaymentChannel = paymentChannel.String
	t.CategoryID = categoryID.String
	t.TransactionType = transactionType.String
	t.OriginalDescription = originalDescription.String
	t.MerchantEntityID = merchantEntityID.String
	t.LogoURL = logoURL.String
	t.Website = website.String

	if len(category) > 0 {
		t.Category = []string(category)
	}
	if authorizedDate.Valid {
		ad := authorizedDate.Time
		t.AuthorizedDate = &ad
	}
	if pfcPrimary.Valid || pfcDetailed.Valid {
		t.PersonalFinanceCategory = &transaction.PersonalFinanceCategory{
			Primary:         pfcPrimary.String,
			Detailed:        pfcDetailed.String,
			ConfidenceLevel: pfcConfidence.String,
		}
	}
	if len(location) > 0 {
		var loc transaction.Location
		if err := json.Unmarshal(location, &loc); err != nil {
			return nil, fmt.Errorf("failed to decode location: %w", err)
		}
		t.Location = &loc
	}

	return &t, nil
}

func (r *TransactionRepository) CountByConnectionID(ctx context.Context, connectionID string) (int64, error) {
	query := `SELECT COUNT(*) FROM transactions WHERE connection_id = $1`

	var count int64
	if err := r.db.QueryRowContext(ctx, query, connectionID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	return count, nil
}

// marshalLocation leaves the column NULL for an absent location.
func marshalLocation(loc *transaction.Location) (sql.NullString, error) {
	if loc == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(loc)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
