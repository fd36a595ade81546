package openfinance

import (
	"context"
	"fmt"
	"time"

	"finsync/internal/domain/account"
	"finsync/internal/domain/connection"
	"finsync/internal/domain/transaction"
	ofclient "finsync/internal/infrastructure/openfinance"
)

// ReconcileStats counts what a reconcile step did to storage.
type ReconcileStats struct {
	Created int
	Updated int
	Deleted int
	Absent  int // removals for ids that were not stored
}

func (s *ReconcileStats) add(o ReconcileStats) {
	s.Created += o.Created
	s.Updated += o.Updated
	s.Deleted += o.Deleted
	s.Absent += o.Absent
}

// Reconciler applies provider data to local storage. Every write is an
// idempotent upsert or delete by id, so applying the same input twice leaves
// storage unchanged.
type Reconciler struct {
	accounts     account.Repository
	transactions transaction.Repository
}

// NewReconciler creates a reconciler over the account and transaction stores
func NewReconciler(accounts account.Repository, transactions transaction.Repository) *Reconciler {
	return &Reconciler{accounts: accounts, transactions: transactions}
}

// ApplyAccounts upserts every reported account with a full replace of its
// descriptive fields and balance snapshot.
func (r *Reconciler) ApplyAccounts(ctx context.Context, conn *connection.Connection, accounts []ofclient.Account, syncedAt time.Time) (ReconcileStats, error) {
	var stats ReconcileStats

	for _, apiAccount := range accounts {
		params := toAccountParams(conn, apiAccount, syncedAt)
		if err := params.Validate(); err != nil {
			return stats, fmt.Errorf("%w: account %s: %w", ErrReconciliation, apiAccount.AccountID, err)
		}

		_, inserted, err := r.accounts.Upsert(ctx, params)
		if err != nil {
			return stats, fmt.Errorf("%w: upsert account %s: %w", ErrReconciliation, apiAccount.AccountID, err)
		}
		if inserted {
			stats.Created++
		} else {
			stats.Updated++
		}
	}

	return stats, nil
}

// ApplyPage applies a delta page in order. Added and modified entries are
// upserted; removed entries are deleted by id within the connection. The
// first failed write stops the page; the caller must not advance the cursor.
func (r *Reconciler) ApplyPage(ctx context.Context, conn *connection.Connection, page *ofclient.DeltaPage) (ReconcileStats, error) {
	var stats ReconcileStats

	for _, change := range page.Changes {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("%w: %w", ErrReconciliation, err)
		}

		switch change.Kind {
		case ofclient.ChangeAdded, ofclient.ChangeModified:
			s, err := r.applyUpsert(ctx, conn, change.Transaction)
			if err != nil {
				return stats, err
			}
			stats.add(s)

		case ofclient.ChangeRemoved:
			deleted, err := r.transactions.Delete(ctx, conn.ID, change.RemovedID)
			if err != nil {
				return stats, fmt.Errorf("%w: delete transaction %s: %w", ErrReconciliation, change.RemovedID, err)
			}
			if deleted {
				stats.Deleted++
			} else {
				stats.Absent++
			}

		default:
			return stats, fmt.Errorf("%w: unknown change kind %d", ErrReconciliation, change.Kind)
		}
	}

	return stats, nil
}

func (r *Reconciler) applyUpsert(ctx context.Context, conn *connection.Connection, tx *ofclient.Transaction) (ReconcileStats, error) {
	if tx == nil {
		return ReconcileStats{}, fmt.Errorf("%w: change without transaction body", ErrReconciliation)
	}

	params, err := toTransactionParams(conn, tx)
	if err != nil {
		return ReconcileStats{}, fmt.Errorf("%w: transaction %s: %w", ErrReconciliation, tx.TransactionID, err)
	}
	if err := params.Validate(); err != nil {
		return ReconcileStats{}, fmt.Errorf("%w: transaction %s: %w", ErrReconciliation, tx.TransactionID, err)
	}

	inserted, err := r.transactions.Upsert(ctx, params)
	if err != nil {
		return ReconcileStats{}, fmt.Errorf("%w: upsert transaction %s: %w", ErrReconciliation, tx.TransactionID, err)
	}
	if inserted {
		return ReconcileStats{Created: 1}, nil
	}
	return ReconcileStats{Updated: 1}, nil
}

func toAccountParams(conn *connection.Connection, a ofclient.Account, syncedAt time.Time) account.UpsertParams {
	return account.UpsertParams{
		ID:           a.AccountID,
		ConnectionID: conn.ID,
		UserID:       conn.UserID,
		Name:         a.Name,
		OfficialName: ofclient.Deref(a.OfficialName),
		Type:         account.NormalizeType(a.Type),
		Subtype:      ofclient.Deref(a.Subtype),
		Mask:         ofclient.Deref(a.Mask),
		Balances: account.Balances{
			Available:              a.Balances.Available,
			Current:                a.Balances.Current,
			Limit:                  a.Balances.Limit,
			IsoCurrencyCode:        ofclient.Deref(a.Balances.IsoCurrencyCode),
			UnofficialCurrencyCode: ofclient.Deref(a.Balances.UnofficialCurrencyCode),
		},
		SyncedAt: syncedAt,
	}
}

func toTransactionParams(conn *connection.Connection, t *ofclient.Transaction) (transaction.UpsertParams, error) {
	date, err := t.GetDate()
	if err != nil {
		return transaction.UpsertParams{}, err
	}
	authorized, err := t.GetAuthorizedDate()
	if err != nil {
		return transaction.UpsertParams{}, err
	}

	params := transaction.UpsertParams{
		ID:                     t.TransactionID,
		AccountID:              t.AccountID,
		ConnectionID:           conn.ID,
		Amount:                 t.Amount,
		IsoCurrencyCode:        ofclient.Deref(t.IsoCurrencyCode),
		UnofficialCurrencyCode: ofclient.Deref(t.UnofficialCurrencyCode),
		Date:                   date,
		AuthorizedDate:         authorized,
		Name:                   t.Name,
		MerchantName:           ofclient.Deref(t.MerchantName),
		Pending:                t.Pending,
		PaymentChannel:         t.PaymentChannel,
		Category:               t.Category,
		CategoryID:             ofclient.Deref(t.CategoryID),
		TransactionType:        ofclient.Deref(t.TransactionType),
		OriginalDescription:    ofclient.Deref(t.OriginalDescription),
		MerchantEntityID:       ofclient.Deref(t.MerchantEntityID),
		LogoURL:                ofclient.Deref(t.LogoURL),
		Website:                ofclient.Deref(t.Website),
	}

	if pfc := t.PersonalFinanceCategory; pfc != nil {
		params.PersonalFinanceCategory = &transaction.PersonalFinanceCategory{
			Primary:         pfc.Primary,
			Detailed:        pfc.Detailed,
			ConfidenceLevel: pfc.ConfidenceLevel,
		}
	}

	if loc := t.Location; !loc.IsEmpty() {
		params.Location = &transaction.Location{
			Address:    ofclient.Deref(loc.Address),
			City:       ofclient.Deref(loc.City),
			Region:     ofclient.Deref(loc.Region),
			PostalCode: ofclient.Deref(loc.PostalCode),
			Country:    ofclient.Deref(loc.Country),
			Lat:        loc.Lat,
			Lon:        loc.Lon,
		}
	}

	return params, nil
}
