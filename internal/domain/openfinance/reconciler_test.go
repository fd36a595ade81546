package openfinance

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finsync/internal/domain/connection"
	"finsync/internal/domain/transaction"
	ofclient "finsync/internal/infrastructure/openfinance"
)

func newTestReconciler() (*Reconciler, *memStore, *connection.Connection) {
	store := newMemStore()
	conn := &connection.Connection{ID: "item-1", UserID: "user-1", Active: true}
	return NewReconciler(store.accountRepo(), store.transactionRepo()), store, conn
}

func TestApplyPage_UpsertIsIdempotent(t *testing.T) {
	r, store, conn := newTestReconciler()
	page := &ofclient.DeltaPage{
		Changes:    added(tx("T1", "10", "2024-03-01"), tx("T2", "20", "2024-03-02")),
		NextCursor: "c1",
	}

	first, err := r.ApplyPage(context.Background(), conn, page)
	require.NoError(t, err)
	assert.Equal(t, ReconcileStats{Created: 2}, first)
	snapshot := store.transactionSnapshot()

	second, err := r.ApplyPage(context.Background(), conn, page)
	require.NoError(t, err)
	assert.Equal(t, ReconcileStats{Updated: 2}, second)
	assert.Equal(t, snapshot, store.transactionSnapshot())
}

func TestApplyPage_ModifiedReplacesRecord(t *testing.T) {
	r, store, conn := newTestReconciler()
	original := tx("T1", "10", "2024-03-01")
	original.Pending = true
	merchant := "Corner Shop"
	original.MerchantName = &merchant

	_, err := r.ApplyPage(context.Background(), conn, &ofclient.DeltaPage{Changes: added(original), NextCursor: "c1"})
	require.NoError(t, err)

	posted := tx("T1", "12.34", "2024-03-02")
	_, err = r.ApplyPage(context.Background(), conn, &ofclient.DeltaPage{
		Changes:    []ofclient.Change{{Kind: ofclient.ChangeModified, Transaction: posted}},
		NextCursor: "c2",
	})
	require.NoError(t, err)

	stored := store.transactionSnapshot()["T1"]
	assert.True(t, stored.Amount.Equal(decimal.RequireFromString("12.34")))
	assert.False(t, stored.Pending)
	assert.Empty(t, stored.MerchantName, "fields absent from the new record are not merged from the old one")
	assert.Equal(t, 2, stored.Date.Day())
}

func TestApplyPage_RemoveIsIdempotent(t *testing.T) {
	r, store, conn := newTestReconciler()
	_, err := r.ApplyPage(context.Background(), conn, &ofclient.DeltaPage{Changes: added(tx("T1", "1", "2024-03-01")), NextCursor: "c1"})
	require.NoError(t, err)

	page := &ofclient.DeltaPage{Changes: removed("T1"), NextCursor: "c2"}

	first, err := r.ApplyPage(context.Background(), conn, page)
	require.NoError(t, err)
	assert.Equal(t, ReconcileStats{Deleted: 1}, first)

	second, err := r.ApplyPage(context.Background(), conn, page)
	require.NoError(t, err)
	assert.Equal(t, ReconcileStats{Absent: 1}, second)
	assert.Empty(t, store.transactionIDs())
}

func TestApplyPage_RemoveNeverStoredIsNoop(t *testing.T) {
	r, _, conn := newTestReconciler()

	stats, err := r.ApplyPage(context.Background(), conn, &ofclient.DeltaPage{Changes: removed("ghost"), NextCursor: "c1"})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Absent)
}

func TestApplyPage_RemoveIsScopedToConnection(t *testing.T) {
	r, store, conn := newTestReconciler()
	_, err := r.ApplyPage(context.Background(), conn, &ofclient.DeltaPage{Changes: added(tx("T1", "1", "2024-03-01")), NextCursor: "c1"})
	require.NoError(t, err)

	other := &connection.Connection{ID: "item-2", UserID: "user-1", Active: true}
	stats, err := r.ApplyPage(context.Background(), other, &ofclient.DeltaPage{Changes: removed("T1"), NextCursor: "x1"})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Absent)
	assert.Equal(t, []string{"T1"}, store.transactionIDs())
}

func TestApplyPage_UpsertNeverTakesOverAnotherConnectionsRow(t *testing.T) {
	r, store, conn := newTestReconciler()
	_, err := r.ApplyPage(context.Background(), conn, &ofclient.DeltaPage{Changes: added(tx("T1", "1", "2024-03-01")), NextCursor: "c1"})
	require.NoError(t, err)

	other := &connection.Connection{ID: "item-2", UserID: "user-1", Active: true}
	_, err = r.ApplyPage(context.Background(), other, &ofclient.DeltaPage{Changes: added(tx("T1", "99", "2024-03-05")), NextCursor: "x1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrReconciliation)
	assert.ErrorIs(t, err, transaction.ErrOwnedElsewhere)

	stored := store.transactionSnapshot()["T1"]
	assert.Equal(t, "item-1", stored.ConnectionID)
	assert.True(t, stored.Amount.Equal(decimal.RequireFromString("1")))
}

func TestApplyPage_AddThenRemoveInSamePage(t *testing.T) {
	r, store, conn := newTestReconciler()
	page := &ofclient.DeltaPage{
		Changes:    append(added(tx("T1", "1", "2024-03-01")), removed("T1")...),
		NextCursor: "c1",
	}

	_, err := r.ApplyPage(context.Background(), conn, page)
	require.NoError(t, err)
	assert.Empty(t, store.transactionIDs())
}

func TestApplyPage_CancelledContext(t *testing.T) {
	r, store, conn := newTestReconciler()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.ApplyPage(ctx, conn, &ofclient.DeltaPage{Changes: added(tx("T1", "1", "2024-03-01")), NextCursor: "c1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrReconciliation)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, store.transactionIDs())
}

func TestApplyPage_MapsFullRecord(t *testing.T) {
	r, store, conn := newTestReconciler()
	t1 := tx("T1", "-4.5", "2024-03-01")
	authorized := "2024-02-29"
	iso := "USD"
	lat := 40.7
	city := "New York"
	t1.AuthorizedDateString = &authorized
	t1.IsoCurrencyCode = &iso
	t1.Category = []string{"Food and Drink", "Coffee"}
	t1.PersonalFinanceCategory = &ofclient.PersonalFinanceCategory{Primary: "FOOD_AND_DRINK", Detailed: "FOOD_AND_DRINK_COFFEE", ConfidenceLevel: "HIGH"}
	t1.Location = &ofclient.Location{City: &city, Lat: &lat}

	_, err := r.ApplyPage(context.Background(), conn, &ofclient.DeltaPage{Changes: added(t1), NextCursor: "c1"})
	require.NoError(t, err)

	stored := store.transactionSnapshot()["T1"]
	assert.Equal(t, "item-1", stored.ConnectionID)
	assert.Equal(t, "USD", stored.IsoCurrencyCode)
	require.NotNil(t, stored.AuthorizedDate)
	assert.Equal(t, time.February, stored.AuthorizedDate.Month())
	assert.Equal(t, []string{"Food and Drink", "Coffee"}, stored.Category)
	require.NotNil(t, stored.PersonalFinanceCategory)
	assert.Equal(t, "FOOD_AND_DRINK", stored.PersonalFinanceCategory.Primary)
	require.NotNil(t, stored.Location)
	assert.Equal(t, "New York", stored.Location.City)
	assert.Equal(t, 40.7, *stored.Location.Lat)
	assert.True(t, stored.Amount.IsNegative())
}

func TestApplyAccounts_FullReplace(t *testing.T) {
	r, store, conn := newTestReconciler()
	limit := decimal.NewNullDecimal(decimal.RequireFromString("5000"))
	subtype := "credit card"

	stats, err := r.ApplyAccounts(context.Background(), conn, []ofclient.Account{
		{AccountID: "a1", Name: "Card", Type: "credit", Subtype: &subtype, Balances: ofclient.Balances{Limit: limit}},
	}, syncTime)
	require.NoError(t, err)
	assert.Equal(t, ReconcileStats{Created: 1}, stats)

	stats, err = r.ApplyAccounts(context.Background(), conn, []ofclient.Account{
		{AccountID: "a1", Name: "Card", Type: "credit", Balances: ofclient.Balances{
			Current: decimal.NewNullDecimal(decimal.RequireFromString("12")),
		}},
	}, syncTime)
	require.NoError(t, err)
	assert.Equal(t, ReconcileStats{Updated: 1}, stats)

	stored := store.accounts["a1"]
	assert.False(t, stored.Balances.Limit.Valid, "balance snapshot is replaced, not merged")
	assert.True(t, stored.Balances.Current.Valid)
	assert.Empty(t, stored.Subtype)
	assert.Equal(t, "user-1", stored.UserID)
}

func TestApplyAccounts_UnknownTypeStoredAsOther(t *testing.T) {
	r, store, conn := newTestReconciler()

	_, err := r.ApplyAccounts(context.Background(), conn, []ofclient.Account{
		{AccountID: "a1", Name: "Wallet", Type: "crypto"},
	}, syncTime)
	require.NoError(t, err)
	assert.Equal(t, "other", store.accounts["a1"].Type)
}

func TestApplyAccounts_InvalidRecord(t *testing.T) {
	r, _, conn := newTestReconciler()

	_, err := r.ApplyAccounts(context.Background(), conn, []ofclient.Account{{AccountID: "", Name: "x", Type: "depository"}}, syncTime)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrReconciliation)
}
