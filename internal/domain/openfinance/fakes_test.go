package openfinance

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"finsync/internal/domain/account"
	"finsync/internal/domain/connection"
	"finsync/internal/domain/transaction"
	ofclient "finsync/internal/infrastructure/openfinance"
)

// memStore is an in-memory stand-in for the three Postgres repositories.
type memStore struct {
	mu           sync.Mutex
	connections  map[string]*connection.Connection
	accounts     map[string]account.UpsertParams
	transactions map[string]transaction.UpsertParams

	advanceCursorErr func(cursor string) error
	upsertTxErr      func(id string) error
	failures         []recordedFailure
}

type recordedFailure struct {
	ID             string
	Message        string
	NeedsAttention bool
}

func newMemStore() *memStore {
	return &memStore{
		connections:  make(map[string]*connection.Connection),
		accounts:     make(map[string]account.UpsertParams),
		transactions: make(map[string]transaction.UpsertParams),
	}
}

func (s *memStore) addConnection(id string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connections[id] = &connection.Connection{ID: id, UserID: "user-" + id, Credential: "access-" + id, Active: active}
}

func (s *memStore) connection(id string) connection.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.connections[id]
}

func (s *memStore) transactionIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.transactions))
	for id := range s.transactions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *memStore) transactionSnapshot() map[string]transaction.UpsertParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]transaction.UpsertParams, len(s.transactions))
	for k, v := range s.transactions {
		out[k] = v
	}
	return out
}

func (s *memStore) connectionRepo() *memConnections   { return &memConnections{s} }
func (s *memStore) accountRepo() *memAccounts         { return &memAccounts{s} }
func (s *memStore) transactionRepo() *memTransactions { return &memTransactions{s} }

type memConnections struct{ s *memStore }

func (r *memConnections) Create(ctx context.Context, params connection.CreateParams) (*connection.Connection, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if c, ok := r.s.connections[params.ID]; ok {
		c.Credential = params.Credential
		c.Active = true
		c.NeedsAttention = false
		cp := *c
		return &cp, nil
	}
	c := &connection.Connection{ID: params.ID, UserID: params.UserID, Credential: params.Credential, Active: true}
	r.s.connections[params.ID] = c
	cp := *c
	return &cp, nil
}

func (r *memConnections) GetByID(ctx context.Context, id string) (*connection.Connection, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.connections[id]
	if !ok {
		return nil, connection.ErrConnectionNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *memConnections) ListByUserID(ctx context.Context, userID string) ([]*connection.Connection, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*connection.Connection
	for _, c := range r.s.connections {
		if c.UserID == userID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memConnections) ListActive(ctx context.Context) ([]*connection.Connection, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*connection.Connection
	for _, c := range r.s.connections {
		if c.Active {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memConnections) ListActiveIDs(ctx context.Context) ([]string, error) {
	active, err := r.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(active))
	for _, c := range active {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

func (r *memConnections) SetActive(ctx context.Context, id string, active bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.connections[id]
	if !ok {
		return connection.ErrConnectionNotFound
	}
	c.Active = active
	return nil
}

func (r *memConnections) AdvanceCursor(ctx context.Context, id, cursor string) error {
	if r.s.advanceCursorErr != nil {
		if err := r.s.advanceCursorErr(cursor); err != nil {
			return err
		}
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.connections[id]
	if !ok {
		return connection.ErrConnectionNotFound
	}
	c.Cursor = &cursor
	return nil
}

func (r *memConnections) MarkSynced(ctx context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.connections[id]
	if !ok {
		return connection.ErrConnectionNotFound
	}
	c.LastSyncedAt = &at
	c.LastError = ""
	c.NeedsAttention = false
	return nil
}

func (r *memConnections) RecordFailure(ctx context.Context, id, message string, needsAttention bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.connections[id]
	if !ok {
		return connection.ErrConnectionNotFound
	}
	c.LastError = message
	if needsAttention {
		c.NeedsAttention = true
	}
	r.s.failures = append(r.s.failures, recordedFailure{ID: id, Message: message, NeedsAttention: needsAttention})
	return nil
}

func (r *memConnections) Delete(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.connections, id)
	return nil
}

type memAccounts struct{ s *memStore }

func (r *memAccounts) Upsert(ctx context.Context, params account.UpsertParams) (*account.Account, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	prev, existed := r.s.accounts[params.ID]
	if existed && prev.ConnectionID != params.ConnectionID {
		return nil, false, account.ErrOwnedElsewhere
	}
	r.s.accounts[params.ID] = params
	return &account.Account{ID: params.ID, ConnectionID: params.ConnectionID, Name: params.Name, Balances: params.Balances}, !existed, nil
}

func (r *memAccounts) GetByID(ctx context.Context, id string) (*account.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.accounts[id]
	if !ok {
		return nil, account.ErrAccountNotFound
	}
	return &account.Account{ID: p.ID, ConnectionID: p.ConnectionID, Name: p.Name, Type: p.Type, Balances: p.Balances}, nil
}

func (r *memAccounts) ListByConnectionID(ctx context.Context, connectionID string) ([]*account.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*account.Account
	for _, p := range r.s.accounts {
		if p.ConnectionID == connectionID {
			out = append(out, &account.Account{ID: p.ID, ConnectionID: p.ConnectionID, Name: p.Name, Balances: p.Balances})
		}
	}
	return out, nil
}

type memTransactions struct{ s *memStore }

func (r *memTransactions) Upsert(ctx context.Context, params transaction.UpsertParams) (bool, error) {
	if r.s.upsertTxErr != nil {
		if err := r.s.upsertTxErr(params.ID); err != nil {
			return false, err
		}
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	prev, existed := r.s.transactions[params.ID]
	if existed && prev.ConnectionID != params.ConnectionID {
		return false, transaction.ErrOwnedElsewhere
	}
	r.s.transactions[params.ID] = params
	return !existed, nil
}

func (r *memTransactions) Delete(ctx context.Context, connectionID, id string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.transactions[id]
	if !ok || p.ConnectionID != connectionID {
		return false, nil
	}
	delete(r.s.transactions, id)
	return true, nil
}

func (r *memTransactions) GetByID(ctx context.Context, id string) (*transaction.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.transactions[id]
	if !ok {
		return nil, transaction.ErrTransactionNotFound
	}
	return &transaction.Transaction{ID: p.ID, AccountID: p.AccountID, ConnectionID: p.ConnectionID, Amount: p.Amount, Name: p.Name}, nil
}

func (r *memTransactions) CountByConnectionID(ctx context.Context, connectionID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, p := range r.s.transactions {
		if p.ConnectionID == connectionID {
			n++
		}
	}
	return n, nil
}

// fakeProvider serves scripted delta pages keyed by the request cursor. A
// cursor with no scripted page gets an empty page that echoes the cursor.
type fakeProvider struct {
	mu          sync.Mutex
	accounts    []ofclient.Account
	pages       map[string]*ofclient.DeltaPage
	accountsErr error
	pageErr     func(cursor string) error
	block       chan struct{}
	entered     chan struct{}

	accountCalls int
	cursorsSeen  []string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		accounts: []ofclient.Account{
			{AccountID: "a1", Name: "Checking", Type: "depository", Balances: ofclient.Balances{
				Current: decimal.NewNullDecimal(decimal.RequireFromString("100")),
			}},
		},
		pages: make(map[string]*ofclient.DeltaPage),
	}
}

func (p *fakeProvider) FetchAccounts(ctx context.Context, credential string) ([]ofclient.Account, error) {
	p.mu.Lock()
	p.accountCalls++
	entered, block := p.entered, p.block
	p.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.accountsErr != nil {
		return nil, p.accountsErr
	}
	return p.accounts, nil
}

func (p *fakeProvider) FetchDeltaPage(ctx context.Context, credential, cursor string) (*ofclient.DeltaPage, error) {
	p.mu.Lock()
	p.cursorsSeen = append(p.cursorsSeen, cursor)
	page, ok := p.pages[cursor]
	pageErr := p.pageErr
	p.mu.Unlock()

	if pageErr != nil {
		if err := pageErr(cursor); err != nil {
			return nil, err
		}
	}
	if !ok {
		return &ofclient.DeltaPage{NextCursor: cursor}, nil
	}
	return page, nil
}

func (p *fakeProvider) calls() (accounts int, cursors []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accountCalls, append([]string(nil), p.cursorsSeen...)
}

func tx(id, amount, date string) *ofclient.Transaction {
	return &ofclient.Transaction{
		TransactionID: id,
		AccountID:     "a1",
		Amount:        decimal.RequireFromString(amount),
		DateString:    date,
		Name:          "Merchant " + id,
	}
}

func added(txs ...*ofclient.Transaction) []ofclient.Change {
	out := make([]ofclient.Change, 0, len(txs))
	for _, t := range txs {
		out = append(out, ofclient.Change{Kind: ofclient.ChangeAdded, Transaction: t})
	}
	return out
}

func removed(ids ...string) []ofclient.Change {
	out := make([]ofclient.Change, 0, len(ids))
	for _, id := range ids {
		out = append(out, ofclient.Change{Kind: ofclient.ChangeRemoved, RemovedID: id})
	}
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []SyncEvent
}

func (p *recordingPublisher) PublishSyncEvent(ctx context.Context, event SyncEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []string
}

func (a *recordingAlerter) AlertConnectionRejected(ctx context.Context, conn *connection.Connection, cause error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, conn.ID)
	return nil
}

var errStorage = errors.New("storage unavailable")
