/*
Package memory provides an in-memory store for tests and local development.

Implements both the ledger and queue persistence interfaces. Transactions
are emulated by snapshotting the whole state under the mutex and swapping
it back in only when fn succeeds, which gives the same commit-or-nothing
semantics the SQL stores provide.
*/
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/atlaspms/finance-core/ledger"
	"github.com/atlaspms/finance-core/queue"
)

type Store struct {
	mu sync.RWMutex
	st *state
}

func New() *Store {
	return &Store{st: newState()}
}

// =============================================================================
// STATE
// =============================================================================

type state struct {
	accounts   map[ledger.AccountID]ledger.Account
	accountIdx map[accountKey]ledger.AccountID

	txs     []ledger.Transaction
	txByKey map[string]int // idempotency key -> index into txs

	items     map[string]queue.Item
	itemOrder []string
	byOpKey   map[string]string
	byRef     map[string]string

	logs      []queue.LogEntry
	nextLogID int64

	tenants map[int64]queue.Tenant
}

type accountKey struct {
	customerID int64
	hotelID    int64
	currency   string
}

func newState() *state {
	return &state{
		accounts:   make(map[ledger.AccountID]ledger.Account),
		accountIdx: make(map[accountKey]ledger.AccountID),
		txByKey:    make(map[string]int),
		items:      make(map[string]queue.Item),
		byOpKey:    make(map[string]string),
		byRef:      make(map[string]string),
		nextLogID:  1,
		tenants:    make(map[int64]queue.Tenant),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.accountIdx {
		c.accountIdx[k] = v
	}
	c.txs = append([]ledger.Transaction(nil), s.txs...)
	for k, v := range s.txByKey {
		c.txByKey[k] = v
	}
	for k, v := range s.items {
		c.items[k] = v
	}
	c.itemOrder = append([]string(nil), s.itemOrder...)
	for k, v := range s.byOpKey {
		c.byOpKey[k] = v
	}
	for k, v := range s.byRef {
		c.byRef[k] = v
	}
	c.logs = append([]queue.LogEntry(nil), s.logs...)
	c.nextLogID = s.nextLogID
	for k, v := range s.tenants {
		c.tenants[k] = v
	}
	return c
}

// =============================================================================
// LEDGER STORE
// =============================================================================

func (s *Store) GetAccount(ctx context.Context, customerID, hotelID int64, currency string) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.getAccount(customerID, hotelID, currency)
}

func (s *Store) GetAccountByID(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.getAccountByID(id)
}

func (s *Store) SaveAccount(ctx context.Context, a *ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.saveAccount(a)
}

func (s *Store) AppendTransaction(ctx context.Context, t *ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.appendTransaction(t)
}

func (s *Store) TransactionByKey(ctx context.Context, key string) (*ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.transactionByKey(key)
}

func (s *Store) TransactionsByAccount(ctx context.Context, id ledger.AccountID) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.transactionsByAccount(id)
}

func (s *Store) TransactionsBySource(ctx context.Context, accountID ledger.AccountID, kind ledger.SourceKind, sourceID int64) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.transactionsBySource(accountID, kind, sourceID)
}

// WithTx snapshots the state, runs fn against the snapshot and commits it
// back only on success.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(&txView{st: snapshot}); err != nil {
		return err
	}
	s.st = snapshot
	return nil
}

// txView exposes a snapshot as a ledger.Store without locking; the outer
// WithTx holds the mutex for the whole transaction.
type txView struct {
	st *state
}

func (v *txView) GetAccount(ctx context.Context, customerID, hotelID int64, currency string) (*ledger.Account, error) {
	return v.st.getAccount(customerID, hotelID, currency)
}

func (v *txView) GetAccountByID(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	return v.st.getAccountByID(id)
}

func (v *txView) SaveAccount(ctx context.Context, a *ledger.Account) error {
	return v.st.saveAccount(a)
}

func (v *txView) AppendTransaction(ctx context.Context, t *ledger.Transaction) error {
	return v.st.appendTransaction(t)
}

func (v *txView) TransactionByKey(ctx context.Context, key string) (*ledger.Transaction, error) {
	return v.st.transactionByKey(key)
}

func (v *txView) TransactionsByAccount(ctx context.Context, id ledger.AccountID) ([]ledger.Transaction, error) {
	return v.st.transactionsByAccount(id)
}

func (v *txView) TransactionsBySource(ctx context.Context, accountID ledger.AccountID, kind ledger.SourceKind, sourceID int64) ([]ledger.Transaction, error) {
	return v.st.transactionsBySource(accountID, kind, sourceID)
}

func (s *state) getAccount(customerID, hotelID int64, currency string) (*ledger.Account, error) {
	id, ok := s.accountIdx[accountKey{customerID, hotelID, currency}]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	return s.getAccountByID(id)
}

func (s *state) getAccountByID(id ledger.AccountID) (*ledger.Account, error) {
	a, ok := s.accounts[id]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	out := a
	return &out, nil
}

func (s *state) saveAccount(a *ledger.Account) error {
	s.accounts[a.ID] = *a
	s.accountIdx[accountKey{a.CustomerID, a.HotelID, a.Currency}] = a.ID
	return nil
}

func (s *state) appendTransaction(t *ledger.Transaction) error {
	if _, exists := s.txByKey[t.IdempotencyKey]; exists {
		return ledger.ErrDuplicateIdempotencyKey
	}
	s.txs = append(s.txs, *t)
	s.txByKey[t.IdempotencyKey] = len(s.txs) - 1
	return nil
}

func (s *state) transactionByKey(key string) (*ledger.Transaction, error) {
	i, ok := s.txByKey[key]
	if !ok {
		return nil, nil
	}
	out := s.txs[i]
	return &out, nil
}

func (s *state) transactionsByAccount(id ledger.AccountID) ([]ledger.Transaction, error) {
	var out []ledger.Transaction
	for i := range s.txs {
		if s.txs[i].AccountID == id {
			out = append(out, s.txs[i])
		}
	}
	return out, nil
}

func (s *state) transactionsBySource(accountID ledger.AccountID, kind ledger.SourceKind, sourceID int64) ([]ledger.Transaction, error) {
	var out []ledger.Transaction
	for i := range s.txs {
		t := s.txs[i]
		if t.AccountID == accountID && t.SourceKind == kind && t.SourceID == sourceID {
			out = append(out, t)
		}
	}
	return out, nil
}

// =============================================================================
// QUEUE STORE
// =============================================================================

func (s *Store) InsertItem(ctx context.Context, item *queue.Item) (*queue.Item, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.st.byOpKey[item.OperationKey]; ok {
		existing := s.st.items[id]
		return &existing, false, nil
	}
	s.st.items[item.QueueID] = *item
	s.st.itemOrder = append(s.st.itemOrder, item.QueueID)
	s.st.byOpKey[item.OperationKey] = item.QueueID
	s.st.byRef[item.RequestRef] = item.QueueID
	stored := *item
	return &stored, true, nil
}

func (s *Store) GetItem(ctx context.Context, queueID string) (*queue.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.st.items[queueID]
	if !ok {
		return nil, queue.ErrItemNotFound
	}
	return &item, nil
}

func (s *Store) ItemByRequestRef(ctx context.Context, requestRef string) (*queue.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.st.byRef[requestRef]
	if !ok {
		return nil, nil
	}
	item := s.st.items[id]
	return &item, nil
}

func (s *Store) ClaimDue(ctx context.Context, hotelID int64, now time.Time, limit int) ([]queue.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []string
	for _, id := range s.st.itemOrder {
		item := s.st.items[id]
		if item.HotelID != hotelID || !item.Status.Claimable() {
			continue
		}
		if item.NextAttemptAt != nil && item.NextAttemptAt.After(now) {
			continue
		}
		due = append(due, id)
	}
	// Longest-due first: retries by their scheduled attempt time, fresh
	// items by creation time, ties broken by queue id.
	sort.Slice(due, func(i, j int) bool {
		a, b := s.st.items[due[i]], s.st.items[due[j]]
		at, bt := dueSince(a), dueSince(b)
		if !at.Equal(bt) {
			return at.Before(bt)
		}
		return a.QueueID < b.QueueID
	})

	var claimed []queue.Item
	for _, id := range due {
		if len(claimed) >= limit {
			break
		}
		item := s.st.items[id]
		item.Status = queue.StatusProcessing
		item.UpdatedAt = now
		s.st.items[id] = item
		claimed = append(claimed, item)
	}
	return claimed, nil
}

func dueSince(item queue.Item) time.Time {
	if item.NextAttemptAt != nil {
		return *item.NextAttemptAt
	}
	return item.CreatedAt
}

func (s *Store) MarkSucceeded(ctx context.Context, queueID string, now time.Time) error {
	return s.updateItem(queueID, func(item *queue.Item) {
		item.Status = queue.StatusSucceeded
		item.LastError = ""
		item.NextAttemptAt = nil
		item.UpdatedAt = now
	})
}

func (s *Store) MarkRetrying(ctx context.Context, queueID string, attempts int, lastError string, nextAttemptAt, now time.Time) error {
	return s.updateItem(queueID, func(item *queue.Item) {
		item.Status = queue.StatusRetrying
		item.Attempts = attempts
		item.LastError = lastError
		at := nextAttemptAt
		item.NextAttemptAt = &at
		item.UpdatedAt = now
	})
}

func (s *Store) MarkFailed(ctx context.Context, queueID string, attempts int, lastError string, now time.Time) error {
	return s.updateItem(queueID, func(item *queue.Item) {
		item.Status = queue.StatusFailed
		item.Attempts = attempts
		item.LastError = lastError
		item.NextAttemptAt = nil
		item.UpdatedAt = now
	})
}

func (s *Store) updateItem(queueID string, mutate func(*queue.Item)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.st.items[queueID]
	if !ok {
		return queue.ErrItemNotFound
	}
	mutate(&item)
	s.st.items[queueID] = item
	return nil
}

func (s *Store) ReleaseStale(ctx context.Context, hotelID int64, cutoff, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	released := 0
	for _, id := range s.st.itemOrder {
		item := s.st.items[id]
		if item.HotelID != hotelID || item.Status != queue.StatusProcessing {
			continue
		}
		if !item.UpdatedAt.Before(cutoff) {
			continue
		}
		item.Status = queue.StatusQueued
		item.UpdatedAt = now
		s.st.items[id] = item
		released++
	}
	return released, nil
}

func (s *Store) ItemsByStatus(ctx context.Context, hotelID int64, status queue.Status, limit int) ([]queue.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []queue.Item
	for _, id := range s.st.itemOrder {
		item := s.st.items[id]
		if item.HotelID != hotelID {
			continue
		}
		if status != "" && item.Status != status {
			continue
		}
		out = append(out, item)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) AppendLog(ctx context.Context, entry *queue.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.ID = s.st.nextLogID
	s.st.nextLogID++
	s.st.logs = append(s.st.logs, *entry)
	return nil
}

func (s *Store) Logs(ctx context.Context, hotelID int64, limit int) ([]queue.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []queue.LogEntry
	for i := len(s.st.logs) - 1; i >= 0; i-- {
		if s.st.logs[i].HotelID != hotelID {
			continue
		}
		out = append(out, s.st.logs[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) Tenants(ctx context.Context) ([]queue.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]queue.Tenant, 0, len(s.st.tenants))
	for _, t := range s.st.tenants {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HotelID < out[j].HotelID })
	return out, nil
}

func (s *Store) SaveTenant(ctx context.Context, t *queue.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.tenants[t.HotelID] = *t
	return nil
}
