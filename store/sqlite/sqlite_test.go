package sqlite_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlaspms/finance-core/ledger"
	"github.com/atlaspms/finance-core/queue"
	"github.com/atlaspms/finance-core/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testAccount(id string) *ledger.Account {
	now := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	return &ledger.Account{
		ID:          ledger.AccountID(id),
		CustomerID:  77,
		HotelID:     1,
		Currency:    "SAR",
		Balance:     decimal.Zero,
		TotalCredit: decimal.Zero,
		TotalDebit:  decimal.Zero,
		Status:      ledger.AccountActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func testTx(id, accountID, idemKey string, credit string) *ledger.Transaction {
	now := time.Date(2026, time.March, 10, 9, 5, 0, 0, time.UTC)
	c := decimal.RequireFromString(credit)
	return &ledger.Transaction{
		ID:             ledger.TransactionID(id),
		AccountID:      ledger.AccountID(accountID),
		Type:           ledger.TxReceipt,
		Status:         ledger.TxActive,
		SourceKind:     ledger.SourcePaymentReceipt,
		SourceID:       10,
		SourceNo:       "RCPT-10",
		EditSeq:        1,
		IdempotencyKey: idemKey,
		Fingerprint:    "fp-" + idemKey,
		Currency:       "SAR",
		Credit:         c,
		Debit:          decimal.Zero,
		BalanceAfter:   c,
		EffectiveAt:    now,
		CreatedAt:      now,
	}
}

func testItem(id, ref, opKey string, status queue.Status) *queue.Item {
	now := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	return &queue.Item{
		QueueID:      id,
		RequestRef:   ref,
		Partner:      "ota",
		Operation:    "receipt.sync",
		HotelID:      1,
		TargetID:     10,
		PayloadType:  "receipt",
		Payload:      json.RawMessage(`{"receiptId":10}`),
		OperationKey: opKey,
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// =============================================================================
// LEDGER PERSISTENCE
// =============================================================================

func TestSQLite_AccountRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	acct := testAccount("acct-1")
	acct.Balance = decimal.RequireFromString("123.45")
	acct.TotalCredit = decimal.RequireFromString("200.45")
	acct.TotalDebit = decimal.RequireFromString("77.00")
	require.NoError(t, store.SaveAccount(ctx, acct))

	got, err := store.GetAccount(ctx, 77, 1, "SAR")
	require.NoError(t, err)
	assert.Equal(t, acct.ID, got.ID)
	assert.True(t, got.Balance.Equal(acct.Balance))
	assert.True(t, got.TotalCredit.Equal(acct.TotalCredit))
	assert.Equal(t, ledger.AccountActive, got.Status)

	byID, err := store.GetAccountByID(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, got.CustomerID, byID.CustomerID)
}

func TestSQLite_AccountUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	acct := testAccount("acct-1")
	require.NoError(t, store.SaveAccount(ctx, acct))

	acct.Balance = decimal.RequireFromString("50")
	acct.Status = ledger.AccountSuspended
	require.NoError(t, store.SaveAccount(ctx, acct))

	got, err := store.GetAccountByID(ctx, acct.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.RequireFromString("50")))
	assert.Equal(t, ledger.AccountSuspended, got.Status)
}

func TestSQLite_GetAccount_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetAccount(context.Background(), 999, 1, "SAR")
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)

	_, err = store.GetAccountByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestSQLite_DuplicateIdempotencyKeyRejected(t *testing.T) {
	// GIVEN: A transaction row stored under an idempotency key
	// WHEN: A second row with the same key is appended
	// THEN: The unique index rejects it with the sentinel error

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveAccount(ctx, testAccount("acct-1")))
	require.NoError(t, store.AppendTransaction(ctx, testTx("tx-1", "acct-1", "key-1", "100")))

	err := store.AppendTransaction(ctx, testTx("tx-2", "acct-1", "key-1", "100"))
	assert.ErrorIs(t, err, ledger.ErrDuplicateIdempotencyKey)

	got, err := store.TransactionByKey(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.TransactionID("tx-1"), got.ID)
}

func TestSQLite_AppendTransaction_RequiresAccountRow(t *testing.T) {
	// GIVEN: No account row for "ghost"
	// WHEN: A transaction referencing it is appended
	// THEN: The foreign key rejects it; after the account exists it lands

	store := newTestStore(t)
	ctx := context.Background()

	err := store.AppendTransaction(ctx, testTx("tx-1", "ghost", "key-1", "100"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ledger.ErrDuplicateIdempotencyKey)

	require.NoError(t, store.SaveAccount(ctx, testAccount("ghost")))
	require.NoError(t, store.AppendTransaction(ctx, testTx("tx-1", "ghost", "key-1", "100")))
}

func TestSQLite_TransactionByKey_AbsentIsNil(t *testing.T) {
	store := newTestStore(t)

	got, err := store.TransactionByKey(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLite_TransactionsBySource_FiltersKindAndID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveAccount(ctx, testAccount("acct-1")))

	first := testTx("tx-1", "acct-1", "key-1", "100")
	require.NoError(t, store.AppendTransaction(ctx, first))

	other := testTx("tx-2", "acct-1", "key-2", "40")
	other.SourceKind = ledger.SourceReservation
	other.SourceID = 500
	require.NoError(t, store.AppendTransaction(ctx, other))

	rows, err := store.TransactionsBySource(ctx, "acct-1", ledger.SourcePaymentReceipt, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, ledger.TransactionID("tx-1"), rows[0].ID)

	all, err := store.TransactionsByAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSQLite_WithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: A transaction function that writes and then fails
	// WHEN: WithTx returns the error
	// THEN: None of the writes are visible afterwards

	store := newTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(s ledger.Store) error {
		if err := s.SaveAccount(ctx, testAccount("acct-1")); err != nil {
			return err
		}
		if err := s.AppendTransaction(ctx, testTx("tx-1", "acct-1", "key-1", "100")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = store.GetAccountByID(ctx, "acct-1")
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)

	row, err := store.TransactionByKey(ctx, "key-1")
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestSQLite_WithTx_CommitsOnSuccess(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(s ledger.Store) error {
		if err := s.SaveAccount(ctx, testAccount("acct-1")); err != nil {
			return err
		}
		return s.AppendTransaction(ctx, testTx("tx-1", "acct-1", "key-1", "100"))
	})
	require.NoError(t, err)

	rows, err := store.TransactionsByAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

// =============================================================================
// QUEUE PERSISTENCE
// =============================================================================

func TestSQLite_InsertItem_DeduplicatesOnOperationKey(t *testing.T) {
	// GIVEN: An item stored under an operation key
	// WHEN: A second insert carries the same key
	// THEN: The original row is returned and nothing new is written

	store := newTestStore(t)
	ctx := context.Background()

	first, inserted, err := store.InsertItem(ctx, testItem("q-1", "ref-1", "op-1", queue.StatusQueued))
	require.NoError(t, err)
	assert.True(t, inserted)

	dup, inserted, err := store.InsertItem(ctx, testItem("q-2", "ref-2", "op-1", queue.StatusQueued))
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, first.QueueID, dup.QueueID)

	_, err = store.GetItem(ctx, "q-2")
	assert.ErrorIs(t, err, queue.ErrItemNotFound)
}

func TestSQLite_ItemByRequestRef(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, _, err := store.InsertItem(ctx, testItem("q-1", "ref-1", "op-1", queue.StatusQueued))
	require.NoError(t, err)

	got, err := store.ItemByRequestRef(ctx, "ref-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "q-1", got.QueueID)

	absent, err := store.ItemByRequestRef(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, absent)
}

func TestSQLite_ClaimDue_ClaimsOnlyDueClaimableItems(t *testing.T) {
	// GIVEN: Queued, retrying-in-future and already-claimed items
	// WHEN: A batch is claimed
	// THEN: Only due, claimable items flip to Processing

	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

	_, _, err := store.InsertItem(ctx, testItem("q-1", "ref-1", "op-1", queue.StatusQueued))
	require.NoError(t, err)

	future := testItem("q-2", "ref-2", "op-2", queue.StatusRetrying)
	at := now.Add(time.Hour)
	future.NextAttemptAt = &at
	_, _, err = store.InsertItem(ctx, future)
	require.NoError(t, err)

	done := testItem("q-3", "ref-3", "op-3", queue.StatusSucceeded)
	_, _, err = store.InsertItem(ctx, done)
	require.NoError(t, err)

	claimed, err := store.ClaimDue(ctx, 1, now, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "q-1", claimed[0].QueueID)
	assert.Equal(t, queue.StatusProcessing, claimed[0].Status)

	// A second claim finds nothing: q-1 is held, q-2 is not yet due.
	again, err := store.ClaimDue(ctx, 1, now, 10)
	require.NoError(t, err)
	assert.Empty(t, again)

	// Once the retry time passes, q-2 becomes claimable.
	later, err := store.ClaimDue(ctx, 1, now.Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, later, 1)
	assert.Equal(t, "q-2", later[0].QueueID)
}

func TestSQLite_ClaimDue_HonorsLimitAndOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

	for i := 1; i <= 4; i++ {
		item := testItem(fmt.Sprintf("q-%d", i), fmt.Sprintf("ref-%d", i), fmt.Sprintf("op-%d", i), queue.StatusQueued)
		item.CreatedAt = base.Add(time.Duration(i) * time.Second)
		item.UpdatedAt = item.CreatedAt
		_, _, err := store.InsertItem(ctx, item)
		require.NoError(t, err)
	}

	claimed, err := store.ClaimDue(ctx, 1, base.Add(time.Minute), 2)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, "q-1", claimed[0].QueueID, "oldest first")
	assert.Equal(t, "q-2", claimed[1].QueueID)
}

func TestSQLite_ClaimDue_PrefersLongestDue(t *testing.T) {
	// GIVEN: An early-created retry due at base+10m and a later-created
	//        fresh item due since base+1m
	// WHEN: One item is claimed at base+11m
	// THEN: The fresh item wins; claim order follows due time, not
	//       creation order

	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

	retry := testItem("q-1", "ref-1", "op-1", queue.StatusRetrying)
	retry.CreatedAt = base
	retry.UpdatedAt = base
	at := base.Add(10 * time.Minute)
	retry.NextAttemptAt = &at
	_, _, err := store.InsertItem(ctx, retry)
	require.NoError(t, err)

	fresh := testItem("q-2", "ref-2", "op-2", queue.StatusQueued)
	fresh.CreatedAt = base.Add(time.Minute)
	fresh.UpdatedAt = fresh.CreatedAt
	_, _, err = store.InsertItem(ctx, fresh)
	require.NoError(t, err)

	claimed, err := store.ClaimDue(ctx, 1, base.Add(11*time.Minute), 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "q-2", claimed[0].QueueID)

	next, err := store.ClaimDue(ctx, 1, base.Add(11*time.Minute), 1)
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, "q-1", next[0].QueueID)
}

func TestSQLite_ClaimDue_FractionalSecondBoundary(t *testing.T) {
	// GIVEN: A retry due exactly on a whole second
	// WHEN: The claim time falls a fraction later within the same second
	// THEN: The item is due; the stored text timestamps must compare
	//       correctly at sub-second precision

	store := newTestStore(t)
	ctx := context.Background()
	due := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

	item := testItem("q-1", "ref-1", "op-1", queue.StatusRetrying)
	item.NextAttemptAt = &due
	_, _, err := store.InsertItem(ctx, item)
	require.NoError(t, err)

	claimed, err := store.ClaimDue(ctx, 1, due.Add(500*time.Millisecond), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "q-1", claimed[0].QueueID)
}

func TestSQLite_ClaimDue_ExclusiveUnderConcurrentClaimers(t *testing.T) {
	// GIVEN: Twenty due items and two claimers racing over them
	// WHEN: Both drain the queue in small batches
	// THEN: Every item is claimed exactly once across both claimers

	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

	const total = 20
	for i := 1; i <= total; i++ {
		item := testItem(fmt.Sprintf("q-%02d", i), fmt.Sprintf("ref-%d", i), fmt.Sprintf("op-%d", i), queue.StatusQueued)
		_, _, err := store.InsertItem(ctx, item)
		require.NoError(t, err)
	}

	var mu sync.Mutex
	seen := make(map[string]int)

	var wg sync.WaitGroup
	for g := 0; g < 2; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				claimed, err := store.ClaimDue(ctx, 1, now, 3)
				if !assert.NoError(t, err) || len(claimed) == 0 {
					return
				}
				mu.Lock()
				for _, item := range claimed {
					seen[item.QueueID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, total)
	for id, n := range seen {
		assert.Equal(t, 1, n, "item %s claimed more than once", id)
	}
}

func TestSQLite_MarkTransitions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

	_, _, err := store.InsertItem(ctx, testItem("q-1", "ref-1", "op-1", queue.StatusQueued))
	require.NoError(t, err)

	next := now.Add(30 * time.Second)
	require.NoError(t, store.MarkRetrying(ctx, "q-1", 1, "timeout", next, now))
	got, err := store.GetItem(ctx, "q-1")
	require.NoError(t, err)
	assert.Equal(t, queue.StatusRetrying, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "timeout", got.LastError)
	require.NotNil(t, got.NextAttemptAt)
	assert.True(t, got.NextAttemptAt.Equal(next))

	require.NoError(t, store.MarkSucceeded(ctx, "q-1", now.Add(time.Minute)))
	got, err = store.GetItem(ctx, "q-1")
	require.NoError(t, err)
	assert.Equal(t, queue.StatusSucceeded, got.Status)
	assert.Empty(t, got.LastError)
	assert.Nil(t, got.NextAttemptAt)

	assert.ErrorIs(t, store.MarkFailed(ctx, "missing", 1, "x", now), queue.ErrItemNotFound)
}

func TestSQLite_ReleaseStale(t *testing.T) {
	// GIVEN: One item stuck Processing since before the cutoff
	// WHEN: Stale items are released
	// THEN: It returns to Queued; fresher claims are untouched

	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

	_, _, err := store.InsertItem(ctx, testItem("q-1", "ref-1", "op-1", queue.StatusQueued))
	require.NoError(t, err)
	_, _, err = store.InsertItem(ctx, testItem("q-2", "ref-2", "op-2", queue.StatusQueued))
	require.NoError(t, err)

	claimed, err := store.ClaimDue(ctx, 1, base, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	released, err := store.ReleaseStale(ctx, 1, base.Add(-time.Minute), base)
	require.NoError(t, err)
	assert.Zero(t, released, "fresh claims stay held")

	released, err = store.ReleaseStale(ctx, 1, base.Add(time.Hour), base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	got, err := store.GetItem(ctx, claimed[0].QueueID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusQueued, got.Status)
}

func TestSQLite_LogAppendAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		entry := &queue.LogEntry{
			RequestRef: fmt.Sprintf("ref-%d", i),
			Partner:    "ota",
			Operation:  "receipt.sync",
			HotelID:    1,
			Status:     queue.StatusSucceeded,
			Message:    "processed",
			CreatedAt:  time.Date(2026, time.March, 10, 12, i, 0, 0, time.UTC),
		}
		require.NoError(t, store.AppendLog(ctx, entry))
		assert.NotZero(t, entry.ID, "append assigns the log id")
	}

	logs, err := store.Logs(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "ref-3", logs[0].RequestRef, "newest first")
	assert.Equal(t, "ref-2", logs[1].RequestRef)
}

func TestSQLite_TenantUpsertAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tenant := &queue.Tenant{
		HotelID:       1,
		Code:          "HTL1",
		QueueEnabled:  true,
		WorkerEnabled: true,
		PollInterval:  60 * time.Second,
		BatchSize:     20,
	}
	require.NoError(t, store.SaveTenant(ctx, tenant))

	tenant.WorkerEnabled = false
	tenant.BatchSize = 10
	require.NoError(t, store.SaveTenant(ctx, tenant))

	tenants, err := store.Tenants(ctx)
	require.NoError(t, err)
	require.Len(t, tenants, 1)
	assert.Equal(t, "HTL1", tenants[0].Code)
	assert.False(t, tenants[0].WorkerEnabled)
	assert.Equal(t, 10, tenants[0].BatchSize)
	assert.Equal(t, 60*time.Second, tenants[0].PollInterval)
}
