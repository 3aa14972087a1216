package ledger_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlaspms/finance-core/ledger"
	"github.com/atlaspms/finance-core/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestReconciler(t *testing.T) (*ledger.Reconciler, *sqlite.Store) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	rec := ledger.NewReconciler(store)
	return rec, store
}

func receipt(id int64, amount string) ledger.Receipt {
	return ledger.Receipt{
		ReceiptID:  id,
		ReceiptNo:  fmt.Sprintf("RCPT-%d", id),
		Kind:       ledger.SourcePaymentReceipt,
		CustomerID: 77,
		HotelID:    1,
		Currency:   "SAR",
		Amount:     dec(amount),
		Date:       time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC),
	}
}

func reservation(id int64, total string) ledger.Reservation {
	return ledger.Reservation{
		ReservationID: id,
		ReservationNo: fmt.Sprintf("RES-%d", id),
		CustomerID:    77,
		HotelID:       1,
		Currency:      "SAR",
		Total:         dec(total),
		Date:          time.Date(2026, time.March, 11, 14, 0, 0, 0, time.UTC),
	}
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// requireInvariant checks balance == total_credit - total_debit and that
// the header matches the sum over the rows.
func requireInvariant(t *testing.T, store *sqlite.Store, a *ledger.Account) {
	t.Helper()
	require.True(t, a.Balance.Equal(a.TotalCredit.Sub(a.TotalDebit)),
		"balance %s != credit %s - debit %s", a.Balance, a.TotalCredit, a.TotalDebit)

	rows, err := store.TransactionsByAccount(context.Background(), a.ID)
	require.NoError(t, err)
	sum := decimal.Zero
	for _, row := range rows {
		sum = sum.Add(row.Signed())
	}
	require.True(t, a.Balance.Equal(sum), "balance %s != row sum %s", a.Balance, sum)
}

// =============================================================================
// RECEIPT SYNC
// =============================================================================

func TestSyncReceipt_FirstPosting(t *testing.T) {
	// GIVEN: A fresh customer with no account
	// WHEN: A 250 SAR receipt is synced
	// THEN: The account is created and credited exactly once

	rec, store := newTestReconciler(t)
	ctx := context.Background()

	res, err := rec.SyncReceipt(ctx, receipt(10, "250.00"), 1)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	require.NotNil(t, res.Transaction)

	assert.True(t, res.Account.Balance.Equal(dec("250")))
	assert.True(t, res.Account.TotalCredit.Equal(dec("250")))
	assert.True(t, res.Account.TotalDebit.IsZero())
	assert.Equal(t, ledger.TxReceipt, res.Transaction.Type)
	assert.True(t, res.Transaction.BalanceAfter.Equal(dec("250")))
	requireInvariant(t, store, res.Account)
}

func TestSyncReceipt_ReplaySameEditSeq_NoOp(t *testing.T) {
	// GIVEN: A receipt already posted at edit sequence 1
	// WHEN: The same sync is replayed
	// THEN: No new row, no balance change

	rec, store := newTestReconciler(t)
	ctx := context.Background()

	first, err := rec.SyncReceipt(ctx, receipt(10, "250.00"), 1)
	require.NoError(t, err)
	require.True(t, first.Applied)

	replay, err := rec.SyncReceipt(ctx, receipt(10, "250.00"), 1)
	require.NoError(t, err)
	assert.False(t, replay.Applied)
	assert.True(t, replay.Account.Balance.Equal(dec("250")))

	rows, err := store.TransactionsByAccount(ctx, first.Account.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 1, "replay must not append a second row")
}

func TestSyncReceipt_ReplayWithDifferentAmount_Conflict(t *testing.T) {
	// GIVEN: A receipt posted at edit sequence 1 for 250
	// WHEN: The same key is replayed claiming 999
	// THEN: Permanent conflict, never a silent merge

	rec, _ := newTestReconciler(t)
	ctx := context.Background()

	_, err := rec.SyncReceipt(ctx, receipt(10, "250.00"), 1)
	require.NoError(t, err)

	_, err = rec.SyncReceipt(ctx, receipt(10, "999.00"), 1)
	require.Error(t, err)
	assert.True(t, ledger.IsConflict(err))
	assert.True(t, ledger.IsClientError(err))
	assert.False(t, ledger.IsRetryable(err))
}

func TestSyncReceipt_FirstPostingPersistsAccount(t *testing.T) {
	// GIVEN: A fresh customer whose account does not exist yet
	// WHEN: The first receipt is synced
	// THEN: The account header is committed alongside the row; the row's
	//       account reference resolves after the transaction

	rec, store := newTestReconciler(t)
	ctx := context.Background()

	res, err := rec.SyncReceipt(ctx, receipt(10, "250.00"), 1)
	require.NoError(t, err)
	require.True(t, res.Applied)

	stored, err := store.GetAccount(ctx, 77, 1, "SAR")
	require.NoError(t, err)
	assert.Equal(t, res.Account.ID, stored.ID)
	assert.True(t, stored.Balance.Equal(dec("250")))

	rows, err := store.TransactionsByAccount(ctx, stored.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, stored.ID, rows[0].AccountID)
}

func TestSyncReceipt_ReplayWithDifferentCurrency_Mismatch(t *testing.T) {
	// GIVEN: A receipt posted in SAR
	// WHEN: The same key is replayed claiming USD
	// THEN: Currency mismatch, a permanent client fault

	rec, _ := newTestReconciler(t)
	ctx := context.Background()

	_, err := rec.SyncReceipt(ctx, receipt(10, "250.00"), 1)
	require.NoError(t, err)

	usd := receipt(10, "250.00")
	usd.Currency = "USD"
	_, err = rec.SyncReceipt(ctx, usd, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrCurrencyMismatch)
	assert.True(t, ledger.IsClientError(err))
	assert.False(t, ledger.IsRetryable(err))
}

func TestSyncReceipt_EditPostsDeltaOnly(t *testing.T) {
	// GIVEN: A receipt posted for 250 at edit sequence 1
	// WHEN: Edit sequence 2 arrives with the total changed to 300
	// THEN: A 50 adjustment row is appended; balance reflects the edit once

	rec, store := newTestReconciler(t)
	ctx := context.Background()

	_, err := rec.SyncReceipt(ctx, receipt(10, "250.00"), 1)
	require.NoError(t, err)

	edited, err := rec.SyncReceipt(ctx, receipt(10, "300.00"), 2)
	require.NoError(t, err)
	require.True(t, edited.Applied)

	assert.True(t, edited.Account.Balance.Equal(dec("300")))
	assert.Equal(t, ledger.TxAdjustment, edited.Transaction.Type)
	assert.True(t, edited.Transaction.Credit.Equal(dec("50")))
	requireInvariant(t, store, edited.Account)

	// Edit downward: 300 -> 120 posts a 180 debit adjustment.
	reduced, err := rec.SyncReceipt(ctx, receipt(10, "120.00"), 3)
	require.NoError(t, err)
	assert.True(t, reduced.Account.Balance.Equal(dec("120")))
	assert.True(t, reduced.Transaction.Debit.Equal(dec("180")))
	requireInvariant(t, store, reduced.Account)
}

func TestSyncReceipt_EditBackToSameTotal_NoOp(t *testing.T) {
	rec, _ := newTestReconciler(t)
	ctx := context.Background()

	_, err := rec.SyncReceipt(ctx, receipt(10, "250.00"), 1)
	require.NoError(t, err)

	// A new edit sequence that does not change the total posts nothing.
	res, err := rec.SyncReceipt(ctx, receipt(10, "250.00"), 2)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Nil(t, res.Transaction)
}

func TestSyncReceipt_RefundVoucherDebits(t *testing.T) {
	// GIVEN: A customer holding 500 in credit
	// WHEN: A 200 refund receipt is synced
	// THEN: The balance drops to 300

	rec, store := newTestReconciler(t)
	ctx := context.Background()

	_, err := rec.SyncReceipt(ctx, receipt(10, "500.00"), 1)
	require.NoError(t, err)

	refund := receipt(11, "200.00")
	refund.VoucherCode = "refund"
	res, err := rec.SyncReceipt(ctx, refund, 1)
	require.NoError(t, err)

	assert.True(t, res.Account.Balance.Equal(dec("300")))
	assert.Equal(t, ledger.TxRefund, res.Transaction.Type)
	assert.True(t, res.Transaction.Debit.Equal(dec("200")))
	requireInvariant(t, store, res.Account)
}

func TestSyncReceipt_NoCustomer_Skipped(t *testing.T) {
	rec, _ := newTestReconciler(t)

	r := receipt(10, "250.00")
	r.CustomerID = 0
	res, err := rec.SyncReceipt(context.Background(), r, 1)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Nil(t, res.Account)
}

func TestSyncReceipt_InvalidDocument_Rejected(t *testing.T) {
	rec, _ := newTestReconciler(t)
	ctx := context.Background()

	neg := receipt(10, "250.00")
	neg.Amount = dec("-5")
	_, err := rec.SyncReceipt(ctx, neg, 1)
	assert.ErrorIs(t, err, ledger.ErrInvalidDocument)

	noID := receipt(0, "250.00")
	_, err = rec.SyncReceipt(ctx, noID, 1)
	assert.ErrorIs(t, err, ledger.ErrInvalidDocument)

	badKind := receipt(10, "250.00")
	badKind.Kind = "Voucher"
	_, err = rec.SyncReceipt(ctx, badKind, 1)
	assert.ErrorIs(t, err, ledger.ErrInvalidDocument)
}

func TestSyncReceipt_SuspendedAccount_Rejected(t *testing.T) {
	// GIVEN: An account an operator has suspended
	// WHEN: A new receipt arrives for it
	// THEN: The posting is refused as a client error

	rec, store := newTestReconciler(t)
	ctx := context.Background()

	first, err := rec.SyncReceipt(ctx, receipt(10, "250.00"), 1)
	require.NoError(t, err)

	acct := first.Account
	acct.Status = ledger.AccountSuspended
	require.NoError(t, store.SaveAccount(ctx, acct))

	_, err = rec.SyncReceipt(ctx, receipt(11, "100.00"), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrAccountNotPostable)
	assert.True(t, ledger.IsClientError(err))
}

// =============================================================================
// RECEIPT CANCELLATION
// =============================================================================

func TestCancelReceipt_ReversesNetEffect(t *testing.T) {
	// GIVEN: A receipt posted for 250
	// WHEN: It is cancelled
	// THEN: A reversal row zeroes the receipt's net effect; history is kept

	rec, store := newTestReconciler(t)
	ctx := context.Background()

	first, err := rec.SyncReceipt(ctx, receipt(10, "250.00"), 1)
	require.NoError(t, err)

	cancelled, err := rec.CancelReceipt(ctx, receipt(10, "250.00"), 2)
	require.NoError(t, err)
	require.True(t, cancelled.Applied)

	assert.True(t, cancelled.Account.Balance.IsZero())
	assert.Equal(t, ledger.TxReversal, cancelled.Transaction.Type)
	assert.True(t, cancelled.Transaction.Debit.Equal(dec("250")))

	rows, err := store.TransactionsByAccount(ctx, first.Account.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 2, "cancellation appends, never deletes")
	requireInvariant(t, store, cancelled.Account)
}

func TestCancelReceipt_Idempotent(t *testing.T) {
	// GIVEN: A receipt already cancelled
	// WHEN: The cancel is replayed, even at a later edit sequence
	// THEN: No further rows are appended

	rec, store := newTestReconciler(t)
	ctx := context.Background()

	first, err := rec.SyncReceipt(ctx, receipt(10, "250.00"), 1)
	require.NoError(t, err)

	_, err = rec.CancelReceipt(ctx, receipt(10, "250.00"), 2)
	require.NoError(t, err)

	replay, err := rec.CancelReceipt(ctx, receipt(10, "250.00"), 2)
	require.NoError(t, err)
	assert.False(t, replay.Applied)

	later, err := rec.CancelReceipt(ctx, receipt(10, "250.00"), 3)
	require.NoError(t, err)
	assert.False(t, later.Applied)

	rows, err := store.TransactionsByAccount(ctx, first.Account.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestCancelReceipt_NeverPosted_NoOp(t *testing.T) {
	rec, _ := newTestReconciler(t)

	res, err := rec.CancelReceipt(context.Background(), receipt(404, "250.00"), 1)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Nil(t, res.Transaction)
}

// =============================================================================
// RESERVATION CHARGES
// =============================================================================

func TestSyncReservation_ChargesDebit(t *testing.T) {
	rec, store := newTestReconciler(t)
	ctx := context.Background()

	res, err := rec.SyncReservation(ctx, reservation(500, "300.00"), 1)
	require.NoError(t, err)

	assert.True(t, res.Account.Balance.Equal(dec("-300")))
	assert.Equal(t, ledger.TxReservationCharge, res.Transaction.Type)
	assert.True(t, res.Transaction.Debit.Equal(dec("300")))
	requireInvariant(t, store, res.Account)
}

func TestSyncReservation_TotalEditPostsDelta(t *testing.T) {
	// GIVEN: A reservation charged at 300
	// WHEN: The total is edited to 450 and later back to 300
	// THEN: Only the increments move the balance

	rec, store := newTestReconciler(t)
	ctx := context.Background()

	_, err := rec.SyncReservation(ctx, reservation(500, "300.00"), 1)
	require.NoError(t, err)

	up, err := rec.SyncReservation(ctx, reservation(500, "450.00"), 2)
	require.NoError(t, err)
	assert.True(t, up.Account.Balance.Equal(dec("-450")))
	assert.True(t, up.Transaction.Debit.Equal(dec("150")))

	down, err := rec.SyncReservation(ctx, reservation(500, "300.00"), 3)
	require.NoError(t, err)
	assert.True(t, down.Account.Balance.Equal(dec("-300")))
	assert.True(t, down.Transaction.Credit.Equal(dec("150")))
	requireInvariant(t, store, down.Account)
}

func TestCancelReservation_Reverses(t *testing.T) {
	rec, store := newTestReconciler(t)
	ctx := context.Background()

	_, err := rec.SyncReservation(ctx, reservation(500, "300.00"), 1)
	require.NoError(t, err)

	res, err := rec.CancelReservation(ctx, reservation(500, "300.00"), 2)
	require.NoError(t, err)
	assert.True(t, res.Account.Balance.IsZero())
	assert.True(t, res.Transaction.Credit.Equal(dec("300")))
	requireInvariant(t, store, res.Account)
}

// =============================================================================
// MIXED SCENARIO
// =============================================================================

func TestLedger_ReceiptThenChargeThenCancellation(t *testing.T) {
	// GIVEN: A guest pays 500, then a 300 reservation charge posts
	// WHEN: The receipt is cancelled
	// THEN: Only the charge remains; every step keeps the invariant

	rec, store := newTestReconciler(t)
	ctx := context.Background()

	paid, err := rec.SyncReceipt(ctx, receipt(10, "500.00"), 1)
	require.NoError(t, err)
	assert.True(t, paid.Account.Balance.Equal(dec("500")))

	charged, err := rec.SyncReservation(ctx, reservation(500, "300.00"), 1)
	require.NoError(t, err)
	assert.True(t, charged.Account.Balance.Equal(dec("200")))
	requireInvariant(t, store, charged.Account)

	cancelled, err := rec.CancelReceipt(ctx, receipt(10, "500.00"), 2)
	require.NoError(t, err)
	assert.True(t, cancelled.Account.Balance.Equal(dec("-300")))
	requireInvariant(t, store, cancelled.Account)

	rows, err := store.TransactionsByAccount(ctx, cancelled.Account.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	// Balance-after snapshots replay the history.
	assert.True(t, rows[0].BalanceAfter.Equal(dec("500")))
	assert.True(t, rows[1].BalanceAfter.Equal(dec("200")))
	assert.True(t, rows[2].BalanceAfter.Equal(dec("-300")))
}

func TestLedger_CurrencySeparation(t *testing.T) {
	// Accounts are keyed per currency; documents in different currencies
	// never share a balance.

	rec, _ := newTestReconciler(t)
	ctx := context.Background()

	sar := receipt(10, "100.00")
	_, err := rec.SyncReceipt(ctx, sar, 1)
	require.NoError(t, err)

	usd := receipt(11, "40.00")
	usd.Currency = "USD"
	_, err = rec.SyncReceipt(ctx, usd, 1)
	require.NoError(t, err)

	sarAcct, err := rec.Balance(ctx, 77, 1, "SAR")
	require.NoError(t, err)
	usdAcct, err := rec.Balance(ctx, 77, 1, "USD")
	require.NoError(t, err)

	assert.True(t, sarAcct.Balance.Equal(dec("100")))
	assert.True(t, usdAcct.Balance.Equal(dec("40")))
	assert.NotEqual(t, sarAcct.ID, usdAcct.ID)
}

// =============================================================================
// READS AND REBUILD
// =============================================================================

func TestBalance_UnknownAccount_Zero(t *testing.T) {
	rec, _ := newTestReconciler(t)

	acct, err := rec.Balance(context.Background(), 999, 1, "SAR")
	require.NoError(t, err)
	assert.True(t, acct.Balance.IsZero())
	assert.Empty(t, acct.ID, "reads must not persist an account")
}

func TestTransactions_UnknownAccount_Empty(t *testing.T) {
	rec, _ := newTestReconciler(t)

	txs, err := rec.Transactions(context.Background(), 999, 1, "SAR")
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestRebuild_RepairsDriftedHeader(t *testing.T) {
	// GIVEN: An account header corrupted away from its rows
	// WHEN: Rebuild runs
	// THEN: Balance, credit and debit are re-derived from the log

	rec, store := newTestReconciler(t)
	ctx := context.Background()

	first, err := rec.SyncReceipt(ctx, receipt(10, "500.00"), 1)
	require.NoError(t, err)
	_, err = rec.SyncReservation(ctx, reservation(500, "300.00"), 1)
	require.NoError(t, err)

	// Corrupt the cached aggregates.
	broken := first.Account
	broken.Balance = dec("9999")
	broken.TotalCredit = dec("1")
	broken.TotalDebit = dec("2")
	require.NoError(t, store.SaveAccount(ctx, broken))

	rebuilt, err := rec.Rebuild(ctx, broken.ID)
	require.NoError(t, err)
	assert.True(t, rebuilt.Balance.Equal(dec("200")))
	assert.True(t, rebuilt.TotalCredit.Equal(dec("500")))
	assert.True(t, rebuilt.TotalDebit.Equal(dec("300")))
	requireInvariant(t, store, rebuilt)
}

func TestRebuild_UnknownAccount(t *testing.T) {
	rec, _ := newTestReconciler(t)

	_, err := rec.Rebuild(context.Background(), "nope")
	assert.True(t, ledger.IsNotFound(err))
}
