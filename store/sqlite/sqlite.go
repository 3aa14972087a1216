/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements ledger.TxStore and queue.Store using SQLite. Suited to
  single-node deployments; multi-node installations use store/postgres,
  which implements the same interfaces.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on customer_transactions
  - Corrections land as adjustment/reversal rows only
  - The idempotency_key unique index is the last line of defense against
    double-posting under races

KEY TABLES:
  customer_accounts:     Cached per customer/hotel/currency aggregates
  customer_transactions: Immutable ledger rows
  partner_request_queue: Durable partner work items
  partner_request_log:   Append-only processing audit trail
  hotel_tenants:         Per-hotel queue configuration

CLAIM DISCIPLINE:
  ClaimDue selects due candidates and flips each one Processing with a
  conditional UPDATE that re-checks the claimable status; a row whose
  UPDATE affects nothing was taken by a rival worker and is skipped.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety within the process and WAL mode for
  better on-disk concurrency. Reads inside WithTx go through the SQL
  transaction, never back through the mutex.

USAGE:
  store, err := sqlite.New("./data/finance.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go, queue/store.go: Interface definitions
  - store/memory: In-memory implementation for testing
  - store/postgres: PostgreSQL implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/atlaspms/finance-core/ledger"
	"github.com/atlaspms/finance-core/queue"
)

// Store implements ledger.TxStore and queue.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: SQLite serializes writers anyway, and a ":memory:"
	// database exists per connection.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Per customer/hotel/currency account headers (cached aggregates)
	CREATE TABLE IF NOT EXISTS customer_accounts (
		id TEXT PRIMARY KEY,
		customer_id INTEGER NOT NULL,
		hotel_id INTEGER NOT NULL,
		currency TEXT NOT NULL,
		balance TEXT NOT NULL,
		total_credit TEXT NOT NULL,
		total_debit TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		last_transaction_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(customer_id, hotel_id, currency)
	);

	-- Immutable ledger rows (append-only)
	CREATE TABLE IF NOT EXISTS customer_transactions (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES customer_accounts(id),
		customer_id INTEGER NOT NULL,
		hotel_id INTEGER NOT NULL,
		source_kind TEXT NOT NULL,
		source_id INTEGER NOT NULL,
		source_no TEXT,
		edit_seq INTEGER NOT NULL DEFAULT 0,
		idempotency_key TEXT NOT NULL UNIQUE,
		fingerprint TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		credit TEXT NOT NULL,
		debit TEXT NOT NULL,
		balance_after TEXT NOT NULL,
		currency TEXT NOT NULL,
		description TEXT,
		payment_method TEXT,
		related_invoice_id INTEGER DEFAULT 0,
		effective_at TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_account
		ON customer_transactions(account_id, created_at);
	-- Hot path: net-per-source computation on every posting
	CREATE INDEX IF NOT EXISTS idx_transactions_source
		ON customer_transactions(account_id, source_kind, source_id);

	-- Durable partner work items
	CREATE TABLE IF NOT EXISTS partner_request_queue (
		queue_id TEXT PRIMARY KEY,
		request_ref TEXT NOT NULL UNIQUE,
		partner TEXT NOT NULL,
		operation TEXT NOT NULL,
		hotel_id INTEGER NOT NULL,
		target_id INTEGER NOT NULL DEFAULT 0,
		payload_type TEXT,
		payload_json TEXT,
		operation_key TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL DEFAULT 'Queued',
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		next_attempt_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Hot path: claiming due work per tenant
	CREATE INDEX IF NOT EXISTS idx_queue_claim
		ON partner_request_queue(hotel_id, status, next_attempt_at);

	-- Append-only processing audit trail
	CREATE TABLE IF NOT EXISTS partner_request_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_ref TEXT NOT NULL,
		partner TEXT NOT NULL,
		operation TEXT NOT NULL,
		hotel_id INTEGER NOT NULL,
		status TEXT NOT NULL,
		message TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_log_hotel
		ON partner_request_log(hotel_id, created_at DESC);

	-- Per-hotel queue configuration
	CREATE TABLE IF NOT EXISTS hotel_tenants (
		hotel_id INTEGER PRIMARY KEY,
		code TEXT NOT NULL DEFAULT '',
		queue_enabled INTEGER NOT NULL DEFAULT 1,
		worker_enabled INTEGER NOT NULL DEFAULT 1,
		poll_interval_seconds INTEGER NOT NULL DEFAULT 0,
		batch_size INTEGER NOT NULL DEFAULT 0
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// timeLayout is a fixed-width RFC 3339 form. Timestamps are stored as TEXT
// and compared lexicographically in SQL, so every fractional part must
// print with the same number of digits.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// dbtx is satisfied by both *sql.DB and *sql.Tx so the query helpers can
// serve the plain store and the transactional view alike.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// LEDGER STORE (ledger.Store interface)
// =============================================================================

const accountColumns = `id, customer_id, hotel_id, currency, balance, total_credit, total_debit,
       status, last_transaction_at, created_at, updated_at`

func (s *Store) GetAccount(ctx context.Context, customerID, hotelID int64, currency string) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAccount(ctx, s.db, customerID, hotelID, currency)
}

func getAccount(ctx context.Context, db dbtx, customerID, hotelID int64, currency string) (*ledger.Account, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM customer_accounts
		WHERE customer_id = ? AND hotel_id = ? AND currency = ?
	`, customerID, hotelID, currency)
	return scanAccount(row)
}

func (s *Store) GetAccountByID(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAccountByID(ctx, s.db, id)
}

func getAccountByID(ctx context.Context, db dbtx, id ledger.AccountID) (*ledger.Account, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM customer_accounts
		WHERE id = ?
	`, string(id))
	return scanAccount(row)
}

func (s *Store) SaveAccount(ctx context.Context, a *ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveAccount(ctx, s.db, a)
}

func saveAccount(ctx context.Context, db dbtx, a *ledger.Account) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO customer_accounts
		(id, customer_id, hotel_id, currency, balance, total_credit, total_debit,
		 status, last_transaction_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			balance = excluded.balance,
			total_credit = excluded.total_credit,
			total_debit = excluded.total_debit,
			status = excluded.status,
			last_transaction_at = excluded.last_transaction_at,
			updated_at = excluded.updated_at
	`,
		string(a.ID),
		a.CustomerID,
		a.HotelID,
		a.Currency,
		a.Balance.String(),
		a.TotalCredit.String(),
		a.TotalDebit.String(),
		string(a.Status),
		nullTime(a.LastTxAt),
		a.CreatedAt.UTC().Format(timeLayout),
		a.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

func (s *Store) AppendTransaction(ctx context.Context, t *ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendTransaction(ctx, s.db, t)
}

func appendTransaction(ctx context.Context, db dbtx, t *ledger.Transaction) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO customer_transactions
		(id, account_id, customer_id, hotel_id, source_kind, source_id, source_no,
		 edit_seq, idempotency_key, fingerprint, tx_type, status, credit, debit,
		 balance_after, currency, description, payment_method, related_invoice_id,
		 effective_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		string(t.ID),
		string(t.AccountID),
		t.CustomerID,
		t.HotelID,
		string(t.SourceKind),
		t.SourceID,
		t.SourceNo,
		t.EditSeq,
		t.IdempotencyKey,
		t.Fingerprint,
		string(t.Type),
		string(t.Status),
		t.Credit.String(),
		t.Debit.String(),
		t.BalanceAfter.String(),
		t.Currency,
		t.Description,
		t.PaymentMethod,
		t.RelatedInvoiceID,
		t.EffectiveAt.UTC().Format(timeLayout),
		t.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

const transactionColumns = `id, account_id, customer_id, hotel_id, source_kind, source_id, source_no,
       edit_seq, idempotency_key, fingerprint, tx_type, status, credit, debit,
       balance_after, currency, description, payment_method, related_invoice_id,
       effective_at, created_at`

func (s *Store) TransactionByKey(ctx context.Context, key string) (*ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return transactionByKey(ctx, s.db, key)
}

func transactionByKey(ctx context.Context, db dbtx, key string) (*ledger.Transaction, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM customer_transactions
		WHERE idempotency_key = ?
	`, key)
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

func (s *Store) TransactionsByAccount(ctx context.Context, id ledger.AccountID) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return transactionsByAccount(ctx, s.db, id)
}

func transactionsByAccount(ctx context.Context, db dbtx, id ledger.AccountID) ([]ledger.Transaction, error) {
	return queryTransactions(ctx, db, `
		SELECT `+transactionColumns+`
		FROM customer_transactions
		WHERE account_id = ?
		ORDER BY created_at ASC, id ASC
	`, string(id))
}

func (s *Store) TransactionsBySource(ctx context.Context, accountID ledger.AccountID, kind ledger.SourceKind, sourceID int64) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return transactionsBySource(ctx, s.db, accountID, kind, sourceID)
}

func transactionsBySource(ctx context.Context, db dbtx, accountID ledger.AccountID, kind ledger.SourceKind, sourceID int64) ([]ledger.Transaction, error) {
	return queryTransactions(ctx, db, `
		SELECT `+transactionColumns+`
		FROM customer_transactions
		WHERE account_id = ? AND source_kind = ? AND source_id = ?
		ORDER BY created_at ASC, id ASC
	`, string(accountID), string(kind), sourceID)
}

func queryTransactions(ctx context.Context, db dbtx, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []ledger.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction. The view
// handed to fn queries through the transaction, so it observes its own
// uncommitted writes.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetAccount(ctx context.Context, customerID, hotelID int64, currency string) (*ledger.Account, error) {
	return getAccount(ctx, ts.tx, customerID, hotelID, currency)
}

func (ts *txStore) GetAccountByID(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	return getAccountByID(ctx, ts.tx, id)
}

func (ts *txStore) SaveAccount(ctx context.Context, a *ledger.Account) error {
	return saveAccount(ctx, ts.tx, a)
}

func (ts *txStore) AppendTransaction(ctx context.Context, t *ledger.Transaction) error {
	return appendTransaction(ctx, ts.tx, t)
}

func (ts *txStore) TransactionByKey(ctx context.Context, key string) (*ledger.Transaction, error) {
	return transactionByKey(ctx, ts.tx, key)
}

func (ts *txStore) TransactionsByAccount(ctx context.Context, id ledger.AccountID) ([]ledger.Transaction, error) {
	return transactionsByAccount(ctx, ts.tx, id)
}

func (ts *txStore) TransactionsBySource(ctx context.Context, accountID ledger.AccountID, kind ledger.SourceKind, sourceID int64) ([]ledger.Transaction, error) {
	return transactionsBySource(ctx, ts.tx, accountID, kind, sourceID)
}

// =============================================================================
// QUEUE STORE (queue.Store interface)
// =============================================================================

const itemColumns = `queue_id, request_ref, partner, operation, hotel_id, target_id,
       payload_type, payload_json, operation_key, status, attempts, last_error,
       next_attempt_at, created_at, updated_at`

func (s *Store) InsertItem(ctx context.Context, item *queue.Item) (*queue.Item, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO partner_request_queue
		(queue_id, request_ref, partner, operation, hotel_id, target_id,
		 payload_type, payload_json, operation_key, status, attempts, last_error,
		 next_attempt_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		item.QueueID,
		item.RequestRef,
		item.Partner,
		item.Operation,
		item.HotelID,
		item.TargetID,
		item.PayloadType,
		string(item.Payload),
		item.OperationKey,
		string(item.Status),
		item.Attempts,
		item.LastError,
		nullTime(item.NextAttemptAt),
		item.CreatedAt.UTC().Format(timeLayout),
		item.UpdatedAt.UTC().Format(timeLayout),
	)
	if err == nil {
		stored := *item
		return &stored, true, nil
	}
	if !isUniqueConstraintError(err) {
		return nil, false, fmt.Errorf("failed to insert queue item: %w", err)
	}

	// Raced or replayed: hand back whichever item won the insert.
	existing, qErr := itemByOperationKey(ctx, s.db, item.OperationKey)
	if qErr != nil {
		return nil, false, qErr
	}
	if existing == nil {
		return nil, false, fmt.Errorf("failed to insert queue item: %w", err)
	}
	return existing, false, nil
}

func itemByOperationKey(ctx context.Context, db dbtx, key string) (*queue.Item, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+itemColumns+`
		FROM partner_request_queue
		WHERE operation_key = ?
	`, key)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return item, err
}

func (s *Store) GetItem(ctx context.Context, queueID string) (*queue.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT `+itemColumns+`
		FROM partner_request_queue
		WHERE queue_id = ?
	`, queueID)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, queue.ErrItemNotFound
	}
	return item, err
}

func (s *Store) ItemByRequestRef(ctx context.Context, requestRef string) (*queue.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT `+itemColumns+`
		FROM partner_request_queue
		WHERE request_ref = ?
	`, requestRef)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return item, err
}

// ClaimDue selects due candidates longest-due first (retries by their
// scheduled attempt time, fresh items by creation time), then flips each
// one to Processing with a status-guarded UPDATE. A candidate whose UPDATE
// hits no row lost the race to another claimer and is skipped.
func (s *Store) ClaimDue(ctx context.Context, hotelID int64, now time.Time, limit int) ([]queue.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nowStr := now.UTC().Format(timeLayout)
	rows, err := s.db.QueryContext(ctx, `
		SELECT queue_id
		FROM partner_request_queue
		WHERE hotel_id = ?
		  AND status IN ('Queued', 'Retrying')
		  AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		ORDER BY COALESCE(next_attempt_at, created_at) ASC, queue_id ASC
		LIMIT ?
	`, hotelID, nowStr, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select due items: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var claimed []queue.Item
	for _, id := range ids {
		res, err := s.db.ExecContext(ctx, `
			UPDATE partner_request_queue
			SET status = 'Processing', updated_at = ?
			WHERE queue_id = ? AND status IN ('Queued', 'Retrying')
		`, nowStr, id)
		if err != nil {
			return claimed, fmt.Errorf("failed to claim item %s: %w", id, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return claimed, err
		}
		if affected == 0 {
			continue
		}
		row := s.db.QueryRowContext(ctx, `
			SELECT `+itemColumns+`
			FROM partner_request_queue
			WHERE queue_id = ?
		`, id)
		item, err := scanItem(row)
		if err != nil {
			return claimed, err
		}
		claimed = append(claimed, *item)
	}
	return claimed, nil
}

func (s *Store) MarkSucceeded(ctx context.Context, queueID string, now time.Time) error {
	return s.execItemUpdate(ctx, `
		UPDATE partner_request_queue
		SET status = 'Succeeded', last_error = '', next_attempt_at = NULL, updated_at = ?
		WHERE queue_id = ?
	`, now.UTC().Format(timeLayout), queueID)
}

func (s *Store) MarkRetrying(ctx context.Context, queueID string, attempts int, lastError string, nextAttemptAt, now time.Time) error {
	return s.execItemUpdate(ctx, `
		UPDATE partner_request_queue
		SET status = 'Retrying', attempts = ?, last_error = ?, next_attempt_at = ?, updated_at = ?
		WHERE queue_id = ?
	`, attempts, lastError, nextAttemptAt.UTC().Format(timeLayout), now.UTC().Format(timeLayout), queueID)
}

func (s *Store) MarkFailed(ctx context.Context, queueID string, attempts int, lastError string, now time.Time) error {
	return s.execItemUpdate(ctx, `
		UPDATE partner_request_queue
		SET status = 'Failed', attempts = ?, last_error = ?, next_attempt_at = NULL, updated_at = ?
		WHERE queue_id = ?
	`, attempts, lastError, now.UTC().Format(timeLayout), queueID)
}

func (s *Store) execItemUpdate(ctx context.Context, query string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update queue item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return queue.ErrItemNotFound
	}
	return nil
}

func (s *Store) ReleaseStale(ctx context.Context, hotelID int64, cutoff, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE partner_request_queue
		SET status = 'Queued', updated_at = ?
		WHERE hotel_id = ? AND status = 'Processing' AND updated_at < ?
	`, now.UTC().Format(timeLayout), hotelID, cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("failed to release stale items: %w", err)
	}
	affected, err := res.RowsAffected()
	return int(affected), err
}

func (s *Store) ItemsByStatus(ctx context.Context, hotelID int64, status queue.Status, limit int) ([]queue.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT ` + itemColumns + `
		FROM partner_request_queue
		WHERE hotel_id = ?
	`
	args := []any{hotelID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue items: %w", err)
	}
	defer rows.Close()

	var out []queue.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *item)
	}
	return out, rows.Err()
}

func (s *Store) AppendLog(ctx context.Context, entry *queue.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO partner_request_log
		(request_ref, partner, operation, hotel_id, status, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		entry.RequestRef,
		entry.Partner,
		entry.Operation,
		entry.HotelID,
		string(entry.Status),
		entry.Message,
		entry.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to append log entry: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

func (s *Store) Logs(ctx context.Context, hotelID int64, limit int) ([]queue.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, request_ref, partner, operation, hotel_id, status, message, created_at
		FROM partner_request_log
		WHERE hotel_id = ?
		ORDER BY created_at DESC, id DESC
	`
	args := []any{hotelID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query log: %w", err)
	}
	defer rows.Close()

	var out []queue.LogEntry
	for rows.Next() {
		var e queue.LogEntry
		var status, createdAt string
		var message sql.NullString
		if err := rows.Scan(&e.ID, &e.RequestRef, &e.Partner, &e.Operation, &e.HotelID, &status, &message, &createdAt); err != nil {
			return nil, err
		}
		e.Status = queue.Status(status)
		e.Message = message.String
		e.CreatedAt = parseTime(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) Tenants(ctx context.Context) ([]queue.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT hotel_id, code, queue_enabled, worker_enabled, poll_interval_seconds, batch_size
		FROM hotel_tenants
		ORDER BY hotel_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tenants: %w", err)
	}
	defer rows.Close()

	var out []queue.Tenant
	for rows.Next() {
		var t queue.Tenant
		var intervalSec int64
		if err := rows.Scan(&t.HotelID, &t.Code, &t.QueueEnabled, &t.WorkerEnabled, &intervalSec, &t.BatchSize); err != nil {
			return nil, err
		}
		t.PollInterval = time.Duration(intervalSec) * time.Second
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) SaveTenant(ctx context.Context, t *queue.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO hotel_tenants
		(hotel_id, code, queue_enabled, worker_enabled, poll_interval_seconds, batch_size)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(hotel_id) DO UPDATE SET
			code = excluded.code,
			queue_enabled = excluded.queue_enabled,
			worker_enabled = excluded.worker_enabled,
			poll_interval_seconds = excluded.poll_interval_seconds,
			batch_size = excluded.batch_size
	`,
		t.HotelID,
		t.Code,
		t.QueueEnabled,
		t.WorkerEnabled,
		int64(t.PollInterval/time.Second),
		t.BatchSize,
	)
	if err != nil {
		return fmt.Errorf("failed to save tenant: %w", err)
	}
	return nil
}

// =============================================================================
// SCANNING
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*ledger.Account, error) {
	var a ledger.Account
	var balance, credit, debit, status, createdAt, updatedAt string
	var lastTx sql.NullString
	err := row.Scan(&a.ID, &a.CustomerID, &a.HotelID, &a.Currency, &balance, &credit, &debit,
		&status, &lastTx, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}
	a.Balance = mustDecimal(balance)
	a.TotalCredit = mustDecimal(credit)
	a.TotalDebit = mustDecimal(debit)
	a.Status = ledger.AccountStatus(status)
	if lastTx.Valid {
		t := parseTime(lastTx.String)
		a.LastTxAt = &t
	}
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return &a, nil
}

func scanTransaction(row rowScanner) (*ledger.Transaction, error) {
	var t ledger.Transaction
	var kind, txType, status, credit, debit, balanceAfter, effectiveAt, createdAt string
	var sourceNo, description, paymentMethod sql.NullString
	err := row.Scan(&t.ID, &t.AccountID, &t.CustomerID, &t.HotelID, &kind, &t.SourceID, &sourceNo,
		&t.EditSeq, &t.IdempotencyKey, &t.Fingerprint, &txType, &status, &credit, &debit,
		&balanceAfter, &t.Currency, &description, &paymentMethod, &t.RelatedInvoiceID,
		&effectiveAt, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}
	t.SourceKind = ledger.SourceKind(kind)
	t.SourceNo = sourceNo.String
	t.Type = ledger.TransactionType(txType)
	t.Status = ledger.TransactionStatus(status)
	t.Credit = mustDecimal(credit)
	t.Debit = mustDecimal(debit)
	t.BalanceAfter = mustDecimal(balanceAfter)
	t.Description = description.String
	t.PaymentMethod = paymentMethod.String
	t.EffectiveAt = parseTime(effectiveAt)
	t.CreatedAt = parseTime(createdAt)
	return &t, nil
}

func scanItem(row rowScanner) (*queue.Item, error) {
	var item queue.Item
	var status, createdAt, updatedAt string
	var payloadType, payload, lastError, nextAt sql.NullString
	err := row.Scan(&item.QueueID, &item.RequestRef, &item.Partner, &item.Operation,
		&item.HotelID, &item.TargetID, &payloadType, &payload, &item.OperationKey,
		&status, &item.Attempts, &lastError, &nextAt, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan queue item: %w", err)
	}
	item.PayloadType = payloadType.String
	if payload.Valid {
		item.Payload = []byte(payload.String)
	}
	item.Status = queue.Status(status)
	item.LastError = lastError.String
	if nextAt.Valid {
		t := parseTime(nextAt.String)
		item.NextAttemptAt = &t
	}
	item.CreatedAt = parseTime(createdAt)
	item.UpdatedAt = parseTime(updatedAt)
	return &item, nil
}

// Helper functions

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeLayout), Valid: true}
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
