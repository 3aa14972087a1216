/*
Package postgres provides a PostgreSQL-backed implementation of the
storage interfaces for multi-node deployments.

Unlike the SQLite store there is no process-level mutex: the database
does the concurrency control. Ledger transactions run at REPEATABLE READ
with the account row locked FOR UPDATE; serialization failures surface as
retryable errors and the reconciler replays them. Queue claims use
FOR UPDATE SKIP LOCKED so rival workers slide past each other instead of
blocking or double-claiming.
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlaspms/finance-core/ledger"
	"github.com/atlaspms/finance-core/queue"
)

type Store struct {
	pool *pgxpool.Pool
}

// New connects to PostgreSQL and ensures the schema exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS customer_accounts (
		id TEXT PRIMARY KEY,
		customer_id BIGINT NOT NULL,
		hotel_id BIGINT NOT NULL,
		currency TEXT NOT NULL,
		balance NUMERIC(18,4) NOT NULL,
		total_credit NUMERIC(18,4) NOT NULL,
		total_debit NUMERIC(18,4) NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		last_transaction_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE(customer_id, hotel_id, currency)
	);

	CREATE TABLE IF NOT EXISTS customer_transactions (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES customer_accounts(id),
		customer_id BIGINT NOT NULL,
		hotel_id BIGINT NOT NULL,
		source_kind TEXT NOT NULL,
		source_id BIGINT NOT NULL,
		source_no TEXT,
		edit_seq INT NOT NULL DEFAULT 0,
		idempotency_key TEXT NOT NULL UNIQUE,
		fingerprint TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		credit NUMERIC(18,4) NOT NULL,
		debit NUMERIC(18,4) NOT NULL,
		balance_after NUMERIC(18,4) NOT NULL,
		currency TEXT NOT NULL,
		description TEXT,
		payment_method TEXT,
		related_invoice_id BIGINT DEFAULT 0,
		effective_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_account
		ON customer_transactions(account_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_transactions_source
		ON customer_transactions(account_id, source_kind, source_id);

	CREATE TABLE IF NOT EXISTS partner_request_queue (
		queue_id TEXT PRIMARY KEY,
		request_ref TEXT NOT NULL UNIQUE,
		partner TEXT NOT NULL,
		operation TEXT NOT NULL,
		hotel_id BIGINT NOT NULL,
		target_id BIGINT NOT NULL DEFAULT 0,
		payload_type TEXT,
		payload_json JSONB,
		operation_key TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL DEFAULT 'Queued',
		attempts INT NOT NULL DEFAULT 0,
		last_error TEXT,
		next_attempt_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_queue_claim
		ON partner_request_queue(hotel_id, status, next_attempt_at);

	CREATE TABLE IF NOT EXISTS partner_request_log (
		id BIGSERIAL PRIMARY KEY,
		request_ref TEXT NOT NULL,
		partner TEXT NOT NULL,
		operation TEXT NOT NULL,
		hotel_id BIGINT NOT NULL,
		status TEXT NOT NULL,
		message TEXT,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_log_hotel
		ON partner_request_log(hotel_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS hotel_tenants (
		hotel_id BIGINT PRIMARY KEY,
		code TEXT NOT NULL DEFAULT '',
		queue_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		worker_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		poll_interval_seconds INT NOT NULL DEFAULT 0,
		batch_size INT NOT NULL DEFAULT 0
	);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// pgErr classifies PostgreSQL failures for the reconciler's retry loop.
type pgErr struct {
	err error
}

func (e *pgErr) Error() string { return e.err.Error() }
func (e *pgErr) Unwrap() error { return e.err }

// Retryable reports serialization failures and deadlocks.
func (e *pgErr) Retryable() bool {
	var pge *pgconn.PgError
	if errors.As(e.err, &pge) {
		return pge.Code == "40001" || pge.Code == "40P01"
	}
	return false
}

func wrapPg(err error, op string) error {
	if err == nil {
		return nil
	}
	return &pgErr{err: fmt.Errorf("%s: %w", op, err)}
}

func isUniqueViolation(err error) bool {
	var pge *pgconn.PgError
	return errors.As(err, &pge) && pge.Code == "23505"
}

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// =============================================================================
// LEDGER STORE
// =============================================================================

const accountColumns = `id, customer_id, hotel_id, currency, balance, total_credit, total_debit,
       status, last_transaction_at, created_at, updated_at`

func (s *Store) GetAccount(ctx context.Context, customerID, hotelID int64, currency string) (*ledger.Account, error) {
	return getAccount(ctx, s.pool, customerID, hotelID, currency, false)
}

func getAccount(ctx context.Context, q querier, customerID, hotelID int64, currency string, forUpdate bool) (*ledger.Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM customer_accounts
		WHERE customer_id = $1 AND hotel_id = $2 AND currency = $3
	`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	return scanAccount(q.QueryRow(ctx, query, customerID, hotelID, currency))
}

func (s *Store) GetAccountByID(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	return getAccountByID(ctx, s.pool, id, false)
}

func getAccountByID(ctx context.Context, q querier, id ledger.AccountID, forUpdate bool) (*ledger.Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM customer_accounts
		WHERE id = $1
	`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	return scanAccount(q.QueryRow(ctx, query, string(id)))
}

func (s *Store) SaveAccount(ctx context.Context, a *ledger.Account) error {
	return saveAccount(ctx, s.pool, a)
}

func saveAccount(ctx context.Context, q querier, a *ledger.Account) error {
	_, err := q.Exec(ctx, `
		INSERT INTO customer_accounts
		(id, customer_id, hotel_id, currency, balance, total_credit, total_debit,
		 status, last_transaction_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			balance = EXCLUDED.balance,
			total_credit = EXCLUDED.total_credit,
			total_debit = EXCLUDED.total_debit,
			status = EXCLUDED.status,
			last_transaction_at = EXCLUDED.last_transaction_at,
			updated_at = EXCLUDED.updated_at
	`, string(a.ID), a.CustomerID, a.HotelID, a.Currency,
		a.Balance, a.TotalCredit, a.TotalDebit,
		string(a.Status), a.LastTxAt, a.CreatedAt, a.UpdatedAt)
	return wrapPg(err, "save account")
}

func (s *Store) AppendTransaction(ctx context.Context, t *ledger.Transaction) error {
	return appendTransaction(ctx, s.pool, t)
}

func appendTransaction(ctx context.Context, q querier, t *ledger.Transaction) error {
	_, err := q.Exec(ctx, `
		INSERT INTO customer_transactions
		(id, account_id, customer_id, hotel_id, source_kind, source_id, source_no,
		 edit_seq, idempotency_key, fingerprint, tx_type, status, credit, debit,
		 balance_after, currency, description, payment_method, related_invoice_id,
		 effective_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		        $16, $17, $18, $19, $20, $21)
	`, string(t.ID), string(t.AccountID), t.CustomerID, t.HotelID,
		string(t.SourceKind), t.SourceID, t.SourceNo, t.EditSeq,
		t.IdempotencyKey, t.Fingerprint, string(t.Type), string(t.Status),
		t.Credit, t.Debit, t.BalanceAfter, t.Currency,
		t.Description, t.PaymentMethod, t.RelatedInvoiceID,
		t.EffectiveAt, t.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ledger.ErrDuplicateIdempotencyKey
		}
		return wrapPg(err, "append transaction")
	}
	return nil
}

const transactionColumns = `id, account_id, customer_id, hotel_id, source_kind, source_id, source_no,
       edit_seq, idempotency_key, fingerprint, tx_type, status, credit, debit,
       balance_after, currency, description, payment_method, related_invoice_id,
       effective_at, created_at`

func (s *Store) TransactionByKey(ctx context.Context, key string) (*ledger.Transaction, error) {
	return transactionByKey(ctx, s.pool, key)
}

func transactionByKey(ctx context.Context, q querier, key string) (*ledger.Transaction, error) {
	t, err := scanTransaction(q.QueryRow(ctx, `
		SELECT `+transactionColumns+`
		FROM customer_transactions
		WHERE idempotency_key = $1
	`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func (s *Store) TransactionsByAccount(ctx context.Context, id ledger.AccountID) ([]ledger.Transaction, error) {
	return transactionsByAccount(ctx, s.pool, id)
}

func transactionsByAccount(ctx context.Context, q querier, id ledger.AccountID) ([]ledger.Transaction, error) {
	return queryTransactions(ctx, q, `
		SELECT `+transactionColumns+`
		FROM customer_transactions
		WHERE account_id = $1
		ORDER BY created_at ASC, id ASC
	`, string(id))
}

func (s *Store) TransactionsBySource(ctx context.Context, accountID ledger.AccountID, kind ledger.SourceKind, sourceID int64) ([]ledger.Transaction, error) {
	return transactionsBySource(ctx, s.pool, accountID, kind, sourceID)
}

func transactionsBySource(ctx context.Context, q querier, accountID ledger.AccountID, kind ledger.SourceKind, sourceID int64) ([]ledger.Transaction, error) {
	return queryTransactions(ctx, q, `
		SELECT `+transactionColumns+`
		FROM customer_transactions
		WHERE account_id = $1 AND source_kind = $2 AND source_id = $3
		ORDER BY created_at ASC, id ASC
	`, string(accountID), string(kind), sourceID)
}

func queryTransactions(ctx context.Context, q querier, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapPg(err, "query transactions")
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

// WithTx runs fn at REPEATABLE READ. The account row is locked FOR UPDATE
// by the tx view's GetAccount, serializing rival postings to the same
// account; cross-transaction anomalies surface as retryable 40001s.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return wrapPg(err, "begin transaction")
	}
	defer tx.Rollback(ctx)

	if err := fn(&txStore{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapPg(err, "commit transaction")
	}
	return nil
}

type txStore struct {
	tx pgx.Tx
}

func (ts *txStore) GetAccount(ctx context.Context, customerID, hotelID int64, currency string) (*ledger.Account, error) {
	return getAccount(ctx, ts.tx, customerID, hotelID, currency, true)
}

func (ts *txStore) GetAccountByID(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	return getAccountByID(ctx, ts.tx, id, true)
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
// QUEUE STORE
// =============================================================================

const itemColumns = `queue_id, request_ref, partner, operation, hotel_id, target_id,
       payload_type, payload_json, operation_key, status, attempts, last_error,
       next_attempt_at, created_at, updated_at`

func (s *Store) InsertItem(ctx context.Context, item *queue.Item) (*queue.Item, bool, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO partner_request_queue
		(queue_id, request_ref, partner, operation, hotel_id, target_id,
		 payload_type, payload_json, operation_key, status, attempts, last_error,
		 next_attempt_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, item.QueueID, item.RequestRef, item.Partner, item.Operation,
		item.HotelID, item.TargetID, item.PayloadType, []byte(item.Payload),
		item.OperationKey, string(item.Status), item.Attempts, item.LastError,
		item.NextAttemptAt, item.CreatedAt, item.UpdatedAt)
	if err == nil {
		stored := *item
		return &stored, true, nil
	}
	if !isUniqueViolation(err) {
		return nil, false, wrapPg(err, "insert queue item")
	}

	existing, qErr := s.itemByOperationKey(ctx, item.OperationKey)
	if qErr != nil {
		return nil, false, qErr
	}
	if existing == nil {
		return nil, false, wrapPg(err, "insert queue item")
	}
	return existing, false, nil
}

func (s *Store) itemByOperationKey(ctx context.Context, key string) (*queue.Item, error) {
	item, err := scanItem(s.pool.QueryRow(ctx, `
		SELECT `+itemColumns+`
		FROM partner_request_queue
		WHERE operation_key = $1
	`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return item, err
}

func (s *Store) GetItem(ctx context.Context, queueID string) (*queue.Item, error) {
	item, err := scanItem(s.pool.QueryRow(ctx, `
		SELECT `+itemColumns+`
		FROM partner_request_queue
		WHERE queue_id = $1
	`, queueID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, queue.ErrItemNotFound
	}
	return item, err
}

func (s *Store) ItemByRequestRef(ctx context.Context, requestRef string) (*queue.Item, error) {
	item, err := scanItem(s.pool.QueryRow(ctx, `
		SELECT `+itemColumns+`
		FROM partner_request_queue
		WHERE request_ref = $1
	`, requestRef))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return item, err
}

// ClaimDue flips due items to Processing in one statement. SKIP LOCKED
// lets rival workers pass over rows another claim transaction holds, so
// no item is ever handed to two workers.
func (s *Store) ClaimDue(ctx context.Context, hotelID int64, now time.Time, limit int) ([]queue.Item, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE partner_request_queue
		SET status = 'Processing', updated_at = $1
		WHERE queue_id IN (
			SELECT queue_id
			FROM partner_request_queue
			WHERE hotel_id = $2
			  AND status IN ('Queued', 'Retrying')
			  AND (next_attempt_at IS NULL OR next_attempt_at <= $1)
			ORDER BY COALESCE(next_attempt_at, created_at) ASC, queue_id ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+itemColumns+`
	`, now.UTC(), hotelID, limit)
	if err != nil {
		return nil, wrapPg(err, "claim due items")
	}
	defer rows.Close()

	var claimed []queue.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, *item)
	}
	return claimed, rows.Err()
}

func (s *Store) MarkSucceeded(ctx context.Context, queueID string, now time.Time) error {
	return s.execItemUpdate(ctx, `
		UPDATE partner_request_queue
		SET status = 'Succeeded', last_error = '', next_attempt_at = NULL, updated_at = $1
		WHERE queue_id = $2
	`, now.UTC(), queueID)
}

func (s *Store) MarkRetrying(ctx context.Context, queueID string, attempts int, lastError string, nextAttemptAt, now time.Time) error {
	return s.execItemUpdate(ctx, `
		UPDATE partner_request_queue
		SET status = 'Retrying', attempts = $1, last_error = $2, next_attempt_at = $3, updated_at = $4
		WHERE queue_id = $5
	`, attempts, lastError, nextAttemptAt.UTC(), now.UTC(), queueID)
}

func (s *Store) MarkFailed(ctx context.Context, queueID string, attempts int, lastError string, now time.Time) error {
	return s.execItemUpdate(ctx, `
		UPDATE partner_request_queue
		SET status = 'Failed', attempts = $1, last_error = $2, next_attempt_at = NULL, updated_at = $3
		WHERE queue_id = $4
	`, attempts, lastError, now.UTC(), queueID)
}

func (s *Store) execItemUpdate(ctx context.Context, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return wrapPg(err, "update queue item")
	}
	if tag.RowsAffected() == 0 {
		return queue.ErrItemNotFound
	}
	return nil
}

func (s *Store) ReleaseStale(ctx context.Context, hotelID int64, cutoff, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE partner_request_queue
		SET status = 'Queued', updated_at = $1
		WHERE hotel_id = $2 AND status = 'Processing' AND updated_at < $3
	`, now.UTC(), hotelID, cutoff.UTC())
	if err != nil {
		return 0, wrapPg(err, "release stale items")
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) ItemsByStatus(ctx context.Context, hotelID int64, status queue.Status, limit int) ([]queue.Item, error) {
	query := `
		SELECT ` + itemColumns + `
		FROM partner_request_queue
		WHERE hotel_id = $1
	`
	args := []any{hotelID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapPg(err, "query queue items")
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
	err := s.pool.QueryRow(ctx, `
		INSERT INTO partner_request_log
		(request_ref, partner, operation, hotel_id, status, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, entry.RequestRef, entry.Partner, entry.Operation, entry.HotelID,
		string(entry.Status), entry.Message, entry.CreatedAt).Scan(&entry.ID)
	return wrapPg(err, "append log entry")
}

func (s *Store) Logs(ctx context.Context, hotelID int64, limit int) ([]queue.LogEntry, error) {
	query := `
		SELECT id, request_ref, partner, operation, hotel_id, status, message, created_at
		FROM partner_request_log
		WHERE hotel_id = $1
		ORDER BY created_at DESC, id DESC
	`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := s.pool.Query(ctx, query, hotelID)
	if err != nil {
		return nil, wrapPg(err, "query log")
	}
	defer rows.Close()

	var out []queue.LogEntry
	for rows.Next() {
		var e queue.LogEntry
		var status string
		var message *string
		if err := rows.Scan(&e.ID, &e.RequestRef, &e.Partner, &e.Operation, &e.HotelID, &status, &message, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Status = queue.Status(status)
		if message != nil {
			e.Message = *message
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) Tenants(ctx context.Context) ([]queue.Tenant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT hotel_id, code, queue_enabled, worker_enabled, poll_interval_seconds, batch_size
		FROM hotel_tenants
		ORDER BY hotel_id ASC
	`)
	if err != nil {
		return nil, wrapPg(err, "query tenants")
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
	_, err := s.pool.Exec(ctx, `
		INSERT INTO hotel_tenants
		(hotel_id, code, queue_enabled, worker_enabled, poll_interval_seconds, batch_size)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (hotel_id) DO UPDATE SET
			code = EXCLUDED.code,
			queue_enabled = EXCLUDED.queue_enabled,
			worker_enabled = EXCLUDED.worker_enabled,
			poll_interval_seconds = EXCLUDED.poll_interval_seconds,
			batch_size = EXCLUDED.batch_size
	`, t.HotelID, t.Code, t.QueueEnabled, t.WorkerEnabled,
		int64(t.PollInterval/time.Second), t.BatchSize)
	return wrapPg(err, "save tenant")
}

// =============================================================================
// SCANNING
// =============================================================================

func scanAccount(row pgx.Row) (*ledger.Account, error) {
	var a ledger.Account
	var status string
	var lastTx *time.Time
	err := row.Scan(&a.ID, &a.CustomerID, &a.HotelID, &a.Currency,
		&a.Balance, &a.TotalCredit, &a.TotalDebit,
		&status, &lastTx, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrAccountNotFound
	}
	if err != nil {
		return nil, wrapPg(err, "scan account")
	}
	a.Status = ledger.AccountStatus(status)
	a.LastTxAt = lastTx
	return &a, nil
}

func scanTransaction(row pgx.Row) (*ledger.Transaction, error) {
	var t ledger.Transaction
	var kind, txType, status string
	var sourceNo, description, paymentMethod *string
	var relatedInvoice *int64
	err := row.Scan(&t.ID, &t.AccountID, &t.CustomerID, &t.HotelID, &kind, &t.SourceID, &sourceNo,
		&t.EditSeq, &t.IdempotencyKey, &t.Fingerprint, &txType, &status, &t.Credit, &t.Debit,
		&t.BalanceAfter, &t.Currency, &description, &paymentMethod, &relatedInvoice,
		&t.EffectiveAt, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, wrapPg(err, "scan transaction")
	}
	t.SourceKind = ledger.SourceKind(kind)
	t.Type = ledger.TransactionType(txType)
	t.Status = ledger.TransactionStatus(status)
	if sourceNo != nil {
		t.SourceNo = *sourceNo
	}
	if description != nil {
		t.Description = *description
	}
	if paymentMethod != nil {
		t.PaymentMethod = *paymentMethod
	}
	if relatedInvoice != nil {
		t.RelatedInvoiceID = *relatedInvoice
	}
	return &t, nil
}

func scanItem(row pgx.Row) (*queue.Item, error) {
	var item queue.Item
	var status string
	var payloadType, lastError *string
	var payload []byte
	err := row.Scan(&item.QueueID, &item.RequestRef, &item.Partner, &item.Operation,
		&item.HotelID, &item.TargetID, &payloadType, &payload, &item.OperationKey,
		&status, &item.Attempts, &lastError, &item.NextAttemptAt,
		&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, wrapPg(err, "scan queue item")
	}
	item.Status = queue.Status(status)
	if payloadType != nil {
		item.PayloadType = *payloadType
	}
	if lastError != nil {
		item.LastError = *lastError
	}
	item.Payload = payload
	return &item, nil
}
