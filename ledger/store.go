/*
Persistence interface for the ledger.

The engine is storage-agnostic: implementations live in store/memory (tests),
store/sqlite (single-node deployments) and store/postgres (multi-node).

TRANSACTIONAL CONTRACT:
  WithTx runs fn against a Store view whose writes commit atomically iff fn
  returns nil. The reconciler performs every posting inside WithTx so the
  appended row and the updated account header can never diverge.
*/
package ledger

import "context"

// Store abstracts ledger persistence.
type Store interface {
	// GetAccount resolves the account for a customer/hotel/currency triple.
	// Returns ErrAccountNotFound when absent.
	GetAccount(ctx context.Context, customerID, hotelID int64, currency string) (*Account, error)

	// GetAccountByID fetches an account by primary key.
	GetAccountByID(ctx context.Context, id AccountID) (*Account, error)

	// SaveAccount inserts or updates an account header.
	SaveAccount(ctx context.Context, a *Account) error

	// AppendTransaction inserts a new immutable row. Returns
	// ErrDuplicateIdempotencyKey when the key already exists.
	AppendTransaction(ctx context.Context, t *Transaction) error

	// TransactionByKey fetches a row by idempotency key, nil when absent.
	TransactionByKey(ctx context.Context, key string) (*Transaction, error)

	// TransactionsByAccount lists an account's rows ordered by creation time.
	TransactionsByAccount(ctx context.Context, id AccountID) ([]Transaction, error)

	// TransactionsBySource lists the rows posted for one source document,
	// across edit sequences, ordered by creation time.
	TransactionsBySource(ctx context.Context, accountID AccountID, kind SourceKind, sourceID int64) ([]Transaction, error)
}

// TxStore is a Store whose writes can be grouped atomically.
type TxStore interface {
	Store

	// WithTx executes fn inside a transaction. The Store passed to fn sees
	// uncommitted writes; they commit when fn returns nil and roll back
	// otherwise.
	WithTx(ctx context.Context, fn func(Store) error) error
}
