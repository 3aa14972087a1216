/*
Error taxonomy for the ledger.

Errors are partitioned into retryable transients (lock contention,
serialization failures) and permanent client faults (conflicting replays,
blocked accounts, malformed documents). Callers branch on the Is* helpers
rather than string matching.
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrAccountNotFound is returned by reads that require an existing account.
	ErrAccountNotFound = errors.New("ledger: account not found")

	// ErrAccountNotPostable is returned when appending to a suspended or
	// closed account.
	ErrAccountNotPostable = errors.New("ledger: account does not accept postings")

	// ErrDuplicateIdempotencyKey is surfaced by stores when an append races
	// another append of the same key. The reconciler converts it into a
	// no-op replay.
	ErrDuplicateIdempotencyKey = errors.New("ledger: duplicate idempotency key")

	// ErrIdempotencyConflict marks a replay whose payload differs from the
	// already-recorded posting of the same key. Never retried.
	ErrIdempotencyConflict = errors.New("ledger: idempotency key reuse with mismatched payload")

	// ErrConcurrentModification marks a lost optimistic-concurrency race.
	ErrConcurrentModification = errors.New("ledger: concurrent modification")

	// ErrCurrencyMismatch is returned when a replayed document carries a
	// different currency than its recorded posting.
	ErrCurrencyMismatch = errors.New("ledger: currency mismatch")

	// ErrInvalidDocument covers structurally unusable inputs (negative
	// amounts, missing source id).
	ErrInvalidDocument = errors.New("ledger: invalid document")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// PostingError wraps a failure with the provenance of the document that
// triggered it.
type PostingError struct {
	Kind     SourceKind
	SourceID int64
	EditSeq  int
	Err      error
}

func (e *PostingError) Error() string {
	return fmt.Sprintf("posting %s/%d seq %d: %v", e.Kind, e.SourceID, e.EditSeq, e.Err)
}

func (e *PostingError) Unwrap() error { return e.Err }

func postingErr(kind SourceKind, sourceID int64, editSeq int, err error) error {
	if err == nil {
		return nil
	}
	return &PostingError{Kind: kind, SourceID: sourceID, EditSeq: editSeq, Err: err}
}

// =============================================================================
// CLASSIFICATION HELPERS
// =============================================================================

// Retryable is implemented by store errors that represent transient
// conditions (serialization failures, busy databases).
type Retryable interface {
	Retryable() bool
}

// IsRetryable reports whether the operation may succeed if replayed
// against the same state.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrConcurrentModification) {
		return true
	}
	var r Retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}

// IsConflict reports a permanent idempotency-key conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyConflict)
}

// IsClientError reports faults the caller must fix before retrying.
func IsClientError(err error) bool {
	return errors.Is(err, ErrIdempotencyConflict) ||
		errors.Is(err, ErrAccountNotPostable) ||
		errors.Is(err, ErrCurrencyMismatch) ||
		errors.Is(err, ErrInvalidDocument)
}

// IsNotFound reports absence of the addressed account.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound)
}
