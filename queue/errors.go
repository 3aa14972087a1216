package queue

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownOperation is returned when no handler is registered for a
	// (partner, operation) pair.
	ErrUnknownOperation = errors.New("queue: unknown operation")

	// ErrInvalidPayload marks a payload that does not decode into the
	// operation's registered shape.
	ErrInvalidPayload = errors.New("queue: invalid payload")

	// ErrItemNotFound is returned by lookups of absent queue items.
	ErrItemNotFound = errors.New("queue: item not found")

	// ErrRequestRefConflict marks a request reference reused with a
	// different operation key. Requests are never silently merged.
	ErrRequestRefConflict = errors.New("queue: request ref reuse with mismatched payload")

	// ErrQueueDisabled is returned when the tenant has queueing switched off.
	ErrQueueDisabled = errors.New("queue: queueing disabled for tenant")
)

// PermanentError marks a handler failure that no retry can fix (malformed
// payload, business rule rejection). The worker fails the item immediately
// instead of burning the remaining attempts.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return fmt.Sprintf("permanent: %v", e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the worker treats it as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was marked non-retryable.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}
