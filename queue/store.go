/*
Persistence interface for the partner queue.

The claim contract is the load-bearing part: ClaimDue must transition each
returned item Queued/Retrying -> Processing atomically so that two workers
polling the same tenant can never both receive the same item.
*/
package queue

import (
	"context"
	"time"
)

type Store interface {
	// InsertItem persists a new item unless one with the same operation key
	// already exists. Returns the stored item and whether it was inserted.
	InsertItem(ctx context.Context, item *Item) (*Item, bool, error)

	// GetItem fetches an item by queue id. Returns ErrItemNotFound when absent.
	GetItem(ctx context.Context, queueID string) (*Item, error)

	// ItemByRequestRef fetches an item by its caller-facing reference,
	// nil when absent.
	ItemByRequestRef(ctx context.Context, requestRef string) (*Item, error)

	// ClaimDue atomically claims up to limit items for a tenant whose
	// status is claimable and whose next_attempt_at is nil or <= now,
	// marking them Processing. Ordered oldest first.
	ClaimDue(ctx context.Context, hotelID int64, now time.Time, limit int) ([]Item, error)

	// MarkSucceeded finishes an item.
	MarkSucceeded(ctx context.Context, queueID string, now time.Time) error

	// MarkRetrying schedules another attempt.
	MarkRetrying(ctx context.Context, queueID string, attempts int, lastError string, nextAttemptAt, now time.Time) error

	// MarkFailed parks an item terminally.
	MarkFailed(ctx context.Context, queueID string, attempts int, lastError string, now time.Time) error

	// ReleaseStale requeues Processing items older than cutoff, recovering
	// work orphaned by a worker crash. Returns the number released.
	ReleaseStale(ctx context.Context, hotelID int64, cutoff, now time.Time) (int, error)

	// ItemsByStatus lists a tenant's items for operator inspection,
	// newest first. Empty status lists all.
	ItemsByStatus(ctx context.Context, hotelID int64, status Status, limit int) ([]Item, error)

	// AppendLog records a terminal processing outcome.
	AppendLog(ctx context.Context, entry *LogEntry) error

	// Logs lists a tenant's processed-operation log, newest first.
	Logs(ctx context.Context, hotelID int64, limit int) ([]LogEntry, error)

	// Tenants lists all configured tenants.
	Tenants(ctx context.Context) ([]Tenant, error)

	// SaveTenant inserts or updates a tenant's queue configuration.
	SaveTenant(ctx context.Context, t *Tenant) error
}
