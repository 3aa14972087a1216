/*
Package queue implements the durable partner request queue.

PURPOSE:
  Inbound partner operations (receipt syncs, reservation charges,
  acknowledgements) are accepted, deduplicated and persisted immediately,
  then drained asynchronously by a polling worker with bounded retries.
  The caller gets a request reference for tracking; the partner never
  waits on downstream processing.

KEY CONCEPTS IN THIS FILE (types.go):
  - Item: A queued unit of work with its lifecycle state
  - LogEntry: Immutable audit record of terminal processing attempts
  - Tenant: Per-hotel queue configuration row
  - OperationKey: Content-addressed dedup fingerprint

STATE MACHINE:
  Queued -> Processing -> Succeeded
                       -> Retrying  (next_attempt_at in the future)
                       -> Failed    (attempt ceiling reached)

SEE ALSO:
  - enqueue.go: Admission and dedup
  - worker.go: Polling drain loop
  - backoff.go: Retry schedule
*/
package queue

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// QUEUE ITEM
// =============================================================================

type Status string

const (
	StatusQueued     Status = "Queued"
	StatusProcessing Status = "Processing"
	StatusSucceeded  Status = "Succeeded"
	StatusRetrying   Status = "Retrying"
	StatusFailed     Status = "Failed"
)

// Claimable reports whether a worker may pick the item up. Retrying is an
// operator-facing distinction; for claiming it behaves like Queued.
func (s Status) Claimable() bool {
	return s == StatusQueued || s == StatusRetrying
}

// Terminal reports whether the item has finished its lifecycle.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Item is one durable unit of partner work.
type Item struct {
	QueueID    string
	RequestRef string // caller-facing tracking reference
	Partner    string
	Operation  string
	HotelID    int64

	// TargetID addresses the domain entity the operation concerns
	// (receipt id, reservation id). Zero when the payload is self-contained.
	TargetID    int64
	PayloadType string
	Payload     json.RawMessage

	// OperationKey fingerprints (partner, operation, target, payload) so a
	// re-delivered request lands on the existing item instead of a new one.
	OperationKey string

	Status        Status
	Attempts      int
	LastError     string
	NextAttemptAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// OperationKey derives the dedup fingerprint for a request.
func OperationKey(partner, operation string, hotelID, targetID int64, payload json.RawMessage) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%d|", strings.ToLower(partner), strings.ToLower(operation), hotelID, targetID)
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// =============================================================================
// PROCESSED-OPERATION LOG
// =============================================================================

// LogEntry records one terminal processing outcome. The log is append-only
// and is the audit trail operators consult when a partner disputes state.
type LogEntry struct {
	ID         int64
	RequestRef string
	Partner    string
	Operation  string
	HotelID    int64
	Status     Status
	Message    string
	CreatedAt  time.Time
}

// =============================================================================
// TENANT - Per-hotel queue configuration
// =============================================================================

// Tenant holds a hotel's queue switches. A zero PollInterval or BatchSize
// inherits the platform default (see Settings.ForTenant).
type Tenant struct {
	HotelID       int64
	Code          string
	QueueEnabled  bool
	WorkerEnabled bool
	PollInterval  time.Duration
	BatchSize     int
}
