package queue_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlaspms/finance-core/queue"
	"github.com/atlaspms/finance-core/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type ackPayload struct {
	Reference string `json:"reference"`
}

func newTestEnqueuer(t *testing.T) (*queue.Enqueuer, *memory.Store) {
	t.Helper()
	store := memory.New()
	reg := queue.NewRegistry()
	reg.Register(queue.Registration{
		Partner:     "ota",
		Operation:   "ack",
		PayloadType: "ack",
		NewPayload:  func() any { return &ackPayload{} },
		Handle: func(ctx context.Context, item queue.Item, payload any) error {
			return nil
		},
	})
	return queue.NewEnqueuer(store, reg), store
}

func ackRequest(ref string) queue.Request {
	return queue.Request{
		Partner:    "ota",
		Operation:  "ack",
		HotelID:    1,
		TargetID:   42,
		Payload:    json.RawMessage(`{"reference":"abc"}`),
		RequestRef: ref,
	}
}

// =============================================================================
// ADMISSION
// =============================================================================

func TestEnqueue_InsertsNewItem(t *testing.T) {
	// GIVEN: A registered operation
	// WHEN: A fresh request is enqueued
	// THEN: The item is persisted as Queued with a tracking reference

	enq, store := newTestEnqueuer(t)
	ctx := context.Background()

	item, inserted, err := enq.Enqueue(ctx, ackRequest(""))
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NotEmpty(t, item.QueueID)
	assert.NotEmpty(t, item.RequestRef, "a reference is generated when the caller sends none")
	assert.Equal(t, queue.StatusQueued, item.Status)
	assert.Zero(t, item.Attempts)

	stored, err := store.GetItem(ctx, item.QueueID)
	require.NoError(t, err)
	assert.Equal(t, item.OperationKey, stored.OperationKey)
}

func TestEnqueue_SamePayloadDeduplicates(t *testing.T) {
	// GIVEN: An identical operation already queued
	// WHEN: The partner re-delivers it
	// THEN: The existing item is returned, nothing new is stored

	enq, _ := newTestEnqueuer(t)
	ctx := context.Background()

	first, inserted, err := enq.Enqueue(ctx, ackRequest(""))
	require.NoError(t, err)
	require.True(t, inserted)

	second, inserted, err := enq.Enqueue(ctx, ackRequest(""))
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, first.QueueID, second.QueueID)
}

func TestEnqueue_SameRefSamePayload_ReturnsExisting(t *testing.T) {
	enq, _ := newTestEnqueuer(t)
	ctx := context.Background()

	first, inserted, err := enq.Enqueue(ctx, ackRequest("ref-1"))
	require.NoError(t, err)
	require.True(t, inserted)

	replay, inserted, err := enq.Enqueue(ctx, ackRequest("ref-1"))
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, first.QueueID, replay.QueueID)
}

func TestEnqueue_SameRefDifferentPayload_Conflict(t *testing.T) {
	// GIVEN: A tracking reference bound to one operation
	// WHEN: The same reference arrives carrying a different payload
	// THEN: The request is rejected instead of silently rebinding the ref

	enq, _ := newTestEnqueuer(t)
	ctx := context.Background()

	_, _, err := enq.Enqueue(ctx, ackRequest("ref-1"))
	require.NoError(t, err)

	changed := ackRequest("ref-1")
	changed.Payload = json.RawMessage(`{"reference":"other"}`)
	_, _, err = enq.Enqueue(ctx, changed)
	assert.ErrorIs(t, err, queue.ErrRequestRefConflict)
}

func TestEnqueue_UnknownOperation_Rejected(t *testing.T) {
	enq, _ := newTestEnqueuer(t)

	req := ackRequest("")
	req.Operation = "does.not.exist"
	_, _, err := enq.Enqueue(context.Background(), req)
	assert.ErrorIs(t, err, queue.ErrUnknownOperation)
}

func TestEnqueue_UndecodablePayload_Rejected(t *testing.T) {
	enq, _ := newTestEnqueuer(t)
	ctx := context.Background()

	empty := ackRequest("")
	empty.Payload = nil
	_, _, err := enq.Enqueue(ctx, empty)
	assert.ErrorIs(t, err, queue.ErrInvalidPayload)

	garbage := ackRequest("")
	garbage.Payload = json.RawMessage(`{"reference":`)
	_, _, err = enq.Enqueue(ctx, garbage)
	assert.ErrorIs(t, err, queue.ErrInvalidPayload)
}

func TestOperationKey_CaseInsensitivePartnerAndOperation(t *testing.T) {
	payload := json.RawMessage(`{"a":1}`)

	k1 := queue.OperationKey("OTA", "Receipt.Sync", 1, 42, payload)
	k2 := queue.OperationKey("ota", "receipt.sync", 1, 42, payload)
	assert.Equal(t, k1, k2)

	k3 := queue.OperationKey("ota", "receipt.sync", 1, 43, payload)
	assert.NotEqual(t, k1, k3, "a different target is a different operation")
}
