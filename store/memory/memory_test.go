package memory_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlaspms/finance-core/queue"
	"github.com/atlaspms/finance-core/store/memory"
)

func queuedItem(id, ref, opKey string, createdAt time.Time) *queue.Item {
	return &queue.Item{
		QueueID:      id,
		RequestRef:   ref,
		Partner:      "ota",
		Operation:    "receipt.sync",
		HotelID:      1,
		TargetID:     10,
		Payload:      json.RawMessage(`{"receiptId":10}`),
		OperationKey: opKey,
		Status:       queue.StatusQueued,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
}

func TestMemory_ClaimDue_PrefersLongestDue(t *testing.T) {
	// GIVEN: An early-created retry due at base+10m and a later-created
	//        fresh item due since its creation at base+1m
	// WHEN: One item is claimed at base+11m
	// THEN: The fresh item wins; insertion order does not decide

	store := memory.New()
	ctx := context.Background()
	base := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

	retry := queuedItem("q-1", "ref-1", "op-1", base)
	retry.Status = queue.StatusRetrying
	at := base.Add(10 * time.Minute)
	retry.NextAttemptAt = &at
	_, _, err := store.InsertItem(ctx, retry)
	require.NoError(t, err)

	_, _, err = store.InsertItem(ctx, queuedItem("q-2", "ref-2", "op-2", base.Add(time.Minute)))
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

func TestMemory_ClaimDue_TiesBreakOnQueueID(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	base := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

	_, _, err := store.InsertItem(ctx, queuedItem("q-b", "ref-b", "op-b", base))
	require.NoError(t, err)
	_, _, err = store.InsertItem(ctx, queuedItem("q-a", "ref-a", "op-a", base))
	require.NoError(t, err)

	claimed, err := store.ClaimDue(ctx, 1, base.Add(time.Minute), 2)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, "q-a", claimed[0].QueueID)
	assert.Equal(t, "q-b", claimed[1].QueueID)
}
