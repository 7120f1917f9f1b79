package postgres

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timigod/midas/internal/domain"
	"github.com/timigod/midas/internal/storage"
)

const testQueue = "token_processing"

func TestQueueStore_Postgres_EnqueueDequeueDelete(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewQueueStore(pool)
	ctx := context.Background()

	id, err := store.Enqueue(ctx, testQueue, domain.TaskPayload{Address: "addr1"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs, err := store.Dequeue(ctx, testQueue, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, id, msgs[0].MessageID)
	assert.Equal(t, "addr1", msgs[0].Payload.Address)
	assert.Equal(t, 0, msgs[0].Payload.AttemptCount)

	// Invisible within the window.
	again, err := store.Dequeue(ctx, testQueue, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, again)

	require.NoError(t, store.Delete(ctx, testQueue, id))
	depth, err := store.Depth(ctx, testQueue)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestQueueStore_Postgres_ConcurrentDequeueExclusive(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewQueueStore(pool)
	ctx := context.Background()

	const messages = 40
	for i := 0; i < messages; i++ {
		_, err := store.Enqueue(ctx, testQueue, domain.TaskPayload{Address: "addr"})
		require.NoError(t, err)
	}

	const workers = 6
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[string]int)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				msgs, err := store.Dequeue(ctx, testQueue, 5, time.Minute)
				if err != nil {
					t.Errorf("Dequeue: %v", err)
					return
				}
				if len(msgs) == 0 {
					return
				}
				mu.Lock()
				for _, m := range msgs {
					seen[m.MessageID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, messages, "every message claimed exactly once")
	for id, n := range seen {
		assert.Equalf(t, 1, n, "message %s double-claimed", id)
	}
}

func TestQueueStore_Postgres_RetryReArmAndDeadLetter(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewQueueStore(pool)
	ctx := context.Background()

	id, err := store.Enqueue(ctx, testQueue, domain.TaskPayload{Address: "addr1"})
	require.NoError(t, err)

	msgs, err := store.Dequeue(ctx, testQueue, 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	// Re-arm into the future: message disappears until eligible.
	next := time.Now().Add(time.Hour)
	payload := domain.TaskPayload{Address: "addr1", AttemptCount: 1, Failures: []string{"fetch: 429"}}
	require.NoError(t, store.Update(ctx, testQueue, id, payload, &next))

	msgs, err = store.Dequeue(ctx, testQueue, 1, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, msgs, "re-armed message must stay ineligible")

	// Dead-letter carries the failure history; original is deleted.
	_, err = store.DeadLetter(ctx, testQueue, payload)
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, testQueue, id))

	dlq, err := store.Dequeue(ctx, domain.DeadLetterQueue(testQueue), 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, dlq, 1)
	assert.Equal(t, []string{"fetch: 429"}, dlq[0].Payload.Failures)

	depth, err := store.Depth(ctx, testQueue)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestQueueStore_Postgres_FIFOAndPendingAddresses(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewQueueStore(pool)
	ctx := context.Background()

	var ids []string
	for _, addr := range []string{"b", "a", "a"} {
		id, err := store.Enqueue(ctx, testQueue, domain.TaskPayload{Address: addr})
		require.NoError(t, err)
		ids = append(ids, id)
		time.Sleep(5 * time.Millisecond) // distinct enqueued_at
	}

	addrs, err := store.PendingAddresses(ctx, testQueue)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, addrs)

	msgs, err := store.Dequeue(ctx, testQueue, 2, time.Minute)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, ids[0], msgs[0].MessageID, "oldest first")
	assert.Equal(t, ids[1], msgs[1].MessageID)
}

func TestQueueStore_Postgres_CorruptPayloadBuriedNotBlocking(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewQueueStore(pool)
	ctx := context.Background()

	badID, err := store.Enqueue(ctx, testQueue, domain.TaskPayload{Address: "bad"})
	require.NoError(t, err)
	goodID, err := store.Enqueue(ctx, testQueue, domain.TaskPayload{Address: "good"})
	require.NoError(t, err)

	// Corrupt one row out from under the store.
	_, err = pool.Exec(ctx,
		`UPDATE task_queue SET payload = '{"address": 123}'::jsonb WHERE message_id = $1`, badID)
	require.NoError(t, err)

	// The batch survives: the valid message comes back, the corrupt one
	// lands in the dead-letter queue instead of wedging every dequeue.
	msgs, err := store.Dequeue(ctx, testQueue, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, goodID, msgs[0].MessageID)

	depth, err := store.Depth(ctx, testQueue)
	require.NoError(t, err)
	assert.Equal(t, 1, depth, "only the claimed valid message remains")

	dlqDepth, err := store.Depth(ctx, domain.DeadLetterQueue(testQueue))
	require.NoError(t, err)
	assert.Equal(t, 1, dlqDepth)
}

func TestQueueStore_Postgres_NotFoundAndValidation(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewQueueStore(pool)
	ctx := context.Background()

	assert.ErrorIs(t, store.Delete(ctx, testQueue, "0e9073e5-58f9-4b85-a17a-337a48b4dcb6"), storage.ErrNotFound)

	_, err := store.Enqueue(ctx, testQueue, domain.TaskPayload{})
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}
