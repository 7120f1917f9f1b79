package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/timigod/midas/internal/domain"
	"github.com/timigod/midas/internal/storage"
)

const testQueue = "token_processing"

func TestQueueStore_EnqueueDequeueDelete(t *testing.T) {
	store := NewQueueStore()
	ctx := context.Background()

	id, err := store.Enqueue(ctx, testQueue, domain.TaskPayload{Address: "addr1"})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected a message ID")
	}

	msgs, err := store.Dequeue(ctx, testQueue, 10, time.Minute)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].MessageID != id {
		t.Fatalf("expected the enqueued message back, got %v", msgs)
	}
	if msgs[0].Payload.AttemptCount != 0 {
		t.Errorf("retry metadata must start zeroed, got %d", msgs[0].Payload.AttemptCount)
	}

	if err := store.Delete(ctx, testQueue, id); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if depth, _ := store.Depth(ctx, testQueue); depth != 0 {
		t.Errorf("expected empty queue, depth %d", depth)
	}
}

func TestQueueStore_InvalidPayloadRejected(t *testing.T) {
	store := NewQueueStore()
	_, err := store.Enqueue(context.Background(), testQueue, domain.TaskPayload{})
	if !errors.Is(err, domain.ErrInvalidPayload) {
		t.Errorf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestQueueStore_FIFOOrdering(t *testing.T) {
	clock := newFakeClock(time.Now())
	store := NewQueueStoreWithClock(clock.Now)
	ctx := context.Background()

	var ids []string
	for _, addr := range []string{"first", "second", "third"} {
		id, err := store.Enqueue(ctx, testQueue, domain.TaskPayload{Address: addr})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
		clock.Advance(time.Millisecond)
	}

	msgs, err := store.Dequeue(ctx, testQueue, 2, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].MessageID != ids[0] || msgs[1].MessageID != ids[1] {
		t.Errorf("expected oldest two messages in order, got %v", msgs)
	}
}

func TestQueueStore_VisibilityTimeout(t *testing.T) {
	clock := newFakeClock(time.Now())
	store := NewQueueStoreWithClock(clock.Now)
	ctx := context.Background()

	if _, err := store.Enqueue(ctx, testQueue, domain.TaskPayload{Address: "addr1"}); err != nil {
		t.Fatal(err)
	}

	first, err := store.Dequeue(ctx, testQueue, 1, time.Minute)
	if err != nil || len(first) != 1 {
		t.Fatalf("first Dequeue: %v %v", first, err)
	}

	// Within the window the message is invisible.
	second, err := store.Dequeue(ctx, testQueue, 1, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if len(second) != 0 {
		t.Fatal("message must be invisible within the visibility window")
	}

	// After the window lapses it becomes eligible again.
	clock.Advance(time.Minute + time.Second)
	third, err := store.Dequeue(ctx, testQueue, 1, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if len(third) != 1 {
		t.Fatal("message must be eligible again after the window lapses")
	}
}

func TestQueueStore_ConcurrentDequeueExclusive(t *testing.T) {
	store := NewQueueStore()
	ctx := context.Background()

	const messages = 50
	for i := 0; i < messages; i++ {
		if _, err := store.Enqueue(ctx, testQueue, domain.TaskPayload{Address: "addr"}); err != nil {
			t.Fatal(err)
		}
	}

	const workers = 8
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

	if len(seen) != messages {
		t.Errorf("expected %d distinct messages claimed, got %d", messages, len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("message %s claimed %d times within one visibility window", id, n)
		}
	}
}

func TestQueueStore_UpdateReArmsEligibility(t *testing.T) {
	clock := newFakeClock(time.Now())
	store := NewQueueStoreWithClock(clock.Now)
	ctx := context.Background()

	id, err := store.Enqueue(ctx, testQueue, domain.TaskPayload{Address: "addr1"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Dequeue(ctx, testQueue, 1, time.Minute); err != nil {
		t.Fatal(err)
	}

	next := clock.Now().Add(10 * time.Second)
	payload := domain.TaskPayload{Address: "addr1", AttemptCount: 1, Failures: []string{"fetch: timeout"}}
	if err := store.Update(ctx, testQueue, id, payload, &next); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	// Not yet eligible.
	msgs, _ := store.Dequeue(ctx, testQueue, 1, time.Minute)
	if len(msgs) != 0 {
		t.Fatal("re-armed message must stay ineligible until next_eligible_at")
	}

	clock.Advance(11 * time.Second)
	msgs, _ = store.Dequeue(ctx, testQueue, 1, time.Minute)
	if len(msgs) != 1 {
		t.Fatal("re-armed message must become eligible after next_eligible_at")
	}
	if msgs[0].Payload.AttemptCount != 1 || len(msgs[0].Payload.Failures) != 1 {
		t.Errorf("retry metadata not persisted: %+v", msgs[0].Payload)
	}
}

func TestQueueStore_DeadLetter(t *testing.T) {
	store := NewQueueStore()
	ctx := context.Background()

	payload := domain.TaskPayload{Address: "addr1", AttemptCount: 5, Failures: []string{"a", "b"}}
	if _, err := store.DeadLetter(ctx, testQueue, payload); err != nil {
		t.Fatalf("DeadLetter failed: %v", err)
	}

	depth, err := store.Depth(ctx, domain.DeadLetterQueue(testQueue))
	if err != nil {
		t.Fatal(err)
	}
	if depth != 1 {
		t.Errorf("expected 1 dead-lettered message, got %d", depth)
	}

	msgs, err := store.Dequeue(ctx, domain.DeadLetterQueue(testQueue), 1, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || len(msgs[0].Payload.Failures) != 2 {
		t.Errorf("failure history must survive dead-lettering: %v", msgs)
	}
}

func TestQueueStore_ReleaseExpired(t *testing.T) {
	clock := newFakeClock(time.Now())
	store := NewQueueStoreWithClock(clock.Now)
	ctx := context.Background()

	if _, err := store.Enqueue(ctx, testQueue, domain.TaskPayload{Address: "addr1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Dequeue(ctx, testQueue, 1, time.Minute); err != nil {
		t.Fatal(err)
	}

	if n, _ := store.ReleaseExpired(ctx, testQueue); n != 0 {
		t.Errorf("nothing should be released inside the window, got %d", n)
	}

	clock.Advance(2 * time.Minute)
	n, err := store.ReleaseExpired(ctx, testQueue)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 released message, got %d", n)
	}
}

func TestQueueStore_PendingAddresses(t *testing.T) {
	store := NewQueueStore()
	ctx := context.Background()

	for _, addr := range []string{"b", "a", "a"} {
		if _, err := store.Enqueue(ctx, testQueue, domain.TaskPayload{Address: addr}); err != nil {
			t.Fatal(err)
		}
	}

	addrs, err := store.PendingAddresses(ctx, testQueue)
	if err != nil {
		t.Fatal(err)
	}
	if len(addrs) != 2 || addrs[0] != "a" || addrs[1] != "b" {
		t.Errorf("expected distinct sorted addresses, got %v", addrs)
	}
}

func TestQueueStore_DeleteNotFound(t *testing.T) {
	store := NewQueueStore()
	if err := store.Delete(context.Background(), testQueue, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// fakeClock is a mutable clock for visibility-timeout tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
