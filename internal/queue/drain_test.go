package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/helix-desktop/helix-sync/internal/storage"
)

func TestProcess_OrderPreserved(t *testing.T) {
	q := New[message](storage.NewMemory(), testOptions())

	// Different session keys still drain in single global FIFO order.
	sessions := []string{"s1", "s2", "s1"}
	for i, s := range sessions {
		q.QueueMessage(message{Content: string(rune('a' + i)), SessionKey: s})
	}

	var order []string
	res := q.Process(context.Background(), func(ctx context.Context, op *Operation[message]) error {
		order = append(order, op.Data.Content)
		return nil
	})

	if res.Synced != 3 || res.Failed != 0 {
		t.Errorf("result = %+v, want {3 0}", res)
	}
	if got := q.Status().QueueLength; got != 0 {
		t.Errorf("queue length = %d, want 0 after drain", got)
	}
	want := []string{"a", "b", "c"}
	for i := range want {
		if i >= len(order) || order[i] != want[i] {
			t.Fatalf("drain order = %v, want %v", order, want)
		}
	}
}

func TestProcess_PartialFailureIsolation(t *testing.T) {
	opts := testOptions()
	opts.MaxRetries = 3
	q := New[message](storage.NewMemory(), opts)

	q.QueueMessage(message{Content: "A"})
	q.QueueMessage(message{Content: "B"})
	q.QueueMessage(message{Content: "C"})

	var delivered []string
	res := q.Process(context.Background(), func(ctx context.Context, op *Operation[message]) error {
		if op.Data.Content == "B" {
			return errors.New("backend rejected B")
		}
		delivered = append(delivered, op.Data.Content)
		return nil
	})

	if res.Synced != 2 || res.Failed != 1 {
		t.Errorf("result = %+v, want {2 1}", res)
	}
	if len(delivered) != 2 || delivered[0] != "A" || delivered[1] != "C" {
		t.Errorf("delivered = %v, want [A C]", delivered)
	}

	st := q.Status()
	if st.QueueLength != 0 {
		t.Errorf("queue length = %d, want 0", st.QueueLength)
	}
	if st.FailedCount != 1 {
		t.Errorf("failed count = %d, want 1", st.FailedCount)
	}

	failed := q.FailedOperations()
	if len(failed) != 1 {
		t.Fatalf("failed operations = %d, want 1", len(failed))
	}
	if failed[0].Data.Content != "B" {
		t.Errorf("failed op = %q, want B", failed[0].Data.Content)
	}
	if failed[0].Attempts != 3 {
		t.Errorf("failed op attempts = %d, want 3", failed[0].Attempts)
	}
	if failed[0].LastError != "backend rejected B" {
		t.Errorf("lastError = %q, want retained", failed[0].LastError)
	}
}

func TestProcess_RetryCeiling(t *testing.T) {
	q := New[message](storage.NewMemory(), testOptions())
	q.QueueMessage(message{Content: "doomed"})

	attempts := 0
	res := q.Process(context.Background(), func(ctx context.Context, op *Operation[message]) error {
		attempts++
		return errors.New("always down")
	})

	if attempts != 5 {
		t.Errorf("sync function called %d times, want 5 (default MaxRetries)", attempts)
	}
	if res.Failed != 1 || res.Synced != 0 {
		t.Errorf("result = %+v, want {0 1}", res)
	}
}

func TestProcess_TransientRecovery(t *testing.T) {
	q := New[message](storage.NewMemory(), testOptions())
	q.QueueMessage(message{Content: "flaky"})

	calls := 0
	res := q.Process(context.Background(), func(ctx context.Context, op *Operation[message]) error {
		calls++
		if calls == 1 {
			return errors.New("transient outage")
		}
		return nil
	})

	if res.Synced != 1 || res.Failed != 0 {
		t.Errorf("result = %+v, want {1 0}", res)
	}
	// At-least-once: the retry is visible to the sync function.
	if calls != 2 {
		t.Errorf("sync function called %d times, want 2", calls)
	}
	if got := q.Status().QueueLength; got != 0 {
		t.Errorf("queue length = %d, want 0", got)
	}
}

func TestProcess_ReentrantCallIsNoop(t *testing.T) {
	q := New[message](storage.NewMemory(), testOptions())
	q.QueueMessage(message{Content: "in flight"})

	started := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	var first Result

	wg.Add(1)
	go func() {
		defer wg.Done()
		first = q.Process(context.Background(), func(ctx context.Context, op *Operation[message]) error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	second := q.Process(context.Background(), func(ctx context.Context, op *Operation[message]) error {
		t.Error("re-entrant Process must not invoke the sync function")
		return nil
	})
	if second.Synced != 0 || second.Failed != 0 {
		t.Errorf("re-entrant result = %+v, want zero", second)
	}

	close(release)
	wg.Wait()

	if first.Synced != 1 {
		t.Errorf("first drain result = %+v, want {1 0}", first)
	}
}

func TestProcess_PicksUpMidDrainEnqueues(t *testing.T) {
	q := New[message](storage.NewMemory(), testOptions())
	q.QueueMessage(message{Content: "first"})

	res := q.Process(context.Background(), func(ctx context.Context, op *Operation[message]) error {
		if op.Data.Content == "first" {
			q.QueueMessage(message{Content: "second"})
		}
		return nil
	})

	if res.Synced != 2 {
		t.Errorf("result = %+v, want both operations synced", res)
	}
}

func TestProcess_ContextCancelKeepsOperationQueued(t *testing.T) {
	opts := testOptions()
	opts.BaseDelay = time.Hour // park the drain in backoff
	opts.MaxDelay = time.Hour
	q := New[message](storage.NewMemory(), opts)
	q.QueueMessage(message{Content: "survivor"})

	ctx, cancel := context.WithCancel(context.Background())
	failing := make(chan struct{})
	done := make(chan Result, 1)

	go func() {
		done <- q.Process(ctx, func(ctx context.Context, op *Operation[message]) error {
			close(failing)
			return errors.New("offline")
		})
	}()

	<-failing
	cancel()

	select {
	case res := <-done:
		if res.Synced != 0 || res.Failed != 0 {
			t.Errorf("result = %+v, want zero on cancellation", res)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("drain did not stop after cancellation")
	}

	st := q.Status()
	if st.QueueLength != 1 {
		t.Errorf("queue length = %d, want operation retained", st.QueueLength)
	}
	if st.Syncing {
		t.Error("queue still reports syncing after drain returned")
	}

	op, _ := q.NextOperation()
	if op.Attempts != 1 {
		t.Errorf("attempts = %d, want 1 persisted attempt", op.Attempts)
	}
}

func TestProcess_EmptyQueue(t *testing.T) {
	q := New[message](storage.NewMemory(), testOptions())

	res := q.Process(context.Background(), func(ctx context.Context, op *Operation[message]) error {
		t.Error("sync function called on empty queue")
		return nil
	})
	if res.Synced != 0 || res.Failed != 0 {
		t.Errorf("result = %+v, want zero", res)
	}
}

func TestProcess_SnapshotTracksDrain(t *testing.T) {
	store := storage.NewMemory()
	q := New[message](store, testOptions())
	q.QueueMessage(message{Content: "only"})

	q.Process(context.Background(), func(ctx context.Context, op *Operation[message]) error {
		return nil
	})

	raw, err := store.Get(DefaultStorageKey)
	if err != nil {
		t.Fatalf("snapshot missing after drain: %v", err)
	}
	if raw != "[]" && raw != "null" {
		t.Errorf("snapshot = %q, want empty list", raw)
	}
}
