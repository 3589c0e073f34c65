package queue

import (
	"context"
	"math/rand"
	"time"
)

// SyncFunc delivers one operation to the backend. Returning an error marks
// the attempt failed; the queue retries with backoff up to MaxRetries. The
// queue makes no transient/permanent distinction — a sync function that can
// recognize a non-retryable error should swallow it and report success with
// an error marker in its own result channel instead of returning it here.
type SyncFunc[T any] func(ctx context.Context, op *Operation[T]) error

// Process drains the queue strictly in enqueue order, invoking fn once per
// attempt. Failed operations retry in place with exponential backoff; after
// MaxRetries attempts the operation is dropped from the queue, counted
// failed, and the drain moves on, so one poisoned operation never blocks
// the rest. A Process call while another drain is running is a no-op
// returning a zero Result.
//
// Errors from fn never propagate: the caller learns about failures only
// through the returned tally, Status, and FailedOperations. Cancelling ctx
// stops the drain between attempts; undelivered operations stay queued.
func (q *Queue[T]) Process(ctx context.Context, fn SyncFunc[T]) Result {
	q.mu.Lock()
	if q.syncing {
		q.mu.Unlock()
		return Result{}
	}
	q.syncing = true
	q.notifyLocked()
	q.mu.Unlock()

	q.logger.Debug("drain started")

	var res Result
	for ctx.Err() == nil {
		q.mu.Lock()
		if len(q.ops) == 0 {
			q.mu.Unlock()
			break
		}
		op := q.ops[0]
		q.mu.Unlock()

		if !q.drainOne(ctx, fn, op, &res) {
			break
		}
	}

	q.mu.Lock()
	q.syncing = false
	q.notifyLocked()
	q.mu.Unlock()

	q.logger.Info("drain finished", "synced", res.Synced, "failed", res.Failed)
	return res
}

// drainOne attempts op until it succeeds or exhausts its retries. Returns
// false when the drain should stop early (context cancelled).
func (q *Queue[T]) drainOne(ctx context.Context, fn SyncFunc[T], op *Operation[T], res *Result) bool {
	for {
		err := fn(ctx, op)
		if err == nil {
			q.mu.Lock()
			q.removeLocked(op.ID)
			res.Synced++
			q.persistLocked()
			q.notifyLocked()
			q.mu.Unlock()
			return true
		}
		if ctx.Err() != nil {
			// Shutdown, not a delivery verdict: leave the operation
			// queued with its current attempt count.
			return false
		}

		q.mu.Lock()
		op.Attempts++
		op.LastError = err.Error()

		if op.Attempts >= q.opts.MaxRetries {
			q.removeLocked(op.ID)
			q.failed = append(q.failed, op)
			res.Failed++
			q.persistLocked()
			q.notifyLocked()
			q.mu.Unlock()

			q.logger.Warn("operation failed permanently",
				"id", op.ID,
				"type", op.Type,
				"attempts", op.Attempts,
				"error", err)
			return true
		}

		q.persistLocked()
		q.notifyLocked()
		q.mu.Unlock()

		delay := backoffDelay(q.opts.BaseDelay, q.opts.MaxDelay, op.Attempts)
		q.logger.Debug("retrying operation",
			"id", op.ID,
			"attempt", op.Attempts,
			"delay", delay)

		if !sleep(ctx, delay) {
			return false
		}
	}
}

// backoffDelay computes the wait before the next attempt: base doubled per
// failed attempt plus jitter in [0, base), capped at max. The jitter keeps
// a burst of queued clients from retrying in lockstep while the schedule
// stays strictly increasing.
func backoffDelay(base, max time.Duration, attempts int) time.Duration {
	shift := attempts - 1
	if shift > 30 {
		shift = 30
	}
	delay := base << shift
	if delay >= max {
		return max
	}
	delay += time.Duration(rand.Int63n(int64(base)))
	if delay > max {
		return max
	}
	return delay
}

// sleep waits for d, returning false if ctx is cancelled first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
