// Package queue implements the offline sync queue: a durable FIFO of
// operations produced while the backend is unreachable, drained in order
// once connectivity returns.
//
// The queue persists a full snapshot to its storage key after every
// mutation, so a restart never loses a queued operation. Delivery is
// at-least-once: the sync function may see the same operation more than
// once across retries, and callers whose delivery is not naturally
// idempotent must carry a dedup key inside the payload and deduplicate on
// the receiving side.
package queue

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/helix-desktop/helix-sync/internal/storage"
)

// TypeMessage is the operation type used for queued chat messages.
const TypeMessage = "message"

// DefaultStorageKey is the storage key the queue snapshot lives under.
const DefaultStorageKey = "helix-offline-queue"

// Operation is a single queued unit of work awaiting delivery. The payload
// is opaque to the queue and round-trips through persistence unchanged.
type Operation[T any] struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Data       T         `json:"data"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"lastError,omitempty"`
}

// Status is a point-in-time view of the queue, derived from live state.
type Status struct {
	QueueLength int  `json:"queueLength"`
	Syncing     bool `json:"syncing"`
	FailedCount int  `json:"failedCount"`
}

// Result tallies one Process drain.
type Result struct {
	Synced int `json:"synced"`
	Failed int `json:"failed"`
}

// Options configures a Queue. Zero values get defaults.
type Options struct {
	// StorageKey is the key the snapshot is persisted under.
	StorageKey string
	// MaxRetries is the attempt ceiling per operation.
	MaxRetries int
	// BaseDelay seeds the exponential backoff between retries.
	BaseDelay time.Duration
	// MaxDelay caps the backoff.
	MaxDelay time.Duration
	// DisablePersistence runs the queue purely in memory even when a
	// store is supplied.
	DisablePersistence bool
	Logger             *slog.Logger
}

func (o *Options) defaults() {
	if o.StorageKey == "" {
		o.StorageKey = DefaultStorageKey
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 5
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = time.Second
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

type subscriber struct {
	id int
	fn func(Status)
}

// Queue is a single-consumer offline sync queue. One mutex serializes
// every mutate-persist-notify section; delivery attempts and backoff
// sleeps run outside the lock so producers are never blocked by a drain.
type Queue[T any] struct {
	mu        sync.Mutex
	ops       []*Operation[T]
	failed    []*Operation[T]
	syncing   bool
	subs      []subscriber
	nextSubID int

	store  storage.Store
	opts   Options
	logger *slog.Logger
}

// New creates a queue backed by store, restoring any previously persisted
// snapshot. A missing, corrupt, or unreadable snapshot starts the queue
// empty; construction never fails because of it. Passing a nil store (or
// setting DisablePersistence) runs the queue in memory only.
func New[T any](store storage.Store, opts Options) *Queue[T] {
	opts.defaults()

	q := &Queue[T]{
		store:  store,
		opts:   opts,
		logger: opts.Logger.With("component", "queue"),
	}
	if store == nil || opts.DisablePersistence {
		q.store = nil
	}
	q.restore()
	return q
}

func (q *Queue[T]) restore() {
	if q.store == nil {
		return
	}

	raw, err := q.store.Get(q.opts.StorageKey)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			q.logger.Warn("failed to read queue snapshot, starting empty", "error", err)
		}
		return
	}

	var ops []*Operation[T]
	if err := json.Unmarshal([]byte(raw), &ops); err != nil {
		q.logger.Warn("discarding corrupt queue snapshot", "error", err)
		return
	}

	q.ops = ops
	q.logger.Info("restored queue snapshot", "operations", len(ops))
}

// Enqueue appends an operation and returns its id. The payload is not
// validated or transformed. Snapshot write failures are logged but never
// fail the enqueue; the operation stays in memory and the next successful
// write catches up.
func (q *Queue[T]) Enqueue(opType string, data T) string {
	op := &Operation[T]{
		ID:         uuid.New().String(),
		Type:       opType,
		Data:       data,
		EnqueuedAt: time.Now().UTC(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.ops = append(q.ops, op)
	q.persistLocked()
	q.notifyLocked()
	return op.ID
}

// QueueMessage enqueues a chat message payload.
func (q *Queue[T]) QueueMessage(data T) string {
	return q.Enqueue(TypeMessage, data)
}

// Status returns the current queue status. Never blocks on delivery: the
// lock is only ever held across in-memory mutation and snapshot writes.
func (q *Queue[T]) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.statusLocked()
}

func (q *Queue[T]) statusLocked() Status {
	return Status{
		QueueLength: len(q.ops),
		Syncing:     q.syncing,
		FailedCount: len(q.failed),
	}
}

// NextOperation peeks at the head of the queue without removing it.
func (q *Queue[T]) NextOperation() (*Operation[T], bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.ops) == 0 {
		return nil, false
	}
	op := *q.ops[0]
	return &op, true
}

// Operations returns a copy of all pending operations in drain order.
func (q *Queue[T]) Operations() []*Operation[T] {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*Operation[T], len(q.ops))
	for i, op := range q.ops {
		c := *op
		out[i] = &c
	}
	return out
}

// FailedOperations returns operations that exhausted their retries, with
// LastError retained for diagnostics.
func (q *Queue[T]) FailedOperations() []*Operation[T] {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*Operation[T], len(q.failed))
	for i, op := range q.failed {
		c := *op
		out[i] = &c
	}
	return out
}

// OnStatusChange registers a callback invoked synchronously on every state
// transition, in registration order. The returned function unsubscribes;
// calling it more than once is harmless. Callbacks run with the queue lock
// held and must act on the Status argument rather than calling back into
// the queue.
func (q *Queue[T]) OnStatusChange(fn func(Status)) func() {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := q.nextSubID
	q.nextSubID++
	q.subs = append(q.subs, subscriber{id: id, fn: fn})

	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		for i, s := range q.subs {
			if s.id == id {
				q.subs = append(q.subs[:i], q.subs[i+1:]...)
				return
			}
		}
	}
}

func (q *Queue[T]) notifyLocked() {
	st := q.statusLocked()
	for _, s := range q.subs {
		s.fn(st)
	}
}

func (q *Queue[T]) persistLocked() {
	if q.store == nil {
		return
	}

	data, err := json.Marshal(q.ops)
	if err != nil {
		q.logger.Warn("failed to marshal queue snapshot", "error", err)
		return
	}
	if err := q.store.Set(q.opts.StorageKey, string(data)); err != nil {
		// The in-memory mutation stands; the next successful write
		// restores consistency.
		q.logger.Warn("failed to persist queue snapshot", "error", err)
	}
}

func (q *Queue[T]) removeLocked(id string) {
	for i, op := range q.ops {
		if op.ID == id {
			q.ops = append(q.ops[:i], q.ops[i+1:]...)
			return
		}
	}
}
