// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bulwark Contributors

package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"

	"github.com/bulwark-dev/bulwark/internal/metrics"
	"github.com/bulwark-dev/bulwark/internal/store"
	bulwarkerr "github.com/bulwark-dev/bulwark/pkg/errors"
)

// DefaultMaxAttempts bounds how many drain passes may fail for one item
// before it is dropped with a diagnostic, so a permanently broken
// operation cannot stall the queue forever.
const DefaultMaxAttempts = 5

// Executor applies one queued operation against the now-reachable
// backend. It is supplied by the caller; the queue never interprets
// payloads itself.
type Executor func(ctx context.Context, op store.QueuedOperation) error

// Queue is the durable FIFO buffer of mutations deferred while offline.
// Operations drain in strict enqueue order; an operation that fails
// during a pass is re-appended to the tail of the next pass rather than
// retried in place, so one broken item never blocks the rest.
type Queue struct {
	store       store.StateStore
	metrics     *metrics.Metrics
	maxAttempts int

	mu      sync.Mutex
	items   []store.QueuedOperation
	nowFunc func() time.Time

	draining atomic.Bool

	// onDropped observes items abandoned after maxAttempts failed passes.
	onDropped func(op store.QueuedOperation, err error)
	// onStoreError receives swallowed persistence failures.
	onStoreError func(err error)
}

// New creates a Queue persisting through st. maxAttempts <= 0 takes the
// default.
func New(st store.StateStore, m *metrics.Metrics, maxAttempts int) *Queue {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Queue{
		store:       st,
		metrics:     m,
		maxAttempts: maxAttempts,
		nowFunc:     time.Now,
	}
}

// SetOnDropped installs the hook for items dropped after exhausting
// their retry budget. Must be set during wiring, before concurrent use.
func (q *Queue) SetOnDropped(fn func(op store.QueuedOperation, err error)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onDropped = fn
}

// SetOnStoreError installs the hook for swallowed persistence failures.
func (q *Queue) SetOnStoreError(fn func(err error)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onStoreError = fn
}

// SetNowFunc overrides the time source (for testing).
func (q *Queue) SetNowFunc(fn func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nowFunc = fn
}

// Load restores the persisted queue at startup.
func (q *Queue) Load(ctx context.Context) error {
	items, err := q.store.LoadQueue(ctx)
	if err != nil {
		return bulwarkerr.Wrap(err, bulwarkerr.CodeStoreReadFailure, "restoring offline queue")
	}

	q.mu.Lock()
	q.items = items
	q.mu.Unlock()

	q.metrics.SetQueueDepth(len(items))
	return nil
}

// Enqueue appends a mutation in arrival order, in memory and durably.
// A persistence failure never rejects the operation; it is reported and
// the in-memory queue carries on.
func (q *Queue) Enqueue(ctx context.Context, kind string, payload any) (store.QueuedOperation, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return store.QueuedOperation{}, bulwarkerr.Wrapf(err, bulwarkerr.CodeQueueExecutorFailure,
			"encoding payload for %q", kind)
	}

	q.mu.Lock()
	op := store.QueuedOperation{
		ID:         uuid.NewString(),
		Kind:       kind,
		Payload:    raw,
		EnqueuedAt: q.nowFunc(),
	}
	q.items = append(q.items, op)
	snapshot := append([]store.QueuedOperation(nil), q.items...)
	q.mu.Unlock()

	q.metrics.SetQueueDepth(len(snapshot))
	q.persist(ctx, snapshot)
	return op, nil
}

// Len reports how many operations are waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Items returns a copy of the pending operations in drain order.
func (q *Queue) Items() []store.QueuedOperation {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]store.QueuedOperation(nil), q.items...)
}

// Drain runs one pass: every operation present at entry is attempted
// once, head to tail. Failures are re-appended to the tail for the next
// pass (or dropped once their retry budget is spent), and the queue is
// persisted after every attempt so a crash mid-drain loses nothing.
// Calling Drain while a drain is already running is a no-op.
func (q *Queue) Drain(ctx context.Context, exec Executor) error {
	if !q.draining.CompareAndSwap(false, true) {
		return nil
	}
	defer q.draining.Store(false)

	q.mu.Lock()
	passSize := len(q.items)
	q.mu.Unlock()

	for range passSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		q.mu.Lock()
		if len(q.items) == 0 {
			q.mu.Unlock()
			break
		}
		op := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		execErr := exec(ctx, op)

		q.mu.Lock()
		if execErr != nil {
			op.Attempts++
			if op.Attempts >= q.maxAttempts {
				dropped := q.onDropped
				q.mu.Unlock()

				slog.Error("dropping queued operation after repeated failures",
					"id", op.ID, "kind", op.Kind, "attempts", op.Attempts, "error", execErr)
				if dropped != nil {
					dropped(op, execErr)
				}
				q.persistCurrent(ctx)
				continue
			}
			q.items = append(q.items, op)
		}
		snapshot := append([]store.QueuedOperation(nil), q.items...)
		q.mu.Unlock()

		q.metrics.SetQueueDepth(len(snapshot))
		q.persist(ctx, snapshot)
	}

	return nil
}

// DrainLoop repeats drain passes with capped exponential backoff until
// the queue is empty or ctx is cancelled. Used on connectivity-restored
// signals so leftover requeued items eventually retry without hammering
// a still-recovering backend.
func (q *Queue) DrainLoop(ctx context.Context, exec Executor) error {
	bo := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)

	return backoff.Retry(func() error {
		if err := q.Drain(ctx, exec); err != nil {
			return backoff.Permanent(err)
		}
		if n := q.Len(); n > 0 {
			return bulwarkerr.Errorf(bulwarkerr.CodeQueueExecutorFailure,
				"%d operations still queued after pass", n)
		}
		return nil
	}, bo)
}

func (q *Queue) persistCurrent(ctx context.Context) {
	q.mu.Lock()
	snapshot := append([]store.QueuedOperation(nil), q.items...)
	q.mu.Unlock()

	q.metrics.SetQueueDepth(len(snapshot))
	q.persist(ctx, snapshot)
}

// persist swallows storage failures: losing queue durability is
// recoverable, failing the mutation over a storage hiccup is not.
func (q *Queue) persist(ctx context.Context, snapshot []store.QueuedOperation) {
	if err := q.store.SaveQueue(ctx, snapshot); err != nil {
		slog.Warn("persisting offline queue failed", "error", err)

		q.mu.Lock()
		fn := q.onStoreError
		q.mu.Unlock()
		if fn != nil {
			fn(err)
		}
	}
}
