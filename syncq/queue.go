// Package syncq implements the outbound mutation queue: the ordered list
// of not-yet-acknowledged field edits awaiting replay against the
// server.
//
// Entries are strictly ordered by an insertion sequence number and are
// removed only after the write endpoint has confirmed application, so an
// interrupted drain leaves the queue exactly as it was after the last
// acknowledged entry. Mutations targeting the same product always reach
// the server in insertion order; a failing entry blocks everything
// behind it until the next drain attempt.
package syncq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"golang.org/x/sync/semaphore"

	"github.com/fabricedemange/coopaz-offline/model"
	"github.com/fabricedemange/coopaz-offline/store"
)

// seqKey holds the monotonic insertion counter, in the meta partition so
// that clearing the queue partition never resets ordering.
const seqKey = "queue_seq"

// ErrDrainInProgress is returned by Drain while another drain is
// running. Concurrent drains (a manual "sync now" racing the background
// connectivity trigger) would interleave removals; the guard makes the
// second caller fail fast instead.
var ErrDrainInProgress = errors.New("a queue drain is already in progress")

// Queue persists pending mutations.
type Queue struct {
	store    *store.Store
	draining *semaphore.Weighted
	now      func() time.Time

	// In-memory projection of which products have pending entries,
	// rebuilt at construction and maintained on enqueue/ack. The store
	// stays authoritative.
	mu      sync.Mutex
	pending *roaring64.Bitmap
	counts  map[int64]int
}

// NewQueue returns a Queue on top of s, rebuilding its pending-target
// projection from the store.
func NewQueue(ctx context.Context, s *store.Store) (*Queue, error) {
	q := &Queue{
		store:    s,
		draining: semaphore.NewWeighted(1),
		now:      time.Now,
		pending:  roaring64.New(),
		counts:   map[int64]int{},
	}
	entries, err := q.list(ctx, "")
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		q.track(e.ProductID, 1)
	}
	return q, nil
}

func (q *Queue) track(productID int64, delta int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.counts[productID] += delta
	if q.counts[productID] <= 0 {
		delete(q.counts, productID)
		q.pending.Remove(uint64(productID))
	} else {
		q.pending.Add(uint64(productID))
	}
}

func seqToKey(seq uint64) string {
	// Zero-padded so lexicographic store order is insertion order.
	return fmt.Sprintf("%020d", seq)
}

// Enqueue appends a mutation with the current timestamp. Entries are
// never deduplicated: a later entry for the same product is an
// additional replay step, and the last one applied wins.
func (q *Queue) Enqueue(ctx context.Context, action model.MutationAction, productID int64, value *string) error {
	err := q.store.Update(ctx, func(tx *store.Txn) error {
		var seq uint64
		err := tx.Get(store.PartitionMeta, seqKey, &seq)
		if err != nil && !errors.Is(err, store.ErrKeyNotFound) {
			return err
		}
		seq++
		if err := tx.Put(store.PartitionMeta, seqKey, seq); err != nil {
			return err
		}
		return tx.Put(store.PartitionQueue, seqToKey(seq), model.Mutation{
			Seq:       seq,
			Action:    action,
			ProductID: productID,
			Value:     value,
			CreatedAt: q.now().UTC(),
		})
	})
	if err != nil {
		return err
	}
	q.track(productID, 1)
	return nil
}

func (q *Queue) list(ctx context.Context, action model.MutationAction) ([]model.Mutation, error) {
	var out []model.Mutation
	err := q.store.View(ctx, func(tx *store.Txn) error {
		items, err := tx.ReadPartition(store.PartitionQueue)
		if err != nil {
			return err
		}
		for _, kv := range items {
			var mut model.Mutation
			if err := tx.Decode(kv.Value, &mut); err != nil {
				return fmt.Errorf("decode queue entry %s: %w", kv.Key, err)
			}
			if action == "" || mut.Action == action {
				out = append(out, mut)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListPending returns all queued entries of the given kind in insertion
// order.
func (q *Queue) ListPending(ctx context.Context, action model.MutationAction) ([]model.Mutation, error) {
	return q.list(ctx, action)
}

// HasPending reports whether any queued entry targets productID. Served
// from the in-memory projection, so it is cheap enough for per-row UI
// badges.
func (q *Queue) HasPending(productID int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Contains(uint64(productID))
}

// PendingCount returns the number of queued entries.
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, c := range q.counts {
		n += c
	}
	return n
}

// DrainResult reports the outcome of a drain attempt.
type DrainResult struct {
	// Applied is the number of entries acknowledged and removed.
	Applied int
	// Remaining is the number of entries still queued, starting with the
	// failed one when the drain stopped early.
	Remaining int
}

// Drain replays pending entries strictly in insertion order. For each
// entry it invokes applyFn (which performs the network write) and
// removes exactly that entry once applyFn returns nil. On the first
// failure it stops immediately, returning the apply error with the
// failed entry and everything after it left queued for the next attempt.
//
// Only one drain runs at a time; a concurrent call fails fast with
// ErrDrainInProgress.
func (q *Queue) Drain(ctx context.Context, applyFn func(ctx context.Context, mut model.Mutation) error) (DrainResult, error) {
	if !q.draining.TryAcquire(1) {
		return DrainResult{}, ErrDrainInProgress
	}
	defer q.draining.Release(1)

	entries, err := q.list(ctx, "")
	if err != nil {
		return DrainResult{}, err
	}

	res := DrainResult{Remaining: len(entries)}
	for _, mut := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := applyFn(ctx, mut); err != nil {
			return res, fmt.Errorf("apply mutation %d (product %d): %w", mut.Seq, mut.ProductID, err)
		}
		// Removal strictly after acknowledgment: an interruption between
		// the two replays an already-applied idempotent write, never
		// loses one.
		if err := q.store.Delete(ctx, store.PartitionQueue, seqToKey(mut.Seq)); err != nil {
			return res, err
		}
		q.track(mut.ProductID, -1)
		res.Applied++
		res.Remaining--
	}
	return res, nil
}

// ClearAll force-removes every entry of the given kind. Used only after
// an out-of-band full resynchronization makes the queue moot.
func (q *Queue) ClearAll(ctx context.Context, action model.MutationAction) error {
	var removed []int64
	err := q.store.Update(ctx, func(tx *store.Txn) error {
		items, err := tx.ReadPartition(store.PartitionQueue)
		if err != nil {
			return err
		}
		for _, kv := range items {
			var mut model.Mutation
			if err := tx.Decode(kv.Value, &mut); err != nil {
				return err
			}
			if action != "" && mut.Action != action {
				continue
			}
			if err := tx.Delete(store.PartitionQueue, kv.Key); err != nil {
				return err
			}
			removed = append(removed, mut.ProductID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, id := range removed {
		q.track(id, -1)
	}
	return nil
}
