package smr

import (
	"sync/atomic"
	"time"
)

/************** QSBR (quiescent-state based reclamation) **************/

// Epoch is a monotone generation number. The value 1 is reserved for the
// extended quiescent state; the global counter starts above it.
type Epoch uint64

// offlineEpoch marks a thread in extended quiescent state: it holds no
// protected references and writers must not wait on it.
const offlineEpoch Epoch = 1

// QSBR tracks quiescent states across registered threads.
//
// Each registered thread periodically calls Checkpoint to indicate that
// it holds no references to objects which may be reclaimed, e.g. after
// processing a single request, once shared state is no longer touched.
// The longer the period, the coarser the reclamation granularity.
//
// A writer first makes the dead object globally unreachable, then issues
// Barrier and may free the object once Sync returns true for the epoch
// the barrier returned. The interface is asynchronous; Wait is the
// polling convenience on top.
type QSBR struct {
	epoch atomic.Uint64 // global epoch, starts at offlineEpoch+1
	head  atomic.Pointer[QSBRThread]
}

// QSBRThread is the per-thread registry record. The local epoch is
// written only by the owning goroutine; writers running Sync read it.
type QSBRThread struct {
	local atomic.Uint64 // 0 until the first checkpoint, 1 when offline
	qs    *QSBR
	next  atomic.Pointer[QSBRThread]
	_     [40]byte // pad to a full cache line
}

func NewQSBR() *QSBR {
	q := &QSBR{}
	q.epoch.Store(uint64(offlineEpoch) + 1)
	return q
}

// Register links a fresh record for the calling goroutine into the
// registry. The record is fully initialized before the single
// compare-and-swap that publishes it, so Sync may walk the list
// lock-free at any time. A new record counts as not-yet-quiescent until
// its first Checkpoint.
func (q *QSBR) Register() *QSBRThread {
	t := &QSBRThread{qs: q}
	for {
		head := q.head.Load()
		t.next.Store(head)
		if q.head.CompareAndSwap(head, t) {
			return t
		}
	}
}

// Unregister unlinks the record. The owner must be offline or have
// published a final checkpoint, and no writer may be inside Sync relying
// on this record (caller's protocol).
func (t *QSBRThread) Unregister() {
	q := t.qs
	for {
		var prev *QSBRThread
		cur := q.head.Load()
		for cur != nil && cur != t {
			prev = cur
			cur = cur.next.Load()
		}
		if cur == nil {
			return // already unlinked
		}
		if prev == nil {
			if q.head.CompareAndSwap(t, t.next.Load()) {
				return
			}
		} else if prev.next.CompareAndSwap(t, t.next.Load()) {
			// Rescan: prev may itself have been unlinked meanwhile,
			// in which case t is still reachable from the head.
			continue
		}
	}
}

// Checkpoint publishes the current global epoch into the local epoch:
// "at this instant I hold no protected references". The atomic store
// orders prior reads/writes before the publication and keeps later ones
// after it.
func (t *QSBRThread) Checkpoint() {
	t.local.Store(t.qs.epoch.Load())
}

// Epoch returns the local epoch observed at the last checkpoint.
func (t *QSBRThread) Epoch() Epoch {
	return Epoch(t.local.Load())
}

// Barrier starts a new epoch and returns it. The atomic increment
// carries the store barrier ordering the writer's prior unlinking.
func (q *QSBR) Barrier() Epoch {
	return Epoch(q.epoch.Add(1))
}

// Sync reports whether every registered thread has observed target. The
// caller observes the epoch itself first, then scans the registry;
// offline threads are skipped. No lock is taken.
func (t *QSBRThread) Sync(target Epoch) bool {
	t.Checkpoint()

	for r := t.qs.head.Load(); r != nil; r = r.next.Load() {
		e := Epoch(r.local.Load())
		if e != offlineEpoch && e < target {
			return false // not ready to reclaim
		}
	}
	return true
}

// Wait starts a new epoch and polls until all registered threads have
// observed it, sleeping for the supplied interval between polls.
func (t *QSBRThread) Wait(sleep time.Duration) {
	target := t.qs.Barrier()
	for !t.Sync(target) {
		time.Sleep(sleep)
	}
}

// Offline enters extended quiescent state: writers stop waiting on this
// thread until Online is called.
func (t *QSBRThread) Offline() {
	t.local.Store(uint64(offlineEpoch))
}

// Online leaves extended quiescent state by re-observing the global
// epoch. Protected references may be taken again after it returns.
func (t *QSBRThread) Online() {
	t.local.Store(t.qs.epoch.Load())
}

/************** Reclaimer backing **************/

// StagingTag returns the tag for objects retired now: the smallest epoch
// a subsequent Barrier can return. Sync on that tag cannot pass until
// every reader has checkpointed after that barrier.
func (t *QSBRThread) StagingTag() uint64 {
	return t.qs.epoch.Load() + 1
}

// IsSafe reports whether the grace period for tag has elapsed. It
// checkpoints the calling thread, so the GC flusher must own t.
func (t *QSBRThread) IsSafe(tag uint64) bool {
	return t.Sync(Epoch(tag))
}

// Advance issues a barrier and returns the new epoch.
func (t *QSBRThread) Advance() uint64 {
	return uint64(t.qs.Barrier())
}
