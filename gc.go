package smr

import (
	"sync/atomic"
	"time"
)

/************** GC (deferred reclamation queue) **************/

// Reclaimer is the narrow contract GC needs from a backing SMR.
// *EBR satisfies it directly. For QSBR backing, use the flusher's
// *QSBRThread: its IsSafe runs the self-checkpointing Sync.
type Reclaimer interface {
	// StagingTag returns the tag to stamp on objects retired now.
	StagingTag() uint64
	// IsSafe reports whether the grace period for tag has elapsed.
	IsSafe(tag uint64) bool
	// Advance drives the backing epoch forward and returns the new tag.
	Advance() uint64
}

type gcEntry[T any] struct {
	tag  uint64
	obj  *T
	next atomic.Pointer[gcEntry[T]]
}

// GC holds retired objects until the backing SMR reports their tag safe,
// then runs the destructor on them, strictly FIFO.
//
// Ownership follows the producer/consumer split of an SPSC queue:
// Limbo is producer-side, FullPending/AsyncFlush/Flush consumer-side,
// one goroutine each (possibly the same). Additional producers need
// external mutual exclusion.
type GC[T any] struct {
	smr  Reclaimer
	dtor func(*T)
	head *gcEntry[T] // consumer-owned stub; entries hang off head.next
	tail *gcEntry[T] // producer-owned
}

// NewGC wraps a backing SMR with a deferred-destruction queue. The
// destructor runs once per retired object, on the flushing goroutine.
func NewGC[T any](smr Reclaimer, dtor func(*T)) *GC[T] {
	if smr == nil || dtor == nil {
		panic("smr: GC needs a backing reclaimer and a destructor")
	}
	stub := &gcEntry[T]{}
	return &GC[T]{smr: smr, dtor: dtor, head: stub, tail: stub}
}

// Limbo appends obj to the queue, stamped with the current staging tag.
// The caller must already have made obj unreachable from protected
// storage; the queue owns it until the destructor runs.
func (g *GC[T]) Limbo(obj *T) {
	e := &gcEntry[T]{tag: g.smr.StagingTag(), obj: obj}
	prev := g.tail
	g.tail = e
	prev.next.Store(e) // publish only after the entry is initialized
}

// FullPending reports whether unreclaimed entries remain.
func (g *GC[T]) FullPending() bool {
	return g.head.next.Load() != nil
}

// AsyncFlush destroys the FIFO prefix whose tags the backing SMR
// reports safe, stopping at the first entry still in its grace period.
// Returns true when the queue is empty on exit.
func (g *GC[T]) AsyncFlush() bool {
	for {
		e := g.head.next.Load()
		if e == nil {
			return true
		}
		if !g.smr.IsSafe(e.tag) {
			return false
		}
		g.head = e
		obj := e.obj
		e.obj = nil
		g.dtor(obj)
	}
}

// Flush drives the backing epoch and polls AsyncFlush until the queue
// drains, sleeping for the supplied interval between rounds. The
// re-advance each round is what steps EBR's rotation through the two
// generations a staged tag needs before it turns safe.
func (g *GC[T]) Flush(sleep time.Duration) {
	g.smr.Advance()
	for !g.AsyncFlush() {
		time.Sleep(sleep)
		g.smr.Advance()
	}
}
