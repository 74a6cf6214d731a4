package smr

import "sync/atomic"

/************** EBR (epoch based reclamation) **************/

const (
	// ebrEpochs is the number of rotating epoch slots. Three generations:
	// staging (retire into), pending (safe after the next advance) and
	// incumbent (safe to reclaim from now).
	ebrEpochs = 3

	ebrActive    = uint64(1) << 63
	ebrEpochMask = ebrActive - 1
)

// EBR tracks reader critical sections with a three-slot rotating epoch.
//
// Readers bracket every access to protected objects with Enter/Exit.
// A writer retires an object by unlinking it and tagging it with
// StagingEpoch; once Sync has rotated the global epoch far enough that
// the tag equals IncumbentEpoch, no reader can still hold the object.
type EBR struct {
	epoch atomic.Uint64 // current slot, 0..2
	head  atomic.Pointer[EBRThread]
}

// EBRThread is the per-thread registry record. The state word combines
// an active flag with the epoch stamped at the outermost Enter; the
// nesting counter is touched only by the owner.
type EBRThread struct {
	state   atomic.Uint64
	entries uint32 // critical-section nesting depth, owner only
	eb      *EBR
	next    atomic.Pointer[EBRThread]
	_       [32]byte // pad to a full cache line
}

func NewEBR() *EBR {
	return &EBR{}
}

// Register links a fresh record into the registry. The record starts
// inactive, so it does not hold up writers until its first Enter.
func (e *EBR) Register() *EBRThread {
	t := &EBRThread{eb: e}
	for {
		head := e.head.Load()
		t.next.Store(head)
		if e.head.CompareAndSwap(head, t) {
			return t
		}
	}
}

// Unregister unlinks the record. The owner must not be inside a critical
// section, and no writer may be inside Sync relying on this record.
func (t *EBRThread) Unregister() {
	if t.entries != 0 {
		panic("smr: EBR unregister inside critical section")
	}
	e := t.eb
	for {
		var prev *EBRThread
		cur := e.head.Load()
		for cur != nil && cur != t {
			prev = cur
			cur = cur.next.Load()
		}
		if cur == nil {
			return
		}
		if prev == nil {
			if e.head.CompareAndSwap(t, t.next.Load()) {
				return
			}
		} else if prev.next.CompareAndSwap(t, t.next.Load()) {
			continue // rescan in case prev was unlinked concurrently
		}
	}
}

// Enter begins a critical section: the outermost call stamps the record
// with the current global epoch and raises the active flag in a single
// word store. Pointers loaded from protected storage stay valid until
// the matching Exit.
func (t *EBRThread) Enter() {
	if t.entries == 0 {
		t.state.Store(ebrActive | t.eb.epoch.Load())
	}
	t.entries++
}

// Exit ends a critical section; only the outermost call clears the
// active flag. Entries must be strictly nested.
func (t *EBRThread) Exit() {
	if t.entries == 0 {
		panic("smr: unbalanced EBR exit")
	}
	t.entries--
	if t.entries == 0 {
		t.state.Store(0)
	}
}

// Sync attempts to advance the global epoch: it succeeds iff every
// active record is stamped with the current epoch, meaning every reader
// still inside a critical section entered after the previous rotation.
// On success it returns the new epoch and true; otherwise the current
// epoch and false. This is the only function that advances the epoch,
// and between racing callers exactly one wins per generation.
func (e *EBR) Sync() (uint64, bool) {
	cur := e.epoch.Load()

	for t := e.head.Load(); t != nil; t = t.next.Load() {
		s := t.state.Load()
		if s&ebrActive != 0 && s&ebrEpochMask != cur {
			return cur, false
		}
	}
	next := (cur + 1) % ebrEpochs
	if !e.epoch.CompareAndSwap(cur, next) {
		return e.epoch.Load(), false // lost the race; epoch moved anyway
	}
	return next, true
}

// StagingEpoch returns the slot newly retired objects are tagged with.
func (e *EBR) StagingEpoch() uint64 {
	return e.epoch.Load()
}

// IncumbentEpoch returns the slot whose objects are reclaimable now.
// A tag taken from StagingEpoch first equals it after two advances:
// the first rotation flushes readers that entered before the retire,
// the second proves they have all exited.
func (e *EBR) IncumbentEpoch() uint64 {
	return (e.epoch.Load() + 1) % ebrEpochs
}

// PendingEpoch returns the slot that becomes reclaimable after the next
// successful Sync.
func (e *EBR) PendingEpoch() uint64 {
	return (e.epoch.Load() + 2) % ebrEpochs
}

/************** Reclaimer backing **************/

func (e *EBR) StagingTag() uint64 {
	return e.StagingEpoch()
}

func (e *EBR) IsSafe(tag uint64) bool {
	return tag == e.IncumbentEpoch()
}

// Advance attempts one rotation and returns the staging epoch after it.
func (e *EBR) Advance() uint64 {
	epoch, _ := e.Sync()
	return epoch
}
