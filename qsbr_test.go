package smr

import (
	"sync"
	"testing"
	"time"
)

func qsbrRecords(q *QSBR) []*QSBRThread {
	var out []*QSBRThread
	for t := q.head.Load(); t != nil; t = t.next.Load() {
		out = append(out, t)
	}
	return out
}

func TestCheckpointObservesGlobalEpoch(t *testing.T) {
	q := NewQSBR()
	r := q.Register()

	if r.Epoch() != 0 {
		t.Errorf("expected fresh record epoch=0, got %d", r.Epoch())
	}
	r.Checkpoint()
	if r.Epoch() != 2 {
		t.Errorf("expected epoch=2 after checkpoint, got %d", r.Epoch())
	}
	q.Barrier()
	r.Checkpoint()
	if r.Epoch() != 3 {
		t.Errorf("expected epoch=3 after barrier+checkpoint, got %d", r.Epoch())
	}
}

func TestBarrierMonotone(t *testing.T) {
	q := NewQSBR()
	b1 := q.Barrier()
	b2 := q.Barrier()
	if b1 != 3 || b2 != b1+1 {
		t.Errorf("expected barriers 3,4, got %d,%d", b1, b2)
	}
}

func TestSyncWaitsForLaggingReader(t *testing.T) {
	q := NewQSBR()
	w := q.Register()
	r := q.Register()
	r.Checkpoint()

	target := q.Barrier()
	if w.Sync(target) {
		t.Fatal("sync must not pass while a reader lags behind the target")
	}
	r.Checkpoint()
	if !w.Sync(target) {
		t.Fatal("sync should pass once every reader observed the target")
	}
}

func TestSyncFreshRecordBlocks(t *testing.T) {
	q := NewQSBR()
	w := q.Register()
	_ = q.Register() // never checkpoints

	if w.Sync(q.Barrier()) {
		t.Fatal("a registered thread that never checkpointed must block sync")
	}
}

func TestSyncSkipsOfflineThreads(t *testing.T) {
	q := NewQSBR()
	w := q.Register()

	var readers [4]*QSBRThread
	for i := range readers {
		readers[i] = q.Register()
		readers[i].Checkpoint()
	}
	readers[0].Offline()
	readers[1].Offline()

	target := q.Barrier()
	if w.Sync(target) {
		t.Fatal("sync must still wait on the online readers")
	}
	readers[2].Checkpoint()
	readers[3].Checkpoint()
	if !w.Sync(target) {
		t.Fatal("sync should pass without waiting on offline threads")
	}
}

func TestOnlineReobservesEpoch(t *testing.T) {
	q := NewQSBR()
	w := q.Register()
	r := q.Register()
	r.Checkpoint()

	r.Offline()
	if !w.Sync(q.Barrier()) {
		t.Fatal("offline reader must not hold up a grace period")
	}

	r.Online()
	if r.Epoch() != Epoch(q.epoch.Load()) {
		t.Errorf("online should republish the global epoch, got %d", r.Epoch())
	}
	target := q.Barrier()
	if w.Sync(target) {
		t.Fatal("reader is online again and must be waited on")
	}
	r.Checkpoint()
	if !w.Sync(target) {
		t.Fatal("sync should pass after the reader's checkpoint")
	}
}

func TestWaitReturnsOnceReadersCheckpoint(t *testing.T) {
	q := NewQSBR()
	w := q.Register()
	r := q.Register()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				r.Checkpoint()
				return
			default:
				r.Checkpoint()
			}
		}
	}()

	w.Wait(100 * time.Microsecond)
	close(stop)
	wg.Wait()
}

func TestRegisterRace(t *testing.T) {
	const nthreads = 64
	q := NewQSBR()

	handles := make(chan *QSBRThread, nthreads)
	var wg sync.WaitGroup
	for i := 0; i < nthreads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			handles <- q.Register()
		}()
	}
	wg.Wait()
	close(handles)

	recs := qsbrRecords(q)
	if len(recs) != nthreads {
		t.Fatalf("expected %d registry records, got %d", nthreads, len(recs))
	}
	seen := make(map[*QSBRThread]bool, nthreads)
	for _, r := range recs {
		if seen[r] {
			t.Fatal("duplicate record in registry")
		}
		seen[r] = true
	}
	for h := range handles {
		if !seen[h] {
			t.Fatal("registered handle missing from registry")
		}
	}
}

func TestUnregisterUnlinks(t *testing.T) {
	q := NewQSBR()
	a := q.Register()
	b := q.Register()
	c := q.Register() // list head is c

	b.Unregister() // middle
	if got := qsbrRecords(q); len(got) != 2 || got[0] != c || got[1] != a {
		t.Fatalf("expected [c a] after middle unlink, got %v", got)
	}
	c.Unregister() // head
	a.Unregister() // tail
	if got := qsbrRecords(q); len(got) != 0 {
		t.Fatalf("expected empty registry, got %d records", len(got))
	}
	a.Unregister() // no longer linked, must be a no-op
}

func BenchmarkCheckpoint(b *testing.B) {
	q := NewQSBR()
	r := q.Register()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.Checkpoint()
	}
}

func BenchmarkBarrierSync(b *testing.B) {
	q := NewQSBR()
	w := q.Register()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if !w.Sync(q.Barrier()) {
			b.Fatal("sync failed with a single registered thread")
		}
	}
}
