// Stress driver for the smr package: one writer flips the visibility of
// shared slots and reclaims them through a grace period while every other
// worker keeps dereferencing whatever it can still see. An incorrect
// reclamation mechanism makes a reader see a nil pointer or a wrong value,
// and the reader panics.
package main

import (
	"flag"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"smr"
)

const (
	dsCount  = 4
	magicVal = 0x5a5a5a5a
	epochOff = 3 // slot retire tag 0 means "not retired"
)

type dataStruct struct {
	ptr     atomic.Pointer[uint32]
	visible atomic.Bool
	gcEpoch uint64 // writer-owned retire tag, offset by epochOff
	_       [40]byte
}

var (
	magic = uint32(magicVal)
	ds    [dsCount]dataStruct
	stop  atomic.Bool
)

func ebrWriter(e *smr.EBR, target int) {
	obj := &ds[target]

	switch {
	case obj.visible.Load():
		// Remove semantics: hide the object and stage it for reclaim.
		obj.visible.Store(false)
		obj.gcEpoch = epochOff + e.StagingEpoch()
	case obj.gcEpoch == 0:
		// Insert semantics: set the value, then make it visible.
		obj.ptr.Store(&magic)
		obj.visible.Store(true)
	default:
		// Invisible, but not yet reclaimed.
	}

	e.Sync()
	for i := range ds {
		if ds[i].gcEpoch == epochOff+e.IncumbentEpoch() {
			ds[i].ptr.Store(nil)
			ds[i].gcEpoch = 0
		}
	}
}

func ebrStress(e *smr.EBR, id int, start chan struct{}) {
	t := e.Register()
	<-start

	for n := 0; !stop.Load(); n = (n + 1) & (dsCount - 1) {
		if id == 0 {
			ebrWriter(e, n)
			continue
		}
		// Reader: if the object is visible, read its value through the
		// pointer. The writer nils the pointer once it considers the
		// object reclaimable.
		t.Enter()
		if ds[n].visible.Load() {
			if p := ds[n].ptr.Load(); p == nil || *p != magicVal {
				panic("reader observed a reclaimed object")
			}
		}
		t.Exit()
	}
}

func qsbrWriter(q *smr.QSBR, w *smr.QSBRThread, target int) {
	obj := &ds[target]

	if obj.visible.Load() {
		obj.visible.Store(false)
		// Make sure all readers have let go of the object.
		w.Wait(100 * time.Nanosecond)
		obj.ptr.Store(nil)
	} else {
		obj.ptr.Store(&magic)
		obj.visible.Store(true)
	}
}

func qsbrStress(q *smr.QSBR, id int, start chan struct{}) {
	t := q.Register()
	<-start

	for n := 0; !stop.Load(); n = (n + 1) & (dsCount - 1) {
		if id == 0 {
			qsbrWriter(q, t, n)
			continue
		}
		if ds[n].visible.Load() {
			if p := ds[n].ptr.Load(); p == nil || *p != magicVal {
				panic("reader observed a reclaimed object")
			}
		}
		t.Checkpoint()
	}
	// Ensure a writer mid-wait can finish.
	t.Checkpoint()
	t.Offline()
}

func runTest(worker func(int, chan struct{})) {
	nworkers := runtime.NumCPU() + 1
	fmt.Printf("num workers: %d\n", nworkers)

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < nworkers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			worker(id, start)
		}(i)
	}
	close(start)

	wg.Wait()
}

func main() {
	nsec := flag.Uint("d", 10, "test duration in seconds")
	alg := flag.String("alg", "ebr", "reclamation mechanism: ebr or qsbr")
	flag.Parse()

	time.AfterFunc(time.Duration(*nsec)*time.Second, func() { stop.Store(true) })

	switch *alg {
	case "qsbr":
		fmt.Println("QSBR stress test")
		q := smr.NewQSBR()
		runTest(func(id int, start chan struct{}) { qsbrStress(q, id, start) })
	default:
		fmt.Println("EBR stress test")
		e := smr.NewEBR()
		runTest(func(id int, start chan struct{}) { ebrStress(e, id, start) })
	}
	fmt.Println("ok")
}
