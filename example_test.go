package smr

import (
	"fmt"
	"time"
)

func ExampleGC() {
	e := NewEBR()
	reclaimed := 0
	g := NewGC(e, func(p *int) { reclaimed += *p })

	for i := 1; i <= 3; i++ {
		v := i
		g.Limbo(&v) // already unlinked from protected storage
	}
	g.Flush(time.Microsecond)

	fmt.Println("reclaimed:", reclaimed)
	// Output: reclaimed: 6
}

func ExampleQSBRThread_Wait() {
	q := NewQSBR()
	w := q.Register()

	// The writer has made the dead object unreachable; after Wait returns
	// every registered thread has passed a quiescent point and the object
	// may be freed.
	w.Wait(time.Microsecond)
	fmt.Println("grace period elapsed")
	// Output: grace period elapsed
}
