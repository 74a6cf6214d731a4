// Package smr provides safe memory reclamation for lock-free data
// structures: quiescent-state based reclamation (QSBR), epoch based
// reclamation (EBR), and a deferred-destruction queue (GC) layered on
// either of them.
//
// The common shape: readers access shared objects under a protocol that
// lets writers prove a grace period: an interval after which no reader
// can still hold a reference to an object retired before it. Writers
// unlink an object from shared storage first, then either hand it to a
// GC queue or track its epoch tag themselves and free it once the
// backing SMR reports the tag safe.
//
// QSBR readers call Checkpoint between units of work ("I hold no
// protected references right now"); a thread idle for a long stretch
// goes Offline so writers stop waiting on it. EBR readers bracket every
// access with Enter/Exit and need no periodic duty. Both interfaces are
// asynchronous: Sync reports whether the grace period has elapsed, it
// never blocks. Wait and Flush are the polling conveniences on top.
//
// Every instance is explicit; there is no process-wide default.
package smr
