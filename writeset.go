package tl2mem

import (
	"github.com/benbjohnson/immutable"

	"github.com/arcflow-labs/tl2mem/segment"
)

// writeEntry is a write-set entry (spec.md §3): the target address, a
// private shadow copy of the bytes to be committed, a non-owning reference
// to the VLock guarding dest, and the free-related flags. At most one
// writeEntry exists per dest within a single transaction (enforced by
// writeSet.put below, which keys entries by dest).
type writeEntry struct {
	dest      uint64
	destSlice []byte // aliases the shared segment's backing array at dest
	src       []byte
	lock      *segment.VLock
	isFreed   bool
	segToFree *segment.Segment // set only on the entry covering a freed segment's first word
}

// writeSet stores shadow writes keyed by dest, organized as a binary
// search tree ordered by address (spec.md §4.3's second permitted
// organization), realized with the same persistent sorted map the region
// uses for its segment list (benbjohnson/immutable). Ordered iteration
// gives deterministic, per-transaction lock-acquisition order.
type writeSet struct {
	m *immutable.SortedMap[uint64, *writeEntry]
}

func newWriteSet() *writeSet {
	return &writeSet{m: &immutable.SortedMap[uint64, *writeEntry]{}}
}

func (ws *writeSet) get(addr uint64) (*writeEntry, bool) {
	return ws.m.Get(addr)
}

func (ws *writeSet) put(e *writeEntry) {
	ws.m = ws.m.Set(e.dest, e)
}

func (ws *writeSet) len() int {
	return ws.m.Len()
}

// forEach calls fn for every entry in ascending address order.
func (ws *writeSet) forEach(fn func(*writeEntry)) {
	it := ws.m.Iterator()
	for !it.Done() {
		_, e, ok := it.Next()
		if ok {
			fn(e)
		}
	}
}

// acquireLocks attempts to lock every non-freed entry's VLock, in address
// order (spec.md §4.3). On the first failure it releases every lock
// already acquired (without advancing their versions) and returns false;
// the caller discards the transaction's sets and signals commit failure.
// Deterministic per-transaction ordering plus try-only acquisition means
// two transactions racing for the same locks never deadlock: one simply
// fails fast and retries (spec.md §5).
func (ws *writeSet) acquireLocks() (acquired []*segment.VLock, ok bool) {
	acquired = make([]*segment.VLock, 0, ws.len())
	success := true
	ws.forEach(func(e *writeEntry) {
		if !success || e.isFreed {
			return
		}
		if !e.lock.TryAcquire() {
			success = false
			return
		}
		acquired = append(acquired, e.lock)
	})
	if !success {
		for _, l := range acquired {
			l.Release(nil)
		}
		return nil, false
	}
	return acquired, true
}

// releaseLocks releases every lock in locked without advancing its
// version. Used after a failed acquisition or a failed read-set
// validation (spec.md §4.3/§4.4).
func releaseLocks(locked []*segment.VLock) {
	for _, l := range locked {
		l.Release(nil)
	}
}

// commitAndRelease implements spec.md §4.3's commit-and-release: for every
// non-freed entry, copy shadow bytes to dest then release its lock with
// wv as the new version. Freed entries carry no write-back and were never
// locked by acquireLocks (their segment is unlinked separately by the
// caller), so they are simply skipped here. A non-freed entry with no
// resolved destSlice would mean Write() failed to bind a destination
// before insertion — an internal bug, not a reachable user error — so
// that case is reported through onInvariantViolation and its lock is
// released without advancing the version, instead of calling copy() on a
// nil slice and silently writing nothing (mirrors the
// original's wSet_commit defensive check, applied to the failure mode
// that is actually possible in this design).
func (ws *writeSet) commitAndRelease(wv uint64, onInvariantViolation func(addr uint64)) (bytesWritten int) {
	ws.forEach(func(e *writeEntry) {
		if e.isFreed {
			return
		}
		if e.destSlice == nil {
			if onInvariantViolation != nil {
				onInvariantViolation(e.dest)
			}
			e.lock.Release(nil)
			return
		}
		copy(e.destSlice, e.src)
		bytesWritten += len(e.src)
		v := wv
		e.lock.Release(&v)
	})
	return bytesWritten
}
