// Package tl2mem implements a TL2 (Transactional Locking II) software
// transactional memory runtime: a shared memory region of aligned word
// segments, addressed and mutated only through transactions that either
// commit atomically or abort with no observable effect.
package tl2mem

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/arcflow-labs/tl2mem/segment"
)

// Region owns the initial segment, the dynamic ordered collection of
// additional segments, the word alignment, and the global version clock
// (spec.md §3). Every operation takes an explicit region handle; there is
// no package-level mutable state, and the clock is a field of the region
// shared by all of its transactions.
type Region struct {
	align uint64

	// head is the region's first, non-deallocatable segment (spec.md §3).
	head *segment.Segment

	// clock is the monotonically increasing global version clock,
	// advanced only by successful read-write commits (spec.md §3).
	clock uint64

	// segs holds the current *segment.List snapshot, published with
	// release ordering on every mutation. Readers (find_segment callers)
	// load it without taking listMu (spec.md §5).
	segs atomic.Value

	// listMu serializes segment-list mutation: Alloc, the segment-unlink
	// step of a committing Free, and the unlink of an aborted
	// transaction's allocations. Create publishes the first list before
	// the region is shared, without taking it. It does not serialize
	// reads.
	listMu sync.Mutex

	// nextAddr is a bump allocator handing out fresh, disjoint base
	// addresses to newly allocated segments. Addresses are never reused,
	// even after a segment is freed, so a write-set entry's weak
	// reference to a VLock is never aliased onto unrelated memory
	// (spec.md §9).
	nextAddr uint64

	liveTxns int64 // atomic count of begun-but-not-ended transactions
	closed   uint32

	logger           log.Logger
	promReg          prometheus.Registerer
	metricsNamespace string
	metrics          *regionMetrics
}

// defaultBase is the base address of the initial segment; the bump
// allocator hands out addresses for later segments starting right after
// it. It is offset away from zero so that address 0 can unambiguously
// mean "no address" in internal plumbing.
const defaultBase = uint64(0x1000)

// Create allocates and initializes a new shared memory region with one
// first, non-deallocatable segment of the requested size and alignment.
// size must be a positive multiple of align; align must be a power of two.
func Create(size, align int, opts ...RegionOption) (*Region, error) {
	if align <= 0 || align&(align-1) != 0 {
		return nil, fmt.Errorf("%w: align must be a power of two, got %d", ErrInvalidArgument, align)
	}
	if size <= 0 || size%align != 0 {
		return nil, fmt.Errorf("%w: size must be a positive multiple of align %d, got %d", ErrInvalidArgument, align, size)
	}

	r := &Region{
		align:            uint64(align),
		logger:           log.NewNopLogger(),
		promReg:          prometheus.DefaultRegisterer,
		metricsNamespace: "tl2mem",
	}
	for _, opt := range opts {
		opt(r)
	}
	r.metrics = newRegionMetrics(r.promReg, r.metricsNamespace)

	head, err := segment.New(defaultBase, size, align, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidArgument, err)
	}
	head.Initial = true
	r.head = head
	r.nextAddr = head.End()

	r.segs.Store(segment.NewList().Insert(head))
	r.metrics.segmentsAllocated.Inc()

	level.Info(r.logger).Log("msg", "region created", "size", size, "align", align)
	return r, nil
}

// Destroy releases a region. The region must have no live transaction.
func (r *Region) Destroy() error {
	if live := atomic.LoadInt64(&r.liveTxns); live != 0 {
		return fmt.Errorf("%w: %d live transaction(s)", ErrLiveTransactions, live)
	}
	atomic.StoreUint32(&r.closed, 1)
	level.Info(r.logger).Log("msg", "region destroyed")
	return nil
}

func (r *Region) checkOpen() error {
	if atomic.LoadUint32(&r.closed) != 0 {
		return ErrClosed
	}
	return nil
}

// Start returns the base address of the region's initial segment.
func (r *Region) Start() uint64 { return r.head.Base }

// Size returns the byte size of the region's initial segment.
func (r *Region) Size() int { return r.head.WordCount * r.head.Align }

// Align returns the region's word alignment, in bytes.
func (r *Region) Align() int { return int(r.align) }

// segmentList loads the current, lock-free-readable segment list snapshot.
func (r *Region) segmentList() *segment.List {
	return r.segs.Load().(*segment.List)
}

// findSegment locates the segment containing addr (spec.md §4.2's
// find_segment). It never blocks: readers race freely with listMu-guarded
// mutators because the mutator only ever publishes a new, complete List
// via r.segs.Store after building it.
func (r *Region) findSegment(addr uint64) (*segment.Segment, bool) {
	return r.segmentList().Find(addr)
}

// loadClock atomically samples the global version clock.
func (r *Region) loadClock() uint64 {
	return atomic.LoadUint64(&r.clock)
}

// advanceClock atomically reserves the next write-version: fetch_add(1)+1,
// per spec.md §9's resolution of the fetch_add ambiguity — the committed
// value equals the post-increment, guaranteeing a fresh wv strictly
// greater than any concurrent rv.
func (r *Region) advanceClock() uint64 {
	wv := atomic.AddUint64(&r.clock, 1)
	r.metrics.clock.Set(float64(wv))
	return wv
}

// allocateAddress reserves size contiguous, disjoint bytes of address
// space for a freshly allocated segment.
func (r *Region) allocateAddress(size int) uint64 {
	return atomic.AddUint64(&r.nextAddr, uint64(size)) - uint64(size)
}
