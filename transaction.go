package tl2mem

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-kit/log/level"

	"github.com/arcflow-labs/tl2mem/segment"
)

// txState is the transaction state machine of spec.md §4.5: Active ->
// Committing -> (Committed | Aborted). A transaction is owned by exactly
// one goroutine for its entire lifetime, so this needs no synchronization
// of its own.
type txState int32

const (
	txActive txState = iota
	txCommitting
	txCommitted
	txAborted
)

// AllocResult is the three-valued result of Alloc (spec.md §4.5/§6):
// success, an allocator failure that does not poison the transaction, or
// a transaction-fatal abort (e.g. invalid size).
type AllocResult int

const (
	AllocSuccess AllocResult = iota
	AllocNoMem
	AllocAbort
)

// Transaction binds a read-version snapshot, a write-version (filled only
// at commit), a read-only flag, and the read/write sets (spec.md §3).
type Transaction struct {
	region   *Region
	rv       uint64
	wv       uint64
	readOnly bool
	state    txState

	reads  readSet
	writes *writeSet

	acquired  []*segment.VLock   // locks held mid-commit, for rollback on failed validation
	allocated []*segment.Segment // segments Alloc'd by this transaction, for unlink on abort
}

// Begin starts a new transaction on the region, sampling the global clock
// as the transaction's read-version (spec.md §4.5).
func (r *Region) Begin(readOnly bool) (*Transaction, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	tx := &Transaction{
		region:   r,
		readOnly: readOnly,
		writes:   newWriteSet(),
		state:    txActive,
	}
	tx.rv = r.loadClock()
	atomic.AddInt64(&r.liveTxns, 1)
	r.metrics.activeTransactions.Inc()
	return tx, nil
}

func (tx *Transaction) requireActive() error {
	if tx.state != txActive {
		return ErrTransactionDone
	}
	return nil
}

// abort transitions the transaction directly to Aborted (spec.md §4.5's
// state machine), releasing any locks it had already acquired mid-commit,
// unlinking any segment it allocated, and discarding its buffers, then
// records the reason. This is what makes an aborted transaction leave no
// trace (spec.md §8 invariant 6): a segment Alloc'd earlier in the same
// transaction is published into the region's live segment list
// immediately (so a later Read/Write in the same transaction can see it),
// but is unlinked again here if the transaction never reaches a
// successful End.
func (tx *Transaction) abort(reason string, cause error) error {
	if tx.state == txAborted || tx.state == txCommitted {
		return cause
	}
	if len(tx.acquired) > 0 {
		releaseLocks(tx.acquired)
		tx.acquired = nil
	}
	tx.unlinkAllocatedSegments()
	tx.reads.reset()
	tx.writes = newWriteSet()
	tx.state = txAborted
	tx.region.metrics.recordAbort(reason)
	level.Debug(tx.region.logger).Log("msg", "transaction aborted", "reason", reason, "err", cause)
	tx.finish()
	return cause
}

// unlinkAllocatedSegments removes every segment this transaction Alloc'd
// from the region's segment list under the list mutex, the same way
// unlinkFreedSegments does for a committing Free. Called only from abort;
// a committed transaction's allocations stay live.
func (tx *Transaction) unlinkAllocatedSegments() {
	if len(tx.allocated) == 0 {
		return
	}
	tx.region.listMu.Lock()
	list := tx.region.segmentList()
	for _, seg := range tx.allocated {
		list = list.Remove(seg.Base)
	}
	tx.region.segs.Store(list)
	tx.region.listMu.Unlock()
	tx.region.metrics.segmentsFreed.Add(float64(len(tx.allocated)))
	tx.allocated = nil
}

// finish decrements the region's live-transaction count. Called exactly
// once, whether the transaction committed or aborted.
func (tx *Transaction) finish() {
	atomic.AddInt64(&tx.region.liveTxns, -1)
	tx.region.metrics.activeTransactions.Dec()
}

// Read copies size bytes from source (in the shared region) to target (a
// private buffer), word-slot by word-slot, performing the TL2 speculative
// read protocol of spec.md §4.5. size must be a positive multiple of the
// region's alignment. A nil error return is the "true" outcome of
// spec.md §6's read operation; a non-nil error is "false" (the
// transaction has been aborted and must not be used again).
func (tx *Transaction) Read(source uint64, size int, target []byte) error {
	if err := tx.requireActive(); err != nil {
		return err
	}
	align := tx.region.Align()
	if size <= 0 || size%align != 0 || len(target) < size {
		return tx.abort("invalid_argument", fmt.Errorf("%w: read size %d is not a positive multiple of align %d", ErrInvalidArgument, size, align))
	}

	words := size / align
	for i := 0; i < words; i++ {
		addr := source + uint64(i*align)
		dst := target[i*align : (i+1)*align]

		if !tx.readOnly {
			if e, ok := tx.writes.get(addr); ok {
				if e.isFreed {
					return tx.abort("use_after_free", fmt.Errorf("%w: read of freed address", ErrUseAfterFree))
				}
				copy(dst, e.src)
				continue
			}
		}

		seg, ok := tx.region.findSegment(addr)
		if !ok {
			return tx.abort("invalid_argument", fmt.Errorf("%w: read source 0x%x", ErrNotFound, addr))
		}
		idx, ok := seg.IndexOf(addr)
		if !ok {
			return tx.abort("invalid_argument", fmt.Errorf("%w: read source 0x%x is not word-aligned within its segment", ErrInvalidArgument, addr))
		}
		lock := seg.Lock(idx)

		_, versionPre := lock.Sample()
		if versionPre > tx.rv {
			return tx.abort("conflict", fmt.Errorf("%w: word 0x%x updated since begin", ErrConflict, addr))
		}

		copy(dst, seg.WordAt(idx))

		lockedPost, versionPost := lock.Sample()
		if lockedPost || versionPost != versionPre {
			return tx.abort("conflict", fmt.Errorf("%w: word 0x%x changed during read", ErrConflict, addr))
		}

		if !tx.readOnly {
			tx.reads.record(addr, lock)
		}
	}
	tx.region.metrics.bytesRead.Add(float64(size))
	return nil
}

// Write overwrites size bytes at target (in the shared region) with the
// bytes from source (a private buffer), buffering them in the write set
// until commit (spec.md §4.5). The transaction must not be read-only.
func (tx *Transaction) Write(source []byte, size int, target uint64) error {
	if err := tx.requireActive(); err != nil {
		return err
	}
	if tx.readOnly {
		return tx.abort("invalid_argument", fmt.Errorf("%w: write in read-only transaction", ErrInvalidArgument))
	}
	align := tx.region.Align()
	if size <= 0 || size%align != 0 || len(source) < size {
		return tx.abort("invalid_argument", fmt.Errorf("%w: write size %d is not a positive multiple of align %d", ErrInvalidArgument, size, align))
	}

	words := size / align
	for i := 0; i < words; i++ {
		addr := target + uint64(i*align)
		src := source[i*align : (i+1)*align]

		if e, ok := tx.writes.get(addr); ok {
			if e.isFreed {
				return tx.abort("use_after_free", fmt.Errorf("%w: write to freed address", ErrUseAfterFree))
			}
			shadow := make([]byte, align)
			copy(shadow, src)
			e.src = shadow
			continue
		}

		seg, ok := tx.region.findSegment(addr)
		if !ok {
			return tx.abort("invalid_argument", fmt.Errorf("%w: write target 0x%x", ErrNotFound, addr))
		}
		idx, ok := seg.IndexOf(addr)
		if !ok {
			return tx.abort("invalid_argument", fmt.Errorf("%w: write target 0x%x is not word-aligned within its segment", ErrInvalidArgument, addr))
		}

		shadow := make([]byte, align)
		copy(shadow, src)
		tx.writes.put(&writeEntry{
			dest:      addr,
			destSlice: seg.WordAt(idx),
			src:       shadow,
			lock:      seg.Lock(idx),
		})
	}
	return nil
}

// Alloc allocates a fresh segment of size bytes (a positive multiple of
// the region's alignment) and publishes its base address through *out.
// Unlike Read/Write/Free, a failed allocation does not necessarily abort
// the transaction: AllocNoMem signals the caller may retry; AllocAbort
// signals a transaction-fatal invariant violation (spec.md §4.6).
func (tx *Transaction) Alloc(size int, out *uint64) (AllocResult, error) {
	if err := tx.requireActive(); err != nil {
		return AllocAbort, err
	}
	if tx.readOnly {
		err := tx.abort("invalid_argument", fmt.Errorf("%w: alloc in read-only transaction", ErrInvalidArgument))
		return AllocAbort, err
	}
	align := tx.region.Align()
	if size <= 0 || size%align != 0 {
		err := tx.abort("invalid_argument", fmt.Errorf("%w: alloc size %d is not a positive multiple of align %d", ErrInvalidArgument, size, align))
		return AllocAbort, err
	}

	base := tx.region.allocateAddress(size)
	seg, err := segment.New(base, size, align, tx.rv)
	if err != nil {
		return AllocNoMem, fmt.Errorf("%w: %s", ErrNoMemory, err)
	}

	tx.region.listMu.Lock()
	tx.region.segs.Store(tx.region.segmentList().Insert(seg))
	tx.region.listMu.Unlock()
	tx.allocated = append(tx.allocated, seg)

	tx.region.metrics.segmentsAllocated.Inc()
	*out = base
	return AllocSuccess, nil
}

// Free schedules the segment based at target for deallocation at commit.
// target must not be the region's initial segment base. Every word-slot
// of the segment gets a write-set entry marked isFreed; the entry
// covering the segment's first word carries segToFree so commit can
// unlink and release the whole segment (spec.md §4.5).
func (tx *Transaction) Free(target uint64) error {
	if err := tx.requireActive(); err != nil {
		return err
	}
	if tx.readOnly {
		return tx.abort("invalid_argument", fmt.Errorf("%w: free in read-only transaction", ErrInvalidArgument))
	}
	if target == tx.region.head.Base {
		return tx.abort("invalid_argument", fmt.Errorf("%w: cannot free the region's initial segment", ErrInvalidArgument))
	}
	seg, ok := tx.region.findSegment(target)
	if !ok || seg.Base != target {
		return tx.abort("invalid_argument", fmt.Errorf("%w: free target 0x%x is not a segment base", ErrNotFound, target))
	}

	for i := 0; i < seg.WordCount; i++ {
		addr := seg.Base + uint64(i*seg.Align)
		if e, ok := tx.writes.get(addr); ok {
			if e.isFreed {
				return tx.abort("double_free", fmt.Errorf("%w: segment at 0x%x already freed", ErrDoubleFree, target))
			}
			e.isFreed = true
			e.src = nil
		} else {
			tx.writes.put(&writeEntry{
				dest:    addr,
				lock:    seg.Lock(i),
				isFreed: true,
			})
		}
		if i == 0 {
			e, _ := tx.writes.get(addr)
			e.segToFree = seg
		}
	}
	return nil
}

// End commits or aborts the transaction, implementing spec.md §4.5's TL2
// commit sequence. The returned bool is true iff the transaction
// committed, matching spec.md §6's end operation.
func (tx *Transaction) End() (bool, error) {
	if err := tx.requireActive(); err != nil {
		return false, err
	}

	if tx.readOnly {
		tx.reads.reset()
		tx.state = txCommitted
		tx.region.metrics.readOnlyCommitsTotal.Inc()
		tx.finish()
		return true, nil
	}

	start := time.Now()
	tx.state = txCommitting

	if tx.writes.len() == 0 {
		// Nothing was written; equivalent to a read-only commit.
		tx.reads.reset()
		tx.writes = newWriteSet()
		tx.state = txCommitted
		tx.region.metrics.readOnlyCommitsTotal.Inc()
		tx.finish()
		return true, nil
	}

	acquired, ok := tx.writes.acquireLocks()
	if !ok {
		err := tx.abort("lock_acquire_failed", fmt.Errorf("%w: failed to acquire write-set locks", ErrConflict))
		return false, err
	}
	tx.acquired = acquired

	// A written word whose version is newer than rv was committed by another
	// transaction after this one began: of two overlapping writers to the
	// same word, only the first to commit succeeds.
	newer := false
	tx.writes.forEach(func(e *writeEntry) {
		if _, v := e.lock.Sample(); !e.isFreed && v > tx.rv {
			newer = true
		}
	})
	if newer {
		err := tx.abort("conflict", fmt.Errorf("%w: write-set word updated since begin", ErrConflict))
		return false, err
	}

	tx.wv = tx.region.advanceClock()

	if !tx.reads.validate(tx.wv, tx.rv, tx.writes) {
		releaseLocks(tx.acquired)
		tx.acquired = nil
		err := tx.abort("validation_failed", fmt.Errorf("%w: read-set validation failed", ErrConflict))
		return false, err
	}

	bytesWritten := tx.writes.commitAndRelease(tx.wv, func(addr uint64) {
		level.Error(tx.region.logger).Log("msg", "commit invariant violation: write-back of unresolved entry", "addr", addr)
	})
	tx.acquired = nil

	tx.unlinkFreedSegments()

	tx.region.metrics.bytesWritten.Add(float64(bytesWritten))
	tx.region.metrics.commitsTotal.Inc()
	tx.region.metrics.commitLatency.Observe(time.Since(start).Seconds())

	tx.reads.reset()
	tx.writes = newWriteSet()
	tx.state = txCommitted
	tx.finish()
	return true, nil
}

// unlinkFreedSegments removes every segment scheduled for deallocation
// from the region's segment list under the list mutex, then lets Go's GC
// reclaim their backing arrays once no reader holds a stale List snapshot
// referencing them (spec.md §9's safe-reclamation note).
func (tx *Transaction) unlinkFreedSegments() {
	var toFree []*segment.Segment
	tx.writes.forEach(func(e *writeEntry) {
		if e.segToFree != nil {
			toFree = append(toFree, e.segToFree)
		}
	})
	if len(toFree) == 0 {
		return
	}
	tx.region.listMu.Lock()
	list := tx.region.segmentList()
	for _, seg := range toFree {
		list = list.Remove(seg.Base)
	}
	tx.region.segs.Store(list)
	tx.region.listMu.Unlock()
	tx.region.metrics.segmentsFreed.Add(float64(len(toFree)))
}
