package tl2mem

import "errors"

// Sentinel errors describing why an operation failed. These are the
// exported form of spec.md §7's error taxonomy. Read, Write and Free
// return an error (nil on success), Alloc returns an AllocResult plus an
// error, and End returns a bool plus an error; every abort path returns
// one of these, wrapped, so it can be logged, counted, and tested by
// errors.Is.
var (
	// ErrInvalidArgument covers size-not-a-multiple-of-align, freeing the
	// region's initial segment, and writing inside a read-only transaction.
	ErrInvalidArgument = errors.New("tl2mem: invalid argument")

	// ErrNoMemory is returned by Alloc when the underlying allocator is
	// exhausted. It is distinguished from abort: the transaction is not
	// poisoned and the caller may retry Alloc or abandon the transaction.
	ErrNoMemory = errors.New("tl2mem: allocator exhausted")

	// ErrConflict covers every TL2 optimistic-concurrency failure: a read
	// of a word newer than the read-version, a pre/post read sample
	// mismatch, a failed write-set lock acquisition at commit, a written
	// word found newer than the read-version at commit, or a read-set
	// validation failure.
	ErrConflict = errors.New("tl2mem: transaction conflict")

	// ErrUseAfterFree is returned when a transaction reads or writes an
	// address it has already freed within the same transaction.
	ErrUseAfterFree = errors.New("tl2mem: use after free in transaction")

	// ErrDoubleFree is returned when a transaction frees a segment it has
	// already freed.
	ErrDoubleFree = errors.New("tl2mem: double free in transaction")

	// ErrNotFound is returned when an address does not fall within any
	// segment currently in the region, or when a Free target is not the
	// base address of one.
	ErrNotFound = errors.New("tl2mem: address not found in any segment")

	// ErrClosed is returned by operations on a destroyed region.
	ErrClosed = errors.New("tl2mem: region is destroyed")

	// ErrTransactionDone is returned when an operation is attempted on a
	// transaction that has already committed or aborted.
	ErrTransactionDone = errors.New("tl2mem: transaction already ended")

	// ErrLiveTransactions is returned by Destroy when transactions are
	// still active on the region.
	ErrLiveTransactions = errors.New("tl2mem: region has live transactions")
)
