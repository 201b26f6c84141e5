package segment

import (
	"fmt"

	"golang.org/x/sys/cpu"
)

// paddedLock wraps a VLock with enough trailing padding that two adjacent
// slots never share a cache line. Contending CAS traffic on neighboring
// words would otherwise bounce the same line between cores.
type paddedLock struct {
	VLock
	_ cpu.CacheLinePad
}

// Segment is a contiguous, word-aligned byte buffer with a parallel array
// of VLocks, one per word-slot (spec.md §3). The first segment of a region
// is flagged non-deallocatable (Initial).
type Segment struct {
	Base      uint64 // address of RawData[0], used as the ordering/lookup key
	WordCount int
	Align     int
	RawData   []byte
	locks     []paddedLock
	Initial   bool
}

// New allocates a fresh segment of size bytes (a positive multiple of
// align) with word-count VLocks initialized to the given version, unlocked.
// base is the address this segment is published under; callers obtain it
// from an address allocator (see region.go's bump allocator).
func New(base uint64, size, align int, initialVersion uint64) (*Segment, error) {
	if align <= 0 || align&(align-1) != 0 {
		return nil, fmt.Errorf("align must be a power of two, got %d", align)
	}
	if size <= 0 || size%align != 0 {
		return nil, fmt.Errorf("size must be a positive multiple of align %d, got %d", align, size)
	}
	wordCount := size / align
	seg := &Segment{
		Base:      base,
		WordCount: wordCount,
		Align:     align,
		RawData:   make([]byte, size),
		locks:     make([]paddedLock, wordCount),
	}
	for i := range seg.locks {
		InitVLock(&seg.locks[i].VLock, initialVersion)
	}
	return seg, nil
}

// End returns the address one past the last byte of the segment.
func (s *Segment) End() uint64 {
	return s.Base + uint64(s.WordCount*s.Align)
}

// Contains reports whether addr falls within [Base, End).
func (s *Segment) Contains(addr uint64) bool {
	return addr >= s.Base && addr < s.End()
}

// IndexOf returns the word-slot index for addr and whether addr both lies
// within the segment and is aligned to a word boundary. This is the Go
// analogue of the original C implementation's find_lock bounds check
// (original_source/352731/tm.c).
func (s *Segment) IndexOf(addr uint64) (index int, ok bool) {
	if !s.Contains(addr) {
		return 0, false
	}
	off := addr - s.Base
	if off%uint64(s.Align) != 0 {
		return 0, false
	}
	idx := int(off / uint64(s.Align))
	return idx, idx >= 0 && idx < s.WordCount
}

// Lock returns the VLock guarding the word at the given slot index.
func (s *Segment) Lock(index int) *VLock {
	return &s.locks[index].VLock
}

// WordAt returns a slice of s.Align bytes for the word at index, aliasing
// the segment's backing array.
func (s *Segment) WordAt(index int) []byte {
	start := index * s.Align
	return s.RawData[start : start+s.Align]
}
