package tl2mem

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteThenReadOwnWrite(t *testing.T) {
	r := newTestRegion(t, 64, 8)
	tx, err := r.Begin(false)
	require.NoError(t, err)

	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	require.NoError(t, tx.Write(payload, 8, r.Start()))

	out := make([]byte, 8)
	require.NoError(t, tx.Read(r.Start(), 8, out))
	require.Equal(t, payload, out)

	ok, err := tx.End()
	require.NoError(t, err)
	require.True(t, ok)

	verify, err := r.Begin(true)
	require.NoError(t, err)
	readBack := make([]byte, 8)
	require.NoError(t, verify.Read(r.Start(), 8, readBack))
	require.Equal(t, payload, readBack)
}

func TestReadRejectsMisalignedSize(t *testing.T) {
	r := newTestRegion(t, 64, 8)
	tx, err := r.Begin(true)
	require.NoError(t, err)

	err = tx.Read(r.Start(), 3, make([]byte, 8))
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestWriteInReadOnlyTransactionAborts(t *testing.T) {
	r := newTestRegion(t, 64, 8)
	tx, err := r.Begin(true)
	require.NoError(t, err)

	err = tx.Write(make([]byte, 8), 8, r.Start())
	require.ErrorIs(t, err, ErrInvalidArgument)

	err = tx.Read(r.Start(), 8, make([]byte, 8))
	require.ErrorIs(t, err, ErrTransactionDone)
}

func TestReadUnknownAddressFails(t *testing.T) {
	r := newTestRegion(t, 64, 8)
	tx, err := r.Begin(true)
	require.NoError(t, err)

	err = tx.Read(0xdeadbeef, 8, make([]byte, 8))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAllocThenWriteThenFree(t *testing.T) {
	r := newTestRegion(t, 8, 8)
	tx, err := r.Begin(false)
	require.NoError(t, err)

	var base uint64
	res, err := tx.Alloc(16, &base)
	require.NoError(t, err)
	require.Equal(t, AllocSuccess, res)
	require.NotEqual(t, r.Start(), base)

	payload := []byte{9, 9, 9, 9, 9, 9, 9, 9}
	require.NoError(t, tx.Write(payload, 8, base))
	require.NoError(t, tx.Free(base))

	ok, err := tx.End()
	require.NoError(t, err)
	require.True(t, ok)

	check, err := r.Begin(true)
	require.NoError(t, err)
	_, ok2 := r.findSegment(base)
	require.False(t, ok2)
	_, err = check.End()
	require.NoError(t, err)
}

func TestFreeInitialSegmentRejected(t *testing.T) {
	r := newTestRegion(t, 64, 8)
	tx, err := r.Begin(false)
	require.NoError(t, err)

	err = tx.Free(r.Start())
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestDoubleFreeRejected(t *testing.T) {
	r := newTestRegion(t, 8, 8)
	tx, err := r.Begin(false)
	require.NoError(t, err)

	var base uint64
	_, err = tx.Alloc(8, &base)
	require.NoError(t, err)
	require.NoError(t, tx.Free(base))

	err = tx.Free(base)
	require.ErrorIs(t, err, ErrDoubleFree)
}

func TestUseAfterFreeWithinTransactionRejected(t *testing.T) {
	r := newTestRegion(t, 8, 8)
	tx, err := r.Begin(false)
	require.NoError(t, err)

	var base uint64
	_, err = tx.Alloc(8, &base)
	require.NoError(t, err)
	require.NoError(t, tx.Free(base))

	err = tx.Write(make([]byte, 8), 8, base)
	require.ErrorIs(t, err, ErrUseAfterFree)
}

func TestOperationsAfterEndFail(t *testing.T) {
	r := newTestRegion(t, 64, 8)
	tx, err := r.Begin(false)
	require.NoError(t, err)
	ok, err := tx.End()
	require.NoError(t, err)
	require.True(t, ok)

	_, err = tx.End()
	require.ErrorIs(t, err, ErrTransactionDone)

	err = tx.Write(make([]byte, 8), 8, r.Start())
	require.ErrorIs(t, err, ErrTransactionDone)
}

func TestEmptyWriteSetCommitsWithoutAdvancingClock(t *testing.T) {
	r := newTestRegion(t, 64, 8)
	before := r.loadClock()

	tx, err := r.Begin(false)
	require.NoError(t, err)
	ok, err := tx.End()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, before, r.loadClock())
}
