package tl2mem

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateRejectsNonPowerOfTwoAlign(t *testing.T) {
	_, err := Create(64, 3)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCreateRejectsSizeNotMultipleOfAlign(t *testing.T) {
	_, err := Create(10, 8)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCreateInitializesInitialSegment(t *testing.T) {
	r := newTestRegion(t, 64, 8)
	require.Equal(t, 64, r.Size())
	require.Equal(t, 8, r.Align())
	_, ok := r.findSegment(r.Start())
	require.True(t, ok)
}

func TestDestroyRefusesWithLiveTransactions(t *testing.T) {
	r := newTestRegion(t, 64, 8)
	_, err := r.Begin(true)
	require.NoError(t, err)

	err = r.Destroy()
	require.ErrorIs(t, err, ErrLiveTransactions)
}

func TestDestroyThenBeginFails(t *testing.T) {
	r := newTestRegion(t, 64, 8)
	require.NoError(t, r.Destroy())

	_, err := r.Begin(true)
	require.True(t, errors.Is(err, ErrClosed))
}

func TestClockAdvancesOnlyOnReadWriteCommit(t *testing.T) {
	r := newTestRegion(t, 64, 8)
	before := r.loadClock()

	roTx, err := r.Begin(true)
	require.NoError(t, err)
	ok, err := roTx.End()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, before, r.loadClock())

	rwTx, err := r.Begin(false)
	require.NoError(t, err)
	require.NoError(t, rwTx.Write(make([]byte, 8), 8, r.Start()))
	ok, err = rwTx.End()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, before+1, r.loadClock())
}
