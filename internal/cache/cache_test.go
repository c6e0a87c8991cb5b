package cache_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rachelsunqh/secure-block-device/internal/base"
	"github.com/rachelsunqh/secure-block-device/internal/cache"
)

// fakeDriver records Flush calls and lets a test control FaultInCompanion.
type fakeDriver struct {
	flushed  []uint32
	faulted  []uint32
	companion func(mngtPhy uint32) ([]byte, error)
}

func (d *fakeDriver) FaultInCompanion(mngtPhy uint32) ([]byte, error) {
	d.faulted = append(d.faulted, mngtPhy)
	if d.companion != nil {
		return d.companion(mngtPhy)
	}
	return make([]byte, base.BlockSize), nil
}

func (d *fakeDriver) Flush(e *cache.Entry) error {
	d.flushed = append(d.flushed, e.Phy)
	return nil
}

func blk() []byte { return make([]byte, base.BlockSize) }

func TestLookupMiss(t *testing.T) {
	d := &fakeDriver{}
	c := cache.New(4, d, nil)
	_, ok := c.Lookup(1)
	require.False(t, ok)
}

func TestInsertAndLookup(t *testing.T) {
	d := &fakeDriver{}
	c := cache.New(4, d, nil)
	e, err := c.Insert(2, cache.KindData, 1, blk(), cache.StateClean)
	require.NoError(t, err)
	require.Equal(t, uint32(2), e.Phy)

	got, ok := c.Lookup(2)
	require.True(t, ok)
	require.Same(t, e, got)
}

func TestMarkDirtyAndIsDirty(t *testing.T) {
	d := &fakeDriver{}
	c := cache.New(4, d, nil)
	_, err := c.Insert(1, cache.KindMngt, 0, blk(), cache.StateClean)
	require.NoError(t, err)
	require.False(t, c.IsDirty(1))
	require.NoError(t, c.MarkDirty(1))
	require.True(t, c.IsDirty(1))
}

func TestInvalidateRejectsDirty(t *testing.T) {
	d := &fakeDriver{}
	c := cache.New(4, d, nil)
	_, err := c.Insert(1, cache.KindMngt, 0, blk(), cache.StateDirty)
	require.NoError(t, err)
	err = c.Invalidate(1)
	require.ErrorIs(t, err, base.ErrIllegalParam)
}

func TestEvictionFaultsInCompanionBeforeFlushingDirtyData(t *testing.T) {
	d := &fakeDriver{}
	c := cache.New(2, d, nil)
	// mngt companion (phy=1) is deliberately never inserted.
	_, err := c.Insert(2, cache.KindData, 1, blk(), cache.StateDirty)
	require.NoError(t, err)
	_, err = c.Insert(3, cache.KindData, 1, blk(), cache.StateClean)
	require.NoError(t, err)

	// Capacity is 2 and both slots are full; inserting a third entry forces
	// eviction of the LRU entry (phy=2, dirty), which must fault in its
	// companion (phy=1) before flushing.
	_, err = c.Insert(4, cache.KindData, 1, blk(), cache.StateClean)
	require.NoError(t, err)

	require.Contains(t, d.faulted, uint32(1))
	require.Contains(t, d.flushed, uint32(2))
}

func TestSyncOrdersDataThenMngt(t *testing.T) {
	d := &fakeDriver{}
	c := cache.New(8, d, nil)
	_, err := c.Insert(1, cache.KindMngt, 0, blk(), cache.StateDirty)
	require.NoError(t, err)
	_, err = c.Insert(2, cache.KindData, 1, blk(), cache.StateDirty)
	require.NoError(t, err)
	_, err = c.Insert(3, cache.KindData, 1, blk(), cache.StateDirty)
	require.NoError(t, err)

	require.NoError(t, c.Sync())

	require.Equal(t, []uint32{2, 3, 1}, d.flushed)
	require.False(t, c.IsDirty(1))
	require.False(t, c.IsDirty(2))
	require.False(t, c.IsDirty(3))
}

func TestReserveSurfacesCompanionFaultInError(t *testing.T) {
	d := &fakeDriver{
		companion: func(mngtPhy uint32) ([]byte, error) {
			return nil, base.ErrIOError
		},
	}
	c := cache.New(1, d, nil)
	_, err := c.Insert(2, cache.KindData, 1, blk(), cache.StateDirty)
	require.NoError(t, err)

	_, err = c.Insert(5, cache.KindData, 4, blk(), cache.StateClean)
	require.ErrorIs(t, err, base.ErrIOError)
}
