package sbd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rachelsunqh/secure-block-device/internal/base"
	"github.com/rachelsunqh/secure-block-device/internal/index"
)

func testOptions() Options {
	return Options{Variant: base.CryptoNone, CacheCapacity: 8}
}

func blockOf(c byte) []byte {
	b := make([]byte, base.BlockSize)
	for i := range b {
		b[i] = c
	}
	return b
}

func TestCreateThenReadWriteRoundTrip(t *testing.T) {
	store := base.NewMemStore()
	d, err := Open(store, testOptions(), zeroRoot)
	require.NoError(t, err)

	require.NoError(t, d.WriteDataBlock(0, 0, base.BlockSize, blockOf(0xAA)))
	require.NoError(t, d.WriteDataBlock(1, 0, base.BlockSize, blockOf(0xBB)))

	out := make([]byte, base.BlockSize)
	require.NoError(t, d.ReadDataBlock(0, 0, base.BlockSize, out))
	require.True(t, bytes.Equal(out, blockOf(0xAA)))
	require.NoError(t, d.ReadDataBlock(1, 0, base.BlockSize, out))
	require.True(t, bytes.Equal(out, blockOf(0xBB)))

	require.NoError(t, d.Close())
}

func TestCloseReopenPreservesData(t *testing.T) {
	store := base.NewMemStore()
	d, err := Open(store, testOptions(), zeroRoot)
	require.NoError(t, err)
	require.NoError(t, d.WriteDataBlock(0, 0, base.BlockSize, blockOf(0x11)))
	second := uint32(index.E*2 + 3)
	require.NoError(t, d.WriteDataBlock(second, 0, base.BlockSize, blockOf(0x22)))
	require.NoError(t, d.Close())
	root := d.Root()

	reopened, err := Open(store, testOptions(), root)
	require.NoError(t, err)
	out := make([]byte, base.BlockSize)
	require.NoError(t, reopened.ReadDataBlock(0, 0, base.BlockSize, out))
	require.True(t, bytes.Equal(out, blockOf(0x11)))
	require.NoError(t, reopened.ReadDataBlock(second, 0, base.BlockSize, out))
	require.True(t, bytes.Equal(out, blockOf(0x22)))
	require.NoError(t, reopened.Close())
}

func TestReadNeverWrittenReturnsNotWritten(t *testing.T) {
	store := base.NewMemStore()
	d, err := Open(store, testOptions(), zeroRoot)
	require.NoError(t, err)
	out := make([]byte, base.BlockSize)
	err = d.ReadDataBlock(5, 0, base.BlockSize, out)
	require.ErrorIs(t, err, base.ErrNotWritten)
	require.NoError(t, d.Close())
}

func TestWrongRootRejectsOpen(t *testing.T) {
	store := base.NewMemStore()
	d, err := Open(store, testOptions(), zeroRoot)
	require.NoError(t, err)
	require.NoError(t, d.WriteDataBlock(0, 0, base.BlockSize, blockOf(0x33)))
	require.NoError(t, d.Close())

	var badRoot [base.RootSize]byte
	badRoot[0] = 0xFF
	_, err = Open(store, testOptions(), badRoot)
	require.Error(t, err)
}

func TestTamperedDataBlockQuarantinesDevice(t *testing.T) {
	store := base.NewMemStore()
	d, err := Open(store, testOptions(), zeroRoot)
	require.NoError(t, err)
	require.NoError(t, d.WriteDataBlock(0, 0, base.BlockSize, blockOf(0x44)))
	require.NoError(t, d.Close())
	root := d.Root()

	reopened, err := Open(store, testOptions(), root)
	require.NoError(t, err)

	// Corrupt the ciphertext data block directly on the Store.
	tampered := blockOf(0xEE)
	_, werr := store.Pwrite(tampered, int64(index.PhyOfData(0))*base.BlockSize)
	require.NoError(t, werr)

	out := make([]byte, base.BlockSize)
	err = reopened.ReadDataBlock(0, 0, base.BlockSize, out)
	require.ErrorIs(t, err, base.ErrIntegrityFail)

	// Any further operation is rejected once quarantined.
	err = reopened.ReadDataBlock(0, 0, base.BlockSize, out)
	require.ErrorIs(t, err, base.ErrQuarantined)
}

func TestWriteBeyondCacheCapacityEvictsAndFlushes(t *testing.T) {
	store := base.NewMemStore()
	opts := Options{Variant: base.CryptoNone, CacheCapacity: 4}
	d, err := Open(store, opts, zeroRoot)
	require.NoError(t, err)

	const n = 50
	for i := uint32(0); i < n; i++ {
		require.NoError(t, d.WriteDataBlock(i, 0, base.BlockSize, blockOf(byte(i))))
	}
	require.NoError(t, d.Close())
	root := d.Root()

	reopened, err := Open(store, opts, root)
	require.NoError(t, err)
	out := make([]byte, base.BlockSize)
	for i := uint32(0); i < n; i++ {
		require.NoError(t, reopened.ReadDataBlock(i, 0, base.BlockSize, out))
		require.True(t, bytes.Equal(out, blockOf(byte(i))), "block %d", i)
	}
	require.NoError(t, reopened.Close())
}

func TestStraddlingManagementBoundary(t *testing.T) {
	store := base.NewMemStore()
	d, err := Open(store, testOptions(), zeroRoot)
	require.NoError(t, err)

	low := uint32(index.E - 1)
	high := uint32(index.E*16 + 1)
	require.NoError(t, d.WriteDataBlock(low, 0, base.BlockSize, blockOf(0x01)))
	require.NoError(t, d.WriteDataBlock(high, 0, base.BlockSize, blockOf(0x02)))
	require.NoError(t, d.Close())
	root := d.Root()

	reopened, err := Open(store, testOptions(), root)
	require.NoError(t, err)
	out := make([]byte, base.BlockSize)
	require.NoError(t, reopened.ReadDataBlock(low, 0, base.BlockSize, out))
	require.True(t, bytes.Equal(out, blockOf(0x01)))
	require.NoError(t, reopened.ReadDataBlock(high, 0, base.BlockSize, out))
	require.True(t, bytes.Equal(out, blockOf(0x02)))
	require.NoError(t, reopened.Close())
}

func TestPartialWriteMergesWithExistingContent(t *testing.T) {
	store := base.NewMemStore()
	d, err := Open(store, testOptions(), zeroRoot)
	require.NoError(t, err)

	require.NoError(t, d.WriteDataBlock(0, 0, base.BlockSize, blockOf(0xAA)))
	patch := bytes.Repeat([]byte{0xBB}, 16)
	require.NoError(t, d.WriteDataBlock(0, 100, 16, patch))

	out := make([]byte, base.BlockSize)
	require.NoError(t, d.ReadDataBlock(0, 0, base.BlockSize, out))
	want := blockOf(0xAA)
	copy(want[100:116], patch)
	require.True(t, bytes.Equal(out, want))

	sub := make([]byte, 16)
	require.NoError(t, d.ReadDataBlock(0, 100, 16, sub))
	require.True(t, bytes.Equal(sub, patch))

	require.NoError(t, d.Close())
}

func TestPartialWriteToNeverWrittenBlockZeroFillsTheRest(t *testing.T) {
	store := base.NewMemStore()
	d, err := Open(store, testOptions(), zeroRoot)
	require.NoError(t, err)

	patch := bytes.Repeat([]byte{0x42}, 4)
	require.NoError(t, d.WriteDataBlock(3, 10, 4, patch))

	out := make([]byte, base.BlockSize)
	require.NoError(t, d.ReadDataBlock(3, 0, base.BlockSize, out))
	want := make([]byte, base.BlockSize)
	copy(want[10:14], patch)
	require.True(t, bytes.Equal(out, want))

	require.NoError(t, d.Close())
}

func TestSubRangeValidation(t *testing.T) {
	store := base.NewMemStore()
	d, err := Open(store, testOptions(), zeroRoot)
	require.NoError(t, err)

	err = d.WriteDataBlock(0, base.BlockSize-1, 2, make([]byte, 2))
	require.ErrorIs(t, err, base.ErrIllegalParam)

	err = d.ReadDataBlock(0, 0, base.BlockSize, make([]byte, base.BlockSize-1))
	require.ErrorIs(t, err, base.ErrIllegalParam)

	require.NoError(t, d.Close())
}
