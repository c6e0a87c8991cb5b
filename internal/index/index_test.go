package index_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rachelsunqh/secure-block-device/internal/index"
)

// TestRoundTrip mirrors the concrete scenario in spec §8 ("Index
// round-trip"), including the worked values given for E=128 there: E is
// compile-time fixed at BlockSize/TagSize and TagSize is chosen (see
// DESIGN.md) specifically so that comes out to 128, matching the spec's
// own numbers exactly rather than needing translation.
func TestRoundTrip(t *testing.T) {
	logs := []uint32{0, 1, index.E - 1, index.E, 2048, 2049, 4122}
	for _, log := range logs {
		pd := index.PhyOfData(log)
		require.Equal(t, log, index.PhyToLog(pd), "log=%d", log)
		require.False(t, index.IsMngt(pd), "data phy must not be management, log=%d", log)

		pm := index.PhyOfMngt(log)
		require.True(t, index.IsMngt(pm), "mngt phy must be management, log=%d", log)
		require.Less(t, pm, pd, "mngt phy precedes data phy, log=%d", log)

		require.Equal(t, uint32(1+log%index.E), pd-pm)
	}
}

func TestKnownOffsets(t *testing.T) {
	// This build's E is 128 (see DESIGN.md), so the spec's own worked
	// numbers hold literally, not just as a general relation.
	require.Equal(t, uint32(128), index.E)
	require.Equal(t, uint32(2), index.PhyOfData(0))
	require.Equal(t, uint32(129), index.PhyOfData(127))
	require.Equal(t, uint32(130), index.PhyOfMngt(128))
	require.Equal(t, uint32(131), index.PhyOfData(128))
	require.Equal(t, uint32(2067), index.PhyOfData(2049))

	require.Equal(t, index.E+1, index.PhyOfData(index.E-1))
	require.Equal(t, index.E+3, index.PhyOfData(index.E))
	require.Equal(t, index.E+2, index.PhyOfMngt(index.E))
}

func TestMngtNumberRoundTrip(t *testing.T) {
	for _, log := range []uint32{0, 1, index.E - 1, index.E, index.E + 1, 10 * index.E} {
		m := index.MngtNumber(log)
		phy := index.PhyOfMngt(log)
		require.Equal(t, m, index.MngtNumberOfMngtPhy(phy))
		require.Equal(t, phy, index.PhyOfMngtNumber(m))
	}
}

func TestSlot(t *testing.T) {
	require.Equal(t, uint32(0), index.Slot(0))
	require.Equal(t, index.E-1, index.Slot(index.E-1))
	require.Equal(t, uint32(0), index.Slot(index.E))
	require.Equal(t, uint32(1), index.Slot(index.E+1))
}

func TestPhyToLogPanicsBelowDomain(t *testing.T) {
	require.Panics(t, func() { index.PhyToLog(0) })
	require.Panics(t, func() { index.PhyToLog(1) })
}

func TestIsMngtPanicsOnHeader(t *testing.T) {
	require.Panics(t, func() { index.IsMngt(0) })
}
