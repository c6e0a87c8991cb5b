// Package index implements the pure bijection between logical data block
// indices, physical block indices, management-block numbers, and tag slots
// described in spec §3 ("Index calculus"). Every function here is total on
// its documented domain and panics (via base.AssertionFailedf) outside it:
// these are programming-error preconditions, not recoverable runtime
// conditions, exactly as the original C++ header documents with `assert`.
package index

import "github.com/rachelsunqh/secure-block-device/internal/base"

// E is entries-per-management-block, aliased locally for brevity in the
// formulas below.
const E = base.EntriesPerMngt

// MngtNumber returns the management-block number that owns logical block
// log: mngt_nbr(log) = log / E.
func MngtNumber(log uint32) uint32 {
	return log / E
}

// PhyOfMngt returns the physical index of the management block owning log:
// phy_of_mngt(log) = mngt_nbr(log)*(E+1) + 1.
func PhyOfMngt(log uint32) uint32 {
	return MngtNumber(log)*(E+1) + 1
}

// PhyOfData returns the physical index of log's ciphertext data block:
// phy_of_data(log) = log + mngt_nbr(log) + 2.
func PhyOfData(log uint32) uint32 {
	return log + MngtNumber(log) + 2
}

// Slot returns the tag-slot position of log within its management block:
// slot(log) = log mod E.
func Slot(log uint32) uint32 {
	return log % E
}

// PhyToLog inverts PhyOfData: given a physical data index phy (phy >= 2 and
// phy not a management index), it returns the originating logical index.
// phy < 2 is a programming-error precondition violation (spec §9, Open
// Question (a) resolved): the original C++ silently returned UINT32_MAX,
// this implementation panics instead.
func PhyToLog(phy uint32) uint32 {
	if phy < 2 {
		base.AssertionFailedf("index: PhyToLog called with phy=%d (< 2)", phy)
	}
	return (phy - 2) - (phy-2)/(E+1)
}

// IsMngt reports whether phy names a management block:
// is_mngt(phy) = phy >= 1 && (phy-1) mod (E+1) == 0.
// phy == 0 (the header) is a programming-error precondition violation.
func IsMngt(phy uint32) bool {
	if phy == 0 {
		base.AssertionFailedf("index: IsMngt called with phy=0 (header block)")
	}
	return (phy-1)%(E+1) == 0
}

// MngtNumberOfMngtPhy returns the management-block number for a physical
// index already known to satisfy IsMngt: mngt_nbr_of_mngt_phy(phy) =
// (phy-1)/(E+1).
func MngtNumberOfMngtPhy(phy uint32) uint32 {
	if !IsMngt(phy) {
		base.AssertionFailedf("index: MngtNumberOfMngtPhy called with non-management phy=%d", phy)
	}
	return (phy - 1) / (E + 1)
}

// PhyOfMngtNumber returns the physical index of management block m: the
// inverse of MngtNumberOfMngtPhy.
func PhyOfMngtNumber(m uint32) uint32 {
	return m*(E+1) + 1
}

// MaxMngtNumber returns the exclusive upper bound on management-block
// numbers for the configured MaxLogicalBlocks: ceil(L_max/E).
func MaxMngtNumber() uint32 {
	lmax := base.MaxLogicalBlocks
	return uint32((lmax + uint64(E) - 1) / uint64(E))
}
