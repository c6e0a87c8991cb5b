// Package merkle implements the balanced binary hash tree over
// management-block digests described in spec §4.3. A leaf holds the digest
// of one management block's entire plaintext; Root is seeded with the
// header nonce so an encrypted image can't be swapped for another one with
// a structurally compatible (but differently-keyed) tree.
//
// The tree is sized lazily: missing leaves hash a fixed zero constant
// (spec: "Missing leaves hash a fixed constant 0"), so only leaves that
// have actually been touched are stored. Interior node digests are computed
// over the tree's whole span when Root is called and memoized until an
// Update invalidates them.
package merkle

import (
	"crypto/sha256"

	"github.com/cockroachdb/errors"

	"github.com/rachelsunqh/secure-block-device/internal/base"
)

// Digest is one H-byte node/leaf/root value.
type Digest [base.RootSize]byte

var zeroLeaf = sha256.Sum256([]byte{0})

// HashMngtBlock computes the leaf digest of a management block's raw
// plaintext (all E tag slots concatenated), per spec §4.3.
func HashMngtBlock(plaintext []byte) Digest {
	return Digest(sha256.Sum256(plaintext))
}

// Tree is a balanced binary Merkle tree indexed by management-block number.
// It is not safe for concurrent use, matching the single-threaded block
// layer that owns it (spec §5).
type Tree struct {
	nonce [base.NonceSize]byte
	// leaves holds only leaves that have been explicitly set via Update;
	// reads of any other index fall back to zeroLeaf.
	leaves map[uint32]Digest
	// size is the number of leaves the tree is considered to span: the
	// smallest power of two >= the highest leaf index touched + 1. A tree
	// with size == 0 is the empty device.
	size uint32
	// cache memoizes interior node digests, keyed by (lo,n), so that
	// repeated Root() calls between Updates don't re-hash the whole span.
	// Update invalidates exactly the nodes on the path from the touched
	// leaf to the root, mirroring the cached-hash-tree technique in the
	// reference Merkle implementations.
	cache map[nodeKey]Digest
}

type nodeKey struct {
	lo, n uint32
}

// New constructs an empty tree seeded with nonce.
func New(nonce [base.NonceSize]byte) *Tree {
	return &Tree{nonce: nonce, leaves: make(map[uint32]Digest), cache: make(map[nodeKey]Digest)}
}

// Seed rebinds the tree to a (possibly new) nonce, per spec §4.3 Merkle.seed.
func (t *Tree) Seed(nonce [base.NonceSize]byte) {
	t.nonce = nonce
}

// Update sets leaf m to digest, grows the tree's span if necessary, and
// invalidates the cached path from that leaf to the root.
func (t *Tree) Update(m uint32, digest Digest) {
	t.leaves[m] = digest
	if need := nextPow2(m + 1); need > t.size {
		t.size = need
		// A span change invalidates everything; cheaper to drop the whole
		// cache than to walk the old path structure.
		t.cache = make(map[nodeKey]Digest)
		return
	}
	t.invalidatePath(m)
}

// invalidatePath drops every cached interior node covering leaf m, from the
// full span down to the pair containing m.
func (t *Tree) invalidatePath(m uint32) {
	lo, n := uint32(0), t.size
	for n > 1 {
		delete(t.cache, nodeKey{lo, n})
		half := n / 2
		if m < lo+half {
			n = half
		} else {
			lo, n = lo+half, half
		}
	}
}

// Verify reports whether leaf m currently equals digest. Spec §4.3: "used
// on first load of management block m" before trusting its plaintext.
func (t *Tree) Verify(m uint32, digest Digest) error {
	have := t.leafAt(m)
	if have != digest {
		return errors.Wrapf(base.ErrIntegrityFail, "merkle: leaf %d mismatch", m)
	}
	return nil
}

// HasLeaf reports whether Update has ever been called for leaf m. The block
// layer uses this to distinguish a management block that is legitimately
// virgin (never flushed, zero-constant leaf) from one that was flushed at
// some point but is now missing from the Store — the latter is corruption,
// not an empty slot.
func (t *Tree) HasLeaf(m uint32) bool {
	_, ok := t.leaves[m]
	return ok
}

func (t *Tree) leafAt(m uint32) Digest {
	if d, ok := t.leaves[m]; ok {
		return d
	}
	return Digest(zeroLeaf)
}

// Root computes the current root, seeded with the nonce:
// root = H(nonce || raw_root), per spec §4.3.
func (t *Tree) Root() Digest {
	raw := t.rawRoot()
	h := sha256.New()
	h.Write(t.nonce[:])
	h.Write(raw[:])
	var out Digest
	copy(out[:], h.Sum(nil))
	return out
}

// rawRoot computes the unseeded root over the tree's current span. An empty
// tree (size == 0) has a raw root of all zeros; the seeded Root of an empty
// tree is therefore H(nonce || zeros), not the all-zero value that Open
// takes as the new-device sentinel.
func (t *Tree) rawRoot() Digest {
	if t.size == 0 {
		return Digest{}
	}
	return t.subtreeRoot(0, t.size)
}

// subtreeRoot hashes the balanced subtree covering leaves [lo, lo+n),
// consulting and populating the interior-node cache.
func (t *Tree) subtreeRoot(lo, n uint32) Digest {
	if n == 1 {
		return t.leafAt(lo)
	}
	key := nodeKey{lo, n}
	if d, ok := t.cache[key]; ok {
		return d
	}
	half := n / 2
	left := t.subtreeRoot(lo, half)
	right := t.subtreeRoot(lo+half, half)
	h := sha256.New()
	h.Write(left[:])
	h.Write(right[:])
	var out Digest
	copy(out[:], h.Sum(nil))
	t.cache[key] = out
	return out
}

func nextPow2(n uint32) uint32 {
	if n == 0 {
		return 0
	}
	p := uint32(1)
	for p < n {
		p <<= 1
	}
	return p
}
