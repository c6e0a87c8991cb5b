package merkle_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rachelsunqh/secure-block-device/internal/base"
	"github.com/rachelsunqh/secure-block-device/internal/merkle"
)

func nonce(b byte) [base.NonceSize]byte {
	var n [base.NonceSize]byte
	for i := range n {
		n[i] = b
	}
	return n
}

func TestEmptyTreeRootIsSeededZero(t *testing.T) {
	tree := merkle.New(nonce(0))
	root1 := tree.Root()

	other := merkle.New(nonce(0))
	root2 := other.Root()
	require.Equal(t, root1, root2, "two empty trees with the same nonce must agree")

	diffNonce := merkle.New(nonce(1))
	require.NotEqual(t, root1, diffNonce.Root(), "different nonce must change the seeded root")
}

func TestUpdateChangesRoot(t *testing.T) {
	tree := merkle.New(nonce(7))
	before := tree.Root()

	digest := merkle.HashMngtBlock(make([]byte, base.BlockSize))
	tree.Update(0, digest)
	after := tree.Root()

	require.NotEqual(t, before, after)
	require.NoError(t, tree.Verify(0, digest))
}

func TestVerifyDetectsMismatch(t *testing.T) {
	tree := merkle.New(nonce(3))
	d1 := merkle.HashMngtBlock([]byte("one"))
	d2 := merkle.HashMngtBlock([]byte("two"))
	tree.Update(5, d1)

	require.NoError(t, tree.Verify(5, d1))
	require.Error(t, tree.Verify(5, d2))
	require.ErrorIs(t, tree.Verify(5, d2), base.ErrIntegrityFail)
}

func TestMissingLeafHashesZeroConstant(t *testing.T) {
	a := merkle.New(nonce(9))
	b := merkle.New(nonce(9))
	a.Update(0, merkle.HashMngtBlock([]byte("a")))
	b.Update(0, merkle.HashMngtBlock([]byte("a")))
	// Leaf 1 was never touched in either tree; their roots must still agree
	// because both hash the same fixed zero constant for it.
	require.Equal(t, a.Root(), b.Root())
}

func TestCacheInvalidationKeepsRootCorrect(t *testing.T) {
	tree := merkle.New(nonce(1))
	for m := uint32(0); m < 20; m++ {
		tree.Update(m, merkle.HashMngtBlock([]byte{byte(m)}))
	}
	r1 := tree.Root()
	// Updating a single far-away leaf must change the root and must not be
	// masked by stale cached interior nodes.
	tree.Update(3, merkle.HashMngtBlock([]byte("changed")))
	r2 := tree.Root()
	require.NotEqual(t, r1, r2)
	require.NoError(t, tree.Verify(3, merkle.HashMngtBlock([]byte("changed"))))
	require.NoError(t, tree.Verify(10, merkle.HashMngtBlock([]byte{10})))
}
