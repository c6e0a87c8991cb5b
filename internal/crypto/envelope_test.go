package crypto_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rachelsunqh/secure-block-device/internal/base"
	"github.com/rachelsunqh/secure-block-device/internal/crypto"
)

func makeKey(n int) []byte {
	k := make([]byte, n)
	for i := range k {
		k[i] = byte(i)
	}
	return k
}

func plaintextOf(c byte) []byte {
	p := make([]byte, base.BlockSize)
	for i := range p {
		p[i] = c
	}
	return p
}

func TestVariantsRoundTrip(t *testing.T) {
	variants := []struct {
		v       base.CryptoVariant
		keyLen  int
	}{
		{base.CryptoNone, 0},
		{base.CryptoSIV, 32},
		{base.CryptoHMAC, 64},
	}
	for _, tc := range variants {
		t.Run(tc.v.String(), func(t *testing.T) {
			env, err := crypto.New(tc.v, makeKey(tc.keyLen))
			require.NoError(t, err)

			pt := plaintextOf(0x42)
			tweak := crypto.Tweak{Index: 17, Domain: crypto.DomainData}
			ct, tag, err := env.Seal(tweak, pt)
			require.NoError(t, err)
			require.Len(t, ct, base.BlockSize)
			require.Len(t, tag, base.TagSize)

			got, err := env.Open(tweak, ct, tag)
			require.NoError(t, err)
			require.True(t, bytes.Equal(pt, got))
		})
	}
}

func TestVariantsRejectTamperedTag(t *testing.T) {
	for _, v := range []base.CryptoVariant{base.CryptoNone, base.CryptoSIV, base.CryptoHMAC} {
		keyLen := map[base.CryptoVariant]int{base.CryptoNone: 0, base.CryptoSIV: 32, base.CryptoHMAC: 64}[v]
		env, err := crypto.New(v, makeKey(keyLen))
		require.NoError(t, err)

		pt := plaintextOf(0x11)
		tweak := crypto.Tweak{Index: 5, Domain: crypto.DomainMngt}
		ct, tag, err := env.Seal(tweak, pt)
		require.NoError(t, err)

		tag[0] ^= 0xFF
		_, err = env.Open(tweak, ct, tag)
		require.ErrorIs(t, err, base.ErrIntegrityFail)
	}
}

func TestVariantsRejectWrongTweak(t *testing.T) {
	env, err := crypto.New(base.CryptoSIV, makeKey(32))
	require.NoError(t, err)

	pt := plaintextOf(0x99)
	tweak := crypto.Tweak{Index: 1, Domain: crypto.DomainData}
	ct, tag, err := env.Seal(tweak, pt)
	require.NoError(t, err)

	_, err = env.Open(crypto.Tweak{Index: 2, Domain: crypto.DomainData}, ct, tag)
	require.ErrorIs(t, err, base.ErrIntegrityFail)
}

func TestDomainSeparation(t *testing.T) {
	env, err := crypto.New(base.CryptoHMAC, makeKey(64))
	require.NoError(t, err)

	pt := plaintextOf(0x55)
	dataTweak := crypto.Tweak{Index: 3, Domain: crypto.DomainData}
	mngtTweak := crypto.Tweak{Index: 3, Domain: crypto.DomainMngt}

	_, dataTag, err := env.Seal(dataTweak, pt)
	require.NoError(t, err)
	_, mngtTag, err := env.Seal(mngtTweak, pt)
	require.NoError(t, err)

	require.False(t, bytes.Equal(dataTag, mngtTag))
}

func TestUnauthenticatedRoundTrip(t *testing.T) {
	for _, v := range []base.CryptoVariant{base.CryptoNone, base.CryptoSIV, base.CryptoHMAC} {
		keyLen := map[base.CryptoVariant]int{base.CryptoNone: 0, base.CryptoSIV: 32, base.CryptoHMAC: 64}[v]
		env, err := crypto.New(v, makeKey(keyLen))
		require.NoError(t, err)

		pt := plaintextOf(0x77)
		tweak := crypto.Tweak{Index: 9, Domain: crypto.DomainMngt}
		ct, err := env.SealUnauthenticated(tweak, pt)
		require.NoError(t, err)
		require.Len(t, ct, base.BlockSize)

		got, err := env.OpenUnauthenticated(tweak, ct)
		require.NoError(t, err)
		require.True(t, bytes.Equal(pt, got))
	}
}

func TestIllegalParam(t *testing.T) {
	env, err := crypto.New(base.CryptoNone, nil)
	require.NoError(t, err)
	_, _, err = env.Seal(crypto.Tweak{}, make([]byte, base.BlockSize-1))
	require.ErrorIs(t, err, base.ErrIllegalParam)
}
