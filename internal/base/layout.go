package base

import "github.com/cockroachdb/errors"

// Design parameters (spec §3, "Constants"). These are fixed at compile time
// rather than per-device, matching the original library: BlockSize and
// TagSize together determine EntriesPerMngt, which is baked into the header
// on first create and re-validated on every subsequent open.
const (
	// BlockSize (B) is the size in bytes of every physical block: header,
	// management, and data alike.
	BlockSize = 4096

	// TagSize (T) is the size in bytes of one AEAD authentication tag. 32
	// rather than a raw AEAD's native 16 so that EntriesPerMngt comes out to
	// 128, matching spec.md's own worked examples exactly (see DESIGN.md).
	TagSize = 32

	// EntriesPerMngt (E) is the number of tag slots a management block
	// holds: floor(BlockSize / TagSize).
	EntriesPerMngt = BlockSize / TagSize

	// MaxLogicalBlocks (L_max) bounds the logical block count addressable
	// by the 32-bit index: 2^32 - 2.
	MaxLogicalBlocks = uint64(1<<32) - 2

	// HeaderMagic identifies a secure block device image.
	HeaderMagic = "SBDI"

	// HeaderVersion is the on-disk header format version this package
	// writes and the newest version it will open.
	HeaderVersion = uint16(1)

	// NonceSize is the size in bytes of the header's randomized nonce seed,
	// used to bind the Merkle root to one physical image (spec §4.3,
	// Merkle.seed).
	NonceSize = 32

	// RootSize is the size in bytes of a Merkle digest / root.
	RootSize = 32

	// HeaderPhysicalIndex is the fixed physical index of the header block.
	HeaderPhysicalIndex = uint32(0)
)

// CryptoVariant selects the AEAD construction the crypto envelope uses. It
// is chosen once at Open/create and recorded in the header; it is never
// changed for the lifetime of an image (spec §4.2, §9 "Dynamic dispatch").
type CryptoVariant uint16

const (
	// CryptoNone is the identity envelope, used for deterministic tests.
	CryptoNone CryptoVariant = iota
	// CryptoSIV is the misuse-resistant, deterministic-nonce AEAD variant.
	CryptoSIV
	// CryptoHMAC is the encrypt-then-MAC variant built on stdlib primitives.
	CryptoHMAC
)

// String implements fmt.Stringer for diagnostics (cmd/sbdcheck inspect).
func (v CryptoVariant) String() string {
	switch v {
	case CryptoNone:
		return "none"
	case CryptoSIV:
		return "siv"
	case CryptoHMAC:
		return "hmac"
	default:
		return "unknown"
	}
}

// ParseCryptoVariant maps a header-encoded variant id back to a
// CryptoVariant, reporting ErrUnsupported for anything else.
func ParseCryptoVariant(id uint16) (CryptoVariant, error) {
	switch CryptoVariant(id) {
	case CryptoNone, CryptoSIV, CryptoHMAC:
		return CryptoVariant(id), nil
	default:
		return 0, errors.Wrapf(ErrUnsupported, "unknown crypto variant id %d", id)
	}
}
