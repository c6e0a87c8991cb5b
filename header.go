package sbd

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"github.com/rachelsunqh/secure-block-device/internal/base"
)

// header is the plaintext physical block at phy=0 (spec §6.2). Its
// authenticity is not protected by the crypto envelope — instead, its nonce
// is folded into the Merkle root (spec §4.3's Merkle.seed), so a header
// swapped onto a different image immediately produces a ROOT_MISMATCH
// rather than a silent identity confusion.
//
//	magic[4] | version u16 | variant u16 | entriesPerMngt u32 |
//	mngtHighWater u32 | nonce[NonceSize] | zero padding to BlockSize
//
// mngtHighWater is not a logical block count: it is one past the highest
// management-block number ever flushed. Open uses it to bound the range of
// management blocks it must read back to reconstruct the Merkle tree,
// without needing to guess at logical block count in the presence of sparse
// writes (spec §9, Open Question (b)).
type header struct {
	version        uint16
	variant        base.CryptoVariant
	entriesPerMngt uint32
	mngtHighWater  uint32
	nonce          [base.NonceSize]byte
}

const headerFixedLen = 4 + 2 + 2 + 4 + 4 + base.NonceSize

// HeaderInfo is the read-only, exported view of a device's header block,
// used by cmd/sbdcheck's inspect command. It deliberately does not require
// knowing the Merkle root in advance (unlike Open), since inspecting a
// device's metadata is useful precisely when the caller doesn't yet trust
// or know that root.
type HeaderInfo struct {
	Version        uint16
	Variant        base.CryptoVariant
	EntriesPerMngt uint32
	MngtHighWater  uint32
	Nonce          [base.NonceSize]byte
}

// InspectHeader reads and decodes the header block directly from store,
// without constructing a Device or verifying a Merkle root. It exists only
// for diagnostics: every real read/write path goes through Open instead.
func InspectHeader(store base.Store) (HeaderInfo, error) {
	raw := make([]byte, base.BlockSize)
	n, err := store.Pread(raw, int64(base.HeaderPhysicalIndex)*base.BlockSize)
	if err != nil {
		return HeaderInfo{}, errors.Wrap(err, "sbd: reading header block")
	}
	if n != base.BlockSize {
		return HeaderInfo{}, errors.Wrap(base.ErrIOError, "sbd: short or empty header read")
	}
	h, err := decodeHeader(raw)
	if err != nil {
		return HeaderInfo{}, err
	}
	return HeaderInfo{
		Version:        h.version,
		Variant:        h.variant,
		EntriesPerMngt: h.entriesPerMngt,
		MngtHighWater:  h.mngtHighWater,
		Nonce:          h.nonce,
	}, nil
}

func (h header) encode() []byte {
	buf := make([]byte, base.BlockSize)
	copy(buf[0:4], base.HeaderMagic)
	binary.LittleEndian.PutUint16(buf[4:6], h.version)
	binary.LittleEndian.PutUint16(buf[6:8], uint16(h.variant))
	binary.LittleEndian.PutUint32(buf[8:12], h.entriesPerMngt)
	binary.LittleEndian.PutUint32(buf[12:16], h.mngtHighWater)
	copy(buf[16:16+base.NonceSize], h.nonce[:])
	// The remainder of the block is reserved and left zero.
	return buf
}

func decodeHeader(buf []byte) (header, error) {
	if len(buf) != base.BlockSize {
		return header{}, errors.Wrapf(base.ErrIllegalParam, "sbd: header buffer must be %d bytes, got %d", base.BlockSize, len(buf))
	}
	if string(buf[0:4]) != base.HeaderMagic {
		return header{}, base.CorruptionErrorf("sbd: bad header magic %q", buf[0:4])
	}
	var h header
	h.version = binary.LittleEndian.Uint16(buf[4:6])
	if h.version > base.HeaderVersion {
		return header{}, errors.Wrapf(base.ErrUnsupported, "sbd: header version %d newer than supported %d", h.version, base.HeaderVersion)
	}
	variant, err := base.ParseCryptoVariant(binary.LittleEndian.Uint16(buf[6:8]))
	if err != nil {
		return header{}, err
	}
	h.variant = variant
	h.entriesPerMngt = binary.LittleEndian.Uint32(buf[8:12])
	if h.entriesPerMngt != base.EntriesPerMngt {
		return header{}, errors.Wrapf(base.ErrUnsupported,
			"sbd: header entries-per-mngt %d does not match build (%d)", h.entriesPerMngt, base.EntriesPerMngt)
	}
	h.mngtHighWater = binary.LittleEndian.Uint32(buf[12:16])
	copy(h.nonce[:], buf[16:16+base.NonceSize])
	return h, nil
}
