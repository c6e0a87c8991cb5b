package sbd

import "github.com/rachelsunqh/secure-block-device/internal/base"

// mngtBlock is the decoded plaintext of one management block: E contiguous
// tag slots, each holding the authentication tag of one ciphertext data
// block (spec §3, "Tag slot"). The wire layout is simply the E tags packed
// back to back, zero-padded out to BlockSize: there is no slot-present
// bitmap (spec §4.3 allows one but does not require it, and every slot
// within the device's high-water mark is always meaningful once a logical
// block has been written — unwritten slots stay all-zero).
type mngtBlock struct {
	tags [base.EntriesPerMngt][base.TagSize]byte
}

func decodeMngtBlock(plaintext []byte) mngtBlock {
	var m mngtBlock
	for s := 0; s < base.EntriesPerMngt; s++ {
		copy(m.tags[s][:], plaintext[s*base.TagSize:(s+1)*base.TagSize])
	}
	return m
}

func (m mngtBlock) encode() []byte {
	buf := make([]byte, base.BlockSize)
	for s := 0; s < base.EntriesPerMngt; s++ {
		copy(buf[s*base.TagSize:(s+1)*base.TagSize], m.tags[s][:])
	}
	return buf
}

func (m *mngtBlock) setTag(slot uint32, tag []byte) {
	copy(m.tags[slot][:], tag)
}

func (m mngtBlock) tag(slot uint32) []byte {
	t := m.tags[slot]
	return t[:]
}
