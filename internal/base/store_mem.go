package base

import (
	"crypto/rand"

	"github.com/cockroachdb/errors"
)

// MemStore is an in-memory Store backing, used for hermetic tests. Unlike a
// real file, it tracks exactly which blocks have ever been Pwritten: a read
// of any other range returns n == 0, the same "hole" semantics a sparse file
// would ideally provide, without depending on filesystem support for
// SEEK_HOLE/SEEK_DATA (see FileStore for the real-filesystem equivalent).
type MemStore struct {
	buf     []byte
	written map[int64]bool // keyed by block-aligned offset
}

// NewMemStore constructs an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{written: make(map[int64]bool)}
}

func (m *MemStore) ensureLen(n int) {
	if len(m.buf) < n {
		grown := make([]byte, n)
		copy(grown, m.buf)
		m.buf = grown
	}
}

// Pread implements Store. It reports n == 0 (no data, no error) for any
// range that was never wholly covered by a prior Pwrite at the same offset.
func (m *MemStore) Pread(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.Wrapf(ErrIllegalParam, "memstore: negative offset %d", off)
	}
	if !m.written[off] {
		return 0, nil
	}
	end := off + int64(len(p))
	if end > int64(len(m.buf)) {
		return 0, errors.Wrapf(ErrIOError, "memstore: read past end of backing buffer")
	}
	copy(p, m.buf[off:end])
	return len(p), nil
}

// Pwrite implements Store. Every Pwrite in this device is a single whole
// block, so m.written is tracked at block-offset granularity.
func (m *MemStore) Pwrite(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.Wrapf(ErrIllegalParam, "memstore: negative offset %d", off)
	}
	end := off + int64(len(p))
	m.ensureLen(int(end))
	copy(m.buf[off:end], p)
	m.written[off] = true
	return len(p), nil
}

// GenerateSeed implements Store using crypto/rand.
func (m *MemStore) GenerateSeed(p []byte) error {
	if _, err := rand.Read(p); err != nil {
		return errors.Wrap(err, "memstore: generating seed")
	}
	return nil
}

// Close implements Store; MemStore holds no external resources.
func (m *MemStore) Close() error {
	return nil
}
