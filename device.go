package sbd

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/rachelsunqh/secure-block-device/internal/base"
	"github.com/rachelsunqh/secure-block-device/internal/cache"
	"github.com/rachelsunqh/secure-block-device/internal/crypto"
	"github.com/rachelsunqh/secure-block-device/internal/index"
	"github.com/rachelsunqh/secure-block-device/internal/merkle"
	"github.com/rachelsunqh/secure-block-device/internal/metrics"
)

// Device is a single open secure block device: the public API of spec §4.5,
// wiring a Store to the crypto envelope, the Merkle tree, and the block
// cache. A Device is not safe for concurrent use (spec §5) and must be
// exclusively owned by its caller from Open to Close.
type Device struct {
	store    base.Store
	opts     Options
	envelope crypto.Envelope
	tree     *merkle.Tree
	cache    *cache.Cache
	metrics  *cache.Metrics
	lat      *metrics.Latency

	nonce         [base.NonceSize]byte
	mngtHighWater uint32

	// quarantined is non-nil once an ErrIntegrityFail, a short data-block
	// read, or a failed cache flush has been observed; every subsequent
	// operation except Close fails with ErrQuarantined (spec §7).
	quarantined error
}

var zeroRoot [base.RootSize]byte

// Open opens an existing device, or creates a new one if store is empty.
// For a new device, root must be the all-zero sentinel; for an existing
// device, root must equal the value Root reported after the last Sync or
// Close, or Open fails with base.ErrRootMismatch.
func Open(store base.Store, opts Options, root [base.RootSize]byte) (*Device, error) {
	opts = opts.EnsureDefaults()
	if err := opts.validate(); err != nil {
		store.Close()
		return nil, err
	}

	rawHeader := make([]byte, base.BlockSize)
	n, err := store.Pread(rawHeader, int64(base.HeaderPhysicalIndex)*base.BlockSize)
	if err != nil {
		store.Close()
		return nil, errors.Wrap(err, "sbd: reading header block")
	}

	switch {
	case n == 0:
		return create(store, opts, root)
	case n == base.BlockSize:
		return openExisting(store, opts, rawHeader, root)
	default:
		store.Close()
		return nil, errors.Wrap(base.ErrIOError, "sbd: short header read")
	}
}

func create(store base.Store, opts Options, root [base.RootSize]byte) (*Device, error) {
	if root != zeroRoot {
		store.Close()
		return nil, errors.Wrap(base.ErrRootMismatch, "sbd: creating a new device requires the all-zero root sentinel")
	}
	var nonce [base.NonceSize]byte
	if err := store.GenerateSeed(nonce[:]); err != nil {
		store.Close()
		return nil, errors.Wrap(err, "sbd: generating header nonce")
	}
	envelope, err := crypto.New(opts.Variant, opts.Key)
	if err != nil {
		store.Close()
		return nil, err
	}

	d := newDevice(store, opts, envelope, merkle.New(nonce), nonce, 0)
	if err := d.persistHeader(); err != nil {
		store.Close()
		return nil, err
	}
	return d, nil
}

func openExisting(store base.Store, opts Options, rawHeader []byte, root [base.RootSize]byte) (*Device, error) {
	h, err := decodeHeader(rawHeader)
	if err != nil {
		store.Close()
		return nil, err
	}
	if h.variant != opts.Variant {
		store.Close()
		return nil, errors.Wrapf(base.ErrIllegalParam,
			"sbd: open requested variant %s but header records %s", opts.Variant, h.variant)
	}
	envelope, err := crypto.New(opts.Variant, opts.Key)
	if err != nil {
		store.Close()
		return nil, err
	}

	d := newDevice(store, opts, envelope, merkle.New(h.nonce), h.nonce, h.mngtHighWater)
	if err := d.rebuildTree(); err != nil {
		store.Close()
		return nil, err
	}
	if computed := d.tree.Root(); computed != root {
		store.Close()
		return nil, errors.Wrap(base.ErrRootMismatch, "sbd: supplied root does not match on-disk state")
	}
	return d, nil
}

func newDevice(store base.Store, opts Options, envelope crypto.Envelope, tree *merkle.Tree, nonce [base.NonceSize]byte, mngtHighWater uint32) *Device {
	d := &Device{
		store:         store,
		opts:          opts,
		envelope:      envelope,
		tree:          tree,
		metrics:       cache.NewMetrics(nil),
		lat:           metrics.NewLatency(),
		nonce:         nonce,
		mngtHighWater: mngtHighWater,
	}
	d.cache = cache.New(opts.CacheCapacity, d, d.metrics)
	return d
}

// rebuildTree replays every management block number in [0, mngtHighWater)
// from the Store into the (freshly seeded, empty) Merkle tree. A management
// block absent from the Store is left as the tree's zero-constant leaf: it
// was never flushed in any prior session, so there is nothing to replay.
func (d *Device) rebuildTree() error {
	for m := uint32(0); m < d.mngtHighWater; m++ {
		plaintext, present, err := d.readMngtRaw(index.PhyOfMngtNumber(m))
		if err != nil {
			return err
		}
		if !present {
			continue
		}
		d.tree.Update(m, merkle.HashMngtBlock(plaintext))
	}
	return nil
}

// ReadDataBlock decodes the plaintext of logical block log and copies the
// sub-range [off, off+size) of it into out, which must be exactly size
// bytes (spec §4.5/§6.3; the original's
// sbdi_bl_read_data_block(sbdi, buf, i, off, size)).
func (d *Device) ReadDataBlock(log uint32, off, size uint32, out []byte) error {
	if err := d.checkQuarantine(); err != nil {
		return err
	}
	if err := checkLogRange(log); err != nil {
		return err
	}
	if err := checkSubRange(off, size); err != nil {
		return err
	}
	if uint32(len(out)) != size {
		return errors.Wrapf(base.ErrIllegalParam, "sbd: out buffer must be %d bytes, got %d", size, len(out))
	}
	start := time.Now()

	plaintext, err := d.loadDataBlock(log)
	if err != nil {
		return err
	}
	copy(out, plaintext[off:off+size])
	d.lat.Record(metrics.OpRead, time.Since(start))
	return nil
}

// loadDataBlock returns the full (BlockSize) plaintext of logical block log,
// from the cache if present, else decrypting it from Store and inserting it
// as a clean cache entry. Reports base.ErrNotWritten if log has never been
// written.
func (d *Device) loadDataBlock(log uint32) ([]byte, error) {
	phy := index.PhyOfData(log)
	if e, ok := d.cache.Lookup(phy); ok {
		return e.Plaintext, nil
	}

	plaintext, err := d.readAndDecryptDataBlock(log)
	if err != nil {
		return nil, err
	}
	mngtPhy := index.PhyOfMngt(log)
	if _, err := d.cache.Insert(phy, cache.KindData, mngtPhy, plaintext, cache.StateClean); err != nil {
		return nil, err
	}
	return plaintext, nil
}

// readAndDecryptDataBlock reads and decrypts logical block log's full
// plaintext straight from Store, without touching the cache. Used both by
// loadDataBlock (which caches the result itself) and by WriteDataBlock's
// read-merge-write path, which stages the merged block as a fresh dirty
// entry and must not race it against a second, clean insert of the same
// phy. Reports base.ErrNotWritten if log has never been written.
func (d *Device) readAndDecryptDataBlock(log uint32) ([]byte, error) {
	phy := index.PhyOfData(log)
	buf := make([]byte, base.BlockSize)
	n, err := d.store.Pread(buf, int64(phy)*base.BlockSize)
	if err != nil {
		return nil, errors.Wrap(err, "sbd: reading data block")
	}
	if n == 0 {
		return nil, errors.Wrapf(base.ErrNotWritten, "sbd: logical block %d never written", log)
	}
	if n != base.BlockSize {
		return nil, d.quarantine(errors.Wrap(base.ErrIOError, "sbd: short data block read"))
	}

	mngtPhy := index.PhyOfMngt(log)
	mngtPlaintext, err := d.loadMngt(mngtPhy)
	if err != nil {
		return nil, err
	}
	tag := decodeMngtBlock(mngtPlaintext).tag(index.Slot(log))

	plaintext, err := d.envelope.Open(crypto.Tweak{Index: log, Domain: crypto.DomainData}, buf, tag)
	if err != nil {
		return nil, d.quarantine(err)
	}
	return plaintext, nil
}

// WriteDataBlock stages in (exactly size bytes) as the new content of the
// sub-range [off, off+size) of logical block log (spec §4.5/§6.3; the
// original's sbdi_bl_write_data_block(sbdi, buf, i, off, size)). A write
// that doesn't cover the whole block first reads the block's current full
// plaintext to merge the update into (spec §4.5: "first reads ... to obtain
// the full plaintext, merges"). The write is not durable until Sync or
// Close; only the cache entries are updated here.
func (d *Device) WriteDataBlock(log uint32, off, size uint32, in []byte) error {
	if err := d.checkQuarantine(); err != nil {
		return err
	}
	if err := checkLogRange(log); err != nil {
		return err
	}
	if err := checkSubRange(off, size); err != nil {
		return err
	}
	if uint32(len(in)) != size {
		return errors.Wrapf(base.ErrIllegalParam, "sbd: in buffer must be %d bytes, got %d", size, len(in))
	}
	start := time.Now()

	phy := index.PhyOfData(log)
	mngtPhy := index.PhyOfMngt(log)
	if e, ok := d.cache.Lookup(phy); ok {
		copy(e.Plaintext[off:off+size], in)
		if err := d.cache.MarkDirty(phy); err != nil {
			return err
		}
	} else {
		full := make([]byte, base.BlockSize)
		if size != base.BlockSize {
			existing, err := d.readAndDecryptDataBlock(log)
			switch {
			case err == nil:
				copy(full, existing)
			case errors.Is(err, base.ErrNotWritten):
				// Nothing to merge with; the rest of the block reads back
				// as zero until a later write covers it.
			default:
				return err
			}
		}
		copy(full[off:off+size], in)
		if _, err := d.cache.Insert(phy, cache.KindData, mngtPhy, full, cache.StateDirty); err != nil {
			return err
		}
	}
	if m := index.MngtNumber(log); m+1 > d.mngtHighWater {
		d.mngtHighWater = m + 1
	}
	d.lat.Record(metrics.OpWrite, time.Since(start))
	return nil
}

// Sync flushes every dirty cache entry through to the Store in the order
// spec §4.5 mandates and persists an updated header recording the current
// management-block high-water mark. The header does not store the Merkle
// root; read it with Root.
func (d *Device) Sync() error {
	if err := d.checkQuarantine(); err != nil {
		return err
	}
	start := time.Now()
	if err := d.cache.Sync(); err != nil {
		return d.quarantine(err)
	}
	if err := d.persistHeader(); err != nil {
		return err
	}
	d.lat.Record(metrics.OpSync, time.Since(start))
	return nil
}

// Stats is a snapshot of a Device's latency percentiles, exposed for
// cmd/sbdcheck's diagnostic commands. The core device never reports these on
// its own (spec §7); a caller samples them explicitly.
type Stats struct {
	ReadP50, ReadP99, ReadMax    int64
	WriteP50, WriteP99, WriteMax int64
	SyncP50, SyncP99, SyncMax    int64
}

// Stats returns a snapshot of the device's current latency percentiles.
func (d *Device) Stats() Stats {
	var s Stats
	s.ReadP50, s.ReadP99, s.ReadMax = d.lat.Snapshot(metrics.OpRead)
	s.WriteP50, s.WriteP99, s.WriteMax = d.lat.Snapshot(metrics.OpWrite)
	s.SyncP50, s.SyncP99, s.SyncMax = d.lat.Snapshot(metrics.OpSync)
	return s
}

// Root returns the Merkle root over the management blocks flushed so far.
// Writes still held dirty in the cache are not reflected until Sync or
// Close flushes them; the value Root reports after the last Sync or Close
// is the one a subsequent Open must be given.
func (d *Device) Root() [base.RootSize]byte {
	return [base.RootSize]byte(d.tree.Root())
}

// Close flushes all dirty state (unless the device is already quarantined,
// in which case no further writes are attempted) and releases the Store.
func (d *Device) Close() error {
	if d.quarantined != nil {
		return d.store.Close()
	}
	if err := d.cache.Sync(); err != nil {
		d.quarantine(err)
		return err
	}
	if err := d.persistHeader(); err != nil {
		return err
	}
	return d.store.Close()
}

// --- cache.Driver ---

// FaultInCompanion loads and, if present on Store, Merkle-verifies the
// management block at mngtPhy. It implements cache.Driver: the cache itself
// inserts the returned plaintext once this returns, so this must not touch
// the cache (doing so while the cache is mid-eviction would reenter it).
func (d *Device) FaultInCompanion(mngtPhy uint32) ([]byte, error) {
	return d.readAndVerifyMngt(mngtPhy)
}

// Flush implements cache.Driver: it seals e and writes it through to the
// Store, mutating the Merkle tree (management entries) or the companion
// management entry's tag slot (data entries) as a side effect.
func (d *Device) Flush(e *cache.Entry) error {
	switch e.Kind {
	case cache.KindData:
		return d.flushData(e)
	case cache.KindMngt:
		return d.flushMngt(e)
	default:
		base.AssertionFailedf("sbd: cache entry at phy %d has unknown kind %d", e.Phy, e.Kind)
		return nil
	}
}

func (d *Device) flushData(e *cache.Entry) error {
	mngtEntry, ok := d.cache.Lookup(e.Companion)
	if !ok {
		base.AssertionFailedf("sbd: flushing data entry at phy %d but companion %d is not cached", e.Phy, e.Companion)
	}
	log := index.PhyToLog(e.Phy)
	ciphertext, tag, err := d.envelope.Seal(crypto.Tweak{Index: log, Domain: crypto.DomainData}, e.Plaintext)
	if err != nil {
		return err
	}
	if err := d.writeRaw(e.Phy, ciphertext); err != nil {
		return err
	}
	mb := decodeMngtBlock(mngtEntry.Plaintext)
	mb.setTag(index.Slot(log), tag)
	copy(mngtEntry.Plaintext, mb.encode())
	return d.cache.MarkDirty(e.Companion)
}

func (d *Device) flushMngt(e *cache.Entry) error {
	m := index.MngtNumberOfMngtPhy(e.Phy)
	ciphertext, err := d.envelope.SealUnauthenticated(crypto.Tweak{Index: m, Domain: crypto.DomainMngt}, e.Plaintext)
	if err != nil {
		return err
	}
	if err := d.writeRaw(e.Phy, ciphertext); err != nil {
		return err
	}
	d.tree.Update(m, merkle.HashMngtBlock(e.Plaintext))
	if m+1 > d.mngtHighWater {
		d.mngtHighWater = m + 1
	}
	return nil
}

// --- internal helpers ---

// loadMngt returns the plaintext of the management block at mngtPhy,
// whether it was already cached or needed to be faulted in and verified.
func (d *Device) loadMngt(mngtPhy uint32) ([]byte, error) {
	if e, ok := d.cache.Lookup(mngtPhy); ok {
		return e.Plaintext, nil
	}
	plaintext, err := d.readAndVerifyMngt(mngtPhy)
	if err != nil {
		return nil, err
	}
	if _, err := d.cache.Insert(mngtPhy, cache.KindMngt, 0, plaintext, cache.StateClean); err != nil {
		return nil, err
	}
	return plaintext, nil
}

// readAndVerifyMngt reads the management block at mngtPhy from Store and
// checks it against the Merkle tree (spec §4.3: "used on first load of
// management block m"). A block absent from Store is accepted as virgin
// (all tag slots unset) only if the tree agrees it was never flushed; if the
// tree holds a leaf for it, the block's disappearance is corruption.
func (d *Device) readAndVerifyMngt(mngtPhy uint32) ([]byte, error) {
	m := index.MngtNumberOfMngtPhy(mngtPhy)
	plaintext, present, err := d.readMngtRaw(mngtPhy)
	if err != nil {
		return nil, err
	}
	if !present {
		if d.tree.HasLeaf(m) {
			err := base.CorruptionErrorf("sbd: management block %d missing from store but present in merkle tree", m)
			return nil, d.quarantine(err)
		}
		return make([]byte, base.BlockSize), nil
	}
	if err := d.tree.Verify(m, merkle.HashMngtBlock(plaintext)); err != nil {
		return nil, d.quarantine(err)
	}
	return plaintext, nil
}

// readMngtRaw reads and tag-lessly decrypts the management block at
// mngtPhy, reporting present == false if the block has never been written
// (spec §4.5: "mtag is ignored" — no authentication tag is ever persisted
// for a management block; its only integrity backstop is the Merkle tree,
// checked by the caller).
func (d *Device) readMngtRaw(mngtPhy uint32) (plaintext []byte, present bool, err error) {
	buf := make([]byte, base.BlockSize)
	n, err := d.store.Pread(buf, int64(mngtPhy)*base.BlockSize)
	if err != nil {
		return nil, false, errors.Wrap(err, "sbd: reading management block")
	}
	if n == 0 {
		return nil, false, nil
	}
	if n != base.BlockSize {
		return nil, false, errors.Wrap(base.ErrIOError, "sbd: short management block read")
	}
	m := index.MngtNumberOfMngtPhy(mngtPhy)
	plaintext, err = d.envelope.OpenUnauthenticated(crypto.Tweak{Index: m, Domain: crypto.DomainMngt}, buf)
	if err != nil {
		return nil, false, err
	}
	return plaintext, true, nil
}

func (d *Device) writeRaw(phy uint32, buf []byte) error {
	n, err := d.store.Pwrite(buf, int64(phy)*base.BlockSize)
	if err != nil {
		return errors.Wrap(err, "sbd: writing physical block")
	}
	if n != base.BlockSize {
		return errors.Wrap(base.ErrIOError, "sbd: short physical write")
	}
	return nil
}

func (d *Device) persistHeader() error {
	h := header{
		version:        base.HeaderVersion,
		variant:        d.opts.Variant,
		entriesPerMngt: base.EntriesPerMngt,
		mngtHighWater:  d.mngtHighWater,
		nonce:          d.nonce,
	}
	return d.writeRaw(base.HeaderPhysicalIndex, h.encode())
}

func (d *Device) quarantine(err error) error {
	if d.quarantined == nil {
		d.quarantined = err
	}
	return err
}

func (d *Device) checkQuarantine() error {
	if d.quarantined != nil {
		return errors.Wrapf(base.ErrQuarantined, "sbd: device quarantined after a prior failure: %v", d.quarantined)
	}
	return nil
}

func checkLogRange(log uint32) error {
	if uint64(log) >= base.MaxLogicalBlocks {
		return errors.Wrapf(base.ErrIllegalParam, "sbd: logical block %d out of range (max %d)", log, base.MaxLogicalBlocks)
	}
	return nil
}

// checkSubRange validates a [off, off+size) sub-range against a single
// block, per spec §6.3: 0 <= off <= off+size <= B.
func checkSubRange(off, size uint32) error {
	if off > base.BlockSize || size > base.BlockSize-off {
		return errors.Wrapf(base.ErrIllegalParam,
			"sbd: sub-range off=%d size=%d out of bounds for block size %d", off, size, base.BlockSize)
	}
	return nil
}
