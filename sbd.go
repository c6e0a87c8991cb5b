// Package sbd implements a secure block device: a confidentiality- and
// integrity-protected block layer over an untrusted Store, built from a
// pluggable AEAD envelope (internal/crypto), a Merkle hash tree over
// management-block digests (internal/merkle), and a fixed-capacity
// write-back block cache (internal/cache).
//
// The package itself never logs (see Options.Logger for the one place a
// caller may plug in diagnostics) and is not safe for concurrent use: a
// Device is owned by exactly one goroutine for its entire lifetime, from
// Open to Close.
package sbd

import (
	"github.com/cockroachdb/errors"

	"github.com/rachelsunqh/secure-block-device/internal/base"
)

// Options configures Open, in the teacher's functional-defaults style
// (sstable.ReaderOptions/WriterOptions): a plain struct with an
// EnsureDefaults method rather than a chain of With* functions, since every
// field here is simple scalar configuration.
type Options struct {
	// Variant selects the AEAD construction. For an existing device this
	// must agree with the variant recorded in the on-disk header; for a new
	// (empty) device it is the variant the header will be created with.
	Variant base.CryptoVariant

	// Key is the envelope key. Its required length depends on Variant: see
	// internal/crypto.New.
	Key []byte

	// CacheCapacity bounds the number of decrypted blocks held in memory at
	// once (spec §4.4). It must be at least 2: a single data write needs
	// room for both the data entry and its management companion.
	CacheCapacity int

	// Logger receives diagnostic messages. The core device never logs on
	// its own (spec §7); this is wired up only by cmd/sbdcheck. A nil
	// Logger is replaced with base.NopLogger{}.
	Logger base.Logger
}

// EnsureDefaults returns a copy of o with unset fields replaced by defaults,
// mirroring sstable.WriterOptions.EnsureDefaults.
func (o Options) EnsureDefaults() Options {
	if o.CacheCapacity <= 0 {
		o.CacheCapacity = 64
	}
	if o.Logger == nil {
		o.Logger = base.NopLogger{}
	}
	return o
}

func (o Options) validate() error {
	if o.CacheCapacity < 2 {
		return errors.Wrapf(base.ErrIllegalParam, "sbd: cache capacity must be >= 2, got %d", o.CacheCapacity)
	}
	return nil
}
