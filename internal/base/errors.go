// Package base holds the primitive types shared by every internal package of
// the secure block device: the Store capability interface, sizing constants,
// and the error-kind sentinels that every layer classifies its failures as.
package base

import "github.com/cockroachdb/errors"

// Error kinds. These are sentinels, not types: callers classify an error with
// errors.Is(err, base.ErrIntegrityFail) rather than a type switch, matching
// the way the teacher classifies corruption with errors.Is(err, ErrCorruption).
var (
	// ErrIllegalParam reports a caller bug: a null/out-of-range index, a
	// sub-range outside [0, B], or a logical index >= L_max.
	ErrIllegalParam = errors.New("sbd: illegal parameter")

	// ErrIOError wraps a Store read/write/seed failure (short read, -1
	// return) reported verbatim.
	ErrIOError = errors.New("sbd: store i/o error")

	// ErrIntegrityFail reports an AEAD tag mismatch or a Merkle leaf
	// mismatch. Once surfaced, the device handle is poisoned (quarantined).
	ErrIntegrityFail = errors.New("sbd: integrity check failed")

	// ErrUnsupported reports an unknown crypto variant or header version.
	ErrUnsupported = errors.New("sbd: unsupported variant or version")

	// ErrOutOfMemory reports a resource exhaustion during open/insert.
	ErrOutOfMemory = errors.New("sbd: out of memory")

	// ErrNotWritten reports a read of a logical block that has never been
	// written (spec Open Question (b): chosen over zero-fill-on-read).
	ErrNotWritten = errors.New("sbd: logical block not written")

	// ErrCacheFull reports that the eviction policy could not free a slot
	// without violating the dirty data->mngt closure constraint.
	ErrCacheFull = errors.New("sbd: cache full")

	// ErrRootMismatch reports that the root supplied to Open disagrees with
	// the root computed from the on-disk management blocks.
	ErrRootMismatch = errors.New("sbd: root mismatch")

	// ErrQuarantined reports that the device handle was poisoned by a prior
	// failure (an ErrIntegrityFail, a short data-block read, or a failed
	// cache flush) and rejects further operations until Close.
	ErrQuarantined = errors.New("sbd: device quarantined after a prior failure")
)

// CorruptionErrorf builds an ErrIntegrityFail-classified error carrying a
// formatted message, mirroring the teacher's own CorruptionErrorf helper
// used when parsing an on-disk footer.
func CorruptionErrorf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrIntegrityFail, format, args...)
}

// AssertionFailedf reports a programming-error precondition violation (spec
// §4.1: calling the phy->log inverse or is_mngt outside their documented
// domain). It always panics; these are bugs in the caller, not recoverable
// runtime conditions.
func AssertionFailedf(format string, args ...interface{}) {
	panic(errors.AssertionFailedWithDepthf(1, format, args...))
}
