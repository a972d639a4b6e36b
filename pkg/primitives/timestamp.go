package primitives

import "sync/atomic"

// Timestamp is an opaque, monotonically increasing value produced by the
// transaction manager (spec.md §3). The core never interprets its bits; it
// only compares and stores them.
type Timestamp int64

// Illegal is the reserved sentinel meaning "no timestamp yet".
const Illegal Timestamp = -1

// systemInitialized is the sentinel TimestampLedger readers fall back to
// when a database has never had a checkpoint and the global value is also
// Illegal (spec.md §4.5).
const systemInitialized Timestamp = 0

var generator atomic.Int64

// Generate returns a fresh, strictly-increasing Timestamp. In the real
// server this is owned by the transaction manager; the checkpoint core only
// consumes timestamps it is handed, but tests and the synchronous
// checkpoint path need a source, so a small process-wide generator is
// provided here for exactly that purpose.
func Generate() Timestamp {
	return Timestamp(generator.Add(1))
}

// SystemInitialized returns the sentinel used when no checkpoint has ever
// run for a database or the process.
func SystemInitialized() Timestamp {
	return systemInitialized
}
