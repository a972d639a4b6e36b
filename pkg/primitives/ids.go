// Package primitives defines the small value types shared by every
// checkpoint-core component: log sequence numbers, timestamps, and the
// identifiers used to name databases, files and distributed-transaction
// branches.
package primitives

import "github.com/google/uuid"

// LSN is a byte offset into a logical log file.
type LSN uint64

// DatabaseID names a database within the schema catalog. The zero value is
// never a valid database.
type DatabaseID uint32

// FileID names a single file belonging to a database.
type FileID uint32

// InvalidFileID is the sentinel stored in DatabaseAvailabilityEntry.FailedFiles
// when the whole database, rather than one of its files, was marked
// unavailable (spec.md §3).
const InvalidFileID FileID = 0

// XID identifies a distributed-transaction branch for two-phase commit.
// Modeled on github.com/google/uuid, the idiomatic Go representation of an
// opaque branch identifier (see SPEC_FULL.md §2.2, "heuristically-completed
// branch XIDs").
type XID uuid.UUID

// NewXID mints a fresh branch identifier.
func NewXID() XID {
	return XID(uuid.New())
}

func (x XID) String() string {
	return uuid.UUID(x).String()
}

// Decision records how a heuristically-completed branch was resolved.
type Decision int

const (
	DecisionUnknown Decision = iota
	DecisionCommit
	DecisionRollback
)

func (d Decision) String() string {
	switch d {
	case DecisionCommit:
		return "commit"
	case DecisionRollback:
		return "rollback"
	default:
		return "unknown"
	}
}
