// Package checkpointlog implements the three CheckpointLogRecord shapes
// from spec.md §3/§4.7/§6 (SystemCheckpoint, DatabaseCheckpoint,
// FileSynchronizeBegin/End), their on-disk codec, and the policy deciding
// which database log receives which record.
//
// The codec technique — a size-prefixed, big-endian encoding.binary record
// written through a bytes.Buffer — is carried over directly from
// therealutkarshpriyadarshi-mydb/pkg/log/record/checkpoint.go
// (SerializeCheckpoint/DeserializeCheckpoint); this package generalizes it
// from one fuzzy-checkpoint record to three versioned shapes.
package checkpointlog

import "github.com/kvarch/checkpoint/pkg/primitives"

// Category identifies a record shape; the on-disk tag is
// ClassIDBase + Category, mirroring the source's
// "category + CheckpointClassesBase" class-id scheme (spec.md §4.7).
type Category byte

const (
	CategorySystemCheckpoint     Category = 1
	CategoryDatabaseCheckpoint   Category = 2
	CategoryFileSynchronizeBegin Category = 3
	CategoryFileSynchronizeEnd   Category = 4
)

// ClassIDBase is the fixed offset added to a Category to produce the
// on-disk class id.
const ClassIDBase int32 = 9000

// ClassID returns the on-disk tag for a category.
func ClassID(c Category) int32 { return ClassIDBase + int32(c) }

// BranchDecision is one element of SystemCheckpoint.heuristicallyCompletedBranches.
type BranchDecision struct {
	XID      primitives.XID
	Decision primitives.Decision
}

// SystemCheckpointRecord is the SystemCheckpoint shape from spec.md §3; this
// package always writes the newest version (v1).
type SystemCheckpointRecord struct {
	FinishTs                       primitives.Timestamp
	PreviousTs                     primitives.Timestamp
	Synchronized                   bool
	Terminated                     bool
	MetaUnavailable                bool
	UnavailableDatabases            map[primitives.DatabaseID]primitives.Timestamp
	HeuristicallyCompletedBranches []BranchDecision
}

// InProgressTransactionInfo is the element of DatabaseCheckpoint.inProgressTxns
// from spec.md §3: the LSN pair plus an optional prepared-transaction branch
// id, used at recovery to identify the earliest log position that must
// still be readable.
type InProgressTransactionInfo struct {
	BeginLSN    primitives.LSN
	LastLSN     primitives.LSN
	PreparedXID primitives.XID
	HasPrepared bool
}

// DatabaseCheckpointRecord is the DatabaseCheckpoint shape from spec.md §3;
// this package always writes the newest version (v2).
type DatabaseCheckpointRecord struct {
	FinishTs      primitives.Timestamp
	PreviousTs    primitives.Timestamp
	Synchronized  bool
	Terminated    bool
	InProgressTxns []InProgressTransactionInfo
}

// FileSynchronizeBeginRecord marks the start of a version-file
// synchronization pass for one database.
type FileSynchronizeBeginRecord struct{}

// FileSynchronizeEndRecord closes the pair opened by a
// FileSynchronizeBeginRecord; Modified reports whether the sync entry point
// actually changed the version file.
type FileSynchronizeEndRecord struct {
	Modified bool
}
