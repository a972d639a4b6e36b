package checkpointlog

import (
	"fmt"

	"github.com/kvarch/checkpoint/pkg/primitives"
)

// Log is the narrow collaborator interface this package needs from a
// database's own transaction log (spec.md §4.7); the log itself, its file
// format, and its LSN allocation are out of scope (spec.md §1).
type Log interface {
	DatabaseID() primitives.DatabaseID
	IsSystem() bool
	IsReadOnly() bool
	IsUnavailable() bool
	// HasActivitySinceLastCheckpoint reports whether anything was appended
	// to this log since the previous DatabaseCheckpoint was written to it;
	// a database log with nothing new gets no DatabaseCheckpoint (spec.md
	// §4.7 "only logs actually used since the last checkpoint").
	HasActivitySinceLastCheckpoint() bool
	// HasInProgressTransaction reports whether at least one in-progress
	// transaction currently touches this log; such a log is "in use" even
	// if HasActivitySinceLastCheckpoint is false (spec.md §4.7 "or by there
	// being at least one in-progress transaction touching that log").
	HasInProgressTransaction() bool
	Append(payload []byte) (primitives.LSN, error)
	Truncate(before primitives.LSN) error
}

// Writer appends the SystemCheckpoint record to the system log; the
// per-database when-to-write rule of spec.md §4.7 is
// WriteDatabaseCheckpointIfUsed. Neither decides truncation: the checkpoint
// executor does, calling TruncateBefore.
type Writer struct {
	systemLog Log
}

// NewWriter binds a Writer to the process-wide system log.
func NewWriter(systemLog Log) *Writer {
	return &Writer{systemLog: systemLog}
}

// WriteSystemCheckpoint appends a SystemCheckpoint record to the system log
// and returns the LSN it was written at.
func (w *Writer) WriteSystemCheckpoint(rec *SystemCheckpointRecord) (primitives.LSN, error) {
	payload, err := SerializeSystemCheckpoint(rec)
	if err != nil {
		return 0, fmt.Errorf("failed to serialize system checkpoint: %w", err)
	}
	lsn, err := w.systemLog.Append(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to append system checkpoint: %w", err)
	}
	return lsn, nil
}

// WriteDatabaseCheckpointIfUsed appends a DatabaseCheckpoint record to log
// and returns (lsn, true) if log was used since its previous checkpoint;
// otherwise it writes nothing and returns (0, false), matching spec.md §4.7's
// rule that an idle database log is left untouched (scenario S2).
func WriteDatabaseCheckpointIfUsed(log Log, rec *DatabaseCheckpointRecord) (primitives.LSN, bool, error) {
	if log.IsReadOnly() || log.IsUnavailable() {
		return 0, false, nil
	}
	if !log.HasActivitySinceLastCheckpoint() && !log.HasInProgressTransaction() {
		return 0, false, nil
	}

	payload, err := SerializeDatabaseCheckpoint(rec)
	if err != nil {
		return 0, false, fmt.Errorf("failed to serialize database checkpoint: %w", err)
	}
	lsn, err := log.Append(payload)
	if err != nil {
		return 0, false, fmt.Errorf("failed to append database checkpoint: %w", err)
	}
	return lsn, true, nil
}

// TruncateBefore discards log records before lsn once they can no longer be
// needed for recovery (spec.md §4.3.1 step 10: "truncate every database log
// up to its own new second-most-recent checkpoint LSN").
func TruncateBefore(log Log, lsn primitives.LSN) error {
	if err := log.Truncate(lsn); err != nil {
		return fmt.Errorf("failed to truncate log for database %v: %w", log.DatabaseID(), err)
	}
	return nil
}
