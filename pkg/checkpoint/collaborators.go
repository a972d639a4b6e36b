// Package checkpoint implements CheckpointExecutor and CheckpointManager
// from spec.md §4.3 and §9: the global/per-database checkpoint algorithms
// and the Manager that owns the CheckpointExecutor's daemon thread and its
// anyRunning guard. The DirtyPageFlusher, FileSynchronizer and
// StatisticsReporter daemons are not owned by Manager; it only wakes the
// FileSynchronizer through a Waker.
package checkpoint

import (
	"context"

	"github.com/kvarch/checkpoint/pkg/checkpointlog"
	"github.com/kvarch/checkpoint/pkg/primitives"
)

// BufferLayer is the collaborator interface this package needs from the
// buffer pool subsystem beyond what DirtyPageFlusher already owns (spec.md
// §4.3.1 step 4: "the buffer layer's flush everything still dirty since
// last checkpoint primitive").
type BufferLayer interface {
	// FlushAll forces every dirty page to disk. persisted is true iff the
	// buffer and disk are now byte-identical. Under aborting, the flush is
	// forced to completion regardless of any threshold.
	FlushAll(aborting bool) (persisted bool, err error)
}

// Purger runs the file-destroyer and (optionally) file-mover purges spec.md
// §4.3.1 step 5 describes: requests that become safe to apply because the
// checkpoint is advancing.
type Purger interface {
	RunFileDestroyer(ctx context.Context) error
}

// FileMover is the optional purge hook spec.md's Open Question resolves as
// an interface extension point (see SPEC_FULL.md §4): GlobalCheckpoint calls
// it only when Config.EnableFileMover is set and a non-nil mover was passed
// to NewExecutor.
type FileMover interface {
	RunFileMover(ctx context.Context) error
}

// SystemTransaction is the short serializable read-write transaction a
// global checkpoint opens on the system-database object id (spec.md §4.3.1
// step 3). The per-database checkpoint opens none.
type SystemTransaction interface {
	Commit() error
	Rollback() error
}

// TransactionManager is the narrow collaborator interface this package
// needs from the transaction manager (out of scope itself, spec.md §1):
// opening the short system transaction and reporting in-progress
// transactions and heuristically-completed two-phase-commit branches.
type TransactionManager interface {
	BeginSystemTransaction(ctx context.Context) (SystemTransaction, error)
	// InProgressTransactions returns, for db, the {beginLSN, lastLSN,
	// preparedXID} triple of every in-progress read-write transaction that
	// has written more than just its begin record (spec.md §4.7 "In-progress
	// transaction snapshot").
	InProgressTransactions(db primitives.DatabaseID) []checkpointlog.InProgressTransactionInfo
	// HeuristicallyCompletedBranches returns outstanding two-phase-commit
	// branch decisions for inclusion in the SystemCheckpoint record
	// (spec.md §3).
	HeuristicallyCompletedBranches() []checkpointlog.BranchDecision
}

// DatabaseHandle is the per-database flush/quiesce hook spec.md §4.3.2 step
// 2 names ("database.flush(txn)").
type DatabaseHandle interface {
	ID() primitives.DatabaseID
	Flush(ctx context.Context) error
	Log() checkpointlog.Log
}

// LogProvider enumerates the logs a checkpoint must consider: the system
// log and every currently registered database log.
type LogProvider interface {
	SystemLog() checkpointlog.Log
	DatabaseLogs() []checkpointlog.Log
}

// Unavailable is notified when an exception escapes the checkpoint steps;
// spec.md §4.3.1 "Any exception escaping the steps marks the server as
// unavailable and is rethrown."
type Unavailable interface {
	MarkServerUnavailable(cause error)
	MarkDatabaseUnavailable(db primitives.DatabaseID, cause error)
}

// Disabler is the subset of daemon.Thread's API the executor needs to
// suspend subordinate daemons around a checkpoint (spec.md §4.3.1 step 1/11:
// "disable all buffer-pool daemons, nested disable, restored on unwind").
type Disabler interface {
	Enable(force bool)
	Disable(force bool)
}

// Waker is the subset of daemon.Thread's API needed to poke the file
// synchronizer after a checkpoint (spec.md §4.3 "after the checkpoint it
// wakes the FileSynchronizer").
type Waker interface {
	Wakeup()
}
