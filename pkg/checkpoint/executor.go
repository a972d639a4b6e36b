package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/kvarch/checkpoint/pkg/availability"
	"github.com/kvarch/checkpoint/pkg/checkpointlog"
	"github.com/kvarch/checkpoint/pkg/primitives"
	"github.com/kvarch/checkpoint/pkg/timestamp"
)

// CandidateEnumerator is the optional hook spec.md §4.3.1 step 2 and §4.4.1
// describe: on a non-aborting global checkpoint, walk the schema catalog and
// populate the FileSynchronizer's candidate map.
type CandidateEnumerator interface {
	EnumerateCandidates(ctx context.Context) error
}

// Config holds the tuning knobs the global/per-database checkpoint
// algorithms read (spec.md §6).
type Config struct {
	TruncateSystemLogAllowed   bool
	TruncateDatabaseLogAllowed bool
	EnableFileMover            bool
}

// Executor implements the CheckpointExecutor algorithms from spec.md §4.3.
// It does not itself embed a daemon.Thread — CheckpointManager owns the
// thread and calls Executor's methods from the thread's step function — so
// the same algorithms serve the periodic path, the synchronous-invocation
// path, and the per-database caller-driven path uniformly.
type Executor struct {
	buffer       BufferLayer
	txnManager   TransactionManager
	logs         LogProvider
	availability *availability.Registry
	ledger       *timestamp.Ledger
	writer       *checkpointlog.Writer
	destroyer    Purger
	mover        FileMover
	candidates   CandidateEnumerator
	schemaExists availability.SchemaExists
	unavailable  Unavailable
	daemons      []Disabler
	cfg          Config
	logger       zerolog.Logger

	checkpointTotal   atomic.Uint64
	lastDurationNanos atomic.Int64
}

// NewExecutor wires the collaborators a checkpoint needs. daemons is the set
// of buffer-pool daemons disabled around every checkpoint (spec.md §4.3.1
// step 1/11).
func NewExecutor(
	buffer BufferLayer,
	txnManager TransactionManager,
	logs LogProvider,
	avail *availability.Registry,
	ledger *timestamp.Ledger,
	writer *checkpointlog.Writer,
	destroyer Purger,
	mover FileMover,
	candidates CandidateEnumerator,
	schemaExists availability.SchemaExists,
	unavailable Unavailable,
	daemons []Disabler,
	cfg Config,
	logger zerolog.Logger,
) *Executor {
	return &Executor{
		buffer:       buffer,
		txnManager:   txnManager,
		logs:         logs,
		availability: avail,
		ledger:       ledger,
		writer:       writer,
		destroyer:    destroyer,
		mover:        mover,
		candidates:   candidates,
		schemaExists: schemaExists,
		unavailable:  unavailable,
		daemons:      daemons,
		cfg:          cfg,
		logger:       logger.With().Str("component", "checkpoint-executor").Logger(),
	}
}

// GlobalCheckpoint runs the eleven-step algorithm of spec.md §4.3.1.
// Preconditions: the caller guarantees no other checkpoint or sync is
// running (enforced by CheckpointManager's anyRunning guard for both the
// periodic and synchronous paths).
func (e *Executor) GlobalCheckpoint(ctx context.Context, aborting bool) (err error) {
	start := time.Now()
	defer func() {
		e.checkpointTotal.Add(1)
		e.lastDurationNanos.Store(int64(time.Since(start)))
	}()

	// Step 1: disable all buffer-pool daemons; restored on unwind (step 11).
	for _, d := range e.daemons {
		d.Disable(false)
	}
	defer func() {
		for _, d := range e.daemons {
			d.Enable(false)
		}
	}()

	defer func() {
		if err != nil {
			e.logger.Error().Err(err).Msg("global checkpoint failed, marking server unavailable")
			if e.unavailable != nil {
				e.unavailable.MarkServerUnavailable(err)
			}
		}
	}()

	// Step 2: enumerate sync candidates, unless this is the final/aborting
	// checkpoint.
	if !aborting && e.candidates != nil {
		if err = e.candidates.EnumerateCandidates(ctx); err != nil {
			return fmt.Errorf("failed to enumerate synchronize candidates: %w", err)
		}
	}

	// Step 3: begin the short system transaction.
	var txn SystemTransaction
	txn, err = e.txnManager.BeginSystemTransaction(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin system transaction: %w", err)
	}

	// Step 4: flush everything still dirty.
	var persisted bool
	persisted, err = e.buffer.FlushAll(aborting)
	if err != nil {
		_ = txn.Rollback()
		return fmt.Errorf("failed to flush buffer layer: %w", err)
	}

	// Step 5: file-destroyer and (if enabled) file-mover purges.
	if e.destroyer != nil {
		if err = e.destroyer.RunFileDestroyer(ctx); err != nil {
			_ = txn.Rollback()
			return fmt.Errorf("failed to run file destroyer: %w", err)
		}
	}
	if e.cfg.EnableFileMover && e.mover != nil {
		if err = e.mover.RunFileMover(ctx); err != nil {
			_ = txn.Rollback()
			return fmt.Errorf("failed to run file mover: %w", err)
		}
	}

	// Step 6: fill in recoveryStart for unavailable databases.
	e.availability.SetStartRecoveryTime(e.ledger, e.schemaExists)

	// Step 7: commit the short transaction.
	if err = txn.Commit(); err != nil {
		return fmt.Errorf("failed to commit system transaction: %w", err)
	}

	// Step 8: obtain finish, rotate mostRecent -> secondMostRecent.
	previousSecondMostRecent := e.ledger.GlobalSecondMostRecent()
	finish := primitives.Generate()
	e.ledger.Assign(finish, false)

	// Step 9: write CheckpointLog records, database logs first, then the
	// system log. Every record shares the same finish/persisted pair obtained
	// in step 8: a checkpoint pass is one instant, not one per database.
	if err = e.writeDatabaseCheckpoints(finish, persisted); err != nil {
		return err
	}
	if err = e.writeSystemCheckpoint(finish, previousSecondMostRecent, aborting, persisted); err != nil {
		return err
	}

	// Step 10: if persisted, collapse secondMostRecent onto mostRecent.
	if persisted {
		e.ledger.Assign(finish, true)
	}

	// Step 11 (unwind) happens in the deferred Enable calls above.
	return nil
}

// writeDatabaseCheckpoints writes one DatabaseCheckpointRecord per in-use
// database log, all sharing the finish timestamp the global pass obtained in
// step 8. synchronized is true only when the global flush reported
// persisted=true (SPEC_FULL.md §4 Open Question resolution #2).
func (e *Executor) writeDatabaseCheckpoints(finish primitives.Timestamp, persisted bool) error {
	for _, log := range e.logs.DatabaseLogs() {
		db := log.DatabaseID()
		inProgress := e.txnManager.InProgressTransactions(db)

		if e.cfg.TruncateDatabaseLogAllowed && !log.HasActivitySinceLastCheckpoint() && len(inProgress) == 0 {
			if err := checkpointlog.TruncateBefore(log, 0); err != nil {
				return fmt.Errorf("failed to truncate idle database log %v: %w", db, err)
			}
			continue
		}

		rec := &checkpointlog.DatabaseCheckpointRecord{
			FinishTs:       finish,
			PreviousTs:     e.ledger.GetSecondMostRecent(db),
			Synchronized:   persisted,
			InProgressTxns: inProgress,
		}

		if _, wrote, err := checkpointlog.WriteDatabaseCheckpointIfUsed(log, rec); err != nil {
			return fmt.Errorf("failed to write database checkpoint for %v: %w", db, err)
		} else if wrote {
			e.ledger.AssignDB(db, rec.FinishTs, persisted)
		}
	}
	return nil
}

func (e *Executor) writeSystemCheckpoint(finish, previousTs primitives.Timestamp, terminated, persisted bool) error {
	systemLog := e.logs.SystemLog()
	unavailableSnapshot := e.availability.GetUnavailable()

	unavailableDatabases := make(map[primitives.DatabaseID]primitives.Timestamp, len(unavailableSnapshot))
	for db, entry := range unavailableSnapshot {
		unavailableDatabases[db] = entry.RecoveryStart
	}
	branches := e.txnManager.HeuristicallyCompletedBranches()
	metaUnavailable := !e.availability.IsAvailable(systemLog.DatabaseID())

	if e.cfg.TruncateSystemLogAllowed && persisted && !terminated &&
		len(branches) == 0 && len(unavailableDatabases) == 0 {
		if err := checkpointlog.TruncateBefore(systemLog, 0); err != nil {
			return fmt.Errorf("failed to truncate system log: %w", err)
		}
	}

	rec := &checkpointlog.SystemCheckpointRecord{
		FinishTs:                       finish,
		PreviousTs:                     previousTs,
		Synchronized:                   persisted,
		Terminated:                     terminated,
		MetaUnavailable:                metaUnavailable,
		UnavailableDatabases:           unavailableDatabases,
		HeuristicallyCompletedBranches: branches,
	}

	if _, err := e.writer.WriteSystemCheckpoint(rec); err != nil {
		return fmt.Errorf("failed to write system checkpoint: %w", err)
	}
	return nil
}

// DatabaseCheckpoint implements the caller-driven per-database algorithm of
// spec.md §4.3.2, used to independently quiesce a single database (e.g.
// before an unmount or drop).
func (e *Executor) DatabaseCheckpoint(ctx context.Context, db DatabaseHandle) (err error) {
	for _, d := range e.daemons {
		d.Disable(false)
	}
	defer func() {
		for _, d := range e.daemons {
			d.Enable(false)
		}
	}()

	defer func() {
		if err != nil && e.unavailable != nil {
			e.unavailable.MarkDatabaseUnavailable(db.ID(), err)
		}
	}()

	if err = db.Flush(ctx); err != nil {
		return fmt.Errorf("failed to flush database %v: %w", db.ID(), err)
	}

	finish := primitives.Generate()
	e.ledger.AssignDB(db.ID(), finish, true)

	log := db.Log()
	rec := &checkpointlog.DatabaseCheckpointRecord{
		FinishTs:       finish,
		PreviousTs:     e.ledger.GetSecondMostRecent(db.ID()),
		Synchronized:   true,
		InProgressTxns: e.txnManager.InProgressTransactions(db.ID()),
	}

	if e.cfg.TruncateDatabaseLogAllowed {
		if err = checkpointlog.TruncateBefore(log, 0); err != nil {
			return fmt.Errorf("failed to truncate database log %v: %w", db.ID(), err)
		}
	}

	payload, serErr := checkpointlog.SerializeDatabaseCheckpoint(rec)
	if serErr != nil {
		err = fmt.Errorf("failed to serialize database checkpoint for %v: %w", db.ID(), serErr)
		return err
	}
	if _, appendErr := log.Append(payload); appendErr != nil {
		err = fmt.Errorf("failed to append database checkpoint for %v: %w", db.ID(), appendErr)
		return err
	}

	return nil
}

// CheckpointTotal returns the number of GlobalCheckpoint passes run so far
// (successful or not), for pkg/metrics's checkpoint_total gauge.
func (e *Executor) CheckpointTotal() uint64 {
	return e.checkpointTotal.Load()
}

// LastDuration returns the wall-clock time the most recent GlobalCheckpoint
// pass took, for pkg/metrics's checkpoint_duration_seconds gauge.
func (e *Executor) LastDuration() time.Duration {
	return time.Duration(e.lastDurationNanos.Load())
}

// ErrRunningCheckpointProcessing is RunningCheckpointProcessing from spec.md
// §4.3.3: a synchronous worker request arrives while a checkpoint or sync is
// already in flight.
var ErrRunningCheckpointProcessing = errors.New("checkpoint: a checkpoint or synchronization is already running")
