// Package filesync implements the FileSynchronizer daemon from spec.md
// §4.4: a DaemonThread with an effectively infinite interval, woken only by
// the checkpoint executor, that walks a candidate set of databases and
// synchronizes their on-disk version files.
//
// Grounded on
// original_source/sydney/Kernel/Checkpoint/FileSynchronizer.cpp's
// candidate-map/skip-map protocol (_FileSynchronizer::prepare/sync), scaled
// down to the collaborator-interface boundary spec.md §1 draws around the
// schema catalog and transaction manager.
package filesync

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/kvarch/checkpoint/pkg/checkpointlog"
	"github.com/kvarch/checkpoint/pkg/daemon"
	"github.com/kvarch/checkpoint/pkg/primitives"
)

// EnableMode is EnableFileSynchronizer from spec.md §4.4.3/§6.
type EnableMode int

const (
	// ModeOff means the synchronizer is never constructed.
	ModeOff EnableMode = iota
	// ModeSpeed skips busy databases on the next pass to keep them off the
	// sync-cost hook.
	ModeSpeed
	// ModeSize processes every candidate on every pass regardless of load.
	ModeSize
)

// Database is the narrow collaborator interface this package needs from
// the schema/transaction layer (spec.md §4.4.2): beginning a transaction,
// taking the per-database lock, and performing the underlying sync.
type Database interface {
	ID() primitives.DatabaseID
	IsSystem() bool
	IsAvailable() bool

	// BeginTransaction opens a read-write transaction on this database (or
	// on the system-table id for the system-database case) and acquires the
	// schema-level import-read locks spec.md §4.4.2 step 3 specifies.
	BeginTransaction(ctx context.Context) (Transaction, error)
}

// Transaction is the per-database unit of work a synchronization pass runs
// inside (spec.md §4.4.2 steps 4-10).
type Transaction interface {
	// LockTuple acquires the per-database tuple lock; ok is false if the
	// lock could not be obtained, meaning the pass is incomplete for this
	// candidate (spec.md §4.4.2 step 4).
	LockTuple() (ok bool, err error)
	// Open pins the database's schema cache and associates its log with
	// this transaction (spec.md §4.4.2 step 6).
	Open() error
	// Log returns the log this transaction should write
	// FileSynchronizeBegin/End records to.
	Log() checkpointlog.Log
	// Sync calls the schema/storage sync entry point, reporting whether the
	// pass is incomplete and whether anything was modified (spec.md §4.4.2
	// step 8).
	Sync(ctx context.Context) (incomplete, modified bool, err error)
	// MarkSynchronizeDone sets the log-file header's "synchronize-done"
	// flag (spec.md §4.4.2 step 9, only when incomplete==false).
	MarkSynchronizeDone() error
	Commit() error
}

// Synchronizer wraps a daemon.Thread whose step runs one synchronization
// pass over the candidate set.
type Synchronizer struct {
	*daemon.Thread

	mode          EnableMode
	maxConcurrent int64
	logger        zerolog.Logger

	pauseExecutor  func()
	resumeExecutor func()

	mu            sync.Mutex
	candidates    map[primitives.DatabaseID]Database
	skipThisRound map[primitives.DatabaseID]int

	skippedTotal atomic.Uint64
}

// New creates a FileSynchronizer. pauseExecutor/resumeExecutor let step
// disable and re-enable the CheckpointExecutor daemon for the duration of a
// pass (spec.md §4.4.2 "step() disables the CheckpointExecutor").
func New(mode EnableMode, maxConcurrent int64, pauseExecutor, resumeExecutor func(), logger zerolog.Logger) *Synchronizer {
	s := &Synchronizer{
		mode:           mode,
		maxConcurrent:  maxConcurrent,
		logger:         logger.With().Str("component", "file-synchronizer").Logger(),
		pauseExecutor:  pauseExecutor,
		resumeExecutor: resumeExecutor,
		candidates:     make(map[primitives.DatabaseID]Database),
		skipThisRound:  make(map[primitives.DatabaseID]int),
	}
	s.Thread = daemon.New("file-synchronizer", 0, false, s.step, logger)
	return s
}

// AddCandidate registers a database for the next synchronization pass
// (spec.md §4.4.1). The checkpointlog writer does not call it; candidates
// are registered only by explicit calls to this method.
func (s *Synchronizer) AddCandidate(db Database) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates[db.ID()] = db
}

// MarkBusy adds db to skipThisRound for the next pass, the ModeSpeed policy
// from spec.md §4.4.3.
func (s *Synchronizer) MarkBusy(db primitives.DatabaseID) {
	if s.mode != ModeSpeed {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skipThisRound[db]++
}

// CandidateCount returns the number of databases currently registered for
// the next synchronization pass, for pkg/metrics's sync_candidates_gauge.
func (s *Synchronizer) CandidateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.candidates)
}

// SkippedTotal returns the number of candidates skipped across every pass so
// far because they were in skipThisRound, for pkg/metrics's
// sync_skipped_total gauge.
func (s *Synchronizer) SkippedTotal() uint64 {
	return s.skippedTotal.Load()
}

// step implements spec.md §4.4.2: disable the executor, iterate candidates
// (skipping anything in skipThisRound), run each through the ten-step
// synchronize protocol concurrently bounded by maxConcurrent, then clear
// skipThisRound.
func (s *Synchronizer) step(aborting bool) error {
	if s.pauseExecutor != nil {
		s.pauseExecutor()
		defer s.resumeExecutor()
	}

	s.mu.Lock()
	toRun := make([]Database, 0, len(s.candidates))
	for id, db := range s.candidates {
		if _, skip := s.skipThisRound[id]; skip {
			s.skippedTotal.Add(1)
			continue
		}
		toRun = append(toRun, db)
	}
	s.mu.Unlock()

	ctx := context.Background()
	sem := semaphore.NewWeighted(s.maxConcurrent)
	g, gctx := errgroup.WithContext(ctx)

	for _, db := range toRun {
		db := db
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			if err := s.syncOne(gctx, db); err != nil {
				s.logger.Error().Err(err).Uint32("database", uint32(db.ID())).Msg("synchronize failed")
			}
			return nil
		})
	}
	err := g.Wait()

	s.mu.Lock()
	s.skipThisRound = make(map[primitives.DatabaseID]int)
	s.mu.Unlock()

	return err
}

// syncOne runs the ten-step per-candidate protocol of spec.md §4.4.2.
func (s *Synchronizer) syncOne(ctx context.Context, db Database) error {
	txn, err := db.BeginTransaction(ctx)
	if err != nil {
		return err
	}

	ok, err := txn.LockTuple()
	if err != nil {
		return err
	}
	if !ok {
		// Incomplete: leave the candidate in place for the next pass.
		return nil
	}

	if !db.IsAvailable() {
		return txn.Commit()
	}

	if err := txn.Open(); err != nil {
		return err
	}

	log := txn.Log()
	beginPayload, err := checkpointlog.SerializeFileSynchronizeBegin()
	if err != nil {
		return err
	}
	if _, err := log.Append(beginPayload); err != nil {
		return err
	}

	incomplete, modified, err := txn.Sync(ctx)
	if err != nil {
		return err
	}

	endPayload, err := checkpointlog.SerializeFileSynchronizeEnd(&checkpointlog.FileSynchronizeEndRecord{Modified: modified})
	if err != nil {
		return err
	}
	if _, err := log.Append(endPayload); err != nil {
		return err
	}

	if !incomplete {
		if err := txn.MarkSynchronizeDone(); err != nil {
			return err
		}
	}

	return txn.Commit()
}
