package filesync

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/kvarch/checkpoint/pkg/checkpointlog"
	"github.com/kvarch/checkpoint/pkg/logging"
	"github.com/kvarch/checkpoint/pkg/primitives"
)

type fakeSyncLog struct {
	mu       sync.Mutex
	appended [][]byte
	nextLSN  primitives.LSN
}

func (f *fakeSyncLog) DatabaseID() primitives.DatabaseID   { return 0 }
func (f *fakeSyncLog) IsSystem() bool                      { return false }
func (f *fakeSyncLog) IsReadOnly() bool                    { return false }
func (f *fakeSyncLog) IsUnavailable() bool                 { return false }
func (f *fakeSyncLog) HasActivitySinceLastCheckpoint() bool { return false }
func (f *fakeSyncLog) HasInProgressTransaction() bool      { return false }

func (f *fakeSyncLog) Append(payload []byte) (primitives.LSN, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextLSN++
	f.appended = append(f.appended, payload)
	return f.nextLSN, nil
}

func (f *fakeSyncLog) Truncate(before primitives.LSN) error { return nil }

func (f *fakeSyncLog) recordCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.appended)
}

type fakeTxn struct {
	log          *fakeSyncLog
	lockOK       bool
	incomplete   bool
	modified     bool
	committed    atomic.Bool
	markedDone   atomic.Bool
}

func (t *fakeTxn) LockTuple() (bool, error) { return t.lockOK, nil }
func (t *fakeTxn) Open() error              { return nil }
func (t *fakeTxn) Log() checkpointlog.Log   { return t.log }

func (t *fakeTxn) Sync(ctx context.Context) (bool, bool, error) {
	return t.incomplete, t.modified, nil
}

func (t *fakeTxn) MarkSynchronizeDone() error {
	t.markedDone.Store(true)
	return nil
}

func (t *fakeTxn) Commit() error {
	t.committed.Store(true)
	return nil
}

type fakeDatabase struct {
	id        primitives.DatabaseID
	available bool
	txn       *fakeTxn
}

func (d *fakeDatabase) ID() primitives.DatabaseID { return d.id }
func (d *fakeDatabase) IsSystem() bool            { return false }
func (d *fakeDatabase) IsAvailable() bool         { return d.available }

func (d *fakeDatabase) BeginTransaction(ctx context.Context) (Transaction, error) {
	return d.txn, nil
}

func newTestSynchronizer(mode EnableMode) *Synchronizer {
	return New(mode, 4, nil, nil, logging.Nop())
}

// TestSyncOneWritesBeginAndEndRecords covers the FileSynchronizeBegin-then-
// End ordering guarantee from spec.md §5.
func TestSyncOneWritesBeginAndEndRecords(t *testing.T) {
	log := &fakeSyncLog{}
	txn := &fakeTxn{log: log, lockOK: true, modified: true}
	db := &fakeDatabase{id: 1, available: true, txn: txn}
	s := newTestSynchronizer(ModeSize)

	if err := s.syncOne(context.Background(), db); err != nil {
		t.Fatalf("syncOne: %v", err)
	}

	if log.recordCount() != 2 {
		t.Fatalf("expected 2 records (begin, end), got %d", log.recordCount())
	}
	if !txn.committed.Load() {
		t.Error("expected transaction to be committed")
	}
	if !txn.markedDone.Load() {
		t.Error("expected synchronize-done flag to be set when incomplete==false")
	}
}

func TestSyncOneIncompleteSkipsMarkDone(t *testing.T) {
	log := &fakeSyncLog{}
	txn := &fakeTxn{log: log, lockOK: true, incomplete: true}
	db := &fakeDatabase{id: 2, available: true, txn: txn}
	s := newTestSynchronizer(ModeSize)

	if err := s.syncOne(context.Background(), db); err != nil {
		t.Fatalf("syncOne: %v", err)
	}
	if txn.markedDone.Load() {
		t.Error("expected synchronize-done flag to stay unset when incomplete==true")
	}
	if !txn.committed.Load() {
		t.Error("expected transaction to still commit")
	}
}

// TestSyncOneFailedTupleLockLeavesCandidateUntouched covers spec.md §4.4.2
// step 4: a failed per-db lock acquisition returns without writing records.
func TestSyncOneFailedTupleLockLeavesCandidateUntouched(t *testing.T) {
	log := &fakeSyncLog{}
	txn := &fakeTxn{log: log, lockOK: false}
	db := &fakeDatabase{id: 3, available: true, txn: txn}
	s := newTestSynchronizer(ModeSize)

	if err := s.syncOne(context.Background(), db); err != nil {
		t.Fatalf("syncOne: %v", err)
	}
	if log.recordCount() != 0 {
		t.Error("expected no records written when tuple lock fails")
	}
	if txn.committed.Load() {
		t.Error("expected no commit when tuple lock fails")
	}
}

// TestSyncOneUnavailableDatabaseJustCommits covers spec.md §4.4.2 step 5.
func TestSyncOneUnavailableDatabaseJustCommits(t *testing.T) {
	log := &fakeSyncLog{}
	txn := &fakeTxn{log: log, lockOK: true}
	db := &fakeDatabase{id: 4, available: false, txn: txn}
	s := newTestSynchronizer(ModeSize)

	if err := s.syncOne(context.Background(), db); err != nil {
		t.Fatalf("syncOne: %v", err)
	}
	if log.recordCount() != 0 {
		t.Error("expected no sync records for an unavailable database")
	}
	if !txn.committed.Load() {
		t.Error("expected the transaction to still commit")
	}
}

// TestStepSkipsDatabasesInSkipThisRound covers scenario S3 from spec.md §8.
func TestStepSkipsDatabasesInSkipThisRound(t *testing.T) {
	log := &fakeSyncLog{}
	txn := &fakeTxn{log: log, lockOK: true, modified: true}
	db := &fakeDatabase{id: 5, available: true, txn: txn}

	s := newTestSynchronizer(ModeSpeed)
	s.AddCandidate(db)
	s.MarkBusy(db.ID())

	if err := s.step(false); err != nil {
		t.Fatalf("step: %v", err)
	}
	if log.recordCount() != 0 {
		t.Error("expected skipped candidate to receive no sync records this pass")
	}

	// skipThisRound is cleared after the pass, so the next step processes it.
	if err := s.step(false); err != nil {
		t.Fatalf("second step: %v", err)
	}
	if log.recordCount() != 2 {
		t.Errorf("expected candidate to be processed on the next pass, got %d records", log.recordCount())
	}
}

func TestMarkBusyNoOpWhenModeIsNotSpeed(t *testing.T) {
	s := newTestSynchronizer(ModeSize)
	s.MarkBusy(1)
	s.mu.Lock()
	n := len(s.skipThisRound)
	s.mu.Unlock()
	if n != 0 {
		t.Error("expected MarkBusy to be a no-op outside ModeSpeed")
	}
}
