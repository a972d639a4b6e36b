package availability

import (
	"testing"

	"github.com/kvarch/checkpoint/pkg/primitives"
	"github.com/kvarch/checkpoint/pkg/timestamp"
)

func TestSetDatabaseUnavailableAndAvailable(t *testing.T) {
	r := New()
	var db primitives.DatabaseID = 1

	if !r.IsAvailable(db) {
		t.Fatal("expected db to start available")
	}

	r.SetDatabaseUnavailable(db, primitives.Illegal)
	if r.IsAvailable(db) {
		t.Fatal("expected db to be unavailable after SetDatabaseUnavailable")
	}

	r.SetDatabaseAvailable(db)
	if !r.IsAvailable(db) {
		t.Fatal("expected db to be available again after SetDatabaseAvailable")
	}
}

// TestFileUnavailableImpliesDBUnavailable is S6 from spec.md §8: a file
// within database D is reported unavailable; isAvailable(D) becomes false
// and getUnavailable() returns D with failedFiles={fileId}.
func TestFileUnavailableImpliesDBUnavailable(t *testing.T) {
	r := New()
	var db primitives.DatabaseID = 2
	var file primitives.FileID = 5

	r.SetFileUnavailable(db, file)

	if r.IsAvailable(db) {
		t.Fatal("expected db to be reported unavailable once a file is down")
	}
	if r.IsFileAvailable(db, file) {
		t.Fatal("expected the specific file to be unavailable")
	}

	snap := r.GetUnavailable()
	entry, ok := snap[db]
	if !ok {
		t.Fatal("expected db to appear in GetUnavailable snapshot")
	}
	if _, present := entry.FailedFiles[file]; !present {
		t.Fatalf("expected failedFiles to contain %v, got %v", file, entry.FailedFiles)
	}
}

func TestSetFileAvailableRemovesEntryWhenEmpty(t *testing.T) {
	r := New()
	var db primitives.DatabaseID = 3
	var file primitives.FileID = 9

	r.SetFileUnavailable(db, file)
	r.SetFileAvailable(db, file)

	if !r.IsAvailable(db) {
		t.Fatal("expected db entry to be removed once its last failed file is restored")
	}
}

// TestSetStartRecoveryTimeFillsFromLedger covers Testable Property 5 and the
// tail of S6: after checkpoint, D's recoveryStart equals the second-most-
// recent timestamp of D's log.
func TestSetStartRecoveryTimeFillsFromLedger(t *testing.T) {
	r := New()
	ledger := timestamp.New(0)
	var db primitives.DatabaseID = 4

	ledger.AssignDB(db, 100, true)
	ledger.AssignDB(db, 200, false) // secondMostRecent(db) == 100

	r.SetDatabaseUnavailable(db, primitives.Illegal)
	r.SetStartRecoveryTime(ledger, func(primitives.DatabaseID) bool { return true })

	snap := r.GetUnavailable()
	entry := snap[db]
	if entry.RecoveryStart != 100 {
		t.Errorf("expected recoveryStart=100, got %v", entry.RecoveryStart)
	}
}

func TestSetStartRecoveryTimeErasesVanishedDatabase(t *testing.T) {
	r := New()
	ledger := timestamp.New(0)
	var db primitives.DatabaseID = 6

	r.SetDatabaseUnavailable(db, primitives.Illegal)
	r.SetStartRecoveryTime(ledger, func(primitives.DatabaseID) bool { return false })

	if !r.IsAvailable(db) {
		t.Fatal("expected db entry to be erased once its schema object no longer exists")
	}
}

func TestSetStartRecoveryTimeLeavesExistingValueAlone(t *testing.T) {
	r := New()
	ledger := timestamp.New(0)
	var db primitives.DatabaseID = 8

	r.SetDatabaseUnavailable(db, 42)
	r.SetStartRecoveryTime(ledger, func(primitives.DatabaseID) bool { return true })

	snap := r.GetUnavailable()
	if snap[db].RecoveryStart != 42 {
		t.Errorf("expected existing recoveryStart to be left alone, got %v", snap[db].RecoveryStart)
	}
}
