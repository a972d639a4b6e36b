package timestamp

import (
	"testing"

	"github.com/kvarch/checkpoint/pkg/primitives"
)

func TestNewLedgerStartsIllegal(t *testing.T) {
	l := New(0)
	if l.GlobalMostRecent() != primitives.Illegal {
		t.Errorf("expected mostRecent to start Illegal, got %v", l.GlobalMostRecent())
	}
	if l.GlobalSecondMostRecent() != primitives.Illegal {
		t.Errorf("expected secondMostRecent to start Illegal, got %v", l.GlobalSecondMostRecent())
	}
}

// TestAssignSynchronized covers Testable Property 3: persisted==true implies
// mostRecent == secondMostRecent after the assign.
func TestAssignSynchronized(t *testing.T) {
	l := New(0)
	l.Assign(10, false)
	l.Assign(20, true)

	if l.GlobalMostRecent() != 20 {
		t.Errorf("expected mostRecent=20, got %v", l.GlobalMostRecent())
	}
	if l.GlobalSecondMostRecent() != 20 {
		t.Errorf("expected secondMostRecent=20 after synchronized assign, got %v", l.GlobalSecondMostRecent())
	}
}

// TestAssignUnsynchronizedRotates covers Testable Property 4: persisted==false
// implies secondMostRecent == previous mostRecent.
func TestAssignUnsynchronizedRotates(t *testing.T) {
	l := New(0)
	l.Assign(10, true)
	l.Assign(20, false)

	if l.GlobalMostRecent() != 20 {
		t.Errorf("expected mostRecent=20, got %v", l.GlobalMostRecent())
	}
	if l.GlobalSecondMostRecent() != 10 {
		t.Errorf("expected secondMostRecent=10 (previous mostRecent), got %v", l.GlobalSecondMostRecent())
	}
}

func TestAssignSynchronizedClearsPerDB(t *testing.T) {
	l := New(0)
	var db primitives.DatabaseID = 7
	l.AssignDB(db, 5, false)
	l.Assign(99, true)

	if got := l.GetMostRecent(db); got != 99 {
		t.Errorf("expected per-db override cleared, GetMostRecent=%v want global 99", got)
	}
}

func TestAssignDBRotatesIndependently(t *testing.T) {
	l := New(0)
	var db primitives.DatabaseID = 1
	l.AssignDB(db, 10, false)
	l.AssignDB(db, 20, false)

	if got := l.GetMostRecent(db); got != 20 {
		t.Errorf("expected per-db mostRecent=20, got %v", got)
	}
	if got := l.GetSecondMostRecent(db); got != 10 {
		t.Errorf("expected per-db secondMostRecent=10, got %v", got)
	}
}

func TestGetFallsBackToSystemInitialized(t *testing.T) {
	l := New(0)
	if got := l.GetMostRecent(42); got != primitives.SystemInitialized() {
		t.Errorf("expected system-initialized sentinel, got %v", got)
	}
}

func TestPerDBAssignSynchronizedSetsBothEqual(t *testing.T) {
	l := New(0)
	var db primitives.DatabaseID = 3
	l.AssignDB(db, 15, true)
	if got := l.GetMostRecent(db); got != 15 {
		t.Errorf("expected mostRecent=15, got %v", got)
	}
	if got := l.GetSecondMostRecent(db); got != 15 {
		t.Errorf("expected secondMostRecent=15 for synchronized per-db assign, got %v", got)
	}
}
