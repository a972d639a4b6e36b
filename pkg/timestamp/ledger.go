// Package timestamp implements the process-wide TimestampLedger described
// in spec.md §4.5: the most-recent and second-most-recent checkpoint
// timestamps, both globally and per database, and the recovery starting
// point they provide.
//
// The teacher's globalCheckpointState (pkg/log/wal/checkpoint.go) tracks a
// single atomic.Value for the last checkpoint LSN; Ledger generalizes that
// one-scalar idea to the four-field structure spec.md §3/§4.5 requires,
// guarded by one mutex rather than an atomic.Value per field (the four
// fields must be updated together, atomically, which atomic.Value cannot
// express).
package timestamp

import (
	"sync"

	"github.com/kvarch/checkpoint/pkg/primitives"
)

// Ledger is the TimestampLedger entity from spec.md §3.
type Ledger struct {
	mu sync.RWMutex

	mostRecent       primitives.Timestamp
	secondMostRecent primitives.Timestamp

	perDbMostRecent       map[primitives.DatabaseID]primitives.Timestamp
	perDbSecondMostRecent map[primitives.DatabaseID]primitives.Timestamp
}

// New creates an empty ledger; bucketSize seeds the per-database map
// capacity (spec.md §6 TimeStampTableSize).
func New(bucketSize int) *Ledger {
	if bucketSize <= 0 {
		bucketSize = 7
	}
	return &Ledger{
		mostRecent:            primitives.Illegal,
		secondMostRecent:      primitives.Illegal,
		perDbMostRecent:       make(map[primitives.DatabaseID]primitives.Timestamp, bucketSize),
		perDbSecondMostRecent: make(map[primitives.DatabaseID]primitives.Timestamp, bucketSize),
	}
}

// Assign is the global assignment path (spec.md §4.5). When synchronized is
// true both globals become v and the per-database maps are cleared; when
// false, secondMostRecent takes on the previous mostRecent and the
// per-database maps rotate the same way.
func (l *Ledger) Assign(v primitives.Timestamp, synchronized bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if synchronized {
		l.mostRecent = v
		l.secondMostRecent = v
		l.perDbMostRecent = make(map[primitives.DatabaseID]primitives.Timestamp, len(l.perDbMostRecent))
		l.perDbSecondMostRecent = make(map[primitives.DatabaseID]primitives.Timestamp, len(l.perDbSecondMostRecent))
		return
	}

	l.secondMostRecent = l.mostRecent
	l.mostRecent = v
	l.perDbSecondMostRecent = l.perDbMostRecent
	l.perDbMostRecent = make(map[primitives.DatabaseID]primitives.Timestamp, len(l.perDbSecondMostRecent))
}

// AssignDB is the per-database assignment path (spec.md §4.5).
func (l *Ledger) AssignDB(db primitives.DatabaseID, v primitives.Timestamp, synchronized bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if synchronized {
		l.perDbMostRecent[db] = v
		l.perDbSecondMostRecent[db] = v
		return
	}

	l.perDbSecondMostRecent[db] = l.perDbMostRecent[db]
	l.perDbMostRecent[db] = v
}

// GetMostRecent returns the per-database value if present, else the global
// value, falling back to the system-initialized sentinel when the global is
// Illegal (spec.md §4.5).
func (l *Ledger) GetMostRecent(db primitives.DatabaseID) primitives.Timestamp {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if v, ok := l.perDbMostRecent[db]; ok {
		return v
	}
	if l.mostRecent == primitives.Illegal {
		return primitives.SystemInitialized()
	}
	return l.mostRecent
}

// GetSecondMostRecent mirrors GetMostRecent for the second-most-recent slot.
func (l *Ledger) GetSecondMostRecent(db primitives.DatabaseID) primitives.Timestamp {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if v, ok := l.perDbSecondMostRecent[db]; ok {
		return v
	}
	if l.secondMostRecent == primitives.Illegal {
		return primitives.SystemInitialized()
	}
	return l.secondMostRecent
}

// GlobalMostRecent returns the process-wide most-recent timestamp,
// ignoring any per-database override.
func (l *Ledger) GlobalMostRecent() primitives.Timestamp {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.mostRecent
}

// GlobalSecondMostRecent returns the process-wide second-most-recent
// timestamp, ignoring any per-database override.
func (l *Ledger) GlobalSecondMostRecent() primitives.Timestamp {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.secondMostRecent
}
