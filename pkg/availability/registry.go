// Package availability implements the DatabaseAvailability registry
// described in spec.md §3/§4.6: a process-wide map from database identifier
// to "unavailable" status, a recovery-start timestamp, and the set of file
// identifiers that failed.
package availability

import (
	"sync"

	"github.com/kvarch/checkpoint/pkg/primitives"
	"github.com/kvarch/checkpoint/pkg/timestamp"
)

// Entry is the DatabaseAvailabilityEntry from spec.md §3.
type Entry struct {
	RecoveryStart primitives.Timestamp
	FailedFiles   map[primitives.FileID]struct{}
}

func newEntry() *Entry {
	return &Entry{
		RecoveryStart: primitives.Illegal,
		FailedFiles:   make(map[primitives.FileID]struct{}),
	}
}

// SchemaExists reports whether a database identifier still names a live
// database in the schema catalog. The schema catalog itself is out of
// scope (spec.md §1); this is the narrow collaborator interface the core
// needs from it.
type SchemaExists func(db primitives.DatabaseID) bool

// Registry is the DatabaseAvailability entity.
type Registry struct {
	mu      sync.Mutex
	entries map[primitives.DatabaseID]*Entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[primitives.DatabaseID]*Entry)}
}

// SetDatabaseAvailable removes db from the unavailable map.
func (r *Registry) SetDatabaseAvailable(db primitives.DatabaseID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, db)
}

// SetDatabaseUnavailable marks db unavailable, storing the invalid-file
// sentinel and an optional recovery-start timestamp (spec.md §4.6).
func (r *Registry) SetDatabaseUnavailable(db primitives.DatabaseID, recoveryStart primitives.Timestamp) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := newEntry()
	e.FailedFiles[primitives.InvalidFileID] = struct{}{}
	e.RecoveryStart = recoveryStart
	r.entries[db] = e
}

// SetFileAvailable marks a single file of db available again. If no failed
// files remain, the whole entry is removed (spec.md §4.6).
func (r *Registry) SetFileAvailable(db primitives.DatabaseID, file primitives.FileID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[db]
	if !ok {
		return
	}
	delete(e.FailedFiles, file)
	if len(e.FailedFiles) == 0 {
		delete(r.entries, db)
	}
}

// SetFileUnavailable marks a single file of db unavailable.
func (r *Registry) SetFileUnavailable(db primitives.DatabaseID, file primitives.FileID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[db]
	if !ok {
		e = newEntry()
		r.entries[db] = e
	}
	e.FailedFiles[file] = struct{}{}
}

// IsAvailable reports whether db has no availability entry at all.
func (r *Registry) IsAvailable(db primitives.DatabaseID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, unavailable := r.entries[db]
	return !unavailable
}

// IsFileAvailable reports whether file of db is available. File-level
// availability implies database-level availability (spec.md §4.6): if the
// whole database is down, every file is considered unavailable too.
func (r *Registry) IsFileAvailable(db primitives.DatabaseID, file primitives.FileID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[db]
	if !ok {
		return true
	}
	if _, wholeDB := e.FailedFiles[primitives.InvalidFileID]; wholeDB {
		return false
	}
	_, failed := e.FailedFiles[file]
	return !failed
}

// GetUnavailable returns a deep-copy snapshot of the unavailable-database
// map, for inclusion in a SystemCheckpoint record (spec.md §4.6).
func (r *Registry) GetUnavailable() map[primitives.DatabaseID]Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[primitives.DatabaseID]Entry, len(r.entries))
	for db, e := range r.entries {
		files := make(map[primitives.FileID]struct{}, len(e.FailedFiles))
		for f := range e.FailedFiles {
			files[f] = struct{}{}
		}
		out[db] = Entry{RecoveryStart: e.RecoveryStart, FailedFiles: files}
	}
	return out
}

// SetStartRecoveryTime is the checkpoint-time sweep from spec.md §4.6 and
// §4.3.1 step 6: every unavailable database whose recoveryStart is still
// Illegal gets it filled in from TimestampLedger.secondMostRecent; a
// database whose schema entry no longer exists is erased instead.
func (r *Registry) SetStartRecoveryTime(ledger *timestamp.Ledger, exists SchemaExists) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for db, e := range r.entries {
		if exists != nil && !exists(db) {
			delete(r.entries, db)
			continue
		}
		if e.RecoveryStart == primitives.Illegal {
			e.RecoveryStart = ledger.GetSecondMostRecent(db)
		}
	}
}
