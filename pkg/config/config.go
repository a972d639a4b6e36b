// Package config implements the Configuration parameters from spec.md §6:
// read once at process initialize time, cached for the process lifetime,
// reset on terminate.
//
// Grounded on
// therealutkarshpriyadarshi-mydb/pkg/log/wal/checkpoint_daemon.go's
// CheckpointConfig/DefaultCheckpointConfig and truncate.go's
// TruncateConfig/DefaultTruncateConfig — the teacher's own config idiom: a
// plain struct plus a DefaultXConfig() constructor, no parsing library.
package config

import (
	"sync"
	"time"

	"github.com/kvarch/checkpoint/pkg/filesync"
)

// Configuration holds every tunable named in spec.md §6.
type Configuration struct {
	// Period is the checkpoint interval (default 30 minutes).
	Period time.Duration
	// TruncateLogicalLog allows log truncation at checkpoint time.
	TruncateLogicalLog bool
	// EnableFileSynchronizer selects the skip policy from spec.md §4.4.3.
	EnableFileSynchronizer filesync.EnableMode
	// TimeStampTableSize is the initial bucket count of the per-db
	// timestamp maps (default 7).
	TimeStampTableSize int
	// LoadSynchronizeCandidate eagerly opens all logs at first checkpoint.
	LoadSynchronizeCandidate bool
	// DirtyPageFlusherPeriod is the DirtyPageFlusher tick interval.
	DirtyPageFlusherPeriod time.Duration
	// FlushPageCoefficient is the percentage-of-limit threshold from
	// spec.md §4.2.
	FlushPageCoefficient int
	// StatisticsReporterPeriod is the StatisticsReporter tick interval; 0
	// disables the reporter.
	StatisticsReporterPeriod time.Duration
	// MaxSynchronizeConcurrency bounds how many candidates a
	// FileSynchronizer pass processes concurrently (domain-stack addition,
	// see SPEC_FULL.md §2).
	MaxSynchronizeConcurrency int64
}

// Default returns the parameter defaults spec.md §6 names.
func Default() *Configuration {
	return &Configuration{
		Period:                    30 * time.Minute,
		TruncateLogicalLog:        true,
		EnableFileSynchronizer:    filesync.ModeSpeed,
		TimeStampTableSize:        7,
		LoadSynchronizeCandidate:  true,
		DirtyPageFlusherPeriod:    time.Second,
		FlushPageCoefficient:      10,
		StatisticsReporterPeriod:  0,
		MaxSynchronizeConcurrency: 4,
	}
}

var (
	mu     sync.Mutex
	cached *Configuration
)

// Initialize caches cfg for the process lifetime. Calling Initialize again
// before Terminate replaces the cached value, matching the "read at
// initialize time, cached for the process lifetime" contract.
func Initialize(cfg *Configuration) {
	mu.Lock()
	defer mu.Unlock()
	cached = cfg
}

// Get returns the cached configuration, or the defaults if Initialize has
// not been called.
func Get() *Configuration {
	mu.Lock()
	defer mu.Unlock()
	if cached == nil {
		return Default()
	}
	return cached
}

// Terminate clears the cached configuration.
func Terminate() {
	mu.Lock()
	defer mu.Unlock()
	cached = nil
}
