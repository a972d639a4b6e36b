// Package daemon implements the DaemonThread base abstraction: a long-lived
// worker that periodically runs a user-supplied step function, can be
// paused and resumed via nested enable/disable counters, and can be woken
// early. DirtyPageFlusher, CheckpointExecutor and FileSynchronizer are all
// built on top of Thread (spec.md §4.1).
//
// The source this spec distills from represents wakeup/enable/inactive as
// three OS event objects (one auto-reset, two manual-reset) guarded by a
// critical section. Go has no first-class manual-reset event, so here the
// wakeup event is a one-slot channel, "enabled" is an int depth counter
// (force collapses it to 1 or 0), and "inactive" is a boolean; the depth and
// inactive state share one mutex and one condition variable, which serves
// both blocking waits (disable-waits-for-inactive,
// forced-execute-waits-for-enabled).
package daemon

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Status mirrors the lifecycle spec.md §3 assigns to a Daemon.
type Status int32

const (
	StatusNotStarted Status = iota
	StatusRunning
	StatusAborting
	StatusAborted
	StatusExited
)

func (s Status) String() string {
	switch s {
	case StatusNotStarted:
		return "not-started"
	case StatusRunning:
		return "running"
	case StatusAborting:
		return "aborting"
	case StatusAborted:
		return "aborted"
	case StatusExited:
		return "exited"
	default:
		return "unknown"
	}
}

// StepFunc is the periodic action a Thread repeats. aborting is true when
// the thread is being shut down and the step should do a final, forced pass
// (spec.md §4.2's "flush everything regardless of threshold" rule is an
// example caller of this flag).
type StepFunc func(aborting bool) error

// Thread is the Go analogue of the source's Buffer::DaemonThread /
// Buffer::Daemon pairing: one dedicated goroutine running step on a timer,
// suspendable via Enable/Disable.
type Thread struct {
	name     string
	interval time.Duration
	step     StepFunc
	logger   zerolog.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	depth    int // enabledCount: >0 means enabled
	inactive bool
	status   Status
	err      error

	wakeupCh chan struct{}
	doneCh   chan struct{}
}

// New creates a Thread in StatusNotStarted, disabled unless startEnabled is
// true (spec.md §3: "created disabled by construction").
func New(name string, interval time.Duration, startEnabled bool, step StepFunc, logger zerolog.Logger) *Thread {
	t := &Thread{
		name:     name,
		interval: interval,
		step:     step,
		logger:   logger.With().Str("daemon", name).Logger(),
		inactive: true,
		wakeupCh: make(chan struct{}, 1),
		doneCh:   make(chan struct{}),
	}
	t.cond = sync.NewCond(&t.mu)
	if startEnabled {
		t.depth = 1
	}
	return t
}

// Start spawns the daemon's goroutine. NotStarted -> Running.
func (t *Thread) Start() {
	t.mu.Lock()
	if t.status != StatusNotStarted {
		t.mu.Unlock()
		return
	}
	t.status = StatusRunning
	t.mu.Unlock()

	t.logger.Info().Dur("interval", t.interval).Msg("daemon starting")
	go t.loop()
}

// loop is the main thread body described in spec.md §4.1:
//  1. wait up to interval on the wakeup channel (equivalent to the
//     auto-reset, single-waiter wakeupEvent);
//  2. execute(force=true) — Join's forced wakeup still gets one last,
//     aborting=true pass before the loop exits, so a daemon's final step
//     (e.g. CheckpointExecutor's shutdown checkpoint) actually runs;
//  3. once that pass observes Aborting, stop; on exit, set status to Aborted.
func (t *Thread) loop() {
	defer close(t.doneCh)
	for {
		t.waitWakeupOrTimeout()
		aborting := t.Status() == StatusAborting
		if _, err := t.Execute(true); err != nil {
			t.logger.Error().Err(err).Msg("daemon step failed")
			t.mu.Lock()
			t.err = err
			t.mu.Unlock()
		}
		if aborting {
			break
		}
	}
	t.setStatus(StatusAborted)
}

func (t *Thread) waitWakeupOrTimeout() {
	if t.interval <= 0 {
		<-t.wakeupCh
		return
	}
	timer := time.NewTimer(t.interval)
	defer timer.Stop()
	select {
	case <-t.wakeupCh:
	case <-timer.C:
	}
}

// Wakeup schedules an immediate run of step, consuming at most one pending
// token — additional wakeups before the thread observes the first are
// coalesced, matching the auto-reset/single-waiter event it replaces.
func (t *Thread) Wakeup() {
	select {
	case t.wakeupCh <- struct{}{}:
	default:
	}
}

// Execute runs step once if the daemon is enabled. When force is false and
// the daemon is disabled, Execute returns (false, nil) immediately. When
// force is true and the daemon is disabled, Execute blocks until an Enable
// call makes it enabled, then runs step (spec.md §4.1 "Force mode blocks on
// enableEvent until enabled and then retries").
func (t *Thread) Execute(force bool) (ran bool, err error) {
	t.mu.Lock()
	for t.depth <= 0 {
		if !force {
			t.mu.Unlock()
			return false, nil
		}
		t.cond.Wait()
	}
	t.inactive = false
	aborting := t.status == StatusAborting
	t.mu.Unlock()

	err = t.step(aborting)

	t.mu.Lock()
	t.inactive = true
	t.cond.Broadcast()
	t.mu.Unlock()

	return true, err
}

// Enable increments the nested enable counter (or collapses it to exactly
// one enable when force is true), per spec.md §4.1.
func (t *Thread) Enable(force bool) {
	t.mu.Lock()
	if force {
		t.depth = 1
	} else {
		t.depth++
	}
	t.cond.Broadcast()
	t.mu.Unlock()
}

// Disable decrements the nested enable counter (or collapses it to exactly
// one disable when force is true). If the counter drops to zero or below,
// Disable blocks until any in-flight step() returns — it never returns
// while step is running (spec.md §4.1, Testable Property 7).
func (t *Thread) Disable(force bool) {
	t.mu.Lock()
	if force {
		t.depth = 0
	} else {
		t.depth--
	}
	needWait := t.depth <= 0
	t.mu.Unlock()

	if needWait {
		t.waitInactive()
	}
}

func (t *Thread) waitInactive() {
	t.mu.Lock()
	for !t.inactive {
		t.cond.Wait()
	}
	t.mu.Unlock()
}

// IsEnabled reports whether the nested enable counter is currently positive.
func (t *Thread) IsEnabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.depth > 0
}

// IsInactive reports whether step is not currently running.
func (t *Thread) IsInactive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inactive
}

func (t *Thread) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Thread) setStatus(s Status) {
	t.mu.Lock()
	t.status = s
	t.mu.Unlock()
}

// Join requests shutdown (if the daemon is running) and waits for its
// goroutine to exit, per spec.md §4.1's join protocol: it signals abort,
// wakes the thread, force-enables it so the Aborting check is always
// reached, then waits. Any error the step function returned is surfaced
// here.
func (t *Thread) Join() error {
	status := t.Status()
	if status == StatusRunning || status == StatusAborting {
		t.setStatus(StatusAborting)
		t.Wakeup()
		t.Enable(true)
		<-t.doneCh
	} else if status == StatusNotStarted {
		return nil
	}

	t.setStatus(StatusExited)
	t.mu.Lock()
	err := t.err
	t.mu.Unlock()
	if err != nil {
		t.logger.Error().Err(err).Msg("daemon exited with error")
		return fmt.Errorf("daemon %q exited with error: %w", t.name, err)
	}
	t.logger.Info().Msg("daemon exited cleanly")
	return nil
}

// Name returns the daemon's diagnostic name.
func (t *Thread) Name() string { return t.name }
