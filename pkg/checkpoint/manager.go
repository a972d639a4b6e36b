package checkpoint

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kvarch/checkpoint/pkg/daemon"
)

// Manager owns the CheckpointExecutor's daemon thread and the anyRunning
// guard (spec.md §9's replacement for the teacher's global mutable
// checkpoint state, and §4.3.3's synchronous invocation protocol). Only the
// executor's step enters the guard; FileSynchronizer passes do not set
// anyRunning.
type Manager struct {
	executor     *Executor
	synchronizer Waker

	thread *daemon.Thread

	mu           sync.Mutex
	anyRunning   bool
	completionCh chan struct{}

	logger zerolog.Logger
}

// NewManager creates a CheckpointManager. period is CheckpointPeriod from
// spec.md §6; synchronizer is woken after every global checkpoint (spec.md
// §4.3 "After the checkpoint it wakes the FileSynchronizer").
func NewManager(executor *Executor, synchronizer Waker, period time.Duration, logger zerolog.Logger) *Manager {
	m := &Manager{
		executor:     executor,
		synchronizer: synchronizer,
		completionCh: closedChannel(),
		logger:       logger.With().Str("component", "checkpoint-manager").Logger(),
	}
	m.thread = daemon.New("checkpoint-executor", period, false, m.step, logger)
	return m
}

func closedChannel() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Thread exposes the underlying daemon.Thread so a process can Start/Join it
// alongside the other daemons.
func (m *Manager) Thread() *daemon.Thread { return m.thread }

// step is the CheckpointExecutor's step(): run one global checkpoint
// (daemon.Thread already gates enabled-ness), then wake the FileSynchronizer.
// When aborting is true the checkpoint still runs, as the final pass that
// marks the logs terminated.
func (m *Manager) step(aborting bool) error {
	guard := m.enter()
	err := m.executor.GlobalCheckpoint(context.Background(), aborting)
	guard.finish(false)

	if err == nil && m.synchronizer != nil {
		m.synchronizer.Wakeup()
	}
	return err
}

// runningGuard is the RAII guard from spec.md §4.3.3: it sets anyRunning on
// entry and, unless released via a handoff, clears it and signals the
// completion event on exit.
type runningGuard struct {
	mgr *Manager
	ch  chan struct{}
}

func (m *Manager) enter() *runningGuard {
	m.mu.Lock()
	m.anyRunning = true
	select {
	case <-m.completionCh:
		// The previous pass already signalled completion (or no Wakeup reset
		// the event): open a fresh event for this pass.
		m.completionCh = make(chan struct{})
	default:
	}
	ch := m.completionCh
	m.mu.Unlock()
	return &runningGuard{mgr: m, ch: ch}
}

// finish clears anyRunning and signals completion, unless handoff is true, in
// which case it leaves both untouched. step always passes false; the
// FileSynchronizer holds no guard of its own.
func (g *runningGuard) finish(handoff bool) {
	if handoff {
		return
	}
	g.mgr.mu.Lock()
	g.mgr.anyRunning = false
	g.mgr.mu.Unlock()
	close(g.ch)
}

// Wakeup is the worker-facing synchronous entry point from spec.md §4.3.3:
// it checks anyRunning, returns ErrRunningCheckpointProcessing if set,
// otherwise resets the completion event and wakes the executor daemon.
func (m *Manager) Wakeup() error {
	m.mu.Lock()
	if m.anyRunning {
		m.mu.Unlock()
		return ErrRunningCheckpointProcessing
	}
	m.completionCh = make(chan struct{})
	m.mu.Unlock()

	m.thread.Wakeup()
	return nil
}

// Start launches the checkpoint executor's daemon thread and enables it;
// the thread is created disabled by construction (spec.md §3), so Start is
// what actually lets its periodic and woken checkpoints run.
func (m *Manager) Start() {
	m.thread.Start()
	m.thread.Enable(true)
}

// Shutdown runs CheckpointExecutor's join protocol: a final forced
// checkpoint marks the logs as cleanly terminated before the thread exits
// (spec.md §2's control-flow note "At shutdown, CheckpointExecutor is
// joined last so a final checkpoint marks the logs as cleanly terminated").
func (m *Manager) Shutdown() error {
	return m.thread.Join()
}

// Wait blocks on the completion event until the checkpoint finishes or
// timeout elapses.
func (m *Manager) Wait(timeout time.Duration) error {
	m.mu.Lock()
	ch := m.completionCh
	m.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("checkpoint: timed out after %s waiting for completion", timeout)
	}
}

// IsExecuting reports whether a checkpoint pass is currently in progress. A
// running FileSynchronizer pass does not make it true.
func (m *Manager) IsExecuting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.anyRunning
}
