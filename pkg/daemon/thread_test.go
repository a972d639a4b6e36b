package daemon

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/kvarch/checkpoint/pkg/logging"
)

func TestExecuteRunsStep(t *testing.T) {
	var ran atomic.Int32
	th := New("t1", time.Hour, true, func(aborting bool) error {
		ran.Add(1)
		return nil
	}, logging.Nop())

	did, err := th.Execute(false)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !did {
		t.Fatal("expected Execute to run while enabled")
	}
	if ran.Load() != 1 {
		t.Fatalf("expected step to run once, ran %d times", ran.Load())
	}
}

func TestExecuteSkipsWhenDisabled(t *testing.T) {
	var ran atomic.Int32
	th := New("t1", time.Hour, false, func(aborting bool) error {
		ran.Add(1)
		return nil
	}, logging.Nop())

	did, err := th.Execute(false)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if did {
		t.Fatal("expected Execute not to run while disabled")
	}
	if ran.Load() != 0 {
		t.Fatalf("expected step not to run, ran %d times", ran.Load())
	}
}

// TestDisableEnableIdempotence covers Testable Property 6: disable; disable;
// enable; enable is indistinguishable from no action.
func TestDisableEnableIdempotence(t *testing.T) {
	th := New("t1", time.Hour, true, func(aborting bool) error { return nil }, logging.Nop())

	if !th.IsEnabled() {
		t.Fatal("expected daemon to start enabled")
	}

	th.Disable(false)
	th.Disable(false)
	th.Enable(false)
	th.Enable(false)

	if !th.IsEnabled() {
		t.Fatal("expected daemon to be enabled again after matched disable/enable pairs")
	}
}

// TestDisableBlocksUntilStepFinishes covers Testable Property 7.
func TestDisableBlocksUntilStepFinishes(t *testing.T) {
	stepStarted := make(chan struct{})
	releaseStep := make(chan struct{})

	th := New("t1", time.Hour, true, func(aborting bool) error {
		close(stepStarted)
		<-releaseStep
		return nil
	}, logging.Nop())

	go func() { _, _ = th.Execute(false) }()
	<-stepStarted

	disableReturned := make(chan struct{})
	go func() {
		th.Disable(false)
		close(disableReturned)
	}()

	select {
	case <-disableReturned:
		t.Fatal("Disable returned while step was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(releaseStep)

	select {
	case <-disableReturned:
	case <-time.After(time.Second):
		t.Fatal("Disable did not return after step completed")
	}
}

func TestForceCollapsesNestedCounters(t *testing.T) {
	th := New("t1", time.Hour, true, func(aborting bool) error { return nil }, logging.Nop())

	th.Enable(false)
	th.Enable(false)
	th.Disable(true) // force: collapses to fully disabled regardless of depth
	if th.IsEnabled() {
		t.Fatal("expected force disable to fully disable the daemon")
	}

	th.Enable(true) // force: collapses to a single enable
	if !th.IsEnabled() {
		t.Fatal("expected force enable to enable the daemon")
	}
}

func TestJoinBeforeStartReturnsImmediately(t *testing.T) {
	th := New("t1", time.Hour, true, func(aborting bool) error { return nil }, logging.Nop())
	if err := th.Join(); err != nil {
		t.Fatalf("Join on an unstarted daemon should not error: %v", err)
	}
}

func TestStartRunsPeriodically(t *testing.T) {
	var count atomic.Int32
	th := New("t1", 10*time.Millisecond, true, func(aborting bool) error {
		count.Add(1)
		return nil
	}, logging.Nop())

	th.Start()
	time.Sleep(80 * time.Millisecond)
	if err := th.Join(); err != nil {
		t.Fatalf("Join returned error: %v", err)
	}

	if count.Load() < 2 {
		t.Fatalf("expected at least two ticks, got %d", count.Load())
	}
}

func TestWakeupRunsStepEarly(t *testing.T) {
	ran := make(chan struct{}, 1)
	th := New("t1", time.Hour, true, func(aborting bool) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}, logging.Nop())

	th.Start()
	th.Wakeup()

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("expected Wakeup to trigger an early step execution")
	}
	if err := th.Join(); err != nil {
		t.Fatalf("Join returned error: %v", err)
	}
}

func TestJoinForceEnablesSoAbortIsReachable(t *testing.T) {
	th := New("t1", time.Millisecond, true, func(aborting bool) error { return nil }, logging.Nop())
	th.Start()
	th.Disable(false) // leave disabled; Join must still be able to finish it off
	if err := th.Join(); err != nil {
		t.Fatalf("Join returned error: %v", err)
	}
	if th.Status() != StatusExited {
		t.Fatalf("expected status Exited, got %v", th.Status())
	}
}

func TestJoinSurfacesStepError(t *testing.T) {
	th := New("t1", 5*time.Millisecond, true, func(aborting bool) error {
		return errBoom
	}, logging.Nop())
	th.Start()
	time.Sleep(20 * time.Millisecond)
	if err := th.Join(); err == nil {
		t.Fatal("expected Join to surface the step error")
	}
}

// TestJoinRunsFinalStepWithAborting covers the shutdown contract spec.md §4.1
// describes for CheckpointExecutor: Join must drive one last step with
// aborting=true before the goroutine exits, not just tear the loop down.
func TestJoinRunsFinalStepWithAborting(t *testing.T) {
	var lastAborting atomic.Bool
	var calls atomic.Int32
	th := New("t1", time.Hour, true, func(aborting bool) error {
		calls.Add(1)
		lastAborting.Store(aborting)
		return nil
	}, logging.Nop())

	th.Start()
	if err := th.Join(); err != nil {
		t.Fatalf("Join returned error: %v", err)
	}

	if calls.Load() == 0 {
		t.Fatal("expected Join to drive a final step before exiting")
	}
	if !lastAborting.Load() {
		t.Fatal("expected the final step to observe aborting=true")
	}
}

var errBoom = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
