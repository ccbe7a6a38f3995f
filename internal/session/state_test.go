package session

import (
	"errors"
	"sync"
	"testing"
)

func TestLifecycle_InitialState(t *testing.T) {
	lc := NewLifecycle()

	if lc.State() != StateActive {
		t.Errorf("expected StateActive, got %v", lc.State())
	}
	if !lc.CanAppend() {
		t.Error("expected CanAppend to be true")
	}
	if lc.IsTerminal() {
		t.Error("expected IsTerminal to be false")
	}
}

func TestLifecycle_Append_InActiveState(t *testing.T) {
	lc := NewLifecycle()

	for i := 0; i < 5; i++ {
		if err := lc.Append(); err != nil {
			t.Errorf("append %d: unexpected error: %v", i, err)
		}
	}

	if lc.State() != StateActive {
		t.Errorf("expected StateActive after appends, got %v", lc.State())
	}
}

func TestLifecycle_TriggerFinalize_OnlyOnce(t *testing.T) {
	lc := NewLifecycle()

	if err := lc.TriggerFinalize(); err != nil {
		t.Errorf("first trigger: unexpected error: %v", err)
	}
	if lc.State() != StateFinalizing {
		t.Errorf("expected StateFinalizing, got %v", lc.State())
	}

	if err := lc.TriggerFinalize(); !errors.Is(err, ErrFinalizeAlreadyTriggered) {
		t.Errorf("second trigger: expected ErrFinalizeAlreadyTriggered, got %v", err)
	}
}

func TestLifecycle_TriggerFinalize_ConcurrentSingleWinner(t *testing.T) {
	lc := NewLifecycle()

	const racers = 32
	var wg sync.WaitGroup
	wins := make(chan struct{}, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if lc.TriggerFinalize() == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	if count != 1 {
		t.Errorf("expected exactly 1 honored trigger, got %d", count)
	}
}

func TestLifecycle_AppendFailsAfterFinalize(t *testing.T) {
	lc := NewLifecycle()

	if err := lc.TriggerFinalize(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := lc.Append(); !errors.Is(err, ErrSessionSealed) {
		t.Errorf("expected ErrSessionSealed, got %v", err)
	}
	if lc.CanAppend() {
		t.Error("expected CanAppend to be false after finalize")
	}
}

func TestLifecycle_FullPipeline(t *testing.T) {
	lc := NewLifecycle()

	if err := lc.TriggerFinalize(); err != nil {
		t.Fatalf("TriggerFinalize: %v", err)
	}
	if err := lc.BeginExtracting(); err != nil {
		t.Fatalf("BeginExtracting: %v", err)
	}
	if lc.State() != StateExtracting {
		t.Errorf("expected StateExtracting, got %v", lc.State())
	}
	if err := lc.BeginDelivering(); err != nil {
		t.Fatalf("BeginDelivering: %v", err)
	}
	if err := lc.Complete(); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if lc.State() != StateCompleted {
		t.Errorf("expected StateCompleted, got %v", lc.State())
	}
	if !lc.IsTerminal() {
		t.Error("expected IsTerminal to be true")
	}
}

func TestLifecycle_TransitionsRequireOrder(t *testing.T) {
	lc := NewLifecycle()

	// Cannot extract or deliver while ACTIVE.
	if err := lc.BeginExtracting(); err == nil {
		t.Error("BeginExtracting from ACTIVE should fail")
	}
	if err := lc.BeginDelivering(); err == nil {
		t.Error("BeginDelivering from ACTIVE should fail")
	}
	if err := lc.Complete(); err == nil {
		t.Error("Complete from ACTIVE should fail")
	}
}

func TestLifecycle_FailFromAnyNonTerminalState(t *testing.T) {
	states := []struct {
		name  string
		setup func(lc *Lifecycle)
	}{
		{name: "active", setup: func(lc *Lifecycle) {}},
		{name: "finalizing", setup: func(lc *Lifecycle) {
			_ = lc.TriggerFinalize()
		}},
		{name: "extracting", setup: func(lc *Lifecycle) {
			_ = lc.TriggerFinalize()
			_ = lc.BeginExtracting()
		}},
		{name: "delivering", setup: func(lc *Lifecycle) {
			_ = lc.TriggerFinalize()
			_ = lc.BeginExtracting()
			_ = lc.BeginDelivering()
		}},
	}

	for _, tt := range states {
		t.Run(tt.name, func(t *testing.T) {
			lc := NewLifecycle()
			tt.setup(lc)
			if !lc.Fail() {
				t.Error("expected Fail to succeed from non-terminal state")
			}
			if lc.State() != StateFailed {
				t.Errorf("expected StateFailed, got %v", lc.State())
			}
		})
	}
}

func TestLifecycle_FailIsNoOpWhenTerminal(t *testing.T) {
	lc := NewLifecycle()
	_ = lc.TriggerFinalize()
	_ = lc.BeginExtracting()
	_ = lc.BeginDelivering()
	_ = lc.Complete()

	if lc.Fail() {
		t.Error("Fail on COMPLETED session should be a no-op")
	}
	if lc.State() != StateCompleted {
		t.Errorf("expected StateCompleted, got %v", lc.State())
	}
}

func TestLifecycle_TriggerFinalizeOnTerminal(t *testing.T) {
	lc := NewLifecycle()
	lc.Fail()

	if err := lc.TriggerFinalize(); !errors.Is(err, ErrSessionTerminal) {
		t.Errorf("expected ErrSessionTerminal, got %v", err)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateActive, "ACTIVE"},
		{StateFinalizing, "FINALIZING"},
		{StateExtracting, "EXTRACTING"},
		{StateDelivering, "DELIVERING"},
		{StateCompleted, "COMPLETED"},
		{StateFailed, "FAILED"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
