package callstate

import "testing"

func TestNewStartsInWaiting(t *testing.T) {
	m := New()
	if got := m.Current().Phase; got != PhaseWaiting {
		t.Fatalf("expected PhaseWaiting, got %s", got)
	}
}

func TestTransitionRejectsIllegalMove(t *testing.T) {
	m := New()
	err := m.Transition(State{Phase: PhaseConnected})
	if err == nil {
		t.Fatal("expected waiting -> connected to be rejected")
	}
	if got := m.Current().Phase; got != PhaseWaiting {
		t.Fatalf("expected state unchanged after rejected transition, got %s", got)
	}
}

func TestTransitionAllowsDeclaredPath(t *testing.T) {
	m := New()
	steps := []Phase{PhaseReady, PhaseConnecting, PhaseConnected, PhaseEnded}
	for _, p := range steps {
		if err := m.Transition(State{Phase: p}); err != nil {
			t.Fatalf("unexpected error transitioning to %s: %v", p, err)
		}
	}
	if got := m.Current().Phase; got != PhaseEnded {
		t.Fatalf("expected PhaseEnded, got %s", got)
	}
}

func TestTransitionOutOfTerminalPhaseFails(t *testing.T) {
	m := New()
	_ = m.Transition(State{Phase: PhaseReady})
	_ = m.Transition(State{Phase: PhaseConnecting})
	_ = m.Transition(State{Phase: PhaseFailed})

	if err := m.Transition(State{Phase: PhaseReady}); err == nil {
		t.Fatal("expected leaving a terminal phase to be rejected")
	}
}

func TestSubscribeLimitIsEnforced(t *testing.T) {
	m := New()
	if _, err := m.Subscribe(); err != nil {
		t.Fatalf("unexpected error on first subscribe: %v", err)
	}
	if _, err := m.Subscribe(); err != nil {
		t.Fatalf("unexpected error on second subscribe: %v", err)
	}
	if _, err := m.Subscribe(); err == nil {
		t.Fatal("expected a third subscriber to be rejected")
	}
}

func TestSubscriberSeesNewestValueNotQueue(t *testing.T) {
	m := New()
	ch, err := m.Subscribe()
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	<-ch // drain the initial waiting snapshot

	_ = m.Transition(State{Phase: PhaseReady})
	_ = m.Transition(State{Phase: PhaseConnecting})

	got := <-ch
	if got.Phase != PhaseConnecting {
		t.Fatalf("expected the subscriber to observe the newest phase (connecting), got %s", got.Phase)
	}
	select {
	case extra := <-ch:
		t.Fatalf("expected no queued intermediate state, got %s", extra.Phase)
	default:
	}
}

func TestResetStateClosesAndReplacesSubscriberChannels(t *testing.T) {
	m := New()
	ch, err := m.Subscribe()
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	<-ch

	m.ResetState()

	if _, ok := <-ch; ok {
		t.Fatal("expected the pre-reset channel to be closed")
	}
}
