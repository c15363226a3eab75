package orchestrator

import (
	"errors"
	"testing"
)

func TestStageMachineValidTransitions(t *testing.T) {
	m := NewStageMachine()
	path := []Stage{Listening, Interpreting, Confirming, Executing, SpeakingResult, Idle}
	for _, to := range path {
		if err := m.Transition(to); err != nil {
			t.Fatalf("Transition(%v): %v", to, err)
		}
	}
	if m.Current() != Idle {
		t.Fatalf("final stage = %v, want Idle", m.Current())
	}
}

func TestStageMachineRejectsInvalid(t *testing.T) {
	m := NewStageMachine()
	err := m.Transition(Executing)
	if err == nil {
		t.Fatal("Idle -> Executing should be rejected")
	}
	var ite InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("error type = %T, want InvalidTransitionError", err)
	}
	if ite.From != Idle || ite.To != Executing {
		t.Fatalf("unexpected edge in error: %v", ite)
	}
	if m.Current() != Idle {
		t.Fatal("rejected transition changed the stage")
	}
}

func TestStageMachineConfirmingSelfLoop(t *testing.T) {
	m := NewStageMachine()
	for _, to := range []Stage{Listening, Interpreting, Confirming} {
		if err := m.Transition(to); err != nil {
			t.Fatalf("Transition(%v): %v", to, err)
		}
	}
	if err := m.Transition(Confirming); err != nil {
		t.Fatalf("Confirming self loop rejected: %v", err)
	}
}

func TestStageMachineListeners(t *testing.T) {
	m := NewStageMachine()
	var seen []Stage
	m.AddListener(func(from, to Stage) { seen = append(seen, to) })

	if err := m.Transition(Listening); err != nil {
		t.Fatal(err)
	}
	if err := m.Transition(Errored); err != nil {
		t.Fatal(err)
	}
	m.Reset()

	want := []Stage{Listening, Errored, Idle}
	if len(seen) != len(want) {
		t.Fatalf("listener saw %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("listener saw %v, want %v", seen, want)
		}
	}
}

func TestStageMachineResetFromIdleIsSilent(t *testing.T) {
	m := NewStageMachine()
	var calls int
	m.AddListener(func(from, to Stage) { calls++ })
	m.Reset()
	if calls != 0 {
		t.Fatal("reset from Idle notified listeners")
	}
}

func TestEveryStageReachesIdle(t *testing.T) {
	for from := range transitions {
		if from == Idle {
			continue
		}
		if !allowed(from, Idle) && !allowed(from, Errored) {
			t.Errorf("stage %v has no path toward Idle", from)
		}
	}
}
