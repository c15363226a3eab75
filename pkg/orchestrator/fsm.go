package orchestrator

import (
	"fmt"
	"sync"
)

// Stage is the orchestrator's position in the voice interaction cycle.
type Stage int

const (
	Idle Stage = iota
	Listening
	Interpreting
	Confirming
	Executing
	SpeakingResult
	Errored
)

func (s Stage) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Listening:
		return "LISTENING"
	case Interpreting:
		return "INTERPRETING"
	case Confirming:
		return "CONFIRMING"
	case Executing:
		return "EXECUTING"
	case SpeakingResult:
		return "SPEAKING_RESULT"
	case Errored:
		return "ERROR"
	default:
		return "INVALID"
	}
}

// transitions is the validated edge set. Every stage may fall to Errored
// and every stage may be reset to Idle.
var transitions = map[Stage][]Stage{
	Idle:           {Listening},
	Listening:      {Interpreting, Errored, Idle},
	Interpreting:   {Confirming, SpeakingResult, Errored, Idle},
	Confirming:     {Executing, Listening, Confirming, Errored, Idle},
	Executing:      {SpeakingResult, Errored, Idle},
	SpeakingResult: {Idle, Errored},
	Errored:        {Idle},
}

// InvalidTransitionError reports a rejected stage change.
type InvalidTransitionError struct {
	From Stage
	To   Stage
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid stage transition %s -> %s", e.From, e.To)
}

// StageListener observes committed transitions.
type StageListener func(from, to Stage)

// StageMachine validates and serializes stage transitions. Listeners are
// invoked outside the lock, in registration order, after the transition
// has committed.
type StageMachine struct {
	mu        sync.Mutex
	current   Stage
	listeners []StageListener
}

func NewStageMachine() *StageMachine {
	return &StageMachine{current: Idle}
}

// Current returns the committed stage.
func (m *StageMachine) Current() Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// AddListener registers a transition observer.
func (m *StageMachine) AddListener(l StageListener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, l)
	m.mu.Unlock()
}

// Transition moves the machine to the target stage or rejects the edge.
func (m *StageMachine) Transition(to Stage) error {
	m.mu.Lock()
	from := m.current
	if !allowed(from, to) {
		m.mu.Unlock()
		return InvalidTransitionError{From: from, To: to}
	}
	m.current = to
	listeners := make([]StageListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	for _, l := range listeners {
		l(from, to)
	}
	return nil
}

// Reset forces the machine back to Idle from any stage.
func (m *StageMachine) Reset() {
	m.mu.Lock()
	from := m.current
	m.current = Idle
	listeners := make([]StageListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	if from == Idle {
		return
	}
	for _, l := range listeners {
		l(from, Idle)
	}
}

func allowed(from, to Stage) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
