package mock

import (
	"sync"
	"time"

	"github.com/harunnryd/vona/pkg/adapters/synth"
)

// Synthesizer is a scriptable speech synthesizer. By default every
// utterance completes after Latency; the Drop and Duplicate switches
// reproduce the completion-event bugs real capabilities exhibit.
type Synthesizer struct {
	Latency             time.Duration
	DropCompletion      bool
	DuplicateCompletion bool
	FailWith            error

	mu         sync.Mutex
	utterances []synth.Utterance
	speaking   bool
	voices     []synth.Voice
	cancels    int
}

func NewSynthesizer(voices ...synth.Voice) *Synthesizer {
	return &Synthesizer{Latency: time.Millisecond, voices: voices}
}

func (s *Synthesizer) Name() string { return "mock" }

func (s *Synthesizer) Speak(u synth.Utterance, cb synth.Callbacks) error {
	s.mu.Lock()
	s.utterances = append(s.utterances, u)
	s.speaking = true
	latency := s.Latency
	fail := s.FailWith
	drop := s.DropCompletion
	dup := s.DuplicateCompletion
	s.mu.Unlock()

	go func() {
		if cb.OnStart != nil {
			cb.OnStart()
		}
		time.Sleep(latency)
		s.mu.Lock()
		s.speaking = false
		s.mu.Unlock()
		if fail != nil {
			if cb.OnError != nil {
				cb.OnError(fail)
			}
			return
		}
		if drop {
			return
		}
		if cb.OnEnd != nil {
			cb.OnEnd()
			if dup {
				cb.OnEnd()
			}
		}
	}()
	return nil
}

func (s *Synthesizer) Cancel() {
	s.mu.Lock()
	s.speaking = false
	s.cancels++
	s.mu.Unlock()
}

func (s *Synthesizer) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

func (s *Synthesizer) Voices() []synth.Voice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voices
}

// Utterances returns everything spoken so far.
func (s *Synthesizer) Utterances() []synth.Utterance {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]synth.Utterance, len(s.utterances))
	copy(out, s.utterances)
	return out
}

// Cancels reports how many times playback was cancelled.
func (s *Synthesizer) Cancels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancels
}
