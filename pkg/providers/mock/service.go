package mock

import (
	"context"
	"sync"

	"github.com/harunnryd/vona/pkg/services"
)

// Service is a canned assistant backend keyed by transcript. Unmatched
// transcripts fall back to Default.
type Service struct {
	Default services.Interpretation

	mu             sync.Mutex
	interpretation map[string]services.Interpretation
	results        map[string]services.ExecutionResult
	interpretErr   error
	executeErr     error
	interpretCalls int
	executeCalls   int
}

func NewService() *Service {
	return &Service{
		interpretation: make(map[string]services.Interpretation),
		results:        make(map[string]services.ExecutionResult),
	}
}

// OnInterpret registers the interpretation for a transcript.
func (s *Service) OnInterpret(text string, in services.Interpretation) *Service {
	s.mu.Lock()
	s.interpretation[text] = in
	s.mu.Unlock()
	return s
}

// OnExecute registers the result for an action ID.
func (s *Service) OnExecute(actionID string, res services.ExecutionResult) *Service {
	s.mu.Lock()
	s.results[actionID] = res
	s.mu.Unlock()
	return s
}

// FailInterpret makes every Interpret call return err.
func (s *Service) FailInterpret(err error) *Service {
	s.mu.Lock()
	s.interpretErr = err
	s.mu.Unlock()
	return s
}

// FailExecute makes every Execute call return err.
func (s *Service) FailExecute(err error) *Service {
	s.mu.Lock()
	s.executeErr = err
	s.mu.Unlock()
	return s
}

func (s *Service) Interpret(_ context.Context, text, _, _ string) (services.Interpretation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interpretCalls++
	if s.interpretErr != nil {
		return services.Interpretation{}, s.interpretErr
	}
	if in, ok := s.interpretation[text]; ok {
		return in, nil
	}
	return s.Default, nil
}

func (s *Service) Execute(_ context.Context, action services.Action, _, _ string) (services.ExecutionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executeCalls++
	if s.executeErr != nil {
		return services.ExecutionResult{}, s.executeErr
	}
	if res, ok := s.results[action.ID]; ok {
		return res, nil
	}
	return services.ExecutionResult{Success: true}, nil
}

// Calls reports interpret and execute call counts.
func (s *Service) Calls() (interprets, executes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interpretCalls, s.executeCalls
}
