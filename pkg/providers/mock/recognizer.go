package mock

import (
	"context"
	"sync"
	"time"

	"github.com/harunnryd/vona/pkg/adapters/asr"
)

// Step scripts what one recognition cycle produces.
type Step struct {
	Transcript string
	Confidence float64
	ErrorKind  asr.ErrorKind
	Err        error
	Delay      time.Duration
	// DropEnd suppresses the OnEnd event, simulating capabilities that
	// lose their completion signal.
	DropEnd bool
	// Silent produces a cycle with no events after OnStart.
	Silent bool
}

// Recognizer is a scriptable speech recognizer. Each Start consumes the
// next step; past the script's end cycles are silent.
type Recognizer struct {
	mu       sync.Mutex
	steps    []Step
	index    int
	handlers asr.Handlers
	cancel   context.CancelFunc
	starts   int
	stops    int
	aborts   int
}

func NewRecognizer(steps ...Step) *Recognizer {
	return &Recognizer{steps: steps}
}

func (r *Recognizer) Name() string { return "mock" }

func (r *Recognizer) Start(ctx context.Context, _ asr.Config, h asr.Handlers) error {
	r.mu.Lock()
	r.starts++
	r.handlers = h
	var step Step
	if r.index < len(r.steps) {
		step = r.steps[r.index]
		r.index++
	} else {
		step = Step{Silent: true}
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()

	go r.play(runCtx, step, h)
	return nil
}

func (r *Recognizer) play(ctx context.Context, step Step, h asr.Handlers) {
	if h.OnStart != nil {
		h.OnStart()
	}
	delay := step.Delay
	if delay <= 0 {
		delay = time.Millisecond
	}
	select {
	case <-ctx.Done():
		return
	case <-time.After(delay):
	}
	if step.Silent {
		return
	}
	if step.Err != nil {
		if h.OnError != nil {
			h.OnError(step.ErrorKind, step.Err)
		}
	} else if h.OnResult != nil {
		conf := step.Confidence
		if conf == 0 {
			conf = 0.9
		}
		h.OnResult(step.Transcript, conf)
	}
	if !step.DropEnd && h.OnEnd != nil {
		h.OnEnd()
	}
}

func (r *Recognizer) Stop() error {
	r.mu.Lock()
	r.stops++
	h := r.handlers
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if h.OnEnd != nil {
		h.OnEnd()
	}
	return nil
}

func (r *Recognizer) Abort() error {
	r.mu.Lock()
	r.aborts++
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// Starts reports how many cycles were opened.
func (r *Recognizer) Starts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts
}

// Aborts reports how many cycles were torn down.
func (r *Recognizer) Aborts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aborts
}

// AllowMicrophone is a permission probe that always grants access.
func AllowMicrophone() asr.PermissionProbe {
	return asr.ProbeFunc(func(context.Context) error { return nil })
}

// DenyMicrophone is a permission probe that always denies access.
func DenyMicrophone(err error) asr.PermissionProbe {
	return asr.ProbeFunc(func(context.Context) error { return err })
}
