package capture

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/vona/pkg/adapters/asr"
	"github.com/harunnryd/vona/pkg/errorsx"
	"github.com/harunnryd/vona/pkg/metrics"
	"github.com/harunnryd/vona/pkg/oneshot"
	"github.com/harunnryd/vona/pkg/redact"
	"github.com/harunnryd/vona/pkg/resilience"
)

type state int

const (
	stateIdle state = iota
	stateCapturing
	stateStopping
)

// EventKind identifies what a capture Event carries.
type EventKind int

const (
	// EventStarted fires when the recognizer has actually opened the mic.
	EventStarted EventKind = iota
	// EventResult carries a final transcript.
	EventResult
	// EventError carries a terminal capture error. Transient recognizer
	// errors are retried internally and only surface once exhausted.
	EventError
	// EventEnded fires once per run when capture has fully settled.
	EventEnded
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventResult:
		return "result"
	case EventError:
		return "error"
	case EventEnded:
		return "ended"
	default:
		return "invalid"
	}
}

// Event is delivered on the session's event channel.
type Event struct {
	Kind       EventKind
	Transcript string
	Confidence float64
	Err        error
}

// Config controls one capture session's behavior.
type Config struct {
	Language     string
	StopTimeout  time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

func (c *Config) applyDefaults() {
	if c.Language == "" {
		c.Language = "zh-CN"
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 3 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = time.Second
	}
}

// Session wraps a speech recognizer with serialized start/stop, transient
// error retries and a stop watchdog. Events stream out on Events(); the
// channel is never closed so consumers can outlive individual runs.
type Session struct {
	mu     sync.Mutex
	state  state
	run    *runState
	probed bool

	rec   asr.Recognizer
	probe asr.PermissionProbe
	cfg   Config
	retry resilience.RetryPolicy
	log   *slog.Logger
	obs   metrics.Observer

	sessionID string
	events    chan Event

	// test seam
	afterFunc func(time.Duration, func()) *time.Timer
}

// runState is the per-run bookkeeping thrown away when capture settles.
type runState struct {
	gen        int
	guard      *oneshot.Guard
	attempt    int
	gotResult  bool
	retryTimer *time.Timer
	stopTimer  *time.Timer
	cancel     context.CancelFunc
}

func NewSession(rec asr.Recognizer, probe asr.PermissionProbe, cfg Config, log *slog.Logger, obs metrics.Observer, sessionID string) *Session {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	retry := resilience.NewRetryPolicy(cfg.MaxRetries, cfg.RetryBackoff)
	// All restarts happen inside one listening window, so the schedule
	// stays flat at RetryBackoff instead of growing per attempt.
	retry.MaxDelay = cfg.RetryBackoff
	return &Session{
		rec:       rec,
		probe:     probe,
		cfg:       cfg,
		retry:     retry,
		log:       log.With("component", "capture", "session_id", sessionID),
		obs:       obs,
		sessionID: sessionID,
		events:    make(chan Event, 16),
		afterFunc: time.AfterFunc,
	}
}

// Events returns the stream of capture events.
func (s *Session) Events() <-chan Event { return s.events }

// Active reports whether a capture run is in flight.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != stateIdle
}

// Start opens the microphone. The first call probes recognizer permission
// and fails terminally if the probe is denied. Start during an in-flight
// stop waits for that stop to settle first; Start while actively
// capturing is an error.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	for s.state == stateStopping {
		run := s.run
		if run == nil || run.guard.Completed() {
			s.state = stateIdle
			break
		}
		s.mu.Unlock()
		select {
		case <-run.guard.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
		s.mu.Lock()
	}
	if s.state != stateIdle {
		s.mu.Unlock()
		return errorsx.New(errorsx.ReasonCaptureTransient, "capture already active")
	}
	if !s.probed && s.probe != nil {
		if err := s.probe.CheckMicrophone(ctx); err != nil {
			s.mu.Unlock()
			return errorsx.Wrap(err, errorsx.ReasonCapturePermission)
		}
	}
	s.probed = true

	runCtx, cancel := context.WithCancel(ctx)
	run := &runState{
		gen:    nextGen(s.run),
		guard:  oneshot.New(),
		cancel: cancel,
	}
	s.run = run
	s.state = stateCapturing
	s.mu.Unlock()

	if err := s.startRecognizer(runCtx, run); err != nil {
		s.settle(run, "start-failed", nil)
		return err
	}
	return nil
}

// Stop closes the current run and blocks until it settles. If the
// recognizer does not report end within StopTimeout it is aborted and the
// run is force-settled.
func (s *Session) Stop() {
	s.mu.Lock()
	run := s.run
	if run == nil || s.state == stateIdle {
		s.mu.Unlock()
		return
	}
	if s.state == stateCapturing {
		s.state = stateStopping
		run.stopTimer = s.afterFunc(s.cfg.StopTimeout, func() {
			s.forceStop(run)
		})
	}
	s.mu.Unlock()

	_ = s.rec.Stop()
	<-run.guard.Done()
}

// Abort tears down the current run without emitting error events.
func (s *Session) Abort() {
	s.mu.Lock()
	run := s.run
	s.mu.Unlock()
	if run == nil {
		return
	}
	_ = s.rec.Abort()
	s.settle(run, "abort", nil)
}

func (s *Session) startRecognizer(ctx context.Context, run *runState) error {
	cfg := asr.Config{Language: s.cfg.Language, MaxAlternatives: 1}
	handlers := asr.Handlers{
		OnStart: func() { s.onStart(run) },
		OnResult: func(transcript string, confidence float64) {
			s.onResult(run, transcript, confidence)
		},
		OnError: func(kind asr.ErrorKind, err error) {
			s.onError(ctx, run, kind, err)
		},
		OnEnd: func() { s.onEnd(run) },
	}
	if err := s.rec.Start(ctx, cfg, handlers); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonCaptureTransient)
	}
	return nil
}

func (s *Session) onStart(run *runState) {
	if s.stale(run) {
		return
	}
	s.log.Debug("capture started", "attempt", run.attempt)
	s.record(metrics.EventCaptureStart, nil)
	if run.attempt == 0 {
		s.emit(Event{Kind: EventStarted})
	}
}

func (s *Session) onResult(run *runState, transcript string, confidence float64) {
	if s.stale(run) {
		return
	}
	s.mu.Lock()
	run.gotResult = true
	s.mu.Unlock()
	s.log.Info("transcript final",
		"transcript", redact.Clip(transcript),
		"confidence", confidence,
	)
	s.record(metrics.EventCaptureFinal, map[string]any{"confidence": confidence})
	s.emit(Event{Kind: EventResult, Transcript: transcript, Confidence: confidence})
}

func (s *Session) onError(ctx context.Context, run *runState, kind asr.ErrorKind, err error) {
	if s.stale(run) {
		return
	}
	switch {
	case kind == asr.ErrAborted:
		// Deliberate teardown; nothing to report.
		return
	case kind.Terminal():
		s.log.Error("capture terminal error", "kind", string(kind), "error", err)
		s.record(metrics.EventCaptureError, map[string]any{"kind": string(kind)})
		reason := errorsx.ReasonCaptureTerminal
		if kind == asr.ErrNotAllowed {
			reason = errorsx.ReasonCapturePermission
		}
		s.emit(Event{Kind: EventError, Err: errorsx.Wrap(err, reason)})
		s.settle(run, "terminal-error", nil)
	case kind.Transient():
		s.retryTransient(ctx, run, kind, err)
	default:
		s.log.Warn("capture error with unknown kind", "kind", string(kind), "error", err)
		s.retryTransient(ctx, run, kind, err)
	}
}

func (s *Session) retryTransient(ctx context.Context, run *runState, kind asr.ErrorKind, err error) {
	s.mu.Lock()
	if s.state != stateCapturing || run.gotResult {
		s.mu.Unlock()
		return
	}
	run.attempt++
	attempt := run.attempt
	exhausted := attempt > s.cfg.MaxRetries
	s.mu.Unlock()

	if exhausted {
		s.log.Error("capture retries exhausted", "kind", string(kind), "attempts", attempt-1)
		s.record(metrics.EventCaptureError, map[string]any{"kind": string(kind), "exhausted": true})
		s.emit(Event{Kind: EventError, Err: errorsx.Wrap(err, errorsx.ReasonCaptureExhausted)})
		s.settle(run, "retries-exhausted", nil)
		return
	}

	delay := s.retry.Delay(attempt - 1)
	s.log.Warn("capture transient error, retrying",
		"kind", string(kind),
		"attempt", attempt,
		"delay", delay,
	)
	s.record(metrics.EventCaptureRetry, map[string]any{"kind": string(kind), "attempt": attempt})

	s.mu.Lock()
	run.retryTimer = s.afterFunc(delay, func() {
		if s.stale(run) {
			return
		}
		if err := s.startRecognizer(ctx, run); err != nil {
			s.emit(Event{Kind: EventError, Err: err})
			s.settle(run, "restart-failed", nil)
		}
	})
	s.mu.Unlock()
}

func (s *Session) onEnd(run *runState) {
	if s.stale(run) {
		return
	}
	s.mu.Lock()
	// End without a result while still capturing usually means the
	// recognizer gave up on silence; treat like a transient retry only
	// when we are not stopping.
	retrying := run.retryTimer != nil && s.state == stateCapturing && !run.gotResult
	s.mu.Unlock()
	if retrying {
		return
	}
	s.settle(run, "recognizer-end", nil)
}

func (s *Session) forceStop(run *runState) {
	if s.stale(run) {
		return
	}
	s.log.Warn("stop watchdog fired, aborting recognizer")
	s.record(metrics.EventCaptureStopForced, nil)
	_ = s.rec.Abort()
	s.settle(run, "stop-watchdog", errorsx.New(errorsx.ReasonCaptureStopForced, "capture stop timed out"))
}

// settle transitions the run to idle exactly once and emits EventEnded.
func (s *Session) settle(run *runState, source string, err error) {
	if !run.guard.Complete(source) {
		return
	}
	s.mu.Lock()
	if s.run == run {
		s.state = stateIdle
	}
	if run.retryTimer != nil {
		run.retryTimer.Stop()
	}
	if run.stopTimer != nil {
		run.stopTimer.Stop()
	}
	s.mu.Unlock()
	if run.cancel != nil {
		run.cancel()
	}
	s.log.Debug("capture settled", "source", source)
	if source != "abort" {
		s.emit(Event{Kind: EventEnded, Err: err})
	}
}

func (s *Session) stale(run *runState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run != run || run.guard.Completed()
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.log.Warn("capture event dropped", "kind", ev.Kind.String())
	}
}

func (s *Session) record(name string, fields map[string]any) {
	s.obs.RecordEvent(metrics.MetricsEvent{
		Name:   name,
		Time:   time.Now(),
		Tags:   map[string]string{"session_id": s.sessionID},
		Fields: fields,
	})
}

func nextGen(prev *runState) int {
	if prev == nil {
		return 1
	}
	return prev.gen + 1
}
