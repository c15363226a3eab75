package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/vona/pkg/capture"
	"github.com/harunnryd/vona/pkg/errorsx"
	"github.com/harunnryd/vona/pkg/intent"
	"github.com/harunnryd/vona/pkg/metrics"
	"github.com/harunnryd/vona/pkg/playback"
	"github.com/harunnryd/vona/pkg/redact"
	"github.com/harunnryd/vona/pkg/services"
)

// Prompts are the spoken system messages.
type Prompts struct {
	Cancelled           string
	Clarify             string
	ConfirmationTimeout string
	CaptureFailure      string
	PersistentFailure   string
	ServiceFailure      string
	PermissionDenied    string
	ExecutionDone       string
}

// DefaultPrompts returns the Mandarin prompt set.
func DefaultPrompts() Prompts {
	return Prompts{
		Cancelled:           "好的，已取消。",
		Clarify:             "抱歉，我没听清，请回答确认、取消或重试。",
		ConfirmationTimeout: "确认超时，已取消本次操作。",
		CaptureFailure:      "语音识别出错，请稍后再试。",
		PersistentFailure:   "语音识别连续失败，请检查麦克风后重试。",
		ServiceFailure:      "服务暂时不可用，请稍后再试。",
		PermissionDenied:    "无法访问麦克风，请检查权限设置。",
		ExecutionDone:       "操作已完成。",
	}
}

// Config tunes the orchestrator's timeouts and prompts.
type Config struct {
	Language            string
	UserID              string
	ConfirmationTimeout time.Duration
	ErrorResetDelay     time.Duration
	CaptureFailureLimit int
	Prompts             Prompts
}

func (c *Config) applyDefaults() {
	if c.Language == "" {
		c.Language = "zh-CN"
	}
	if c.ConfirmationTimeout <= 0 {
		c.ConfirmationTimeout = 15 * time.Second
	}
	if c.ErrorResetDelay <= 0 {
		c.ErrorResetDelay = 5 * time.Second
	}
	if c.CaptureFailureLimit <= 0 {
		c.CaptureFailureLimit = 3
	}
	if c.Prompts == (Prompts{}) {
		c.Prompts = DefaultPrompts()
	}
}

// Deps are the engines the orchestrator sequences. It is their sole
// driver; they never initiate transitions themselves.
type Deps struct {
	Capture     *capture.Session
	Playback    *playback.Engine
	Classifier  *intent.Classifier
	Interpreter services.Interpreter
	Executor    services.Executor
}

// Orchestrator sequences capture, interpretation, confirmation,
// execution and result playback for one session. At most one of capture
// and playback is active at any time.
type Orchestrator struct {
	fsm     *StageMachine
	session *Session
	deps    Deps
	cfg     Config
	log     *slog.Logger
	obs     metrics.Observer

	mu              sync.Mutex
	gen             int64
	baseCtx         context.Context
	confirmTimer    *time.Timer
	errorTimer      *time.Timer
	captureFailures int

	closed    chan struct{}
	closeOnce sync.Once
}

func New(session *Session, deps Deps, cfg Config, log *slog.Logger, obs metrics.Observer) *Orchestrator {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	o := &Orchestrator{
		fsm:     NewStageMachine(),
		session: session,
		deps:    deps,
		cfg:     cfg,
		log:     log.With("component", "orchestrator", "session_id", session.ID()),
		obs:     obs,
		baseCtx: context.Background(),
		closed:  make(chan struct{}),
	}
	o.fsm.AddListener(func(from, to Stage) {
		o.log.Info("stage change", "from", from.String(), "to", to.String())
		o.record(metrics.EventStageChange, map[string]any{"from": from.String(), "to": to.String()})
	})
	go o.loop()
	return o
}

// Stage returns the current stage.
func (o *Orchestrator) Stage() Stage { return o.fsm.Current() }

// Session returns the session this orchestrator drives.
func (o *Orchestrator) Session() *Session { return o.session }

// AddStageListener registers an observer for committed transitions.
func (o *Orchestrator) AddStageListener(l StageListener) { o.fsm.AddListener(l) }

// Start opens a capture session and begins a voice interaction cycle.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.fsm.Transition(Listening); err != nil {
		return err
	}
	o.mu.Lock()
	if ctx != nil {
		o.baseCtx = ctx
	}
	gen := o.gen
	o.mu.Unlock()

	if err := o.deps.Capture.Start(o.opCtx()); err != nil {
		o.handleCaptureError(gen, err)
		return err
	}
	return nil
}

// Confirm approves the pending action by touch instead of voice.
func (o *Orchestrator) Confirm() {
	if o.fsm.Current() != Confirming {
		return
	}
	o.deps.Capture.Abort()
	o.doConfirm(o.generation())
}

// Retry re-runs interpretation on the last transcript by touch.
func (o *Orchestrator) Retry() {
	if o.fsm.Current() != Confirming {
		return
	}
	o.deps.Capture.Abort()
	o.doRetry(o.generation())
}

// Cancel abandons the pending action. Outside the confirmation stage it
// behaves like Reset.
func (o *Orchestrator) Cancel() {
	if o.fsm.Current() != Confirming {
		o.Reset()
		return
	}
	o.deps.Capture.Abort()
	o.doCancel(o.generation())
}

// Reset returns to Idle from any stage. The stage change is synchronous;
// engine teardown settles in the background and stale callbacks from
// before the reset are discarded.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	o.gen++
	o.stopTimersLocked()
	o.captureFailures = 0
	o.mu.Unlock()

	o.session.Clear()
	o.fsm.Reset()
	go func() {
		o.deps.Capture.Abort()
		o.deps.Playback.Cancel()
	}()
}

// Close stops the event loop. The orchestrator must not be used after.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() { close(o.closed) })
}

func (o *Orchestrator) loop() {
	for {
		select {
		case <-o.closed:
			return
		case ev := <-o.deps.Capture.Events():
			o.handleCaptureEvent(ev)
		}
	}
}

func (o *Orchestrator) handleCaptureEvent(ev capture.Event) {
	gen := o.generation()
	switch ev.Kind {
	case capture.EventResult:
		switch o.fsm.Current() {
		case Listening:
			o.handleTranscript(gen, ev.Transcript)
		case Confirming:
			o.handleConfirmationReply(gen, ev.Transcript)
		}
	case capture.EventError:
		o.handleCaptureError(gen, ev.Err)
	case capture.EventEnded:
		// A confirmation capture that settled without resolving the
		// pending action gets reopened; the confirmation timer still
		// bounds the whole exchange. The timer check keeps ended events
		// from the initial listening capture from opening the mic while
		// the confirmation prompt is still playing.
		if ev.Err == nil && o.fsm.Current() == Confirming && o.confirmTimerArmed() {
			o.reopenConfirmation(gen)
		}
	}
}

func (o *Orchestrator) handleTranscript(gen int64, transcript string) {
	if o.stale(gen) || strings.TrimSpace(transcript) == "" {
		return
	}
	o.resetCaptureFailures()
	o.session.SetLastTranscript(transcript)
	if err := o.fsm.Transition(Interpreting); err != nil {
		return
	}
	o.deps.Capture.Stop()
	o.interpret(gen, transcript)
}

func (o *Orchestrator) interpret(gen int64, transcript string) {
	res, err := o.deps.Interpreter.Interpret(o.opCtx(), transcript, o.session.ID(), o.cfg.UserID)
	if o.stale(gen) {
		return
	}
	if err != nil {
		o.toError(gen, err, o.cfg.Prompts.ServiceFailure)
		return
	}

	if res.NeedsConfirmation() {
		o.session.SetPendingAction(res.Action)
		if err := o.fsm.Transition(Confirming); err != nil {
			return
		}
		// Confirmation capture opens only after the prompt has fully
		// played; listening while speaking is never allowed.
		o.speak(gen, res.ConfirmText, func() { o.openConfirmationCapture(gen) })
		return
	}

	content := res.Content
	o.session.SetLastResult(content)
	if err := o.fsm.Transition(SpeakingResult); err != nil {
		return
	}
	o.speak(gen, content, func() { o.toIdle(gen) })
}

func (o *Orchestrator) handleConfirmationReply(gen int64, transcript string) {
	if o.stale(gen) {
		return
	}
	o.resetCaptureFailures()
	res := o.deps.Classifier.Classify(transcript, o.session.LastTranscript())
	if res == nil {
		o.reopenConfirmation(gen)
		return
	}
	o.log.Info("intent classified",
		"intent", res.Intent.String(),
		"transcript", redact.Clip(transcript),
	)
	o.record(metrics.EventIntentClassified, map[string]any{"intent": res.Intent.String()})

	switch res.Intent {
	case intent.Ignore:
		o.reopenConfirmation(gen)
	case intent.Confirm:
		o.doConfirm(gen)
	case intent.Cancel:
		o.doCancel(gen)
	case intent.Retry:
		o.doRetry(gen)
	case intent.Unknown:
		o.stopConfirmTimer()
		_ = o.fsm.Transition(Confirming)
		o.speak(gen, o.cfg.Prompts.Clarify, func() { o.openConfirmationCapture(gen) })
	}
}

func (o *Orchestrator) doConfirm(gen int64) {
	if o.stale(gen) {
		return
	}
	o.stopConfirmTimer()
	action := o.session.PendingAction()
	if action == nil {
		o.toIdle(gen)
		return
	}
	if err := o.fsm.Transition(Executing); err != nil {
		return
	}
	o.execute(gen, *action)
}

func (o *Orchestrator) execute(gen int64, action services.Action) {
	res, err := o.deps.Executor.Execute(o.opCtx(), action, o.session.ID(), o.cfg.UserID)
	if o.stale(gen) {
		return
	}
	if err != nil {
		o.toError(gen, err, o.cfg.Prompts.ServiceFailure)
		return
	}
	if !res.Success {
		msg := res.Error
		if msg == "" {
			msg = o.cfg.Prompts.ServiceFailure
		}
		o.toError(gen, errorsx.New(errorsx.ReasonExecute, msg), msg)
		return
	}

	resultText := res.Data
	if resultText == "" {
		resultText = o.cfg.Prompts.ExecutionDone
	}
	o.session.SetLastResult(resultText)
	o.session.SetPendingAction(nil)
	if err := o.fsm.Transition(SpeakingResult); err != nil {
		return
	}
	o.speak(gen, resultText, func() { o.toIdle(gen) })
}

func (o *Orchestrator) doCancel(gen int64) {
	if o.stale(gen) {
		return
	}
	o.stopConfirmTimer()
	o.session.SetPendingAction(nil)
	if err := o.fsm.Transition(Idle); err != nil {
		return
	}
	o.speak(gen, o.cfg.Prompts.Cancelled, nil)
}

func (o *Orchestrator) doRetry(gen int64) {
	if o.stale(gen) {
		return
	}
	o.stopConfirmTimer()
	o.session.SetPendingAction(nil)
	if err := o.fsm.Transition(Listening); err != nil {
		return
	}
	last := o.session.LastTranscript()
	if last == "" {
		if err := o.deps.Capture.Start(o.opCtx()); err != nil {
			o.handleCaptureError(gen, err)
		}
		return
	}
	if err := o.fsm.Transition(Interpreting); err != nil {
		return
	}
	o.interpret(gen, last)
}

func (o *Orchestrator) openConfirmationCapture(gen int64) {
	if o.stale(gen) || o.fsm.Current() != Confirming {
		return
	}
	if err := o.deps.Capture.Start(o.opCtx()); err != nil {
		o.handleCaptureError(gen, err)
		return
	}
	o.armConfirmTimer(gen)
}

func (o *Orchestrator) reopenConfirmation(gen int64) {
	if o.stale(gen) || o.fsm.Current() != Confirming {
		return
	}
	// The capture cycle settled when it produced the ignored reply; open
	// a fresh one so the user can answer again.
	if o.deps.Capture.Active() || o.deps.Playback.Speaking() {
		return
	}
	if err := o.deps.Capture.Start(o.opCtx()); err != nil {
		o.handleCaptureError(gen, err)
	}
}

func (o *Orchestrator) handleCaptureError(gen int64, err error) {
	if o.stale(gen) {
		return
	}
	o.mu.Lock()
	o.captureFailures++
	failures := o.captureFailures
	if failures >= o.cfg.CaptureFailureLimit {
		o.captureFailures = 0
	}
	o.mu.Unlock()

	msg := o.cfg.Prompts.CaptureFailure
	switch {
	case failures >= o.cfg.CaptureFailureLimit:
		msg = o.cfg.Prompts.PersistentFailure
	case errorsx.HasReason(err, errorsx.ReasonCapturePermission):
		msg = o.cfg.Prompts.PermissionDenied
	}
	o.toError(gen, err, msg)
}

func (o *Orchestrator) toError(gen int64, err error, msg string) {
	if o.stale(gen) || o.fsm.Current() == Errored {
		return
	}
	o.stopConfirmTimer()
	o.session.SetLastError(err)
	if terr := o.fsm.Transition(Errored); terr != nil {
		return
	}
	o.log.Error("cycle failed", "reason", string(errorsx.Reason(err)), "error", err)
	o.speak(gen, msg, nil)
	o.armErrorReset(gen)
}

func (o *Orchestrator) toIdle(gen int64) {
	if o.stale(gen) {
		return
	}
	o.stopConfirmTimer()
	_ = o.fsm.Transition(Idle)
}

func (o *Orchestrator) speak(gen int64, text string, done func()) {
	_ = o.deps.Playback.Speak(text, o.cfg.Language, func() {
		if o.stale(gen) {
			return
		}
		if done != nil {
			done()
		}
	})
}

func (o *Orchestrator) armConfirmTimer(gen int64) {
	o.mu.Lock()
	if o.confirmTimer != nil {
		o.confirmTimer.Stop()
	}
	o.confirmTimer = time.AfterFunc(o.cfg.ConfirmationTimeout, func() {
		o.onConfirmTimeout(gen)
	})
	o.mu.Unlock()
}

func (o *Orchestrator) onConfirmTimeout(gen int64) {
	if o.stale(gen) || o.fsm.Current() != Confirming {
		return
	}
	o.log.Warn("confirmation timed out")
	o.deps.Capture.Abort()
	err := errorsx.New(errorsx.ReasonConfirmationTimeout, "no confirmation within timeout")
	o.toError(gen, err, o.cfg.Prompts.ConfirmationTimeout)
}

func (o *Orchestrator) armErrorReset(gen int64) {
	o.mu.Lock()
	if o.errorTimer != nil {
		o.errorTimer.Stop()
	}
	o.errorTimer = time.AfterFunc(o.cfg.ErrorResetDelay, func() {
		if o.stale(gen) || o.fsm.Current() != Errored {
			return
		}
		_ = o.fsm.Transition(Idle)
	})
	o.mu.Unlock()
}

func (o *Orchestrator) confirmTimerArmed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.confirmTimer != nil
}

func (o *Orchestrator) stopConfirmTimer() {
	o.mu.Lock()
	if o.confirmTimer != nil {
		o.confirmTimer.Stop()
		o.confirmTimer = nil
	}
	o.mu.Unlock()
}

func (o *Orchestrator) stopTimersLocked() {
	if o.confirmTimer != nil {
		o.confirmTimer.Stop()
		o.confirmTimer = nil
	}
	if o.errorTimer != nil {
		o.errorTimer.Stop()
		o.errorTimer = nil
	}
}

func (o *Orchestrator) resetCaptureFailures() {
	o.mu.Lock()
	o.captureFailures = 0
	o.mu.Unlock()
}

func (o *Orchestrator) generation() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.gen
}

func (o *Orchestrator) stale(gen int64) bool {
	return o.generation() != gen
}

func (o *Orchestrator) opCtx() context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.baseCtx
}

func (o *Orchestrator) record(name string, fields map[string]any) {
	o.obs.RecordEvent(metrics.MetricsEvent{
		Name:   name,
		Time:   time.Now(),
		Tags:   map[string]string{"session_id": o.session.ID()},
		Fields: fields,
	})
}
