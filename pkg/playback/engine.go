package playback

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/vona/pkg/adapters/synth"
	"github.com/harunnryd/vona/pkg/metrics"
	"github.com/harunnryd/vona/pkg/oneshot"
	"github.com/harunnryd/vona/pkg/redact"
)

// VisibilitySource reports whether the host surface is visible. Playback
// is cancelled while hidden so audio never plays from a backgrounded
// session.
type VisibilitySource interface {
	Visible() bool
}

// Config tunes the playback engine's watchdogs and segmentation.
type Config struct {
	SettleDelay       time.Duration
	WatchdogBase      time.Duration
	WatchdogPerRune   time.Duration
	WatchdogMax       time.Duration
	GlobalWatchdogMax time.Duration
	SegmentThreshold  int
	SegmentMaxLen     int
	SegmentMinLen     int
	ReconcileInterval time.Duration
	PreferredEngine   string
	Rate              float64
	Pitch             float64
}

func (c *Config) applyDefaults() {
	if c.SettleDelay <= 0 {
		c.SettleDelay = 350 * time.Millisecond
	}
	if c.WatchdogBase <= 0 {
		c.WatchdogBase = 5 * time.Second
	}
	if c.WatchdogPerRune <= 0 {
		c.WatchdogPerRune = 100 * time.Millisecond
	}
	if c.WatchdogMax <= 0 {
		c.WatchdogMax = 60 * time.Second
	}
	if c.GlobalWatchdogMax <= 0 {
		c.GlobalWatchdogMax = 3 * time.Minute
	}
	if c.SegmentThreshold <= 0 {
		c.SegmentThreshold = 80
	}
	if c.SegmentMaxLen <= 0 {
		c.SegmentMaxLen = 120
	}
	if c.SegmentMinLen <= 0 {
		c.SegmentMinLen = 10
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = 1500 * time.Millisecond
	}
	if c.Rate <= 0 {
		c.Rate = 1.0
	}
	if c.Pitch <= 0 {
		c.Pitch = 1.0
	}
}

// Engine plays synthesized speech with exactly-once completion
// callbacks. Long text with sentence terminators is split into segments
// played in order, each with its own watchdog so a stuck segment cannot
// stall the remainder.
type Engine struct {
	synth     synth.Synthesizer
	vis       VisibilitySource
	cfg       Config
	log       *slog.Logger
	obs       metrics.Observer
	sessionID string

	mu      sync.Mutex
	current *playbackRun

	closed    chan struct{}
	closeOnce sync.Once

	// test seams
	sleep     func(time.Duration)
	afterFunc func(time.Duration, func()) *time.Timer
}

// playbackRun is one utterance in flight, possibly multi-segment.
type playbackRun struct {
	guard       *oneshot.Guard
	onComplete  func()
	lang        string
	voice       string
	segments    []string
	index       int
	segGuard    *oneshot.Guard
	segTimer    *time.Timer
	globalTimer *time.Timer
	segStarted  time.Time
}

func NewEngine(s synth.Synthesizer, vis VisibilitySource, cfg Config, log *slog.Logger, obs metrics.Observer, sessionID string) *Engine {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	e := &Engine{
		synth:     s,
		vis:       vis,
		cfg:       cfg,
		log:       log.With("component", "playback", "session_id", sessionID),
		obs:       obs,
		sessionID: sessionID,
		closed:    make(chan struct{}),
		sleep:     time.Sleep,
		afterFunc: time.AfterFunc,
	}
	go e.reconcileLoop()
	return e
}

// Speak plays text in lang and invokes onComplete exactly once when
// playback finishes, errors out, times out or is cancelled. Any playback
// already in flight is cancelled first and its own completion fires.
func (e *Engine) Speak(text, lang string, onComplete func()) error {
	if strings.TrimSpace(text) == "" {
		if onComplete != nil {
			go onComplete()
		}
		return nil
	}
	e.cancelActive("superseded")

	if e.vis != nil && !e.vis.Visible() {
		e.log.Warn("playback skipped, host hidden", "text", redact.Clip(text))
		if onComplete != nil {
			go onComplete()
		}
		return nil
	}

	segments := []string{text}
	if NeedsSegmentation(text, e.cfg.SegmentThreshold) {
		segments = SplitSegments(text, e.cfg.SegmentMaxLen, e.cfg.SegmentMinLen)
	}

	run := &playbackRun{
		guard:      oneshot.New(),
		onComplete: onComplete,
		lang:       lang,
		segments:   segments,
	}
	if v, ok := SelectVoice(e.synth.Voices(), lang, e.cfg.PreferredEngine); ok {
		run.voice = v.Name
	}

	e.mu.Lock()
	e.current = run
	run.globalTimer = e.afterFunc(e.globalTimeout(text), func() {
		e.log.Warn("global playback watchdog fired")
		e.record(metrics.EventSynthesisWatchdog, map[string]any{"scope": "global"})
		e.synth.Cancel()
		e.finish(run, "global-watchdog")
	})
	e.mu.Unlock()

	e.log.Info("playback start",
		"text", redact.Clip(text),
		"lang", lang,
		"voice", run.voice,
		"segments", len(segments),
	)
	e.record(metrics.EventSynthesisStart, map[string]any{"segments": len(segments), "runes": len([]rune(text))})

	e.playSegment(run, 0)
	return nil
}

// Cancel stops any in-flight playback, fires its completion, and waits
// for the settle delay so the capability has quiesced before the caller
// starts anything new.
func (e *Engine) Cancel() {
	e.cancelActive("cancel")
}

// Speaking reports whether a playback run is in flight.
func (e *Engine) Speaking() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current != nil
}

// Close stops the reconciliation loop and cancels playback.
func (e *Engine) Close() {
	e.closeOnce.Do(func() { close(e.closed) })
	e.cancelActive("close")
}

func (e *Engine) cancelActive(source string) {
	e.mu.Lock()
	run := e.current
	e.mu.Unlock()
	if run == nil {
		return
	}
	e.synth.Cancel()
	e.finish(run, source)
	e.sleep(e.cfg.SettleDelay)
}

func (e *Engine) playSegment(run *playbackRun, idx int) {
	e.mu.Lock()
	if e.current != run || run.guard.Completed() {
		e.mu.Unlock()
		return
	}
	run.index = idx
	seg := run.segments[idx]
	segGuard := oneshot.New()
	run.segGuard = segGuard
	run.segStarted = time.Now()
	run.segTimer = e.afterFunc(e.watchdogFor(seg), func() {
		e.record(metrics.EventSynthesisWatchdog, map[string]any{"scope": "segment", "segment": idx})
		e.synth.Cancel()
		e.completeSegment(run, segGuard, idx, "watchdog")
	})
	e.mu.Unlock()

	u := synth.Utterance{Text: seg, Lang: run.lang, Voice: run.voice, Rate: e.cfg.Rate, Pitch: e.cfg.Pitch}
	err := e.synth.Speak(u, synth.Callbacks{
		OnEnd: func() { e.completeSegment(run, segGuard, idx, "onend") },
		OnError: func(err error) {
			// Synthesis errors advance playback; they are not surfaced.
			e.log.Warn("synthesis error", "segment", idx, "error", err)
			e.completeSegment(run, segGuard, idx, "onerror")
		},
	})
	if err != nil {
		e.log.Error("synthesis start failed", "segment", idx, "error", err)
		e.completeSegment(run, segGuard, idx, "start-failed")
	}
}

func (e *Engine) completeSegment(run *playbackRun, segGuard *oneshot.Guard, idx int, source string) {
	if !segGuard.Complete(source) {
		return
	}
	e.mu.Lock()
	if run.segTimer != nil {
		run.segTimer.Stop()
	}
	stale := e.current != run
	e.mu.Unlock()
	if stale || run.guard.Completed() {
		return
	}
	if source != "onend" {
		e.log.Debug("segment settled", "segment", idx, "source", source)
	}
	if idx+1 < len(run.segments) {
		e.playSegment(run, idx+1)
		return
	}
	e.finish(run, source)
}

// finish settles the whole run exactly once and fires onComplete.
func (e *Engine) finish(run *playbackRun, source string) {
	if !run.guard.Complete(source) {
		return
	}
	e.mu.Lock()
	if run.globalTimer != nil {
		run.globalTimer.Stop()
	}
	if run.segTimer != nil {
		run.segTimer.Stop()
	}
	if e.current == run {
		e.current = nil
	}
	e.mu.Unlock()

	e.log.Debug("playback complete", "source", source)
	e.record(metrics.EventSynthesisComplete, map[string]any{"source": source})
	if run.onComplete != nil {
		run.onComplete()
	}
}

func (e *Engine) watchdogFor(text string) time.Duration {
	d := e.cfg.WatchdogBase + time.Duration(len([]rune(text)))*e.cfg.WatchdogPerRune
	if d > e.cfg.WatchdogMax {
		d = e.cfg.WatchdogMax
	}
	return d
}

func (e *Engine) globalTimeout(text string) time.Duration {
	d := e.cfg.WatchdogBase + time.Duration(len([]rune(text)))*e.cfg.WatchdogPerRune
	if d > e.cfg.GlobalWatchdogMax {
		d = e.cfg.GlobalWatchdogMax
	}
	return d
}

func (e *Engine) reconcileLoop() {
	ticker := time.NewTicker(e.cfg.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.closed:
			return
		case <-ticker.C:
			e.reconcile()
		}
	}
}

// reconcile corrects divergence between the engine's bookkeeping and the
// capability's actual speaking state.
func (e *Engine) reconcile() {
	e.mu.Lock()
	run := e.current
	var (
		segStarted time.Time
		segGuard   *oneshot.Guard
		idx        int
	)
	if run != nil {
		segStarted = run.segStarted
		segGuard = run.segGuard
		idx = run.index
	}
	e.mu.Unlock()

	if run == nil {
		if e.synth.Speaking() {
			e.log.Warn("capability speaking with no active playback, cancelling")
			e.synth.Cancel()
		}
		return
	}
	if e.vis != nil && !e.vis.Visible() {
		e.log.Warn("host hidden during playback, cancelling")
		e.synth.Cancel()
		e.finish(run, "hidden")
		return
	}
	if segGuard != nil && !e.synth.Speaking() && time.Since(segStarted) >= e.cfg.ReconcileInterval {
		e.log.Warn("completion event missed, reconciling", "segment", idx)
		e.completeSegment(run, segGuard, idx, "reconcile")
	}
}

func (e *Engine) record(name string, fields map[string]any) {
	e.obs.RecordEvent(metrics.MetricsEvent{
		Name:   name,
		Time:   time.Now(),
		Tags:   map[string]string{"session_id": e.sessionID},
		Fields: fields,
	})
}
