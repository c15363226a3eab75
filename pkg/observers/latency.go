package observers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/vona/pkg/metrics"
)

// LatencyObserver tracks the voice turn milestones per session and logs
// one latency summary when result playback begins.
type LatencyObserver struct {
	mu     sync.Mutex
	traces map[string]*trace
	log    *slog.Logger
}

type trace struct {
	captureStart  time.Time
	captureFinal  time.Time
	interpretDone time.Time
	synthStart    time.Time
}

func NewLatencyObserver(log *slog.Logger) *LatencyObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LatencyObserver{
		traces: make(map[string]*trace),
		log:    log,
	}
}

func (o *LatencyObserver) RecordEvent(ev metrics.MetricsEvent) {
	sessionID := ""
	if ev.Tags != nil {
		sessionID = ev.Tags["session_id"]
	}
	if sessionID == "" {
		return
	}
	o.mu.Lock()
	t := o.traces[sessionID]
	if t == nil {
		t = &trace{}
		o.traces[sessionID] = t
	}
	switch ev.Name {
	case metrics.EventCaptureStart:
		if t.captureStart.IsZero() {
			t.captureStart = ev.Time
		}
	case metrics.EventCaptureFinal:
		if t.captureFinal.IsZero() {
			t.captureFinal = ev.Time
		}
	case metrics.EventInterpretDone:
		if t.interpretDone.IsZero() {
			t.interpretDone = ev.Time
		}
	case metrics.EventSynthesisStart:
		if t.synthStart.IsZero() {
			t.synthStart = ev.Time
		}
		o.logTurnLocked(sessionID, t)
		delete(o.traces, sessionID)
	}
	o.mu.Unlock()
}

func (o *LatencyObserver) logTurnLocked(sessionID string, t *trace) {
	captureMs := durationMs(t.captureStart, t.captureFinal)
	interpretMs := durationMs(t.captureFinal, t.interpretDone)
	ttfb := durationMs(t.captureFinal, t.synthStart)
	o.log.Info("latency",
		"session_id", sessionID,
		"capture_ms", captureMs,
		"interpret_ms", interpretMs,
		"ttfb_ms", ttfb,
	)
}

func durationMs(a, b time.Time) int64 {
	if a.IsZero() || b.IsZero() {
		return -1
	}
	return b.Sub(a).Milliseconds()
}
