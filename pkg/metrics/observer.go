package metrics

import "time"

// Event names recorded by the engines.
const (
	EventCaptureStart      = "capture_start"
	EventCaptureFinal      = "capture_final"
	EventCaptureRetry      = "capture_retry"
	EventCaptureError      = "capture_error"
	EventCaptureStopForced = "capture_stop_forced"
	EventInterpretDone     = "interpret_done"
	EventExecuteDone       = "execute_done"
	EventSynthesisStart    = "synthesis_start"
	EventSynthesisComplete = "synthesis_complete"
	EventSynthesisWatchdog = "synthesis_watchdog"
	EventStageChange       = "stage_change"
	EventIntentClassified  = "intent_classified"
	EventRateLimit         = "rate_limit"
	EventBreakerOpen       = "breaker_open"
	EventBreakerClose      = "breaker_close"
	EventBreakerDenied     = "breaker_denied"
)

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type Flusher interface {
	Flush() error
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}
