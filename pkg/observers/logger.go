package observers

import (
	"context"
	"log/slog"

	"github.com/harunnryd/vona/pkg/metrics"
)

// LoggerObserver mirrors engine metrics into the structured log. The
// routine flow (stage changes, capture finals, synthesis completions)
// logs at debug; recovery events such as forced capture stops,
// synthesis watchdog firings, rate limits and breaker denials log at
// warn so they stand out without digging through timeline artifacts.
type LoggerObserver struct {
	log *slog.Logger
}

func NewLoggerObserver(log *slog.Logger) *LoggerObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LoggerObserver{log: log.With("component", "metrics")}
}

func (o *LoggerObserver) RecordEvent(ev metrics.MetricsEvent) {
	attrs := make([]slog.Attr, 0, 3+len(ev.Tags)+len(ev.Fields))
	attrs = append(attrs,
		slog.String("event", ev.Name),
		slog.Time("time", ev.Time),
	)
	if ev.Value != 0 {
		attrs = append(attrs, slog.Float64("value", ev.Value))
	}
	for k, v := range ev.Tags {
		attrs = append(attrs, slog.String(k, v))
	}
	for k, v := range ev.Fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	o.log.LogAttrs(context.Background(), levelFor(ev.Name), ev.Name, attrs...)
}

// levelFor separates the cycle's routine events from its recovery
// events.
func levelFor(name string) slog.Level {
	switch name {
	case metrics.EventCaptureStopForced,
		metrics.EventSynthesisWatchdog,
		metrics.EventCaptureError,
		metrics.EventRateLimit,
		metrics.EventBreakerDenied:
		return slog.LevelWarn
	default:
		return slog.LevelDebug
	}
}

// MultiObserver fans each event out to every registered observer; the
// engine uses it to feed the latency tracker, the log mirror and the
// timeline writer from one stream.
type MultiObserver struct {
	list []metrics.Observer
}

func NewMultiObserver(list ...metrics.Observer) *MultiObserver {
	return &MultiObserver{list: list}
}

func (m *MultiObserver) RecordEvent(ev metrics.MetricsEvent) {
	for _, obs := range m.list {
		if obs != nil {
			obs.RecordEvent(ev)
		}
	}
}
