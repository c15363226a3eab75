package observers

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/harunnryd/vona/pkg/metrics"
)

func TestLoggerObserverLevels(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	obs := NewLoggerObserver(log)

	obs.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventCaptureStopForced,
		Time: time.Now(),
		Tags: map[string]string{"session_id": "s1"},
	})
	obs.RecordEvent(metrics.MetricsEvent{
		Name:   metrics.EventStageChange,
		Time:   time.Now(),
		Fields: map[string]any{"from": "IDLE", "to": "LISTENING"},
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d log lines, want 2", len(lines))
	}
	if !strings.Contains(lines[0], `"level":"WARN"`) || !strings.Contains(lines[0], metrics.EventCaptureStopForced) {
		t.Errorf("forced stop line = %s, want WARN", lines[0])
	}
	if !strings.Contains(lines[0], `"session_id":"s1"`) {
		t.Errorf("forced stop line missing session tag: %s", lines[0])
	}
	if !strings.Contains(lines[1], `"level":"DEBUG"`) || !strings.Contains(lines[1], metrics.EventStageChange) {
		t.Errorf("stage change line = %s, want DEBUG", lines[1])
	}
}

func TestMultiObserverFansOut(t *testing.T) {
	a := metrics.NewMemoryObserver()
	b := metrics.NewMemoryObserver()
	m := NewMultiObserver(a, nil, b)

	m.RecordEvent(metrics.MetricsEvent{Name: metrics.EventCaptureFinal, Time: time.Now()})

	if a.Count(metrics.EventCaptureFinal) != 1 || b.Count(metrics.EventCaptureFinal) != 1 {
		t.Fatalf("fan-out counts = %d, %d, want 1, 1",
			a.Count(metrics.EventCaptureFinal), b.Count(metrics.EventCaptureFinal))
	}
}
