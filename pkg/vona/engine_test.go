package vona

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/vona/pkg/metrics"
	"github.com/harunnryd/vona/pkg/orchestrator"
	"github.com/harunnryd/vona/pkg/providers/mock"
	"github.com/harunnryd/vona/pkg/services"
)

type stageRecorder struct {
	mu     sync.Mutex
	stages []orchestrator.Stage
}

func (r *stageRecorder) record(_ orchestrator.Stage, to orchestrator.Stage) {
	r.mu.Lock()
	r.stages = append(r.stages, to)
	r.mu.Unlock()
}

func (r *stageRecorder) saw(want orchestrator.Stage) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.stages {
		if s == want {
			return true
		}
	}
	return false
}

func TestEngineAssemblyConfirmCycle(t *testing.T) {
	path := writeConfig(t, `
providers:
  recognizer:
    provider: mock
    settings:
      transcripts: ["查询北京天气", "好的"]
      delay_ms: 1
  synthesizer:
    provider: mock
    settings:
      latency_ms: 1
capture:
  stop_timeout_ms: 50
  retry_backoff_ms: 1
playback:
  settle_delay_ms: 1
  reconcile_interval_ms: 3600000
orchestrator:
  confirmation_timeout_ms: 2000
  error_reset_delay_ms: 50
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	backend := mock.NewService().OnInterpret("查询北京天气", services.Interpretation{
		ConfirmText: "我将为您查询北京的天气情况，是否确认？",
		Action:      &services.Action{ID: "weather.query", Params: map[string]any{"city": "北京"}},
	})
	backend.OnExecute("weather.query", services.ExecutionResult{Success: true, Data: "北京今天晴，26度。"})

	mem := metrics.NewMemoryObserver()
	eng, err := NewEngine(Options{
		Config:         cfg,
		Interpreter:    backend,
		Executor:       backend,
		ExtraObservers: []metrics.Observer{mem},
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer eng.Close()

	rec := &stageRecorder{}
	eng.AddStageListener(rec.record)

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		_, executes := backend.Calls()
		if executes == 1 && eng.Stage() == orchestrator.Idle {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, executes := backend.Calls(); executes != 1 {
		t.Fatalf("executes = %d, want 1", executes)
	}
	for _, want := range []orchestrator.Stage{
		orchestrator.Listening,
		orchestrator.Interpreting,
		orchestrator.Confirming,
		orchestrator.Executing,
		orchestrator.SpeakingResult,
	} {
		if !rec.saw(want) {
			t.Errorf("stage %v never observed", want)
		}
	}
	if got := eng.Session().LastTranscript(); got != "查询北京天气" {
		t.Errorf("last transcript = %q", got)
	}

	eng.Close()
	if mem.Count(metrics.EventStageChange) == 0 {
		t.Error("no stage change events recorded")
	}
	if mem.Count(metrics.EventCaptureFinal) < 2 {
		t.Errorf("capture finals = %d, want at least 2", mem.Count(metrics.EventCaptureFinal))
	}
}

func TestEngineRejectsUnknownProvider(t *testing.T) {
	path := writeConfig(t, `
providers:
  recognizer:
    provider: nonexistent
  synthesizer:
    provider: mock
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if _, err := NewEngine(Options{Config: cfg, Interpreter: mock.NewService(), Executor: mock.NewService()}); err == nil {
		t.Fatal("expected unknown provider error")
	}
}
