package vona

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/harunnryd/vona/pkg/capture"
	"github.com/harunnryd/vona/pkg/intent"
	"github.com/harunnryd/vona/pkg/logging"
	"github.com/harunnryd/vona/pkg/metrics"
	"github.com/harunnryd/vona/pkg/observers"
	"github.com/harunnryd/vona/pkg/orchestrator"
	"github.com/harunnryd/vona/pkg/playback"
	"github.com/harunnryd/vona/pkg/redact"
	"github.com/harunnryd/vona/pkg/services"
)

// Engine wires the capture session, playback engine, intent classifier
// and orchestrator into one voice assistant front end.
type Engine struct {
	cfg     Config
	log     *slog.Logger
	session *orchestrator.Session
	orch    *orchestrator.Orchestrator
	play    *playback.Engine
	capture *capture.Session

	asyncObs *metrics.AsyncObserver
	timeline *observers.TimelineObserver
}

// Options customizes engine assembly. Zero values fall back to the
// defaults: the built-in provider registry and the HTTP assistant
// service from configuration.
type Options struct {
	Config     Config
	Registry   *ProviderRegistry
	Env        ProviderEnv
	Visibility playback.VisibilitySource

	// Interpreter and Executor override the HTTP service client, for
	// embedding and tests.
	Interpreter services.Interpreter
	Executor    services.Executor

	// ExtraObservers receive every metrics event in addition to the
	// built-in ones.
	ExtraObservers []metrics.Observer
}

func NewEngine(opts Options) (*Engine, error) {
	cfg := opts.Config
	logger := logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	redact.SetEnabled(cfg.Privacy.RedactPII)

	logger.Info("vona_init",
		"environment", cfg.Environment,
		"language", cfg.Language,
		"recognizer_provider", cfg.Providers.Recognizer.Provider,
		"synthesizer_provider", cfg.Providers.Synthesizer.Provider,
	)

	obsList := []metrics.Observer{
		observers.NewLatencyObserver(logger),
		observers.NewLoggerObserver(logger),
	}
	var timeline *observers.TimelineObserver
	if dir := strings.TrimSpace(cfg.Observability.ArtifactsDir); dir != "" {
		timeline = observers.NewTimelineObserver(dir)
		obsList = append(obsList, timeline)
	}
	obsList = append(obsList, opts.ExtraObservers...)
	asyncObs := metrics.NewAsyncObserver(observers.NewMultiObserver(obsList...), 2048)

	registry := opts.Registry
	if registry == nil {
		registry = DefaultRegistry()
	}

	recognizer, probe, err := registry.BuildRecognizer(
		cfg.Providers.Recognizer.Provider, opts.Env, cfg.Providers.Recognizer.Settings)
	if err != nil {
		asyncObs.Close()
		return nil, err
	}
	synthesizer, err := registry.BuildSynthesizer(
		cfg.Providers.Synthesizer.Provider, opts.Env, cfg.Providers.Synthesizer.Settings)
	if err != nil {
		asyncObs.Close()
		return nil, err
	}

	session := orchestrator.NewSession()

	captureSession := capture.NewSession(recognizer, probe, capture.Config{
		Language:     cfg.Language,
		StopTimeout:  ms(cfg.Capture.StopTimeoutMS),
		MaxRetries:   cfg.Capture.MaxRetries,
		RetryBackoff: ms(cfg.Capture.RetryBackoffMS),
	}, logger, asyncObs, session.ID())

	playEngine := playback.NewEngine(synthesizer, opts.Visibility, playback.Config{
		SettleDelay:       ms(cfg.Playback.SettleDelayMS),
		WatchdogBase:      ms(cfg.Playback.WatchdogBaseMS),
		WatchdogPerRune:   ms(cfg.Playback.WatchdogPerRuneMS),
		WatchdogMax:       ms(cfg.Playback.WatchdogMaxMS),
		GlobalWatchdogMax: ms(cfg.Playback.GlobalWatchdogMaxMS),
		SegmentThreshold:  cfg.Playback.SegmentThreshold,
		SegmentMaxLen:     cfg.Playback.SegmentMaxLen,
		SegmentMinLen:     cfg.Playback.SegmentMinLen,
		ReconcileInterval: ms(cfg.Playback.ReconcileIntervalMS),
		PreferredEngine:   cfg.Playback.PreferredEngine,
		Rate:              cfg.Playback.Rate,
		Pitch:             cfg.Playback.Pitch,
	}, logger, asyncObs, session.ID())

	classifier := intent.NewClassifier(intent.Options{
		Phrases: intent.Phrases{
			Cancel:  cfg.Intent.Phrases.Cancel,
			Retry:   cfg.Intent.Phrases.Retry,
			Confirm: cfg.Intent.Phrases.Confirm,
		},
		DedupeWindow:      ms(cfg.Intent.DedupeWindowMS),
		EchoWindow:        ms(cfg.Intent.EchoWindowMS),
		LongTextThreshold: cfg.Intent.LongTextThreshold,
	})

	interpreter := opts.Interpreter
	executor := opts.Executor
	if interpreter == nil || executor == nil {
		httpClient := services.NewHTTPClient(services.HTTPConfig{
			BaseURL:     cfg.Service.BaseURL,
			APIKey:      cfg.Service.APIKey,
			Timeout:     ms(cfg.Service.TimeoutMS),
			MaxRetries:  cfg.Service.MaxRetries,
			RetryDelay:  ms(cfg.Service.RetryDelayMS),
			BreakerTrip: cfg.Service.BreakerTrip,
			BreakerCool: ms(cfg.Service.BreakerCooldownMS),
		}, logger, asyncObs)
		if interpreter == nil {
			interpreter = httpClient
		}
		if executor == nil {
			executor = httpClient
		}
	}

	orch := orchestrator.New(session, orchestrator.Deps{
		Capture:     captureSession,
		Playback:    playEngine,
		Classifier:  classifier,
		Interpreter: interpreter,
		Executor:    executor,
	}, orchestrator.Config{
		Language:            cfg.Language,
		UserID:              cfg.UserID,
		ConfirmationTimeout: ms(cfg.Orchestrator.ConfirmationTimeoutMS),
		ErrorResetDelay:     ms(cfg.Orchestrator.ErrorResetDelayMS),
		CaptureFailureLimit: cfg.Orchestrator.CaptureFailureLimit,
		Prompts:             promptsFromConfig(cfg.Orchestrator.Prompts),
	}, logger, asyncObs)

	return &Engine{
		cfg:      cfg,
		log:      logger,
		session:  session,
		orch:     orch,
		play:     playEngine,
		capture:  captureSession,
		asyncObs: asyncObs,
		timeline: timeline,
	}, nil
}

// Start begins a voice interaction cycle.
func (e *Engine) Start(ctx context.Context) error { return e.orch.Start(ctx) }

// Confirm approves the pending action by touch.
func (e *Engine) Confirm() { e.orch.Confirm() }

// Retry re-runs interpretation on the last transcript.
func (e *Engine) Retry() { e.orch.Retry() }

// Cancel abandons the pending action.
func (e *Engine) Cancel() { e.orch.Cancel() }

// Reset returns the engine to idle from any stage.
func (e *Engine) Reset() { e.orch.Reset() }

// Stage returns the orchestrator's current stage.
func (e *Engine) Stage() orchestrator.Stage { return e.orch.Stage() }

// Session exposes the interaction state for the UI layer.
func (e *Engine) Session() *orchestrator.Session { return e.session }

// AddStageListener registers an observer for stage transitions.
func (e *Engine) AddStageListener(l orchestrator.StageListener) {
	e.orch.AddStageListener(l)
}

// Close tears the engine down.
func (e *Engine) Close() error {
	e.orch.Close()
	e.play.Close()
	var err error
	if e.timeline != nil {
		err = e.timeline.Close()
	}
	e.asyncObs.Close()
	return err
}

func promptsFromConfig(p PromptsConfig) orchestrator.Prompts {
	defaults := orchestrator.DefaultPrompts()
	out := orchestrator.Prompts{
		Cancelled:           p.Cancelled,
		Clarify:             p.Clarify,
		ConfirmationTimeout: p.ConfirmationTimeout,
		CaptureFailure:      p.CaptureFailure,
		PersistentFailure:   p.PersistentFailure,
		ServiceFailure:      p.ServiceFailure,
		PermissionDenied:    p.PermissionDenied,
		ExecutionDone:       p.ExecutionDone,
	}
	if out.Cancelled == "" {
		out.Cancelled = defaults.Cancelled
	}
	if out.Clarify == "" {
		out.Clarify = defaults.Clarify
	}
	if out.ConfirmationTimeout == "" {
		out.ConfirmationTimeout = defaults.ConfirmationTimeout
	}
	if out.CaptureFailure == "" {
		out.CaptureFailure = defaults.CaptureFailure
	}
	if out.PersistentFailure == "" {
		out.PersistentFailure = defaults.PersistentFailure
	}
	if out.ServiceFailure == "" {
		out.ServiceFailure = defaults.ServiceFailure
	}
	if out.PermissionDenied == "" {
		out.PermissionDenied = defaults.PermissionDenied
	}
	if out.ExecutionDone == "" {
		out.ExecutionDone = defaults.ExecutionDone
	}
	return out
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
