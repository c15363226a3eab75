package deepgram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/harunnryd/vona/pkg/adapters/asr"
	"github.com/harunnryd/vona/pkg/logging"
)

// SourceFactory opens the microphone audio stream for one recognition
// cycle. The reader is closed when the cycle ends.
type SourceFactory func(ctx context.Context) (io.ReadCloser, error)

type Config struct {
	APIKey         string
	Model          string
	SampleRate     int
	Encoding       string
	UtteranceEndMS int
	Source         SourceFactory
}

// Recognizer runs single-shot recognition cycles against the Deepgram
// live transcription websocket. A cycle ends at the first final
// transcript.
type Recognizer struct {
	cfg Config
	log *slog.Logger

	mu       sync.Mutex
	active   bool
	dgClient *client.WSCallback
	cancel   context.CancelFunc
	source   io.ReadCloser
	handlers asr.Handlers
	resolved bool
}

func New(cfg Config) *Recognizer {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "linear16"
	}
	return &Recognizer{
		cfg: cfg,
		log: logging.NewComponentLogger(slog.Default(), "deepgram_asr"),
	}
}

func (r *Recognizer) Name() string { return "deepgram" }

func (r *Recognizer) Start(ctx context.Context, cfg asr.Config, h asr.Handlers) error {
	if r.cfg.APIKey == "" {
		return errors.New("missing deepgram api key")
	}
	if r.cfg.Source == nil {
		return errors.New("missing audio source")
	}
	r.mu.Lock()
	if r.active {
		r.mu.Unlock()
		return errors.New("recognition cycle already running")
	}
	r.active = true
	r.resolved = false
	r.handlers = h
	r.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)

	clientOptions := &interfaces.ClientOptions{EnableKeepAlive: true}
	transcriptOptions := &interfaces.LiveTranscriptionOptions{
		Model:       r.cfg.Model,
		Language:    cfg.Language,
		Encoding:    r.cfg.Encoding,
		SampleRate:  r.cfg.SampleRate,
		SmartFormat: true,
	}
	if r.cfg.UtteranceEndMS > 0 {
		transcriptOptions.UtteranceEndMs = fmt.Sprintf("%d", r.cfg.UtteranceEndMS)
	}

	r.log.Info("initializing deepgram connection",
		slog.String("model", r.cfg.Model),
		slog.String("language", cfg.Language),
		slog.Int("sample_rate", r.cfg.SampleRate))

	cb := &callback{parent: r}
	dgClient, err := client.NewWSUsingCallback(runCtx, r.cfg.APIKey, clientOptions, transcriptOptions, cb)
	if err != nil {
		cancel()
		r.deactivate()
		r.log.Error("deepgram client create failed", slog.String("error", err.Error()))
		return err
	}

	if connected := dgClient.Connect(); !connected {
		cancel()
		r.deactivate()
		return errors.New("deepgram connection failed")
	}

	source, err := r.cfg.Source(runCtx)
	if err != nil {
		dgClient.Stop()
		cancel()
		r.deactivate()
		return fmt.Errorf("open audio source: %w", err)
	}

	r.mu.Lock()
	r.dgClient = dgClient
	r.cancel = cancel
	r.source = source
	r.mu.Unlock()

	go func() {
		if err := dgClient.Stream(source); err != nil && runCtx.Err() == nil {
			r.log.Error("deepgram stream error", slog.String("error", err.Error()))
		}
	}()
	return nil
}

func (r *Recognizer) Stop() error {
	r.teardown()
	r.deliverEnd()
	return nil
}

func (r *Recognizer) Abort() error {
	r.mu.Lock()
	h := r.handlers
	r.mu.Unlock()
	r.teardown()
	if h.OnError != nil {
		h.OnError(asr.ErrAborted, errors.New("recognition aborted"))
	}
	r.deliverEnd()
	return nil
}

func (r *Recognizer) teardown() {
	r.mu.Lock()
	cancel := r.cancel
	dgClient := r.dgClient
	source := r.source
	r.cancel = nil
	r.dgClient = nil
	r.source = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if source != nil {
		_ = source.Close()
	}
	if dgClient != nil {
		dgClient.Stop()
	}
}

func (r *Recognizer) deactivate() {
	r.mu.Lock()
	r.active = false
	r.mu.Unlock()
}

func (r *Recognizer) deliverEnd() {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return
	}
	r.active = false
	h := r.handlers
	r.mu.Unlock()
	if h.OnEnd != nil {
		h.OnEnd()
	}
}

// resolve records the cycle's final transcript once; later finals are
// dropped because the cycle is single-shot.
func (r *Recognizer) resolve(transcript string, confidence float64) {
	r.mu.Lock()
	if r.resolved || !r.active {
		r.mu.Unlock()
		return
	}
	r.resolved = true
	h := r.handlers
	r.mu.Unlock()

	if h.OnResult != nil {
		h.OnResult(transcript, confidence)
	}
	go func() {
		r.teardown()
		r.deliverEnd()
	}()
}

func (r *Recognizer) fail(kind asr.ErrorKind, err error) {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return
	}
	h := r.handlers
	r.mu.Unlock()
	if h.OnError != nil {
		h.OnError(kind, err)
	}
	go func() {
		r.teardown()
		r.deliverEnd()
	}()
}

type callback struct {
	parent *Recognizer
}

func (c *callback) Open(_ *msginterfaces.OpenResponse) error {
	c.parent.log.Info("deepgram connection opened")
	c.parent.mu.Lock()
	h := c.parent.handlers
	c.parent.mu.Unlock()
	if h.OnStart != nil {
		h.OnStart()
	}
	return nil
}

func (c *callback) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	alt := mr.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return nil
	}
	isFinal := mr.IsFinal || mr.SpeechFinal
	c.parent.log.Debug("transcript received",
		slog.Bool("is_final", isFinal),
		slog.Float64("confidence", alt.Confidence))
	if isFinal {
		c.parent.resolve(alt.Transcript, alt.Confidence)
	}
	return nil
}

func (c *callback) Metadata(md *msginterfaces.MetadataResponse) error {
	c.parent.log.Debug("deepgram metadata received", slog.String("request_id", md.RequestID))
	return nil
}

func (c *callback) SpeechStarted(_ *msginterfaces.SpeechStartedResponse) error {
	c.parent.log.Debug("speech started")
	return nil
}

func (c *callback) UtteranceEnd(_ *msginterfaces.UtteranceEndResponse) error {
	// Utterance end without a final transcript means the cycle heard
	// nothing usable.
	c.parent.mu.Lock()
	resolved := c.parent.resolved
	c.parent.mu.Unlock()
	if !resolved {
		c.parent.fail(asr.ErrNoSpeech, errors.New("utterance ended without transcript"))
	}
	return nil
}

func (c *callback) Close(_ *msginterfaces.CloseResponse) error {
	c.parent.log.Info("deepgram connection closed")
	c.parent.deliverEnd()
	return nil
}

func (c *callback) Error(er *msginterfaces.ErrorResponse) error {
	c.parent.log.Error("deepgram error",
		slog.String("error_code", er.ErrCode),
		slog.String("error_message", er.ErrMsg))
	c.parent.fail(classify(er.ErrCode), fmt.Errorf("deepgram: %s: %s", er.ErrCode, er.ErrMsg))
	return nil
}

func (c *callback) UnhandledEvent(data []byte) error {
	c.parent.log.Debug("deepgram unhandled event", slog.String("data", string(data)))
	return nil
}

func classify(code string) asr.ErrorKind {
	switch {
	case strings.Contains(strings.ToLower(code), "auth"):
		return asr.ErrNotAllowed
	case strings.Contains(strings.ToLower(code), "timeout"),
		strings.Contains(strings.ToLower(code), "net"):
		return asr.ErrNetwork
	default:
		return asr.ErrNetwork
	}
}

var _ asr.Recognizer = (*Recognizer)(nil)
