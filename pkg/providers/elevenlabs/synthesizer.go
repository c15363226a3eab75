package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harunnryd/vona/pkg/adapters/synth"
	"github.com/harunnryd/vona/pkg/audio"
	"github.com/harunnryd/vona/pkg/logging"
	"github.com/harunnryd/vona/pkg/resilience"
)

const (
	defaultBaseWS   = "wss://api.elevenlabs.io"
	defaultBaseHTTP = "https://api.elevenlabs.io"
)

type Config struct {
	APIKey       string
	VoiceID      string
	ModelID      string
	OutputFormat string
	SampleRate   int
	BaseWSURL    string
	BaseHTTPURL  string
}

// Synthesizer streams text through the ElevenLabs stream-input websocket
// and writes the returned audio to a sink. One utterance is in flight at
// a time.
type Synthesizer struct {
	cfg  Config
	sink audio.Sink
	log  *slog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	cancel   context.CancelFunc
	speaking bool

	voicesOnce sync.Once
	voices     []synth.Voice
}

func New(cfg Config, sink audio.Sink) *Synthesizer {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 44100
	}
	if cfg.BaseWSURL == "" {
		cfg.BaseWSURL = defaultBaseWS
	}
	if cfg.BaseHTTPURL == "" {
		cfg.BaseHTTPURL = defaultBaseHTTP
	}
	if sink == nil {
		sink = audio.Discard{}
	}
	return &Synthesizer{
		cfg:  cfg,
		sink: sink,
		log:  logging.NewComponentLogger(slog.Default(), "elevenlabs_synth"),
	}
}

func (s *Synthesizer) Name() string { return "elevenlabs" }

func (s *Synthesizer) Speak(u synth.Utterance, cb synth.Callbacks) error {
	if s.cfg.APIKey == "" || s.cfg.VoiceID == "" {
		return errors.New("missing elevenlabs config")
	}

	s.Cancel()

	ctx, cancel := context.WithCancel(context.Background())
	dialer := websocket.Dialer{Proxy: http.ProxyFromEnvironment}
	conn, resp, err := dialer.Dial(s.buildURL(), http.Header{
		"xi-api-key": []string{s.cfg.APIKey},
	})
	if err != nil {
		cancel()
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			s.log.Error("elevenlabs rate limit exceeded", slog.String("status", resp.Status))
			return resilience.RateLimitError{Provider: "elevenlabs", Message: resp.Status}
		}
		s.log.Error("elevenlabs connect failed", slog.String("error", err.Error()))
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.cancel = cancel
	s.speaking = true
	s.mu.Unlock()

	if err := s.send(conn, map[string]any{
		"text": " ",
		"voice_settings": map[string]any{
			"stability":        0.5,
			"similarity_boost": 0.8,
			"speed":            u.Rate,
		},
		"generation_config": map[string]any{
			"chunk_length_schedule": []int{120, 160, 250, 290},
		},
	}); err != nil {
		s.teardown(conn)
		return err
	}

	text := strings.TrimSpace(u.Text)
	if !strings.HasSuffix(text, " ") {
		text += " "
	}
	if err := s.send(conn, map[string]any{"text": text, "try_trigger_generation": true}); err != nil {
		s.teardown(conn)
		return err
	}
	// Empty text closes the input stream; the server answers with the
	// remaining audio and an isFinal message.
	if err := s.send(conn, map[string]any{"text": ""}); err != nil {
		s.teardown(conn)
		return err
	}

	if cb.OnStart != nil {
		cb.OnStart()
	}
	go s.readLoop(ctx, conn, cb)
	return nil
}

func (s *Synthesizer) Cancel() {
	s.mu.Lock()
	conn := s.conn
	cancel := s.cancel
	s.conn = nil
	s.cancel = nil
	s.speaking = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
	}
}

func (s *Synthesizer) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// Voices fetches the account's voice list once and caches it. An empty
// list is returned until the fetch succeeds.
func (s *Synthesizer) Voices() []synth.Voice {
	s.voicesOnce.Do(func() {
		voices, err := s.fetchVoices()
		if err != nil {
			s.log.Warn("voice list fetch failed", slog.String("error", err.Error()))
			return
		}
		s.voices = voices
	})
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voices
}

func (s *Synthesizer) readLoop(ctx context.Context, conn *websocket.Conn, cb synth.Callbacks) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Error("read loop error", slog.String("error", err.Error()))
			s.finish(conn)
			if cb.OnError != nil {
				cb.OnError(err)
			}
			return
		}
		if final := s.handleMessage(data); final {
			s.finish(conn)
			if cb.OnEnd != nil {
				cb.OnEnd()
			}
			return
		}
	}
}

// handleMessage forwards one audio chunk to the sink and reports whether
// the stream is complete.
func (s *Synthesizer) handleMessage(data []byte) bool {
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		s.log.Warn("websocket raw data", slog.String("data", string(data)))
		return false
	}
	if final, ok := msg["isFinal"].(bool); ok && final {
		return true
	}
	audioB64, ok := msg["audio"].(string)
	if !ok || audioB64 == "" {
		return false
	}
	raw, err := base64.StdEncoding.DecodeString(audioB64)
	if err != nil {
		s.log.Error("audio decode error", slog.String("error", err.Error()))
		return false
	}
	chunk := audio.NewChunkFromPool(raw, s.cfg.SampleRate, 1)
	if err := s.sink.Write(chunk); err != nil {
		s.log.Warn("sink write failed", slog.String("error", err.Error()))
	}
	return false
}

func (s *Synthesizer) finish(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
		s.cancel = nil
	}
	s.speaking = false
	s.mu.Unlock()
	_ = conn.Close()
}

func (s *Synthesizer) teardown(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
		if s.cancel != nil {
			s.cancel()
			s.cancel = nil
		}
	}
	s.speaking = false
	s.mu.Unlock()
	_ = conn.Close()
}

func (s *Synthesizer) buildURL() string {
	base := s.cfg.BaseWSURL + "/v1/text-to-speech/" + s.cfg.VoiceID + "/stream-input"
	q := url.Values{}
	if s.cfg.ModelID != "" {
		q.Set("model_id", s.cfg.ModelID)
	}
	if s.cfg.OutputFormat != "" {
		q.Set("output_format", s.cfg.OutputFormat)
	}
	q.Set("optimize_streaming_latency", "4")
	return base + "?" + q.Encode()
}

func (s *Synthesizer) send(conn *websocket.Conn, payload map[string]any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, b)
}

type voicesResponse struct {
	Voices []struct {
		VoiceID string            `json:"voice_id"`
		Name    string            `json:"name"`
		Labels  map[string]string `json:"labels"`
	} `json:"voices"`
}

func (s *Synthesizer) fetchVoices() ([]synth.Voice, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	req, err := http.NewRequest(http.MethodGet, s.cfg.BaseHTTPURL+"/v1/voices", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", s.cfg.APIKey)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.New("voices request failed: " + resp.Status)
	}

	var out voicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	voices := make([]synth.Voice, 0, len(out.Voices))
	for i, v := range out.Voices {
		lang := v.Labels["language"]
		voices = append(voices, synth.Voice{
			Name:    v.Name,
			Lang:    lang,
			Engine:  "elevenlabs",
			Default: i == 0,
		})
	}
	return voices, nil
}

var _ synth.Synthesizer = (*Synthesizer)(nil)
