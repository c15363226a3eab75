package vona

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/harunnryd/vona/pkg/adapters/asr"
	"github.com/harunnryd/vona/pkg/adapters/synth"
	"github.com/harunnryd/vona/pkg/audio"
	"github.com/harunnryd/vona/pkg/providers/deepgram"
	"github.com/harunnryd/vona/pkg/providers/elevenlabs"
	"github.com/harunnryd/vona/pkg/providers/mock"
)

// ProviderEnv carries the host resources provider factories may need:
// the microphone audio stream and the audio output sink.
type ProviderEnv struct {
	AudioSource func(ctx context.Context) (io.ReadCloser, error)
	AudioSink   audio.Sink
}

type RecognizerFactory func(env ProviderEnv, settings map[string]any) (asr.Recognizer, asr.PermissionProbe, error)
type SynthesizerFactory func(env ProviderEnv, settings map[string]any) (synth.Synthesizer, error)

// ProviderRegistry maps provider names from configuration to factories.
type ProviderRegistry struct {
	recognizers  map[string]RecognizerFactory
	synthesizers map[string]SynthesizerFactory
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		recognizers:  make(map[string]RecognizerFactory),
		synthesizers: make(map[string]SynthesizerFactory),
	}
}

func (r *ProviderRegistry) RegisterRecognizer(name string, factory RecognizerFactory) {
	r.recognizers[normalizeName(name)] = factory
}

func (r *ProviderRegistry) RegisterSynthesizer(name string, factory SynthesizerFactory) {
	r.synthesizers[normalizeName(name)] = factory
}

func (r *ProviderRegistry) BuildRecognizer(name string, env ProviderEnv, settings map[string]any) (asr.Recognizer, asr.PermissionProbe, error) {
	fn := r.recognizers[normalizeName(name)]
	if fn == nil {
		return nil, nil, fmt.Errorf("recognizer provider not registered: %s", name)
	}
	return fn(env, settings)
}

func (r *ProviderRegistry) BuildSynthesizer(name string, env ProviderEnv, settings map[string]any) (synth.Synthesizer, error) {
	fn := r.synthesizers[normalizeName(name)]
	if fn == nil {
		return nil, fmt.Errorf("synthesizer provider not registered: %s", name)
	}
	return fn(env, settings)
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// DefaultRegistry registers the built-in providers.
func DefaultRegistry() *ProviderRegistry {
	r := NewProviderRegistry()

	r.RegisterRecognizer("mock", func(_ ProviderEnv, settings map[string]any) (asr.Recognizer, asr.PermissionProbe, error) {
		var s struct {
			Transcripts []string `mapstructure:"transcripts"`
			DelayMS     int      `mapstructure:"delay_ms"`
		}
		if err := DecodeSettings(settings, &s); err != nil {
			return nil, nil, err
		}
		steps := make([]mock.Step, 0, len(s.Transcripts))
		for _, t := range s.Transcripts {
			steps = append(steps, mock.Step{
				Transcript: t,
				Delay:      time.Duration(s.DelayMS) * time.Millisecond,
			})
		}
		return mock.NewRecognizer(steps...), mock.AllowMicrophone(), nil
	})

	r.RegisterRecognizer("deepgram", func(env ProviderEnv, settings map[string]any) (asr.Recognizer, asr.PermissionProbe, error) {
		var s struct {
			APIKey         string `mapstructure:"api_key"`
			Model          string `mapstructure:"model"`
			SampleRate     int    `mapstructure:"sample_rate"`
			Encoding       string `mapstructure:"encoding"`
			UtteranceEndMS int    `mapstructure:"utterance_end_ms"`
		}
		if err := DecodeSettings(settings, &s); err != nil {
			return nil, nil, err
		}
		if env.AudioSource == nil {
			return nil, nil, fmt.Errorf("deepgram recognizer requires an audio source")
		}
		rec := deepgram.New(deepgram.Config{
			APIKey:         s.APIKey,
			Model:          s.Model,
			SampleRate:     s.SampleRate,
			Encoding:       s.Encoding,
			UtteranceEndMS: s.UtteranceEndMS,
			Source:         env.AudioSource,
		})
		// The source opening is the permission probe: if the microphone
		// stream cannot be opened, capture can never work.
		probe := asr.ProbeFunc(func(ctx context.Context) error {
			src, err := env.AudioSource(ctx)
			if err != nil {
				return err
			}
			return src.Close()
		})
		return rec, probe, nil
	})

	r.RegisterSynthesizer("mock", func(_ ProviderEnv, settings map[string]any) (synth.Synthesizer, error) {
		var s struct {
			LatencyMS int `mapstructure:"latency_ms"`
		}
		if err := DecodeSettings(settings, &s); err != nil {
			return nil, err
		}
		syn := mock.NewSynthesizer(synth.Voice{Name: "mock-zh", Lang: "zh-CN", Engine: "mock", Default: true})
		if s.LatencyMS > 0 {
			syn.Latency = time.Duration(s.LatencyMS) * time.Millisecond
		}
		return syn, nil
	})

	r.RegisterSynthesizer("elevenlabs", func(env ProviderEnv, settings map[string]any) (synth.Synthesizer, error) {
		var s struct {
			APIKey       string `mapstructure:"api_key"`
			VoiceID      string `mapstructure:"voice_id"`
			ModelID      string `mapstructure:"model_id"`
			OutputFormat string `mapstructure:"output_format"`
			SampleRate   int    `mapstructure:"sample_rate"`
		}
		if err := DecodeSettings(settings, &s); err != nil {
			return nil, err
		}
		return elevenlabs.New(elevenlabs.Config{
			APIKey:       s.APIKey,
			VoiceID:      s.VoiceID,
			ModelID:      s.ModelID,
			OutputFormat: s.OutputFormat,
			SampleRate:   s.SampleRate,
		}, env.AudioSink), nil
	})

	return r
}
