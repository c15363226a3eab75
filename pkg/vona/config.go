package vona

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Environment   string              `mapstructure:"environment"`
	LogLevel      string              `mapstructure:"log_level"`
	LogFormat     string              `mapstructure:"log_format"`
	Language      string              `mapstructure:"language"`
	UserID        string              `mapstructure:"user_id"`
	Providers     ProvidersConfig     `mapstructure:"providers"`
	Service       ServiceConfig       `mapstructure:"service"`
	Capture       CaptureConfig       `mapstructure:"capture"`
	Playback      PlaybackConfig      `mapstructure:"playback"`
	Intent        IntentConfig        `mapstructure:"intent"`
	Orchestrator  OrchestratorConfig  `mapstructure:"orchestrator"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
}

type ProviderConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type ProvidersConfig struct {
	Recognizer  ProviderConfig `mapstructure:"recognizer"`
	Synthesizer ProviderConfig `mapstructure:"synthesizer"`
}

type ServiceConfig struct {
	BaseURL           string `mapstructure:"base_url"`
	APIKey            string `mapstructure:"api_key"`
	TimeoutMS         int    `mapstructure:"timeout_ms"`
	MaxRetries        int    `mapstructure:"max_retries"`
	RetryDelayMS      int    `mapstructure:"retry_delay_ms"`
	BreakerTrip       int    `mapstructure:"breaker_trip"`
	BreakerCooldownMS int    `mapstructure:"breaker_cooldown_ms"`
}

type CaptureConfig struct {
	StopTimeoutMS  int `mapstructure:"stop_timeout_ms"`
	MaxRetries     int `mapstructure:"max_retries"`
	RetryBackoffMS int `mapstructure:"retry_backoff_ms"`
}

type PlaybackConfig struct {
	SettleDelayMS       int     `mapstructure:"settle_delay_ms"`
	WatchdogBaseMS      int     `mapstructure:"watchdog_base_ms"`
	WatchdogPerRuneMS   int     `mapstructure:"watchdog_per_rune_ms"`
	WatchdogMaxMS       int     `mapstructure:"watchdog_max_ms"`
	GlobalWatchdogMaxMS int     `mapstructure:"global_watchdog_max_ms"`
	SegmentThreshold    int     `mapstructure:"segment_threshold"`
	SegmentMaxLen       int     `mapstructure:"segment_max_len"`
	SegmentMinLen       int     `mapstructure:"segment_min_len"`
	ReconcileIntervalMS int     `mapstructure:"reconcile_interval_ms"`
	PreferredEngine     string  `mapstructure:"preferred_engine"`
	Rate                float64 `mapstructure:"rate"`
	Pitch               float64 `mapstructure:"pitch"`
}

type PhrasesConfig struct {
	Cancel  []string `mapstructure:"cancel"`
	Retry   []string `mapstructure:"retry"`
	Confirm []string `mapstructure:"confirm"`
}

type IntentConfig struct {
	DedupeWindowMS    int           `mapstructure:"dedupe_window_ms"`
	EchoWindowMS      int           `mapstructure:"echo_window_ms"`
	LongTextThreshold int           `mapstructure:"long_text_threshold"`
	Phrases           PhrasesConfig `mapstructure:"phrases"`
}

type PromptsConfig struct {
	Cancelled           string `mapstructure:"cancelled"`
	Clarify             string `mapstructure:"clarify"`
	ConfirmationTimeout string `mapstructure:"confirmation_timeout"`
	CaptureFailure      string `mapstructure:"capture_failure"`
	PersistentFailure   string `mapstructure:"persistent_failure"`
	ServiceFailure      string `mapstructure:"service_failure"`
	PermissionDenied    string `mapstructure:"permission_denied"`
	ExecutionDone       string `mapstructure:"execution_done"`
}

type OrchestratorConfig struct {
	ConfirmationTimeoutMS int           `mapstructure:"confirmation_timeout_ms"`
	ErrorResetDelayMS     int           `mapstructure:"error_reset_delay_ms"`
	CaptureFailureLimit   int           `mapstructure:"capture_failure_limit"`
	Prompts               PromptsConfig `mapstructure:"prompts"`
}

type ObservabilityConfig struct {
	ArtifactsDir string `mapstructure:"artifacts_dir"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("language", "zh-CN")
	v.SetDefault("service.timeout_ms", 15000)
	v.SetDefault("service.max_retries", 2)
	v.SetDefault("service.retry_delay_ms", 500)
	v.SetDefault("service.breaker_trip", 3)
	v.SetDefault("service.breaker_cooldown_ms", 30000)
	v.SetDefault("capture.stop_timeout_ms", 3000)
	v.SetDefault("capture.max_retries", 3)
	v.SetDefault("capture.retry_backoff_ms", 1000)
	v.SetDefault("playback.settle_delay_ms", 350)
	v.SetDefault("playback.watchdog_base_ms", 5000)
	v.SetDefault("playback.watchdog_per_rune_ms", 100)
	v.SetDefault("playback.watchdog_max_ms", 60000)
	v.SetDefault("playback.global_watchdog_max_ms", 180000)
	v.SetDefault("playback.segment_threshold", 80)
	v.SetDefault("playback.segment_max_len", 120)
	v.SetDefault("playback.segment_min_len", 10)
	v.SetDefault("playback.reconcile_interval_ms", 1500)
	v.SetDefault("playback.rate", 1.0)
	v.SetDefault("playback.pitch", 1.0)
	v.SetDefault("intent.dedupe_window_ms", 2000)
	v.SetDefault("intent.echo_window_ms", 5000)
	v.SetDefault("intent.long_text_threshold", 15)
	v.SetDefault("orchestrator.confirmation_timeout_ms", 15000)
	v.SetDefault("orchestrator.error_reset_delay_ms", 5000)
	v.SetDefault("orchestrator.capture_failure_limit", 3)
	v.SetDefault("privacy.redact_pii", true)
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Providers.Recognizer.Provider) == "" {
		return fmt.Errorf("providers.recognizer.provider is required")
	}
	if strings.TrimSpace(c.Providers.Synthesizer.Provider) == "" {
		return fmt.Errorf("providers.synthesizer.provider is required")
	}
	if strings.TrimSpace(c.Service.BaseURL) == "" && !c.usesMockService() {
		return fmt.Errorf("service.base_url is required")
	}
	return nil
}

// usesMockService reports whether both capabilities are mocked; in that
// case the backend is usually mocked too and no base URL is needed.
func (c *Config) usesMockService() bool {
	return strings.EqualFold(c.Providers.Recognizer.Provider, "mock") &&
		strings.EqualFold(c.Providers.Synthesizer.Provider, "mock")
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Providers.Recognizer.Settings = expandSettings(cfg.Providers.Recognizer.Settings)
	cfg.Providers.Synthesizer.Settings = expandSettings(cfg.Providers.Synthesizer.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	}
}
