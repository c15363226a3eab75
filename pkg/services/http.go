package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/harunnryd/vona/pkg/errorsx"
	"github.com/harunnryd/vona/pkg/metrics"
	"github.com/harunnryd/vona/pkg/redact"
	"github.com/harunnryd/vona/pkg/resilience"
)

// HTTPConfig configures the HTTP assistant service client.
type HTTPConfig struct {
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
	BreakerTrip int
	BreakerCool time.Duration
}

func (c *HTTPConfig) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 2
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 500 * time.Millisecond
	}
	if c.BreakerTrip <= 0 {
		c.BreakerTrip = 3
	}
	if c.BreakerCool <= 0 {
		c.BreakerCool = 30 * time.Second
	}
}

// HTTPClient talks JSON to the assistant backend. It implements both
// Interpreter and Executor against POST /interpret and POST /execute.
type HTTPClient struct {
	cfg     HTTPConfig
	client  *http.Client
	retry   resilience.RetryPolicy
	breaker *resilience.CircuitBreaker
	log     *slog.Logger
	obs     metrics.Observer
}

func NewHTTPClient(cfg HTTPConfig, log *slog.Logger, obs metrics.Observer) *HTTPClient {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	retry := resilience.NewRetryPolicy(cfg.MaxRetries+1, cfg.RetryDelay)
	retry.Retryable = retryableServiceError
	return &HTTPClient{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		retry:   retry,
		breaker: resilience.NewCircuitBreaker(cfg.BreakerTrip, cfg.BreakerCool, nil),
		log:     log.With("component", "service"),
		obs:     obs,
	}
}

type interpretRequest struct {
	Text      string `json:"text"`
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId,omitempty"`
}

type executeRequest struct {
	ActionID  string         `json:"actionId"`
	Params    map[string]any `json:"params,omitempty"`
	SessionID string         `json:"sessionId"`
	UserID    string         `json:"userId,omitempty"`
}

func (c *HTTPClient) Interpret(ctx context.Context, text, sessionID, userID string) (Interpretation, error) {
	var out Interpretation
	req := interpretRequest{Text: text, SessionID: sessionID, UserID: userID}
	start := time.Now()
	err := c.post(ctx, "/interpret", req, &out)
	if err != nil {
		return Interpretation{}, errorsx.Wrap(err, errorsx.ReasonInterpret)
	}
	c.log.Info("interpret done",
		"session_id", sessionID,
		"transcript", redact.Clip(text),
		"needs_confirmation", out.NeedsConfirmation(),
		"elapsed", time.Since(start),
	)
	c.record(metrics.EventInterpretDone, sessionID, map[string]any{
		"elapsed_ms": time.Since(start).Milliseconds(),
	})
	return out, nil
}

func (c *HTTPClient) Execute(ctx context.Context, action Action, sessionID, userID string) (ExecutionResult, error) {
	var out ExecutionResult
	req := executeRequest{ActionID: action.ID, Params: action.Params, SessionID: sessionID, UserID: userID}
	start := time.Now()
	err := c.post(ctx, "/execute", req, &out)
	if err != nil {
		return ExecutionResult{}, errorsx.Wrap(err, errorsx.ReasonExecute)
	}
	c.log.Info("execute done",
		"session_id", sessionID,
		"action", action.ID,
		"success", out.Success,
		"elapsed", time.Since(start),
	)
	c.record(metrics.EventExecuteDone, sessionID, map[string]any{
		"elapsed_ms": time.Since(start).Milliseconds(),
		"success":    out.Success,
	})
	return out, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, in, out any) error {
	if !c.breaker.Allow() {
		c.record(metrics.EventBreakerDenied, "", nil)
		return errorsx.New(errorsx.ReasonCircuitOpen, "service circuit open")
	}

	body, err := json.Marshal(in)
	if err != nil {
		return err
	}

	err = c.retry.Do(ctx, func() error {
		return c.once(ctx, path, body, out)
	})
	if err != nil {
		c.breaker.OnError(err)
		if resilience.IsRateLimit(err) {
			c.record(metrics.EventRateLimit, "", nil)
		}
		return err
	}
	c.breaker.OnSuccess()
	return nil
}

func (c *HTTPClient) once(ctx context.Context, path string, body []byte, out any) error {
	url := strings.TrimRight(c.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return resilience.RateLimitError{Provider: "assistant", Message: "assistant service rate limited"}
	case resp.StatusCode >= 500:
		return resilience.UnavailableError{Service: "assistant service " + path, Status: resp.StatusCode}
	case resp.StatusCode >= 400:
		// Client errors never heal on retry.
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errorsx.New(errorsx.ReasonServiceDecode,
			fmt.Sprintf("assistant service %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(data))))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonServiceDecode)
	}
	return nil
}

// retryableServiceError retries network failures and 5xx responses but
// not rate limits, decode failures or context cancellation.
func retryableServiceError(err error) bool {
	if resilience.IsRateLimit(err) {
		return false
	}
	if errorsx.HasReason(err, errorsx.ReasonServiceDecode) {
		return false
	}
	return resilience.DefaultIsRetryable(err)
}

func (c *HTTPClient) record(name, sessionID string, fields map[string]any) {
	ev := metrics.MetricsEvent{Name: name, Time: time.Now(), Fields: fields}
	if sessionID != "" {
		ev.Tags = map[string]string{"session_id": sessionID}
	}
	c.obs.RecordEvent(ev)
}
