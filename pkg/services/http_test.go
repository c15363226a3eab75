package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harunnryd/vona/pkg/errorsx"
	"github.com/harunnryd/vona/pkg/resilience"
)

func testClient(t *testing.T, handler http.Handler) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewHTTPClient(HTTPConfig{
		BaseURL:    srv.URL,
		APIKey:     "test-key",
		Timeout:    time.Second,
		RetryDelay: time.Millisecond,
	}, nil, nil)
	c.retry.Sleep = func(time.Duration) {}
	return c
}

func TestInterpret(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/interpret" {
			t.Errorf("path = %s, want /interpret", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth header = %q", got)
		}
		var req interpretRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Text != "查询北京天气" || req.SessionID != "s1" {
			t.Errorf("unexpected request: %+v", req)
		}
		json.NewEncoder(w).Encode(Interpretation{
			ConfirmText: "我将为您查询北京的天气情况，是否确认？",
			Action:      &Action{ID: "weather.query", Params: map[string]any{"city": "北京"}},
		})
	}))

	out, err := c.Interpret(context.Background(), "查询北京天气", "s1", "u1")
	if err != nil {
		t.Fatalf("Interpret: %v", err)
	}
	if !out.NeedsConfirmation() {
		t.Fatal("expected confirmation required")
	}
	if out.Action.ID != "weather.query" {
		t.Errorf("action = %q", out.Action.ID)
	}
}

func TestExecute(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/execute" {
			t.Errorf("path = %s, want /execute", r.URL.Path)
		}
		var req executeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.ActionID != "weather.query" {
			t.Errorf("action = %q", req.ActionID)
		}
		json.NewEncoder(w).Encode(ExecutionResult{Success: true, Data: "北京今天晴，气温25度。"})
	}))

	out, err := c.Execute(context.Background(), Action{ID: "weather.query"}, "s1", "u1")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !out.Success || out.Data == "" {
		t.Fatalf("unexpected result: %+v", out)
	}
}

func TestRetryOnServerError(t *testing.T) {
	var calls int32
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(Interpretation{Content: "你好"})
	}))

	out, err := c.Interpret(context.Background(), "你好", "s1", "")
	if err != nil {
		t.Fatalf("Interpret: %v", err)
	}
	if out.Content != "你好" {
		t.Fatalf("unexpected interpretation: %+v", out)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("server called %d times, want 2", n)
	}
}

func TestClientErrorNotRetried(t *testing.T) {
	var calls int32
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))

	_, err := c.Interpret(context.Background(), "你好", "s1", "")
	if err == nil {
		t.Fatal("expected error")
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("server called %d times, want 1", n)
	}
}

func TestRateLimitTripsBreaker(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	for i := 0; i < 3; i++ {
		_, err := c.Interpret(context.Background(), "你好", "s1", "")
		if !resilience.IsRateLimit(err) {
			t.Fatalf("call %d error = %v, want rate limit", i, err)
		}
	}

	_, err := c.Interpret(context.Background(), "你好", "s1", "")
	if !errorsx.HasReason(err, errorsx.ReasonCircuitOpen) {
		t.Fatalf("error = %v, want circuit open", err)
	}
}

func TestServerErrorsTripBreaker(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	for i := 0; i < 3; i++ {
		_, err := c.Interpret(context.Background(), "你好", "s1", "")
		if !resilience.IsUnavailable(err) {
			t.Fatalf("call %d error = %v, want unavailable", i, err)
		}
	}

	_, err := c.Interpret(context.Background(), "你好", "s1", "")
	if !errorsx.HasReason(err, errorsx.ReasonCircuitOpen) {
		t.Fatalf("error = %v, want circuit open", err)
	}
}

func TestExecuteErrorReason(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := c.Execute(context.Background(), Action{ID: "x"}, "s1", "")
	if !errorsx.HasReason(err, errorsx.ReasonExecute) {
		t.Fatalf("error = %v, want execute reason", err)
	}
}
