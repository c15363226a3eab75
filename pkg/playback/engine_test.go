package playback

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harunnryd/vona/pkg/adapters/synth"
	"github.com/harunnryd/vona/pkg/metrics"
)

type fakeSynth struct {
	mu         sync.Mutex
	utterances []synth.Utterance
	cbs        []synth.Callbacks
	speakErr   error
	speaking   bool
	voices     []synth.Voice
	cancels    int
	autoEnd    bool
}

func (f *fakeSynth) Name() string { return "fake" }

func (f *fakeSynth) Speak(u synth.Utterance, cb synth.Callbacks) error {
	f.mu.Lock()
	if f.speakErr != nil {
		err := f.speakErr
		f.mu.Unlock()
		return err
	}
	f.utterances = append(f.utterances, u)
	f.cbs = append(f.cbs, cb)
	f.speaking = true
	auto := f.autoEnd
	f.mu.Unlock()
	if auto {
		go func() {
			time.Sleep(time.Millisecond)
			f.mu.Lock()
			f.speaking = false
			f.mu.Unlock()
			if cb.OnEnd != nil {
				cb.OnEnd()
			}
		}()
	}
	return nil
}

func (f *fakeSynth) Cancel() {
	f.mu.Lock()
	f.cancels++
	f.speaking = false
	f.mu.Unlock()
}

func (f *fakeSynth) Speaking() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.speaking
}

func (f *fakeSynth) Voices() []synth.Voice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.voices
}

func (f *fakeSynth) lastCallbacks() synth.Callbacks {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cbs[len(f.cbs)-1]
}

func (f *fakeSynth) spoken() []synth.Utterance {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]synth.Utterance, len(f.utterances))
	copy(out, f.utterances)
	return out
}

func (f *fakeSynth) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancels
}

func testEngine(t *testing.T, s synth.Synthesizer, cfg Config) *Engine {
	t.Helper()
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = time.Millisecond
	}
	if cfg.ReconcileInterval == 0 {
		cfg.ReconcileInterval = time.Hour
	}
	e := NewEngine(s, nil, cfg, nil, metrics.NoopObserver{}, "s1")
	t.Cleanup(e.Close)
	return e
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSpeakCompletesOnce(t *testing.T) {
	fs := &fakeSynth{}
	e := testEngine(t, fs, Config{})

	var completions int32
	if err := e.Speak("好的", "zh-CN", func() { atomic.AddInt32(&completions, 1) }); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	cb := fs.lastCallbacks()
	cb.OnEnd()
	cb.OnEnd()
	cb.OnError(errors.New("late error"))

	waitFor(t, func() bool { return atomic.LoadInt32(&completions) > 0 }, "completion never fired")
	time.Sleep(10 * time.Millisecond)
	if n := atomic.LoadInt32(&completions); n != 1 {
		t.Fatalf("completion fired %d times, want 1", n)
	}
	if e.Speaking() {
		t.Fatal("engine still speaking after completion")
	}
}

func TestSpeakWatchdog(t *testing.T) {
	fs := &fakeSynth{}
	e := testEngine(t, fs, Config{
		WatchdogBase:    5 * time.Millisecond,
		WatchdogPerRune: time.Microsecond,
	})

	done := make(chan struct{})
	if err := e.Speak("好的", "zh-CN", func() { close(done) }); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watchdog never completed playback")
	}
	if fs.cancelCount() == 0 {
		t.Fatal("watchdog did not cancel the synthesizer")
	}
}

func TestSpeakErrorAndWatchdogSingleCompletion(t *testing.T) {
	fs := &fakeSynth{}
	e := testEngine(t, fs, Config{
		WatchdogBase:    5 * time.Millisecond,
		WatchdogPerRune: time.Microsecond,
	})

	var completions int32
	if err := e.Speak("好的", "zh-CN", func() { atomic.AddInt32(&completions, 1) }); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	fs.lastCallbacks().OnError(errors.New("boom"))
	time.Sleep(50 * time.Millisecond)
	if n := atomic.LoadInt32(&completions); n != 1 {
		t.Fatalf("completion fired %d times, want 1", n)
	}
}

func TestSpeakSegmentedOrderAndRoundTrip(t *testing.T) {
	fs := &fakeSynth{autoEnd: true}
	e := testEngine(t, fs, Config{})

	text := strings.Repeat("今天天气晴朗，适合出门散步。", 8)
	done := make(chan struct{})
	if err := e.Speak(text, "zh-CN", func() { close(done) }); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("segmented playback never completed")
	}

	var joined strings.Builder
	for _, u := range fs.spoken() {
		joined.WriteString(u.Text)
	}
	if joined.String() != text {
		t.Fatalf("spoken segments do not reproduce input:\ngot  %q\nwant %q", joined.String(), text)
	}
	if len(fs.spoken()) < 2 {
		t.Fatalf("expected multiple segments, got %d", len(fs.spoken()))
	}
}

func TestSpeakSegmentErrorAdvances(t *testing.T) {
	fs := &fakeSynth{}
	e := testEngine(t, fs, Config{})

	text := strings.Repeat("今天天气晴朗，适合出门散步。", 8)
	done := make(chan struct{})
	if err := e.Speak(text, "zh-CN", func() { close(done) }); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	first := fs.lastCallbacks()
	first.OnError(errors.New("segment stuck"))
	waitFor(t, func() bool { return len(fs.spoken()) >= 2 }, "error did not advance to next segment")

	for i := 0; i < 20; i++ {
		cb := fs.lastCallbacks()
		cb.OnEnd()
		select {
		case <-done:
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
	t.Fatal("playback never completed after advancing past the failed segment")
}

func TestSpeakSupersedesActive(t *testing.T) {
	fs := &fakeSynth{}
	e := testEngine(t, fs, Config{})

	var firstDone int32
	if err := e.Speak("第一句话", "zh-CN", func() { atomic.AddInt32(&firstDone, 1) }); err != nil {
		t.Fatalf("first Speak: %v", err)
	}
	secondDone := make(chan struct{})
	if err := e.Speak("第二句话", "zh-CN", func() { close(secondDone) }); err != nil {
		t.Fatalf("second Speak: %v", err)
	}
	if atomic.LoadInt32(&firstDone) != 1 {
		t.Fatal("superseded playback did not fire its completion")
	}
	if fs.cancelCount() == 0 {
		t.Fatal("active playback was not cancelled before the new one")
	}
	fs.lastCallbacks().OnEnd()
	select {
	case <-secondDone:
	case <-time.After(time.Second):
		t.Fatal("second playback never completed")
	}
}

func TestCancelFiresCompletion(t *testing.T) {
	fs := &fakeSynth{}
	e := testEngine(t, fs, Config{})

	var completions int32
	if err := e.Speak("好的", "zh-CN", func() { atomic.AddInt32(&completions, 1) }); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	e.Cancel()
	if atomic.LoadInt32(&completions) != 1 {
		t.Fatal("cancel did not fire completion")
	}
	// Late capability events after cancel must be ignored.
	fs.lastCallbacks().OnEnd()
	time.Sleep(10 * time.Millisecond)
	if n := atomic.LoadInt32(&completions); n != 1 {
		t.Fatalf("completion fired %d times after cancel, want 1", n)
	}
}

func TestSpeakEmptyText(t *testing.T) {
	fs := &fakeSynth{}
	e := testEngine(t, fs, Config{})

	done := make(chan struct{})
	if err := e.Speak("   ", "zh-CN", func() { close(done) }); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("empty text did not complete")
	}
	if len(fs.spoken()) != 0 {
		t.Fatal("empty text reached the synthesizer")
	}
}

type fixedVisibility bool

func (v fixedVisibility) Visible() bool { return bool(v) }

func TestSpeakWhileHidden(t *testing.T) {
	fs := &fakeSynth{}
	e := NewEngine(fs, fixedVisibility(false), Config{SettleDelay: time.Millisecond, ReconcileInterval: time.Hour}, nil, metrics.NoopObserver{}, "s1")
	t.Cleanup(e.Close)

	done := make(chan struct{})
	if err := e.Speak("好的", "zh-CN", func() { close(done) }); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("hidden playback did not complete immediately")
	}
	if len(fs.spoken()) != 0 {
		t.Fatal("playback started while hidden")
	}
}

func TestReconcileCompletesMissedEvent(t *testing.T) {
	fs := &fakeSynth{}
	e := testEngine(t, fs, Config{ReconcileInterval: 5 * time.Millisecond})

	done := make(chan struct{})
	if err := e.Speak("好的", "zh-CN", func() { close(done) }); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	// Capability claims it stopped speaking but never fires OnEnd.
	fs.mu.Lock()
	fs.speaking = false
	fs.mu.Unlock()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reconciliation never completed the run")
	}
}

func TestSelectVoicePreferenceOrder(t *testing.T) {
	voices := []synth.Voice{
		{Name: "en-default", Lang: "en-US", Default: true},
		{Name: "zh-generic", Lang: "zh"},
		{Name: "zh-cn-online", Lang: "zh-CN", Engine: "online"},
		{Name: "zh-cn-local", Lang: "zh-CN", Engine: "local"},
	}

	v, ok := SelectVoice(voices, "zh-CN", "local")
	if !ok || v.Name != "zh-cn-local" {
		t.Fatalf("engine+lang match = %v, want zh-cn-local", v.Name)
	}
	v, ok = SelectVoice(voices, "zh-CN", "offline")
	if !ok || v.Name != "zh-cn-online" {
		t.Fatalf("lang match = %v, want zh-cn-online", v.Name)
	}
	v, ok = SelectVoice(voices, "zh-TW", "")
	if !ok || v.Name != "zh-generic" {
		t.Fatalf("family match = %v, want zh-generic", v.Name)
	}
	v, ok = SelectVoice(voices, "fr-FR", "")
	if !ok || v.Name != "en-default" {
		t.Fatalf("default fallback = %v, want en-default", v.Name)
	}
	if _, ok := SelectVoice(nil, "zh-CN", ""); ok {
		t.Fatal("empty voice list should not match")
	}
}

func TestSplitSegmentsRoundTrip(t *testing.T) {
	texts := []string{
		"我将为您查询北京的天气情况，是否确认？",
		strings.Repeat("今天天气晴朗。很适合出门！要带伞吗？", 10),
		"短。句。多。个。" + strings.Repeat("长句子没有标点符号一直延续下去", 10),
		"no punctuation at all just words " + strings.Repeat("and more words ", 20),
	}
	for _, text := range texts {
		segs := SplitSegments(text, 120, 10)
		if strings.Join(segs, "") != text {
			t.Errorf("round trip failed for %q", text[:20])
		}
	}
}

func TestSplitSegmentsMergesShort(t *testing.T) {
	segs := SplitSegments("短。句。多。个。但是合并之后就不短了。", 120, 10)
	for i, s := range segs[:len(segs)-1] {
		if len([]rune(s)) < 10 {
			t.Errorf("segment %d %q shorter than min length", i, s)
		}
	}
}

func TestSplitSegmentsRespectsMaxLen(t *testing.T) {
	text := strings.Repeat("这是一个很长的子句，", 30) + "。"
	segs := SplitSegments(text, 40, 10)
	if strings.Join(segs, "") != text {
		t.Fatal("round trip failed")
	}
	for i, s := range segs {
		if len([]rune(s)) > 40 {
			t.Errorf("segment %d exceeds max length: %d runes", i, len([]rune(s)))
		}
	}
}

func TestNeedsSegmentation(t *testing.T) {
	if NeedsSegmentation("短句。", 80) {
		t.Fatal("short text should not segment")
	}
	long := strings.Repeat("字", 100)
	if NeedsSegmentation(long, 80) {
		t.Fatal("long text without terminators should not segment")
	}
	if !NeedsSegmentation(long+"。", 80) {
		t.Fatal("long text with terminator should segment")
	}
}
