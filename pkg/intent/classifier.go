package intent

import (
	"strings"
	"sync"
	"time"
	"unicode"
)

// Intent is the classified meaning of a spoken reply during confirmation.
type Intent int

const (
	Confirm Intent = iota
	Retry
	Cancel
	Unknown
	Ignore
)

func (i Intent) String() string {
	switch i {
	case Confirm:
		return "CONFIRM"
	case Retry:
		return "RETRY"
	case Cancel:
		return "CANCEL"
	case Unknown:
		return "UNKNOWN"
	case Ignore:
		return "IGNORE"
	default:
		return "INVALID"
	}
}

// Result carries the classified intent, the normalized text that
// produced it, and the timestamp used for de-duplication.
type Result struct {
	Intent     Intent
	Normalized string
	At         time.Time
}

// Phrases are the keyword sets matched against normalized input.
// Cancel beats retry beats confirm.
type Phrases struct {
	Cancel  []string
	Retry   []string
	Confirm []string
}

// DefaultPhrases covers the Mandarin and English replies the assistant
// is expected to hear.
func DefaultPhrases() Phrases {
	return Phrases{
		Cancel:  []string{"不要", "不用", "取消", "算了", "别查", "不对", "no", "cancel", "stop"},
		Retry:   []string{"重新", "再说一遍", "重说", "换一个", "重试", "retry", "again", "repeat"},
		Confirm: []string{"好的", "好", "是的", "是", "确认", "确定", "可以", "嗯", "行", "对", "ok", "okay", "yes", "yeah", "sure", "confirm"},
	}
}

type Options struct {
	Phrases           Phrases
	DedupeWindow      time.Duration
	EchoWindow        time.Duration
	LongTextThreshold int
	Now               func() time.Time
}

// Classifier maps a free-text utterance to an intent. It keeps a short
// rolling memory of the last normalized text and classification time,
// which is the only mutable state it owns.
type Classifier struct {
	mu             sync.Mutex
	phrases        Phrases
	dedupeWindow   time.Duration
	echoWindow     time.Duration
	longThreshold  int
	now            func() time.Time
	lastNormalized string
	lastAt         time.Time
}

func NewClassifier(opts Options) *Classifier {
	if len(opts.Phrases.Cancel) == 0 && len(opts.Phrases.Retry) == 0 && len(opts.Phrases.Confirm) == 0 {
		opts.Phrases = DefaultPhrases()
	}
	if opts.DedupeWindow <= 0 {
		opts.DedupeWindow = 2 * time.Second
	}
	if opts.EchoWindow <= 0 {
		opts.EchoWindow = 5 * time.Second
	}
	if opts.LongTextThreshold <= 0 {
		opts.LongTextThreshold = 15
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Classifier{
		phrases:       opts.Phrases,
		dedupeWindow:  opts.DedupeWindow,
		echoWindow:    opts.EchoWindow,
		longThreshold: opts.LongTextThreshold,
		now:           opts.Now,
	}
}

// Classify maps text to an intent. originalQuery is the utterance the
// assistant believes it may be hearing an echo of (its own prompt or the
// user's original request). Calls are serialized; a call made while a
// previous one is still in progress returns nil.
func (c *Classifier) Classify(text, originalQuery string) *Result {
	if !c.mu.TryLock() {
		return nil
	}
	defer c.mu.Unlock()

	normalized := Normalize(text)
	if normalized == "" {
		return nil
	}
	now := c.now()

	// Duplicate recognition events for the same utterance arrive in
	// quick bursts; suppress them.
	if normalized == c.lastNormalized && now.Sub(c.lastAt) < c.dedupeWindow {
		return c.settle(Ignore, normalized, now)
	}

	if echo := Normalize(originalQuery); echo != "" && normalized == echo {
		// An echo repeated well after the prompt is a deliberate repeat,
		// not feedback from the speaker.
		if normalized == c.lastNormalized && now.Sub(c.lastAt) > c.echoWindow {
			return c.settle(Confirm, normalized, now)
		}
		return c.settle(Ignore, normalized, now)
	}

	if matchAny(normalized, c.phrases.Cancel) {
		return c.settle(Cancel, normalized, now)
	}
	if matchAny(normalized, c.phrases.Retry) {
		return c.settle(Retry, normalized, now)
	}
	if matchAny(normalized, c.phrases.Confirm) {
		return c.settle(Confirm, normalized, now)
	}

	// Long unmatched text is assumed to be a new question rather than a
	// one-word answer.
	if len([]rune(normalized)) > c.longThreshold {
		return c.settle(Retry, normalized, now)
	}
	return c.settle(Confirm, normalized, now)
}

func (c *Classifier) settle(intent Intent, normalized string, at time.Time) *Result {
	c.lastNormalized = normalized
	c.lastAt = at
	return &Result{Intent: intent, Normalized: normalized, At: at}
}

// Normalize lowercases text and strips whitespace and punctuation so
// recognition artifacts do not defeat keyword matching.
func Normalize(text string) string {
	lowered := strings.ToLower(strings.TrimSpace(text))
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return -1
		}
		return r
	}, lowered)
}

func matchAny(normalized string, phrases []string) bool {
	for _, p := range phrases {
		p = Normalize(p)
		if p == "" {
			continue
		}
		if strings.Contains(normalized, p) {
			return true
		}
	}
	return false
}
