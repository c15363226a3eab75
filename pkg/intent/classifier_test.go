package intent

import (
	"testing"
	"time"
)

func newTestClassifier(now *time.Time) *Classifier {
	return NewClassifier(Options{
		Now: func() time.Time { return *now },
	})
}

func TestClassifyConfirmPhrases(t *testing.T) {
	for _, text := range []string{"好的", "嗯", "是的", "确认吧", "ok", "yes please"} {
		now := time.Now()
		c := newTestClassifier(&now)
		res := c.Classify(text, "")
		if res == nil {
			t.Fatalf("Classify(%q) returned nil", text)
		}
		if res.Intent != Confirm {
			t.Errorf("Classify(%q) = %v, want CONFIRM", text, res.Intent)
		}
	}
}

func TestClassifyCancelPhrases(t *testing.T) {
	for _, text := range []string{"不要", "取消", "算了吧", "no thanks", "cancel it"} {
		now := time.Now()
		c := newTestClassifier(&now)
		res := c.Classify(text, "")
		if res == nil || res.Intent != Cancel {
			t.Errorf("Classify(%q) = %v, want CANCEL", text, res)
		}
	}
}

func TestClassifyRetryPhrases(t *testing.T) {
	for _, text := range []string{"重新说一下", "再说一遍", "retry", "say it again"} {
		now := time.Now()
		c := newTestClassifier(&now)
		res := c.Classify(text, "")
		if res == nil || res.Intent != Retry {
			t.Errorf("Classify(%q) = %v, want RETRY", text, res)
		}
	}
}

func TestClassifyCancelBeatsConfirm(t *testing.T) {
	now := time.Now()
	c := newTestClassifier(&now)
	res := c.Classify("好的不要", "")
	if res == nil || res.Intent != Cancel {
		t.Fatalf("got %v, want CANCEL when cancel and confirm keywords both match", res)
	}
}

func TestClassifyEmptyText(t *testing.T) {
	now := time.Now()
	c := newTestClassifier(&now)
	if res := c.Classify("   ", ""); res != nil {
		t.Fatalf("blank text should classify to nil, got %v", res)
	}
}

func TestClassifyDuplicateWithinWindow(t *testing.T) {
	now := time.Now()
	c := newTestClassifier(&now)

	first := c.Classify("好的", "")
	if first == nil || first.Intent != Confirm {
		t.Fatalf("first = %v, want CONFIRM", first)
	}

	now = now.Add(500 * time.Millisecond)
	second := c.Classify("好的", "")
	if second == nil || second.Intent != Ignore {
		t.Fatalf("duplicate within 2s = %v, want IGNORE", second)
	}

	now = now.Add(3 * time.Second)
	third := c.Classify("好的", "")
	if third == nil || third.Intent != Confirm {
		t.Fatalf("repeat after window = %v, want CONFIRM", third)
	}
}

func TestClassifyEchoOfOriginalQuery(t *testing.T) {
	now := time.Now()
	c := newTestClassifier(&now)
	query := "查询北京天气"

	first := c.Classify(query, query)
	if first == nil || first.Intent != Ignore {
		t.Fatalf("fresh echo = %v, want IGNORE", first)
	}

	now = now.Add(3 * time.Second)
	second := c.Classify(query, query)
	if second == nil || second.Intent != Ignore {
		t.Fatalf("echo within 5s = %v, want IGNORE", second)
	}

	now = now.Add(6 * time.Second)
	third := c.Classify(query, query)
	if third == nil || third.Intent != Confirm {
		t.Fatalf("echo after 5s = %v, want CONFIRM", third)
	}
}

func TestClassifyLongUnmatchedText(t *testing.T) {
	now := time.Now()
	c := newTestClassifier(&now)
	res := c.Classify("帮我看看明天上海到杭州的高铁票还有没有余票", "")
	if res == nil || res.Intent != Retry {
		t.Fatalf("long unmatched text = %v, want RETRY", res)
	}
}

func TestClassifyShortUnmatchedDefaultsConfirm(t *testing.T) {
	now := time.Now()
	c := newTestClassifier(&now)
	res := c.Classify("那就这样", "")
	if res == nil || res.Intent != Confirm {
		t.Fatalf("short unmatched text = %v, want CONFIRM", res)
	}
}

func TestClassifySerialized(t *testing.T) {
	now := time.Now()
	c := newTestClassifier(&now)
	c.mu.Lock()
	defer c.mu.Unlock()
	if res := c.Classify("好的", ""); res != nil {
		t.Fatalf("concurrent classify should return nil, got %v", res)
	}
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"  好的, 没问题! ": "好的没问题",
		"OK  Sure":    "oksure",
		"！？。，":        "",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}
