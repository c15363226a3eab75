package oneshot

import (
	"sync"
	"testing"
)

func TestGuardFirstCompletionWins(t *testing.T) {
	g := New()
	if !g.Complete("end") {
		t.Fatalf("first completion should win")
	}
	if g.Complete("error") {
		t.Fatalf("second completion must be discarded")
	}
	if g.Source() != "end" {
		t.Fatalf("expected source end, got %s", g.Source())
	}
	select {
	case <-g.Done():
	default:
		t.Fatalf("done channel should be closed")
	}
}

func TestGuardConcurrentCompletions(t *testing.T) {
	g := New()
	var wg sync.WaitGroup
	wins := make(chan string, 8)
	for _, src := range []string{"end", "error", "watchdog", "cancel"} {
		wg.Add(1)
		go func(src string) {
			defer wg.Done()
			if g.Complete(src) {
				wins <- src
			}
		}(src)
	}
	wg.Wait()
	close(wins)
	count := 0
	for range wins {
		count++
	}
	if count != 1 {
		t.Fatalf("expected exactly one winner, got %d", count)
	}
	if !g.Completed() {
		t.Fatalf("guard should be completed")
	}
}
