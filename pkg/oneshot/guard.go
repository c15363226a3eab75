package oneshot

import "sync"

// Guard delivers exactly one completion per unit of work. The underlying
// platform capabilities can fire any combination of success, error and
// end events for the same operation; the first call to Complete wins and
// every later call is discarded.
type Guard struct {
	mu     sync.Mutex
	done   bool
	source string
	ch     chan struct{}
}

func New() *Guard {
	return &Guard{ch: make(chan struct{})}
}

// Complete settles the guard with the winning source label. It returns
// true only for the first caller.
func (g *Guard) Complete(source string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.done {
		return false
	}
	g.done = true
	g.source = source
	close(g.ch)
	return true
}

// Done returns a channel closed once the guard has settled.
func (g *Guard) Done() <-chan struct{} {
	return g.ch
}

// Completed reports whether the guard has settled.
func (g *Guard) Completed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.done
}

// Source returns the label of the event that settled the guard.
func (g *Guard) Source() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.source
}
