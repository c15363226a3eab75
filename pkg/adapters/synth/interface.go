package synth

// Voice describes one voice offered by the synthesis capability.
type Voice struct {
	Name    string
	Lang    string
	Engine  string
	Default bool
}

// Utterance is one request to synthesize speech.
type Utterance struct {
	Text  string
	Lang  string
	Voice string
	Rate  float64
	Pitch float64
}

// Callbacks receive the capability's playback events. Implementations
// may deliver duplicate or missing events; callers guard completion
// themselves.
type Callbacks struct {
	OnStart func()
	OnEnd   func()
	OnError func(err error)
}

// Synthesizer models the platform speech synthesis capability: a
// process-wide singleton playing at most one utterance at a time.
// Cancel is not guaranteed to take effect synchronously.
type Synthesizer interface {
	Name() string
	Speak(u Utterance, cb Callbacks) error
	Cancel()
	// Speaking reflects the capability's own notion of activity, which
	// can diverge from the caller's bookkeeping.
	Speaking() bool
	// Voices returns the voice list; it may be empty until the
	// capability finishes loading it asynchronously.
	Voices() []Voice
}
