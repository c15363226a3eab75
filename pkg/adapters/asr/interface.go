package asr

import "context"

// ErrorKind mirrors the error codes reported by the platform speech
// capture capability.
type ErrorKind string

const (
	ErrNoSpeech     ErrorKind = "no-speech"
	ErrNetwork      ErrorKind = "network"
	ErrNotAllowed   ErrorKind = "not-allowed"
	ErrAudioCapture ErrorKind = "audio-capture"
	ErrAborted      ErrorKind = "aborted"
)

// Transient reports whether the error is worth an automatic restart.
func (k ErrorKind) Transient() bool {
	return k == ErrNoSpeech || k == ErrNetwork
}

// Terminal reports whether the error must be surfaced without retry.
func (k ErrorKind) Terminal() bool {
	return k == ErrNotAllowed || k == ErrAudioCapture
}

// Config describes one recognition cycle.
type Config struct {
	Language        string
	Continuous      bool
	MaxAlternatives int
}

// Handlers receive the capability's lifecycle events. Any of them may be
// nil. Implementations may invoke them from their own goroutines.
type Handlers struct {
	OnStart  func()
	OnResult func(transcript string, confidence float64)
	OnError  func(kind ErrorKind, err error)
	OnEnd    func()
}

// Recognizer models the platform speech-to-text capability: a
// process-wide singleton that runs one recognition cycle at a time.
// Overlapping cycles produce undefined results, so callers serialize
// access through a capture session.
type Recognizer interface {
	Name() string
	// Start begins a recognition cycle. Events arrive via h until OnEnd.
	Start(ctx context.Context, cfg Config, h Handlers) error
	// Stop requests a graceful stop; OnEnd fires when fully stopped.
	Stop() error
	// Abort tears the cycle down immediately; the capability reports it
	// as an aborted error followed by OnEnd.
	Abort() error
}

// PermissionProbe checks that microphone access is obtainable before the
// first capture ever starts.
type PermissionProbe interface {
	CheckMicrophone(ctx context.Context) error
}

// ProbeFunc adapts a plain function to PermissionProbe.
type ProbeFunc func(ctx context.Context) error

func (f ProbeFunc) CheckMicrophone(ctx context.Context) error { return f(ctx) }
