package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonCaptureTransient  ReasonCode = "capture_transient"
	ReasonCaptureTerminal   ReasonCode = "capture_terminal"
	ReasonCapturePermission ReasonCode = "capture_permission"
	ReasonCaptureExhausted  ReasonCode = "capture_retry_exhausted"
	ReasonCaptureStopForced ReasonCode = "capture_stop_forced"

	ReasonSynthesisStart   ReasonCode = "synthesis_start"
	ReasonSynthesisTimeout ReasonCode = "synthesis_timeout"

	ReasonConfirmationTimeout ReasonCode = "confirmation_timeout"

	ReasonInterpret     ReasonCode = "interpret_failed"
	ReasonExecute       ReasonCode = "execute_failed"
	ReasonServiceDecode ReasonCode = "service_decode"
	ReasonRateLimit     ReasonCode = "service_rate_limit"
	ReasonCircuitOpen   ReasonCode = "service_circuit_open"
)
