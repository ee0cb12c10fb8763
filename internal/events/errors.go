package events

import "fmt"

// ErrorKind classifies stream failures so callers can branch on the cause
// without string matching.
type ErrorKind int

const (
	// KindTransport covers network and socket failures, retried per the
	// recovery policy.
	KindTransport ErrorKind = iota
	// KindParse covers malformed payloads, degraded to literal text.
	KindParse
	// KindServerReported covers explicit error envelopes from the server.
	KindServerReported
	// KindTimeout covers watchdog-triggered force finalization.
	KindTimeout
	// KindRecoveryExhausted covers resume attempts that all failed.
	KindRecoveryExhausted
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindParse:
		return "parse"
	case KindServerReported:
		return "server"
	case KindTimeout:
		return "timeout"
	case KindRecoveryExhausted:
		return "recovery_exhausted"
	default:
		return "unknown"
	}
}

// StreamError is the typed error surfaced by the streaming core. Failures
// are recorded, never thrown past the normalization boundary.
type StreamError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *StreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// NewStreamError builds a StreamError wrapping an optional cause.
func NewStreamError(kind ErrorKind, message string, err error) *StreamError {
	return &StreamError{Kind: kind, Message: message, Err: err}
}
