package session

import "fmt"

// Error codes carried on outbound error messages.
const (
	CodeInvalidMessage    = "INVALID_MESSAGE"
	CodeInvalidSession    = "INVALID_SESSION"
	CodeAlreadyActive     = "ALREADY_ACTIVE"
	CodeNotActive         = "NOT_ACTIVE"
	CodeAlreadyPaused     = "ALREADY_PAUSED"
	CodeNotPaused         = "NOT_PAUSED"
	CodeExtendUnavailable = "EXTEND_UNAVAILABLE"
	CodeUpstreamError     = "UPSTREAM_ERROR"
)

// StateError rejects an action that is invalid for the session's current
// state. Always recoverable and delivered only to the offending connection.
type StateError struct {
	Code    string
	Message string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// UpstreamError wraps a failure of the external diarization capability.
// Recoverable by default, but the user may need to restart the session.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("diarization %s failed: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
