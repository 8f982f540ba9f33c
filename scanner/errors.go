package scanner

import (
	"fmt"
)

// ErrorKind classifies why a session did not complete a request.
type ErrorKind string

const (
	CapabilityNotFound ErrorKind = "capability_not_found"
	DispatchFailure    ErrorKind = "dispatch_failure"
	ResponseError      ErrorKind = "response_error"
	PeerLost           ErrorKind = "peer_lost"
)

// SessionError is attached to skipped and dropped outcomes.
// It never escapes the session it belongs to.
type SessionError struct {
	Kind   ErrorKind
	Peer   string
	Cursor int
	UUID   string
	Err    error
}

func (e *SessionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: peer %s", e.Kind, e.Peer)
	if e.UUID != "" {
		msg += fmt.Sprintf(", request %d (%s)", e.Cursor, e.UUID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SessionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is allows errors.Is to compare SessionError values by Kind
func (e *SessionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*SessionError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is checks
var (
	ErrCapabilityNotFound = &SessionError{Kind: CapabilityNotFound}
	ErrDispatchFailure    = &SessionError{Kind: DispatchFailure}
	ErrResponseError      = &SessionError{Kind: ResponseError}
	ErrPeerLost           = &SessionError{Kind: PeerLost}
)
