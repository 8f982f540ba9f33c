package scanner

import "fmt"

// State is the position of a peer session in its state machine.
type State int

const (
	AwaitingCharacteristic State = iota
	Performing
	AwaitingResponse
	Finished
	Dropped
)

func (s State) String() string {
	switch s {
	case AwaitingCharacteristic:
		return "awaiting_characteristic"
	case Performing:
		return "performing"
	case AwaitingResponse:
		return "awaiting_response"
	case Finished:
		return "finished"
	case Dropped:
		return "dropped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further request is issued in this state.
// A finished session may still resume when requests are appended.
func (s State) Terminal() bool {
	return s == Finished || s == Dropped
}

// OutcomeKind marks what an Outcome reports.
type OutcomeKind int

const (
	// OutcomeCompleted: the request at Cursor completed for Peer.
	OutcomeCompleted OutcomeKind = iota
	// OutcomeSkipped: the request at Cursor was abandoned for Peer; Err says why.
	OutcomeSkipped
	// OutcomeFinished: Peer went through the whole queue.
	OutcomeFinished
	// OutcomeDropped: the session of Peer was dropped; Err says why.
	OutcomeDropped
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeCompleted:
		return "completed"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFinished:
		return "finished"
	case OutcomeDropped:
		return "dropped"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is an observable session event.
type Outcome struct {
	Kind      OutcomeKind
	Peer      string
	SessionID string
	Cursor    int
	UUID      string
	Err       error
}

// SessionInfo is a snapshot of one peer session.
type SessionInfo struct {
	ID        string
	Peer      string
	State     State
	Cursor    int
	UUID      string
	Completed int
	Skipped   int
}
