// Package scanner executes an ordered queue of requests against every
// peripheral the transport discovers.
//
// The transport reports four kinds of events through EventSink: a peer was
// discovered, a characteristic was located on a peer, a dispatched operation
// was answered, a peer went away. Each peer gets a session that walks the
// queue strictly in order:
//
//	AwaitingCharacteristic(i) -> Performing(i) -> AwaitingResponse(i)
//	    -> Performing(i) ... -> AwaitingCharacteristic(i+1) | Finished
//
// A session can be Dropped from any state. Failures stay local to their
// session and are reported as Outcome events, governed by Policy.
package scanner
