package request

import (
	"fmt"
)

// Kind is the operation a Request performs on its characteristic.
type Kind int

const (
	Read Kind = iota
	Write
)

func (k Kind) String() string {
	switch k {
	case Read:
		return "read"
	case Write:
		return "write"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Characteristic is the transport handle of a characteristic located on a peer.
type Characteristic interface {
	UUID() string
}

// Peer is the remote side an Exchange dispatches operations to.
//
// Read and Write only hand the operation to the transport. A nil error means the
// operation was dispatched; its result arrives later as a Response.
type Peer interface {
	ID() string
	Read(ch Characteristic, offset int) error
	Write(ch Characteristic, data []byte, offset int) error
}

// Response is the transport's answer to a dispatched operation.
type Response struct {
	UUID   string
	Value  []byte
	Offset int
	Err    error
}

// Request is an immutable description of one queued unit of work.
// The same Request is shared by every peer session that reaches it; all per-peer
// state lives in the Exchange returned by NewExchange.
type Request interface {
	UUID() string
	Kind() Kind
	NewExchange() Exchange
}

// Exchange is the per-(peer, queue position) progress of a Request.
//
// CharacteristicMatched is always called before Perform. When HandleResponse
// returns false, Perform is called again to issue the next step.
type Exchange interface {
	CharacteristicMatched(ch Characteristic)
	Perform(p Peer) bool
	HandleResponse(p Peer, resp Response) bool
}

// SessionCritical is implemented by requests whose failure aborts the whole
// peer session instead of only skipping the request.
type SessionCritical interface {
	AbortsSessionOnError() bool
}

// IsSessionCritical reports whether a failed req must drop the session.
func IsSessionCritical(req Request) bool {
	c, ok := req.(SessionCritical)
	return ok && c.AbortsSessionOnError()
}

type critical struct {
	Request
}

func (critical) AbortsSessionOnError() bool { return true }

// Critical marks req as session critical.
func Critical(req Request) Request {
	return critical{Request: req}
}

// descriptor holds the identity shared by all concrete requests.
type descriptor struct {
	uuid string
	kind Kind
}

func newDescriptor(uuid string, kind Kind) descriptor {
	return descriptor{uuid: MustParse(uuid), kind: kind}
}

func (d descriptor) UUID() string { return d.uuid }
func (d descriptor) Kind() Kind   { return d.kind }

// matcher remembers the characteristic handle located for an exchange.
type matcher struct {
	ch Characteristic
}

func (m *matcher) CharacteristicMatched(ch Characteristic) {
	m.ch = ch
}

func (m *matcher) matched() bool {
	return m.ch != nil
}
