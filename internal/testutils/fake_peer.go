package testutils

import (
	"errors"
	"sync"

	"github.com/srg/blemesh/request"
)

// Operations recorded by FakePeer.
const (
	OpDiscover = "discover"
	OpRead     = "read"
	OpWrite    = "write"
)

// ErrDispatchRejected is returned by FakePeer for rejected dispatches.
var ErrDispatchRejected = errors.New("dispatch rejected")

// Characteristic is a characteristic handle identified by its UUID only.
type Characteristic string

func (c Characteristic) UUID() string { return string(c) }

// Call is one operation a FakePeer was asked to perform.
type Call struct {
	Op     string
	UUID   string
	Offset int
	Data   []byte
}

// FakePeer records every operation dispatched to it. Nothing is answered
// automatically; tests deliver responses through the scanner.
type FakePeer struct {
	id string

	mu           sync.Mutex
	calls        []Call
	rejects      map[string]int
	discoverErrs map[string]error
}

// NewFakePeer creates a FakePeer with the given ID.
func NewFakePeer(id string) *FakePeer {
	return &FakePeer{
		id:           id,
		rejects:      make(map[string]int),
		discoverErrs: make(map[string]error),
	}
}

// RejectDispatch makes the next n reads or writes of uuid fail.
// A negative n rejects every dispatch.
func (p *FakePeer) RejectDispatch(uuid string, n int) *FakePeer {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejects[request.NormalizeUUID(uuid)] = n
	return p
}

// FailDiscovery makes DiscoverCharacteristic(uuid) return err.
func (p *FakePeer) FailDiscovery(uuid string, err error) *FakePeer {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.discoverErrs[request.NormalizeUUID(uuid)] = err
	return p
}

func (p *FakePeer) ID() string { return p.id }

func (p *FakePeer) DiscoverCharacteristic(uuid string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, Call{Op: OpDiscover, UUID: uuid})
	return p.discoverErrs[request.NormalizeUUID(uuid)]
}

func (p *FakePeer) Read(ch request.Characteristic, offset int) error {
	return p.dispatch(Call{Op: OpRead, UUID: ch.UUID(), Offset: offset})
}

func (p *FakePeer) Write(ch request.Characteristic, data []byte, offset int) error {
	return p.dispatch(Call{Op: OpWrite, UUID: ch.UUID(), Offset: offset, Data: append([]byte(nil), data...)})
}

func (p *FakePeer) dispatch(c Call) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, c)

	key := request.NormalizeUUID(c.UUID)
	switch n := p.rejects[key]; {
	case n < 0:
		return ErrDispatchRejected
	case n > 0:
		p.rejects[key] = n - 1
		return ErrDispatchRejected
	}
	return nil
}

// Calls returns every recorded call in order.
func (p *FakePeer) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// CallsOf returns the recorded calls of one operation.
func (p *FakePeer) CallsOf(op string) []Call {
	var out []Call
	for _, c := range p.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Ops returns the operation sequence as "op:uuid" strings.
func (p *FakePeer) Ops() []string {
	var out []string
	for _, c := range p.Calls() {
		out = append(out, c.Op+":"+c.UUID)
	}
	return out
}
