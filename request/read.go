package request

// ValueFunc receives a value read from a peer.
type ValueFunc func(peerID string, value []byte)

// readRequest reads a characteristic once.
type readRequest struct {
	descriptor
	onValue ValueFunc
}

// NewRead returns a Request that reads uuid in a single round trip and passes the
// value to onValue. onValue may be nil.
func NewRead(uuid string, onValue ValueFunc) Request {
	return &readRequest{descriptor: newDescriptor(uuid, Read), onValue: onValue}
}

func (r *readRequest) NewExchange() Exchange {
	return &readExchange{req: r}
}

type readExchange struct {
	matcher
	req *readRequest
}

func (e *readExchange) Perform(p Peer) bool {
	if !e.matched() {
		return false
	}
	return p.Read(e.ch, 0) == nil
}

func (e *readExchange) HandleResponse(p Peer, resp Response) bool {
	if resp.Err == nil && e.req.onValue != nil {
		e.req.onValue(p.ID(), resp.Value)
	}
	return true
}

// seriesRead reads a characteristic repeatedly; the peripheral serves the next
// item of a series on every read and an empty value once the series is exhausted.
type seriesRead struct {
	descriptor
	onItem ValueFunc
}

// NewSeriesRead returns a Request that keeps reading uuid, passing every non-empty
// value to onItem, until the peer answers with an empty value.
func NewSeriesRead(uuid string, onItem ValueFunc) Request {
	return &seriesRead{descriptor: newDescriptor(uuid, Read), onItem: onItem}
}

func (r *seriesRead) NewExchange() Exchange {
	return &seriesExchange{req: r}
}

type seriesExchange struct {
	matcher
	req   *seriesRead
	items int
}

func (e *seriesExchange) Perform(p Peer) bool {
	if !e.matched() {
		return false
	}
	return p.Read(e.ch, 0) == nil
}

func (e *seriesExchange) HandleResponse(p Peer, resp Response) bool {
	if resp.Err != nil || len(resp.Value) == 0 {
		return true
	}
	e.items++
	if e.req.onItem != nil {
		e.req.onItem(p.ID(), resp.Value)
	}
	return false
}
