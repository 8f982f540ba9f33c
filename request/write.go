package request

// PayloadFunc produces the data written to a given peer.
type PayloadFunc func(peerID string) []byte

// StaticPayload writes the same data to every peer.
func StaticPayload(data []byte) PayloadFunc {
	return func(string) []byte { return data }
}

// writeRequest writes a characteristic once, with response.
type writeRequest struct {
	descriptor
	payload PayloadFunc
}

// NewWrite returns a Request that writes payload(peerID) to uuid in one round trip.
func NewWrite(uuid string, payload PayloadFunc) Request {
	return &writeRequest{descriptor: newDescriptor(uuid, Write), payload: payload}
}

func (r *writeRequest) NewExchange() Exchange {
	return &writeExchange{req: r}
}

type writeExchange struct {
	matcher
	req  *writeRequest
	data []byte
	set  bool
}

func (e *writeExchange) Perform(p Peer) bool {
	if !e.matched() {
		return false
	}
	if !e.set {
		e.data = resolvePayload(e.req.payload, p.ID())
		e.set = true
	}
	return p.Write(e.ch, e.data, 0) == nil
}

func (e *writeExchange) HandleResponse(Peer, Response) bool {
	return true
}

// chunkedWrite splits a payload into chunkSize writes acknowledged one by one.
type chunkedWrite struct {
	descriptor
	chunkSize int
	payload   PayloadFunc
}

// NewChunkedWrite returns a Request writing payload(peerID) to uuid in chunks of
// chunkSize bytes, one acknowledged write per chunk. A chunkSize <= 0 selects
// DefaultChunkSize.
func NewChunkedWrite(uuid string, chunkSize int, payload PayloadFunc) Request {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &chunkedWrite{
		descriptor: newDescriptor(uuid, Write),
		chunkSize:  chunkSize,
		payload:    payload,
	}
}

func (r *chunkedWrite) NewExchange() Exchange {
	return &chunkedWriteExchange{req: r}
}

type chunkedWriteExchange struct {
	matcher
	req    *chunkedWrite
	data   []byte
	set    bool
	offset int
	sent   int
}

func (e *chunkedWriteExchange) Perform(p Peer) bool {
	if !e.matched() {
		return false
	}
	if !e.set {
		e.data = resolvePayload(e.req.payload, p.ID())
		e.set = true
	}

	end := min(e.offset+e.req.chunkSize, len(e.data))
	if err := p.Write(e.ch, e.data[e.offset:end], e.offset); err != nil {
		return false
	}
	e.sent = end - e.offset
	return true
}

func (e *chunkedWriteExchange) HandleResponse(_ Peer, resp Response) bool {
	if resp.Err != nil {
		return true
	}
	e.offset += e.sent
	e.sent = 0
	return e.offset >= len(e.data)
}

func resolvePayload(payload PayloadFunc, peerID string) []byte {
	if payload == nil {
		return nil
	}
	return payload(peerID)
}
