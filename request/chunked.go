package request

const (
	// DefaultChunkSize matches the ATT payload of the default 23-byte MTU.
	DefaultChunkSize = 20

	// MaxChunkedLength bounds the data a chunked read assembles from one peer.
	MaxChunkedLength = 1 << 20
)

// chunkedRead reads a value larger than one ATT payload by requesting
// successive offsets.
type chunkedRead struct {
	descriptor
	chunkSize  int
	onComplete ValueFunc
}

// NewChunkedRead returns a Request that reads uuid at offsets 0, chunkSize,
// 2*chunkSize... until a chunk shorter than chunkSize arrives, then passes the
// assembled value to onComplete. A chunkSize <= 0 selects DefaultChunkSize.
func NewChunkedRead(uuid string, chunkSize int, onComplete ValueFunc) Request {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &chunkedRead{
		descriptor: newDescriptor(uuid, Read),
		chunkSize:  chunkSize,
		onComplete: onComplete,
	}
}

// ChunkSize returns the expected size of every non-final chunk.
func (r *chunkedRead) ChunkSize() int {
	return r.chunkSize
}

func (r *chunkedRead) NewExchange() Exchange {
	return &chunkedReadExchange{req: r}
}

type chunkedReadExchange struct {
	matcher
	req    *chunkedRead
	offset int
	data   []byte
}

func (e *chunkedReadExchange) Perform(p Peer) bool {
	if !e.matched() {
		return false
	}
	return p.Read(e.ch, e.offset) == nil
}

func (e *chunkedReadExchange) HandleResponse(p Peer, resp Response) bool {
	if resp.Err != nil {
		return true
	}
	// a stale answer for another offset: ask for the current one again
	if resp.Offset != e.offset {
		return false
	}

	e.data = append(e.data, resp.Value...)
	e.offset += len(resp.Value)

	if len(resp.Value) < e.req.chunkSize || len(e.data) >= MaxChunkedLength {
		if e.req.onComplete != nil {
			e.req.onComplete(p.ID(), e.data)
		}
		return true
	}
	return false
}
