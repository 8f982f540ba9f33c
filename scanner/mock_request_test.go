package scanner_test

import (
	"github.com/srg/blemesh/request"
	"github.com/stretchr/testify/mock"
)

// mockRequest hands out the same mockExchange for every peer, so tests can
// assert the exact callback sequence of a single session.
type mockRequest struct {
	uuid     string
	kind     request.Kind
	exchange *mockExchange
	critical bool
}

func (r *mockRequest) UUID() string                  { return r.uuid }
func (r *mockRequest) Kind() request.Kind            { return r.kind }
func (r *mockRequest) NewExchange() request.Exchange { return r.exchange }
func (r *mockRequest) AbortsSessionOnError() bool    { return r.critical }

type mockExchange struct {
	mock.Mock
}

func (m *mockExchange) CharacteristicMatched(ch request.Characteristic) {
	m.Called(ch)
}

func (m *mockExchange) Perform(p request.Peer) bool {
	return m.Called(p).Bool(0)
}

func (m *mockExchange) HandleResponse(p request.Peer, resp request.Response) bool {
	return m.Called(p, resp).Bool(0)
}

// methodNames returns the names of the recorded calls in order.
func (m *mockExchange) methodNames() []string {
	names := make([]string, 0, len(m.Calls))
	for _, c := range m.Calls {
		names = append(names, c.Method)
	}
	return names
}
