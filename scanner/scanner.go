package scanner

import (
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/blemesh/internal/ringchan"
	"github.com/srg/blemesh/request"
)

// Peer is a connected peripheral as seen by the scanner.
type Peer interface {
	request.Peer

	// DiscoverCharacteristic asks the transport to locate uuid on the peer.
	// A match is reported through EventSink.CharacteristicDiscovered.
	DiscoverCharacteristic(uuid string) error
}

// EventSink receives transport events. Scanner implements it.
type EventSink interface {
	PeerDiscovered(p Peer)
	CharacteristicDiscovered(peerID string, ch request.Characteristic)
	ResponseDelivered(peerID string, resp request.Response)
	PeerDisconnected(peerID string)
}

// Scanner executes an ordered queue of requests against every discovered peer.
//
// Each peer gets its own session that walks the queue in order, independent
// of other peers. Events for one peer are processed serially; events for
// different peers run concurrently.
type Scanner struct {
	logger *logrus.Logger
	policy Policy

	queueMu sync.RWMutex
	queue   []request.Request

	sessionsMu sync.Mutex // serializes session creation and removal
	sessions   *hashmap.Map[string, *session]

	outcomesMu sync.RWMutex
	outcomes   *ringchan.RingChannel[Outcome]
	closed     atomic.Bool
}

var _ EventSink = (*Scanner)(nil)

// New creates a Scanner. A nil logger or policy selects the defaults.
func New(logger *logrus.Logger, policy *Policy) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	if policy == nil {
		policy = DefaultPolicy()
	}
	p := *policy
	if p.OutcomeBuffer <= 0 {
		p.OutcomeBuffer = DefaultPolicy().OutcomeBuffer
	}
	if p.MaxDispatchRetries < 0 {
		p.MaxDispatchRetries = 0
	}

	return &Scanner{
		logger:   logger,
		policy:   p,
		sessions: hashmap.New[string, *session](),
		outcomes: ringchan.New[Outcome](p.OutcomeBuffer),
	}
}

// AddRequest appends req to the queue. Requests run in the order they were
// added. A request added while sessions are running applies to every session
// that has not yet passed its position; finished sessions resume with it when
// the policy says so.
func (s *Scanner) AddRequest(req request.Request) {
	if s.closed.Load() {
		return
	}

	s.queueMu.Lock()
	s.queue = append(s.queue, req)
	n := len(s.queue)
	s.queueMu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"uuid":     req.UUID(),
		"kind":     req.Kind(),
		"position": n - 1,
	}).Debug("Request added")

	if !s.policy.ResumeOnAppend {
		return
	}
	s.sessions.Range(func(_ string, sess *session) bool {
		sess.post(sess.resume)
		return true
	})
}

// Requests returns a snapshot of the queue.
func (s *Scanner) Requests() []request.Request {
	s.queueMu.RLock()
	defer s.queueMu.RUnlock()
	return append([]request.Request(nil), s.queue...)
}

func (s *Scanner) requestAt(i int) (request.Request, bool) {
	s.queueMu.RLock()
	defer s.queueMu.RUnlock()
	if i < 0 || i >= len(s.queue) {
		return nil, false
	}
	return s.queue[i], true
}

// PeerDiscovered starts a session for p at the head of the queue.
// A peer that already has a session keeps it.
func (s *Scanner) PeerDiscovered(p Peer) {
	if s.closed.Load() {
		return
	}

	s.sessionsMu.Lock()
	if _, ok := s.sessions.Get(p.ID()); ok {
		s.sessionsMu.Unlock()
		s.logger.WithField("peer", p.ID()).Debug("Peer already has a session")
		return
	}
	sess := newSession(s, p)
	s.sessions.Set(p.ID(), sess)
	s.sessionsMu.Unlock()

	sess.post(sess.start)
}

// CharacteristicDiscovered routes a located characteristic to the peer's session.
func (s *Scanner) CharacteristicDiscovered(peerID string, ch request.Characteristic) {
	if sess, ok := s.lookup(peerID); ok {
		sess.post(func() { sess.characteristicDiscovered(ch) })
	}
}

// ResponseDelivered routes an operation result to the peer's session.
func (s *Scanner) ResponseDelivered(peerID string, resp request.Response) {
	if sess, ok := s.lookup(peerID); ok {
		sess.post(func() { sess.responseDelivered(resp) })
	}
}

// PeerDisconnected destroys the peer's session. An unfinished session is
// reported as dropped.
func (s *Scanner) PeerDisconnected(peerID string) {
	if s.closed.Load() {
		return
	}

	s.sessionsMu.Lock()
	sess, ok := s.sessions.Get(peerID)
	if ok {
		s.sessions.Del(peerID)
	}
	s.sessionsMu.Unlock()
	if !ok {
		return
	}

	sess.post(func() {
		switch sess.state {
		case Finished, Dropped:
			sess.cancel()
		default:
			sess.drop(sess.sessionError(PeerLost, nil))
		}
	})
}

func (s *Scanner) lookup(peerID string) (*session, bool) {
	if s.closed.Load() {
		return nil, false
	}
	sess, ok := s.sessions.Get(peerID)
	if !ok {
		s.logger.WithField("peer", peerID).Debug("Event for unknown peer ignored")
	}
	return sess, ok
}

// Session returns a snapshot of the session of peerID.
func (s *Scanner) Session(peerID string) (SessionInfo, bool) {
	sess, ok := s.sessions.Get(peerID)
	if !ok {
		return SessionInfo{}, false
	}
	return sess.info(), true
}

// Sessions returns snapshots of all live sessions.
func (s *Scanner) Sessions() []SessionInfo {
	infos := make([]SessionInfo, 0, s.sessions.Len())
	s.sessions.Range(func(_ string, sess *session) bool {
		infos = append(infos, sess.info())
		return true
	})
	return infos
}

// Outcomes returns the stream of session outcomes. When the consumer falls
// behind, the oldest outcomes are discarded. The channel is closed by Close.
func (s *Scanner) Outcomes() <-chan Outcome {
	return s.outcomes.C()
}

func (s *Scanner) emit(o Outcome) {
	s.outcomesMu.RLock()
	defer s.outcomesMu.RUnlock()
	if s.closed.Load() {
		return
	}
	if s.outcomes.Send(o) {
		s.logger.WithField("peer", o.Peer).Warn("Outcome buffer full, oldest outcome discarded")
	}
}

// Close cancels every session, ignores further events and closes the
// outcome stream. It is safe to call more than once.
func (s *Scanner) Close() {
	s.outcomesMu.Lock()
	if s.closed.Swap(true) {
		s.outcomesMu.Unlock()
		return
	}
	s.outcomes.Close()
	s.outcomesMu.Unlock()

	s.sessionsMu.Lock()
	var all []*session
	s.sessions.Range(func(id string, sess *session) bool {
		all = append(all, sess)
		return true
	})
	for _, sess := range all {
		s.sessions.Del(sess.peer.ID())
	}
	s.sessionsMu.Unlock()

	for _, sess := range all {
		sess.post(sess.cancel)
	}
	s.logger.WithField("sessions", len(all)).Debug("Scanner closed")
}
