package scanner

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/blemesh/internal/device"
	"github.com/srg/blemesh/request"
)

// session drives one peer through the request queue.
//
// Every event for the peer is posted to the session and executed one at a time,
// in arrival order, by whichever goroutine finds the session idle. Events posted
// while a step is running (including from inside an Exchange or a Peer call)
// run after that step completes.
type session struct {
	id      string
	peer    Peer
	scanner *Scanner
	logger  *logrus.Entry

	// executor
	mu       sync.Mutex
	pending  []func()
	draining bool
	snapshot SessionInfo

	// owned by the executor
	state     State
	cursor    int
	req       request.Request
	exch      request.Exchange
	matched   bool
	retries   int
	gen       uint64
	timer     *time.Timer
	completed int
	skipped   int
}

func newSession(s *Scanner, p Peer) *session {
	id := uuid.NewString()
	return &session{
		id:      id,
		peer:    p,
		scanner: s,
		logger: s.logger.WithFields(logrus.Fields{
			"peer":    p.ID(),
			"session": id,
		}),
		snapshot: SessionInfo{ID: id, Peer: p.ID()},
	}
}

// post queues fn and drains the queue unless another goroutine already does.
func (s *session) post(fn func()) {
	s.mu.Lock()
	s.pending = append(s.pending, fn)
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	for len(s.pending) > 0 {
		next := s.pending[0]
		s.pending[0] = nil
		s.pending = s.pending[1:]
		s.mu.Unlock()
		next()
		s.mu.Lock()
	}
	s.draining = false
	s.mu.Unlock()
}

func (s *session) info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

func (s *session) publish() {
	info := SessionInfo{
		ID:        s.id,
		Peer:      s.peer.ID(),
		State:     s.state,
		Cursor:    s.cursor,
		Completed: s.completed,
		Skipped:   s.skipped,
	}
	if s.req != nil {
		info.UUID = s.req.UUID()
	}
	s.mu.Lock()
	s.snapshot = info
	s.mu.Unlock()
}

// transition moves to state, invalidating every timer armed before.
func (s *session) transition(state State) {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.state != state {
		s.logger.WithFields(logrus.Fields{
			"cursor": s.cursor,
			"from":   s.state,
			"to":     state,
		}).Debug("Session state change")
	}
	s.state = state
	s.publish()
}

// arm runs fn after d unless the session moved on in the meantime.
func (s *session) arm(d time.Duration, fn func()) {
	if d <= 0 {
		return
	}
	gen := s.gen
	s.timer = time.AfterFunc(d, func() {
		s.post(func() {
			if s.gen != gen || s.state.Terminal() {
				return
			}
			fn()
		})
	})
}

func (s *session) start() {
	s.logger.Info("Starting peer session")
	s.enter(0)
}

// enter makes the request at cursor i active and starts looking for its
// characteristic, or finishes the session past the end of the queue.
func (s *session) enter(i int) {
	s.cursor = i
	req, ok := s.scanner.requestAt(i)
	if !ok {
		s.finish()
		return
	}

	s.req = req
	s.exch = req.NewExchange()
	s.matched = false
	s.retries = 0
	s.transition(AwaitingCharacteristic)

	log := s.logger.WithFields(logrus.Fields{
		"cursor": i,
		"uuid":   req.UUID(),
		"kind":   req.Kind(),
	})
	log.Debug("Discovering characteristic")

	if err := s.peer.DiscoverCharacteristic(req.UUID()); err != nil {
		log.WithError(err).Warn("Characteristic discovery could not be started")
		s.unavailable(CapabilityNotFound, err)
		return
	}

	s.arm(s.scanner.policy.DiscoveryTimeout, func() {
		s.unavailable(CapabilityNotFound, fmt.Errorf("%w: characteristic not discovered within %v",
			device.ErrTimeout, s.scanner.policy.DiscoveryTimeout))
	})
}

func (s *session) characteristicDiscovered(ch request.Characteristic) {
	if s.state != AwaitingCharacteristic || !request.SameUUID(ch.UUID(), s.req.UUID()) {
		s.logger.WithFields(logrus.Fields{
			"uuid":  ch.UUID(),
			"state": s.state,
		}).Debug("Ignoring characteristic")
		return
	}

	s.exch.CharacteristicMatched(ch)
	s.matched = true
	s.perform()
}

// perform dispatches the next step of the active exchange, retrying with
// backoff while the exchange reports it could not dispatch.
func (s *session) perform() {
	s.transition(Performing)

	if s.matched && s.exch.Perform(s.peer) {
		s.transition(AwaitingResponse)
		s.arm(s.scanner.policy.ResponseTimeout, func() {
			s.failed(fmt.Errorf("%w: no response within %v", device.ErrTimeout, s.scanner.policy.ResponseTimeout))
		})
		return
	}

	policy := s.scanner.policy
	if s.retries >= policy.MaxDispatchRetries {
		s.unavailable(DispatchFailure, fmt.Errorf("dispatch failed %d times", s.retries+1))
		return
	}

	delay := policy.Backoff(s.retries)
	s.retries++
	s.logger.WithFields(logrus.Fields{
		"cursor":  s.cursor,
		"uuid":    s.req.UUID(),
		"attempt": s.retries,
		"backoff": delay,
	}).Debug("Dispatch failed, retrying")

	if delay <= 0 {
		gen := s.gen
		s.post(func() {
			if s.gen == gen && s.state == Performing {
				s.perform()
			}
		})
		return
	}
	s.arm(delay, s.perform)
}

func (s *session) responseDelivered(resp request.Response) {
	if s.state != AwaitingResponse || !request.SameUUID(resp.UUID, s.req.UUID()) {
		s.logger.WithFields(logrus.Fields{
			"uuid":  resp.UUID,
			"state": s.state,
		}).Debug("Ignoring unexpected response")
		return
	}

	done := s.exch.HandleResponse(s.peer, resp)
	if resp.Err != nil {
		s.failed(resp.Err)
		return
	}
	if !done {
		s.retries = 0
		s.perform()
		return
	}

	s.completed++
	s.logger.WithFields(logrus.Fields{
		"cursor": s.cursor,
		"uuid":   s.req.UUID(),
	}).Debug("Request completed")
	s.scanner.emit(s.outcome(OutcomeCompleted, nil))
	s.enter(s.cursor + 1)
}

// failed handles an error answer (or a missing one) to a dispatched operation.
func (s *session) failed(err error) {
	serr := s.sessionError(ResponseError, err)
	if request.IsSessionCritical(s.req) {
		s.drop(serr)
		return
	}
	s.skip(serr)
}

// unavailable handles a request that can not be carried out on this peer.
func (s *session) unavailable(kind ErrorKind, err error) {
	serr := s.sessionError(kind, err)
	if s.scanner.policy.OnMissing == ActionDrop {
		s.drop(serr)
		return
	}
	s.skip(serr)
}

func (s *session) skip(serr *SessionError) {
	s.skipped++
	s.logger.WithError(serr).Warn("Skipping request")
	s.scanner.emit(s.outcome(OutcomeSkipped, serr))
	s.enter(s.cursor + 1)
}

func (s *session) finish() {
	s.req = nil
	s.exch = nil
	s.matched = false
	s.transition(Finished)
	s.logger.WithFields(logrus.Fields{
		"completed": s.completed,
		"skipped":   s.skipped,
	}).Info("Peer session finished")
	s.scanner.emit(s.outcome(OutcomeFinished, nil))
}

// resume continues a finished session with requests appended since.
func (s *session) resume() {
	if s.state != Finished {
		return
	}
	if _, ok := s.scanner.requestAt(s.cursor); !ok {
		return
	}
	s.logger.WithField("cursor", s.cursor).Debug("Resuming finished session")
	s.enter(s.cursor)
}

func (s *session) drop(serr *SessionError) {
	if s.state == Dropped {
		return
	}
	out := s.outcome(OutcomeDropped, serr)
	s.exch = nil
	s.matched = false
	s.transition(Dropped)
	s.logger.WithError(serr).Warn("Peer session dropped")
	s.scanner.emit(out)
}

// cancel stops the session without reporting anything.
func (s *session) cancel() {
	s.exch = nil
	s.matched = false
	s.transition(Dropped)
}

func (s *session) sessionError(kind ErrorKind, err error) *SessionError {
	serr := &SessionError{Kind: kind, Peer: s.peer.ID(), Cursor: s.cursor, Err: err}
	if s.req != nil {
		serr.UUID = s.req.UUID()
	}
	return serr
}

func (s *session) outcome(kind OutcomeKind, serr *SessionError) Outcome {
	o := Outcome{
		Kind:      kind,
		Peer:      s.peer.ID(),
		SessionID: s.id,
		Cursor:    s.cursor,
	}
	if s.req != nil {
		o.UUID = s.req.UUID()
	}
	if serr != nil {
		o.Err = serr
	}
	return o
}
