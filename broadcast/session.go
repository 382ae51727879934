package broadcast

import (
	"sync"
	"time"
)

// subscriberBuffer is the per-subscriber channel capacity. A subscriber
// that falls this far behind starts dropping messages rather than
// slowing the run down.
const subscriberBuffer = 64

// Session multiplexes one run's messages to its observers.
//
// Publish never blocks: slow subscribers drop messages. There is no
// replay; an observer sees only messages published while attached. A
// terminal message (completed or error) closes the session after it is
// delivered.
type Session struct {
	runID string

	mu        sync.Mutex
	subs      map[*Subscriber]bool
	closed    bool
	published bool
}

// Subscriber receives a session's messages on C.
type Subscriber struct {
	// C delivers messages in publish order. Closed when the session
	// ends or the subscriber is removed.
	C chan Message
}

// NewSession creates a session for the given run.
func NewSession(runID string) *Session {
	return &Session{
		runID: runID,
		subs:  make(map[*Subscriber]bool),
	}
}

// RunID returns the run this session belongs to.
func (s *Session) RunID() string {
	return s.runID
}

// Subscribe attaches a new observer. If the session already ended, the
// returned subscriber's channel is closed immediately.
func (s *Session) Subscribe() *Subscriber {
	sub := &Subscriber{C: make(chan Message, subscriberBuffer)}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		close(sub.C)
		return sub
	}
	s.subs[sub] = true
	return sub
}

// Unsubscribe detaches an observer and closes its channel.
func (s *Session) Unsubscribe(sub *Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs[sub] {
		delete(s.subs, sub)
		close(sub.C)
	}
}

// Publish delivers a message to every subscriber without blocking.
// Publishing a terminal message also closes the session.
func (s *Session) Publish(msg Message) {
	msg.RunID = s.runID
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.published = true
	for sub := range s.subs {
		select {
		case sub.C <- msg:
		default:
			// Subscriber fell behind, drop this message for it.
		}
	}
	if msg.Terminal() {
		s.closeLocked()
	}
}

// Closed reports whether the session has ended.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Empty reports whether the session has no subscribers.
func (s *Session) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs) == 0
}

// evictable reports whether a registry may drop the session: nobody is
// subscribed and it has either ended or never carried a message.
func (s *Session) evictable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs) == 0 && (s.closed || !s.published)
}

func (s *Session) closeLocked() {
	s.closed = true
	for sub := range s.subs {
		delete(s.subs, sub)
		close(sub.C)
	}
}
