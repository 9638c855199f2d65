package bus

import (
	"sync"

	"github.com/covey-team/covey/pkg/models"
)

// Subscriber is one registered consumer of execution events. Events arrive
// on the channel returned by Events in publish order for any fixed
// execution id. A subscriber closed while a reader is blocked wakes the
// reader with channel close (end of stream).
type Subscriber struct {
	id          string
	executionID string // empty means global: matches every execution
	ch          chan *models.ExecutionEvent
	onClose     func(id string)

	mu      sync.Mutex
	closed  bool
	dropped int64
}

// ID returns the subscriber's unique id.
func (s *Subscriber) ID() string {
	return s.id
}

// ExecutionID returns the subscriber's filter; empty means global.
func (s *Subscriber) ExecutionID() string {
	return s.executionID
}

// Events returns the delivery channel. The channel is closed on Close and
// on bus shutdown; buffered events remain readable until drained.
func (s *Subscriber) Events() <-chan *models.ExecutionEvent {
	return s.ch
}

// Dropped returns how many events were dropped because this subscriber's
// queue was full.
func (s *Subscriber) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close unregisters the subscriber and closes its queue. Idempotent.
func (s *Subscriber) Close() {
	if s.onClose != nil {
		s.onClose(s.id)
	}
	s.close()
}

func (s *Subscriber) matches(executionID string) bool {
	return s.executionID == "" || s.executionID == executionID
}

// push enqueues an event without blocking. When the queue is full the
// oldest queued event is dropped so the publisher never stalls on a slow
// consumer. Returns the number of events dropped by this call.
func (s *Subscriber) push(evt *models.ExecutionEvent) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0
	}

	var droppedNow int64
	for {
		select {
		case s.ch <- evt:
			return droppedNow
		default:
		}
		select {
		case <-s.ch:
			s.dropped++
			droppedNow++
		default:
		}
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
