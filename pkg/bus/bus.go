// Package bus provides the in-process pub/sub substrate for execution
// events. Every published event lands in a per-execution ring buffer and is
// fanned out to matching subscribers; late subscribers receive the buffered
// events first, in publish order, before any live event.
package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/covey-team/covey/pkg/metrics"
	"github.com/covey-team/covey/pkg/models"
)

// ErrTooManySubscribers is returned when the global subscriber cap is hit.
// Admission is strict: there is no queuing of subscriptions.
var ErrTooManySubscribers = errors.New("too many subscribers")

// Defaults for Config fields.
const (
	DefaultMaxSubscribers  = 100
	DefaultBufferSize      = 1000
	DefaultQueueSize       = 256
	DefaultCleanupInterval = 1 * time.Minute
	DefaultMaxEventAge     = 1 * time.Hour
)

// Config bounds the bus.
type Config struct {
	// MaxSubscribers caps concurrent subscribers across all executions.
	MaxSubscribers int `yaml:"max_subscribers"`
	// BufferSize caps the per-execution ring buffer; the oldest event is
	// evicted when full.
	BufferSize int `yaml:"buffer_size"`
	// QueueSize caps each subscriber's delivery queue.
	QueueSize int `yaml:"queue_size"`
	// CleanupInterval is the cadence of the buffer janitor.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	// MaxEventAge is the ceiling on buffered event age; older events are
	// lazily evicted by the janitor.
	MaxEventAge time.Duration `yaml:"max_event_age"`
}

// withDefaults fills zero fields.
func (c Config) withDefaults() Config {
	if c.MaxSubscribers <= 0 {
		c.MaxSubscribers = DefaultMaxSubscribers
	}
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = DefaultCleanupInterval
	}
	if c.MaxEventAge <= 0 {
		c.MaxEventAge = DefaultMaxEventAge
	}
	return c
}

// Stats is a point-in-time snapshot of bus activity.
type Stats struct {
	ActiveSubscribers  int   `json:"active_subscribers"`
	BufferedExecutions int   `json:"buffered_executions"`
	EventsPublished    int64 `json:"events_published"`
	EventsDropped      int64 `json:"events_dropped"`
}

// Bus is the event hub. One instance per process.
type Bus struct {
	cfg Config

	mu          sync.Mutex
	buffers     map[string]*ringBuffer
	subscribers map[string]*Subscriber
	published   int64
	dropped     int64

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Bus with the given configuration.
func New(cfg Config) *Bus {
	return &Bus{
		cfg:         cfg.withDefaults(),
		buffers:     make(map[string]*ringBuffer),
		subscribers: make(map[string]*Subscriber),
		stopCh:      make(chan struct{}),
	}
}

// Start launches the buffer janitor. ctx cancellation also stops it.
func (b *Bus) Start(ctx context.Context) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(b.cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				b.evictExpired()
			case <-ctx.Done():
				return
			case <-b.stopCh:
				return
			}
		}
	}()
}

// Stop halts the janitor and closes all subscribers.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
	b.wg.Wait()

	b.mu.Lock()
	subs := make([]*Subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.subscribers = make(map[string]*Subscriber)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	metrics.BusSubscribers.Set(0)
}

// Publish buffers the event for its execution and delivers a copy to every
// matching subscriber. It never blocks on a slow subscriber: a full
// subscriber queue drops that subscriber's oldest queued event.
func (b *Bus) Publish(event *models.ExecutionEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	buf, ok := b.buffers[event.ExecutionID]
	if !ok {
		buf = newRingBuffer(b.cfg.BufferSize)
		b.buffers[event.ExecutionID] = buf
	}
	buf.append(event.Clone())
	b.published++
	metrics.BusEventsPublished.Inc()

	for _, sub := range b.subscribers {
		if sub.matches(event.ExecutionID) {
			if dropped := sub.push(event.Clone()); dropped > 0 {
				b.dropped += dropped
				metrics.BusEventsDropped.Add(float64(dropped))
			}
		}
	}
	return nil
}

// Subscribe registers a subscriber for one execution id, or for all
// executions when executionID is empty. Buffered events for the filter are
// replayed into the queue, in publish order, before any live delivery.
func (b *Bus) Subscribe(executionID string) (*Subscriber, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.subscribers) >= b.cfg.MaxSubscribers {
		return nil, ErrTooManySubscribers
	}

	sub := &Subscriber{
		id:          uuid.New().String(),
		executionID: executionID,
		ch:          make(chan *models.ExecutionEvent, b.cfg.QueueSize),
		onClose:     b.remove,
	}

	// Replay before registration so live fan-out can never interleave
	// ahead of the backlog.
	if executionID != "" {
		if buf, ok := b.buffers[executionID]; ok {
			for _, evt := range buf.snapshot() {
				sub.push(evt.Clone())
			}
		}
	} else {
		for _, evt := range b.globalSnapshot() {
			sub.push(evt.Clone())
		}
	}

	b.subscribers[sub.id] = sub
	metrics.BusSubscribers.Set(float64(len(b.subscribers)))
	return sub, nil
}

// BufferedEvents returns a copy of the current buffer for an execution.
func (b *Bus) BufferedEvents(executionID string) []*models.ExecutionEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	buf, ok := b.buffers[executionID]
	if !ok {
		return nil
	}
	events := buf.snapshot()
	out := make([]*models.ExecutionEvent, len(events))
	for i, evt := range events {
		out[i] = evt.Clone()
	}
	return out
}

// DropBuffer discards the buffered events for an execution.
func (b *Bus) DropBuffer(executionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.buffers, executionID)
}

// Stats returns a snapshot of bus activity.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Stats{
		ActiveSubscribers:  len(b.subscribers),
		BufferedExecutions: len(b.buffers),
		EventsPublished:    b.published,
		EventsDropped:      b.dropped,
	}
}

// remove unregisters a subscriber. Called from Subscriber.Close; idempotent.
func (b *Bus) remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		metrics.BusSubscribers.Set(float64(len(b.subscribers)))
	}
}

// globalSnapshot merges all buffers ordered by timestamp for the global
// filter. Within one execution the buffer order is preserved.
func (b *Bus) globalSnapshot() []*models.ExecutionEvent {
	var all []*models.ExecutionEvent
	for _, buf := range b.buffers {
		all = append(all, buf.snapshot()...)
	}
	// Stable insertion sort on timestamp: buffers are small and already
	// ordered, so this stays cheap.
	for i := 1; i < len(all); i++ {
		for j := i; j > 0 && all[j].Timestamp.Before(all[j-1].Timestamp); j-- {
			all[j], all[j-1] = all[j-1], all[j]
		}
	}
	return all
}

// evictExpired removes events older than the age ceiling and drops buffers
// that end up empty.
func (b *Bus) evictExpired() {
	cutoff := time.Now().Add(-b.cfg.MaxEventAge)

	b.mu.Lock()
	defer b.mu.Unlock()

	for id, buf := range b.buffers {
		buf.evictOlderThan(cutoff)
		if buf.len() == 0 {
			delete(b.buffers, id)
		}
	}
	slog.Debug("Event buffer cleanup complete", "buffered_executions", len(b.buffers))
}

// ringBuffer holds the most recent events for one execution.
type ringBuffer struct {
	events []*models.ExecutionEvent
	max    int
}

func newRingBuffer(max int) *ringBuffer {
	return &ringBuffer{max: max}
}

// append adds an event, evicting the oldest when full.
func (r *ringBuffer) append(evt *models.ExecutionEvent) {
	if len(r.events) >= r.max {
		copy(r.events, r.events[1:])
		r.events = r.events[:len(r.events)-1]
	}
	r.events = append(r.events, evt)
}

func (r *ringBuffer) snapshot() []*models.ExecutionEvent {
	out := make([]*models.ExecutionEvent, len(r.events))
	copy(out, r.events)
	return out
}

func (r *ringBuffer) evictOlderThan(cutoff time.Time) {
	keep := 0
	for _, evt := range r.events {
		if !evt.Timestamp.Before(cutoff) {
			break
		}
		keep++
	}
	if keep > 0 {
		r.events = append([]*models.ExecutionEvent{}, r.events[keep:]...)
	}
}

func (r *ringBuffer) len() int {
	return len(r.events)
}
