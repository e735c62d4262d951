// Package events carries download queue transitions and operation results
// to whatever is rendering them.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rescale/rescale-files/internal/constants"
)

// EventType names a kind of event.
type EventType string

// Download queue transitions.
const (
	EventTransferQueued    EventType = "transfer_queued"
	EventTransferStarted   EventType = "transfer_started"
	EventTransferProgress  EventType = "transfer_progress"
	EventTransferPaused    EventType = "transfer_paused"
	EventTransferResumed   EventType = "transfer_resumed"
	EventTransferCompleted EventType = "transfer_completed"
	EventTransferFailed    EventType = "transfer_failed"
	EventTransferCancelled EventType = "transfer_cancelled"
	EventTransferRemoved   EventType = "transfer_removed"
)

// EventOperationDone is published once per drained operation result.
const EventOperationDone EventType = "operation_done"

// Event is anything published on the bus.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent is embedded by every concrete event.
type BaseEvent struct {
	EventType EventType
	Time      time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

// TransferEvent is a snapshot of one download task at a transition.
type TransferEvent struct {
	BaseEvent
	TaskID     string
	Name       string
	Size       int64 // 0 when unknown
	Downloaded int64
	Progress   float64 // 0..1
	Speed      float64 // bytes/sec
	Reason     string  // set on failure
}

// OperationEvent is the outcome of a dispatched remote operation.
type OperationEvent struct {
	BaseEvent
	OpID    uint64
	Kind    string
	Target  string
	Message string
	Err     error
}

// Succeeded reports whether the operation finished without error.
func (e *OperationEvent) Succeeded() bool { return e.Err == nil }

type subscription struct {
	ch    chan Event
	types map[EventType]bool // nil receives everything
}

func (s *subscription) wants(t EventType) bool {
	return s.types == nil || s.types[t]
}

// EventBus fans events out to buffered subscriber channels. Publish never
// blocks; a subscriber that falls behind misses events and the loss is
// counted.
type EventBus struct {
	mu      sync.RWMutex
	subs    []*subscription
	bufSize int
	closed  bool
	dropped atomic.Int64
}

// NewEventBus creates a bus whose subscriber channels hold bufferSize
// events. Non-positive sizes take the default; sizes are capped.
func NewEventBus(bufferSize int) *EventBus {
	switch {
	case bufferSize <= 0:
		bufferSize = constants.EventBusDefaultBuffer
	case bufferSize > constants.EventBusMaxBuffer:
		bufferSize = constants.EventBusMaxBuffer
	}
	return &EventBus{bufSize: bufferSize}
}

// Subscribe returns a channel receiving events of the given types.
// After Close it returns an already closed channel.
func (eb *EventBus) Subscribe(types ...EventType) <-chan Event {
	set := make(map[EventType]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return eb.add(set)
}

// SubscribeAll returns a channel receiving every event.
func (eb *EventBus) SubscribeAll() <-chan Event {
	return eb.add(nil)
}

func (eb *EventBus) add(types map[EventType]bool) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}
	s := &subscription{ch: make(chan Event, eb.bufSize), types: types}
	eb.subs = append(eb.subs, s)
	return s.ch
}

// Publish delivers event to every interested subscriber with room for it.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}
	t := event.Type()
	for _, s := range eb.subs {
		if !s.wants(t) {
			continue
		}
		select {
		case s.ch <- event:
		default:
			eb.dropped.Add(1)
		}
	}
}

// PublishOperation publishes an OperationEvent.
func (eb *EventBus) PublishOperation(id uint64, kind, target, message string, err error) {
	eb.Publish(&OperationEvent{
		BaseEvent: BaseEvent{EventType: EventOperationDone, Time: time.Now()},
		OpID:      id,
		Kind:      kind,
		Target:    target,
		Message:   message,
		Err:       err,
	})
}

// Dropped returns how many deliveries were skipped because a subscriber's
// buffer was full.
func (eb *EventBus) Dropped() int64 {
	return eb.dropped.Load()
}

// Close closes every subscriber channel. Later publishes are ignored.
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}
	eb.closed = true
	for _, s := range eb.subs {
		close(s.ch)
	}
	eb.subs = nil
}
