// internal/agent/events.go
package agent

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventType names a notification published by the orchestrator.
type EventType string

const (
	EventTaskStart     EventType = "task_start"     // A task began and history was reset.
	EventInput         EventType = "input"          // Echo of the task text.
	EventThinking      EventType = "thinking"       // The model's narrative for the current step.
	EventToolExecuting EventType = "tool_executing" // A tool is about to run.
	EventToolCompleted EventType = "tool_completed" // A tool finished.
	EventOutput        EventType = "output"         // The task finished through the terminal tool.
	EventError         EventType = "error"          // The task failed.
	EventCompleted     EventType = "completed"      // The task is over, whatever the outcome.
	EventPaused        EventType = "paused"
	EventResumed       EventType = "resumed"
)

// AllEventTypes is used when a subscriber does not name any type.
var AllEventTypes = []EventType{
	EventTaskStart, EventInput, EventThinking, EventToolExecuting, EventToolCompleted,
	EventOutput, EventError, EventCompleted, EventPaused, EventResumed,
}

// Event is the envelope delivered to subscribers. Fields not relevant to the
// event type are left zero.
type Event struct {
	ID        string
	Timestamp time.Time
	Type      EventType
	TaskID    string
	Step      int
	Text      string
	Tool      string
	Args      map[string]any
	Result    string
	Duration  time.Duration
	Success   bool
	ErrorCode ErrorCode
}

// EventBus fans events out to subscribers without ever blocking the
// publisher. Events for a subscriber whose buffer is full are dropped.
type EventBus struct {
	logger *zap.Logger

	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	bufferSize  int
	isShutdown  bool

	dropped atomic.Int64
}

// NewEventBus initializes the bus.
func NewEventBus(logger *zap.Logger, bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &EventBus{
		logger:      logger.Named("event_bus"),
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Publish delivers evt to every subscriber of its type. It never blocks.
func (b *EventBus) Publish(evt Event) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	// Sends happen under the read lock so Shutdown cannot close a channel
	// mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.isShutdown {
		return
	}
	for _, ch := range b.subscribers[evt.Type] {
		select {
		case ch <- evt:
		default:
			b.dropped.Add(1)
			b.logger.Debug("Dropping event for slow subscriber", zap.String("type", string(evt.Type)))
		}
	}
}

// Subscribe returns a channel receiving the given event types (all types if
// none are given) and a function that cancels the subscription.
func (b *EventBus) Subscribe(types ...EventType) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	if b.isShutdown {
		close(ch)
		return ch, func() {}
	}
	if len(types) == 0 {
		types = AllEventTypes
	}
	for _, t := range types {
		b.subscribers[t] = append(b.subscribers[t], ch)
	}

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if b.isShutdown {
				return
			}
			for _, t := range types {
				subs := b.subscribers[t]
				for i, sub := range subs {
					if sub == ch {
						b.subscribers[t] = append(subs[:i], subs[i+1:]...)
						break
					}
				}
			}
			close(ch)
		})
	}
	return ch, unsubscribe
}

// Dropped reports how many deliveries were skipped because a subscriber was
// not keeping up.
func (b *EventBus) Dropped() int64 {
	return b.dropped.Load()
}

// Shutdown closes every subscriber channel. Later publishes are ignored.
func (b *EventBus) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.isShutdown {
		return
	}
	b.isShutdown = true

	unique := make(map[chan Event]struct{})
	for _, subs := range b.subscribers {
		for _, ch := range subs {
			unique[ch] = struct{}{}
		}
	}
	for ch := range unique {
		close(ch)
	}
	b.subscribers = make(map[EventType][]chan Event)
}
