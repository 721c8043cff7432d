package stream

import (
	"context"
	"sync"
	"time"
)

// EventType enumerates the marketplace activity events.
type EventType string

const (
	EventTaskCreated    EventType = "task.created"
	EventBidSubmitted   EventType = "bid.submitted"
	EventBidAccepted    EventType = "bid.accepted"
	EventPaymentSettled EventType = "payment.settled"
)

// Event describes one marketplace state change for the activity feed.
type Event struct {
	Type      EventType `json:"type"`
	TaskID    string    `json:"task_id"`
	ActorID   string    `json:"actor_id,omitempty"`
	Amount    int64     `json:"amount,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Stream fan-outs marketplace events to all active subscribers (SSE clients).
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (s *Stream) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
