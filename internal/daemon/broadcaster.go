package daemon

import (
	"sync"
	"time"
)

// Event is a review lifecycle notification. Events are streamed to
// NDJSON subscribers and delivered to registered outbound webhooks.
type Event struct {
	Type     string    `json:"type"`
	TS       time.Time `json:"ts"`
	ReviewID string    `json:"review_id"`
	JobID    int64     `json:"job_id"`
	Repo     string    `json:"repo"` // owner/name
	PRNumber int       `json:"pr_number"`
	SHA      string    `json:"sha,omitempty"`
	Verdict  string    `json:"verdict,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// Event types emitted by the daemon.
const (
	EventReviewStarted   = "review.started"
	EventReviewCompleted = "review.completed"
	EventReviewFailed    = "review.failed"
	EventReviewCanceled  = "review.canceled"
	EventConfigReloaded  = "config.reloaded"
)

// Subscriber is one client receiving events, with an optional repo filter.
type Subscriber struct {
	ID   int
	Repo string // only send events for this owner/name (empty = all)
	Ch   chan Event
}

// Broadcaster manages event subscriptions and fan-out.
type Broadcaster interface {
	Subscribe(repo string) (int, <-chan Event)
	Unsubscribe(id int)
	Broadcast(event Event)
	SubscriberCount() int
}

// EventBroadcaster implements Broadcaster.
type EventBroadcaster struct {
	mu          sync.RWMutex
	subscribers map[int]*Subscriber
	nextID      int
}

// NewBroadcaster creates a new event broadcaster.
func NewBroadcaster() Broadcaster {
	return &EventBroadcaster{
		subscribers: make(map[int]*Subscriber),
		nextID:      1,
	}
}

// Subscribe adds a subscriber with an optional repo filter and returns
// its ID and event channel.
func (b *EventBroadcaster) Subscribe(repo string) (int, <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	ch := make(chan Event, 10) // buffered so Broadcast never blocks
	b.subscribers[id] = &Subscriber{ID: id, Repo: repo, Ch: ch}
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *EventBroadcaster) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[id]; ok {
		close(sub.Ch)
		delete(b.subscribers, id)
	}
}

// Broadcast sends an event to all matching subscribers. Non-blocking:
// if a subscriber's channel is full, the event is dropped for it.
func (b *EventBroadcaster) Broadcast(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if sub.Repo != "" && sub.Repo != event.Repo {
			continue
		}
		select {
		case sub.Ch <- event:
		default:
		}
	}
}

// SubscriberCount returns the current number of subscribers.
func (b *EventBroadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
