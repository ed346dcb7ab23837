package console

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls further behind than this drops entries instead of blocking capture.
const subscriberBuffer = 100

// Subscriber receives captured log entries as they arrive.
type Subscriber struct {
	ID        string
	Level     string // "" for all levels
	Ch        chan LogEntry
	CreatedAt time.Time
}

// Broker fans captured log entries out to live subscribers.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	logger      *slog.Logger
}

// NewBroker creates a new log broker.
func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		subscribers: make(map[string]*Subscriber),
		logger:      logger,
	}
}

// Subscribe creates a new subscription, optionally filtered to one level.
func (b *Broker) Subscribe(level string) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscriber{
		ID:        uuid.NewString(),
		Level:     level,
		Ch:        make(chan LogEntry, subscriberBuffer),
		CreatedAt: time.Now(),
	}
	b.subscribers[sub.ID] = sub
	b.logger.Debug("log subscriber added", "subscriber_id", sub.ID, "level", level)
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broker) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[sub.ID]; exists {
		close(sub.Ch)
		delete(b.subscribers, sub.ID)
		b.logger.Debug("log subscriber removed", "subscriber_id", sub.ID)
	}
}

// Publish sends an entry to all matching subscribers. Never blocks: a full
// subscriber channel drops the entry for that subscriber only.
func (b *Broker) Publish(e LogEntry) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if sub.Level != "" && sub.Level != e.Level {
			continue
		}
		select {
		case sub.Ch <- e:
		default:
			b.logger.Warn("subscriber channel full, dropping log entry",
				"subscriber_id", sub.ID,
			)
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
