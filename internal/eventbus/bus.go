// Package eventbus provides the process-wide publish/subscribe hub that
// decouples the socket machine and session coordinator from their
// observers. Publishers never learn who is listening; subscribers must
// not mutate publisher state from their callbacks.
package eventbus

import (
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Handler receives the payload published on a topic.
type Handler func(payload any)

// Subscription identifies one attached handler so it can be detached.
type Subscription struct {
	ID    string
	Topic string
}

type entry struct {
	id      string
	handler Handler
}

// Bus is a multi-consumer topic hub. Handlers run synchronously in the
// publishing goroutine, in subscription order.
type Bus struct {
	mu     sync.RWMutex
	topics map[string][]entry
}

// New constructs an empty bus.
func New() *Bus {
	return &Bus{topics: make(map[string][]entry)}
}

// Subscribe attaches a handler to a topic and returns a subscription
// handle for later detachment.
func (b *Bus) Subscribe(topic string, handler Handler) Subscription {
	sub := Subscription{ID: uuid.NewString(), Topic: topic}
	if handler == nil {
		return sub
	}
	b.mu.Lock()
	b.topics[topic] = append(b.topics[topic], entry{id: sub.ID, handler: handler})
	b.mu.Unlock()
	return sub
}

// Unsubscribe detaches a previously registered handler. Unknown
// subscriptions are ignored.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := b.topics[sub.Topic]
	for i := range entries {
		if entries[i].id == sub.ID {
			b.topics[sub.Topic] = append(entries[:i:i], entries[i+1:]...)
			return
		}
	}
}

// Publish delivers the payload to every handler attached to the topic.
func (b *Bus) Publish(topic string, payload any) {
	b.mu.RLock()
	entries := b.topics[topic]
	handlers := make([]Handler, len(entries))
	for i := range entries {
		handlers[i] = entries[i].handler
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					log.Errorf("eventbus: handler for %s panicked: %v", topic, rec)
				}
			}()
			h(payload)
		}()
	}
}
