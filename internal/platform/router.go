package platform

import (
	"context"
	"sync"
)

// Router fans events out to the handlers subscribed on a topic. Drivers use it
// so that two subscriptions on the same topic share one transport subscription.
type Router struct {
	// mu protects the tables below; drivers deliver from their own goroutines.
	mu sync.RWMutex
	// next is the last assigned subscription id.
	next SubscriptionID
	// topics maps a subscription id to its topic.
	topics map[SubscriptionID]string
	// handlers maps a topic to its handlers by subscription id.
	handlers map[string]map[SubscriptionID]Handler
}

// NewRouter returns an empty router.
func NewRouter() *Router {
	return &Router{
		topics:   make(map[SubscriptionID]string),
		handlers: make(map[string]map[SubscriptionID]Handler),
	}
}

// Add registers handler on topic. first reports whether the topic had no handlers before.
func (r *Router) Add(topic string, handler Handler) (SubscriptionID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	id := r.next

	byID, ok := r.handlers[topic]
	if !ok {
		byID = make(map[SubscriptionID]Handler)
		r.handlers[topic] = byID
	}

	byID[id] = handler
	r.topics[id] = topic

	return id, !ok
}

// Remove drops a subscription. last reports whether the topic has no handlers left.
func (r *Router) Remove(id SubscriptionID) (topic string, last, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	topic, ok = r.topics[id]
	if !ok {
		return "", false, false
	}

	delete(r.topics, id)
	delete(r.handlers[topic], id)

	if len(r.handlers[topic]) == 0 {
		delete(r.handlers, topic)

		return topic, true, true
	}

	return topic, false, true
}

// Topic returns the topic of a live subscription.
func (r *Router) Topic(id SubscriptionID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	topic, ok := r.topics[id]

	return topic, ok
}

// Len returns the number of live subscriptions.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.topics)
}

// Dispatch calls every handler subscribed on the event topic.
// Handlers run outside the lock so they may subscribe or unsubscribe.
func (r *Router) Dispatch(ctx context.Context, event *Event) int {
	r.mu.RLock()

	handlers := make([]Handler, 0, len(r.handlers[event.Topic]))
	for _, h := range r.handlers[event.Topic] {
		handlers = append(handlers, h)
	}

	r.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, event)
	}

	return len(handlers)
}
