package bus

import (
	"context"
	"time"

	"pulsewatch/internal/models"
)

// Subscribe creates a new event channel for a conversation. Returns a
// receive-only channel. Pending events are NOT auto-drained — call
// DrainPending separately so the caller can present them as missed updates.
func (b *Bus) Subscribe(conversationID, subID string) <-chan models.BusEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan models.BusEvent, b.eventBufSize)
	if _, ok := b.subscribers[conversationID]; !ok {
		b.subscribers[conversationID] = make(map[string]chan models.BusEvent)
	}
	b.subscribers[conversationID][subID] = ch
	return ch
}

// Unsubscribe removes a subscription. The channel is NOT closed — the
// subscriber's goroutine should exit via its own done signal, and the
// channel will be GC'd.
func (b *Bus) Unsubscribe(conversationID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subs, ok := b.subscribers[conversationID]; ok {
		delete(subs, subID)
		if len(subs) == 0 {
			delete(b.subscribers, conversationID)
		}
	}
}

// DrainPending returns and clears all buffered events for a conversation
func (b *Bus) DrainPending(conversationID string) []models.BusEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	events := b.pending[conversationID]
	delete(b.pending, conversationID)
	return events
}

// publish sends an event to all subscribers for a conversation.
// Non-blocking — if a subscriber's channel is full, the event is dropped
// for that subscriber. Important events with no live subscriber are
// buffered in a bounded pending queue.
func (b *Bus) publish(conversationID string, event models.BusEvent) {
	b.mu.RLock()
	subs, hasSubs := b.subscribers[conversationID]

	delivered := false
	if hasSubs {
		for _, ch := range subs {
			select {
			case ch <- event:
				delivered = true
			default:
				// Subscriber is full — skip this one
			}
		}
	}
	b.mu.RUnlock()

	if !delivered && importantEventTypes[event.Type] {
		b.bufferEvent(conversationID, event)
	}

	if b.relay != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := b.relay.Relay(ctx, event); err != nil {
			b.log.Debug("event relay failed", "event_type", event.Type, "error", err)
		}
	}
}

// bufferEvent adds an important event to the conversation's pending queue,
// evicting the oldest entries past the cap.
func (b *Bus) bufferEvent(conversationID string, event models.BusEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending[conversationID] = append(b.pending[conversationID], event)
	if len(b.pending[conversationID]) > b.maxPending {
		b.pending[conversationID] = b.pending[conversationID][len(b.pending[conversationID])-b.maxPending:]
	}
}

// SubscriberCount returns the number of active subscribers for a conversation
func (b *Bus) SubscriberCount(conversationID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.subscribers[conversationID])
}
