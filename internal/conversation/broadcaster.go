// ABOUTME: In-memory fan-out of committed transcript messages per conversation
// ABOUTME: Lets other clients follow a conversation without polling its history

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/palladium-gateway/internal/session"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// Broadcaster provides in-memory pub/sub for messages committed to a
// conversation's history. Slow subscribers lose messages rather than
// blocking the turn that produced them.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan session.Message // conversationID -> subID -> ch
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan session.Message),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers for messages committed to convID. The subscription is
// removed and the channel closed when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, convID string) (<-chan session.Message, string) {
	subID := uuid.New().String()
	ch := make(chan session.Message, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[convID]; !ok {
		b.subscribers[convID] = make(map[string]chan session.Message)
	}
	b.subscribers[convID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "conversation_id", convID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(convID, subID)
	}()

	return ch, subID
}

// Publish delivers msgs in order to every subscriber of convID.
// Non-blocking: messages are dropped for subscribers whose channels are full.
func (b *Broadcaster) Publish(convID string, msgs ...session.Message) {
	if len(msgs) == 0 {
		return
	}

	// Sends happen under the read lock so Unsubscribe cannot close a
	// channel mid-send. Every send is non-blocking.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for subID, ch := range b.subscribers[convID] {
		for _, m := range msgs {
			select {
			case ch <- m:
			default:
				b.logger.Debug("dropped message for slow subscriber",
					"conversation_id", convID,
					"sub_id", subID,
					"role", m.Role)
			}
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(convID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[convID]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, convID)
	}

	b.logger.Debug("subscriber removed", "conversation_id", convID, "sub_id", subID)
}

// SubscriberCount returns the number of live subscriptions for convID.
func (b *Broadcaster) SubscriberCount(convID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[convID])
}

// Close closes every subscriber channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for convID, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, convID)
	}

	b.logger.Debug("broadcaster closed")
}
