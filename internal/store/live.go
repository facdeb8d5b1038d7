package store

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"marketchat/internal/bus"
	"marketchat/internal/chat"
)

// Feed is a live subscription over one store query: it fires once with the
// current result on open and refetches after every relevant change event.
// Updates are full snapshots, so a slow consumer may skip intermediate
// states but always converges on the latest one (the oldest buffered
// snapshot is dropped when the buffer is full).
//
// Cancel stops the pump and closes the update channel before returning.
// Snapshots already buffered can still be drained by the consumer, which is
// why callers that switch subscriptions also carry a generation guard.
type Feed[T any] struct {
	updates chan T
	cancel  context.CancelFunc
	stopped chan struct{}
	once    sync.Once
}

// Updates is the snapshot delivery channel. Closed after Cancel.
func (f *Feed[T]) Updates() <-chan T { return f.updates }

// Cancel stops the feed. Idempotent; blocks until the pump has exited and
// the update channel is closed.
func (f *Feed[T]) Cancel() {
	f.once.Do(func() {
		f.cancel()
		<-f.stopped
	})
}

func (f *Feed[T]) run(ctx context.Context, events <-chan bus.Event, unsub func(), match func(bus.Event) bool, fetch func(context.Context) (T, error), logger *zap.Logger) {
	defer close(f.stopped)
	defer close(f.updates)
	defer unsub()

	f.refresh(ctx, fetch, logger)
	for {
		select {
		case evt := <-events:
			if match(evt) {
				f.refresh(ctx, fetch, logger)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (f *Feed[T]) refresh(ctx context.Context, fetch func(context.Context) (T, error), logger *zap.Logger) {
	v, err := fetch(ctx)
	if err != nil {
		// A failed refetch is contained here; the feed stays open and the
		// next change event triggers another attempt.
		if ctx.Err() == nil {
			logger.Warn("feed refresh failed", zap.Error(err))
		}
		return
	}
	select {
	case f.updates <- v:
	default:
		// Buffer full: drop the oldest snapshot, keep the newest.
		select {
		case <-f.updates:
		default:
		}
		select {
		case f.updates <- v:
		default:
		}
	}
}

func newFeed[T any](ctx context.Context, b *bus.Bus, match func(bus.Event) bool, fetch func(context.Context) (T, error), logger *zap.Logger) *Feed[T] {
	ctx, cancel := context.WithCancel(ctx)
	f := &Feed[T]{
		updates: make(chan T, 8),
		cancel:  cancel,
		stopped: make(chan struct{}),
	}
	events, unsub := b.Subscribe("store.", 64)
	go f.run(ctx, events, unsub, match, fetch, logger)
	return f
}

// Feeds opens live subscriptions over a Store using its change events.
type Feeds struct {
	store  Store
	bus    *bus.Bus
	logger *zap.Logger
}

// NewFeeds creates a feed factory over the given store and bus. The bus
// must be the one the store publishes its change events on.
func NewFeeds(s Store, b *bus.Bus, logger *zap.Logger) *Feeds {
	return &Feeds{store: s, bus: b, logger: logger}
}

func matchConversation(conversationID string) func(bus.Event) bool {
	return func(evt bus.Event) bool {
		c, ok := evt.Payload.(Change)
		return ok && c.ConversationID == conversationID
	}
}

// Messages opens a live ordered view of one conversation's messages.
func (f *Feeds) Messages(ctx context.Context, conversationID string) *Feed[[]chat.Message] {
	return newFeed(ctx, f.bus, matchConversation(conversationID), func(ctx context.Context) ([]chat.Message, error) {
		return f.store.Messages(ctx, conversationID)
	}, f.logger)
}

// LastMessage opens a live view of a conversation's most recent message.
func (f *Feeds) LastMessage(ctx context.Context, conversationID string) *Feed[*chat.Message] {
	return newFeed(ctx, f.bus, matchConversation(conversationID), func(ctx context.Context) (*chat.Message, error) {
		return f.store.LastMessage(ctx, conversationID)
	}, f.logger)
}

// UnreadCount opens a live unread-badge counter for selfUID.
func (f *Feeds) UnreadCount(ctx context.Context, conversationID, selfUID string) *Feed[int] {
	return newFeed(ctx, f.bus, matchConversation(conversationID), func(ctx context.Context) (int, error) {
		return f.store.UnreadCount(ctx, conversationID, selfUID)
	}, f.logger)
}
