package chat

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"marketchat/internal/bus"
)

// SessionState is the active-conversation state of the chat view.
type SessionState string

const (
	StateNoActiveChat SessionState = "NO_ACTIVE_CHAT"
	StateLoading      SessionState = "LOADING"
	StateViewing      SessionState = "VIEWING"
)

// MessageFeed is a live, ordered view of one conversation's messages. It
// fires once with the current sequence and again after every change, until
// cancelled. Cancel closes the update channel; no update is delivered after
// Cancel returns.
type MessageFeed interface {
	Updates() <-chan []Message
	Cancel()
}

// OpenFeedFunc opens a message feed for a conversation.
type OpenFeedFunc func(ctx context.Context, conversationID string) MessageFeed

// ReadMarker flips a message's read flag. Only a recipient may do so.
type ReadMarker interface {
	MarkMessageRead(ctx context.Context, conversationID, messageID, readerUID string) error
}

// Session is the controller for the single active conversation. Opening a
// conversation subscribes to its message feed; every emission replaces the
// in-memory list and sweeps incoming unread messages to read. Feed emissions
// are tagged with a generation captured at open time, so a late callback
// from a conversation that is no longer active is ignored even if the
// underlying cancellation raced.
type Session struct {
	selfUID  string
	openFeed OpenFeedFunc
	reads    ReadMarker
	bus      *bus.Bus
	logger   *zap.Logger

	mu       sync.Mutex
	ctx      context.Context
	state    SessionState
	partner  Partner
	convID   string
	gen      uint64
	feed     MessageFeed
	messages []Message
}

// NewSession creates a session controller for the signed-in user.
func NewSession(selfUID string, open OpenFeedFunc, reads ReadMarker, b *bus.Bus, logger *zap.Logger) *Session {
	return &Session{
		selfUID:  selfUID,
		openFeed: open,
		reads:    reads,
		bus:      b,
		logger:   logger,
		state:    StateNoActiveChat,
	}
}

// Open begins viewing the conversation with partner, tearing down whatever
// conversation was active before.
func (s *Session) Open(ctx context.Context, partner Partner) error {
	if partner.UID == "" {
		return errors.New("empty partner uid")
	}
	if partner.UID == s.selfUID {
		return ErrSelfConversation
	}

	s.mu.Lock()
	s.gen++
	gen := s.gen
	old := s.feed
	s.ctx = ctx
	s.state = StateLoading
	s.partner = partner
	s.convID = ConversationID(s.selfUID, partner.UID)
	s.messages = nil
	convID := s.convID
	s.mu.Unlock()

	if old != nil {
		old.Cancel()
	}

	feed := s.openFeed(ctx, convID)

	s.mu.Lock()
	// Open raced with another Open/Close; this feed lost.
	if gen != s.gen {
		s.mu.Unlock()
		feed.Cancel()
		return nil
	}
	s.feed = feed
	s.mu.Unlock()

	go s.consume(gen, convID, feed)
	s.bus.Emit("chat.session.opened", SessionChange{ConversationID: convID, PartnerUID: partner.UID})
	return nil
}

// Close tears down the active conversation. The feed is cancelled before
// Close returns; the stale-generation guard covers any emission already in
// flight.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateNoActiveChat {
		s.mu.Unlock()
		return
	}
	s.gen++
	feed := s.feed
	convID := s.convID
	s.feed = nil
	s.messages = nil
	s.partner = Partner{}
	s.convID = ""
	s.state = StateNoActiveChat
	s.mu.Unlock()

	if feed != nil {
		feed.Cancel()
	}
	s.bus.Emit("chat.session.closed", SessionChange{ConversationID: convID})
}

func (s *Session) consume(gen uint64, convID string, feed MessageFeed) {
	for msgs := range feed.Updates() {
		s.apply(gen, convID, msgs)
	}
}

func (s *Session) apply(gen uint64, convID string, msgs []Message) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	s.state = StateViewing
	s.messages = msgs
	var unread []Message
	for _, m := range msgs {
		if m.Sender != s.selfUID && !m.Read {
			unread = append(unread, m)
		}
	}
	s.mu.Unlock()

	// Best-effort sweep: individual failures are logged, not retried; the
	// next emission will pick the message up again.
	for _, m := range unread {
		if err := s.reads.MarkMessageRead(ctx, convID, m.ID, s.selfUID); err != nil {
			s.logger.Warn("mark read failed",
				zap.String("conversation_id", convID),
				zap.String("message_id", m.ID),
				zap.Error(err))
		}
	}

	s.bus.Emit("chat.session.updated", SessionChange{ConversationID: convID, Messages: len(msgs)})
}

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Active returns the active conversation id and partner, if any.
func (s *Session) Active() (string, Partner, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateNoActiveChat {
		return "", Partner{}, false
	}
	return s.convID, s.partner, true
}

// Messages returns a copy of the in-memory message list for the active
// conversation, in (timestamp, seq) order.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// SessionChange is the bus payload for chat.session.* events.
type SessionChange struct {
	ConversationID string
	PartnerUID     string
	Messages       int
}
