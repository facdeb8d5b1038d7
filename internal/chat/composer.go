package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"marketchat/internal/bus"
)

var (
	// ErrEmptyMessage is returned when the message text is empty after trimming.
	ErrEmptyMessage = errors.New("message text is empty")
	// ErrSelfConversation is returned when sender and recipient are the same uid.
	ErrSelfConversation = errors.New("cannot start a conversation with yourself")
	// ErrNotSignedIn is returned when no authenticated identity is attached.
	ErrNotSignedIn = errors.New("not signed in")
)

// ConversationWriter is the slice of the store the composer needs: a merge
// upsert of conversation metadata and an ordered message append.
type ConversationWriter interface {
	UpsertConversation(ctx context.Context, conv Conversation) error
	AppendMessage(ctx context.Context, m *Message) (*Message, error)
}

// Notifier receives a best-effort notification after a message is stored.
type Notifier interface {
	MessageSent(ctx context.Context, m *Message, partnerUID string)
}

// Composer validates and submits outgoing messages for one signed-in user.
// The two store writes (conversation upsert, message append) are not
// transactional; the upsert runs first so a reader never sees a message
// whose conversation record is missing. If either write fails the error is
// returned and nothing was sent: the caller keeps the composed text for a
// manual retry.
type Composer struct {
	selfUID  string
	store    ConversationWriter
	notifier Notifier
	bus      *bus.Bus
	logger   *zap.Logger
}

// NewComposer creates a composer bound to the signed-in user's uid.
// notifier may be nil.
func NewComposer(selfUID string, store ConversationWriter, notifier Notifier, b *bus.Bus, logger *zap.Logger) *Composer {
	return &Composer{
		selfUID:  selfUID,
		store:    store,
		notifier: notifier,
		bus:      b,
		logger:   logger,
	}
}

// Send submits a plain text message to partnerUID.
func (c *Composer) Send(ctx context.Context, partnerUID, text string) (*Message, error) {
	trimmed, err := c.validate(partnerUID, text)
	if err != nil {
		return nil, err
	}
	return c.submit(ctx, partnerUID, &Message{Text: trimmed, Type: TypePlain})
}

// SendPostInquiry submits a message about a marketplace listing, carrying a
// snapshot of the listing at send time.
func (c *Composer) SendPostInquiry(ctx context.Context, partnerUID string, listing Listing, text string) (*Message, error) {
	trimmed, err := c.validate(partnerUID, text)
	if err != nil {
		return nil, err
	}
	return c.submit(ctx, partnerUID, NewPostInquiry(listing, trimmed))
}

// validate applies the preconditions that must reject a send before any
// store call has side effects.
func (c *Composer) validate(partnerUID, text string) (string, error) {
	if c.selfUID == "" {
		return "", ErrNotSignedIn
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", ErrEmptyMessage
	}
	if partnerUID == "" {
		return "", errors.New("empty partner uid")
	}
	if partnerUID == c.selfUID {
		return "", ErrSelfConversation
	}
	return trimmed, nil
}

func (c *Composer) submit(ctx context.Context, partnerUID string, msg *Message) (*Message, error) {
	msg.Sender = c.selfUID
	msg.ConversationID = ConversationID(c.selfUID, partnerUID)
	msg.Read = false
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	conv := Conversation{
		ID:              msg.ConversationID,
		Participants:    []string{c.selfUID, partnerUID},
		LastMessageText: msg.Text,
		LastMessageTime: time.Now().UnixMilli(),
	}
	if msg.PostRef != nil {
		conv.LastPostID = msg.PostRef.PostID
		conv.LastPostTitle = msg.PostRef.Title
		conv.LastPostStatus = msg.PostRef.Status
	}
	if err := c.store.UpsertConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("upsert conversation: %w", err)
	}

	stored, err := c.store.AppendMessage(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	c.bus.Emit("chat.message_sent", MessageSent{
		ConversationID: stored.ConversationID,
		MessageID:      stored.ID,
		PartnerUID:     partnerUID,
	})
	if c.notifier != nil {
		c.notifier.MessageSent(ctx, stored, partnerUID)
	}
	c.logger.Info("message sent",
		zap.String("conversation_id", stored.ConversationID),
		zap.String("message_id", stored.ID),
		zap.String("type", string(stored.Type)))
	return stored, nil
}

// MessageSent is the bus payload for chat.message_sent events.
type MessageSent struct {
	ConversationID string
	MessageID      string
	PartnerUID     string
}
