// Package store is the document-store adapter for the chat core: ordered
// message append, filtered reads, merge upserts, and live feeds derived
// from change events on the bus.
package store

import (
	"context"
	"errors"

	"marketchat/internal/chat"
)

// ErrSelfRead is returned when a sender tries to mark their own message read.
var ErrSelfRead = errors.New("sender cannot mark own message as read")

// ErrNotFound is returned by point updates targeting a missing document.
var ErrNotFound = errors.New("document not found")

// Change-event kinds published by store implementations after successful
// writes. Live feeds subscribe to the "store." namespace and refetch when a
// relevant event arrives.
const (
	EventMessageAppended      = "store.message.appended"
	EventMessageRead          = "store.message.read"
	EventConversationUpserted = "store.conversation.upserted"
)

// Change is the payload of store.* events.
type Change struct {
	ConversationID string
	MessageID      string
}

// Store is the contract the chat core requires from its backing document
// store. Implementations assign server timestamps and per-conversation
// sequence numbers on append; (Timestamp, Seq) strictly increases within a
// conversation and is the message order.
type Store interface {
	// AppendMessage stores m, assigning ID, Timestamp and Seq, and returns
	// the stored message.
	AppendMessage(ctx context.Context, m *chat.Message) (*chat.Message, error)
	// Messages returns a conversation's messages in ascending order.
	Messages(ctx context.Context, conversationID string) ([]chat.Message, error)
	// LastMessage returns the most recent message, or nil if the
	// conversation has none.
	LastMessage(ctx context.Context, conversationID string) (*chat.Message, error)
	// UnreadCount counts messages not sent by selfUID with read == false.
	UnreadCount(ctx context.Context, conversationID, selfUID string) (int, error)
	// UnreadMessages returns the messages UnreadCount counts.
	UnreadMessages(ctx context.Context, conversationID, selfUID string) ([]chat.Message, error)
	// MarkMessageRead flips a message's read flag false -> true. The flag
	// never transitions back, and readerUID must not be the sender.
	MarkMessageRead(ctx context.Context, conversationID, messageID, readerUID string) error
	// UpsertConversation creates or merge-updates a conversation summary.
	// Zero-valued fields of conv are left untouched on an existing record.
	UpsertConversation(ctx context.Context, conv chat.Conversation) error
	// ConversationsWith returns the conversations uid participates in,
	// most recently active first.
	ConversationsWith(ctx context.Context, uid string) ([]chat.Conversation, error)
}
