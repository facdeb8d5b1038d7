package chat

import (
	"errors"
	"fmt"
)

// MessageType discriminates the two message variants.
type MessageType string

const (
	// TypePlain is an ordinary text message.
	TypePlain MessageType = "plain"
	// TypePostInquiry is a message that references a marketplace listing;
	// PostRef is mandatory for this variant.
	TypePostInquiry MessageType = "post_inquiry"
)

// Message is a single chat message. Once stored it is immutable except for
// the Read flag, which the recipient flips false -> true exactly once.
// Timestamp and Seq are assigned by the store on append; (Timestamp, Seq)
// strictly increases within a conversation and defines message order.
type Message struct {
	ID             string
	ConversationID string
	Sender         string
	Text           string
	// OriginalText holds the raw user input before any prefix decoration;
	// empty for messages whose Text was not decorated.
	OriginalText string
	Timestamp    int64 // unix ms, store-assigned
	Seq          int64 // per-conversation counter, store-assigned
	Read         bool
	Type         MessageType
	PostRef      *PostReference
}

// Validate checks the variant invariants before the message is stored.
func (m *Message) Validate() error {
	switch m.Type {
	case TypePlain:
		if m.PostRef != nil {
			return errors.New("plain message must not carry a post reference")
		}
	case TypePostInquiry:
		if m.PostRef == nil {
			return errors.New("post inquiry message requires a post reference")
		}
	default:
		return fmt.Errorf("unknown message type %q", m.Type)
	}
	if m.Sender == "" {
		return errors.New("message sender is empty")
	}
	if m.Text == "" {
		return errors.New("message text is empty")
	}
	return nil
}

// PostReference is a point-in-time snapshot of the listing a post inquiry is
// about. It deliberately does not track later edits to the listing: message
// history reflects what was true when the message was sent.
type PostReference struct {
	PostID      string
	Title       string
	Status      string
	Category    string
	Location    string
	Image       string
	Description string
	OwnerName   string
	OwnerUID    string
	CreatedAt   int64
	PostType    string
	Price       string
	Condition   string
}

// Conversation is the denormalized summary record for a two-party chat.
// ID is derived from the participant pair (see ConversationID); the
// last-message fields are a write-through copy maintained by the composer
// and may transiently lag the authoritative message sequence.
type Conversation struct {
	ID              string
	Participants    []string
	LastMessageText string
	LastMessageTime int64
	LastPostID      string
	LastPostTitle   string
	LastPostStatus  string
}

// Partner identifies the other participant of the active conversation.
type Partner struct {
	UID  string
	Name string
}
