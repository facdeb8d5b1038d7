package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"marketchat/internal/bus"
	"marketchat/internal/chat"
)

// Mongo is the production Store over two collections, "conversations" and
// "messages". Append order is (timestamp, seq) where seq comes from a $inc
// counter on the conversation document, so two messages racing onto the
// same millisecond still have a total order.
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database
	convs  *mongo.Collection
	msgs   *mongo.Collection
	bus    *bus.Bus
	logger *zap.Logger
}

// NewMongo connects to the document store and binds the chat collections.
func NewMongo(ctx context.Context, uri, database string, b *bus.Bus, logger *zap.Logger) (*Mongo, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	opts := options.Client().ApplyURI(uri).SetRetryWrites(true)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	db := client.Database(database)
	return &Mongo{
		client: client,
		db:     db,
		convs:  db.Collection("conversations"),
		msgs:   db.Collection("messages"),
		bus:    b,
		logger: logger,
	}, nil
}

// Database exposes the underlying handle for collaborators that share the
// connection, such as the profile directory.
func (s *Mongo) Database() *mongo.Database {
	return s.db
}

// Ping verifies the connection.
func (s *Mongo) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *Mongo) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// EnsureIndexes creates the indexes the adapter queries depend on.
func (s *Mongo) EnsureIndexes(ctx context.Context) error {
	_, err := s.msgs.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "timestamp", Value: 1}, {Key: "seq", Value: 1}}},
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "sender", Value: 1}, {Key: "read", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("message indexes: %w", err)
	}
	_, err = s.convs.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "participants", Value: 1}}},
		{Keys: bson.D{{Key: "last_message_time", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("conversation indexes: %w", err)
	}
	return nil
}

type conversationDoc struct {
	ID              string   `bson:"_id"`
	Participants    []string `bson:"participants,omitempty"`
	LastMessageText string   `bson:"last_message_text,omitempty"`
	LastMessageTime int64    `bson:"last_message_time,omitempty"`
	LastPostID      string   `bson:"last_post_id,omitempty"`
	LastPostTitle   string   `bson:"last_post_title,omitempty"`
	LastPostStatus  string   `bson:"last_post_status,omitempty"`
	MessageSeq      int64    `bson:"message_seq,omitempty"`
	UpdatedAt       int64    `bson:"updated_at,omitempty"`
}

type messageDoc struct {
	ID             string      `bson:"_id"`
	ConversationID string      `bson:"conversation_id"`
	Sender         string      `bson:"sender"`
	Text           string      `bson:"text"`
	OriginalText   string      `bson:"original_text,omitempty"`
	Timestamp      int64       `bson:"timestamp"`
	Seq            int64       `bson:"seq"`
	Read           bool        `bson:"read"`
	Type           string      `bson:"type"`
	PostRef        *postRefDoc `bson:"post_ref,omitempty"`
}

type postRefDoc struct {
	PostID      string `bson:"post_id"`
	Title       string `bson:"title"`
	Status      string `bson:"status"`
	Category    string `bson:"category"`
	Location    string `bson:"location"`
	Image       string `bson:"image,omitempty"`
	Description string `bson:"description,omitempty"`
	OwnerName   string `bson:"owner_name"`
	OwnerUID    string `bson:"owner_uid"`
	CreatedAt   int64  `bson:"created_at"`
	PostType    string `bson:"post_type"`
	Price       string `bson:"price,omitempty"`
	Condition   string `bson:"condition,omitempty"`
}

func newMessageDoc(m *chat.Message) messageDoc {
	doc := messageDoc{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Sender:         m.Sender,
		Text:           m.Text,
		OriginalText:   m.OriginalText,
		Timestamp:      m.Timestamp,
		Seq:            m.Seq,
		Read:           m.Read,
		Type:           string(m.Type),
	}
	if m.PostRef != nil {
		doc.PostRef = &postRefDoc{
			PostID:      m.PostRef.PostID,
			Title:       m.PostRef.Title,
			Status:      m.PostRef.Status,
			Category:    m.PostRef.Category,
			Location:    m.PostRef.Location,
			Image:       m.PostRef.Image,
			Description: m.PostRef.Description,
			OwnerName:   m.PostRef.OwnerName,
			OwnerUID:    m.PostRef.OwnerUID,
			CreatedAt:   m.PostRef.CreatedAt,
			PostType:    m.PostRef.PostType,
			Price:       m.PostRef.Price,
			Condition:   m.PostRef.Condition,
		}
	}
	return doc
}

func (d messageDoc) toMessage() chat.Message {
	m := chat.Message{
		ID:             d.ID,
		ConversationID: d.ConversationID,
		Sender:         d.Sender,
		Text:           d.Text,
		OriginalText:   d.OriginalText,
		Timestamp:      d.Timestamp,
		Seq:            d.Seq,
		Read:           d.Read,
		Type:           chat.MessageType(d.Type),
	}
	if d.PostRef != nil {
		m.PostRef = &chat.PostReference{
			PostID:      d.PostRef.PostID,
			Title:       d.PostRef.Title,
			Status:      d.PostRef.Status,
			Category:    d.PostRef.Category,
			Location:    d.PostRef.Location,
			Image:       d.PostRef.Image,
			Description: d.PostRef.Description,
			OwnerName:   d.PostRef.OwnerName,
			OwnerUID:    d.PostRef.OwnerUID,
			CreatedAt:   d.PostRef.CreatedAt,
			PostType:    d.PostRef.PostType,
			Price:       d.PostRef.Price,
			Condition:   d.PostRef.Condition,
		}
	}
	return m
}

func (d conversationDoc) toConversation() chat.Conversation {
	return chat.Conversation{
		ID:              d.ID,
		Participants:    d.Participants,
		LastMessageText: d.LastMessageText,
		LastMessageTime: d.LastMessageTime,
		LastPostID:      d.LastPostID,
		LastPostTitle:   d.LastPostTitle,
		LastPostStatus:  d.LastPostStatus,
	}
}

// nextSeq increments and returns the conversation's message counter,
// creating the conversation document if it does not exist yet.
func (s *Mongo) nextSeq(ctx context.Context, conversationID string) (int64, error) {
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var doc conversationDoc
	err := s.convs.FindOneAndUpdate(ctx,
		bson.M{"_id": conversationID},
		bson.M{"$inc": bson.M{"message_seq": 1}},
		opts,
	).Decode(&doc)
	if err != nil {
		return 0, err
	}
	return doc.MessageSeq, nil
}

func (s *Mongo) AppendMessage(ctx context.Context, m *chat.Message) (*chat.Message, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	seq, err := s.nextSeq(ctx, m.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("next seq: %w", err)
	}

	stored := *m
	stored.ID = uuid.New().String()
	stored.Timestamp = time.Now().UTC().UnixMilli()
	stored.Seq = seq
	if _, err := s.msgs.InsertOne(ctx, newMessageDoc(&stored)); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	s.bus.Emit(EventMessageAppended, Change{ConversationID: stored.ConversationID, MessageID: stored.ID})
	return &stored, nil
}

func (s *Mongo) Messages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "seq", Value: 1}})
	cur, err := s.msgs.Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, err
	}
	return decodeMessages(ctx, cur)
}

func (s *Mongo) LastMessage(ctx context.Context, conversationID string) (*chat.Message, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "seq", Value: -1}})
	var doc messageDoc
	err := s.msgs.FindOne(ctx, bson.M{"conversation_id": conversationID}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m := doc.toMessage()
	return &m, nil
}

func unreadFilter(conversationID, selfUID string) bson.M {
	return bson.M{
		"conversation_id": conversationID,
		"sender":          bson.M{"$ne": selfUID},
		"read":            false,
	}
}

func (s *Mongo) UnreadCount(ctx context.Context, conversationID, selfUID string) (int, error) {
	n, err := s.msgs.CountDocuments(ctx, unreadFilter(conversationID, selfUID))
	return int(n), err
}

func (s *Mongo) UnreadMessages(ctx context.Context, conversationID, selfUID string) ([]chat.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "seq", Value: 1}})
	cur, err := s.msgs.Find(ctx, unreadFilter(conversationID, selfUID), opts)
	if err != nil {
		return nil, err
	}
	return decodeMessages(ctx, cur)
}

func (s *Mongo) MarkMessageRead(ctx context.Context, conversationID, messageID, readerUID string) error {
	res, err := s.msgs.UpdateOne(ctx,
		bson.M{
			"_id":             messageID,
			"conversation_id": conversationID,
			"sender":          bson.M{"$ne": readerUID},
			"read":            false,
		},
		bson.M{"$set": bson.M{"read": true}},
	)
	if err != nil {
		return err
	}
	if res.ModifiedCount > 0 {
		s.bus.Emit(EventMessageRead, Change{ConversationID: conversationID, MessageID: messageID})
		return nil
	}

	// Nothing matched: distinguish "already read" (fine) from self-read and
	// missing document.
	var doc messageDoc
	err = s.msgs.FindOne(ctx, bson.M{"_id": messageID, "conversation_id": conversationID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if doc.Sender == readerUID {
		return ErrSelfRead
	}
	return nil
}

func (s *Mongo) UpsertConversation(ctx context.Context, conv chat.Conversation) error {
	set := bson.M{"updated_at": time.Now().UTC().UnixMilli()}
	if len(conv.Participants) > 0 {
		set["participants"] = conv.Participants
	}
	if conv.LastMessageText != "" {
		set["last_message_text"] = conv.LastMessageText
	}
	if conv.LastMessageTime != 0 {
		set["last_message_time"] = conv.LastMessageTime
	}
	if conv.LastPostID != "" {
		set["last_post_id"] = conv.LastPostID
		set["last_post_title"] = conv.LastPostTitle
		set["last_post_status"] = conv.LastPostStatus
	}

	opts := options.Update().SetUpsert(true)
	if _, err := s.convs.UpdateOne(ctx, bson.M{"_id": conv.ID}, bson.M{"$set": set}, opts); err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}

	s.bus.Emit(EventConversationUpserted, Change{ConversationID: conv.ID})
	return nil
}

func (s *Mongo) ConversationsWith(ctx context.Context, uid string) ([]chat.Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "last_message_time", Value: -1}})
	cur, err := s.convs.Find(ctx, bson.M{"participants": uid}, opts)
	if err != nil {
		return nil, err
	}
	defer func() { _ = cur.Close(ctx) }()

	var out []chat.Conversation
	for cur.Next(ctx) {
		var doc conversationDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toConversation())
	}
	return out, cur.Err()
}

func decodeMessages(ctx context.Context, cur *mongo.Cursor) ([]chat.Message, error) {
	defer func() { _ = cur.Close(ctx) }()
	var out []chat.Message
	for cur.Next(ctx) {
		var doc messageDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toMessage())
	}
	return out, cur.Err()
}
