package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"marketchat/internal/bus"
	"marketchat/internal/chat"
)

// Memory is an in-process Store used by tests and the memory driver. It
// mirrors the Mongo implementation's semantics: monotonic (timestamp, seq)
// assignment, merge upserts, recipient-only read flips, and change events
// on the bus after every successful write.
type Memory struct {
	bus *bus.Bus
	now func() time.Time

	mu     sync.Mutex
	convs  map[string]*chat.Conversation
	msgs   map[string][]chat.Message // per conversation, ascending
	seqs   map[string]int64
	lastTS int64
}

// NewMemory creates an empty in-memory store. bus may be nil when live
// feeds are not needed.
func NewMemory(b *bus.Bus) *Memory {
	return &Memory{
		bus:   b,
		now:   time.Now,
		convs: make(map[string]*chat.Conversation),
		msgs:  make(map[string][]chat.Message),
		seqs:  make(map[string]int64),
	}
}

// SetClock overrides the timestamp source. Test hook.
func (s *Memory) SetClock(now func() time.Time) { s.now = now }

func (s *Memory) emit(kind string, c Change) {
	if s.bus != nil {
		s.bus.Emit(kind, c)
	}
}

func (s *Memory) AppendMessage(_ context.Context, m *chat.Message) (*chat.Message, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	stored := *m
	stored.ID = uuid.New().String()
	ts := s.now().UnixMilli()
	// Timestamps never move backwards even if the clock does; ties within
	// a conversation are broken by Seq.
	if ts < s.lastTS {
		ts = s.lastTS
	}
	s.lastTS = ts
	stored.Timestamp = ts
	s.seqs[m.ConversationID]++
	stored.Seq = s.seqs[m.ConversationID]
	s.msgs[m.ConversationID] = append(s.msgs[m.ConversationID], stored)
	s.mu.Unlock()

	s.emit(EventMessageAppended, Change{ConversationID: stored.ConversationID, MessageID: stored.ID})
	out := stored
	return &out, nil
}

func (s *Memory) Messages(_ context.Context, conversationID string) ([]chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]chat.Message, len(s.msgs[conversationID]))
	copy(out, s.msgs[conversationID])
	return out, nil
}

func (s *Memory) LastMessage(_ context.Context, conversationID string) (*chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.msgs[conversationID]
	if len(seq) == 0 {
		return nil, nil
	}
	last := seq[len(seq)-1]
	return &last, nil
}

func (s *Memory) UnreadCount(ctx context.Context, conversationID, selfUID string) (int, error) {
	msgs, err := s.UnreadMessages(ctx, conversationID, selfUID)
	if err != nil {
		return 0, err
	}
	return len(msgs), nil
}

func (s *Memory) UnreadMessages(_ context.Context, conversationID, selfUID string) ([]chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []chat.Message
	for _, m := range s.msgs[conversationID] {
		if m.Sender != selfUID && !m.Read {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Memory) MarkMessageRead(_ context.Context, conversationID, messageID, readerUID string) error {
	s.mu.Lock()
	seq := s.msgs[conversationID]
	idx := -1
	for i := range seq {
		if seq[i].ID == messageID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return ErrNotFound
	}
	if seq[idx].Sender == readerUID {
		s.mu.Unlock()
		return ErrSelfRead
	}
	if seq[idx].Read {
		// Already read; the flag is monotonic and the flip idempotent.
		s.mu.Unlock()
		return nil
	}
	seq[idx].Read = true
	s.mu.Unlock()

	s.emit(EventMessageRead, Change{ConversationID: conversationID, MessageID: messageID})
	return nil
}

func (s *Memory) UpsertConversation(_ context.Context, conv chat.Conversation) error {
	s.mu.Lock()
	existing, ok := s.convs[conv.ID]
	if !ok {
		stored := conv
		stored.Participants = append([]string(nil), conv.Participants...)
		s.convs[conv.ID] = &stored
	} else {
		// Merge semantics: zero-valued fields never clobber stored ones.
		if len(conv.Participants) > 0 {
			existing.Participants = append([]string(nil), conv.Participants...)
		}
		if conv.LastMessageText != "" {
			existing.LastMessageText = conv.LastMessageText
		}
		if conv.LastMessageTime != 0 {
			existing.LastMessageTime = conv.LastMessageTime
		}
		if conv.LastPostID != "" {
			existing.LastPostID = conv.LastPostID
		}
		if conv.LastPostTitle != "" {
			existing.LastPostTitle = conv.LastPostTitle
		}
		if conv.LastPostStatus != "" {
			existing.LastPostStatus = conv.LastPostStatus
		}
	}
	s.mu.Unlock()

	s.emit(EventConversationUpserted, Change{ConversationID: conv.ID})
	return nil
}

func (s *Memory) ConversationsWith(_ context.Context, uid string) ([]chat.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []chat.Conversation
	for _, c := range s.convs {
		for _, p := range c.Participants {
			if p == uid {
				cp := *c
				cp.Participants = append([]string(nil), c.Participants...)
				out = append(out, cp)
				break
			}
		}
	}
	// Most recently active first.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastMessageTime > out[j].LastMessageTime
	})
	return out, nil
}
