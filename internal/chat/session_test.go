package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"marketchat/internal/bus"
)

// fakeFeed is a hand-driven MessageFeed. closeOnCancel=false models a feed
// whose pump is still draining when the controller has already moved on,
// which is exactly what the generation guard exists for.
type fakeFeed struct {
	ch            chan []Message
	closeOnCancel bool

	mu        sync.Mutex
	cancelled bool
}

func newFakeFeed(closeOnCancel bool) *fakeFeed {
	return &fakeFeed{ch: make(chan []Message, 4), closeOnCancel: closeOnCancel}
}

func (f *fakeFeed) Updates() <-chan []Message { return f.ch }

func (f *fakeFeed) Cancel() {
	f.mu.Lock()
	already := f.cancelled
	f.cancelled = true
	f.mu.Unlock()
	if !already && f.closeOnCancel {
		close(f.ch)
	}
}

func (f *fakeFeed) wasCancelled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

type fakeReadMarker struct {
	mu     sync.Mutex
	marked []string
	err    error
}

func (f *fakeReadMarker) MarkMessageRead(_ context.Context, _, messageID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.marked = append(f.marked, messageID)
	return nil
}

func (f *fakeReadMarker) markedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.marked...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestSessionOpenRejectsBadPartner(t *testing.T) {
	s := NewSession("me", nil, nil, bus.New(), zap.NewNop())

	if err := s.Open(context.Background(), Partner{}); err == nil {
		t.Error("empty partner accepted")
	}
	if err := s.Open(context.Background(), Partner{UID: "me"}); err != ErrSelfConversation {
		t.Errorf("self open err = %v, want ErrSelfConversation", err)
	}
	if s.State() != StateNoActiveChat {
		t.Errorf("state = %v after rejected opens", s.State())
	}
}

func TestSessionOpenViewsAndSweepsUnread(t *testing.T) {
	feed := newFakeFeed(true)
	reads := &fakeReadMarker{}
	open := func(context.Context, string) MessageFeed { return feed }
	s := NewSession("me", open, reads, bus.New(), zap.NewNop())

	if err := s.Open(context.Background(), Partner{UID: "bob", Name: "Bob"}); err != nil {
		t.Fatal(err)
	}
	if s.State() != StateLoading {
		t.Errorf("state = %v before first emission, want LOADING", s.State())
	}

	feed.ch <- []Message{
		{ID: "m1", Sender: "bob", Text: "hi", Read: false, Type: TypePlain},
		{ID: "m2", Sender: "me", Text: "hey", Read: false, Type: TypePlain},
		{ID: "m3", Sender: "bob", Text: "seen this?", Read: true, Type: TypePlain},
	}

	waitFor(t, func() bool { return s.State() == StateViewing })
	if got := s.Messages(); len(got) != 3 {
		t.Fatalf("got %d messages, want 3", len(got))
	}

	// Only bob's unread message is swept: own messages and already-read
	// ones are left alone.
	waitFor(t, func() bool { return len(reads.markedIDs()) == 1 })
	if ids := reads.markedIDs(); ids[0] != "m1" {
		t.Errorf("marked = %v, want [m1]", ids)
	}

	convID, partner, ok := s.Active()
	if !ok || convID != "bob_me" || partner.UID != "bob" {
		t.Errorf("Active() = %q, %+v, %v", convID, partner, ok)
	}
}

func TestSessionStaleFeedEmissionIgnored(t *testing.T) {
	feedA := newFakeFeed(false) // keeps its channel open after Cancel
	feedB := newFakeFeed(true)
	feeds := []MessageFeed{feedA, feedB}
	open := func(context.Context, string) MessageFeed {
		f := feeds[0]
		feeds = feeds[1:]
		return f
	}
	s := NewSession("me", open, &fakeReadMarker{}, bus.New(), zap.NewNop())

	if err := s.Open(context.Background(), Partner{UID: "alice"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Open(context.Background(), Partner{UID: "bob"}); err != nil {
		t.Fatal(err)
	}
	if !feedA.wasCancelled() {
		t.Error("first feed not cancelled on reopen")
	}

	// A late emission from the replaced conversation must not leak into
	// the new one.
	feedA.ch <- []Message{{ID: "stale", Sender: "alice", Text: "old", Type: TypePlain}}
	feedB.ch <- []Message{{ID: "fresh", Sender: "bob", Text: "new", Type: TypePlain}}

	waitFor(t, func() bool { return s.State() == StateViewing })
	waitFor(t, func() bool {
		msgs := s.Messages()
		return len(msgs) == 1 && msgs[0].ID == "fresh"
	})

	// Give the stale consumer a chance to misbehave, then recheck.
	time.Sleep(50 * time.Millisecond)
	if msgs := s.Messages(); len(msgs) != 1 || msgs[0].ID != "fresh" {
		t.Errorf("stale emission applied: %+v", msgs)
	}
}

func TestSessionCloseClearsState(t *testing.T) {
	feed := newFakeFeed(true)
	open := func(context.Context, string) MessageFeed { return feed }
	s := NewSession("me", open, &fakeReadMarker{}, bus.New(), zap.NewNop())

	if err := s.Open(context.Background(), Partner{UID: "bob"}); err != nil {
		t.Fatal(err)
	}
	feed.ch <- []Message{{ID: "m1", Sender: "bob", Text: "hi", Read: true, Type: TypePlain}}
	waitFor(t, func() bool { return s.State() == StateViewing })

	s.Close()

	if !feed.wasCancelled() {
		t.Error("feed not cancelled on close")
	}
	if s.State() != StateNoActiveChat {
		t.Errorf("state = %v, want NO_ACTIVE_CHAT", s.State())
	}
	if _, _, ok := s.Active(); ok {
		t.Error("Active() reports a conversation after close")
	}
	if len(s.Messages()) != 0 {
		t.Error("messages survive close")
	}

	// Close is idempotent.
	s.Close()
}
