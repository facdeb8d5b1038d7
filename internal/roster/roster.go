// Package roster derives the inbox view: one entry per conversation
// partner, annotated with a live last-message preview and unread count.
package roster

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"marketchat/internal/bus"
	"marketchat/internal/chat"
	"marketchat/internal/profile"
	"marketchat/internal/store"
)

// FilterMode selects which roster entries are shown.
type FilterMode string

const (
	FilterAll    FilterMode = "all"
	FilterUnread FilterMode = "unread"
)

// Entry is one roster row.
type Entry struct {
	Profile       profile.Profile
	Preview       string
	When          string
	UnreadCount   int
	LastTimestamp int64
}

// partnerState holds one partner's live feeds and their latest values. Both
// feeds are owned by the aggregator and torn down together, which bounds
// listener growth to two per partner.
type partnerState struct {
	profile    profile.Profile
	last       *chat.Message
	unread     int
	lastFeed   *store.Feed[*chat.Message]
	unreadFeed *store.Feed[int]
}

// Aggregator discovers conversation partners from the signed-in user's
// conversations and keeps a live roster over them. Partners are discovered
// by querying conversations, never by enumerating users.
type Aggregator struct {
	self   string
	store  store.Store
	feeds  *store.Feeds
	dir    profile.Directory
	bus    *bus.Bus
	logger *zap.Logger

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	unsub    func()
	filter   FilterMode
	search   string
	partners map[string]*partnerState
}

// New creates an aggregator for the signed-in user's uid.
func New(selfUID string, st store.Store, feeds *store.Feeds, dir profile.Directory, b *bus.Bus, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		self:     selfUID,
		store:    st,
		feeds:    feeds,
		dir:      dir,
		bus:      b,
		logger:   logger,
		filter:   FilterAll,
		partners: make(map[string]*partnerState),
	}
}

// Start performs the initial partner discovery and then keeps the partner
// set in sync with store change events until Stop or ctx cancellation.
func (a *Aggregator) Start(ctx context.Context) error {
	a.mu.Lock()
	a.ctx, a.cancel = context.WithCancel(ctx)
	ctx = a.ctx
	a.mu.Unlock()

	if err := a.Refresh(ctx); err != nil {
		return err
	}

	events, unsub := a.bus.Subscribe("store.", 128)
	a.mu.Lock()
	a.unsub = unsub
	a.mu.Unlock()

	go func() {
		for {
			select {
			case evt := <-events:
				if a.wantsRefresh(evt) {
					if err := a.Refresh(ctx); err != nil && ctx.Err() == nil {
						a.logger.Warn("roster refresh failed", zap.Error(err))
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// wantsRefresh reports whether evt can change the partner set: any
// conversation upsert, or a message in a conversation we do not track yet
// (a brand-new partner messaging us first).
func (a *Aggregator) wantsRefresh(evt bus.Event) bool {
	change, ok := evt.Payload.(store.Change)
	if !ok {
		return false
	}
	if evt.Kind == store.EventConversationUpserted {
		return true
	}
	if evt.Kind != store.EventMessageAppended {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range a.partners {
		if chat.ConversationID(a.self, p.profile.UID) == change.ConversationID {
			return false
		}
	}
	return true
}

// Stop tears down every per-partner feed and clears all derived state.
// Nothing survives a stopped aggregator; sign-out maps to Stop.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	cancel := a.cancel
	unsub := a.unsub
	partners := a.partners
	a.partners = make(map[string]*partnerState)
	a.cancel = nil
	a.unsub = nil
	a.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if cancel != nil {
		cancel()
	}
	for _, p := range partners {
		p.lastFeed.Cancel()
		p.unreadFeed.Cancel()
	}
}

// Refresh re-derives the partner set from the conversation query, opening
// feeds for new partners and cancelling feeds of vanished ones.
func (a *Aggregator) Refresh(ctx context.Context) error {
	convs, err := a.store.ConversationsWith(ctx, a.self)
	if err != nil {
		return fmt.Errorf("query conversations: %w", err)
	}

	want := make(map[string]bool)
	for _, c := range convs {
		for _, uid := range c.Participants {
			if uid != a.self && uid != "" {
				want[uid] = true
			}
		}
	}

	a.mu.Lock()
	var stale []*partnerState
	for uid, p := range a.partners {
		if !want[uid] {
			stale = append(stale, p)
			delete(a.partners, uid)
		}
	}
	known := make(map[string]bool, len(a.partners))
	for uid := range a.partners {
		known[uid] = true
	}
	a.mu.Unlock()

	for _, p := range stale {
		p.lastFeed.Cancel()
		p.unreadFeed.Cancel()
	}

	for uid := range want {
		if known[uid] {
			continue
		}
		a.addPartner(ctx, uid)
	}
	return nil
}

// addPartner resolves the partner's profile and opens its two live feeds.
// A partner whose profile cannot be found is omitted from the roster; one
// partner's failure never blocks the others.
func (a *Aggregator) addPartner(ctx context.Context, uid string) {
	prof, err := a.dir.Lookup(ctx, uid)
	if err != nil {
		a.logger.Warn("profile lookup failed", zap.String("uid", uid), zap.Error(err))
		return
	}
	if prof == nil {
		a.logger.Info("partner profile missing, omitting from roster", zap.String("uid", uid))
		return
	}

	convID := chat.ConversationID(a.self, uid)
	p := &partnerState{
		profile:    *prof,
		lastFeed:   a.feeds.LastMessage(ctx, convID),
		unreadFeed: a.feeds.UnreadCount(ctx, convID, a.self),
	}

	a.mu.Lock()
	if _, dup := a.partners[uid]; dup {
		a.mu.Unlock()
		p.lastFeed.Cancel()
		p.unreadFeed.Cancel()
		return
	}
	a.partners[uid] = p
	a.mu.Unlock()

	go func() {
		for m := range p.lastFeed.Updates() {
			a.mu.Lock()
			if a.partners[uid] == p {
				p.last = m
			}
			a.mu.Unlock()
			a.bus.Emit("roster.updated", uid)
		}
	}()
	go func() {
		for n := range p.unreadFeed.Updates() {
			a.mu.Lock()
			if a.partners[uid] == p {
				p.unread = n
			}
			a.mu.Unlock()
			a.bus.Emit("roster.updated", uid)
		}
	}()
}

// SetFilter switches between showing all partners and only those with
// unread messages.
func (a *Aggregator) SetFilter(mode FilterMode) error {
	if mode != FilterAll && mode != FilterUnread {
		return fmt.Errorf("unknown filter mode %q", mode)
	}
	a.mu.Lock()
	a.filter = mode
	a.mu.Unlock()
	return nil
}

// SetSearch sets the name/email substring filter applied in FilterAll mode.
func (a *Aggregator) SetSearch(text string) {
	a.mu.Lock()
	a.search = strings.TrimSpace(text)
	a.mu.Unlock()
}

// Filter returns the current filter mode and search text.
func (a *Aggregator) Filter() (FilterMode, string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.filter, a.search
}

// Snapshot renders the roster under the current filter and search text:
// partners with unread messages first, then by last-message time descending.
func (a *Aggregator) Snapshot() []Entry {
	now := time.Now()

	a.mu.Lock()
	entries := make([]Entry, 0, len(a.partners))
	for _, p := range a.partners {
		if !a.matches(p) {
			continue
		}
		e := Entry{
			Profile:     p.profile,
			UnreadCount: p.unread,
			Preview:     previewText(p.last, a.self),
		}
		if p.last != nil {
			e.LastTimestamp = p.last.Timestamp
			e.When = formatWhen(p.last.Timestamp, now)
		}
		entries = append(entries, e)
	}
	a.mu.Unlock()

	sort.SliceStable(entries, func(i, j int) bool {
		iu, ju := entries[i].UnreadCount > 0, entries[j].UnreadCount > 0
		if iu != ju {
			return iu
		}
		return entries[i].LastTimestamp > entries[j].LastTimestamp
	})
	return entries
}

func (a *Aggregator) matches(p *partnerState) bool {
	if a.filter == FilterUnread {
		return p.unread > 0
	}
	if a.search == "" {
		return true
	}
	q := strings.ToLower(a.search)
	return strings.Contains(strings.ToLower(p.profile.Name), q) ||
		strings.Contains(strings.ToLower(p.profile.Email), q)
}
