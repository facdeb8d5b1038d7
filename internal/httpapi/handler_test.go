package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"marketchat/internal/bus"
	"marketchat/internal/chat"
	"marketchat/internal/prefs"
	"marketchat/internal/profile"
	"marketchat/internal/roster"
	"marketchat/internal/status"
	"marketchat/internal/store"
)

type harness struct {
	engine *gin.Engine
	store  *store.Memory
	agg    *roster.Aggregator
}

// newHarness wires the whole core over the memory store, the same shape the
// daemon assembles in production.
func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zap.NewNop()
	b := bus.New()
	mem := store.NewMemory(b)
	feeds := store.NewFeeds(mem, b, logger)
	dir := profile.Static{
		"bob":   {UID: "bob", Name: "Bob Okafor", Email: "bob@campus.edu"},
		"alice": {UID: "alice", Name: "Alice Chen", Email: "alice@campus.edu"},
	}

	open := func(ctx context.Context, conversationID string) chat.MessageFeed {
		return feeds.Messages(ctx, conversationID)
	}
	sess := chat.NewSession("me", open, mem, b, logger)
	t.Cleanup(sess.Close)
	comp := chat.NewComposer("me", mem, nil, b, logger)

	agg := roster.New("me", mem, feeds, dir, b, logger)
	if err := agg.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(agg.Stop)

	db, err := prefs.Open(filepath.Join(t.TempDir(), "prefs.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	machine := status.NewMachine(b)
	h := NewHandler(context.Background(), sess, comp, agg, db, machine, dir, b, logger)

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	h.Register(engine)
	return &harness{engine: engine, store: mem, agg: agg}
}

func (h *harness) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("bad json %q: %v", w.Body.String(), err)
	}
	return out
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodGet, "/v1/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := decode(t, w)["state"]; got != "BOOTING" {
		t.Errorf("state = %v", got)
	}
}

func TestOpenUnknownPartner(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodPost, "/v1/conversations/open", `{"partner_uid":"ghost"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestSendWithoutActiveConversation(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodPost, "/v1/messages", `{"text":"hi"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

func TestOpenSendAndView(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/v1/conversations/open", `{"partner_uid":"bob"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("open status = %d: %s", w.Code, w.Body.String())
	}
	if got := decode(t, w)["conversation_id"]; got != "bob_me" {
		t.Errorf("conversation_id = %v", got)
	}

	w = h.do(t, http.MethodPost, "/v1/messages", `{"text":"  is the lamp still available?  "}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("send status = %d: %s", w.Code, w.Body.String())
	}
	sent := decode(t, w)
	if sent["text"] != "is the lamp still available?" {
		t.Errorf("text = %v", sent["text"])
	}
	if sent["sender"] != "me" || sent["read"] != false {
		t.Errorf("message = %v", sent)
	}

	// The active view catches up through the live feed.
	deadline := time.Now().Add(2 * time.Second)
	for {
		w = h.do(t, http.MethodGet, "/v1/conversations/active", "")
		body := decode(t, w)
		if msgs, ok := body["messages"].([]any); ok && len(msgs) == 1 && body["state"] == "VIEWING" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("active view never converged: %s", w.Body.String())
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Empty text is rejected without touching the store.
	w = h.do(t, http.MethodPost, "/v1/messages", `{"text":"   "}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty send status = %d", w.Code)
	}

	// Close the conversation.
	w = h.do(t, http.MethodDelete, "/v1/conversations/active", "")
	if w.Code != http.StatusNoContent {
		t.Errorf("close status = %d", w.Code)
	}
	w = h.do(t, http.MethodGet, "/v1/conversations/active", "")
	if got := decode(t, w)["state"]; got != "NO_ACTIVE_CHAT" {
		t.Errorf("state after close = %v", got)
	}
}

func TestSendInquiry(t *testing.T) {
	h := newHarness(t)

	if w := h.do(t, http.MethodPost, "/v1/conversations/open", `{"partner_uid":"bob"}`); w.Code != http.StatusOK {
		t.Fatalf("open status = %d", w.Code)
	}

	body := `{
		"text": "still available?",
		"listing": {
			"id": "post-1", "title": "Desk lamp", "status": "For Sale",
			"owner_name": "Bob Okafor", "owner_uid": "bob", "type": "trade"
		}
	}`
	w := h.do(t, http.MethodPost, "/v1/inquiries", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("inquiry status = %d: %s", w.Code, w.Body.String())
	}
	sent := decode(t, w)
	if sent["type"] != "post_inquiry" {
		t.Errorf("type = %v", sent["type"])
	}
	if sent["text"] != "[For Sale: Desk lamp] still available?" {
		t.Errorf("text = %v", sent["text"])
	}
	if sent["post_ref"] == nil {
		t.Error("post_ref missing")
	}
}

func TestRosterEndpoint(t *testing.T) {
	h := newHarness(t)

	ctx := context.Background()
	convID := chat.ConversationID("me", "alice")
	m, err := h.store.AppendMessage(ctx, &chat.Message{
		ConversationID: convID, Sender: "alice", Text: "hey!", Type: chat.TypePlain,
	})
	if err != nil {
		t.Fatal(err)
	}
	err = h.store.UpsertConversation(ctx, chat.Conversation{
		ID: convID, Participants: []string{"me", "alice"},
		LastMessageText: "hey!", LastMessageTime: m.Timestamp,
	})
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		w := h.do(t, http.MethodGet, "/v1/roster", "")
		body := decode(t, w)
		if partners, ok := body["partners"].([]any); ok && len(partners) == 1 {
			entry := partners[0].(map[string]any)
			if entry["uid"] != "alice" || entry["unread_count"] != float64(1) {
				t.Errorf("entry = %v", entry)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("roster never converged: %s", w.Body.String())
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Filter validation.
	if w := h.do(t, http.MethodPut, "/v1/roster/filter", `{"filter":"recent"}`); w.Code != http.StatusBadRequest {
		t.Errorf("bad filter status = %d", w.Code)
	}
	if w := h.do(t, http.MethodPut, "/v1/roster/filter", `{"filter":"unread"}`); w.Code != http.StatusNoContent {
		t.Errorf("filter status = %d", w.Code)
	}
}

func TestPrefsEndpoints(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodGet, "/v1/prefs/onboarding", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := decode(t, w)["value"]; got != "" {
		t.Errorf("unset pref = %v", got)
	}

	if w := h.do(t, http.MethodPut, "/v1/prefs/onboarding", `{"value":"done"}`); w.Code != http.StatusNoContent {
		t.Fatalf("put status = %d", w.Code)
	}
	w = h.do(t, http.MethodGet, "/v1/prefs/onboarding", "")
	if got := decode(t, w)["value"]; got != "done" {
		t.Errorf("pref = %v", got)
	}
}
