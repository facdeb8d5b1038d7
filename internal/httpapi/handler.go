// Package httpapi exposes the chat core to UI collaborators over a local
// HTTP + SSE surface. It is a thin translation layer: all invariants live
// in the chat, roster and store packages.
package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"marketchat/internal/bus"
	"marketchat/internal/chat"
	"marketchat/internal/prefs"
	"marketchat/internal/profile"
	"marketchat/internal/roster"
	"marketchat/internal/status"
)

// Handler carries the wired chat core for the route handlers.
type Handler struct {
	base     context.Context
	session  *chat.Session
	composer *chat.Composer
	roster   *roster.Aggregator
	prefs    *prefs.DB
	machine  *status.Machine
	dir      profile.Directory
	bus      *bus.Bus
	logger   *zap.Logger
}

// NewHandler creates the API handler. base outlives individual requests and
// scopes the live feeds opened on behalf of the UI.
func NewHandler(base context.Context, session *chat.Session, composer *chat.Composer, agg *roster.Aggregator, p *prefs.DB, m *status.Machine, dir profile.Directory, b *bus.Bus, logger *zap.Logger) *Handler {
	return &Handler{
		base:     base,
		session:  session,
		composer: composer,
		roster:   agg,
		prefs:    p,
		machine:  m,
		dir:      dir,
		bus:      b,
		logger:   logger,
	}
}

// Register mounts all routes on the engine.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/healthz", h.health)

	v1 := r.Group("/v1")
	v1.GET("/status", h.statusHandler)
	v1.GET("/roster", h.rosterHandler)
	v1.PUT("/roster/filter", h.setRosterFilter)
	v1.POST("/conversations/open", h.openConversation)
	v1.DELETE("/conversations/active", h.closeConversation)
	v1.GET("/conversations/active", h.activeConversation)
	v1.POST("/messages", h.sendMessage)
	v1.POST("/inquiries", h.sendInquiry)
	v1.GET("/events", h.events)
	v1.GET("/prefs/:key", h.getPref)
	v1.PUT("/prefs/:key", h.setPref)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) statusHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"state": h.machine.Current()})
}

type messageView struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversation_id"`
	Sender         string       `json:"sender"`
	Text           string       `json:"text"`
	OriginalText   string       `json:"original_text,omitempty"`
	Timestamp      int64        `json:"timestamp"`
	Read           bool         `json:"read"`
	Type           string       `json:"type"`
	PostRef        *postRefView `json:"post_ref,omitempty"`
}

type postRefView struct {
	PostID      string `json:"post_id"`
	Title       string `json:"title"`
	Status      string `json:"status"`
	Category    string `json:"category"`
	Location    string `json:"location"`
	Image       string `json:"image,omitempty"`
	Description string `json:"description,omitempty"`
	OwnerName   string `json:"owner_name"`
	OwnerUID    string `json:"owner_uid"`
	CreatedAt   int64  `json:"created_at"`
	PostType    string `json:"post_type"`
	Price       string `json:"price,omitempty"`
	Condition   string `json:"condition,omitempty"`
}

func toMessageView(m chat.Message) messageView {
	v := messageView{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Sender:         m.Sender,
		Text:           m.Text,
		OriginalText:   m.OriginalText,
		Timestamp:      m.Timestamp,
		Read:           m.Read,
		Type:           string(m.Type),
	}
	if m.PostRef != nil {
		v.PostRef = &postRefView{
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
	return v
}

type rosterEntryView struct {
	UID         string `json:"uid"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	PhotoURL    string `json:"photo_url,omitempty"`
	Preview     string `json:"preview"`
	When        string `json:"when"`
	UnreadCount int    `json:"unread_count"`
	Timestamp   int64  `json:"timestamp"`
}

func (h *Handler) rosterHandler(c *gin.Context) {
	if f := c.Query("filter"); f != "" {
		if err := h.roster.SetFilter(roster.FilterMode(f)); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if q, ok := c.GetQuery("q"); ok {
		h.roster.SetSearch(q)
	}
	entries := h.roster.Snapshot()
	views := make([]rosterEntryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, rosterEntryView{
			UID:         e.Profile.UID,
			Name:        e.Profile.Name,
			Email:       e.Profile.Email,
			PhotoURL:    e.Profile.PhotoURL,
			Preview:     e.Preview,
			When:        e.When,
			UnreadCount: e.UnreadCount,
			Timestamp:   e.LastTimestamp,
		})
	}
	mode, search := h.roster.Filter()
	c.JSON(http.StatusOK, gin.H{"partners": views, "filter": mode, "search": search})
}

type filterRequest struct {
	Filter string `json:"filter"`
	Search string `json:"search"`
}

func (h *Handler) setRosterFilter(c *gin.Context) {
	var req filterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Filter != "" {
		if err := h.roster.SetFilter(roster.FilterMode(req.Filter)); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	h.roster.SetSearch(req.Search)
	c.Status(http.StatusNoContent)
}

type openRequest struct {
	PartnerUID string `json:"partner_uid"`
}

func (h *Handler) openConversation(c *gin.Context) {
	var req openRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	prof, err := h.dir.Lookup(c.Request.Context(), req.PartnerUID)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "profile lookup failed"})
		return
	}
	if prof == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown partner"})
		return
	}
	// The feed must outlive this request; it is scoped to the daemon.
	if err := h.session.Open(h.base, chat.Partner{UID: prof.UID, Name: prof.Name}); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	convID, _, _ := h.session.Active()
	c.JSON(http.StatusOK, gin.H{"conversation_id": convID, "partner": prof.UID})
}

func (h *Handler) closeConversation(c *gin.Context) {
	h.session.Close()
	c.Status(http.StatusNoContent)
}

func (h *Handler) activeConversation(c *gin.Context) {
	convID, partner, ok := h.session.Active()
	if !ok {
		c.JSON(http.StatusOK, gin.H{"state": h.session.State()})
		return
	}
	msgs := h.session.Messages()
	views := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, toMessageView(m))
	}
	c.JSON(http.StatusOK, gin.H{
		"state":           h.session.State(),
		"conversation_id": convID,
		"partner":         gin.H{"uid": partner.UID, "name": partner.Name},
		"messages":        views,
	})
}

type sendRequest struct {
	Text string `json:"text"`
}

func (h *Handler) sendMessage(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	_, partner, ok := h.session.Active()
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "no active conversation"})
		return
	}
	msg, err := h.composer.Send(c.Request.Context(), partner.UID, req.Text)
	if err != nil {
		h.writeSendError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toMessageView(*msg))
}

type inquiryRequest struct {
	Text    string      `json:"text"`
	Listing listingBody `json:"listing"`
}

type listingBody struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Status      string `json:"status"`
	Category    string `json:"category"`
	Location    string `json:"location"`
	Image       string `json:"image"`
	Description string `json:"description"`
	OwnerName   string `json:"owner_name"`
	OwnerUID    string `json:"owner_uid"`
	CreatedAt   int64  `json:"created_at"`
	Type        string `json:"type"`
	Price       string `json:"price"`
	Condition   string `json:"condition"`
}

func (h *Handler) sendInquiry(c *gin.Context) {
	var req inquiryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	listing := chat.Listing{
		ID:          req.Listing.ID,
		Title:       req.Listing.Title,
		Status:      req.Listing.Status,
		Category:    req.Listing.Category,
		Location:    req.Listing.Location,
		Image:       req.Listing.Image,
		Description: req.Listing.Description,
		OwnerName:   req.Listing.OwnerName,
		OwnerUID:    req.Listing.OwnerUID,
		CreatedAt:   req.Listing.CreatedAt,
		Type:        chat.ListingType(req.Listing.Type),
		Price:       req.Listing.Price,
		Condition:   req.Listing.Condition,
	}
	msg, err := h.composer.SendPostInquiry(c.Request.Context(), listing.OwnerUID, listing, req.Text)
	if err != nil {
		h.writeSendError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toMessageView(*msg))
}

func (h *Handler) writeSendError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, chat.ErrSelfConversation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, chat.ErrNotSignedIn):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	default:
		// Store failure: the message was not sent; the client keeps the
		// compose box populated and may retry.
		h.logger.Warn("send failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "send failed, retry"})
	}
}

// events bridges the in-process bus onto a server-sent event stream so the
// UI can re-render on chat/roster/status changes.
func (h *Handler) events(c *gin.Context) {
	ch, unsub := h.bus.Subscribe("", 128)
	defer unsub()

	c.Stream(func(_ io.Writer) bool {
		select {
		case evt := <-ch:
			c.SSEvent(evt.Kind, gin.H{"at": evt.Timestamp.UnixMilli()})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (h *Handler) getPref(c *gin.Context) {
	value, err := h.prefs.Get(c.Param("key"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": c.Param("key"), "value": value})
}

type prefRequest struct {
	Value string `json:"value"`
}

func (h *Handler) setPref(c *gin.Context) {
	var req prefRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.prefs.Set(c.Param("key"), req.Value); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
