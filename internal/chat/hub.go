package chat

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/veganmessenger/server/internal/auth"
	"github.com/veganmessenger/server/internal/config"
	"github.com/veganmessenger/server/internal/model"
	"github.com/veganmessenger/server/internal/presence"
	"github.com/veganmessenger/server/internal/store"
)

// inboundEvent pairs a parsed envelope with the connection it arrived on.
type inboundEvent struct {
	client *Client
	env    Envelope
}

// Hub owns every live connection and serializes all connection-lifecycle
// events (register, auth, message, typing, read receipt, disconnect)
// through a single event loop. Per-connection ordering is preserved by the
// read pumps; events from different connections have no relative order.
//
// Persistence failures inside event handling are logged and the event is
// dropped: no retry is attempted and no deadline is enforced. Persisted
// messages remain retrievable through the HTTP conversation endpoint,
// which is the recovery path for missed real-time delivery.
type Hub struct {
	store    store.Store
	registry *presence.Registry
	tokens   *auth.TokenIssuer
	cfg      *config.Config
	logger   *zap.Logger

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	inbound    chan inboundEvent

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewHub creates a hub over the given store, presence registry, and token
// issuer. Run must be called for the hub to process events.
func NewHub(st store.Store, registry *presence.Registry, tokens *auth.TokenIssuer, cfg *config.Config, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		store:      st,
		registry:   registry,
		tokens:     tokens,
		cfg:        cfg,
		logger:     logger,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inboundEvent),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Run is the hub's event loop. It should be started in its own goroutine
// and runs until Shutdown is called.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			h.clients[client] = true
			h.logger.Info("client connected",
				zap.String("addr", client.addr),
				zap.Int("clients", len(h.clients)))

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump()
			}()

		case client := <-h.unregister:
			h.teardown(client)

		case ev := <-h.inbound:
			h.handleEvent(ev.client, ev.env)
		}
	}
}

// teardown removes a disconnecting client. An authenticated client leaves
// the presence registry and its online contacts each receive one
// "offline" status event.
func (h *Hub) teardown(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)

	if c.state == stateAuthenticated {
		h.registry.SetOffline(c.userID)
		h.broadcastStatus(c.userID, "offline")
		h.logger.Info("user disconnected",
			zap.String("userId", c.userID),
			zap.String("addr", c.addr))
	} else {
		h.logger.Info("client disconnected",
			zap.String("addr", c.addr))
	}

	c.state = stateClosed
	if c.markClosed() {
		close(c.send)
	}
}

func (h *Hub) handleEvent(c *Client, env Envelope) {
	switch env.Event {
	case EventAuth:
		h.handleAuth(c, env)
	case EventSendMessage:
		h.handleSendMessage(c, env)
	case EventTyping:
		h.handleTyping(c, env)
	case EventMarkRead:
		h.handleMarkRead(c, env)
	default:
		c.sendError("Unknown event type")
	}
}

// handleAuth runs the authentication handshake: the token must validate
// and its subject must be the claimed user id. Success registers the
// connection in the presence registry (overwriting any previous entry for
// the same user) and announces "online" to every online contact.
func (h *Hub) handleAuth(c *Client, env Envelope) {
	var payload AuthPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil || payload.UserID == "" || payload.Token == "" {
		c.sendError("Invalid auth payload")
		return
	}

	subject, err := h.tokens.Validate(payload.Token)
	if err != nil || subject != payload.UserID {
		c.sendError("Invalid credentials")
		return
	}

	c.userID = payload.UserID
	c.state = stateAuthenticated
	h.registry.SetOnline(c.userID, c)

	c.sendEvent(EventAuthOK, map[string]string{"userId": c.userID})
	h.broadcastStatus(c.userID, "online")

	h.logger.Info("user authenticated",
		zap.String("userId", c.userID),
		zap.String("addr", c.addr))
}

// requireAuth rejects messaging operations attempted before the auth
// handshake instead of accepting them with an empty user id.
func (h *Hub) requireAuth(c *Client, operation string) bool {
	if c.state != stateAuthenticated {
		c.sendError("Not authenticated: " + operation)
		return false
	}
	return true
}

// handleSendMessage assigns the message an id and read=false, appends it
// to the log, delivers it to the recipient's live connection if present,
// and echoes it back to the sender so the sender's UI reflects the
// authoritative stored copy.
func (h *Hub) handleSendMessage(c *Client, env Envelope) {
	if !h.requireAuth(c, EventSendMessage) {
		return
	}

	var payload SendMessagePayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		c.sendError("Invalid message payload")
		return
	}
	if payload.RecipientID == "" {
		c.sendError("Recipient required")
		return
	}
	if payload.Content == "" {
		c.sendError("Message content required")
		return
	}

	if _, err := h.store.UserByID(payload.RecipientID); err != nil {
		if err == store.ErrNotFound {
			c.sendError("Recipient not found")
		} else {
			h.logger.Error("recipient lookup failed", zap.Error(err))
		}
		return
	}

	msg := model.Message{
		ID:          uuid.NewString(),
		SenderID:    c.userID,
		RecipientID: payload.RecipientID,
		Content:     payload.Content,
		Timestamp:   time.Now().UTC(),
		Read:        false,
	}

	if err := h.store.AppendMessage(msg); err != nil {
		h.logger.Error("failed to persist message",
			zap.String("senderId", msg.SenderID),
			zap.String("recipientId", msg.RecipientID),
			zap.Error(err))
		return
	}

	payload2, err := encodeEvent(EventNewMessage, msg)
	if err != nil {
		h.logger.Error("failed to encode message event", zap.Error(err))
		return
	}

	if conn, ok := h.registry.Get(msg.RecipientID); ok {
		conn.Send(payload2)
	}
	c.Send(payload2)
}

// handleTyping forwards a typing indicator to the addressed contact if
// they are online; an offline contact makes this a no-op (not queued, not
// retried).
func (h *Hub) handleTyping(c *Client, env Envelope) {
	if !h.requireAuth(c, EventTyping) {
		return
	}

	var payload TypingPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil || payload.ContactID == "" {
		c.sendError("Invalid typing payload")
		return
	}

	conn, ok := h.registry.Get(payload.ContactID)
	if !ok {
		return
	}

	forwarded, err := encodeEvent(EventUserTyping, UserTypingPayload{
		UserID:   c.userID,
		IsTyping: payload.IsTyping,
	})
	if err != nil {
		h.logger.Error("failed to encode typing event", zap.Error(err))
		return
	}
	conn.Send(forwarded)
}

// handleMarkRead flips the read flag on every unread message from the
// contact to the authenticated user. The recipient is always the
// authenticated identity, never a client-supplied field. The contact is
// notified if online.
func (h *Hub) handleMarkRead(c *Client, env Envelope) {
	if !h.requireAuth(c, EventMarkRead) {
		return
	}

	var payload MarkReadPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil || payload.ContactID == "" {
		c.sendError("Invalid mark_read payload")
		return
	}

	if _, err := h.store.MarkConversationRead(payload.ContactID, c.userID); err != nil {
		h.logger.Error("failed to mark conversation read",
			zap.String("contactId", payload.ContactID),
			zap.String("userId", c.userID),
			zap.Error(err))
		return
	}

	conn, ok := h.registry.Get(payload.ContactID)
	if !ok {
		return
	}

	notice, err := encodeEvent(EventMessagesRead, MessagesReadPayload{UserID: c.userID})
	if err != nil {
		h.logger.Error("failed to encode read receipt", zap.Error(err))
		return
	}
	conn.Send(notice)
}

// broadcastStatus fans a presence change out to the contact list of the
// affected user, delivering only to contacts that are currently online.
// The broadcast cost is bounded by contact-list size, not by the number
// of connected users.
func (h *Hub) broadcastStatus(userID, status string) {
	contacts, err := h.store.Contacts(userID)
	if err != nil {
		h.logger.Error("failed to load contacts for presence broadcast",
			zap.String("userId", userID), zap.Error(err))
		return
	}

	payload, err := encodeEvent(EventUserStatus, UserStatusPayload{
		UserID: userID,
		Status: status,
	})
	if err != nil {
		h.logger.Error("failed to encode status event", zap.Error(err))
		return
	}

	for _, contactID := range contacts {
		if conn, ok := h.registry.Get(contactID); ok {
			conn.Send(payload)
		}
	}
}

// shutdownClients closes every live connection so the pump goroutines
// unwind.
func (h *Hub) shutdownClients() {
	h.logger.Info("closing client connections", zap.Int("count", len(h.clients)))

	for client := range h.clients {
		if client.markClosed() {
			close(client.send)
		}
		if client.conn != nil {
			if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
				h.logger.Warn("error closing client connection",
					zap.String("addr", client.addr), zap.Error(err))
			}
		}
	}
}

// Shutdown stops the event loop, closes every connection, and waits for
// all pump goroutines to finish or the timeout to elapse.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("hub shutting down")

	h.cancel()
	<-h.done

	finished := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		h.logger.Info("hub shutdown complete")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("hub shutdown timed out")
		return context.DeadlineExceeded
	}
}
