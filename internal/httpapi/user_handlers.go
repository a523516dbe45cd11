package httpapi

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/veganmessenger/server/internal/model"
	"github.com/veganmessenger/server/internal/router"
	"github.com/veganmessenger/server/internal/store"
)

// Health reports liveness.
func (a *API) Health(_ *router.Ctx) *router.Response {
	return router.Text(http.StatusOK, "Vegan Messenger server is running")
}

// SearchUser looks a user up by exact phone or email.
func (a *API) SearchUser(ctx *router.Ctx) *router.Response {
	query := ctx.Request.URL.Query()
	phone := query.Get("phone")
	email := query.Get("email")

	if phone == "" && email == "" {
		return fail(http.StatusBadRequest, "phone or email query parameter required")
	}

	var (
		user model.User
		err  error
	)
	if phone != "" {
		user, err = a.store.UserByPhone(phone)
	} else {
		user, err = a.store.UserByEmail(email)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fail(http.StatusNotFound, "User not found")
		}
		a.logger.Error("user search failed", zap.Error(err))
		return fail(http.StatusInternalServerError, "Server error")
	}

	return ok(http.StatusOK, map[string]any{"user": user.Public()})
}

// ListContacts returns the caller's contact list decorated with the last
// message, unread count, and live-presence flag per contact.
func (a *API) ListContacts(ctx *router.Ctx) *router.Response {
	userID := ctx.Params["userId"]
	if userID != currentUser(ctx) {
		return fail(http.StatusUnauthorized, "Not authorized")
	}

	contactIDs, err := a.store.Contacts(userID)
	if err != nil {
		a.logger.Error("failed to load contacts", zap.Error(err))
		return fail(http.StatusInternalServerError, "Server error")
	}

	contacts := make([]model.ContactInfo, 0, len(contactIDs))
	for _, contactID := range contactIDs {
		contact, err := a.store.UserByID(contactID)
		if err != nil {
			a.logger.Warn("skipping unknown contact",
				zap.String("contactId", contactID), zap.Error(err))
			continue
		}

		info := model.ContactInfo{
			PublicUser: contact.Public(),
			Online:     a.registry.Online(contactID),
		}

		if last, found, err := a.store.LastMessage(userID, contactID); err == nil && found {
			info.LastMessage = last.Content
			info.Time = last.Timestamp.Format(time.RFC3339)
		}
		if unread, err := a.store.UnreadCount(contactID, userID); err == nil {
			info.Unread = unread
		}

		contacts = append(contacts, info)
	}

	return ok(http.StatusOK, map[string]any{"contacts": contacts})
}

type addContactRequest struct {
	UserID    string `json:"userId" validate:"required"`
	ContactID string `json:"contactId" validate:"required"`
}

// AddContact records the mutual contact edge. Repeating the call reports
// the contact as already present instead of failing.
func (a *API) AddContact(ctx *router.Ctx) *router.Response {
	var req addContactRequest
	if resp := a.decode(ctx, &req); resp != nil {
		return resp
	}

	if req.UserID != currentUser(ctx) {
		return fail(http.StatusUnauthorized, "Not authorized")
	}
	if req.UserID == req.ContactID {
		return fail(http.StatusBadRequest, "Cannot add yourself as a contact")
	}

	if _, err := a.store.UserByID(req.ContactID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fail(http.StatusNotFound, "User not found")
		}
		a.logger.Error("contact lookup failed", zap.Error(err))
		return fail(http.StatusInternalServerError, "Server error")
	}

	added, err := a.store.AddContact(req.UserID, req.ContactID)
	if err != nil {
		a.logger.Error("failed to add contact", zap.Error(err))
		return fail(http.StatusInternalServerError, "Server error")
	}

	message := "Contact added"
	if !added {
		message = "Already in contacts"
	}
	return ok(http.StatusOK, map[string]any{
		"added":   added,
		"message": message,
	})
}

// Conversation returns the full message history with a contact, oldest
// first, and marks everything the contact sent the caller as read.
func (a *API) Conversation(ctx *router.Ctx) *router.Response {
	userID := ctx.Params["userId"]
	contactID := ctx.Params["contactId"]
	if userID != currentUser(ctx) {
		return fail(http.StatusUnauthorized, "Not authorized")
	}

	// Flip the read flags first so the returned snapshot is consistent
	// with the stored state.
	if _, err := a.store.MarkConversationRead(contactID, userID); err != nil {
		a.logger.Error("failed to mark conversation read",
			zap.String("userId", userID),
			zap.String("contactId", contactID),
			zap.Error(err))
	}

	messages, err := a.store.Conversation(userID, contactID)
	if err != nil {
		a.logger.Error("failed to load conversation", zap.Error(err))
		return fail(http.StatusInternalServerError, "Server error")
	}

	return ok(http.StatusOK, map[string]any{"messages": messages})
}
