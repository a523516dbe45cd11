// Package chat implements the real-time messaging channel: the connection
// lifecycle state machine, the hub event loop that serializes all
// connection events, and the fan-out of messages, typing indicators, read
// receipts, and presence changes to online contacts.
package chat

import "encoding/json"

// Client-originated event names.
const (
	EventAuth        = "auth"
	EventSendMessage = "send_message"
	EventTyping      = "typing"
	EventMarkRead    = "mark_read"
)

// Server-originated event names.
const (
	EventAuthOK       = "auth_ok"
	EventNewMessage   = "new_message"
	EventUserTyping   = "user_typing"
	EventMessagesRead = "messages_read"
	EventUserStatus   = "user_status"
	EventError        = "error"
)

// Envelope is the JSON frame exchanged in both directions over the
// websocket: an event name plus an event-specific payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// AuthPayload carries the authentication handshake. The token is the JWT
// issued at login or registration; its subject must match UserID.
type AuthPayload struct {
	UserID string `json:"userId"`
	Token  string `json:"token"`
}

// SendMessagePayload carries an outgoing direct message. The sender is
// always the authenticated user of the connection, never a client-supplied
// field.
type SendMessagePayload struct {
	RecipientID string `json:"recipientId"`
	Content     string `json:"content"`
}

// TypingPayload carries a typing indicator addressed to a contact.
type TypingPayload struct {
	ContactID string `json:"contactId"`
	IsTyping  bool   `json:"isTyping"`
}

// MarkReadPayload asks the server to mark every unread message from
// ContactID to the authenticated user as read.
type MarkReadPayload struct {
	ContactID string `json:"contactId"`
}

// UserTypingPayload is forwarded to the addressed contact.
type UserTypingPayload struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// MessagesReadPayload notifies a sender that their messages were read by
// UserID.
type MessagesReadPayload struct {
	UserID string `json:"userId"`
}

// UserStatusPayload announces a presence change of a contact.
type UserStatusPayload struct {
	UserID string `json:"userId"`
	Status string `json:"status"` // "online" or "offline"
}

// ErrorPayload reports a rejected operation to the client.
type ErrorPayload struct {
	Message string `json:"message"`
}

// encodeEvent serializes an envelope for the wire.
func encodeEvent(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}
