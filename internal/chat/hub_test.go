package chat

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/veganmessenger/server/internal/auth"
	"github.com/veganmessenger/server/internal/config"
	"github.com/veganmessenger/server/internal/model"
	"github.com/veganmessenger/server/internal/presence"
	"github.com/veganmessenger/server/internal/store"
)

type testEnv struct {
	server *httptest.Server
	store  store.Store
	tokens *auth.TokenIssuer
	hub    *Hub
}

func newTestEnv(t *testing.T, origins ...string) *testEnv {
	t.Helper()

	if len(origins) == 0 {
		origins = []string{"*"}
	}

	st, err := store.OpenFile(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	cfg := config.Default()
	cfg.AllowedOrigins = origins
	cfg.RateLimit.Burst = 100

	tokens := auth.NewTokenIssuer("test-secret", time.Hour)
	hub := NewHub(st, presence.NewRegistry(), tokens, cfg, zap.NewNop())
	go hub.Run()

	handler := NewHandler(hub, NewOriginChecker(cfg.AllowedOrigins, nil), zap.NewNop())
	srv := httptest.NewServer(handler)

	t.Cleanup(func() {
		_ = hub.Shutdown(2 * time.Second)
		srv.Close()
		_ = st.Close()
	})

	return &testEnv{server: srv, store: st, tokens: tokens, hub: hub}
}

func (e *testEnv) addUser(t *testing.T, id, username string) model.User {
	t.Helper()

	u := model.User{
		ID:           id,
		Username:     username,
		FullName:     username,
		Email:        username + "@example.com",
		Phone:        "+1555-" + id,
		PasswordHash: "x",
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, e.store.CreateUser(u))
	return u
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(e.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendClientEvent(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()

	payload, err := encodeEvent(event, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))
}

// awaitEvent reads frames until one with the given event name arrives,
// skipping interleaved presence or receipt traffic.
func awaitEvent(t *testing.T, conn *websocket.Conn, event string) Envelope {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for i := 0; i < 10; i++ {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %q", event)

		var env Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		if env.Event == event {
			return env
		}
	}
	t.Fatalf("event %q not received", event)
	return Envelope{}
}

// expectSilence asserts that no frame arrives within the window.
func expectSilence(t *testing.T, conn *websocket.Conn, window time.Duration) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(window)))
	_, raw, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("expected no frame, got %s", raw)
	}
	var netErr interface{ Timeout() bool }
	require.ErrorAs(t, err, &netErr)
	require.True(t, netErr.Timeout())
}

func (e *testEnv) authenticate(t *testing.T, conn *websocket.Conn, userID string) {
	t.Helper()

	token, err := e.tokens.Issue(userID)
	require.NoError(t, err)
	sendClientEvent(t, conn, EventAuth, AuthPayload{UserID: userID, Token: token})

	env := awaitEvent(t, conn, EventAuthOK)
	var ack map[string]string
	require.NoError(t, json.Unmarshal(env.Data, &ack))
	require.Equal(t, userID, ack["userId"])
}

func TestAuthHandshake(t *testing.T) {
	env := newTestEnv(t)
	alice := env.addUser(t, "u-alice", "alice")

	conn := env.dial(t)
	env.authenticate(t, conn, alice.ID)
}

func TestAuthRejectsBadToken(t *testing.T) {
	env := newTestEnv(t)
	alice := env.addUser(t, "u-alice", "alice")

	conn := env.dial(t)
	sendClientEvent(t, conn, EventAuth, AuthPayload{UserID: alice.ID, Token: "not-a-token"})

	ev := awaitEvent(t, conn, EventError)
	var p ErrorPayload
	require.NoError(t, json.Unmarshal(ev.Data, &p))
	require.Equal(t, "Invalid credentials", p.Message)
}

// A valid token for one user must not authenticate a connection claiming
// a different user id.
func TestAuthRejectsMismatchedIdentity(t *testing.T) {
	env := newTestEnv(t)
	alice := env.addUser(t, "u-alice", "alice")
	bob := env.addUser(t, "u-bob", "bob")

	token, err := env.tokens.Issue(bob.ID)
	require.NoError(t, err)

	conn := env.dial(t)
	sendClientEvent(t, conn, EventAuth, AuthPayload{UserID: alice.ID, Token: token})

	ev := awaitEvent(t, conn, EventError)
	var p ErrorPayload
	require.NoError(t, json.Unmarshal(ev.Data, &p))
	require.Equal(t, "Invalid credentials", p.Message)
}

func TestUnauthenticatedOperationsRejected(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "u-bob", "bob")

	conn := env.dial(t)

	for _, event := range []string{EventSendMessage, EventTyping, EventMarkRead} {
		sendClientEvent(t, conn, event, map[string]string{
			"recipientId": "u-bob",
			"contactId":   "u-bob",
			"content":     "hi",
		})
		ev := awaitEvent(t, conn, EventError)
		var p ErrorPayload
		require.NoError(t, json.Unmarshal(ev.Data, &p))
		require.Contains(t, p.Message, "Not authenticated")
	}
}

func TestMessageDeliveryAndEcho(t *testing.T) {
	env := newTestEnv(t)
	alice := env.addUser(t, "u-alice", "alice")
	bob := env.addUser(t, "u-bob", "bob")
	_, err := env.store.AddContact(alice.ID, bob.ID)
	require.NoError(t, err)

	bobConn := env.dial(t)
	env.authenticate(t, bobConn, bob.ID)

	aliceConn := env.dial(t)
	env.authenticate(t, aliceConn, alice.ID)

	// Bob, being an online contact, is told Alice came online.
	status := awaitEvent(t, bobConn, EventUserStatus)
	var sp UserStatusPayload
	require.NoError(t, json.Unmarshal(status.Data, &sp))
	require.Equal(t, alice.ID, sp.UserID)
	require.Equal(t, "online", sp.Status)

	sendClientEvent(t, aliceConn, EventSendMessage, SendMessagePayload{
		RecipientID: bob.ID,
		Content:     "hello bob",
	})

	var delivered, echoed model.Message
	require.NoError(t, json.Unmarshal(awaitEvent(t, bobConn, EventNewMessage).Data, &delivered))
	require.NoError(t, json.Unmarshal(awaitEvent(t, aliceConn, EventNewMessage).Data, &echoed))

	require.Equal(t, delivered.ID, echoed.ID)
	require.Equal(t, alice.ID, delivered.SenderID)
	require.Equal(t, bob.ID, delivered.RecipientID)
	require.Equal(t, "hello bob", delivered.Content)
	require.False(t, delivered.Read)
	require.NotEmpty(t, delivered.ID)

	msgs, err := env.store.Conversation(alice.ID, bob.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, delivered.ID, msgs[0].ID)
}

// Sending to an offline recipient still persists and echoes; the
// recipient catches up later over HTTP.
func TestSendToOfflineRecipient(t *testing.T) {
	env := newTestEnv(t)
	alice := env.addUser(t, "u-alice", "alice")
	bob := env.addUser(t, "u-bob", "bob")

	aliceConn := env.dial(t)
	env.authenticate(t, aliceConn, alice.ID)

	sendClientEvent(t, aliceConn, EventSendMessage, SendMessagePayload{
		RecipientID: bob.ID,
		Content:     "are you there",
	})

	var echoed model.Message
	require.NoError(t, json.Unmarshal(awaitEvent(t, aliceConn, EventNewMessage).Data, &echoed))

	msgs, err := env.store.Conversation(alice.ID, bob.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, echoed.ID, msgs[0].ID)
}

func TestSendToUnknownRecipient(t *testing.T) {
	env := newTestEnv(t)
	alice := env.addUser(t, "u-alice", "alice")

	conn := env.dial(t)
	env.authenticate(t, conn, alice.ID)

	sendClientEvent(t, conn, EventSendMessage, SendMessagePayload{
		RecipientID: "u-nobody",
		Content:     "hello?",
	})

	ev := awaitEvent(t, conn, EventError)
	var p ErrorPayload
	require.NoError(t, json.Unmarshal(ev.Data, &p))
	require.Equal(t, "Recipient not found", p.Message)

	msgs, err := env.store.Conversation(alice.ID, "u-nobody")
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestTypingForwardedToOnlineContact(t *testing.T) {
	env := newTestEnv(t)
	alice := env.addUser(t, "u-alice", "alice")
	bob := env.addUser(t, "u-bob", "bob")

	bobConn := env.dial(t)
	env.authenticate(t, bobConn, bob.ID)

	aliceConn := env.dial(t)
	env.authenticate(t, aliceConn, alice.ID)

	sendClientEvent(t, aliceConn, EventTyping, TypingPayload{ContactID: bob.ID, IsTyping: true})

	ev := awaitEvent(t, bobConn, EventUserTyping)
	var p UserTypingPayload
	require.NoError(t, json.Unmarshal(ev.Data, &p))
	require.Equal(t, alice.ID, p.UserID)
	require.True(t, p.IsTyping)

	sendClientEvent(t, aliceConn, EventTyping, TypingPayload{ContactID: bob.ID, IsTyping: false})

	ev = awaitEvent(t, bobConn, EventUserTyping)
	require.NoError(t, json.Unmarshal(ev.Data, &p))
	require.False(t, p.IsTyping)
}

func TestTypingToOfflineContactIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	alice := env.addUser(t, "u-alice", "alice")
	bob := env.addUser(t, "u-bob", "bob")

	aliceConn := env.dial(t)
	env.authenticate(t, aliceConn, alice.ID)

	sendClientEvent(t, aliceConn, EventTyping, TypingPayload{ContactID: bob.ID, IsTyping: true})

	// No error frame, no echo: the indicator is dropped.
	expectSilence(t, aliceConn, 200*time.Millisecond)
}

func TestMarkReadNotifiesSender(t *testing.T) {
	env := newTestEnv(t)
	alice := env.addUser(t, "u-alice", "alice")
	bob := env.addUser(t, "u-bob", "bob")

	aliceConn := env.dial(t)
	env.authenticate(t, aliceConn, alice.ID)

	bobConn := env.dial(t)
	env.authenticate(t, bobConn, bob.ID)

	sendClientEvent(t, aliceConn, EventSendMessage, SendMessagePayload{
		RecipientID: bob.ID,
		Content:     "unread until you look",
	})
	awaitEvent(t, bobConn, EventNewMessage)
	awaitEvent(t, aliceConn, EventNewMessage)

	unread, err := env.store.UnreadCount(alice.ID, bob.ID)
	require.NoError(t, err)
	require.Equal(t, 1, unread)

	sendClientEvent(t, bobConn, EventMarkRead, MarkReadPayload{ContactID: alice.ID})

	ev := awaitEvent(t, aliceConn, EventMessagesRead)
	var p MessagesReadPayload
	require.NoError(t, json.Unmarshal(ev.Data, &p))
	require.Equal(t, bob.ID, p.UserID)

	unread, err = env.store.UnreadCount(alice.ID, bob.ID)
	require.NoError(t, err)
	require.Zero(t, unread)

	// Marking again is harmless.
	sendClientEvent(t, bobConn, EventMarkRead, MarkReadPayload{ContactID: alice.ID})
	awaitEvent(t, aliceConn, EventMessagesRead)

	unread, err = env.store.UnreadCount(alice.ID, bob.ID)
	require.NoError(t, err)
	require.Zero(t, unread)
}

func TestDisconnectBroadcastsOffline(t *testing.T) {
	env := newTestEnv(t)
	alice := env.addUser(t, "u-alice", "alice")
	bob := env.addUser(t, "u-bob", "bob")
	_, err := env.store.AddContact(alice.ID, bob.ID)
	require.NoError(t, err)

	bobConn := env.dial(t)
	env.authenticate(t, bobConn, bob.ID)

	aliceConn := env.dial(t)
	env.authenticate(t, aliceConn, alice.ID)
	awaitEvent(t, bobConn, EventUserStatus) // alice online

	require.NoError(t, aliceConn.Close())

	ev := awaitEvent(t, bobConn, EventUserStatus)
	var p UserStatusPayload
	require.NoError(t, json.Unmarshal(ev.Data, &p))
	require.Equal(t, alice.ID, p.UserID)
	require.Equal(t, "offline", p.Status)
}

func TestUnknownEventRejected(t *testing.T) {
	env := newTestEnv(t)
	alice := env.addUser(t, "u-alice", "alice")

	conn := env.dial(t)
	env.authenticate(t, conn, alice.ID)

	sendClientEvent(t, conn, "self_destruct", map[string]string{})

	ev := awaitEvent(t, conn, EventError)
	var p ErrorPayload
	require.NoError(t, json.Unmarshal(ev.Data, &p))
	require.Equal(t, "Unknown event type", p.Message)
}

func TestUpgradeRejectsDisallowedOrigin(t *testing.T) {
	env := newTestEnv(t, "http://allowed.example")

	url := "ws" + strings.TrimPrefix(env.server.URL, "http")

	header := http.Header{}
	header.Set("Origin", "http://evil.example")
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.Nil(t, conn)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "http://allowed.example")
	conn, _, err = websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	require.NoError(t, conn.Close())
}

func TestUpgradeRejectsNonGet(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Post(env.server.URL, "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
