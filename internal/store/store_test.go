package store

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veganmessenger/server/internal/model"
)

// Both variants must satisfy the same contract, so every test runs against
// both through this table.
func eachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Helper()

	variants := []struct {
		name string
		open func(t *testing.T) Store
	}{
		{
			name: "file",
			open: func(t *testing.T) Store {
				s, err := OpenFile(t.TempDir(), nil)
				require.NoError(t, err)
				return s
			},
		},
		{
			name: "sqlite",
			open: func(t *testing.T) Store {
				s, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"), nil)
				require.NoError(t, err)
				return s
			},
		},
	}

	for _, v := range variants {
		t.Run(v.name, func(t *testing.T) {
			s := v.open(t)
			defer s.Close()
			fn(t, s)
		})
	}
}

func testUser(n int) model.User {
	return model.User{
		ID:        fmt.Sprintf("user-%d", n),
		Username:  fmt.Sprintf("user%d", n),
		FullName:  fmt.Sprintf("User %d", n),
		Email:     fmt.Sprintf("user%d@example.com", n),
		Phone:     fmt.Sprintf("+100000000%d", n),
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func testMessage(id, sender, recipient, content string, at time.Time) model.Message {
	return model.Message{
		ID:          id,
		SenderID:    sender,
		RecipientID: recipient,
		Content:     content,
		Timestamp:   at,
	}
}

func TestCreateAndLookupUser(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		u := testUser(1)
		u.PasswordHash = "hashed"
		require.NoError(t, s.CreateUser(u))

		byID, err := s.UserByID(u.ID)
		require.NoError(t, err)
		assert.Equal(t, u.Email, byID.Email)
		assert.Equal(t, "hashed", byID.PasswordHash)

		byEmail, err := s.UserByEmail(u.Email)
		require.NoError(t, err)
		assert.Equal(t, u.ID, byEmail.ID)

		byPhone, err := s.UserByPhone(u.Phone)
		require.NoError(t, err)
		assert.Equal(t, u.ID, byPhone.ID)

		_, err = s.UserByID("missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestDuplicateUserRejected(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		require.NoError(t, s.CreateUser(testUser(1)))

		sameEmail := testUser(2)
		sameEmail.Email = testUser(1).Email
		assert.ErrorIs(t, s.CreateUser(sameEmail), ErrDuplicate)

		samePhone := testUser(3)
		samePhone.Phone = testUser(1).Phone
		assert.ErrorIs(t, s.CreateUser(samePhone), ErrDuplicate)
	})
}

// TestContactMutuality covers the invariant that after AddContact(A, B)
// both directions of the edge exist, and that the operation is idempotent.
func TestContactMutuality(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		added, err := s.AddContact("a", "b")
		require.NoError(t, err)
		assert.True(t, added)

		aContacts, err := s.Contacts("a")
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, aContacts)

		bContacts, err := s.Contacts("b")
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, bContacts)

		// Second add is a no-op, not an error, and does not duplicate.
		added, err = s.AddContact("a", "b")
		require.NoError(t, err)
		assert.False(t, added)

		aContacts, err = s.Contacts("a")
		require.NoError(t, err)
		assert.Len(t, aContacts, 1)
	})
}

func TestContactsEmptyForUnknownUser(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		contacts, err := s.Contacts("nobody")
		require.NoError(t, err)
		assert.Empty(t, contacts)
	})
}

func TestConversationOrderAndSymmetry(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
		require.NoError(t, s.AppendMessage(testMessage("m2", "b", "a", "second", base.Add(time.Minute))))
		require.NoError(t, s.AppendMessage(testMessage("m1", "a", "b", "first", base)))
		require.NoError(t, s.AppendMessage(testMessage("m3", "a", "b", "third", base.Add(2*time.Minute))))
		require.NoError(t, s.AppendMessage(testMessage("mx", "a", "c", "other pair", base)))

		forward, err := s.Conversation("a", "b")
		require.NoError(t, err)
		require.Len(t, forward, 3)
		assert.Equal(t, "first", forward[0].Content)
		assert.Equal(t, "second", forward[1].Content)
		assert.Equal(t, "third", forward[2].Content)

		// The pair is symmetric: both views filter the same log.
		reverse, err := s.Conversation("b", "a")
		require.NoError(t, err)
		assert.Equal(t, forward, reverse)
	})
}

// TestReadStateMonotonic covers read-flag monotonicity: the flag only ever
// transitions false to true, and MarkConversationRead twice in a row ends
// in the same state as once.
func TestReadStateMonotonic(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
		require.NoError(t, s.AppendMessage(testMessage("m1", "a", "b", "one", base)))
		require.NoError(t, s.AppendMessage(testMessage("m2", "a", "b", "two", base.Add(time.Second))))
		require.NoError(t, s.AppendMessage(testMessage("m3", "b", "a", "reply", base.Add(2*time.Second))))

		unread, err := s.UnreadCount("a", "b")
		require.NoError(t, err)
		assert.Equal(t, 2, unread)

		flipped, err := s.MarkConversationRead("a", "b")
		require.NoError(t, err)
		assert.Equal(t, 2, flipped)

		// Idempotent: nothing left to flip.
		flipped, err = s.MarkConversationRead("a", "b")
		require.NoError(t, err)
		assert.Equal(t, 0, flipped)

		unread, err = s.UnreadCount("a", "b")
		require.NoError(t, err)
		assert.Equal(t, 0, unread)

		// The opposite direction is untouched.
		unread, err = s.UnreadCount("b", "a")
		require.NoError(t, err)
		assert.Equal(t, 1, unread)

		conv, err := s.Conversation("a", "b")
		require.NoError(t, err)
		for _, m := range conv {
			if m.SenderID == "a" {
				assert.True(t, m.Read, "message %s should stay read", m.ID)
			}
		}
	})
}

func TestLastMessage(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		_, found, err := s.LastMessage("a", "b")
		require.NoError(t, err)
		assert.False(t, found)

		base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
		require.NoError(t, s.AppendMessage(testMessage("m1", "a", "b", "old", base)))
		require.NoError(t, s.AppendMessage(testMessage("m2", "b", "a", "new", base.Add(time.Hour))))

		last, found, err := s.LastMessage("a", "b")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "new", last.Content)
	})
}

// TestFileStoreReload verifies the load-on-start contract of the flat-file
// variant: a second store opened over the same directory sees everything
// the first one persisted.
func TestFileStoreReload(t *testing.T) {
	dir := t.TempDir()

	first, err := OpenFile(dir, nil)
	require.NoError(t, err)

	u := testUser(1)
	require.NoError(t, first.CreateUser(u))
	_, err = first.AddContact(u.ID, "friend")
	require.NoError(t, err)
	require.NoError(t, first.AppendMessage(testMessage("m1", u.ID, "friend", "hello", time.Now().UTC())))
	require.NoError(t, first.Close())

	second, err := OpenFile(dir, nil)
	require.NoError(t, err)
	defer second.Close()

	reloaded, err := second.UserByID(u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.Email, reloaded.Email)

	contacts, err := second.Contacts(u.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"friend"}, contacts)

	conv, err := second.Conversation(u.ID, "friend")
	require.NoError(t, err)
	require.Len(t, conv, 1)
	assert.Equal(t, "hello", conv[0].Content)
}
