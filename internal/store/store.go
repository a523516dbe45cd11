// Package store provides persistence for users, contacts, and messages.
//
// Two variants implement the same Store interface: a flat-file store that
// rewrites whole JSON documents on every mutation, and a SQLite store that
// issues one parameterized statement per operation. Neither variant uses
// multi-statement transactions; the flat-file variant offers no
// partial-write atomicity (a crash mid-write can corrupt the snapshot).
package store

import (
	"errors"

	"github.com/veganmessenger/server/internal/model"
)

var (
	// ErrNotFound reports that the requested record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate reports a uniqueness violation (email or phone).
	ErrDuplicate = errors.New("store: duplicate")
)

// Store is the persistence contract shared by the flat-file and SQLite
// variants. All operations are safe for concurrent use.
type Store interface {
	// CreateUser inserts a new user. Email and phone must be unique;
	// a clash returns ErrDuplicate.
	CreateUser(u model.User) error
	// UserByID returns the user with the given id or ErrNotFound.
	UserByID(id string) (model.User, error)
	// UserByEmail returns the user with the given email or ErrNotFound.
	UserByEmail(email string) (model.User, error)
	// UserByPhone returns the user with the given phone or ErrNotFound.
	UserByPhone(phone string) (model.User, error)

	// AddContact records the undirected edge between two users, adding
	// each to the other's contact set. It reports whether the edge was
	// new; repeating the call is a no-op that reports false.
	AddContact(userID, contactID string) (bool, error)
	// Contacts returns the contact ids of a user. A user with no
	// contacts yields an empty slice, not an error.
	Contacts(userID string) ([]string, error)

	// AppendMessage appends a message to the log.
	AppendMessage(m model.Message) error
	// Conversation returns every message between the two users, in
	// ascending timestamp order. The pair is symmetric.
	Conversation(userID, contactID string) ([]model.Message, error)
	// MarkConversationRead flips Read to true on every unread message
	// from senderID to recipientID and returns how many were flipped.
	// The flag never reverts; running this twice is idempotent.
	MarkConversationRead(senderID, recipientID string) (int, error)
	// UnreadCount returns the number of unread messages from senderID
	// to recipientID.
	UnreadCount(senderID, recipientID string) (int, error)
	// LastMessage returns the newest message between the two users,
	// reporting false when the conversation is empty.
	LastMessage(userID, contactID string) (model.Message, bool, error)

	Close() error
}
