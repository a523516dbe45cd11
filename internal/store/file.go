package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/veganmessenger/server/internal/model"
)

const (
	usersFile    = "users.json"
	messagesFile = "messages.json"
	contactsFile = "contacts.json"
)

// FileStore keeps all state in memory and serializes each collection to
// its own JSON document on every mutating call. Load happens once at
// construction. A crash mid-write can leave a truncated document on disk;
// that risk is inherent to the whole-collection rewrite strategy.
type FileStore struct {
	mu       sync.RWMutex
	dir      string
	logger   *zap.Logger
	users    []model.User
	messages []model.Message
	contacts map[string][]string
}

// OpenFile loads (or initializes) the three JSON documents under dir.
func OpenFile(dir string, logger *zap.Logger) (*FileStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	s := &FileStore{
		dir:      dir,
		logger:   logger,
		contacts: make(map[string][]string),
	}

	if err := loadJSON(filepath.Join(dir, usersFile), &s.users); err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	if err := loadJSON(filepath.Join(dir, messagesFile), &s.messages); err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	if err := loadJSON(filepath.Join(dir, contactsFile), &s.contacts); err != nil {
		return nil, fmt.Errorf("load contacts: %w", err)
	}
	if s.contacts == nil {
		s.contacts = make(map[string][]string)
	}

	logger.Info("flat-file store loaded",
		zap.String("dir", dir),
		zap.Int("users", len(s.users)),
		zap.Int("messages", len(s.messages)),
	)

	return s, nil
}

func loadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// saveUsers, saveMessages and saveContacts rewrite one collection in full.
// Callers must hold the write lock.
func (s *FileStore) saveUsers() error {
	return writeJSON(filepath.Join(s.dir, usersFile), s.users)
}

func (s *FileStore) saveMessages() error {
	return writeJSON(filepath.Join(s.dir, messagesFile), s.messages)
}

func (s *FileStore) saveContacts() error {
	return writeJSON(filepath.Join(s.dir, contactsFile), s.contacts)
}

func (s *FileStore) CreateUser(u model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Email == u.Email || existing.Phone == u.Phone {
			return ErrDuplicate
		}
	}

	s.users = append(s.users, u)
	if err := s.saveUsers(); err != nil {
		s.users = s.users[:len(s.users)-1]
		return fmt.Errorf("persist users: %w", err)
	}
	return nil
}

func (s *FileStore) UserByID(id string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findUser(func(u model.User) bool { return u.ID == id })
}

func (s *FileStore) UserByEmail(email string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findUser(func(u model.User) bool { return u.Email == email })
}

func (s *FileStore) UserByPhone(phone string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findUser(func(u model.User) bool { return u.Phone == phone })
}

func (s *FileStore) findUser(match func(model.User) bool) (model.User, error) {
	for _, u := range s.users {
		if match(u) {
			return u, nil
		}
	}
	return model.User{}, ErrNotFound
}

func (s *FileStore) AddContact(userID, contactID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := false
	if appendUnique(s.contacts, userID, contactID) {
		added = true
	}
	// The reverse edge keeps the relation mutual even when only one
	// direction was missing.
	appendUnique(s.contacts, contactID, userID)

	if err := s.saveContacts(); err != nil {
		return false, fmt.Errorf("persist contacts: %w", err)
	}
	return added, nil
}

func appendUnique(m map[string][]string, owner, contact string) bool {
	for _, existing := range m[owner] {
		if existing == contact {
			return false
		}
	}
	m[owner] = append(m[owner], contact)
	return true
}

func (s *FileStore) Contacts(userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.contacts[userID]
	out := make([]string, len(ids))
	copy(out, ids)
	return out, nil
}

func (s *FileStore) AppendMessage(m model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = append(s.messages, m)
	if err := s.saveMessages(); err != nil {
		s.messages = s.messages[:len(s.messages)-1]
		return fmt.Errorf("persist messages: %w", err)
	}
	return nil
}

func (s *FileStore) Conversation(userID, contactID string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Message
	for _, m := range s.messages {
		if between(m, userID, contactID) {
			out = append(out, m)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func between(m model.Message, a, b string) bool {
	return (m.SenderID == a && m.RecipientID == b) ||
		(m.SenderID == b && m.RecipientID == a)
}

func (s *FileStore) MarkConversationRead(senderID, recipientID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	flipped := 0
	for i := range s.messages {
		m := &s.messages[i]
		if m.SenderID == senderID && m.RecipientID == recipientID && !m.Read {
			m.Read = true
			flipped++
		}
	}

	if flipped == 0 {
		return 0, nil
	}
	if err := s.saveMessages(); err != nil {
		return flipped, fmt.Errorf("persist messages: %w", err)
	}
	return flipped, nil
}

func (s *FileStore) UnreadCount(senderID, recipientID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, m := range s.messages {
		if m.SenderID == senderID && m.RecipientID == recipientID && !m.Read {
			count++
		}
	}
	return count, nil
}

func (s *FileStore) LastMessage(userID, contactID string) (model.Message, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		last  model.Message
		found bool
	)
	for _, m := range s.messages {
		if !between(m, userID, contactID) {
			continue
		}
		if !found || !m.Timestamp.Before(last.Timestamp) {
			last = m
			found = true
		}
	}
	return last, found, nil
}

func (s *FileStore) Close() error { return nil }
