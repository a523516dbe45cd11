package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/veganmessenger/server/internal/model"
)

// SQLiteStore is the relational variant of the persistence shim. Every
// operation is a single parameterized statement; uniqueness of email and
// phone is enforced by the schema instead of a scan at write time.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("sqlite store opened", zap.String("path", path))
	return s, nil
}

func (s *SQLiteStore) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL,
			full_name TEXT NOT NULL,
			email TEXT UNIQUE NOT NULL,
			phone TEXT UNIQUE NOT NULL,
			password TEXT NOT NULL,
			avatar TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS contacts (
			owner TEXT NOT NULL,
			contact TEXT NOT NULL,
			UNIQUE(owner, contact)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			sender TEXT NOT NULL,
			recipient TEXT NOT NULL,
			content TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			read INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender, recipient, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_contacts_owner ON contacts(owner)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) CreateUser(u model.User) error {
	_, err := s.db.Exec(
		`INSERT INTO users (id, username, full_name, email, phone, password, avatar, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.FullName, u.Email, u.Phone, u.PasswordHash, u.Avatar,
		u.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicate
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

const userColumns = `id, username, full_name, email, phone, password, avatar, created_at`

func (s *SQLiteStore) UserByID(id string) (model.User, error) {
	return s.queryUser(`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (s *SQLiteStore) UserByEmail(email string) (model.User, error) {
	return s.queryUser(`SELECT `+userColumns+` FROM users WHERE email = ?`, email)
}

func (s *SQLiteStore) UserByPhone(phone string) (model.User, error) {
	return s.queryUser(`SELECT `+userColumns+` FROM users WHERE phone = ?`, phone)
}

func (s *SQLiteStore) queryUser(query string, arg any) (model.User, error) {
	var (
		u         model.User
		createdAt string
	)
	err := s.db.QueryRow(query, arg).Scan(
		&u.ID, &u.Username, &u.FullName, &u.Email, &u.Phone,
		&u.PasswordHash, &u.Avatar, &createdAt,
	)
	if err == sql.ErrNoRows {
		return model.User{}, ErrNotFound
	}
	if err != nil {
		return model.User{}, fmt.Errorf("query user: %w", err)
	}

	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return u, nil
}

func (s *SQLiteStore) AddContact(userID, contactID string) (bool, error) {
	result, err := s.db.Exec(
		`INSERT OR IGNORE INTO contacts (owner, contact) VALUES (?, ?)`,
		userID, contactID,
	)
	if err != nil {
		return false, fmt.Errorf("insert contact: %w", err)
	}

	if _, err := s.db.Exec(
		`INSERT OR IGNORE INTO contacts (owner, contact) VALUES (?, ?)`,
		contactID, userID,
	); err != nil {
		return false, fmt.Errorf("insert reverse contact: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *SQLiteStore) Contacts(userID string) ([]string, error) {
	rows, err := s.db.Query(`SELECT contact FROM contacts WHERE owner = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("query contacts: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) AppendMessage(m model.Message) error {
	read := 0
	if m.Read {
		read = 1
	}
	_, err := s.db.Exec(
		`INSERT INTO messages (id, sender, recipient, content, timestamp, read)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.SenderID, m.RecipientID, m.Content,
		m.Timestamp.UTC().Format(time.RFC3339Nano), read,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

const messageColumns = `id, sender, recipient, content, timestamp, read`

func (s *SQLiteStore) Conversation(userID, contactID string) ([]model.Message, error) {
	rows, err := s.db.Query(
		`SELECT `+messageColumns+` FROM messages
		 WHERE (sender = ? AND recipient = ?) OR (sender = ? AND recipient = ?)
		 ORDER BY timestamp ASC`,
		userID, contactID, contactID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMessage(rows *sql.Rows) (model.Message, error) {
	var (
		m         model.Message
		timestamp string
		read      int
	)
	if err := rows.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Content, &timestamp, &read); err != nil {
		return model.Message{}, err
	}
	m.Timestamp, _ = time.Parse(time.RFC3339Nano, timestamp)
	m.Read = read != 0
	return m, nil
}

func (s *SQLiteStore) MarkConversationRead(senderID, recipientID string) (int, error) {
	result, err := s.db.Exec(
		`UPDATE messages SET read = 1 WHERE sender = ? AND recipient = ? AND read = 0`,
		senderID, recipientID,
	)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (s *SQLiteStore) UnreadCount(senderID, recipientID string) (int, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM messages WHERE sender = ? AND recipient = ? AND read = 0`,
		senderID, recipientID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) LastMessage(userID, contactID string) (model.Message, bool, error) {
	rows, err := s.db.Query(
		`SELECT `+messageColumns+` FROM messages
		 WHERE (sender = ? AND recipient = ?) OR (sender = ? AND recipient = ?)
		 ORDER BY timestamp DESC LIMIT 1`,
		userID, contactID, contactID, userID,
	)
	if err != nil {
		return model.Message{}, false, fmt.Errorf("query last message: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return model.Message{}, false, rows.Err()
	}
	m, err := scanMessage(rows)
	if err != nil {
		return model.Message{}, false, err
	}
	return m, true, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
