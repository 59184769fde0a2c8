package storage

import (
	"fmt"
	"log"
	"time"
)

// Message kinds recorded in the msg_type column.
const (
	KindText      = "text"
	KindFile      = "file"
	KindVoice     = "voice"
	KindGroupText = "group_text"
)

// StoredMessage is one persisted, immutable message record. Content is the
// recovered plaintext on read; it is sealed before the row is written.
type StoredMessage struct {
	ID        int64
	Sender    string
	Target    string // Recipient username, or group name for group kinds
	Content   string
	Kind      string
	Timestamp int64
}

// SaveMessage seals content and appends a message record. Group messages
// are persisted once per message, not once per recipient.
func (s *Store) SaveMessage(sender, target, content, kind string) error {
	sealed, err := s.seal(content)
	if err != nil {
		return fmt.Errorf("failed to seal content: %v", err)
	}

	_, err = s.db.Exec(
		"INSERT INTO messages (sender, target, content, msg_type, timestamp) VALUES (?, ?, ?, ?, ?)",
		sender, target, sealed, kind, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save message: %v", err)
	}
	return nil
}

// History returns the conversation between two users in send order, at most
// limit records. Corrupt rows are logged and skipped so one bad record
// never hides the rest of the conversation.
func (s *Store) History(user, partner string, limit int) ([]*StoredMessage, error) {
	rows, err := s.db.Query(
		`SELECT id, sender, target, content, msg_type, timestamp FROM messages
		 WHERE (sender = ? AND target = ?) OR (sender = ? AND target = ?)
		 ORDER BY timestamp ASC, id ASC LIMIT ?`,
		user, partner, partner, user, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %v", err)
	}
	defer rows.Close()

	return s.scanMessages(rows)
}

// GroupHistory returns the most recent messages addressed to a group.
func (s *Store) GroupHistory(room string, limit int) ([]*StoredMessage, error) {
	rows, err := s.db.Query(
		`SELECT id, sender, target, content, msg_type, timestamp FROM messages
		 WHERE target = ? AND msg_type LIKE 'group_%'
		 ORDER BY timestamp ASC, id ASC LIMIT ?`,
		room, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query group history: %v", err)
	}
	defer rows.Close()

	return s.scanMessages(rows)
}

// MessageCount reports the number of persisted message records.
func (s *Store) MessageCount() (int64, error) {
	var n int64
	if err := s.db.QueryRow("SELECT COUNT(*) FROM messages").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count messages: %v", err)
	}
	return n, nil
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func (s *Store) scanMessages(rows rowScanner) ([]*StoredMessage, error) {
	var messages []*StoredMessage
	for rows.Next() {
		var m StoredMessage
		var sealed string
		if err := rows.Scan(&m.ID, &m.Sender, &m.Target, &sealed, &m.Kind, &m.Timestamp); err != nil {
			return nil, err
		}

		content, err := s.open(sealed)
		if err != nil {
			log.Printf("[STORAGE] Skipping message %d: %v", m.ID, err)
			continue
		}

		m.Content = content
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}
