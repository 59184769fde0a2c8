package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// User is a registered identity. Looked up at authentication, never
// mutated after creation.
type User struct {
	Username     string
	PasswordHash string
	CreatedAt    int64
}

// CreateUser registers a new identity with an already-hashed password.
func (s *Store) CreateUser(username, passwordHash string) error {
	_, err := s.db.Exec(
		"INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)",
		username, passwordHash, time.Now().Unix(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return ErrUserExists
		}
		return fmt.Errorf("failed to create user: %v", err)
	}
	return nil
}

// GetUser looks up an identity by username.
func (s *Store) GetUser(username string) (*User, error) {
	row := s.db.QueryRow(
		"SELECT username, password_hash, created_at FROM users WHERE username = ?",
		username,
	)

	var u User
	if err := row.Scan(&u.Username, &u.PasswordHash, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %v", err)
	}
	return &u, nil
}

// ListUsernames returns every registered username.
func (s *Store) ListUsernames() ([]string, error) {
	rows, err := s.db.Query("SELECT username FROM users ORDER BY username")
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %v", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		users = append(users, name)
	}
	return users, rows.Err()
}
