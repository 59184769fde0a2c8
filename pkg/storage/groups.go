package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"time"

	"github.com/sechat/sechat-node/pkg/crypto"
)

// Group is a named chat room secured by a PIN. Groups persist independent
// of any session and survive reaching zero members; only the sealed member
// list ever changes after creation.
type Group struct {
	Name      string
	Creator   string
	Members   []string
	CreatedAt int64
}

// CreateGroup creates a group with the creator as its first member. Only
// the PIN hash is stored, never the PIN.
func (s *Store) CreateGroup(name, pin, creator string) error {
	members, err := s.sealMembers([]string{creator})
	if err != nil {
		return err
	}

	_, err = s.db.Exec(
		"INSERT INTO groups (name, pin_hash, creator, members, created_at) VALUES (?, ?, ?, ?, ?)",
		name, crypto.HashSecret(pin), creator, members, time.Now().Unix(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return ErrGroupExists
		}
		return fmt.Errorf("failed to create group: %v", err)
	}
	return nil
}

// GetGroup looks up a group and its decoded member list.
func (s *Store) GetGroup(name string) (*Group, error) {
	row := s.db.QueryRow(
		"SELECT name, creator, members, created_at FROM groups WHERE name = ?",
		name,
	)

	var g Group
	var sealed string
	if err := row.Scan(&g.Name, &g.Creator, &sealed, &g.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get group: %v", err)
	}

	members, err := s.openMembers(sealed)
	if err != nil {
		return nil, err
	}
	g.Members = members
	return &g, nil
}

// JoinGroup verifies the PIN and adds username to the member list. A wrong
// PIN never mutates membership. Re-joining is a no-op; joined reports
// whether the membership actually changed.
func (s *Store) JoinGroup(name, pin, username string) (joined bool, err error) {
	s.groupMu.Lock()
	defer s.groupMu.Unlock()

	row := s.db.QueryRow("SELECT pin_hash, members FROM groups WHERE name = ?", name)

	var pinHash, sealed string
	if err := row.Scan(&pinHash, &sealed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("failed to get group: %v", err)
	}

	if !crypto.VerifySecret(pin, pinHash) {
		return false, ErrWrongPin
	}

	members, err := s.openMembers(sealed)
	if err != nil {
		return false, err
	}

	if slices.Contains(members, username) {
		return false, nil
	}

	return true, s.writeMembers(name, append(members, username))
}

// AddMember adds username without a PIN check (group-creator invite path).
// Idempotent: adding an existing member reports added=false.
func (s *Store) AddMember(name, username string) (added bool, err error) {
	s.groupMu.Lock()
	defer s.groupMu.Unlock()

	members, err := s.members(name)
	if err != nil {
		return false, err
	}

	if slices.Contains(members, username) {
		return false, nil
	}

	return true, s.writeMembers(name, append(members, username))
}

// RemoveMember drops username from the member list. Removing a non-member
// is a no-op. The group row persists even at zero members.
func (s *Store) RemoveMember(name, username string) (removed bool, err error) {
	s.groupMu.Lock()
	defer s.groupMu.Unlock()

	members, err := s.members(name)
	if err != nil {
		return false, err
	}

	idx := slices.Index(members, username)
	if idx < 0 {
		return false, nil
	}

	return true, s.writeMembers(name, slices.Delete(members, idx, idx+1))
}

// IsMember reports whether username belongs to the group. Unknown groups
// and corrupt member lists read as "not a member".
func (s *Store) IsMember(name, username string) bool {
	members, err := s.members(name)
	if err != nil {
		return false
	}
	return slices.Contains(members, username)
}

// GroupMembers returns the current member list in insertion order.
func (s *Store) GroupMembers(name string) ([]string, error) {
	return s.members(name)
}

// ListGroupNames returns every group name on the server.
func (s *Store) ListGroupNames() ([]string, error) {
	rows, err := s.db.Query("SELECT name FROM groups ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %v", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// GroupsFor returns the groups username belongs to. Groups whose member
// list fails to decode are logged and skipped, never fatal.
func (s *Store) GroupsFor(username string) ([]*Group, error) {
	rows, err := s.db.Query("SELECT name, creator, members, created_at FROM groups ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %v", err)
	}
	defer rows.Close()

	var groups []*Group
	for rows.Next() {
		var g Group
		var sealed string
		if err := rows.Scan(&g.Name, &g.Creator, &sealed, &g.CreatedAt); err != nil {
			return nil, err
		}

		members, err := s.openMembers(sealed)
		if err != nil {
			log.Printf("[STORAGE] Skipping group %s: %v", g.Name, err)
			continue
		}

		if slices.Contains(members, username) {
			g.Members = members
			groups = append(groups, &g)
		}
	}
	return groups, rows.Err()
}

// members loads and decodes the member list of one group.
func (s *Store) members(name string) ([]string, error) {
	row := s.db.QueryRow("SELECT members FROM groups WHERE name = ?", name)

	var sealed string
	if err := row.Scan(&sealed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get members: %v", err)
	}

	return s.openMembers(sealed)
}

func (s *Store) writeMembers(name string, members []string) error {
	sealed, err := s.sealMembers(members)
	if err != nil {
		return err
	}

	if _, err := s.db.Exec("UPDATE groups SET members = ? WHERE name = ?", sealed, name); err != nil {
		return fmt.Errorf("failed to update members: %v", err)
	}
	return nil
}

func (s *Store) sealMembers(members []string) (string, error) {
	raw, err := json.Marshal(members)
	if err != nil {
		return "", fmt.Errorf("failed to encode members: %v", err)
	}
	return s.seal(string(raw))
}

func (s *Store) openMembers(sealed string) ([]string, error) {
	raw, err := s.open(sealed)
	if err != nil {
		return nil, err
	}

	var members []string
	if err := json.Unmarshal([]byte(raw), &members); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return members, nil
}
