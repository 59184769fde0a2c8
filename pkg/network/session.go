package network

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sechat/sechat-node/pkg/protocol"
)

// Session is one authenticated identity on the control channel. It is
// created on successful login and destroyed on disconnect or logout; the
// Registry is its single owner.
type Session struct {
	ID       string
	Username string

	conn    net.Conn
	writeMu sync.Mutex // One frame at a time per connection

	mu         sync.Mutex
	groups     map[string]struct{}
	lastActive time.Time
}

// NewSession wraps an authenticated connection.
func NewSession(username string, conn net.Conn) *Session {
	return &Session{
		ID:         uuid.NewString(),
		Username:   username,
		conn:       conn,
		groups:     make(map[string]struct{}),
		lastActive: time.Now(),
	}
}

// Send marshals v and writes it as a single frame. Concurrent senders are
// serialized so fan-out from different goroutines never interleaves frames.
func (s *Session) Send(v any) error {
	payload, err := protocol.Marshal(v)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return protocol.WriteFrame(s.conn, payload)
}

// Close closes the underlying control connection, unblocking its reader.
func (s *Session) Close() error {
	return s.conn.Close()
}

// RemoteIP returns the peer IP of the control connection. Media bindings
// are anchored to this address.
func (s *Session) RemoteIP() net.IP {
	if addr, ok := s.conn.RemoteAddr().(*net.TCPAddr); ok {
		return addr.IP
	}
	return nil
}

// Touch records control-channel activity for idle tracking.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// LastActive returns the time of the most recent control traffic.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// JoinedGroup caches a group membership on the session.
func (s *Session) JoinedGroup(name string) {
	s.mu.Lock()
	s.groups[name] = struct{}{}
	s.mu.Unlock()
}

// LeftGroup drops a cached membership.
func (s *Session) LeftGroup(name string) {
	s.mu.Lock()
	delete(s.groups, name)
	s.mu.Unlock()
}

// InGroup reports whether this session has a cached membership.
func (s *Session) InGroup(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.groups[name]
	return ok
}

// Groups returns the cached membership set.
func (s *Session) Groups() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.groups))
	for name := range s.groups {
		names = append(names, name)
	}
	return names
}
