package network

import (
	"errors"
	"net"
	"sync"
)

// ErrDuplicateSession is returned when an identity that already has a live
// session authenticates again. Policy: the new login is rejected and the
// prior session stays live.
var ErrDuplicateSession = errors.New("identity already has a live session")

// MediaKind selects one of the unreliable media channels.
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// CallBinding ties a session to its unreliable-transport endpoints for one
// active call. Never persisted; destroyed on hang-up or deregistration.
type CallBinding struct {
	SessionID string
	Username  string
	CallID    string
	Audio     *net.UDPAddr // Authoritative source/destination for audio
	Video     *net.UDPAddr // Authoritative source/destination for video
}

// call is a star topology of participants exchanging media via the relay.
type call struct {
	id           string
	participants map[string]*CallBinding // keyed by username
}

// Registry is the single source of truth for routing: every live session,
// every call and every media binding. All mutations are atomic with
// respect to each other.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session     // username -> session
	calls    map[string]*call        // call id -> call
	audio    map[string]*CallBinding // audio source addr -> binding
	video    map[string]*CallBinding // video source addr -> binding
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		calls:    make(map[string]*call),
		audio:    make(map[string]*CallBinding),
		video:    make(map[string]*CallBinding),
	}
}

// Register records a live session for an identity. A second registration
// for the same identity fails with ErrDuplicateSession.
func (r *Registry) Register(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[s.Username]; exists {
		return ErrDuplicateSession
	}
	r.sessions[s.Username] = s
	return nil
}

// Lookup returns the live session for an identity.
func (r *Registry) Lookup(username string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[username]
	return s, ok
}

// Deregister atomically removes a session and cascades: its call bindings
// are destroyed so late datagrams from former peers have nowhere to go.
// Reports whether s was the registered session for its identity (a
// rejected duplicate must not evict the live one).
func (r *Registry) Deregister(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.sessions[s.Username]
	if !ok || current != s {
		return false
	}

	delete(r.sessions, s.Username)
	r.leaveCallLocked(s.Username)
	return true
}

// Sessions returns a snapshot of all live sessions for fan-out.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// SessionCount reports the number of live sessions.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// BindCall records the media endpoints a session will send from and
// receive on for one call, joining the call's star topology. Re-binding
// replaces the participant's previous endpoints.
func (r *Registry) BindCall(s *Session, callID string, audio, video *net.UDPAddr) *CallBinding {
	r.mu.Lock()
	defer r.mu.Unlock()

	// A session participates in at most one call.
	r.leaveCallLocked(s.Username)

	c, ok := r.calls[callID]
	if !ok {
		c = &call{id: callID, participants: make(map[string]*CallBinding)}
		r.calls[callID] = c
	}

	b := &CallBinding{
		SessionID: s.ID,
		Username:  s.Username,
		CallID:    callID,
		Audio:     audio,
		Video:     video,
	}
	c.participants[s.Username] = b

	if audio != nil {
		r.audio[audio.String()] = b
	}
	if video != nil {
		r.video[video.String()] = b
	}
	return b
}

// LeaveCall destroys the session's call binding, if any.
func (r *Registry) LeaveCall(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveCallLocked(username)
}

func (r *Registry) leaveCallLocked(username string) {
	for _, c := range r.calls {
		b, ok := c.participants[username]
		if !ok {
			continue
		}

		delete(c.participants, username)
		if b.Audio != nil {
			delete(r.audio, b.Audio.String())
		}
		if b.Video != nil {
			delete(r.video, b.Video.String())
		}
		if len(c.participants) == 0 {
			delete(r.calls, c.id)
		}
	}
}

// MediaPeers resolves an inbound datagram's source address to the set of
// destination endpoints it should be forwarded to. An unbound or stale
// source resolves to ok=false and the datagram is dropped silently.
func (r *Registry) MediaPeers(kind MediaKind, src *net.UDPAddr) ([]*net.UDPAddr, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	table := r.audio
	if kind == MediaVideo {
		table = r.video
	}

	b, ok := table[src.String()]
	if !ok {
		return nil, false
	}

	c, ok := r.calls[b.CallID]
	if !ok {
		return nil, false
	}

	var peers []*net.UDPAddr
	for username, peer := range c.participants {
		if username == b.Username {
			continue
		}
		dst := peer.Audio
		if kind == MediaVideo {
			dst = peer.Video
		}
		if dst != nil {
			peers = append(peers, dst)
		}
	}
	return peers, true
}

// CallCount reports the number of active calls.
func (r *Registry) CallCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.calls)
}
