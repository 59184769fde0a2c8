package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// StatusResponse summarizes the server's routing and storage state.
type StatusResponse struct {
	UptimeSeconds    int64  `json:"uptimeSeconds"`
	LiveSessions     int    `json:"liveSessions"`
	ActiveCalls      int    `json:"activeCalls"`
	DatagramsRelayed uint64 `json:"datagramsRelayed"`
	DatagramsDropped uint64 `json:"datagramsDropped"`
	StoredMessages   int64  `json:"storedMessages"`
}

// SessionInfo is the public view of one live session. Channel handles and
// media endpoints are deliberately not exposed.
type SessionInfo struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	Groups     []string  `json:"groups"`
	LastActive time.Time `json:"lastActive"`
}

// GroupSummary is the public view of one group.
type GroupSummary struct {
	Name        string `json:"name"`
	MemberCount int    `json:"memberCount"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleStatus handles GET /api/v1/status
func (s *Server) handleStatus(c *gin.Context) {
	stored, err := s.store.MessageCount()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	relay := s.chat.MediaRelay()
	c.JSON(http.StatusOK, StatusResponse{
		UptimeSeconds:    int64(s.chat.Uptime().Seconds()),
		LiveSessions:     s.chat.Registry().SessionCount(),
		ActiveCalls:      s.chat.Registry().CallCount(),
		DatagramsRelayed: relay.DatagramsRelayed(),
		DatagramsDropped: relay.DatagramsDropped(),
		StoredMessages:   stored,
	})
}

// handleSessions handles GET /api/v1/sessions
func (s *Server) handleSessions(c *gin.Context) {
	sessions := s.chat.Registry().Sessions()

	out := make([]SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, SessionInfo{
			ID:         sess.ID,
			Username:   sess.Username,
			Groups:     sess.Groups(),
			LastActive: sess.LastActive(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

// handleGroups handles GET /api/v1/groups
func (s *Server) handleGroups(c *gin.Context) {
	names, err := s.store.ListGroupNames()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]GroupSummary, 0, len(names))
	for _, name := range names {
		members, err := s.store.GroupMembers(name)
		if err != nil {
			continue // Corrupt member list: skip, never fail the listing.
		}
		out = append(out, GroupSummary{Name: name, MemberCount: len(members)})
	}
	c.JSON(http.StatusOK, gin.H{"groups": out})
}
