package network

import (
	"log"

	"github.com/sechat/sechat-node/pkg/protocol"
)

// broadcastUserList pushes the full roster with presence to every live
// session. Sent on every login and disconnect.
func (s *Server) broadcastUserList() {
	usernames, err := s.store.ListUsernames()
	if err != nil {
		log.Printf("[SERVER] user list query: %v", err)
		return
	}

	users := make([]protocol.UserStatus, 0, len(usernames))
	for _, name := range usernames {
		status := "offline"
		if _, ok := s.registry.Lookup(name); ok {
			status = "online"
		}
		users = append(users, protocol.UserStatus{Username: name, Status: status})
	}

	list := &protocol.UserList{Type: protocol.MsgUserList, Users: users}
	for _, sess := range s.registry.Sessions() {
		sess.Send(list)
	}
}

// sendGroupLists sends one session the global group directory plus its own
// memberships.
func (s *Server) sendGroupLists(sess *Session) {
	names, err := s.store.ListGroupNames()
	if err != nil {
		log.Printf("[SERVER] group list query: %v", err)
		return
	}
	sess.Send(&protocol.AllGroupsList{Type: protocol.MsgAllGroupsList, Groups: names})

	groups, err := s.store.GroupsFor(sess.Username)
	if err != nil {
		log.Printf("[SERVER] group membership query: %v", err)
		return
	}
	mine := make([]protocol.GroupInfo, 0, len(groups))
	for _, g := range groups {
		mine = append(mine, protocol.GroupInfo{Name: g.Name, Creator: g.Creator})
	}
	sess.Send(&protocol.MyGroupsList{Type: protocol.MsgMyGroupsList, Groups: mine})
}

// broadcastGroupsUpdate pushes the group directory to every live session.
func (s *Server) broadcastGroupsUpdate() {
	names, err := s.store.ListGroupNames()
	if err != nil {
		log.Printf("[SERVER] group list query: %v", err)
		return
	}

	list := &protocol.AllGroupsList{Type: protocol.MsgAllGroupsList, Groups: names}
	for _, sess := range s.registry.Sessions() {
		sess.Send(list)
	}
}

// broadcastToGroup fans a message out to every member with a live session.
// Members without one are skipped, not errored.
func (s *Server) broadcastToGroup(room string, v any, exclude string) {
	members, err := s.store.GroupMembers(room)
	if err != nil {
		log.Printf("[SERVER] group members query: %v", err)
		return
	}

	for _, member := range members {
		if member == exclude {
			continue
		}
		if sess, ok := s.registry.Lookup(member); ok {
			sess.Send(v)
		}
	}
}
