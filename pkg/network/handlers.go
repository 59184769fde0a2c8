package network

import (
	"errors"
	"fmt"
	"log"
	"net"
	"strings"

	"github.com/sechat/sechat-node/pkg/crypto"
	"github.com/sechat/sechat-node/pkg/protocol"
	"github.com/sechat/sechat-node/pkg/storage"
)

func (c *client) handleSignup(env *protocol.Envelope) error {
	if env.Username == "" || env.Password == "" {
		return c.send(&protocol.AuthResult{Type: protocol.MsgAuthResult, Message: "Invalid credentials"})
	}

	err := c.server.store.CreateUser(env.Username, crypto.HashSecret(env.Password))
	if errors.Is(err, storage.ErrUserExists) {
		return c.send(&protocol.AuthResult{Type: protocol.MsgAuthResult, Message: "Username exists"})
	}
	if err != nil {
		log.Printf("[SIGNUP] %s: %v", env.Username, err)
		return c.send(&protocol.AuthResult{Type: protocol.MsgAuthResult, Message: "Signup failed"})
	}

	log.Printf("[SIGNUP] %s", env.Username)
	return c.send(&protocol.AuthResult{Type: protocol.MsgAuthResult, Success: true, Message: "Account created"})
}

func (c *client) handleLogin(env *protocol.Envelope) error {
	user, err := c.server.store.GetUser(env.Username)
	if err != nil || env.Password == "" || !crypto.VerifySecret(env.Password, user.PasswordHash) {
		return c.loginFailed("Invalid credentials")
	}

	session := NewSession(user.Username, c.conn)
	if err := c.server.registry.Register(session); err != nil {
		// Duplicate sessions are rejected; the live session wins.
		return c.send(&protocol.AuthResult{Type: protocol.MsgAuthResult, Message: "Already logged in"})
	}

	c.session = session
	c.authFailures = 0
	c.cacheGroups(session)

	if err := c.send(&protocol.AuthResult{Type: protocol.MsgAuthResult, Success: true, Message: "Login successful"}); err != nil {
		return err
	}

	log.Printf("[LOGIN] %s (session %s)", user.Username, session.ID)
	c.server.broadcastUserList()
	c.server.sendGroupLists(session)
	return nil
}

func (c *client) loginFailed(reason string) error {
	c.authFailures++
	if err := c.send(&protocol.AuthResult{Type: protocol.MsgAuthResult, Message: reason}); err != nil {
		return err
	}
	if c.authFailures >= c.server.cfg.AuthFailureLimit {
		log.Printf("[SERVER] %s: closing after %d failed logins", c.peerName(), c.authFailures)
		return errCloseConn
	}
	return nil
}

// cacheGroups seeds the session's membership set from the store.
func (c *client) cacheGroups(session *Session) {
	groups, err := c.server.store.GroupsFor(session.Username)
	if err != nil {
		log.Printf("[SERVER] %s: loading groups: %v", session.Username, err)
		return
	}
	for _, g := range groups {
		session.JoinedGroup(g.Name)
	}
}

func (c *client) handleLogout(env *protocol.Envelope) error {
	return errCloseConn
}

func (c *client) handlePrivate(env *protocol.Envelope) error {
	if env.To == "" || env.Content == "" {
		c.sendError("malformed_payload", "private message needs to and content")
		return nil
	}

	if _, err := c.server.store.GetUser(env.To); err != nil {
		c.sendError("not_found", "no such user")
		return nil
	}

	// Persist first; delivery is best-effort on top of durable history.
	if err := c.server.store.SaveMessage(c.session.Username, env.To, env.Content, storage.KindText); err != nil {
		log.Printf("[SERVER] persist private message: %v", err)
	}

	if peer, ok := c.server.registry.Lookup(env.To); ok {
		peer.Send(&protocol.Envelope{
			Type:    protocol.MsgPrivate,
			From:    c.session.Username,
			Content: env.Content,
		})
	}
	return nil
}

func (c *client) handleFile(env *protocol.Envelope) error {
	if env.To == "" || env.Filename == "" || env.Content == "" {
		c.sendError("malformed_payload", "file transfer needs to, filename and content")
		return nil
	}

	if _, err := c.server.store.GetUser(env.To); err != nil {
		c.sendError("not_found", "no such user")
		return nil
	}

	// Only the metadata is persisted; the blob itself is not history.
	meta := "FILE:" + env.Filename
	if err := c.server.store.SaveMessage(c.session.Username, env.To, meta, storage.KindFile); err != nil {
		log.Printf("[SERVER] persist file offer: %v", err)
	}

	if peer, ok := c.server.registry.Lookup(env.To); ok {
		peer.Send(&protocol.Envelope{
			Type:     protocol.MsgFile,
			From:     c.session.Username,
			Filename: env.Filename,
			Content:  env.Content,
		})
	}
	return nil
}

func (c *client) handleVoiceMsg(env *protocol.Envelope) error {
	if env.To == "" || env.Content == "" {
		c.sendError("malformed_payload", "voice message needs to and content")
		return nil
	}

	if _, err := c.server.store.GetUser(env.To); err != nil {
		c.sendError("not_found", "no such user")
		return nil
	}

	meta := fmt.Sprintf("VOICE:%ds", env.Duration)
	if err := c.server.store.SaveMessage(c.session.Username, env.To, meta, storage.KindVoice); err != nil {
		log.Printf("[SERVER] persist voice message: %v", err)
	}

	if peer, ok := c.server.registry.Lookup(env.To); ok {
		peer.Send(&protocol.Envelope{
			Type:     protocol.MsgVoiceMsg,
			From:     c.session.Username,
			Content:  env.Content,
			Duration: env.Duration,
		})
	}
	return nil
}

func (c *client) handleHistory(env *protocol.Envelope) error {
	if env.With == "" {
		c.sendError("malformed_payload", "history request needs with")
		return nil
	}

	records, err := c.server.store.History(c.session.Username, env.With, c.server.cfg.HistoryLimit)
	if err != nil {
		log.Printf("[SERVER] history query: %v", err)
		records = nil // Degrade to an empty history, never propagate.
	}

	entries := make([]protocol.HistoryEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, protocol.HistoryEntry{
			Sender:  rec.Sender,
			Content: rec.Content,
			Kind:    rec.Kind,
		})
	}

	return c.send(&protocol.HistoryData{
		Type:    protocol.MsgHistoryData,
		With:    env.With,
		Entries: entries,
	})
}

// directCallID derives a stable call id for a 1:1 call from the
// participant pair.
func directCallID(a, b string) string {
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	return a + "|" + b
}

// handleCallSignal relays call-control frames (invite, accept, reject,
// hang-up) and maintains media bindings. The media itself never enters
// this state machine.
func (c *client) handleCallSignal(env *protocol.Envelope) error {
	if env.To == "" {
		c.sendError("malformed_payload", "call signal needs to")
		return nil
	}

	callID := directCallID(c.session.Username, env.To)

	switch env.Type {
	case protocol.MsgCall, protocol.MsgCallAccept:
		c.bindMedia(callID, env)
	case protocol.MsgCallReject, protocol.MsgCallEnd:
		c.server.registry.LeaveCall(c.session.Username)
	}

	peer, ok := c.server.registry.Lookup(env.To)
	if !ok {
		c.sendError("not_found", "user is not online")
		return nil
	}

	forwarded := *env
	forwarded.From = c.session.Username
	forwarded.To = ""
	forwarded.AudioPort = 0
	forwarded.VideoPort = 0
	peer.Send(&forwarded)
	return nil
}

// bindMedia records the caller's advertised media ports, anchored to the
// control connection's source IP so datagrams from anywhere else are
// rejected as unbound.
func (c *client) bindMedia(callID string, env *protocol.Envelope) {
	if env.AudioPort <= 0 && env.VideoPort <= 0 {
		return
	}

	ip := c.session.RemoteIP()
	if ip == nil {
		return
	}

	var audio, video *net.UDPAddr
	if env.AudioPort > 0 {
		audio = &net.UDPAddr{IP: ip, Port: env.AudioPort}
	}
	if env.VideoPort > 0 {
		video = &net.UDPAddr{IP: ip, Port: env.VideoPort}
	}

	c.server.registry.BindCall(c.session, callID, audio, video)
	log.Printf("[CALL] %s bound to %s (audio=%v video=%v)", c.session.Username, callID, audio, video)
}

func (c *client) handleGroupCreate(env *protocol.Envelope) error {
	if env.RoomName == "" || env.Pin == "" {
		c.sendError("malformed_payload", "group create needs room_name and pin")
		return nil
	}

	err := c.server.store.CreateGroup(env.RoomName, env.Pin, c.session.Username)
	if errors.Is(err, storage.ErrGroupExists) {
		c.sendError("group_exists", "group already exists")
		return nil
	}
	if err != nil {
		log.Printf("[GROUP] create %s: %v", env.RoomName, err)
		c.sendError("storage", "group creation failed")
		return nil
	}

	c.session.JoinedGroup(env.RoomName)
	log.Printf("[GROUP] Created: %s by %s", env.RoomName, c.session.Username)

	if err := c.send(protocol.NewSystemText("", fmt.Sprintf("Group '%s' created", env.RoomName))); err != nil {
		return err
	}
	c.server.broadcastGroupsUpdate()
	c.server.sendGroupLists(c.session)
	return nil
}

func (c *client) handleGroupJoin(env *protocol.Envelope) error {
	if env.RoomName == "" || env.Pin == "" {
		c.sendError("malformed_payload", "group join needs room_name and pin")
		return nil
	}

	joined, err := c.server.store.JoinGroup(env.RoomName, env.Pin, c.session.Username)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.sendError("not_found", "group not found")
		return nil
	case errors.Is(err, storage.ErrWrongPin):
		c.sendError("wrong_pin", "incorrect PIN")
		return nil
	case err != nil:
		log.Printf("[GROUP] join %s: %v", env.RoomName, err)
		c.sendError("storage", "group join failed")
		return nil
	}

	c.session.JoinedGroup(env.RoomName)

	if !joined {
		return c.send(protocol.NewSystemText("", "Already in group"))
	}

	log.Printf("[GROUP] %s joined %s", c.session.Username, env.RoomName)
	if err := c.send(protocol.NewSystemText("", fmt.Sprintf("Joined '%s'", env.RoomName))); err != nil {
		return err
	}
	c.server.sendGroupLists(c.session)
	c.server.broadcastToGroup(env.RoomName,
		protocol.NewSystemText(env.RoomName, fmt.Sprintf("%s joined", c.session.Username)), "")
	return nil
}

func (c *client) handleGroupLeave(env *protocol.Envelope) error {
	if env.RoomName == "" {
		c.sendError("malformed_payload", "group leave needs room_name")
		return nil
	}

	removed, err := c.server.store.RemoveMember(env.RoomName, c.session.Username)
	if err != nil || !removed {
		return nil
	}

	c.session.LeftGroup(env.RoomName)

	if err := c.send(protocol.NewSystemText("", fmt.Sprintf("Left '%s'", env.RoomName))); err != nil {
		return err
	}
	c.server.sendGroupLists(c.session)
	c.server.broadcastToGroup(env.RoomName,
		protocol.NewSystemText(env.RoomName, fmt.Sprintf("%s left", c.session.Username)), "")
	return nil
}

// requireMember enforces group membership for group-scoped messages.
// Sending into a group you do not belong to is a protocol violation.
func (c *client) requireMember(room string) bool {
	if c.server.store.IsMember(room, c.session.Username) {
		return true
	}
	c.violations++
	c.sendError("protocol_violation", "not a member of this group")
	return false
}

func (c *client) handleGroupMsg(env *protocol.Envelope) error {
	if env.RoomName == "" || env.Content == "" {
		c.sendError("malformed_payload", "group message needs room_name and content")
		return nil
	}
	if !c.requireMember(env.RoomName) {
		return nil
	}

	// Persisted once per message, not once per recipient.
	if err := c.server.store.SaveMessage(c.session.Username, env.RoomName, env.Content, storage.KindGroupText); err != nil {
		log.Printf("[SERVER] persist group message: %v", err)
	}

	c.server.broadcastToGroup(env.RoomName, &protocol.Envelope{
		Type:     protocol.MsgGroupMsg,
		RoomName: env.RoomName,
		From:     c.session.Username,
		Content:  env.Content,
	}, c.session.Username)
	return nil
}

func (c *client) handleGroupFile(env *protocol.Envelope) error {
	if env.RoomName == "" || env.Filename == "" || env.Content == "" {
		c.sendError("malformed_payload", "group file needs room_name, filename and content")
		return nil
	}
	if !c.requireMember(env.RoomName) {
		return nil
	}

	if err := c.server.store.SaveMessage(c.session.Username, env.RoomName, "FILE:"+env.Filename, "group_file"); err != nil {
		log.Printf("[SERVER] persist group file offer: %v", err)
	}

	c.server.broadcastToGroup(env.RoomName, &protocol.Envelope{
		Type:     protocol.MsgGroupFile,
		RoomName: env.RoomName,
		From:     c.session.Username,
		Filename: env.Filename,
		Content:  env.Content,
	}, c.session.Username)
	return nil
}

func (c *client) handleGroupVoice(env *protocol.Envelope) error {
	if env.RoomName == "" || env.Content == "" {
		c.sendError("malformed_payload", "group voice needs room_name and content")
		return nil
	}
	if !c.requireMember(env.RoomName) {
		return nil
	}

	c.server.broadcastToGroup(env.RoomName, &protocol.Envelope{
		Type:     protocol.MsgGroupVoice,
		RoomName: env.RoomName,
		From:     c.session.Username,
		Content:  env.Content,
		Duration: env.Duration,
	}, c.session.Username)
	return nil
}

func (c *client) handleGroupCall(env *protocol.Envelope) error {
	if env.RoomName == "" {
		c.sendError("malformed_payload", "group call needs room_name")
		return nil
	}
	if !c.requireMember(env.RoomName) {
		return nil
	}

	// The room name is the call id; every accepting member joins the
	// same star topology.
	c.bindMedia(env.RoomName, env)

	mode := env.Mode
	if mode == "" {
		mode = "audio"
	}
	c.server.broadcastToGroup(env.RoomName, &protocol.Envelope{
		Type:     protocol.MsgGroupCall,
		RoomName: env.RoomName,
		From:     c.session.Username,
		Mode:     mode,
	}, c.session.Username)
	return nil
}

func (c *client) handleGroupCallAccept(env *protocol.Envelope) error {
	if env.RoomName == "" {
		c.sendError("malformed_payload", "group call accept needs room_name")
		return nil
	}
	if !c.requireMember(env.RoomName) {
		return nil
	}

	c.bindMedia(env.RoomName, env)
	log.Printf("[GROUP CALL] %s joined %s", c.session.Username, env.RoomName)

	c.server.broadcastToGroup(env.RoomName, &protocol.Envelope{
		Type:     protocol.MsgGroupCallAccept,
		RoomName: env.RoomName,
		From:     c.session.Username,
	}, "")
	return nil
}

func (c *client) handleGroupAddUser(env *protocol.Envelope) error {
	if env.RoomName == "" || env.TargetUser == "" {
		c.sendError("malformed_payload", "group add needs room_name and target_user")
		return nil
	}

	group, err := c.server.store.GetGroup(env.RoomName)
	if err != nil {
		c.sendError("not_found", "group not found")
		return nil
	}
	if group.Creator != c.session.Username {
		c.sendError("protocol_violation", "only the creator can add users")
		return nil
	}
	if _, err := c.server.store.GetUser(env.TargetUser); err != nil {
		c.sendError("not_found", "no such user")
		return nil
	}

	added, err := c.server.store.AddMember(env.RoomName, env.TargetUser)
	if err != nil {
		log.Printf("[GROUP] add %s to %s: %v", env.TargetUser, env.RoomName, err)
		c.sendError("storage", "could not add user")
		return nil
	}
	if !added {
		return c.send(protocol.NewSystemText("", "User already in group"))
	}

	if err := c.send(protocol.NewSystemText("", fmt.Sprintf("Added %s to %s", env.TargetUser, env.RoomName))); err != nil {
		return err
	}

	if target, ok := c.server.registry.Lookup(env.TargetUser); ok {
		target.JoinedGroup(env.RoomName)
		c.server.sendGroupLists(target)
		target.Send(protocol.NewSystemText("", fmt.Sprintf("You were added to '%s'", env.RoomName)))
	}

	c.server.broadcastToGroup(env.RoomName,
		protocol.NewSystemText(env.RoomName, fmt.Sprintf("%s added by creator", env.TargetUser)), "")
	return nil
}
