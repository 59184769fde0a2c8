package protocol

import (
	"encoding/json"
	"fmt"
)

// Client-to-server message types
const (
	MsgSignup          = "signup"
	MsgLogin           = "login"
	MsgLogout          = "logout"
	MsgPrivate         = "private"
	MsgFile            = "file"
	MsgVoiceMsg        = "voice_msg"
	MsgHistory         = "req_history"
	MsgCall            = "call"
	MsgCallAccept      = "call_accept"
	MsgCallReject      = "call_reject"
	MsgCallEnd         = "call_end"
	MsgGroupCreate     = "group_create"
	MsgGroupJoin       = "group_join"
	MsgGroupLeave      = "group_leave"
	MsgGroupMsg        = "group_msg"
	MsgGroupFile       = "group_file"
	MsgGroupCall       = "group_call"
	MsgGroupCallAccept = "group_call_accept"
	MsgGroupVoice      = "group_voice_msg"
	MsgGroupAddUser    = "group_add_user"
)

// Server-to-client message types
const (
	MsgAuthResult    = "auth_result"
	MsgText          = "text"
	MsgHistoryData   = "history"
	MsgUserList      = "list"
	MsgAllGroupsList = "all_groups_list"
	MsgMyGroupsList  = "my_groups_list"
	MsgError         = "error"
)

// Envelope is the decoded form of an inbound control frame. It carries the
// union of the fields used by every client message type; which fields are
// meaningful depends on Type.
type Envelope struct {
	Type       string `json:"type"`
	Username   string `json:"username,omitempty"`
	Password   string `json:"password,omitempty"`
	To         string `json:"to,omitempty"`
	From       string `json:"from,omitempty"`
	Content    string `json:"content,omitempty"`
	Filename   string `json:"filename,omitempty"`
	Duration   int    `json:"duration,omitempty"`
	Mode       string `json:"mode,omitempty"`
	RoomName   string `json:"room_name,omitempty"`
	Pin        string `json:"pin,omitempty"`
	TargetUser string `json:"target_user,omitempty"`
	With       string `json:"with,omitempty"`
	AudioPort  int    `json:"audio_port,omitempty"`
	VideoPort  int    `json:"video_port,omitempty"`
}

// DecodeEnvelope parses a frame payload. A document that is not valid JSON,
// or that lacks a type discriminator, fails with ErrMalformedPayload.
func DecodeEnvelope(payload []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type field", ErrMalformedPayload)
	}
	return &env, nil
}

// AuthResult reports the outcome of a signup or login attempt.
type AuthResult struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// SystemText is an informational server notice rendered in the chat view.
type SystemText struct {
	Type    string `json:"type"`
	From    string `json:"from"`
	Content string `json:"content"`
	Room    string `json:"room_name,omitempty"`
}

// NewSystemText builds a SYSTEM notice, optionally scoped to a group.
func NewSystemText(room, content string) *SystemText {
	typ := MsgText
	if room != "" {
		typ = MsgGroupMsg
	}
	return &SystemText{Type: typ, From: "SYSTEM", Content: content, Room: room}
}

// ErrorFrame is the structured reply for a message that failed validation.
// The connection survives unless the underlying error is transport-fatal.
type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewErrorFrame builds an error reply with the given machine-readable code.
func NewErrorFrame(code, message string) *ErrorFrame {
	return &ErrorFrame{Type: MsgError, Code: code, Message: message}
}

// UserStatus is one entry of the online-users broadcast.
type UserStatus struct {
	Username string `json:"username"`
	Status   string `json:"status"`
}

// UserList is the full roster broadcast sent on every presence change.
type UserList struct {
	Type  string       `json:"type"`
	Users []UserStatus `json:"users"`
}

// GroupInfo describes one group the receiving user belongs to.
type GroupInfo struct {
	Name    string `json:"name"`
	Creator string `json:"creator"`
}

// AllGroupsList advertises every group name on the server.
type AllGroupsList struct {
	Type   string   `json:"type"`
	Groups []string `json:"groups"`
}

// MyGroupsList lists the groups the receiving user is a member of.
type MyGroupsList struct {
	Type   string      `json:"type"`
	Groups []GroupInfo `json:"groups"`
}

// HistoryEntry is one stored message replayed to a client.
type HistoryEntry struct {
	Sender  string `json:"sender"`
	Content string `json:"content"`
	Kind    string `json:"type"`
}

// HistoryData replays stored conversation history.
type HistoryData struct {
	Type    string         `json:"type"`
	With    string         `json:"with"`
	Entries []HistoryEntry `json:"data"`
}

// Marshal encodes any outbound message value to its frame payload.
func Marshal(v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return payload, nil
}
