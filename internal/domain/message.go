package domain

import "encoding/json"

// MessageType is the "type" tag of a wire envelope.
type MessageType string

// Client → Server
const (
	MsgUpdateProfile  MessageType = "update-profile"
	MsgUpdateLocation MessageType = "update-location"
	MsgChatPrivate    MessageType = "chat-private"
	MsgChatGroup      MessageType = "chat-group"
	MsgPing           MessageType = "ping"
)

// Server → Client. Chat and ping envelopes reuse the inbound tags.
const (
	MsgWelcome     MessageType = "welcome"
	MsgUserJoined  MessageType = "user-joined"
	MsgUserUpdated MessageType = "user-updated"
	MsgUserLeft    MessageType = "user-left"
)

// Envelope is the shape of every outbound frame.
type Envelope struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload"`
}

type WelcomePayload struct {
	SelfID string        `json:"selfId"`
	Users  []Participant `json:"users"`
}

// UserPayload carries the full public projection, never a diff.
type UserPayload struct {
	User Participant `json:"user"`
}

type UserLeftPayload struct {
	ID string `json:"id"`
}

// ChatPrivatePayload echoes the client's "to" value verbatim, whatever its
// JSON type.
type ChatPrivatePayload struct {
	From string          `json:"from"`
	To   json.RawMessage `json:"to"`
	Text string          `json:"text"`
	TS   int64           `json:"ts"`
}

type ChatGroupPayload struct {
	From string `json:"from"`
	Text string `json:"text"`
	TS   int64  `json:"ts"`
}

type PingPayload struct {
	From string          `json:"from"`
	To   json.RawMessage `json:"to"`
	TS   int64           `json:"ts"`
}
