/*
Package protocol defines the wire format shared by the roomsync server and the
Go client: one JSON object per WebSocket frame, tagged by a "type" field.

The package is transport-agnostic; it only describes frame shapes, error codes,
and the custom close codes used during the upgrade handshake.
*/
package protocol

import (
	"encoding/json"
	"time"
)

// Client-to-server frame types.
const (
	TypeJoinRoom       = "join_room"
	TypeLeaveRoom      = "leave_room"
	TypeUpdatePresence = "update_presence"
	TypeBroadcastEvent = "broadcast_event"
	TypeSendChat       = "send_chat"
)

// Server-to-client frame types. TypeBroadcastEvent is shared: the relayed
// frame keeps the inbound type tag.
const (
	TypeRoomJoined      = "room_joined"
	TypePresenceUpdated = "presence_updated"
	TypeChatMessage     = "chat_message"
	TypeError           = "error"
)

// Error codes carried by Error frames.
const (
	CodeInvalidJSON    = "INVALID_JSON"
	CodeInvalidMessage = "INVALID_MESSAGE"
	CodeServerError    = "SERVER_ERROR"
)

// Custom WebSocket close codes (4000-4999 range) sent when the upgrade-time
// auth policy rejects a connection.
const (
	CloseAuthRejected        = 4401
	CloseResolverUnavailable = 4500
)

// ClientFrame is the union of all client-to-server frames. Which fields are
// meaningful depends on Type; unused fields stay empty on the wire.
type ClientFrame struct {
	Type string `json:"type"`

	// join_room
	RoomID     string          `json:"roomId,omitempty"`
	Presence   json.RawMessage `json:"presence,omitempty"`
	Credential string          `json:"credential,omitempty"`
	Name       string          `json:"name,omitempty"`
	Email      string          `json:"email,omitempty"`

	// broadcast_event
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// send_chat
	Message  string          `json:"message,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// PresenceEntry is one member's visible state inside a room. The presence
// document is opaque: the server stores and relays it verbatim.
type PresenceEntry struct {
	ConnectionID string          `json:"connectionId"`
	SubjectID    string          `json:"subjectId,omitempty"`
	Name         string          `json:"name,omitempty"`
	Email        string          `json:"email,omitempty"`
	Provider     string          `json:"provider,omitempty"`
	Presence     json.RawMessage `json:"presence,omitempty"`
}

// ChatMessage is a persisted chat message as delivered to clients.
type ChatMessage struct {
	ID           string          `json:"id"`
	RoomID       string          `json:"roomId"`
	ConnectionID string          `json:"connectionId"`
	SubjectID    string          `json:"subjectId,omitempty"`
	Message      string          `json:"message"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// RoomJoined is the snapshot sent to a connection that just joined a room.
type RoomJoined struct {
	Type         string                   `json:"type"`
	RoomID       string                   `json:"roomId"`
	ConnectionID string                   `json:"connectionId"`
	Presence     map[string]PresenceEntry `json:"presence"`
	ChatHistory  []ChatMessage            `json:"chatHistory"`
}

// PresenceUpdated is the membership delta broadcast to the other members of a
// room. Exactly one of Joined, Left, or Updated is populated per frame.
type PresenceUpdated struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"roomId"`
	Joined  []PresenceEntry `json:"joined,omitempty"`
	Left    []string        `json:"left,omitempty"`
	Updated []PresenceEntry `json:"updated,omitempty"`
}

// BroadcastEvent is an application event relayed to the other members of a
// room. Never persisted and never echoed to its origin.
type BroadcastEvent struct {
	Type         string          `json:"type"`
	RoomID       string          `json:"roomId"`
	ConnectionID string          `json:"connectionId"`
	SubjectID    string          `json:"subjectId,omitempty"`
	Event        string          `json:"event"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// ChatDelivery wraps a ChatMessage for the wire. Delivered to every member of
// the room, sender included.
type ChatDelivery struct {
	Type string `json:"type"`
	ChatMessage
}

// Error reports a protocol or operation failure to the offending connection.
type Error struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewError builds an Error frame with the given code and message.
func NewError(code, message string) Error {
	return Error{Type: TypeError, Code: code, Message: message}
}
