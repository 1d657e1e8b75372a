/*
Package room contains the core logic for room membership, presence
synchronization, event broadcast, and chat delivery.

This file defines the Connection, the per-client session over one WebSocket.
It decodes inbound frames, resolves identity on first join, enforces the
presence-update throttle, and forwards intents to the room the connection
currently occupies. A connection is a member of at most one room at a time;
joining a new room always leaves the old one first.
*/
package room

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"roomsync/internal/app/identity"
	"roomsync/internal/pkg/logx"
	"roomsync/internal/pkg/randx"
	"roomsync/protocol"
)

const (
	// timeout for writing a frame to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time to wait for a Pong from the client.
	pongWait = 60 * time.Second

	// frequency of server Ping messages.
	pingPeriod = (pongWait * 9) / 10

	// maximum inbound frame size in bytes; presence documents are opaque
	// but not unbounded.
	maxMessageSize = 64 * 1024

	// capacity of the per-connection outbound queue. Frames beyond this are
	// dropped rather than allowed to block a room actor.
	sendQueueSize = 256

	// maximum accepted room id length in bytes.
	maxRoomIDLen = 128

	// joinRetries bounds retries against a room that closed mid-join.
	joinRetries = 3
)

// Connection is one client's session over a single WebSocket. All fields
// below conn are owned by the read-pump goroutine except send, which the
// room actors write to through the Sink interface.
type Connection struct {
	id       string
	registry *Registry
	resolver *identity.Resolver
	conn     *websocket.Conn
	ctx      context.Context

	send chan []byte

	// room is the current membership; nil while not joined.
	room *Room

	// ident is the attached identity. resolved marks it as coming from a
	// credential; until then it may carry only claimed name/email fields and
	// a later credential can still supersede it.
	ident    *identity.Identity
	resolved bool

	// throttle gates update_presence; excess updates are dropped, never
	// queued.
	throttle *rate.Limiter

	logger zerolog.Logger
}

// NewConnection builds a Connection for an upgraded WebSocket. A
// presenceInterval of zero disables the throttle.
func NewConnection(ctx context.Context, registry *Registry, resolver *identity.Resolver, wsConn *websocket.Conn, presenceInterval time.Duration) *Connection {
	id := randx.ConnectionID()

	throttle := rate.NewLimiter(rate.Inf, 0)
	if presenceInterval > 0 {
		throttle = rate.NewLimiter(rate.Every(presenceInterval), 1)
	}

	return &Connection{
		id:       id,
		registry: registry,
		resolver: resolver,
		conn:     wsConn,
		ctx:      ctx,
		send:     make(chan []byte, sendQueueSize),
		throttle: throttle,
		logger:   logx.Logger().With().Str("connection_id", id).Logger(),
	}
}

// ConnectionID implements Sink.
func (c *Connection) ConnectionID() string {
	return c.id
}

// Enqueue implements Sink: a non-blocking push onto the outbound queue.
func (c *Connection) Enqueue(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// ReadPump reads frames from the WebSocket until the connection drops, then
// performs the implicit leave. It must run on the handler goroutine.
func (c *Connection) ReadPump() {
	defer c.cleanupOnDisconnect()

	c.conn.SetReadLimit(maxMessageSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frameBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Connection read ended unexpectedly")
			}
			break
		}

		c.dispatch(frameBytes)
	}
}

// cleanupOnDisconnect performs the implicit leave and releases the outbound
// queue. Idempotent via the leave no-op semantics; after it runs, no further
// inbound frames are processed.
func (c *Connection) cleanupOnDisconnect() {
	c.logger.Info().Msg("Connection cleanup starting.")

	c.leaveCurrentRoom()

	// The current room released this sink and the read pump is done, so
	// nothing can enqueue anymore.
	close(c.send)

	if err := c.conn.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("Connection close error")
	}
}

// dispatch decodes one inbound frame and routes it to its handler. Malformed
// frames produce an error frame for this connection only; room state is
// never touched.
func (c *Connection) dispatch(frameBytes []byte) {
	if !json.Valid(frameBytes) {
		c.sendError(protocol.CodeInvalidJSON, "frame is not valid JSON")
		return
	}

	var frame protocol.ClientFrame
	if err := json.Unmarshal(frameBytes, &frame); err != nil {
		c.sendError(protocol.CodeInvalidMessage, "frame does not match the protocol")
		return
	}

	switch frame.Type {
	case protocol.TypeJoinRoom:
		c.handleJoin(frame)
	case protocol.TypeLeaveRoom:
		c.handleLeave(frame)
	case protocol.TypeUpdatePresence:
		c.handleUpdatePresence(frame)
	case protocol.TypeBroadcastEvent:
		c.handleBroadcastEvent(frame)
	case protocol.TypeSendChat:
		c.handleSendChat(frame)
	default:
		c.sendError(protocol.CodeInvalidMessage, fmt.Sprintf("unknown message type %q", frame.Type))
	}
}

// handleJoin resolves identity if needed, leaves the current room, and joins
// the requested one. Identity resolution failure never blocks the join: the
// connection degrades to the client-supplied name/email or to anonymous. A
// claimed-only identity never blocks later resolution; the first credential
// that resolves becomes the connection's identity, keeping earlier claimed
// fields only where the credential leaves gaps. When the join to the new room
// fails, the implicit leave of the old room is not undone: the connection is
// in no room until the client retries.
func (c *Connection) handleJoin(frame protocol.ClientFrame) {
	if frame.RoomID == "" || len(frame.RoomID) > maxRoomIDLen {
		c.sendError(protocol.CodeInvalidMessage, "join_room requires a roomId of at most 128 bytes")
		return
	}

	if !c.resolved && frame.Credential != "" {
		if ident := c.resolver.Resolve(frame.Credential); ident != nil {
			prev := c.ident
			c.ident = ident
			c.resolved = true
			if prev != nil {
				c.ident = identity.MergeFallback(c.ident, prev.Name, prev.Email)
			}
		}
	}
	c.ident = identity.MergeFallback(c.ident, frame.Name, frame.Email)

	// Mandatory: never a member of two rooms at once. The left notification
	// in the old room precedes anything observed in the new one.
	c.leaveCurrentRoom()

	for attempt := 0; attempt < joinRetries; attempt++ {
		target := c.registry.GetOrCreate(frame.RoomID)

		err := target.Join(c.ctx, c, c.ident, frame.Presence)
		if err == nil {
			c.room = target
			return
		}
		if err == ErrRoomClosed {
			continue
		}

		c.logger.Error().Err(err).Str("room_id", frame.RoomID).Msg("Join failed.")
		c.sendError(protocol.CodeServerError, "failed to join room")
		return
	}

	c.sendError(protocol.CodeServerError, "failed to join room")
}

// handleLeave leaves the named room, or the current one when roomId is
// omitted. No-op when the connection is not a member of the target.
func (c *Connection) handleLeave(frame protocol.ClientFrame) {
	if frame.RoomID != "" && (c.room == nil || c.room.ID != frame.RoomID) {
		return
	}
	c.leaveCurrentRoom()
}

// handleUpdatePresence replaces this member's presence document. Updates
// inside the throttle window are dropped silently: no error, no echo.
func (c *Connection) handleUpdatePresence(frame protocol.ClientFrame) {
	if c.room == nil {
		return
	}

	if !c.throttle.Allow() {
		return
	}

	if err := c.room.UpdatePresence(c.ctx, c.id, frame.Presence); err == ErrRoomClosed {
		c.room = nil
	}
}

// handleBroadcastEvent relays an application event to the other members.
func (c *Connection) handleBroadcastEvent(frame protocol.ClientFrame) {
	if c.room == nil {
		return
	}

	if frame.Event == "" {
		c.sendError(protocol.CodeInvalidMessage, "broadcast_event requires an event name")
		return
	}

	if err := c.room.BroadcastEvent(c.ctx, c.id, frame.Event, frame.Payload); err == ErrRoomClosed {
		c.room = nil
	}
}

// handleSendChat appends the message to the chat store and broadcasts it to
// the whole room, sender included.
func (c *Connection) handleSendChat(frame protocol.ClientFrame) {
	if c.room == nil {
		return
	}

	if frame.Message == "" {
		c.sendError(protocol.CodeInvalidMessage, "send_chat requires a message")
		return
	}

	err := c.room.SendChat(c.ctx, c.id, frame.Message, frame.Metadata)
	if err == ErrRoomClosed {
		c.room = nil
		return
	}
	if err != nil {
		c.sendError(protocol.CodeServerError, "failed to send chat message")
	}
}

// leaveCurrentRoom removes the connection from its room, if any.
func (c *Connection) leaveCurrentRoom() {
	if c.room == nil {
		return
	}

	if err := c.room.Leave(c.ctx, c.id); err != nil && err != ErrRoomClosed {
		c.logger.Warn().Err(err).Str("room_id", c.room.ID).Msg("Leave failed.")
	}
	c.room = nil
}

// sendError queues a structured error frame for this connection only.
func (c *Connection) sendError(code, message string) {
	raw, err := json.Marshal(protocol.NewError(code, message))
	if err != nil {
		c.logger.Error().Err(err).Msg("Error marshaling error frame")
		return
	}

	if !c.Enqueue(raw) {
		c.logger.Warn().Str("code", code).Msg("Send queue full, dropping error frame")
	}
}

// WritePump drains the outbound queue to the WebSocket and keeps the
// heartbeat alive. Runs on its own goroutine.
func (c *Connection) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Connection close error in WritePump")
		}
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error().Err(err).Msg("Failed to set write deadline")
				return
			}

			if !ok {
				if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
					c.logger.Debug().Err(err).Msg("Error writing close message")
				}
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug().Err(err).Msg("Error writing frame")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error().Err(err).Msg("Failed to set write deadline on ping")
				return
			}

			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug().Err(err).Msg("Error writing ping")
				return
			}
		}
	}
}
