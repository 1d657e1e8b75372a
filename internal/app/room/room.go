/*
Package room contains the core logic for room membership, presence
synchronization, event broadcast, and chat delivery.

This file defines the Room actor. A single run-loop goroutine owns all state
for one room id and applies operations strictly one at a time: state is
mutated and every resulting notification is dispatched before the next
operation begins. Rooms never share state, so a stalled operation in one room
cannot block another.
*/
package room

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"roomsync/internal/app/identity"
	"roomsync/internal/app/store"
	"roomsync/internal/pkg/logx"
	"roomsync/internal/pkg/randx"
	"roomsync/protocol"
)

// opsChannelBuffer bounds the per-room operation queue.
const opsChannelBuffer = 64

// ErrRoomClosed is returned for operations against a room whose run loop has
// exited. Callers obtain a fresh instance from the registry and retry.
var ErrRoomClosed = errors.New("room closed")

// Sink is the outbound side of a member connection: a bounded, non-blocking
// frame queue. Enqueue reports false when the queue is full so a slow member
// can never stall the room actor.
type Sink interface {
	ConnectionID() string
	Enqueue(frame []byte) bool
}

// memberState is one member as the room sees it.
type memberState struct {
	sink  Sink
	entry protocol.PresenceEntry
}

type opKind int

const (
	opJoin opKind = iota
	opLeave
	opPresence
	opEvent
	opChat
	opCount
)

// roomOp carries one operation into the run loop. Which fields are set
// depends on kind. Every accepted op gets exactly one reply.
type roomOp struct {
	kind opKind
	ctx  context.Context

	sink     Sink
	identity *identity.Identity
	connID   string
	doc      json.RawMessage

	event   string
	payload json.RawMessage

	body     string
	metadata json.RawMessage

	count *int

	reply chan error
}

// CleanupMsg tells the registry that a room's run loop has finished.
type CleanupMsg struct {
	RoomID string
	Room   *Room
}

// Room owns membership, presence, and chat broadcast for one room id.
type Room struct {
	// ID is the opaque room identifier.
	ID string

	chatStore    store.ChatStore
	historyLimit int
	idleTimeout  time.Duration

	// members is touched only by the run loop goroutine.
	members map[string]*memberState

	ops  chan roomOp
	done chan struct{}
	stop sync.Once

	cleanupChan chan<- CleanupMsg
	idleTimer   *time.Timer

	logger zerolog.Logger
}

// NewRoom creates a Room. The caller starts its run loop with go Run().
func NewRoom(roomID string, chatStore store.ChatStore, historyLimit int, idleTimeout time.Duration, cleanupChan chan<- CleanupMsg) *Room {
	return &Room{
		ID:           roomID,
		chatStore:    chatStore,
		historyLimit: historyLimit,
		idleTimeout:  idleTimeout,
		members:      make(map[string]*memberState),
		ops:          make(chan roomOp, opsChannelBuffer),
		done:         make(chan struct{}),
		cleanupChan:  cleanupChan,
		idleTimer:    time.NewTimer(idleTimeout),
		logger:       logx.Logger().With().Str("room_id", roomID).Logger(),
	}
}

// Stop terminates the run loop regardless of membership. Used on shutdown.
func (r *Room) Stop() {
	r.stop.Do(func() { close(r.done) })
}

// Run is the room's event loop. It exits when the room has been empty for
// idleTimeout or when Stop is called, then notifies the registry.
func (r *Room) Run() {
	defer r.finish()

	for {
		select {
		case op := <-r.ops:
			op.reply <- r.apply(op)

		case <-r.idleTimer.C:
			if len(r.members) == 0 {
				r.logger.Info().Msg("Room idle timeout reached. Shutting down.")
				return
			}
			// Raced with a join that could not stop the timer in time.
			r.idleTimer.Reset(r.idleTimeout)

		case <-r.done:
			r.logger.Info().Msg("Room stop requested.")
			return
		}
	}
}

// finish marks the room closed and notifies the registry. Pending callers
// observe the closed done channel and receive ErrRoomClosed.
func (r *Room) finish() {
	r.stop.Do(func() { close(r.done) })
	r.idleTimer.Stop()

	select {
	case r.cleanupChan <- CleanupMsg{RoomID: r.ID, Room: r}:
	default:
		r.logger.Warn().Msg("Registry cleanup channel full. Skipping cleanup notification.")
	}
}

// do submits an op and waits for its result. Returns ErrRoomClosed when the
// room shut down before the op could be accepted or processed.
func (r *Room) do(ctx context.Context, op roomOp) error {
	op.ctx = ctx
	op.reply = make(chan error, 1)

	select {
	case r.ops <- op:
	case <-r.done:
		return ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-op.reply:
		return err
	case <-r.done:
		return ErrRoomClosed
	}
}

// Join adds the member and delivers its room-state snapshot. All other
// members receive a joined delta. On any failure no membership changes.
func (r *Room) Join(ctx context.Context, sink Sink, ident *identity.Identity, presence json.RawMessage) error {
	return r.do(ctx, roomOp{kind: opJoin, sink: sink, identity: ident, doc: presence})
}

// Leave removes the member and notifies the remaining members. No-op for
// unknown connection ids.
func (r *Room) Leave(ctx context.Context, connID string) error {
	return r.do(ctx, roomOp{kind: opLeave, connID: connID})
}

// UpdatePresence replaces the member's presence document and notifies the
// other members. Throttling happens on the connection, before the op is
// submitted; every accepted update is delivered.
func (r *Room) UpdatePresence(ctx context.Context, connID string, doc json.RawMessage) error {
	return r.do(ctx, roomOp{kind: opPresence, connID: connID, doc: doc})
}

// BroadcastEvent relays an application event to every member except the
// origin. Events are never persisted.
func (r *Room) BroadcastEvent(ctx context.Context, connID, event string, payload json.RawMessage) error {
	return r.do(ctx, roomOp{kind: opEvent, connID: connID, event: event, payload: payload})
}

// SendChat appends the message to the chat store and then broadcasts it to
// every member, sender included. The append happens first so that any later
// snapshot is guaranteed to contain a message that members saw broadcast.
func (r *Room) SendChat(ctx context.Context, connID, body string, metadata json.RawMessage) error {
	return r.do(ctx, roomOp{kind: opChat, connID: connID, body: body, metadata: metadata})
}

// MemberCount reports the current membership size. It serializes with the
// other operations, so the count reflects a consistent point in the room's
// history. A closed room reports zero.
func (r *Room) MemberCount() int {
	var n int
	if err := r.do(context.Background(), roomOp{kind: opCount, count: &n}); err != nil {
		return 0
	}
	return n
}

// apply executes one operation on the run-loop goroutine.
func (r *Room) apply(op roomOp) error {
	switch op.kind {
	case opJoin:
		return r.applyJoin(op)
	case opLeave:
		r.applyLeave(op.connID)
		return nil
	case opPresence:
		r.applyPresence(op.connID, op.doc)
		return nil
	case opEvent:
		r.applyEvent(op.connID, op.event, op.payload)
		return nil
	case opChat:
		return r.applyChat(op)
	case opCount:
		*op.count = len(r.members)
		return nil
	default:
		return errors.New("unknown room operation")
	}
}

func (r *Room) applyJoin(op roomOp) error {
	connID := op.sink.ConnectionID()

	// History is fetched before any mutation so a store failure leaves the
	// room untouched.
	history, err := r.chatStore.Recent(op.ctx, r.ID, r.historyLimit)
	if err != nil {
		r.logger.Error().Err(err).Str("connection_id", connID).Msg("Chat history fetch failed during join.")
		return err
	}

	entry := protocol.PresenceEntry{
		ConnectionID: connID,
		Presence:     op.doc,
	}
	if op.identity != nil {
		entry.SubjectID = op.identity.SubjectID
		entry.Name = op.identity.Name
		entry.Email = op.identity.Email
		entry.Provider = op.identity.Provider
	}

	r.members[connID] = &memberState{sink: op.sink, entry: entry}

	if !r.idleTimer.Stop() {
		select {
		case <-r.idleTimer.C:
		default:
		}
	}

	snapshot := protocol.RoomJoined{
		Type:         protocol.TypeRoomJoined,
		RoomID:       r.ID,
		ConnectionID: connID,
		Presence:     make(map[string]protocol.PresenceEntry, len(r.members)),
		ChatHistory:  toWireMessages(history),
	}
	for id, member := range r.members {
		snapshot.Presence[id] = member.entry
	}

	r.sendTo(connID, snapshot)

	r.broadcastExcept(connID, protocol.PresenceUpdated{
		Type:   protocol.TypePresenceUpdated,
		RoomID: r.ID,
		Joined: []protocol.PresenceEntry{entry},
	})

	r.logger.Info().Str("connection_id", connID).Int("total_members", len(r.members)).Msg("Member joined room.")
	return nil
}

func (r *Room) applyLeave(connID string) {
	if _, ok := r.members[connID]; !ok {
		return
	}

	delete(r.members, connID)

	r.broadcastExcept(connID, protocol.PresenceUpdated{
		Type:   protocol.TypePresenceUpdated,
		RoomID: r.ID,
		Left:   []string{connID},
	})

	r.logger.Info().Str("connection_id", connID).Int("total_members", len(r.members)).Msg("Member left room.")

	if len(r.members) == 0 {
		if !r.idleTimer.Stop() {
			select {
			case <-r.idleTimer.C:
			default:
			}
		}
		r.idleTimer.Reset(r.idleTimeout)
	}
}

func (r *Room) applyPresence(connID string, doc json.RawMessage) {
	member, ok := r.members[connID]
	if !ok {
		return
	}

	member.entry.Presence = doc

	r.broadcastExcept(connID, protocol.PresenceUpdated{
		Type:    protocol.TypePresenceUpdated,
		RoomID:  r.ID,
		Updated: []protocol.PresenceEntry{member.entry},
	})
}

func (r *Room) applyEvent(connID, event string, payload json.RawMessage) {
	member, ok := r.members[connID]
	if !ok {
		return
	}

	r.broadcastExcept(connID, protocol.BroadcastEvent{
		Type:         protocol.TypeBroadcastEvent,
		RoomID:       r.ID,
		ConnectionID: connID,
		SubjectID:    member.entry.SubjectID,
		Event:        event,
		Payload:      payload,
	})
}

func (r *Room) applyChat(op roomOp) error {
	member, ok := r.members[op.connID]
	if !ok {
		return nil
	}

	msg := store.Message{
		ID:           randx.MessageID(),
		RoomID:       r.ID,
		ConnectionID: op.connID,
		SubjectID:    member.entry.SubjectID,
		Body:         op.body,
		Metadata:     op.metadata,
		CreatedAt:    time.Now().UTC(),
	}

	// Append before broadcast: members must never see a message that a
	// subsequent snapshot could miss.
	if err := r.chatStore.Append(op.ctx, msg); err != nil {
		r.logger.Error().Err(err).Str("connection_id", op.connID).Msg("Chat append failed.")
		return err
	}

	r.broadcastExcept("", protocol.ChatDelivery{
		Type:        protocol.TypeChatMessage,
		ChatMessage: toWireMessage(msg),
	})

	return nil
}

// sendTo marshals frame and queues it for a single member.
func (r *Room) sendTo(connID string, frame any) {
	member, ok := r.members[connID]
	if !ok {
		return
	}

	raw, err := json.Marshal(frame)
	if err != nil {
		r.logger.Error().Err(err).Msg("Error marshaling frame for member.")
		return
	}

	if !member.sink.Enqueue(raw) {
		r.logger.Warn().Str("connection_id", connID).Msg("Member send queue full. Frame dropped.")
	}
}

// broadcastExcept marshals frame once and queues it for every member other
// than exceptID. Pass the empty string to reach all members. Full member
// queues drop the frame rather than block the room.
func (r *Room) broadcastExcept(exceptID string, frame any) {
	raw, err := json.Marshal(frame)
	if err != nil {
		r.logger.Error().Err(err).Msg("Error marshaling frame for broadcast.")
		return
	}

	for id, member := range r.members {
		if id == exceptID {
			continue
		}
		if !member.sink.Enqueue(raw) {
			r.logger.Warn().Str("connection_id", id).Msg("Member send queue full. Frame dropped.")
		}
	}
}

// toWireMessage converts a stored message to its wire form.
func toWireMessage(msg store.Message) protocol.ChatMessage {
	return protocol.ChatMessage{
		ID:           msg.ID,
		RoomID:       msg.RoomID,
		ConnectionID: msg.ConnectionID,
		SubjectID:    msg.SubjectID,
		Message:      msg.Body,
		Metadata:     msg.Metadata,
		CreatedAt:    msg.CreatedAt,
	}
}

func toWireMessages(msgs []store.Message) []protocol.ChatMessage {
	wire := make([]protocol.ChatMessage, 0, len(msgs))
	for _, msg := range msgs {
		wire = append(wire, toWireMessage(msg))
	}
	return wire
}
