/*
Package client implements the Go client session for a roomsync server.

A Session maintains the connection lifecycle: it dials the server, processes
inbound frames into callbacks, and on an unintended close reconnects with
exponential backoff, automatically re-issuing the last join intent (room id,
last-known presence, last-used credential). Local presence and chat state are
cleared on disconnect and repopulated only once the rejoin's room-state
snapshot arrives.
*/
package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"roomsync/protocol"
)

// State is the session lifecycle state.
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// Default reconnect backoff bounds.
const (
	DefaultBackoffBase = time.Second
	DefaultBackoffMax  = 30 * time.Second
)

// ErrSessionClosed is returned by operations on a session after Close.
var ErrSessionClosed = errors.New("session closed")

// ErrNotConnected is returned when an operation needs an open connection.
var ErrNotConnected = errors.New("session not connected")

// Handlers are the application callbacks. Nil entries are skipped. Callbacks
// run on the session's read goroutine; they must not block.
type Handlers struct {
	OnRoomJoined      func(protocol.RoomJoined)
	OnPresenceUpdated func(protocol.PresenceUpdated)
	OnChatMessage     func(protocol.ChatMessage)
	OnBroadcastEvent  func(protocol.BroadcastEvent)
	OnError           func(protocol.Error)
	OnStateChange     func(State)
}

// Options configures a Session.
type Options struct {
	// URL is the WebSocket endpoint, e.g. ws://host:8080/ws.
	URL string

	// Credential is presented at upgrade time and re-used on every rejoin.
	Credential string

	// BackoffBase is the first reconnect delay; doubled per failed attempt
	// up to BackoffMax, reset on any successful open.
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// Dialer overrides the default WebSocket dialer.
	Dialer *websocket.Dialer

	Handlers Handlers
}

// joinIntent is the replayable join: what to re-issue after a reconnect.
type joinIntent struct {
	roomID   string
	presence json.RawMessage
	name     string
	email    string
}

// Session is a client connection to a roomsync server. Safe for concurrent
// use.
type Session struct {
	opts Options

	mu           sync.Mutex
	state        State
	conn         *websocket.Conn
	intent       *joinIntent
	lastPresence json.RawMessage
	connectionID string
	members      map[string]protocol.PresenceEntry
	backoff      time.Duration

	writeMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a Session. Connect starts it.
func New(opts Options) (*Session, error) {
	if _, err := url.Parse(opts.URL); err != nil || opts.URL == "" {
		return nil, fmt.Errorf("invalid session URL %q", opts.URL)
	}

	if opts.BackoffBase <= 0 {
		opts.BackoffBase = DefaultBackoffBase
	}
	if opts.BackoffMax < opts.BackoffBase {
		opts.BackoffMax = DefaultBackoffMax
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}

	return &Session{
		opts:    opts,
		state:   StateClosed,
		members: make(map[string]protocol.PresenceEntry),
		backoff: opts.BackoffBase,
		done:    make(chan struct{}),
	}, nil
}

// Connect starts the session's connection loop. It returns immediately; the
// OnStateChange handler reports progress.
func (s *Session) Connect() {
	s.wg.Add(1)
	go s.run()
}

// Close ends the session permanently and waits for its goroutine to stop.
func (s *Session) Close() error {
	s.closeOnce.Do(func() { close(s.done) })

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}

	s.wg.Wait()
	return nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ConnectionID returns the server-assigned id for the current connection, or
// empty before the first room_joined snapshot.
func (s *Session) ConnectionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectionID
}

// Members returns a copy of the current room's presence map. Empty while not
// joined; repopulated from the snapshot after a rejoin.
func (s *Session) Members() map[string]protocol.PresenceEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	members := make(map[string]protocol.PresenceEntry, len(s.members))
	for id, entry := range s.members {
		members[id] = entry
	}
	return members
}

// Join requests membership in roomID with the given opaque presence document
// and optional claimed name/email. The intent is remembered and replayed
// after every reconnect until Leave or Close.
func (s *Session) Join(roomID string, presence json.RawMessage, name, email string) error {
	s.mu.Lock()
	s.intent = &joinIntent{roomID: roomID, presence: presence, name: name, email: email}
	s.lastPresence = presence
	open := s.state == StateOpen
	s.mu.Unlock()

	if !open {
		// The connect loop issues the join once the socket opens.
		return nil
	}

	return s.sendJoin(roomID, presence, name, email)
}

// Leave abandons the current room and clears the rejoin intent. The local
// roster empties immediately; the server processes the leave asynchronously.
func (s *Session) Leave() error {
	s.mu.Lock()
	s.intent = nil
	s.lastPresence = nil
	s.members = make(map[string]protocol.PresenceEntry)
	open := s.state == StateOpen
	s.mu.Unlock()

	if !open {
		return nil
	}

	return s.send(protocol.ClientFrame{Type: protocol.TypeLeaveRoom})
}

// UpdatePresence replaces this member's presence document. The document also
// becomes the one replayed on rejoin.
func (s *Session) UpdatePresence(doc json.RawMessage) error {
	s.mu.Lock()
	s.lastPresence = doc
	if s.intent != nil {
		s.intent.presence = doc
	}
	s.mu.Unlock()

	return s.send(protocol.ClientFrame{Type: protocol.TypeUpdatePresence, Presence: doc})
}

// SendChat sends a chat message to the current room.
func (s *Session) SendChat(message string, metadata json.RawMessage) error {
	return s.send(protocol.ClientFrame{Type: protocol.TypeSendChat, Message: message, Metadata: metadata})
}

// BroadcastEvent relays an application event to the other members.
func (s *Session) BroadcastEvent(event string, payload json.RawMessage) error {
	return s.send(protocol.ClientFrame{Type: protocol.TypeBroadcastEvent, Event: event, Payload: payload})
}

// run is the connection loop: dial, pump, and on unintended close reconnect
// with exponential backoff.
func (s *Session) run() {
	defer s.wg.Done()
	defer s.setState(StateClosed)

	for {
		select {
		case <-s.done:
			return
		default:
		}

		s.setState(StateConnecting)

		conn, err := s.dial()
		if err != nil {
			if !s.sleepBackoff() {
				return
			}
			continue
		}

		// The state flip and the intent read share one critical section: a
		// Join landing while still connecting is stored as intent and
		// replayed below, a Join after the flip sends itself. A gap between
		// the two would let a Join slip through unsent.
		s.mu.Lock()
		s.conn = conn
		s.backoff = s.opts.BackoffBase
		s.state = StateOpen
		intent := s.intent
		presence := s.lastPresence
		stateHandler := s.opts.Handlers.OnStateChange
		s.mu.Unlock()

		if stateHandler != nil {
			stateHandler(StateOpen)
		}

		// Best-effort rejoin with the last join intent; server-side state
		// may have changed while disconnected.
		if intent != nil {
			if presence == nil {
				presence = intent.presence
			}

			if err := s.sendJoin(intent.roomID, presence, intent.name, intent.email); err != nil {
				conn.Close()
			}
		}

		s.readLoop(conn)

		// Presence state is local to a connection; drop it until the next
		// snapshot arrives.
		s.mu.Lock()
		s.conn = nil
		s.connectionID = ""
		s.members = make(map[string]protocol.PresenceEntry)
		s.mu.Unlock()
	}
}

// dial opens the WebSocket, attaching the credential for the upgrade-time
// auth policy.
func (s *Session) dial() (*websocket.Conn, error) {
	endpoint := s.opts.URL
	if s.opts.Credential != "" {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, err
		}
		q := u.Query()
		q.Set("credential", s.opts.Credential)
		u.RawQuery = q.Encode()
		endpoint = u.String()
	}

	conn, _, err := s.opts.Dialer.Dial(endpoint, nil)
	return conn, err
}

// sleepBackoff waits for the current backoff interval, doubling it for the
// next attempt up to the ceiling. Returns false when the session closed.
func (s *Session) sleepBackoff() bool {
	s.mu.Lock()
	wait := s.backoff
	s.backoff = nextBackoff(s.backoff, s.opts.BackoffMax)
	s.mu.Unlock()

	select {
	case <-time.After(wait):
		return true
	case <-s.done:
		return false
	}
}

// nextBackoff doubles cur, capped at max.
func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}

// readLoop decodes inbound frames until the connection drops.
func (s *Session) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return
		}

		s.handleFrame(raw)
	}
}

// handleFrame routes one server frame to local state and callbacks.
func (s *Session) handleFrame(raw []byte) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return
	}

	switch probe.Type {
	case protocol.TypeRoomJoined:
		var frame protocol.RoomJoined
		if err := json.Unmarshal(raw, &frame); err != nil {
			return
		}

		s.mu.Lock()
		s.connectionID = frame.ConnectionID
		s.members = make(map[string]protocol.PresenceEntry, len(frame.Presence))
		for id, entry := range frame.Presence {
			s.members[id] = entry
		}
		// Fall back to the broadcast self-entry when no presence is pending,
		// so the next rejoin replays what the room last saw.
		if s.lastPresence == nil {
			if self, ok := frame.Presence[frame.ConnectionID]; ok {
				s.lastPresence = self.Presence
			}
		}
		handler := s.opts.Handlers.OnRoomJoined
		s.mu.Unlock()

		if handler != nil {
			handler(frame)
		}

	case protocol.TypePresenceUpdated:
		var frame protocol.PresenceUpdated
		if err := json.Unmarshal(raw, &frame); err != nil {
			return
		}

		s.mu.Lock()
		for _, entry := range frame.Joined {
			s.members[entry.ConnectionID] = entry
		}
		for _, id := range frame.Left {
			delete(s.members, id)
		}
		for _, entry := range frame.Updated {
			s.members[entry.ConnectionID] = entry
		}
		handler := s.opts.Handlers.OnPresenceUpdated
		s.mu.Unlock()

		if handler != nil {
			handler(frame)
		}

	case protocol.TypeChatMessage:
		var frame protocol.ChatDelivery
		if err := json.Unmarshal(raw, &frame); err != nil {
			return
		}
		if handler := s.opts.Handlers.OnChatMessage; handler != nil {
			handler(frame.ChatMessage)
		}

	case protocol.TypeBroadcastEvent:
		var frame protocol.BroadcastEvent
		if err := json.Unmarshal(raw, &frame); err != nil {
			return
		}
		if handler := s.opts.Handlers.OnBroadcastEvent; handler != nil {
			handler(frame)
		}

	case protocol.TypeError:
		var frame protocol.Error
		if err := json.Unmarshal(raw, &frame); err != nil {
			return
		}
		if handler := s.opts.Handlers.OnError; handler != nil {
			handler(frame)
		}
	}
}

// sendJoin writes a join_room frame.
func (s *Session) sendJoin(roomID string, presence json.RawMessage, name, email string) error {
	return s.send(protocol.ClientFrame{
		Type:       protocol.TypeJoinRoom,
		RoomID:     roomID,
		Presence:   presence,
		Credential: s.opts.Credential,
		Name:       name,
		Email:      email,
	})
}

// send marshals and writes one frame on the open connection.
func (s *Session) send(frame protocol.ClientFrame) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	raw, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, raw)
}

// setState updates the state and fires the callback on change.
func (s *Session) setState(next State) {
	s.mu.Lock()
	if s.state == next {
		s.mu.Unlock()
		return
	}
	s.state = next
	handler := s.opts.Handlers.OnStateChange
	s.mu.Unlock()

	if handler != nil {
		handler(next)
	}
}
