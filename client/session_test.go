package client

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomsync/internal/app/identity"
	"roomsync/internal/app/room"
	"roomsync/internal/app/store"
	"roomsync/internal/configs"
	"roomsync/internal/handler"
	"roomsync/protocol"
)

const waitTimeout = 3 * time.Second

// newTestServer runs the real server over an in-memory chat store.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := &configs.AppConfig{
		Environment:      "development",
		AuthMode:         configs.AuthModeNone,
		ChatHistoryLimit: 50,
	}

	chatStore := store.NewMemoryStore()
	registry := room.NewRegistry(chatStore, room.Config{HistoryLimit: cfg.ChatHistoryLimit})

	srv := httptest.NewServer(handler.Router(&handler.AppDeps{
		Registry: registry,
		Resolver: identity.NewResolver(cfg),
		Store:    chatStore,
		Config:   cfg,
	}))
	t.Cleanup(func() {
		srv.Close()
		registry.Shutdown()
	})

	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func waitFor[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func TestNextBackoff(t *testing.T) {
	tests := []struct {
		cur  time.Duration
		max  time.Duration
		want time.Duration
	}{
		{cur: time.Second, max: 30 * time.Second, want: 2 * time.Second},
		{cur: 8 * time.Second, max: 30 * time.Second, want: 16 * time.Second},
		{cur: 16 * time.Second, max: 30 * time.Second, want: 30 * time.Second},
		{cur: 30 * time.Second, max: 30 * time.Second, want: 30 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, nextBackoff(tt.cur, tt.max))
	}
}

func TestNew_RejectsEmptyURL(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}

func TestNew_AppliesBackoffDefaults(t *testing.T) {
	s, err := New(Options{URL: "ws://localhost:8080/ws"})
	require.NoError(t, err)

	assert.Equal(t, DefaultBackoffBase, s.opts.BackoffBase)
	assert.Equal(t, DefaultBackoffMax, s.opts.BackoffMax)
}

func TestSession_JoinAndChat(t *testing.T) {
	srv := newTestServer(t)

	joined := make(chan protocol.RoomJoined, 4)
	chats := make(chan protocol.ChatMessage, 4)

	s, err := New(Options{
		URL: wsURL(srv),
		Handlers: Handlers{
			OnRoomJoined:  func(f protocol.RoomJoined) { joined <- f },
			OnChatMessage: func(f protocol.ChatMessage) { chats <- f },
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	s.Connect()
	require.NoError(t, s.Join("room-1", json.RawMessage(`{"color":"blue"}`), "Ada", ""))

	snapshot := waitFor(t, joined, "room_joined")
	assert.Equal(t, "room-1", snapshot.RoomID)
	assert.Equal(t, snapshot.ConnectionID, s.ConnectionID())
	assert.Equal(t, StateOpen, s.State())

	members := s.Members()
	require.Contains(t, members, snapshot.ConnectionID)
	assert.Equal(t, "Ada", members[snapshot.ConnectionID].Name)

	require.NoError(t, s.SendChat("hello", nil))
	chat := waitFor(t, chats, "chat echo")
	assert.Equal(t, "hello", chat.Message)
	assert.Equal(t, snapshot.ConnectionID, chat.ConnectionID)
}

func TestSession_JoinRacingTheConnectLoopIsNeverLost(t *testing.T) {
	srv := newTestServer(t)

	// A Join issued while the session is still connecting must be replayed
	// once the socket opens; the state flip and the intent read share one
	// critical section, so there is no window in which the join can vanish.
	for i := 0; i < 10; i++ {
		joined := make(chan protocol.RoomJoined, 2)

		s, err := New(Options{
			URL:      wsURL(srv),
			Handlers: Handlers{OnRoomJoined: func(f protocol.RoomJoined) { joined <- f }},
		})
		require.NoError(t, err)

		s.Connect()
		require.NoError(t, s.Join("room-1", nil, "", ""))

		waitFor(t, joined, "room_joined")
		require.NoError(t, s.Close())
	}
}

func TestSession_SendBeforeConnectReturnsErrNotConnected(t *testing.T) {
	s, err := New(Options{URL: "ws://localhost:8080/ws"})
	require.NoError(t, err)

	assert.ErrorIs(t, s.SendChat("too early", nil), ErrNotConnected)
	assert.NoError(t, s.Join("room-1", nil, "", ""), "join intent is stored for the connect loop")
}

func TestSession_ReconnectReplaysJoinWithLatestPresence(t *testing.T) {
	srv := newTestServer(t)

	joined := make(chan protocol.RoomJoined, 4)
	states := make(chan State, 16)

	s, err := New(Options{
		URL:         wsURL(srv),
		BackoffBase: 10 * time.Millisecond,
		Handlers: Handlers{
			OnRoomJoined:  func(f protocol.RoomJoined) { joined <- f },
			OnStateChange: func(st State) { states <- st },
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	s.Connect()
	require.NoError(t, s.Join("room-1", json.RawMessage(`{"v":1}`), "", ""))
	first := waitFor(t, joined, "initial room_joined")

	require.NoError(t, s.UpdatePresence(json.RawMessage(`{"v":2}`)))

	// Sever the connection server-side; the session must come back on its
	// own and re-issue the join with the latest presence document.
	srv.CloseClientConnections()

	second := waitFor(t, joined, "room_joined after reconnect")
	assert.NotEqual(t, first.ConnectionID, second.ConnectionID,
		"a reconnect is a brand new connection")

	self, ok := second.Presence[second.ConnectionID]
	require.True(t, ok)
	assert.JSONEq(t, `{"v":2}`, string(self.Presence),
		"the rejoin replays the last presence, not the original join document")

	sawConnecting := false
	for done := false; !done; {
		select {
		case st := <-states:
			if st == StateConnecting {
				sawConnecting = true
			}
		default:
			done = true
		}
	}
	assert.True(t, sawConnecting, "the session passed through connecting during the reconnect")
}

func TestSession_LeaveClearsRejoinIntent(t *testing.T) {
	srv := newTestServer(t)

	joined := make(chan protocol.RoomJoined, 4)
	states := make(chan State, 16)

	s, err := New(Options{
		URL:         wsURL(srv),
		BackoffBase: 10 * time.Millisecond,
		Handlers: Handlers{
			OnRoomJoined:  func(f protocol.RoomJoined) { joined <- f },
			OnStateChange: func(st State) { states <- st },
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	s.Connect()
	require.NoError(t, s.Join("room-1", nil, "", ""))
	waitFor(t, joined, "room_joined")

	require.NoError(t, s.Leave())
	assert.Empty(t, s.Members(), "leave is explicit, local state clears without waiting for the server")

	srv.CloseClientConnections()

	// Wait for the session to be open again, then confirm no rejoin happened.
	require.Eventually(t, func() bool { return s.State() == StateOpen },
		waitTimeout, 5*time.Millisecond)

	select {
	case <-joined:
		t.Fatal("no join may be replayed after an explicit leave")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSession_DisconnectClearsPresenceState(t *testing.T) {
	srv := newTestServer(t)

	joined := make(chan protocol.RoomJoined, 4)

	s, err := New(Options{
		URL:         wsURL(srv),
		BackoffBase: 50 * time.Millisecond,
		Handlers: Handlers{
			OnRoomJoined: func(f protocol.RoomJoined) { joined <- f },
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	s.Connect()
	require.NoError(t, s.Join("room-1", nil, "", ""))
	waitFor(t, joined, "room_joined")
	require.NotEmpty(t, s.Members())

	srv.CloseClientConnections()
	srv.Close()

	// With the server gone the session keeps retrying; local presence state
	// must already be cleared rather than serving a stale roster.
	require.Eventually(t, func() bool {
		return len(s.Members()) == 0 && s.ConnectionID() == ""
	}, waitTimeout, 10*time.Millisecond)

	require.NoError(t, s.Close())
	assert.Equal(t, StateClosed, s.State())
	assert.ErrorIs(t, s.SendChat("after close", nil), ErrSessionClosed)
}

func TestSession_MembersTracksPresenceDeltas(t *testing.T) {
	srv := newTestServer(t)

	aliceJoined := make(chan protocol.RoomJoined, 4)
	aliceDeltas := make(chan protocol.PresenceUpdated, 8)

	alice, err := New(Options{
		URL: wsURL(srv),
		Handlers: Handlers{
			OnRoomJoined:      func(f protocol.RoomJoined) { aliceJoined <- f },
			OnPresenceUpdated: func(f protocol.PresenceUpdated) { aliceDeltas <- f },
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { alice.Close() })

	alice.Connect()
	require.NoError(t, alice.Join("room-1", nil, "Alice", ""))
	waitFor(t, aliceJoined, "alice room_joined")

	bobJoined := make(chan protocol.RoomJoined, 4)
	bob, err := New(Options{
		URL:      wsURL(srv),
		Handlers: Handlers{OnRoomJoined: func(f protocol.RoomJoined) { bobJoined <- f }},
	})
	require.NoError(t, err)
	t.Cleanup(func() { bob.Close() })

	bob.Connect()
	require.NoError(t, bob.Join("room-1", nil, "Bob", ""))
	bobSnapshot := waitFor(t, bobJoined, "bob room_joined")

	delta := waitFor(t, aliceDeltas, "joined delta")
	require.Len(t, delta.Joined, 1)
	assert.Equal(t, "Bob", delta.Joined[0].Name)
	assert.Len(t, alice.Members(), 2)

	require.NoError(t, bob.Close())

	for {
		delta = waitFor(t, aliceDeltas, "left delta")
		if len(delta.Left) > 0 {
			break
		}
	}
	assert.Equal(t, bobSnapshot.ConnectionID, delta.Left[0])
	assert.Len(t, alice.Members(), 1)
}
