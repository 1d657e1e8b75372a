package room

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomsync/internal/app/identity"
	"roomsync/internal/app/store"
	"roomsync/protocol"
)

// mockSink collects the frames a room queues for one member.
type mockSink struct {
	id   string
	mu   sync.Mutex
	rows [][]byte
	full bool
}

func (m *mockSink) ConnectionID() string { return m.id }

func (m *mockSink) Enqueue(frame []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.full {
		return false
	}
	m.rows = append(m.rows, append([]byte(nil), frame...))
	return true
}

// frames decodes every received frame into a type-tagged map.
func (m *mockSink) frames(t *testing.T) []map[string]any {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()

	decoded := make([]map[string]any, 0, len(m.rows))
	for _, raw := range m.rows {
		var frame map[string]any
		require.NoError(t, json.Unmarshal(raw, &frame))
		decoded = append(decoded, frame)
	}
	return decoded
}

// framesOfType filters received frames by their type tag.
func (m *mockSink) framesOfType(t *testing.T, frameType string) []map[string]any {
	t.Helper()

	matched := []map[string]any{}
	for _, frame := range m.frames(t) {
		if frame["type"] == frameType {
			matched = append(matched, frame)
		}
	}
	return matched
}

// failingStore rejects every operation, for rollback tests.
type failingStore struct {
	appendErr error
	recentErr error
}

func (f *failingStore) Append(ctx context.Context, msg store.Message) error { return f.appendErr }

func (f *failingStore) History(ctx context.Context, roomID string, limit, offset int) ([]store.Message, error) {
	return []store.Message{}, nil
}

func (f *failingStore) Recent(ctx context.Context, roomID string, limit int) ([]store.Message, error) {
	if f.recentErr != nil {
		return nil, f.recentErr
	}
	return []store.Message{}, nil
}

func (f *failingStore) Close() error { return nil }

func newTestRoom(t *testing.T, chatStore store.ChatStore) *Room {
	t.Helper()

	cleanup := make(chan CleanupMsg, 1)
	r := NewRoom("room-1", chatStore, 50, time.Minute, cleanup)
	go r.Run()
	t.Cleanup(r.Stop)

	return r
}

func join(t *testing.T, r *Room, sink *mockSink, ident *identity.Identity, presence string) {
	t.Helper()

	var doc json.RawMessage
	if presence != "" {
		doc = json.RawMessage(presence)
	}
	require.NoError(t, r.Join(context.Background(), sink, ident, doc))
}

func TestRoom_JoinDeliversSnapshotWithEmptyHistory(t *testing.T) {
	r := newTestRoom(t, store.NewMemoryStore())

	sink := &mockSink{id: "conn-a"}
	join(t, r, sink, nil, `{"color":"red"}`)

	joined := sink.framesOfType(t, protocol.TypeRoomJoined)
	require.Len(t, joined, 1)

	assert.Equal(t, "room-1", joined[0]["roomId"])
	assert.Equal(t, "conn-a", joined[0]["connectionId"])

	presence, ok := joined[0]["presence"].(map[string]any)
	require.True(t, ok)
	require.Contains(t, presence, "conn-a", "the joiner's own entry is part of the snapshot")

	self := presence["conn-a"].(map[string]any)
	assert.Equal(t, map[string]any{"color": "red"}, self["presence"])

	history, ok := joined[0]["chatHistory"].([]any)
	require.True(t, ok, "chatHistory must be present even when empty")
	assert.Empty(t, history)
}

func TestRoom_SecondJoinNotifiesExistingMembersOnly(t *testing.T) {
	r := newTestRoom(t, store.NewMemoryStore())

	first := &mockSink{id: "conn-a"}
	second := &mockSink{id: "conn-b"}
	join(t, r, first, nil, "")
	join(t, r, second, nil, `{"x":1}`)

	deltas := first.framesOfType(t, protocol.TypePresenceUpdated)
	require.Len(t, deltas, 1)

	joinedEntries := deltas[0]["joined"].([]any)
	require.Len(t, joinedEntries, 1)
	assert.Equal(t, "conn-b", joinedEntries[0].(map[string]any)["connectionId"])

	assert.Empty(t, second.framesOfType(t, protocol.TypePresenceUpdated),
		"the joiner receives the snapshot, not its own joined delta")

	snapshot := second.framesOfType(t, protocol.TypeRoomJoined)[0]
	presence := snapshot["presence"].(map[string]any)
	assert.Len(t, presence, 2, "snapshot carries the full membership")
}

func TestRoom_LeaveNotifiesRemainingMembers(t *testing.T) {
	r := newTestRoom(t, store.NewMemoryStore())

	first := &mockSink{id: "conn-a"}
	second := &mockSink{id: "conn-b"}
	join(t, r, first, nil, "")
	join(t, r, second, nil, "")

	require.NoError(t, r.Leave(context.Background(), "conn-b"))

	var left []map[string]any
	for _, frame := range first.framesOfType(t, protocol.TypePresenceUpdated) {
		if _, ok := frame["left"]; ok {
			left = append(left, frame)
		}
	}
	require.Len(t, left, 1)
	assert.Equal(t, []any{"conn-b"}, left[0]["left"])

	assert.Empty(t, second.framesOfType(t, protocol.TypePresenceUpdated),
		"the leaving connection receives nothing")

	assert.Equal(t, 1, r.MemberCount())
}

func TestRoom_LeaveUnknownMemberIsNoop(t *testing.T) {
	r := newTestRoom(t, store.NewMemoryStore())

	sink := &mockSink{id: "conn-a"}
	join(t, r, sink, nil, "")

	require.NoError(t, r.Leave(context.Background(), "conn-missing"))
	assert.Equal(t, 1, r.MemberCount())
	assert.Empty(t, sink.framesOfType(t, protocol.TypePresenceUpdated))
}

func TestRoom_PresenceUpdateNeverEchoesToOriginator(t *testing.T) {
	r := newTestRoom(t, store.NewMemoryStore())

	first := &mockSink{id: "conn-a"}
	second := &mockSink{id: "conn-b"}
	join(t, r, first, nil, "")
	join(t, r, second, nil, "")

	require.NoError(t, r.UpdatePresence(context.Background(), "conn-a", json.RawMessage(`{"cursor":[1,2]}`)))

	var updated []map[string]any
	for _, frame := range second.framesOfType(t, protocol.TypePresenceUpdated) {
		if _, ok := frame["updated"]; ok {
			updated = append(updated, frame)
		}
	}
	require.Len(t, updated, 1)

	entry := updated[0]["updated"].([]any)[0].(map[string]any)
	assert.Equal(t, "conn-a", entry["connectionId"])
	assert.Equal(t, map[string]any{"cursor": []any{float64(1), float64(2)}}, entry["presence"])

	for _, frame := range first.framesOfType(t, protocol.TypePresenceUpdated) {
		_, ok := frame["updated"]
		assert.False(t, ok, "originator must not be echoed its own update")
	}
}

func TestRoom_BroadcastEventSkipsSenderAndIsNotPersisted(t *testing.T) {
	memStore := store.NewMemoryStore()
	r := newTestRoom(t, memStore)

	first := &mockSink{id: "conn-a"}
	second := &mockSink{id: "conn-b"}
	join(t, r, first, &identity.Identity{SubjectID: "user-1"}, "")
	join(t, r, second, nil, "")

	require.NoError(t, r.BroadcastEvent(context.Background(), "conn-a", "ping", json.RawMessage(`{"n":1}`)))

	events := second.framesOfType(t, protocol.TypeBroadcastEvent)
	require.Len(t, events, 1)
	assert.Equal(t, "ping", events[0]["event"])
	assert.Equal(t, "conn-a", events[0]["connectionId"])
	assert.Equal(t, "user-1", events[0]["subjectId"])

	assert.Empty(t, first.framesOfType(t, protocol.TypeBroadcastEvent), "events are never echoed")

	history, err := memStore.History(context.Background(), "room-1", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, history, "events are never persisted")
}

func TestRoom_ChatIsAppendedBeforeBroadcastAndEchoed(t *testing.T) {
	memStore := store.NewMemoryStore()
	r := newTestRoom(t, memStore)

	first := &mockSink{id: "conn-a"}
	second := &mockSink{id: "conn-b"}
	join(t, r, first, nil, "")
	join(t, r, second, nil, "")

	require.NoError(t, r.SendChat(context.Background(), "conn-a", "hi", nil))

	// Durable before any member could have observed the broadcast.
	history, err := memStore.History(context.Background(), "room-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "hi", history[0].Body)

	for _, sink := range []*mockSink{first, second} {
		chats := sink.framesOfType(t, protocol.TypeChatMessage)
		require.Len(t, chats, 1, "chat goes to all members, sender included")
		assert.Equal(t, "hi", chats[0]["message"])
		assert.Equal(t, "conn-a", chats[0]["connectionId"])
	}
}

func TestRoom_ChatHistoryAppearsInLaterSnapshot(t *testing.T) {
	r := newTestRoom(t, store.NewMemoryStore())

	first := &mockSink{id: "conn-a"}
	join(t, r, first, nil, "")
	require.NoError(t, r.SendChat(context.Background(), "conn-a", "first message", nil))

	late := &mockSink{id: "conn-b"}
	join(t, r, late, nil, "")

	snapshot := late.framesOfType(t, protocol.TypeRoomJoined)[0]
	history := snapshot["chatHistory"].([]any)
	require.Len(t, history, 1)
	assert.Equal(t, "first message", history[0].(map[string]any)["message"])
}

func TestRoom_ChatAppendFailureRollsBack(t *testing.T) {
	r := newTestRoom(t, &failingStore{appendErr: errors.New("store down")})

	first := &mockSink{id: "conn-a"}
	second := &mockSink{id: "conn-b"}
	join(t, r, first, nil, "")
	join(t, r, second, nil, "")

	err := r.SendChat(context.Background(), "conn-a", "lost", nil)
	require.Error(t, err)

	assert.Empty(t, first.framesOfType(t, protocol.TypeChatMessage))
	assert.Empty(t, second.framesOfType(t, protocol.TypeChatMessage))
	assert.Equal(t, 2, r.MemberCount(), "membership is unchanged after a failed operation")
}

func TestRoom_JoinFailsCleanlyWhenHistoryUnavailable(t *testing.T) {
	r := newTestRoom(t, &failingStore{recentErr: errors.New("store down")})

	sink := &mockSink{id: "conn-a"}
	err := r.Join(context.Background(), sink, nil, nil)
	require.Error(t, err)

	assert.Equal(t, 0, r.MemberCount(), "no partial membership mutation on failure")
	assert.Empty(t, sink.frames(t))
}

func TestRoom_FullMemberQueueDropsFramesWithoutBlocking(t *testing.T) {
	r := newTestRoom(t, store.NewMemoryStore())

	slow := &mockSink{id: "conn-slow", full: true}
	fast := &mockSink{id: "conn-fast"}
	join(t, r, slow, nil, "")
	join(t, r, fast, nil, "")

	done := make(chan error, 1)
	go func() { done <- r.SendChat(context.Background(), "conn-fast", "hello", nil) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("room actor blocked on a full member queue")
	}

	require.Len(t, fast.framesOfType(t, protocol.TypeChatMessage), 1)
}

func TestRoom_OperationsAfterStopReturnErrRoomClosed(t *testing.T) {
	cleanup := make(chan CleanupMsg, 1)
	r := NewRoom("room-1", store.NewMemoryStore(), 50, time.Minute, cleanup)
	go r.Run()

	r.Stop()

	err := r.Join(context.Background(), &mockSink{id: "conn-a"}, nil, nil)
	assert.ErrorIs(t, err, ErrRoomClosed)
}
