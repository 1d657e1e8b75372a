package store

import (
	"context"
	"sync"
)

// MemoryStore keeps per-room message logs in process memory. Intended for
// development and tests; history does not survive a restart.
type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[string][]Message
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[string][]Message)}
}

// Append adds msg to its room's log. Insertion order is the authoritative
// ordering; ties on CreatedAt keep slice order.
func (s *MemoryStore) Append(ctx context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rooms[msg.RoomID] = append(s.rooms[msg.RoomID], msg)
	return nil
}

// History returns up to limit messages starting offset after the oldest.
func (s *MemoryStore) History(ctx context.Context, roomID string, limit, offset int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.rooms[roomID]
	if offset >= len(log) {
		return []Message{}, nil
	}

	end := offset + limit
	if end > len(log) {
		end = len(log)
	}

	page := make([]Message, end-offset)
	copy(page, log[offset:end])
	return page, nil
}

// Recent returns the newest limit messages, oldest-first.
func (s *MemoryStore) Recent(ctx context.Context, roomID string, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.rooms[roomID]
	start := len(log) - limit
	if start < 0 {
		start = 0
	}

	page := make([]Message, len(log)-start)
	copy(page, log[start:])
	return page, nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}
