/*
Package room contains the core logic for room membership, presence
synchronization, event broadcast, and chat delivery.

This file defines the Registry, which guarantees a single live Room instance
per room id: rooms are created on first join and removed once their run loop
exits. Removal only ever deletes the exact instance that finished, so a
recreated room can never be evicted by its predecessor's cleanup.
*/
package room

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"roomsync/internal/app/store"
	"roomsync/internal/pkg/logx"
)

// cleanupChannelBuffer bounds the room-finished notification queue.
const cleanupChannelBuffer = 16

// DefaultIdleTimeout is how long an empty room lives before its actor exits.
// Removal is memory reclamation, not a consistency requirement.
const DefaultIdleTimeout = 5 * time.Minute

// Config carries the per-room settings the registry hands to new rooms.
type Config struct {
	// HistoryLimit caps the chat history included in a join snapshot.
	HistoryLimit int

	// IdleTimeout is how long an empty room lives before shutting down.
	IdleTimeout time.Duration
}

// Registry tracks all live rooms, keyed by room id.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	chatStore store.ChatStore
	cfg       Config

	cleanup chan CleanupMsg
	wg      sync.WaitGroup

	// roomsWG tracks running room actors so Shutdown can close the cleanup
	// channel only after the last finish() notification.
	roomsWG sync.WaitGroup

	logger zerolog.Logger
}

// NewRegistry creates a Registry and starts its cleanup loop.
func NewRegistry(chatStore store.ChatStore, cfg Config) *Registry {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}

	g := &Registry{
		rooms:     make(map[string]*Room),
		chatStore: chatStore,
		cfg:       cfg,
		cleanup:   make(chan CleanupMsg, cleanupChannelBuffer),
		logger:    logx.Logger().With().Str("component", "registry").Logger(),
	}

	g.wg.Add(1)
	go g.runCleanupLoop()

	return g
}

// GetOrCreate returns the live room for roomID, creating and starting one if
// none exists or the existing instance has already shut down. Callers that
// still race a closing room observe ErrRoomClosed from the room operation and
// call GetOrCreate again.
func (g *Registry) GetOrCreate(roomID string) *Room {
	g.mu.RLock()
	existing, ok := g.rooms[roomID]
	g.mu.RUnlock()

	if ok && !isClosed(existing) {
		return existing
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	existing, ok = g.rooms[roomID]
	if ok && !isClosed(existing) {
		return existing
	}

	newRoom := NewRoom(roomID, g.chatStore, g.cfg.HistoryLimit, g.cfg.IdleTimeout, g.cleanup)
	g.rooms[roomID] = newRoom

	g.roomsWG.Add(1)
	go func() {
		defer g.roomsWG.Done()
		newRoom.Run()
	}()

	g.logger.Info().Str("room_id", roomID).Msg("Room created and started.")
	return newRoom
}

// Get returns the live room for roomID, or nil.
func (g *Registry) Get(roomID string) *Room {
	g.mu.RLock()
	defer g.mu.RUnlock()

	r, ok := g.rooms[roomID]
	if !ok || isClosed(r) {
		return nil
	}
	return r
}

// isClosed reports whether the room's run loop has finished or been stopped.
func isClosed(r *Room) bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// runCleanupLoop removes finished rooms from the table.
func (g *Registry) runCleanupLoop() {
	defer g.wg.Done()

	g.logger.Info().Msg("Cleanup loop started.")

	for msg := range g.cleanup {
		g.mu.Lock()
		// Only remove the instance that actually finished; the id may
		// already be occupied by a successor room.
		if current, ok := g.rooms[msg.RoomID]; ok && current == msg.Room {
			delete(g.rooms, msg.RoomID)
			g.logger.Info().Str("room_id", msg.RoomID).Msg("Room removed.")
		}
		g.mu.Unlock()
	}

	g.logger.Info().Msg("Cleanup loop stopped.")
}

// Shutdown stops every room actor and the cleanup loop. The registry is not
// usable afterwards.
func (g *Registry) Shutdown() {
	g.logger.Info().Msg("Shutting down registry...")

	g.mu.Lock()
	for _, r := range g.rooms {
		r.Stop()
	}
	g.rooms = make(map[string]*Room)
	g.mu.Unlock()

	g.roomsWG.Wait()

	close(g.cleanup)
	g.wg.Wait()

	g.logger.Info().Msg("Registry shutdown complete.")
}
