/*
Package store defines the chat persistence contract and its adapters.

A ChatStore is an append-only per-room message log. Four adapters implement
the contract: an in-process memory store, PostgreSQL (pgx), Redis lists, and
SQLite (GORM). The room core depends only on the interface; the backend is
selected once at construction time from configuration.
*/
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"roomsync/internal/configs"
)

// Message is one persisted chat message. Immutable once appended.
type Message struct {
	ID           string          `json:"id"`
	RoomID       string          `json:"roomId"`
	ConnectionID string          `json:"connectionId"`
	SubjectID    string          `json:"subjectId,omitempty"`
	Body         string          `json:"message"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// ChatStore is the persistence contract consumed by the room core.
//
// Ordering is by insertion within a single store: History pages from the
// oldest message forward, Recent returns the newest window. Both return
// messages oldest-first. Implementations must support concurrent appends and
// reads from independent rooms without cross-room interference.
type ChatStore interface {
	// Append durably adds msg to its room's log.
	Append(ctx context.Context, msg Message) error

	// History returns up to limit messages starting offset messages after
	// the oldest, oldest-first.
	History(ctx context.Context, roomID string, limit, offset int) ([]Message, error)

	// Recent returns the newest limit messages, oldest-first. Used for the
	// join snapshot so a new member always sees the latest messages.
	Recent(ctx context.Context, roomID string, limit int) ([]Message, error)

	// Close releases backend resources.
	Close() error
}

// New constructs the ChatStore selected by the configuration.
func New(ctx context.Context, cfg *configs.AppConfig) (ChatStore, error) {
	switch cfg.StoreBackend {
	case configs.StoreMemory:
		return NewMemoryStore(), nil
	case configs.StorePostgres:
		return NewPostgresStore(ctx, cfg.DatabaseDSN)
	case configs.StoreRedis:
		return NewRedisStore(ctx, cfg.RedisAddr)
	case configs.StoreSQLite:
		return NewSQLiteStore(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown chat store backend %q", cfg.StoreBackend)
	}
}
