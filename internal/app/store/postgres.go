package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"roomsync/internal/app/db"
)

// PostgresStore persists chat messages in PostgreSQL. Ordering is by the
// monotonic seq column, so same-timestamp messages keep insertion order.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn, runs migrations, and returns the store.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := db.NewPool(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

// Append inserts msg into the room's log.
func (s *PostgresStore) Append(ctx context.Context, msg Message) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_messages (id, room_id, connection_id, subject_id, body, metadata, created_at)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)`,
		msg.ID, msg.RoomID, msg.ConnectionID, msg.SubjectID, msg.Body, msg.Metadata, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append chat message: %w", err)
	}
	return nil
}

// History returns up to limit messages starting offset after the oldest.
func (s *PostgresStore) History(ctx context.Context, roomID string, limit, offset int) ([]Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, room_id, connection_id, COALESCE(subject_id, ''), body, metadata, created_at
		 FROM chat_messages
		 WHERE room_id = $1
		 ORDER BY seq ASC
		 LIMIT $2 OFFSET $3`,
		roomID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat history: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// Recent returns the newest limit messages, oldest-first.
func (s *PostgresStore) Recent(ctx context.Context, roomID string, limit int) ([]Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, room_id, connection_id, COALESCE(subject_id, ''), body, metadata, created_at
		 FROM chat_messages
		 WHERE room_id = $1
		 ORDER BY seq DESC
		 LIMIT $2`,
		roomID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent chat messages: %w", err)
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	// Newest-first from the query; the contract is oldest-first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// scanMessages collects rows into Message values.
func scanMessages(rows pgx.Rows) ([]Message, error) {
	messages := []Message{}
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.ConnectionID, &msg.SubjectID,
			&msg.Body, &msg.Metadata, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read chat messages: %w", err)
	}
	return messages, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
