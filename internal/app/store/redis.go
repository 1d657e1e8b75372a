package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// chatKeyPrefix namespaces the per-room Redis lists.
const chatKeyPrefix = "roomsync:chat:"

// RedisStore persists chat messages as one Redis list per room. List order is
// insertion order, which is the authoritative message ordering.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to addr and verifies the connection.
func NewRedisStore(ctx context.Context, addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func chatKey(roomID string) string {
	return chatKeyPrefix + roomID
}

// Append pushes msg onto the tail of the room's list.
func (s *RedisStore) Append(ctx context.Context, msg Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode chat message: %w", err)
	}

	if err := s.client.RPush(ctx, chatKey(msg.RoomID), raw).Err(); err != nil {
		return fmt.Errorf("failed to append chat message: %w", err)
	}
	return nil
}

// History returns up to limit messages starting offset after the oldest.
func (s *RedisStore) History(ctx context.Context, roomID string, limit, offset int) ([]Message, error) {
	if limit < 1 {
		return []Message{}, nil
	}

	stop := int64(offset + limit - 1)
	return s.rangeMessages(ctx, roomID, int64(offset), stop)
}

// Recent returns the newest limit messages, oldest-first.
func (s *RedisStore) Recent(ctx context.Context, roomID string, limit int) ([]Message, error) {
	if limit < 1 {
		return []Message{}, nil
	}

	return s.rangeMessages(ctx, roomID, int64(-limit), -1)
}

// rangeMessages runs LRANGE and decodes the entries.
func (s *RedisStore) rangeMessages(ctx context.Context, roomID string, start, stop int64) ([]Message, error) {
	raws, err := s.client.LRange(ctx, chatKey(roomID), start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read chat history: %w", err)
	}

	messages := make([]Message, 0, len(raws))
	for _, raw := range raws {
		var msg Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			return nil, fmt.Errorf("failed to decode chat message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// Close shuts down the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
