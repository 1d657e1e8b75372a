package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// chatRecord is the GORM model backing the SQLite adapter. Seq provides the
// monotonic insertion order the contract requires.
type chatRecord struct {
	Seq          int64  `gorm:"primaryKey;autoIncrement"`
	ID           string `gorm:"uniqueIndex;size:36"`
	RoomID       string `gorm:"index"`
	ConnectionID string
	SubjectID    string
	Body         string
	Metadata     []byte
	CreatedAt    time.Time
}

// TableName keeps the table name in line with the Postgres schema.
func (chatRecord) TableName() string {
	return "chat_messages"
}

// SQLiteStore persists chat messages in a local SQLite database via GORM.
// Suited to single-node deployments that need durable history without an
// external database.
type SQLiteStore struct {
	db *gorm.DB
}

// NewSQLiteStore opens (or creates) the database at path and migrates the
// schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if err := db.AutoMigrate(&chatRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate sqlite schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Append inserts msg into the room's log.
func (s *SQLiteStore) Append(ctx context.Context, msg Message) error {
	record := chatRecord{
		ID:           msg.ID,
		RoomID:       msg.RoomID,
		ConnectionID: msg.ConnectionID,
		SubjectID:    msg.SubjectID,
		Body:         msg.Body,
		Metadata:     msg.Metadata,
		CreatedAt:    msg.CreatedAt,
	}

	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to append chat message: %w", err)
	}
	return nil
}

// History returns up to limit messages starting offset after the oldest.
func (s *SQLiteStore) History(ctx context.Context, roomID string, limit, offset int) ([]Message, error) {
	var records []chatRecord

	err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("seq ASC").
		Limit(limit).
		Offset(offset).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query chat history: %w", err)
	}

	return toMessages(records), nil
}

// Recent returns the newest limit messages, oldest-first.
func (s *SQLiteStore) Recent(ctx context.Context, roomID string, limit int) ([]Message, error) {
	var records []chatRecord

	err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("seq DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query recent chat messages: %w", err)
	}

	// Newest-first from the query; the contract is oldest-first.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return toMessages(records), nil
}

// toMessages converts GORM records to contract messages.
func toMessages(records []chatRecord) []Message {
	messages := make([]Message, 0, len(records))
	for _, record := range records {
		messages = append(messages, Message{
			ID:           record.ID,
			RoomID:       record.RoomID,
			ConnectionID: record.ConnectionID,
			SubjectID:    record.SubjectID,
			Body:         record.Body,
			Metadata:     json.RawMessage(record.Metadata),
			CreatedAt:    record.CreatedAt,
		})
	}
	return messages
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
