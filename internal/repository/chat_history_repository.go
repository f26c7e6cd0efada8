package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"chatpdf/internal/model"
)

type ChatHistoryRepository struct {
	db *gorm.DB
}

func NewChatHistoryRepository(db *gorm.DB) *ChatHistoryRepository {
	return &ChatHistoryRepository{db: db}
}

// SaveSnapshot replaces the session header and all of its messages.
func (r *ChatHistoryRepository) SaveSnapshot(ctx context.Context, snapshot model.HistorySnapshot) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		session := model.ChatSession{
			ID:        snapshot.SessionID,
			Title:     snapshot.Title,
			Timestamp: snapshot.Timestamp,
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"title", "timestamp", "updated_at"}),
		}).Create(&session).Error
		if err != nil {
			return fmt.Errorf("upsert chat session failed: %w", err)
		}

		if err := tx.Where("session_id = ?", snapshot.SessionID).Delete(&model.ChatMessage{}).Error; err != nil {
			return fmt.Errorf("clear chat messages failed: %w", err)
		}
		if len(snapshot.Messages) == 0 {
			return nil
		}

		now := time.Now()
		rows := make([]model.ChatMessage, len(snapshot.Messages))
		for i, m := range snapshot.Messages {
			rows[i] = model.ChatMessage{
				SessionID: snapshot.SessionID,
				Position:  i,
				Role:      m.Role,
				Content:   m.Content,
				CreatedAt: now,
			}
		}
		if err := tx.CreateInBatches(rows, 100).Error; err != nil {
			return fmt.Errorf("insert chat messages failed: %w", err)
		}
		return nil
	})
}

// Load returns nil when the session has no stored history.
func (r *ChatHistoryRepository) Load(ctx context.Context, sessionID string) (*model.HistorySnapshot, error) {
	db := r.db.WithContext(ctx)

	var session model.ChatSession
	if err := db.Where("id = ?", sessionID).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get chat session failed: %w", err)
	}

	var rows []model.ChatMessage
	if err := db.Where("session_id = ?", sessionID).Order("position ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list chat messages failed: %w", err)
	}

	messages := make([]model.HistoryMessage, len(rows))
	for i, row := range rows {
		messages[i] = model.HistoryMessage{Role: row.Role, Content: row.Content}
	}
	return &model.HistorySnapshot{
		SessionID: session.ID,
		Title:     session.Title,
		Timestamp: session.Timestamp,
		Messages:  messages,
	}, nil
}

// List returns every session newest first with its message count.
func (r *ChatHistoryRepository) List(ctx context.Context) ([]model.ChatSessionSummary, error) {
	var sessions []model.ChatSessionSummary
	err := r.db.WithContext(ctx).
		Model(&model.ChatSession{}).
		Select("chat_sessions.id, chat_sessions.title, chat_sessions.timestamp, COUNT(chat_messages.id) AS message_count").
		Joins("LEFT JOIN chat_messages ON chat_messages.session_id = chat_sessions.id").
		Group("chat_sessions.id, chat_sessions.title, chat_sessions.timestamp").
		Order("chat_sessions.timestamp DESC").
		Scan(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("list chat sessions failed: %w", err)
	}
	return sessions, nil
}

// Delete reports whether the session existed.
func (r *ChatHistoryRepository) Delete(ctx context.Context, sessionID string) (bool, error) {
	var deleted bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sessionID).Delete(&model.ChatMessage{}).Error; err != nil {
			return fmt.Errorf("delete chat messages failed: %w", err)
		}
		res := tx.Where("id = ?", sessionID).Delete(&model.ChatSession{})
		if res.Error != nil {
			return fmt.Errorf("delete chat session failed: %w", res.Error)
		}
		deleted = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}
