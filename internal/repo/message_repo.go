// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message
// model (the per-session transcript log).
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/startintellect/go-chat-gateway/internal/domain"
)

// AppendMessage inserts one message at the tail of a session's log.
// The content hash is computed here so every row is addressable for
// single-message deletion.
func AppendMessage(ctx context.Context, db *gorm.DB, username, flowID, sessionID, role, content string) (*domain.Message, error) {
	m := &domain.Message{
		ID:          uuid.NewString(),
		Username:    username,
		FlowID:      flowID,
		SessionID:   sessionID,
		Role:        role,
		Content:     content,
		ContentHash: domain.MessageHash(role, content),
		CreatedAt:   time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, err
	}
	return m, nil
}

// ListMessages returns a session's log ordered deterministically
// (CreatedAt ASC, ID ASC).
func ListMessages(ctx context.Context, db *gorm.DB, username, flowID, sessionID string) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("username = ? AND flow_id = ? AND session_id = ?", username, flowID, sessionID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// CountMessages uses a raw COUNT so a missing table surfaces as an error.
func CountMessages(ctx context.Context, db *gorm.DB, username, flowID, sessionID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Raw("SELECT COUNT(*) FROM messages WHERE username = ? AND flow_id = ? AND session_id = ?",
			username, flowID, sessionID).
		Scan(&total).Error
	return total, err
}

// GetMessage fetches a message by ID.
func GetMessage(ctx context.Context, db *gorm.DB, id string) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// ClearLog truncates a session's log. Clearing an already-empty log is a
// no-op, not an error.
func ClearLog(ctx context.Context, db *gorm.DB, username, flowID, sessionID string) error {
	return db.WithContext(ctx).
		Where("username = ? AND flow_id = ? AND session_id = ?", username, flowID, sessionID).
		Delete(&domain.Message{}).Error
}

// DeleteMessageByHash removes every message in the session whose content
// hash matches. Duplicated turns share a hash, and the historical delete
// removed all copies, so this does too. Returns ErrNotFound when nothing
// matched.
func DeleteMessageByHash(ctx context.Context, db *gorm.DB, username, flowID, sessionID, hash string) error {
	res := db.WithContext(ctx).
		Where("username = ? AND flow_id = ? AND session_id = ? AND content_hash = ?",
			username, flowID, sessionID, hash).
		Delete(&domain.Message{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteLogsInFlow removes all message rows across a flow (cascade step).
func DeleteLogsInFlow(ctx context.Context, db *gorm.DB, username, flowID string) error {
	return db.WithContext(ctx).
		Where("username = ? AND flow_id = ?", username, flowID).
		Delete(&domain.Message{}).Error
}
