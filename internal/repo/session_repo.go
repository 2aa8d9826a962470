// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Session
// model.
//
// Sessions are keyed (username, flow_id, id). Listing puts the primary
// session first, then the rest in creation order, which is the ordering the
// session picker renders.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/startintellect/go-chat-gateway/internal/domain"
)

// CreateSession inserts a session row with a generated UUID.
func CreateSession(ctx context.Context, db *gorm.DB, username, flowID, displayName string, primary bool) (*domain.Session, error) {
	s := &domain.Session{
		Username:    username,
		FlowID:      flowID,
		ID:          uuid.NewString(),
		DisplayName: displayName,
		IsPrimary:   primary,
		CreatedAt:   time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(s).Error; err != nil {
		return nil, err
	}
	return s, nil
}

// GetSession fetches one session, or ErrNotFound.
func GetSession(ctx context.Context, db *gorm.DB, username, flowID, sessionID string) (*domain.Session, error) {
	var s domain.Session
	err := db.WithContext(ctx).
		Where("username = ? AND flow_id = ? AND id = ?", username, flowID, sessionID).
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSessions returns a flow's sessions: primary first, then creation order.
func ListSessions(ctx context.Context, db *gorm.DB, username, flowID string) ([]domain.Session, error) {
	var out []domain.Session
	err := db.WithContext(ctx).
		Where("username = ? AND flow_id = ?", username, flowID).
		Order("is_primary desc, created_at asc, id asc").
		Find(&out).Error
	return out, err
}

// CountSessions returns the number of sessions in a flow.
func CountSessions(ctx context.Context, db *gorm.DB, username, flowID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("username = ? AND flow_id = ?", username, flowID).
		Count(&total).Error
	return total, err
}

// RenameSession updates a session's display name. Returns ErrNotFound when
// no row matched.
func RenameSession(ctx context.Context, db *gorm.DB, username, flowID, sessionID, displayName string) error {
	res := db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("username = ? AND flow_id = ? AND id = ?", username, flowID, sessionID).
		Update("display_name", displayName)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteSession removes one session row. Primary protection is enforced in
// the service layer; the repo deletes whatever it is told to.
func DeleteSession(ctx context.Context, db *gorm.DB, username, flowID, sessionID string) error {
	res := db.WithContext(ctx).
		Where("username = ? AND flow_id = ? AND id = ?", username, flowID, sessionID).
		Delete(&domain.Session{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteSessionsInFlow removes every session row in a flow (cascade step).
func DeleteSessionsInFlow(ctx context.Context, db *gorm.DB, username, flowID string) error {
	return db.WithContext(ctx).
		Where("username = ? AND flow_id = ?", username, flowID).
		Delete(&domain.Session{}).Error
}

// TouchSession bumps updated_at after log activity.
func TouchSession(ctx context.Context, db *gorm.DB, username, flowID, sessionID string) error {
	return db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("username = ? AND flow_id = ? AND id = ?", username, flowID, sessionID).
		Update("updated_at", time.Now().UTC()).Error
}

// NewSessionID exposes ID generation for callers that must know the ID
// before the row exists (e.g. a flow's default_session_id).
func NewSessionID() string { return uuid.NewString() }
