// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Flow model.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/startintellect/go-chat-gateway/internal/domain"
)

// ErrDuplicate indicates an insert collided with an existing row
// (same primary key or unique index).
var ErrDuplicate = errors.New("duplicate")

// CreateFlow inserts a flow row owned by username. A flow with the same
// (username, id) already present yields ErrDuplicate.
func CreateFlow(ctx context.Context, db *gorm.DB, username, flowID, name, defaultSessionID string) (*domain.Flow, error) {
	f := &domain.Flow{
		Username:         username,
		ID:               flowID,
		Name:             name,
		DefaultSessionID: defaultSessionID,
		CreatedAt:        time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(f).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return f, nil
}

// GetFlow fetches a flow by owner and ID, or ErrNotFound.
func GetFlow(ctx context.Context, db *gorm.DB, username, flowID string) (*domain.Flow, error) {
	var f domain.Flow
	err := db.WithContext(ctx).
		Where("username = ? AND id = ?", username, flowID).
		First(&f).Error
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// ListFlows returns the user's flows in creation order. This is the
// normalized form of the chat_flows list the user record used to carry.
func ListFlows(ctx context.Context, db *gorm.DB, username string) ([]domain.Flow, error) {
	var out []domain.Flow
	err := db.WithContext(ctx).
		Where("username = ?", username).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

// CountFlows returns the number of flows owned by username.
func CountFlows(ctx context.Context, db *gorm.DB, username string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Flow{}).
		Where("username = ?", username).
		Count(&total).Error
	return total, err
}

// DeleteFlow removes the flow row itself (the cascade over sessions and
// logs is orchestrated by the service layer, best effort). Returns
// ErrNotFound when no row matched.
func DeleteFlow(ctx context.Context, db *gorm.DB, username, flowID string) error {
	res := db.WithContext(ctx).
		Where("username = ? AND id = ?", username, flowID).
		Delete(&domain.Flow{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// isUniqueViolation recognizes unique-constraint failures across the error
// shapes the pure-Go sqlite driver produces.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}
