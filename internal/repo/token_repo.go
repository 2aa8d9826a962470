// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Token
// model and the append-only retired-token ledger.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/startintellect/go-chat-gateway/internal/domain"
)

// CreateToken inserts a freshly issued token with the given generation
// budget. The ID is a random UUID; collisions are treated as DB errors.
func CreateToken(ctx context.Context, db *gorm.DB, generations int) (*domain.Token, error) {
	t := &domain.Token{
		ID:          uuid.NewString(),
		Generations: generations,
		CreatedAt:   time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(t).Error; err != nil {
		return nil, err
	}
	return t, nil
}

// GetToken fetches an issued token by ID, or ErrNotFound.
func GetToken(ctx context.Context, db *gorm.DB, id string) (*domain.Token, error) {
	var t domain.Token
	err := db.WithContext(ctx).
		Where("id = ?", id).
		First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// MarkTokenUsed flags a token as consumed by an activation. Returns
// ErrNotFound when the token does not exist.
func MarkTokenUsed(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).
		Model(&domain.Token{}).
		Where("id = ?", id).
		Update("used", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListTokens returns issued tokens newest-first (admin view).
func ListTokens(ctx context.Context, db *gorm.DB) ([]domain.Token, error) {
	var out []domain.Token
	err := db.WithContext(ctx).
		Order("created_at desc").
		Find(&out).Error
	return out, err
}

// RetireToken appends tokenID to the retirement ledger. The ledger is
// insert-only; a duplicate insert means some other caller already retired
// the token and is reported as success so retirement stays idempotent.
func RetireToken(ctx context.Context, db *gorm.DB, tokenID, reason string) error {
	rec := &domain.RetiredToken{
		Token:     tokenID,
		Reason:    reason,
		RetiredAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
		low := strings.ToLower(err.Error())
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(low, "unique constraint failed") ||
			strings.Contains(low, "constraint failed: unique") {
			return nil
		}
		return err
	}
	return nil
}

// IsTokenRetired reports whether tokenID appears in the retirement ledger.
func IsTokenRetired(ctx context.Context, db *gorm.DB, tokenID string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.RetiredToken{}).
		Where("token = ?", tokenID).
		Count(&n).Error
	return n > 0, err
}
