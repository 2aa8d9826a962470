// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the User model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a user is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/startintellect/go-chat-gateway/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// GetUser fetches a user by username, or ErrNotFound.
func GetUser(ctx context.Context, db *gorm.DB, username string) (*domain.User, error) {
	var u domain.User
	err := db.WithContext(ctx).
		Where("username = ?", username).
		First(&u).Error
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// EnsureUser creates a bare user row if one does not exist yet and returns
// the record either way. Account registration lives upstream; the gateway
// only needs the entitlement fields to exist.
func EnsureUser(ctx context.Context, db *gorm.DB, username string) (*domain.User, error) {
	u := &domain.User{Username: username, CreatedAt: time.Now().UTC()}
	err := db.WithContext(ctx).
		Where("username = ?", username).
		FirstOrCreate(u).Error
	if err != nil {
		return nil, err
	}
	return u, nil
}

// SetUserFields applies a partial field update to an existing user row.
// Fields use the database column names (e.g. "active_token",
// "remaining_generations"). If no row matches, it returns ErrNotFound:
// the merge creates fields, never the user record itself.
func SetUserFields(ctx context.Context, db *gorm.DB, username string, fields map[string]any) error {
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("username = ?", username).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// BindToken points the user's entitlement at tokenID with a fresh budget.
// It deliberately overwrites whatever token was bound before without
// retiring it; replacement is not retirement.
func BindToken(ctx context.Context, db *gorm.DB, username, tokenID string, generations int, now time.Time) error {
	return SetUserFields(ctx, db, username, map[string]any{
		"active_token":          tokenID,
		"remaining_generations": generations,
		"token_activated_at":    now,
	})
}

// ApplyGenerationDelta adjusts the user's remaining-generation counter and
// reports the count after the update plus whether this call performed the
// change. Negative deltas are guarded so the counter never goes below zero:
// of two racing decrements that both saw "1 remaining", only one update
// matches the guard and reports changed=true with remaining 0; the loser
// reports changed=false with the already-floored value.
//
// Callers that need the read-back to be consistent with the update should
// pass a transaction handle.
func ApplyGenerationDelta(ctx context.Context, db *gorm.DB, username string, delta int) (remaining int, changed bool, err error) {
	tx := db.WithContext(ctx).Model(&domain.User{})
	var res *gorm.DB
	if delta < 0 {
		res = tx.
			Where("username = ? AND remaining_generations >= ?", username, -delta).
			Update("remaining_generations", gorm.Expr("remaining_generations + ?", delta))
	} else {
		res = tx.
			Where("username = ?", username).
			Update("remaining_generations", gorm.Expr("remaining_generations + ?", delta))
	}
	if res.Error != nil {
		return 0, false, res.Error
	}

	u, err := GetUser(ctx, db, username)
	if err != nil {
		return 0, false, err
	}
	return u.RemainingGenerations, res.RowsAffected > 0, nil
}

// ReleaseToken clears the user's active token and zeroes the counter, but
// only while tokenID is still the bound token. The guard makes the release
// single-shot under concurrent zero-crossings: exactly one caller sees
// released=true and owns the follow-up ledger write.
func ReleaseToken(ctx context.Context, db *gorm.DB, username, tokenID string) (released bool, err error) {
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("username = ? AND active_token = ?", username, tokenID).
		Updates(map[string]any{
			"active_token":          nil,
			"remaining_generations": 0,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// FindTokenHolder returns the user currently bound to tokenID, or
// ErrNotFound when the token is unbound.
func FindTokenHolder(ctx context.Context, db *gorm.DB, tokenID string) (*domain.User, error) {
	var u domain.User
	err := db.WithContext(ctx).
		Where("active_token = ?", tokenID).
		First(&u).Error
	if err != nil {
		return nil, err
	}
	return &u, nil
}
