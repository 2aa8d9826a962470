package repo

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/startintellect/go-chat-gateway/internal/domain"
)

func newIdemRepoDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("idem_repo_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func TestCreateIdempotency_ThenGet_RoundTrip(t *testing.T) {
	db := newIdemRepoDB(t, &domain.Idempotency{})

	rec, err := CreateIdempotency(context.Background(), db, "u1", "f1", "s1", "key-1", "msg-1", 201, time.Hour)
	if err != nil {
		t.Fatalf("CreateIdempotency: %v", err)
	}
	if rec.MessageID != "msg-1" || rec.Status != 201 {
		t.Fatalf("unexpected record: %+v", rec)
	}

	got, err := GetIdempotency(context.Background(), db, "u1", "f1", "s1", "key-1", time.Now().UTC())
	if err != nil {
		t.Fatalf("GetIdempotency: %v", err)
	}
	if got.MessageID != "msg-1" {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
}

func TestGetIdempotency_ExpiredIsMiss(t *testing.T) {
	db := newIdemRepoDB(t, &domain.Idempotency{})

	if _, err := CreateIdempotency(context.Background(), db, "u1", "f1", "s1", "key-1", "msg-1", 201, time.Millisecond); err != nil {
		t.Fatalf("CreateIdempotency: %v", err)
	}
	// Query strictly after expiry.
	later := time.Now().UTC().Add(time.Second)
	if _, err := GetIdempotency(context.Background(), db, "u1", "f1", "s1", "key-1", later); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for expired record, got %v", err)
	}
}

func TestGetIdempotency_BlankSessionIsMiss(t *testing.T) {
	db := newIdemRepoDB(t, &domain.Idempotency{})
	if _, err := GetIdempotency(context.Background(), db, "u1", "f1", "  ", "key-1", time.Now().UTC()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for blank session, got %v", err)
	}
}

func TestGetIdempotency_ScopedByAllKeyParts(t *testing.T) {
	db := newIdemRepoDB(t, &domain.Idempotency{})
	if _, err := CreateIdempotency(context.Background(), db, "u1", "f1", "s1", "key-1", "msg-1", 201, time.Hour); err != nil {
		t.Fatalf("CreateIdempotency: %v", err)
	}

	now := time.Now().UTC()
	cases := [][4]string{
		{"u2", "f1", "s1", "key-1"},
		{"u1", "f2", "s1", "key-1"},
		{"u1", "f1", "s2", "key-1"},
		{"u1", "f1", "s1", "key-2"},
	}
	for _, c := range cases {
		if _, err := GetIdempotency(context.Background(), db, c[0], c[1], c[2], c[3], now); !errors.Is(err, ErrNotFound) {
			t.Fatalf("lookup %v should miss, got %v", c, err)
		}
	}
}

func TestCreateIdempotency_DuplicateKey(t *testing.T) {
	db := newIdemRepoDB(t, &domain.Idempotency{})
	if _, err := CreateIdempotency(context.Background(), db, "u1", "f1", "s1", "key-1", "msg-1", 201, time.Hour); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := CreateIdempotency(context.Background(), db, "u1", "f1", "s1", "key-1", "msg-2", 201, time.Hour); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	// Different session with the same key is its own record.
	if _, err := CreateIdempotency(context.Background(), db, "u1", "f1", "s2", "key-1", "msg-3", 201, time.Hour); err != nil {
		t.Fatalf("same key other session should succeed: %v", err)
	}
}

func TestCreateIdempotency_Error_NoTable(t *testing.T) {
	db := newIdemRepoDB(t /* no migrations */)
	if _, err := CreateIdempotency(context.Background(), db, "u1", "f1", "s1", "k", "m", 201, time.Hour); err == nil {
		t.Fatalf("expected error when table missing")
	}
}
