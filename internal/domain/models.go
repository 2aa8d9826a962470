// Package domain defines the persistence models for users, access tokens,
// chat flows, sessions, and messages. These types are mapped with GORM and
// form the core data layer of the chat gateway.
//
// The schema is the canonical model: earlier generations of the product
// spread the same entities across flat JSON files, an embedded document
// store, and a document database with drifting shapes. Everything here is
// the reconciled form of those records.
package domain

import (
	"crypto/md5"
	"encoding/hex"
	"time"
)

// Message roles. One chat turn produces exactly one message per role.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// RetireReasonDepleted marks a token retired because its generation budget
// ran out (as opposed to administrative invalidation).
const RetireReasonDepleted = "generations_depleted"

// User is an account record. Registration and credential checks happen
// upstream; this service only manages the entitlement fields.
//
// Fields:
//   - Username: unique login, primary key.
//   - ActiveToken: the access token currently bound to the account, nil
//     when the user has no entitlement.
//   - RemainingGenerations: assistant replies left on the active token.
//   - TokenActivatedAt: when the active token was bound.
type User struct {
	Username             string     `json:"username"              gorm:"type:varchar(64);primaryKey"`
	ActiveToken          *string    `json:"active_token,omitempty" gorm:"type:char(36);index"`
	RemainingGenerations int        `json:"remaining_generations" gorm:"not null;default:0"`
	TokenActivatedAt     *time.Time `json:"token_activated_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Token is a redeemable credential granting a fixed budget of generations
// to exactly one user at a time.
//
// Lifecycle: issued (Used=false, unbound) → active (Used=true, bound as some
// user's ActiveToken) → retired (a row exists in retired_tokens). Retirement
// is recorded in the separate ledger, never by mutating this row, so a
// retired token can be recognized even if this record is gone.
type Token struct {
	ID          string    `json:"id"          gorm:"type:char(36);primaryKey"`
	Generations int       `json:"generations" gorm:"not null"`
	Used        bool      `json:"used"        gorm:"not null;default:false"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName returns the database table name for Token.
func (Token) TableName() string { return "tokens" }

// RetiredToken is one entry in the append-only retirement ledger. Rows are
// only ever inserted; the primary key on the token value makes retirement
// idempotent and permanent.
type RetiredToken struct {
	Token     string    `json:"token"      gorm:"type:char(36);primaryKey"`
	Reason    string    `json:"reason"     gorm:"type:varchar(64);not null"`
	RetiredAt time.Time `json:"retired_at"`
}

// TableName returns the database table name for RetiredToken.
func (RetiredToken) TableName() string { return "retired_tokens" }

// Flow is a named chat topic owned by one user. Every flow owns at least
// its primary session, which can be cleared but never deleted.
//
// The flow ID is externally supplied in the common case (it addresses a
// prediction flow on the upstream API) but may be generated.
type Flow struct {
	Username         string    `json:"username"           gorm:"type:varchar(64);primaryKey"`
	ID               string    `json:"id"                 gorm:"type:varchar(64);primaryKey"`
	Name             string    `json:"name"               gorm:"type:varchar(255);not null"`
	DefaultSessionID string    `json:"default_session_id" gorm:"type:char(36);not null"`
	CreatedAt        time.Time `json:"created_at"`
}

// TableName returns the database table name for Flow.
func (Flow) TableName() string { return "flows" }

// Session is a single ordered conversation thread within a flow.
type Session struct {
	Username    string    `json:"username"     gorm:"type:varchar(64);primaryKey"`
	FlowID      string    `json:"flow_id"      gorm:"type:varchar(64);primaryKey"`
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	DisplayName string    `json:"display_name" gorm:"type:varchar(255);not null"`
	IsPrimary   bool      `json:"is_primary"   gorm:"not null;default:false"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for Session.
func (Session) TableName() string { return "sessions" }

// Message is a single utterance within a session's log. The log is
// append-only: the only removals are a whole-log clear and a single-message
// delete addressed by ContentHash.
type Message struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	Username    string    `json:"username"     gorm:"type:varchar(64);not null;index:idx_session_msgs,priority:1"`
	FlowID      string    `json:"flow_id"      gorm:"type:varchar(64);not null;index:idx_session_msgs,priority:2"`
	SessionID   string    `json:"session_id"   gorm:"type:char(36);not null;index:idx_session_msgs,priority:3"`
	Role        string    `json:"role"         gorm:"type:varchar(16);not null;check:role IN ('user','assistant')"`
	Content     string    `json:"content"      gorm:"type:text;not null"`
	ContentHash string    `json:"content_hash" gorm:"type:char(32);not null;index"`
	CreatedAt   time.Time `json:"created_at"   gorm:"index:idx_session_msgs,priority:4"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// MessageHash returns the hash that addresses a message for deletion.
// The "role:content" MD5 matches the historical transcript format, so
// hashes computed by old clients still resolve.
func MessageHash(role, content string) string {
	sum := md5.Sum([]byte(role + ":" + content))
	return hex.EncodeToString(sum[:])
}

// Idempotency records a completed chat turn for safe client retries.
// A replayed POST with the same key returns the recorded assistant message
// instead of consuming another generation.
type Idempotency struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	Username  string    `json:"username"   gorm:"type:varchar(64);not null;uniqueIndex:ux_idem_turn,priority:1"`
	FlowID    string    `json:"flow_id"    gorm:"type:varchar(64);not null;uniqueIndex:ux_idem_turn,priority:2"`
	SessionID string    `json:"session_id" gorm:"type:char(36);not null;uniqueIndex:ux_idem_turn,priority:3"`
	Key       string    `json:"key"        gorm:"type:varchar(200);not null;uniqueIndex:ux_idem_turn,priority:4"`
	MessageID string    `json:"message_id" gorm:"type:char(36);not null"`
	Status    int       `json:"status"     gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at" gorm:"index"`
}

// TableName returns the database table name for Idempotency.
func (Idempotency) TableName() string { return "idempotencies" }
