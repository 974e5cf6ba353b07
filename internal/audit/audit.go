package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/zeromicro/go-zero/core/logx"
)

// Category distinguishes the two kinds of event this package records.
type Category string

const (
	CategorySecurityViolation Category = "security_violation"
	CategoryAdminMutation     Category = "admin_mutation"
)

// Event is one row of the audit trail.
type Event struct {
	ID          string    `db:"id"`
	Category    Category  `db:"category"`
	ActorUserID string    `db:"actor_user_id"`
	Detail      string    `db:"detail"`
	CreatedAt   time.Time `db:"created_at"`
}

const insertEventQuery = `
INSERT INTO audit_events (id, category, actor_user_id, detail, created_at)
VALUES (:id, :category, :actor_user_id, :detail, :created_at)`

const recentByCategoryQuery = `
SELECT id, category, actor_user_id, detail, created_at
FROM audit_events
WHERE category = $1
ORDER BY created_at DESC
LIMIT $2`

// Log writes a durable audit event and a structured log line, following
// the teacher's repository pattern (shared/repository.BaseRepository):
// thin wrapper over sqlx's Named exec, errors logged then returned
// wrapped.
type Log struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Log {
	return &Log{db: db}
}

func (l *Log) insert(ctx context.Context, category Category, actorUserID, detail string) error {
	event := Event{
		ID:          uuid.NewString(),
		Category:    category,
		ActorUserID: actorUserID,
		Detail:      detail,
		CreatedAt:   time.Now().UTC(),
	}
	if _, err := l.db.NamedExecContext(ctx, insertEventQuery, event); err != nil {
		logx.Errorf("audit: insert %s event: %v", category, err)
		return fmt.Errorf("audit: insert event: %w", err)
	}
	return nil
}

// SecurityViolation records a decrypt/signature/replay/skew failure.
// reasonClass is the opaque class name only (spec §7: "never returned
// with details that would help an attacker"); keyID may be empty if the
// envelope's key-id itself was the problem.
func (l *Log) SecurityViolation(ctx context.Context, userID, keyID, reasonClass string) error {
	logx.WithContext(ctx).Errorf("security violation: user=%s keyId=%s reason=%s", userID, keyID, reasonClass)
	return l.insert(ctx, CategorySecurityViolation, userID, fmt.Sprintf("keyId=%s reason=%s", keyID, reasonClass))
}

// AdminMutation records an admin control-plane write (spec §4.7).
func (l *Log) AdminMutation(ctx context.Context, actorUserID, action, detail string) error {
	logx.WithContext(ctx).Infof("admin mutation: actor=%s action=%s detail=%s", actorUserID, action, detail)
	return l.insert(ctx, CategoryAdminMutation, actorUserID, fmt.Sprintf("action=%s detail=%s", action, detail))
}

// Recent returns up to limit events of category, most recent first.
func (l *Log) Recent(ctx context.Context, category Category, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []Event
	if err := l.db.SelectContext(ctx, &events, recentByCategoryQuery, category, limit); err != nil {
		logx.Errorf("audit: list %s events: %v", category, err)
		return nil, fmt.Errorf("audit: list events: %w", err)
	}
	return events, nil
}
