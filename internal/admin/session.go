package admin

import (
	"context"

	"github.com/nimbus-tales/aegis-gateway/internal/audit"
	"github.com/nimbus-tales/aegis-gateway/internal/session"
)

// SessionAdmin exposes the session control-plane operations of spec §6
// "GET /api/admin/sessions…".
type SessionAdmin struct {
	mutationLogger
	store *session.Store
}

func NewSessionAdmin(store *session.Store, auditLog *audit.Log) *SessionAdmin {
	return &SessionAdmin{mutationLogger: mutationLogger{audit: auditLog}, store: store}
}

// List returns userID's sessions, paginated (spec §6 "GET
// …/sessions[?skip&take]").
func (a *SessionAdmin) List(ctx context.Context, userID string, skip, take int) ([]*session.Session, error) {
	return a.store.List(ctx, userID, skip, take)
}

// Count returns the number of live sessions for userID (spec §6 "…/count").
func (a *SessionAdmin) Count(ctx context.Context, userID string) (int, error) {
	return a.store.Count(ctx, userID)
}

// Invalidate revokes one session ticket (spec §6 "DELETE
// …/sessions/{ticket}"). Idempotent: invalidating an already-invalid
// ticket returns (false, nil), not an error (spec §8 "Idempotence").
func (a *SessionAdmin) Invalidate(ctx context.Context, actorUserID, ticket string) (bool, error) {
	ok, err := a.store.Invalidate(ctx, ticket)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	a.logMutation(ctx, actorUserID, "session.invalidate", ticket)
	return true, nil
}

// RevokeAll invalidates every session for userID (spec §6
// "/api/admin/auth/revoke-all").
func (a *SessionAdmin) RevokeAll(ctx context.Context, actorUserID, targetUserID string) (int, error) {
	count, err := a.store.InvalidateAll(ctx, targetUserID)
	if err != nil {
		return 0, err
	}
	a.logMutation(ctx, actorUserID, "session.revoke_all", targetUserID)
	return count, nil
}
