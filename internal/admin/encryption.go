// Package admin implements the control-plane operations of spec §4.7:
// thin wrappers over the core services that additionally write an audit
// record for every mutation, following the teacher's practice of keeping
// admin surfaces as logic layers over the same services the player-facing
// handlers use rather than a separate code path.
package admin

import (
	"context"
	"fmt"

	"github.com/nimbus-tales/aegis-gateway/internal/audit"
	"github.com/nimbus-tales/aegis-gateway/internal/encryption"
	"github.com/nimbus-tales/aegis-gateway/internal/errs"
	"github.com/nimbus-tales/aegis-gateway/internal/hub"
)

// EncryptionAdmin exposes the encryption control-plane operations of
// spec §6 "HTTP (encryption admin)". A single encryption.Service backs
// both hubs, so enabled/required toggles are applied to every hub that
// shares it.
type EncryptionAdmin struct {
	mutationLogger
	service *encryption.Service
	hubs    []*hub.Hub
}

func NewEncryptionAdmin(service *encryption.Service, auditLog *audit.Log, hubs ...*hub.Hub) *EncryptionAdmin {
	return &EncryptionAdmin{mutationLogger: mutationLogger{audit: auditLog}, service: service, hubs: hubs}
}

// Config reports the current enabled/required switches, read from the
// first hub (both hubs share the same admin-facing toggle state by
// convention — the admin surface always mutates every hub together).
func (a *EncryptionAdmin) Config() map[string]any {
	enabled, required := true, false
	if len(a.hubs) > 0 {
		enabled = a.hubs[0].EncryptionEnabled()
		required = a.hubs[0].EncryptionRequired()
	}
	return map[string]any{
		"enabled":  enabled,
		"required": required,
	}
}

// SetEnabled toggles whether new KeyExchange handshakes are accepted on
// every hub (spec §6 "POST …/enabled").
func (a *EncryptionAdmin) SetEnabled(ctx context.Context, actorUserID string, enabled bool) error {
	for _, h := range a.hubs {
		h.SetEncryptionEnabled(enabled)
	}
	a.logMutation(ctx, actorUserID, "encryption.enabled", fmt.Sprintf("%v", enabled))
	return nil
}

// SetRequired toggles whether plaintext calls are refused once a
// connection has encryption state (spec §6 "POST …/required").
func (a *EncryptionAdmin) SetRequired(ctx context.Context, actorUserID string, required bool) error {
	for _, h := range a.hubs {
		h.SetEncryptionRequired(required)
	}
	a.logMutation(ctx, actorUserID, "encryption.required", fmt.Sprintf("%v", required))
	return nil
}

// ConnectionsNeedingRotation lists users whose current key has crossed a
// rotation trigger (spec §6 "GET …/connections/needs-rotation").
func (a *EncryptionAdmin) ConnectionsNeedingRotation() []string {
	return a.service.UsersNeedingRotation()
}

// RotateConnection force-rotates a single user's key across every hub
// they're connected to (spec §6 "POST …/connections/{userId}/rotate",
// scenario 5).
func (a *EncryptionAdmin) RotateConnection(ctx context.Context, actorUserID, targetUserID string) error {
	rotated := false
	for _, h := range a.hubs {
		if !h.HasConnection(targetUserID) {
			continue
		}
		if err := h.RotateUser(targetUserID); err != nil {
			return err
		}
		rotated = true
	}
	if !rotated {
		return errs.New(errs.NotFound, "user %q has no live hub connection", targetUserID)
	}
	a.logMutation(ctx, actorUserID, "encryption.rotate", targetUserID)
	return nil
}

// RotateAll force-rotates every user currently flagged as needing
// rotation (spec §6 "POST …/rotate-all").
func (a *EncryptionAdmin) RotateAll(ctx context.Context, actorUserID string) (int, error) {
	count := 0
	for _, userID := range a.service.UsersNeedingRotation() {
		for _, h := range a.hubs {
			if !h.HasConnection(userID) {
				continue
			}
			if err := h.RotateUser(userID); err != nil {
				return count, err
			}
			count++
			break
		}
	}
	a.logMutation(ctx, actorUserID, "encryption.rotate_all", fmt.Sprintf("count=%d", count))
	return count, nil
}

// DropConnection removes a user's encryption state entirely (spec §6
// "DELETE …/connections/{userId}"), forcing a fresh KeyExchange before
// further encrypted traffic.
func (a *EncryptionAdmin) DropConnection(ctx context.Context, actorUserID, targetUserID string) error {
	if !a.service.HasState(targetUserID) {
		return errs.New(errs.NotFound, "user %q has no encryption state", targetUserID)
	}
	a.service.DropState(targetUserID)
	a.logMutation(ctx, actorUserID, "encryption.drop", targetUserID)
	return nil
}

// Metrics is the admin activity snapshot (spec §6 "GET …/metrics").
func (a *EncryptionAdmin) Metrics() encryption.Metrics {
	return a.service.Metrics()
}

// ConnectionStats is the per-user detail view (spec §6 "GET
// …/connections/{id}/stats").
func (a *EncryptionAdmin) ConnectionStats(userID string) (encryption.ConnectionStats, error) {
	stats, ok := a.service.Stats(userID)
	if !ok {
		return encryption.ConnectionStats{}, errs.New(errs.NotFound, "no encryption state for user %q", userID)
	}
	return stats, nil
}
